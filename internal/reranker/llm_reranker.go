package reranker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/knoguchi/vidqa/internal/llm"
	"github.com/knoguchi/vidqa/internal/textutil"
	"github.com/knoguchi/vidqa/internal/vectorstore"
)

// ErrUnparseableScores is returned when the model reply holds no score JSON.
var ErrUnparseableScores = errors.New("unparseable rerank response")

// LLMReranker asks the chat model to grade each transcript chunk against the
// question. The model sees query and chunk together, like a cross-encoder.
type LLMReranker struct {
	llmClient llm.LLM
	model     string
	maxChars  int
}

// LLMRerankerOption is a functional option for configuring LLMReranker.
type LLMRerankerOption func(*LLMReranker)

// WithModel sets the model to use for reranking.
func WithModel(model string) LLMRerankerOption {
	return func(r *LLMReranker) {
		r.model = model
	}
}

// WithMaxChunkChars limits how much of each chunk is shown to the model.
func WithMaxChunkChars(n int) LLMRerankerOption {
	return func(r *LLMReranker) {
		if n > 0 {
			r.maxChars = n
		}
	}
}

// NewLLMReranker creates a new LLM-based reranker.
func NewLLMReranker(llmClient llm.LLM, opts ...LLMRerankerOption) *LLMReranker {
	r := &LLMReranker{
		llmClient: llmClient,
		maxChars:  500,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type relevanceScore struct {
	DocIndex int     `json:"doc_index"`
	Score    float64 `json:"score"`
}

type rerankResponse struct {
	Scores []relevanceScore `json:"scores"`
}

// Rerank scores every candidate with the model and stable-sorts by that score.
// A failed call or an unparseable reply is returned as an error.
func (r *LLMReranker) Rerank(ctx context.Context, query string, candidates []vectorstore.Candidate) ([]Ranked, error) {
	if len(candidates) == 0 {
		return []Ranked{}, nil
	}
	for i, c := range candidates {
		if math.IsNaN(c.Score) || math.IsInf(c.Score, 0) {
			return nil, fmt.Errorf("llm rerank candidate %d: %w", i, ErrNonFiniteScore)
		}
	}

	response, err := r.llmClient.Generate(ctx, r.buildRerankPrompt(query, candidates), llm.GenerateOptions{
		Model:       r.model,
		Temperature: 0,
		MaxTokens:   1024,
	})
	if err != nil {
		return nil, fmt.Errorf("LLM reranking failed: %w", err)
	}

	scores, err := parseRerankResponse(response, len(candidates))
	if err != nil {
		return nil, err
	}

	out := make([]Ranked, len(candidates))
	for i, c := range candidates {
		out[i] = Ranked{Candidate: c, RerankScore: scores[i], Reranked: true}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].RerankScore > out[j].RerankScore
	})
	return out, nil
}

func (r *LLMReranker) buildRerankPrompt(query string, candidates []vectorstore.Candidate) string {
	var sb strings.Builder

	sb.WriteString("You are a relevance scoring system. Score how well each transcript excerpt answers the question.\n\n")
	sb.WriteString("Question: ")
	sb.WriteString(query)
	sb.WriteString("\n\nExcerpts to score:\n")
	for i, c := range candidates {
		text := c.Text
		if textutil.Len(text) > r.maxChars {
			text = textutil.Truncate(text, r.maxChars) + "..."
		}
		fmt.Fprintf(&sb, "[Doc %d]: %s\n\n", i, text)
	}

	sb.WriteString(`Score each excerpt from 0.0 to 1.0 based on relevance to the question.
Output ONLY valid JSON in this exact format:
{"scores": [{"doc_index": 0, "score": 0.9}, {"doc_index": 1, "score": 0.3}, ...]}

Be strict: irrelevant excerpts should score below 0.3, somewhat relevant 0.3-0.7, highly relevant above 0.7.
Output only JSON, no explanation:`)

	return sb.String()
}

// parseRerankResponse extracts per-document scores, clamped to [0,1].
// Documents the model skipped get 0.5.
func parseRerankResponse(response string, n int) ([]float64, error) {
	response = strings.TrimSpace(response)

	if idx := strings.Index(response, "```json"); idx != -1 {
		start := idx + 7
		if end := strings.Index(response[start:], "```"); end != -1 {
			response = response[start : start+end]
		}
	} else if idx := strings.Index(response, "```"); idx != -1 {
		start := idx + 3
		if end := strings.Index(response[start:], "```"); end != -1 {
			response = response[start : start+end]
		}
	}

	var parsed rerankResponse
	if err := json.Unmarshal([]byte(strings.TrimSpace(response)), &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnparseableScores, err)
	}

	scores := make([]float64, n)
	for i := range scores {
		scores[i] = 0.5
	}
	for _, s := range parsed.Scores {
		if s.DocIndex < 0 || s.DocIndex >= n || math.IsNaN(s.Score) {
			continue
		}
		scores[s.DocIndex] = math.Min(1, math.Max(0, s.Score))
	}
	return scores, nil
}

var _ Reranker = (*LLMReranker)(nil)

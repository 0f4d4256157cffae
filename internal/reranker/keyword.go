package reranker

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/knoguchi/vidqa/internal/textutil"
	"github.com/knoguchi/vidqa/internal/vectorstore"
)

const (
	// DefaultSimilarityWeight is the share of the original vector score.
	DefaultSimilarityWeight = 0.7
	// DefaultKeywordWeight is the share of query term coverage.
	DefaultKeywordWeight = 0.3
)

// Keyword reranks by blending vector similarity with the fraction of query
// words found in the chunk.
type Keyword struct {
	similarityWeight float64
	keywordWeight    float64
}

// KeywordOption configures a Keyword reranker.
type KeywordOption func(*Keyword)

// WithWeights overrides the similarity and keyword weights.
func WithWeights(similarity, keyword float64) KeywordOption {
	return func(k *Keyword) {
		k.similarityWeight = similarity
		k.keywordWeight = keyword
	}
}

// NewKeyword creates a keyword reranker with 0.7/0.3 weights by default.
func NewKeyword(opts ...KeywordOption) *Keyword {
	k := &Keyword{
		similarityWeight: DefaultSimilarityWeight,
		keywordWeight:    DefaultKeywordWeight,
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// Rerank scores each candidate and stable-sorts them by the combined score,
// highest first. Candidates are copied, never modified.
func (k *Keyword) Rerank(ctx context.Context, query string, candidates []vectorstore.Candidate) ([]Ranked, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("keyword rerank: %w", err)
	}

	q := textutil.WordSet(query)
	out := make([]Ranked, len(candidates))
	for i, c := range candidates {
		if math.IsNaN(c.Score) || math.IsInf(c.Score, 0) {
			return nil, fmt.Errorf("keyword rerank candidate %d: %w", i, ErrNonFiniteScore)
		}
		out[i] = Ranked{
			Candidate:   c,
			RerankScore: k.similarityWeight*c.Score + k.keywordWeight*KeywordScore(q, c.Text),
			Reranked:    true,
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].RerankScore > out[j].RerankScore
	})
	return out, nil
}

// KeywordScore is |Q∩D|/|Q| for query words q and the words of text, or 0
// when q is empty.
func KeywordScore(q map[string]struct{}, text string) float64 {
	if len(q) == 0 {
		return 0
	}
	return float64(textutil.Intersection(q, textutil.WordSet(text))) / float64(len(q))
}

var _ Reranker = (*Keyword)(nil)

// Package reranker rescores retrieved transcript chunks against the query.
//
// Two implementations are provided. Keyword blends vector similarity with
// lexical overlap and is the default. LLMReranker asks the chat model to
// grade each chunk; it adds one model call per query and is selected with
// RERANKER=llm.
//
// A Reranker that returns an error leaves the decision to the caller. The
// retrieval pipeline forwards the original candidates unchanged via
// Passthrough in that case.
package reranker

import (
	"context"
	"errors"

	"github.com/knoguchi/vidqa/internal/vectorstore"
)

// ErrNonFiniteScore is returned when a candidate carries a NaN or infinite score.
var ErrNonFiniteScore = errors.New("candidate score is not finite")

// Ranked is a candidate with the score assigned by a reranker.
type Ranked struct {
	vectorstore.Candidate
	RerankScore float64 `json:"rerank_score"`
	// Reranked is false for records forwarded by Passthrough.
	Reranked bool `json:"reranked"`
}

// Reranker defines the interface for re-ranking search results.
type Reranker interface {
	// Rerank returns every candidate with a rerank score, ordered by that score.
	Rerank(ctx context.Context, query string, candidates []vectorstore.Candidate) ([]Ranked, error)
}

// Passthrough wraps candidates without reordering them. RerankScore mirrors
// the original similarity score.
func Passthrough(candidates []vectorstore.Candidate) []Ranked {
	out := make([]Ranked, len(candidates))
	for i, c := range candidates {
		out[i] = Ranked{Candidate: c, RerankScore: c.Score}
	}
	return out
}

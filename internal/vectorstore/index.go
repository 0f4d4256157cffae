package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// QueryEmbedder turns a query string into a dense vector.
type QueryEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// EmbeddingIndex implements VectorIndex by embedding the query and handing
// the vector to a Searcher.
type EmbeddingIndex struct {
	embedder QueryEmbedder
	searcher Searcher
	logger   *slog.Logger
}

// NewEmbeddingIndex creates an index over the given embedder and backend.
func NewEmbeddingIndex(embedder QueryEmbedder, searcher Searcher, logger *slog.Logger) *EmbeddingIndex {
	if logger == nil {
		logger = slog.Default()
	}
	return &EmbeddingIndex{
		embedder: embedder,
		searcher: searcher,
		logger:   logger,
	}
}

// SimilaritySearch embeds query and searches the backend.
// A blank query or an all-zero embedding carries no signal and yields no
// results rather than an error.
func (i *EmbeddingIndex) SimilaritySearch(ctx context.Context, query string, topK int, filter Filter) ([]Candidate, error) {
	if strings.TrimSpace(query) == "" {
		i.logger.Warn("empty query text, skipping search")
		return nil, nil
	}
	if topK <= 0 {
		return nil, nil
	}

	vector, err := i.embedder.Embed(ctx, query)
	if err != nil {
		if errors.Is(err, ErrZeroEmbedding) {
			i.logger.Warn("zero embedding generated for query", "query", truncateForLog(query))
			return nil, nil
		}
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if isZero(vector) {
		i.logger.Warn("zero embedding generated for query", "query", truncateForLog(query))
		return nil, nil
	}

	results, err := i.searcher.Search(ctx, vector, topK, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to search vectors: %w", err)
	}

	i.logger.Debug("similarity search completed",
		"query", truncateForLog(query),
		"top_k", topK,
		"filter", filter,
		"results", len(results),
	)
	return results, nil
}

// Ping checks the backend.
func (i *EmbeddingIndex) Ping(ctx context.Context) error {
	return i.searcher.Ping(ctx)
}

func isZero(vector []float32) bool {
	for _, v := range vector {
		if v != 0 {
			return false
		}
	}
	return true
}

func truncateForLog(s string) string {
	if len(s) <= 50 {
		return s
	}
	return s[:50] + "..."
}

var _ VectorIndex = (*EmbeddingIndex)(nil)

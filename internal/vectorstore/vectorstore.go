// Package vectorstore provides the vector index contract used by retrieval,
// plus Qdrant and pgvector backed implementations of it.
package vectorstore

import (
	"context"
	"errors"
	"math"
	"strconv"
)

// ErrZeroEmbedding is returned by embedders that produced an all-zero vector.
var ErrZeroEmbedding = errors.New("zero embedding")

// Candidate is a scored transcript chunk returned by a similarity search.
// Metadata values are strings or numbers.
type Candidate struct {
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Score    float64        `json:"score"`
}

// MetadataString renders a metadata value as a string, or "" when missing.
func (c Candidate) MetadataString(key string) string {
	switch v := c.Metadata[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case int64:
		return strconv.FormatInt(v, 10)
	case int:
		return strconv.Itoa(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}

// Filter restricts a search to chunks whose metadata matches every pair.
// A nil Filter matches everything.
type Filter map[string]string

// VideoFilter returns a filter for a single video, or nil for an empty id.
func VideoFilter(videoID string) Filter {
	if videoID == "" {
		return nil
	}
	return Filter{"video_id": videoID}
}

// VectorIndex answers text similarity queries. Implementations must be safe
// for concurrent use. Results are not guaranteed to be sorted.
type VectorIndex interface {
	SimilaritySearch(ctx context.Context, query string, topK int, filter Filter) ([]Candidate, error)
}

// Searcher runs nearest-neighbour search for an already embedded query.
type Searcher interface {
	Search(ctx context.Context, vector []float32, topK int, filter Filter) ([]Candidate, error)

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error

	Close() error
}

// normalizeScore maps a backend similarity onto [0,1].
func normalizeScore(score float64) float64 {
	switch {
	case math.IsNaN(score), score < 0:
		return 0
	case score > 1:
		return 1
	default:
		return score
	}
}

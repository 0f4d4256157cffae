package retrieval

import (
	"fmt"

	"github.com/knoguchi/vidqa/internal/reranker"
	"github.com/knoguchi/vidqa/internal/textutil"
)

const (
	// DefaultMaxContextLength is the context budget in characters.
	DefaultMaxContextLength = 2000

	// minTruncatedLength is the smallest leftover budget worth a truncated chunk.
	minTruncatedLength = 100

	ellipsis = "..."
)

// Compress fits items into maxLength characters. Whole items are kept while
// they fit. The first item that overflows is cut to the remaining budget
// when more than 100 characters are left, and nothing after it is examined,
// even a shorter item that would still fit.
func Compress(items []reranker.Ranked, maxLength int) ([]Chunk, error) {
	if maxLength <= 0 {
		return nil, fmt.Errorf("compress: %w (got %d)", ErrInvalidBudget, maxLength)
	}

	out := make([]Chunk, 0, len(items))
	running := 0
	for _, item := range items {
		n := textutil.Len(item.Text)
		if running+n <= maxLength {
			out = append(out, Chunk{Ranked: item})
			running += n
			continue
		}

		if remaining := maxLength - running; remaining > minTruncatedLength {
			cut := item
			cut.Text = textutil.Truncate(item.Text, remaining) + ellipsis
			out = append(out, Chunk{Ranked: cut, Compressed: true})
		}
		break
	}
	return out, nil
}

// wrapChunks forwards items as uncompressed chunks.
func wrapChunks(items []reranker.Ranked) []Chunk {
	out := make([]Chunk, len(items))
	for i, item := range items {
		out[i] = Chunk{Ranked: item}
	}
	return out
}

package embedder

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Cached wraps an Embedder with an LRU cache of query embeddings keyed by text.
// Failed embeddings are never cached.
type Cached struct {
	inner Embedder
	cache *lru.Cache[string, []float32]
}

// NewCached creates a cache holding up to size embeddings.
func NewCached(inner Embedder, size int) (*Cached, error) {
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding cache: %w", err)
	}
	return &Cached{inner: inner, cache: cache}, nil
}

// Embed returns a cached embedding or computes and stores a new one.
// The returned slice is a copy and may be modified by the caller.
func (c *Cached) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := c.cache.Get(text); ok {
		return clone(v), nil
	}

	v, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(text, clone(v))
	return v, nil
}

// Dimension returns the wrapped embedder's dimension.
func (c *Cached) Dimension() int { return c.inner.Dimension() }

// ModelName returns the wrapped embedder's model name.
func (c *Cached) ModelName() string { return c.inner.ModelName() }

func clone(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}

var _ Embedder = (*Cached)(nil)

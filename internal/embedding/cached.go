package embedding

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Cached memoises another provider by exact text. It is used for queries,
// where the same question is often asked of a persona more than once.
// Returned slices are copies so callers may mutate them.
type Cached struct {
	Provider
	cache *lru.Cache[string, []float32]
}

// NewCached wraps p. size <= 0 returns p unchanged.
func NewCached(p Provider, size int) (Provider, error) {
	if size <= 0 {
		return p, nil
	}
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding cache: %w", err)
	}
	return &Cached{Provider: p, cache: cache}, nil
}

func (c *Cached) Embed(ctx context.Context, text string) ([]float32, error) {
	if vec, ok := c.cache.Get(text); ok {
		return clone(vec), nil
	}

	vec, err := c.Provider.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(text, clone(vec))
	return vec, nil
}

func clone(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}

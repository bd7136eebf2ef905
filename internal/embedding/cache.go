package embedding

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"labvalidate/internal/logging"
)

// CachedEngine memoizes embeddings by exact text and collapses concurrent
// requests for the same text into one upstream call. Augmenting the same
// test item for several targets in parallel otherwise embeds the same query
// once per unit.
type CachedEngine struct {
	inner   EmbeddingEngine
	maxSize int
	// sharedTimeout bounds the upstream call shared by collapsed callers.
	sharedTimeout time.Duration

	mu    sync.Mutex
	cache map[string][]float32
	order []string // insertion order for FIFO eviction

	singleflight *singleflight.Group

	hits   atomic.Int64
	misses atomic.Int64
}

// NewCachedEngine wraps inner with a cache holding at most maxSize vectors.
func NewCachedEngine(inner EmbeddingEngine, maxSize int) *CachedEngine {
	if maxSize <= 0 {
		maxSize = 512
	}
	return &CachedEngine{
		inner:         inner,
		maxSize:       maxSize,
		sharedTimeout: defaultSharedTimeout,
		cache:         make(map[string][]float32, maxSize),
		singleflight:  &singleflight.Group{},
	}
}

const defaultSharedTimeout = 30 * time.Second

// Embed returns the cached vector for text or computes it once.
func (c *CachedEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	if vec, ok := c.lookup(text); ok {
		c.hits.Add(1)
		return vec, nil
	}

	// The upstream call outlives any single caller; each caller only waits
	// on its own ctx.
	ch := c.singleflight.DoChan(text, func() (interface{}, error) {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.sharedTimeout)
		defer cancel()
		vec, err := c.inner.Embed(callCtx, text)
		if err != nil {
			logging.EmbeddingWarn("cache: upstream %s failed: %v", c.inner.Name(), err)
			return nil, err
		}
		c.store(text, vec)
		return vec, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			c.hits.Add(1)
			logging.EmbeddingDebug("cache: shared in-flight embedding (%d chars)", len(text))
		} else {
			c.misses.Add(1)
		}
		return res.Val.([]float32), nil
	}
}

// EmbedBatch embeds each text through the cache.
func (c *CachedEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := c.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("failed to embed text %d: %w", i, err)
		}
		out[i] = vec
	}
	return out, nil
}

// Dimensions returns the wrapped engine's dimensionality.
func (c *CachedEngine) Dimensions() int {
	return c.inner.Dimensions()
}

// Name returns the wrapped engine's name.
func (c *CachedEngine) Name() string {
	return "cached:" + c.inner.Name()
}

// Stats returns cache hit and miss counts.
func (c *CachedEngine) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// HealthCheck forwards to the wrapped engine when it supports health checks.
func (c *CachedEngine) HealthCheck(ctx context.Context) error {
	if hc, ok := c.inner.(interface {
		HealthCheck(ctx context.Context) error
	}); ok {
		return hc.HealthCheck(ctx)
	}
	return nil
}

func (c *CachedEngine) lookup(text string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	vec, ok := c.cache[text]
	return vec, ok
}

func (c *CachedEngine) store(text string, vec []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.cache[text]; ok {
		return
	}
	if len(c.order) >= c.maxSize {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.cache, oldest)
	}
	c.cache[text] = vec
	c.order = append(c.order, text)
}

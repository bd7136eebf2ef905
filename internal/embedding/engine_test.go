package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labvalidate/internal/types"
)

func TestCosineSimilarity(t *testing.T) {
	sim, err := CosineSimilarity([]float32{1, 0}, []float32{1, 0})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, sim, 1e-9)

	sim, err = CosineSimilarity([]float32{1, 0}, []float32{0, 1})
	require.NoError(t, err)
	assert.InDelta(t, 0.0, sim, 1e-9)

	sim, err = CosineSimilarity([]float32{1, 0}, []float32{-1, 0})
	require.NoError(t, err)
	assert.InDelta(t, -1.0, sim, 1e-9)

	sim, err = CosineSimilarity([]float32{0, 0}, []float32{1, 0})
	require.NoError(t, err)
	assert.Equal(t, 0.0, sim)

	_, err = CosineSimilarity([]float32{1}, []float32{1, 0})
	assert.Error(t, err)
}

func TestCosineSimilarityNoFloat32Overflow(t *testing.T) {
	big := float32(math.MaxFloat32 / 2)
	sim, err := CosineSimilarity([]float32{big, big}, []float32{big, big})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, sim, 1e-6)
}

func TestOllamaEngineEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embeddings", r.URL.Path)
		var req ollamaEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "nomic-embed-text", req.Model)
		_ = json.NewEncoder(w).Encode(ollamaEmbedResponse{Embedding: []float32{0.1, 0.2, 0.3}})
	}))
	defer srv.Close()

	engine, err := NewOllamaEngine(srv.URL+"/", "")
	require.NoError(t, err)

	vec, err := engine.Embed(context.Background(), "rsrp threshold")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
	assert.Equal(t, 3, engine.Dimensions())
	assert.Equal(t, "ollama:nomic-embed-text", engine.Name())

	batch, err := engine.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Len(t, batch, 2)
}

func TestOllamaEngineEmbedBatchKeepsOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ollamaEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		_ = json.NewEncoder(w).Encode(ollamaEmbedResponse{Embedding: []float32{float32(len(req.Prompt))}})
	}))
	defer srv.Close()

	engine, err := NewOllamaEngine(srv.URL, "m")
	require.NoError(t, err)

	texts := []string{"a", "bb", "ccc", "dddd", "eeeee", "ffffff"}
	batch, err := engine.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, batch, len(texts))
	for i, vec := range batch {
		assert.Equal(t, []float32{float32(i + 1)}, vec)
	}
}

func TestOllamaEngineErrorsAreUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	engine, err := NewOllamaEngine(srv.URL, "m")
	require.NoError(t, err)

	_, err = engine.Embed(context.Background(), "x")
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrEmbeddingUnavailable))
	assert.Error(t, engine.HealthCheck(context.Background()))
}

func TestNewEngineRejectsUnknownProvider(t *testing.T) {
	_, err := NewEngine(context.Background(), Config{Provider: "word2vec"})
	assert.Error(t, err)

	_, err = NewEngine(context.Background(), Config{Provider: "genai"})
	assert.Error(t, err, "genai without API key")

	engine, err := NewEngine(context.Background(), Config{Provider: "ollama", CacheSize: 4})
	require.NoError(t, err)
	assert.IsType(t, &CachedEngine{}, engine)
}

// countingEngine is a test engine that records how often it is called.
type countingEngine struct {
	calls atomic.Int64
	delay time.Duration
	fail  bool
}

func (c *countingEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls.Add(1)
	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if c.fail {
		return nil, types.ErrEmbeddingUnavailable
	}
	return []float32{float32(len(text)), 1}, nil
}

func (c *countingEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, errors.New("not used")
}

func (c *countingEngine) Dimensions() int { return 2 }
func (c *countingEngine) Name() string    { return "counting" }

func TestCachedEngineMemoizes(t *testing.T) {
	inner := &countingEngine{}
	cached := NewCachedEngine(inner, 2)
	ctx := context.Background()

	_, err := cached.Embed(ctx, "alpha")
	require.NoError(t, err)
	_, err = cached.Embed(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, int64(1), inner.calls.Load())

	hits, misses := cached.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)

	// evicts "alpha" (FIFO, size 2)
	_, _ = cached.Embed(ctx, "beta")
	_, _ = cached.Embed(ctx, "gamma")
	_, _ = cached.Embed(ctx, "alpha")
	assert.Equal(t, int64(4), inner.calls.Load())
	assert.Equal(t, "cached:counting", cached.Name())
}

func TestCachedEngineCollapsesConcurrentCalls(t *testing.T) {
	inner := &countingEngine{delay: 50 * time.Millisecond}
	cached := NewCachedEngine(inner, 16)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			vec, err := cached.Embed(context.Background(), "same query")
			assert.NoError(t, err)
			assert.Len(t, vec, 2)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), inner.calls.Load())
}

func TestCachedEngineDoesNotCacheFailures(t *testing.T) {
	inner := &countingEngine{fail: true}
	cached := NewCachedEngine(inner, 16)

	_, err := cached.Embed(context.Background(), "x")
	require.Error(t, err)
	_, err = cached.Embed(context.Background(), "x")
	require.Error(t, err)
	assert.Equal(t, int64(2), inner.calls.Load())
}

func TestCachedEngineCallerDeadlineDoesNotLeak(t *testing.T) {
	inner := &countingEngine{delay: 200 * time.Millisecond}
	cached := NewCachedEngine(inner, 16)

	short, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	var wg sync.WaitGroup
	var shortErr, longErr error
	var longVec []float32
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, shortErr = cached.Embed(short, "q")
	}()
	go func() {
		defer wg.Done()
		time.Sleep(5 * time.Millisecond)
		longVec, longErr = cached.Embed(context.Background(), "q")
	}()
	wg.Wait()

	assert.ErrorIs(t, shortErr, context.DeadlineExceeded)
	require.NoError(t, longErr)
	assert.Equal(t, []float32{1, 1}, longVec)
	assert.Equal(t, int64(1), inner.calls.Load())

	// the shared result was cached for later callers
	_, err := cached.Embed(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, int64(1), inner.calls.Load())
}

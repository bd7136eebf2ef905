package store

import (
	"context"
	"errors"
	"math"
	"sync/atomic"

	"labvalidate/internal/embedding"
	"labvalidate/internal/types"
)

// MockEmbeddingEngine implements embedding.EmbeddingEngine for testing.
type MockEmbeddingEngine struct {
	EmbedFunc      func(ctx context.Context, text string) ([]float32, error)
	EmbedBatchFunc func(ctx context.Context, texts []string) ([][]float32, error)
	DimensionsFunc func() int
	NameFunc       func() string
}

func (m *MockEmbeddingEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	if m.EmbedFunc != nil {
		return m.EmbedFunc(ctx, text)
	}
	// Return a dummy vector of length 4 by default
	return []float32{0.1, 0.2, 0.3, 0.4}, nil
}

func (m *MockEmbeddingEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if m.EmbedBatchFunc != nil {
		return m.EmbedBatchFunc(ctx, texts)
	}
	result := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := m.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		result[i] = vec
	}
	return result, nil
}

func (m *MockEmbeddingEngine) Dimensions() int {
	if m.DimensionsFunc != nil {
		return m.DimensionsFunc()
	}
	return 4
}

func (m *MockEmbeddingEngine) Name() string {
	if m.NameFunc != nil {
		return m.NameFunc()
	}
	return "mock-embedding-engine"
}

// Ensure MockEmbeddingEngine implements the engine interface
var _ embedding.EmbeddingEngine = (*MockEmbeddingEngine)(nil)

// unit returns a 2-d unit vector whose cosine with (1, 0) is cos.
func unit(cos float64) []float32 {
	return []float32{float32(cos), float32(math.Sqrt(1 - cos*cos))}
}

// tableEngine maps known texts to fixed vectors. Queries can be made to fail
// by flipping failQueries after documents are inserted.
func tableEngine(table map[string][]float32, failQueries *atomic.Bool) *MockEmbeddingEngine {
	return &MockEmbeddingEngine{
		EmbedFunc: func(ctx context.Context, text string) ([]float32, error) {
			if failQueries != nil && failQueries.Load() {
				return nil, types.ErrEmbeddingUnavailable
			}
			if vec, ok := table[text]; ok {
				return vec, nil
			}
			return []float32{0, 1}, nil
		},
	}
}

var errEmbedDown = errors.New("embedding service down")

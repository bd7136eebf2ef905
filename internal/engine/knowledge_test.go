package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labvalidate/internal/knowledge"
	"labvalidate/internal/store"
	"labvalidate/internal/types"
)

var _ Augmenter = (*knowledge.Enhancer)(nil)

// flatEngine embeds every text to the same vector.
type flatEngine struct{}

func (flatEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

func (e flatEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i], _ = e.Embed(ctx, texts[i])
	}
	return out, nil
}

func (flatEngine) Dimensions() int { return 3 }
func (flatEngine) Name() string    { return "flat" }

func TestExecutorUsesRecordedFeedback(t *testing.T) {
	ctx := context.Background()
	enhancer := knowledge.NewEnhancer(store.NewMemoryStore(flatEngine{}))

	n, err := enhancer.RecordFeedback(ctx, knowledge.ReviewFeedback{
		ID:                 "rv-1",
		TestItemID:         "TC-001",
		Block:              "Cell Setup",
		EquipmentID:        "Ericsson-MMU",
		Resolution:         types.ReviewRevalidationRequested,
		ValidationFeedback: "cell_count must be compared with expected_count, not with zero",
	})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	backend := &fakeBackend{reply: passReply}
	exec := NewExecutor(&fakeSimulator{}, backend, WithAugmenter(enhancer))
	it := item("TC-001", "Ericsson-MMU")

	_, err = exec.Execute(ctx, it, unitFor(it, 0))
	require.NoError(t, err)

	require.Equal(t, 1, backend.judgeCount())
	prompt := backend.judgePrompts[0]
	assert.Contains(t, prompt, "## Prior knowledge from engineer reviews")
	assert.Contains(t, prompt, "compared with expected_count")
}

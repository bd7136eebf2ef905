package simulator

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labvalidate/internal/tools"
	"labvalidate/internal/types"
)

func TestRunAlwaysSucceedsAtFullRate(t *testing.T) {
	sim := New(Config{SuccessRate: 1, Seed: 42})
	for _, id := range []string{"Ericsson-MMU", "Ericsson-RRU-001", "Samsung-AUv1", "Samsung-AUv2"} {
		resp, err := sim.Run(context.Background(), id, "execute_validation", nil)
		require.NoError(t, err)
		assert.Equal(t, types.SimulatorSuccess, resp.Status, id)
		assert.False(t, resp.Failed())
		assert.Contains(t, resp.Data, "data")
		assert.Contains(t, resp.Data, "configuration")
		assert.Contains(t, resp.Data, "performance_metrics")
	}
}

func TestRunVendorAndModel(t *testing.T) {
	sim := New(Config{SuccessRate: 1, Seed: 1})

	resp, err := sim.Run(context.Background(), "Samsung-AUv2", "cmd", nil)
	require.NoError(t, err)
	assert.Equal(t, "Samsung-AUv2-001", resp.EquipmentID)
	assert.Equal(t, "Samsung", resp.Vendor)
	assert.Equal(t, "AU v2", resp.Model)
	assert.Contains(t, resp.Data, "samsung_specific")

	resp, err = sim.Run(context.Background(), "Ericsson-RRU", "cmd", nil)
	require.NoError(t, err)
	assert.Equal(t, "RRU", resp.Model)
	assert.Contains(t, resp.Data, "ericsson_specific")
}

func TestRunAlwaysFailsAtZeroRate(t *testing.T) {
	sim := New(Config{SuccessRate: 0, Seed: 7})
	codes := map[string]bool{}
	for _, r := range failureReasons {
		codes[r.Code] = true
	}
	for i := 0; i < 20; i++ {
		resp, err := sim.Run(context.Background(), "Ericsson-MMU", "execute_validation", nil)
		require.NoError(t, err)
		assert.Equal(t, types.SimulatorError, resp.Status)
		assert.True(t, codes[resp.ErrorCode], resp.ErrorCode)
		assert.NotEmpty(t, resp.ErrorMessage)
		assert.NotEmpty(t, resp.ErrorDetails)
		assert.Nil(t, resp.Data)
	}
}

func TestRunUnknownEquipment(t *testing.T) {
	sim := New(Config{SuccessRate: 1})
	resp, err := sim.Run(context.Background(), "Nokia-XYZ", "execute_validation", nil)
	require.NoError(t, err)
	assert.Equal(t, types.SimulatorError, resp.Status)
	assert.Equal(t, ErrorCodeEquipmentNotFound, resp.ErrorCode)
	assert.Contains(t, resp.ErrorMessage, "Nokia-XYZ")
}

func TestRunSameSeedSameSequence(t *testing.T) {
	a := New(Config{SuccessRate: 0.5, Seed: 99})
	b := New(Config{SuccessRate: 0.5, Seed: 99})
	for i := 0; i < 10; i++ {
		ra, _ := a.Run(context.Background(), "Ericsson-MMU", "cmd", nil)
		rb, _ := b.Run(context.Background(), "Ericsson-MMU", "cmd", nil)
		assert.Equal(t, ra.Status, rb.Status)
		assert.Equal(t, ra.ErrorCode, rb.ErrorCode)
	}
}

func TestRunInvalidRateFallsBackToDefault(t *testing.T) {
	assert.Equal(t, DefaultSuccessRate, New(Config{SuccessRate: 1.5}).SuccessRate())
	assert.Equal(t, DefaultSuccessRate, New(Config{SuccessRate: -1}).SuccessRate())
}

func TestRunHonorsContextDuringLatency(t *testing.T) {
	sim := New(Config{SuccessRate: 1, MinLatency: time.Minute, MaxLatency: time.Minute})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := sim.Run(ctx, "Ericsson-MMU", "cmd", nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestRunReportsLatency(t *testing.T) {
	sim := New(Config{SuccessRate: 1, MinLatency: 5 * time.Millisecond, MaxLatency: 10 * time.Millisecond})
	resp, err := sim.Run(context.Background(), "Ericsson-MMU", "cmd", map[string]any{"band": "n78"})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, resp.DurationHint, 0.005)
	assert.LessOrEqual(t, resp.DurationHint, 0.010)
	assert.Equal(t, map[string]any{"band": "n78"}, resp.Data["parameters"])
}

func TestRunConcurrent(t *testing.T) {
	sim := New(Config{SuccessRate: 0.5, Seed: 3})
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := sim.Run(context.Background(), "Samsung-AUv1", "cmd", nil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
}

func TestStatusAndList(t *testing.T) {
	sim := New(Config{SuccessRate: 0.8})
	st := sim.Status("Ericsson-MMU")
	assert.Equal(t, "active", st["status"])
	assert.Equal(t, "Ericsson-MMU-001", st["equipment_id"])
	assert.Equal(t, 0.8, st["success_rate"])

	assert.Equal(t, "not_found", sim.Status("nope")["status"])

	list := sim.List()
	require.Len(t, list, 4)
	assert.Equal(t, "Ericsson-MMU-001", list[0].ID)
	assert.Equal(t, "Samsung-AUv2-001", list[3].ID)
}

func TestRegisterTools(t *testing.T) {
	sim := New(Config{SuccessRate: 1, Seed: 5})
	reg := tools.NewRegistry()
	require.NoError(t, RegisterTools(reg, sim, "execute_validation"))
	assert.Equal(t, []string{ToolEquipmentStatus, ToolListEquipment, ToolSendCommand}, reg.Names())

	ctx := context.Background()
	out, err := reg.Call(ctx, types.ToolCall{Name: ToolSendCommand, Input: map[string]interface{}{"equipment_id": "Ericsson-MMU"}})
	require.NoError(t, err)
	var resp types.SimulatorResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, types.SimulatorSuccess, resp.Status)
	assert.Equal(t, "execute_validation", resp.Command)

	out, err = reg.Call(ctx, types.ToolCall{Name: ToolListEquipment})
	require.NoError(t, err)
	var list []Equipment
	require.NoError(t, json.Unmarshal([]byte(out), &list))
	assert.Len(t, list, 4)

	out, err = reg.Call(ctx, types.ToolCall{Name: ToolEquipmentStatus, Input: map[string]interface{}{"equipment_id": "Samsung-AUv1"}})
	require.NoError(t, err)
	assert.Contains(t, out, `"status":"active"`)

	_, err = reg.Call(ctx, types.ToolCall{Name: ToolSendCommand, Input: map[string]interface{}{}})
	assert.ErrorIs(t, err, tools.ErrMissingRequiredArg)

	assert.Error(t, RegisterTools(reg, sim, "x"), "second registration collides")
}

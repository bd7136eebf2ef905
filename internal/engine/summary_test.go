package engine

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"

	"labvalidate/internal/types"
)

func result(item, equipment string, o types.Outcome, confidence, duration float64) types.Result {
	r := types.NewResult(types.ExecutionUnit{TestItemID: item, EquipmentID: equipment}, o, confidence, "")
	r.DurationSeconds = duration
	return r
}

func TestSummarize(t *testing.T) {
	b := &types.Batch{
		ID:     "b-1",
		Name:   "nightly",
		Status: types.BatchCompleted,
		Items: []types.TestItem{
			{ID: "TC-001", Targets: []string{"Ericsson-MMU", "Samsung-AUv1"}},
			{ID: "TC-002", Targets: []string{"Ericsson-MMU", "Samsung-AUv1"}},
		},
		Results: []types.Result{
			result("TC-001", "Ericsson-MMU", types.OutcomePass, 0.9, 2),
			result("TC-001", "Samsung-AUv1", types.OutcomeFail, 0.9, 1),
			result("TC-002", "Ericsson-MMU", types.OutcomePass, 0.7, 4),
			result("TC-002", "Samsung-AUv1", types.OutcomeNeedsCheck, 0.5, 1),
		},
	}

	got := Summarize(b)

	want := types.BatchSummary{
		BatchID:                "b-1",
		Name:                   "nightly",
		Status:                 types.BatchCompleted,
		ExpectedUnits:          4,
		Total:                  4,
		PassCount:              2,
		FailCount:              1,
		NeedsCheckCount:        1,
		NeedsReviewCount:       2,
		SuccessRate:            0.5,
		AverageDurationSeconds: 2,
		AverageConfidence:      0.75,
		ByEquipment: map[string]types.EquipmentSummary{
			"Ericsson-MMU": {Total: 2, PassCount: 2, SuccessRate: 1, AverageDurationSeconds: 3, AverageConfidence: 0.8},
			"Samsung-AUv1": {Total: 2, FailCount: 1, NeedsCheckCount: 1, SuccessRate: 0, AverageDurationSeconds: 1, AverageConfidence: 0.7},
		},
	}
	approx := cmp.Comparer(func(x, y float64) bool { return math.Abs(x-y) < 1e-9 })
	if diff := cmp.Diff(want, got, approx); diff != "" {
		t.Errorf("Summarize mismatch (-want +got):\n%s", diff)
	}
}

func TestSummarizeEmpty(t *testing.T) {
	for name, b := range map[string]*types.Batch{
		"nil":        nil,
		"no items":   {Status: types.BatchCompleted},
		"no results": {Status: types.BatchCancelled, Items: []types.TestItem{{ID: "TC-001", Targets: []string{"E-1"}}}},
	} {
		t.Run(name, func(t *testing.T) {
			got := Summarize(b)
			assert.Zero(t, got.Total)
			assert.Zero(t, got.SuccessRate)
			assert.Zero(t, got.AverageDurationSeconds)
			assert.Zero(t, got.AverageConfidence)
			assert.False(t, math.IsNaN(got.SuccessRate))
			assert.NotNil(t, got.ByEquipment)
		})
	}
}

func TestSummarizeIsPure(t *testing.T) {
	b := &types.Batch{Results: []types.Result{result("TC-001", "E-1", types.OutcomePass, 1, 1)}}
	first := Summarize(b)
	second := Summarize(b)
	assert.Equal(t, first, second)
	assert.Len(t, b.Results, 1)
}

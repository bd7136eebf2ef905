package engine

import (
	"labvalidate/internal/types"
)

// Summarize derives a summary from b's results. Rates and averages over an
// empty set are 0.
func Summarize(b *types.Batch) types.BatchSummary {
	sum := types.BatchSummary{ByEquipment: map[string]types.EquipmentSummary{}}
	if b == nil {
		return sum
	}

	sum.BatchID = b.ID
	sum.Name = b.Name
	sum.Status = b.Status
	sum.StartedAt = b.StartedAt
	sum.CompletedAt = b.CompletedAt
	sum.ExpectedUnits = len(b.Units())

	type acc struct {
		types.EquipmentSummary
		duration   float64
		confidence float64
	}
	perEquipment := map[string]*acc{}

	var duration, confidence float64
	for _, r := range b.Results {
		sum.Total++
		duration += r.DurationSeconds
		confidence += r.Confidence

		a, ok := perEquipment[r.EquipmentID]
		if !ok {
			a = &acc{}
			perEquipment[r.EquipmentID] = a
		}
		a.Total++
		a.duration += r.DurationSeconds
		a.confidence += r.Confidence

		switch r.Outcome {
		case types.OutcomePass:
			sum.PassCount++
			a.PassCount++
		case types.OutcomeNeedsCheck:
			sum.NeedsCheckCount++
			a.NeedsCheckCount++
		default:
			sum.FailCount++
			a.FailCount++
		}
		if r.ReviewStatus == types.ReviewNeedsReview {
			sum.NeedsReviewCount++
		}
	}

	sum.SuccessRate = ratio(float64(sum.PassCount), sum.Total)
	sum.AverageDurationSeconds = ratio(duration, sum.Total)
	sum.AverageConfidence = ratio(confidence, sum.Total)

	for id, a := range perEquipment {
		es := a.EquipmentSummary
		es.SuccessRate = ratio(float64(es.PassCount), es.Total)
		es.AverageDurationSeconds = ratio(a.duration, es.Total)
		es.AverageConfidence = ratio(a.confidence, es.Total)
		sum.ByEquipment[id] = es
	}
	return sum
}

func ratio(x float64, n int) float64 {
	if n == 0 {
		return 0
	}
	return x / float64(n)
}

// Package types holds the data model shared by every labvalidate package:
// test items, execution units, results, batches, retrieval documents and
// simulator responses.
package types

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TestItem is one validation requirement to be checked against one or more
// pieces of target equipment.
type TestItem struct {
	ID            string   `json:"id" yaml:"id"`
	Block         string   `json:"test_block" yaml:"test_block"`
	Category      string   `json:"category" yaml:"category"`
	ConditionText string   `json:"condition_text" yaml:"condition_text"`
	ExpectedCount int      `json:"expected_count" yaml:"expected_count"`
	Targets       []string `json:"targets" yaml:"targets"`
}

// Validate checks the fields every item must carry before it can be expanded.
func (t TestItem) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return fmt.Errorf("%w: test item id is empty", ErrInvalidBatch)
	}
	if len(t.Targets) == 0 {
		return fmt.Errorf("%w: test item %s has no targets", ErrInvalidBatch, t.ID)
	}
	for i, target := range t.Targets {
		if strings.TrimSpace(target) == "" {
			return fmt.Errorf("%w: test item %s target %d is empty", ErrInvalidBatch, t.ID, i)
		}
	}
	return nil
}

// ExecutionUnit is a (test item, equipment) pair. Index is the unit's position
// in expansion order.
type ExecutionUnit struct {
	Index       int    `json:"index"`
	TestItemID  string `json:"test_item_id"`
	EquipmentID string `json:"equipment_id"`
}

// Outcome is the verdict for one execution unit.
type Outcome string

const (
	OutcomePass       Outcome = "PASS"
	OutcomeFail       Outcome = "FAIL"
	OutcomeNeedsCheck Outcome = "NEEDS_CHECK"
)

// ParseOutcome normalizes a verdict string reported by a backend.
// Unrecognized values map to FAIL; ok reports whether the value was recognized.
func ParseOutcome(s string) (o Outcome, ok bool) {
	norm := strings.ToUpper(strings.TrimSpace(s))
	norm = strings.NewReplacer(" ", "_", "-", "_").Replace(norm)
	switch norm {
	case "PASS", "PASSED", "OK", "SUCCESS":
		return OutcomePass, true
	case "FAIL", "FAILED", "FAILURE", "NG":
		return OutcomeFail, true
	case "NEEDS_CHECK", "NEEDSCHECK", "WARNING", "WARN", "CHECK":
		return OutcomeNeedsCheck, true
	default:
		return OutcomeFail, false
	}
}

// ReviewStatus tracks a result through human review.
type ReviewStatus string

const (
	ReviewNotRequired           ReviewStatus = "NOT_REQUIRED"
	ReviewNeedsReview           ReviewStatus = "NEEDS_REVIEW"
	ReviewApproved              ReviewStatus = "APPROVED"
	ReviewRevalidationRequested ReviewStatus = "REVALIDATION_REQUESTED"
)

// InitialReviewStatus is the status a freshly produced result starts with.
func InitialReviewStatus(o Outcome) ReviewStatus {
	if o == OutcomePass {
		return ReviewNotRequired
	}
	return ReviewNeedsReview
}

// Result is the outcome of executing one unit.
type Result struct {
	ID              string       `json:"id"`
	TestItemID      string       `json:"test_item_id"`
	EquipmentID     string       `json:"equipment_id"`
	Outcome         Outcome      `json:"outcome"`
	Confidence      float64      `json:"confidence"`
	Rationale       string       `json:"rationale"`
	Issues          []string     `json:"issues,omitempty"`
	Recommendations []string     `json:"recommendations,omitempty"`
	DurationSeconds float64      `json:"duration_seconds"`
	CreatedAt       time.Time    `json:"created_at"`
	ReviewStatus    ReviewStatus `json:"review_status"`
	ErrorKind       ErrorKind    `json:"error_kind,omitempty"`
	ErrorMessage    string       `json:"error_message,omitempty"`
}

// NewResult builds a result for unit with the confidence clamped and the
// review status derived from the outcome.
func NewResult(unit ExecutionUnit, outcome Outcome, confidence float64, rationale string) Result {
	return Result{
		ID:           uuid.NewString(),
		TestItemID:   unit.TestItemID,
		EquipmentID:  unit.EquipmentID,
		Outcome:      outcome,
		Confidence:   ClampConfidence(confidence),
		Rationale:    rationale,
		CreatedAt:    time.Now(),
		ReviewStatus: InitialReviewStatus(outcome),
	}
}

// FailedResult builds a zero-confidence FAIL carrying an error kind.
func FailedResult(unit ExecutionUnit, kind ErrorKind, err error) Result {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	r := NewResult(unit, OutcomeFail, 0, fmt.Sprintf("%s: %s", kind, msg))
	r.ErrorKind = kind
	r.ErrorMessage = msg
	return r
}

// ClampConfidence forces c into [0, 1]. NaN becomes 0.
func ClampConfidence(c float64) float64 {
	switch {
	case math.IsNaN(c):
		return 0
	case c < 0:
		return 0
	case c > 1:
		return 1
	default:
		return c
	}
}

// BatchStatus is the lifecycle state of a batch.
type BatchStatus string

const (
	BatchPending   BatchStatus = "PENDING"
	BatchRunning   BatchStatus = "RUNNING"
	BatchCompleted BatchStatus = "COMPLETED"
	BatchFailed    BatchStatus = "FAILED"
	BatchCancelled BatchStatus = "CANCELLED"
)

// Terminal reports whether the status is final.
func (s BatchStatus) Terminal() bool {
	return s == BatchCompleted || s == BatchFailed || s == BatchCancelled
}

// Batch is a named collection of test items executed together.
type Batch struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Items       []TestItem  `json:"items"`
	Results     []Result    `json:"results"`
	Status      BatchStatus `json:"status"`
	CreatedAt   time.Time   `json:"created_at"`
	StartedAt   *time.Time  `json:"started_at,omitempty"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
}

// NewBatch validates items and returns a pending batch. Item ids must be
// unique within the batch. An empty name gets a timestamped default.
func NewBatch(name string, items []TestItem) (*Batch, error) {
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		if err := item.Validate(); err != nil {
			return nil, err
		}
		if _, dup := seen[item.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate test item id %s", ErrInvalidBatch, item.ID)
		}
		seen[item.ID] = struct{}{}
	}
	now := time.Now()
	if strings.TrimSpace(name) == "" {
		name = "batch_" + now.Format("20060102_150405")
	}
	return &Batch{
		ID:        uuid.NewString(),
		Name:      name,
		Items:     items,
		Status:    BatchPending,
		CreatedAt: now,
	}, nil
}

// Units expands the batch into execution units in item order, then target
// order. Duplicate targets produce distinct units.
func (b *Batch) Units() []ExecutionUnit {
	var units []ExecutionUnit
	for _, item := range b.Items {
		for _, target := range item.Targets {
			units = append(units, ExecutionUnit{
				Index:       len(units),
				TestItemID:  item.ID,
				EquipmentID: target,
			})
		}
	}
	return units
}

// Item returns the test item with the given id.
func (b *Batch) Item(id string) (TestItem, bool) {
	for _, item := range b.Items {
		if item.ID == id {
			return item, true
		}
	}
	return TestItem{}, false
}

// EquipmentSummary aggregates results for one piece of equipment.
type EquipmentSummary struct {
	Total                  int     `json:"total"`
	PassCount              int     `json:"pass_count"`
	FailCount              int     `json:"fail_count"`
	NeedsCheckCount        int     `json:"needs_check_count"`
	SuccessRate            float64 `json:"success_rate"`
	AverageDurationSeconds float64 `json:"average_duration_seconds"`
	AverageConfidence      float64 `json:"average_confidence"`
}

// BatchSummary is derived from a batch's results on demand.
type BatchSummary struct {
	BatchID                string                      `json:"batch_id"`
	Name                   string                      `json:"name"`
	Status                 BatchStatus                 `json:"status"`
	ExpectedUnits          int                         `json:"expected_units"`
	Total                  int                         `json:"total"`
	PassCount              int                         `json:"pass_count"`
	FailCount              int                         `json:"fail_count"`
	NeedsCheckCount        int                         `json:"needs_check_count"`
	NeedsReviewCount       int                         `json:"needs_review_count"`
	SuccessRate            float64                     `json:"success_rate"`
	AverageDurationSeconds float64                     `json:"average_duration_seconds"`
	AverageConfidence      float64                     `json:"average_confidence"`
	StartedAt              *time.Time                  `json:"started_at,omitempty"`
	CompletedAt            *time.Time                  `json:"completed_at,omitempty"`
	ByEquipment            map[string]EquipmentSummary `json:"by_equipment"`
}

// Document is one entry in a retrieval store.
type Document struct {
	ID        string            `json:"id"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata"`
	Embedding []float32         `json:"embedding,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// SimulatorStatus is the coarse status of a simulator response.
type SimulatorStatus string

const (
	SimulatorSuccess SimulatorStatus = "success"
	SimulatorError   SimulatorStatus = "error"
)

// SimulatorResponse is what a target simulator returns for one command.
type SimulatorResponse struct {
	Status        SimulatorStatus `json:"status"`
	EquipmentID   string          `json:"equipment_id"`
	Vendor        string          `json:"vendor,omitempty"`
	Model         string          `json:"model,omitempty"`
	Command       string          `json:"command"`
	Data          map[string]any  `json:"data,omitempty"`
	ErrorCode     string          `json:"error_code,omitempty"`
	ErrorMessage  string          `json:"error_message,omitempty"`
	ErrorDetails  string          `json:"error_details,omitempty"`
	RetryPossible bool            `json:"retry_possible,omitempty"`
	DurationHint  float64         `json:"duration_hint_seconds,omitempty"`
}

// Failed reports whether the simulator reported an error.
func (r SimulatorResponse) Failed() bool {
	return r.Status != SimulatorSuccess
}

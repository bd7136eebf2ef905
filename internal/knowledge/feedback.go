package knowledge

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"labvalidate/internal/logging"
	"labvalidate/internal/observability"
	"labvalidate/internal/types"
)

// ErrNotStored is returned when a knowledge entry could not be inserted.
var ErrNotStored = errors.New("knowledge entry not stored")

// problemPreviewRunes bounds the fallback problem description.
const problemPreviewRunes = 100

// ReviewFeedback is a finalized engineer review of one result.
type ReviewFeedback struct {
	ID                 string             `json:"id" yaml:"id"`
	ResultID           string             `json:"result_id" yaml:"result_id"`
	TestItemID         string             `json:"test_item_id" yaml:"test_item_id"`
	Block              string             `json:"test_block" yaml:"test_block"`
	TestCategory       string             `json:"category" yaml:"category"`
	EquipmentID        string             `json:"equipment_id" yaml:"equipment_id"`
	ConditionText      string             `json:"condition_text" yaml:"condition_text"`
	Resolution         types.ReviewStatus `json:"resolution" yaml:"resolution"`
	Reason             string             `json:"reason" yaml:"reason"`
	Reviewer           string             `json:"reviewer" yaml:"reviewer"`
	ValidationFeedback string             `json:"validation_feedback" yaml:"validation_feedback"`
	ItemFeedback       string             `json:"item_feedback" yaml:"item_feedback"`
}

// Entry is the structured form of one piece of feedback.
type Entry struct {
	ID          string
	Category    Category
	Feedback    string
	Problem     string
	Solution    string
	Notes       string
	Confidence  float64
	Tags        []string
	CreatedAt   time.Time
	FromReview  ReviewFeedback
	FeedbackKey string
}

// Content renders the entry as retrievable text.
func (en Entry) Content() string {
	r := en.FromReview
	var sb strings.Builder
	fmt.Fprintf(&sb, "Test block: %s\n", r.Block)
	if r.TestCategory != "" {
		fmt.Fprintf(&sb, "Category: %s\n", r.TestCategory)
	}
	if r.EquipmentID != "" {
		fmt.Fprintf(&sb, "Equipment: %s\n", r.EquipmentID)
	}
	if r.ConditionText != "" {
		fmt.Fprintf(&sb, "Condition: %s\n", r.ConditionText)
	}
	fmt.Fprintf(&sb, "Problem: %s\n", en.Problem)
	fmt.Fprintf(&sb, "Solution: %s\n", en.Solution)
	if en.Notes != "" {
		fmt.Fprintf(&sb, "Notes: %s\n", en.Notes)
	}
	fmt.Fprintf(&sb, "Feedback: %s", en.Feedback)
	return sb.String()
}

// Metadata returns the store metadata for the entry.
func (en Entry) Metadata() map[string]string {
	r := en.FromReview
	return map[string]string{
		"knowledge_id":     en.ID,
		"category":         string(en.Category),
		"feedback_type":    en.FeedbackKey,
		"test_block":       r.Block,
		"equipment_id":     r.EquipmentID,
		"reviewer":         r.Reviewer,
		"source_review_id": r.ID,
		"source_result_id": r.ResultID,
		"confidence":       strconv.FormatFloat(en.Confidence, 'f', 2, 64),
		"tags":             strings.Join(en.Tags, ","),
		"created_at":       en.CreatedAt.Format(time.RFC3339),
	}
}

// RecordFeedback stores knowledge extracted from review. Only reviews that
// request revalidation produce knowledge; others return (0, nil). Each
// non-empty feedback field becomes one document. The count of stored
// documents is returned together with any insert failures.
func (e *Enhancer) RecordFeedback(ctx context.Context, review ReviewFeedback) (int, error) {
	if review.Resolution != types.ReviewRevalidationRequested {
		logging.KnowledgeDebug("review %s resolution %s: no knowledge extracted", review.ID, review.Resolution)
		return 0, nil
	}
	if e == nil || e.store == nil {
		return 0, fmt.Errorf("%w: no retrieval store configured", ErrNotStored)
	}

	sources := []struct {
		category Category
		key      string
		text     string
	}{
		{CategoryValidationMethod, "validation_feedback", review.ValidationFeedback},
		{CategoryTestItemCreation, "item_feedback", review.ItemFeedback},
	}

	var (
		stored int
		errs   []error
	)
	for _, src := range sources {
		text := strings.TrimSpace(src.text)
		if text == "" {
			continue
		}
		entry := e.buildEntry(ctx, review, src.category, src.key, text)
		if !e.store.Insert(ctx, entry.Content(), entry.Metadata()) {
			errs = append(errs, fmt.Errorf("%w: %s from review %s", ErrNotStored, src.key, review.ID))
			continue
		}
		stored++
		observability.RecordFeedback(ctx, e.metrics, string(src.category), 1)
	}

	logging.Knowledge("review %s: stored %d knowledge entries", review.ID, stored)
	return stored, errors.Join(errs...)
}

func (e *Enhancer) buildEntry(ctx context.Context, review ReviewFeedback, category Category, key, text string) Entry {
	now := e.now()
	reviewID := review.ID
	if reviewID == "" {
		reviewID = uuid.NewString()[:8]
	}
	problem, solution, notes := e.extract(ctx, text, category)
	return Entry{
		ID:          fmt.Sprintf("knowledge_%s_%s_%s", category, now.Format("20060102_150405"), reviewID),
		Category:    category,
		Feedback:    text,
		Problem:     problem,
		Solution:    solution,
		Notes:       notes,
		Confidence:  feedbackConfidence(review, text),
		Tags:        feedbackTags(text, category, review.Block),
		CreatedAt:   now,
		FromReview:  review,
		FeedbackKey: key,
	}
}

const extractionSystemPrompt = "You condense engineer review feedback on equipment validation into " +
	"a short JSON object. Reply with JSON only."

// extract splits feedback into problem, solution and notes, asking the
// extractor backend first and falling back to a fixed split.
func (e *Enhancer) extract(ctx context.Context, text string, category Category) (problem, solution, notes string) {
	if e.extractor != nil {
		prompt := fmt.Sprintf(`Extract structured information from this engineer feedback.

Feedback type: %s
Feedback: %s

Reply with this JSON object:
{"problem_description": "short summary of the problem",
 "solution_suggestion": "concrete fix or improvement",
 "improvement_notes": "additional cautions or follow-ups"}`, category, text)

		reply, err := e.extractor.Judge(ctx, extractionSystemPrompt, prompt)
		if err != nil {
			logging.KnowledgeWarn("feedback extraction failed, using fallback: %v", err)
		} else if m, ok := types.ExtractJSONObject(reply); ok {
			problem = strings.TrimSpace(types.ExtractString(m["problem_description"]))
			solution = strings.TrimSpace(types.ExtractString(m["solution_suggestion"]))
			notes = strings.TrimSpace(types.ExtractString(m["improvement_notes"]))
			if problem != "" && solution != "" {
				return problem, solution, notes
			}
		} else {
			logging.KnowledgeWarn("feedback extraction reply had no JSON object, using fallback")
		}
	}
	return preview(text, problemPreviewRunes),
		"Revise the validation approach based on the engineer feedback",
		"Further analysis needed"
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// feedbackConfidence rates how much a piece of feedback can be trusted from
// its detail and the review that carried it.
func feedbackConfidence(review ReviewFeedback, text string) float64 {
	c := 0.5
	n := len([]rune(text))
	if n > 100 {
		c += 0.2
	}
	if n > 200 {
		c += 0.1
	}
	if len([]rune(review.Reason)) > 50 {
		c += 0.1
	}
	if strings.TrimSpace(review.Reviewer) != "" {
		c += 0.1
	}
	if c > 1 {
		c = 1
	}
	return c
}

var tagKeywords = []string{
	"configuration", "communication", "error", "timeout",
	"performance", "threshold", "measurement", "procedure",
}

func feedbackTags(text string, category Category, block string) []string {
	set := map[string]struct{}{string(category): {}}
	if b := strings.TrimSpace(block); b != "" {
		set[b] = struct{}{}
	}
	lower := strings.ToLower(text)
	for _, kw := range tagKeywords {
		if strings.Contains(lower, kw) {
			set[kw] = struct{}{}
		}
	}
	tags := make([]string, 0, len(set))
	for t := range set {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	return tags
}

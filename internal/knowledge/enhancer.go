// Package knowledge turns engineer review feedback into retrievable documents
// and injects relevant past feedback into judgment and generation prompts.
package knowledge

import (
	"context"
	"fmt"
	"strings"
	"time"

	"labvalidate/internal/logging"
	"labvalidate/internal/observability"
	"labvalidate/internal/store"
	"labvalidate/internal/types"
)

// DefaultTopK is the number of knowledge entries added to a prompt.
const DefaultTopK = 3

// maxSearchK caps the over-fetch used to leave room for category filtering.
const maxSearchK = 5

// Category partitions knowledge by the kind of prompt it improves.
type Category string

const (
	CategoryValidationMethod Category = "validation_method"
	CategoryTestItemCreation Category = "test_item_creation"
)

// QueryContext describes what a prompt is about. It is turned into the
// retrieval query.
type QueryContext struct {
	Block         string
	Category      string
	ConditionText string
	Targets       []string
}

// Query renders the context as search text.
func (q QueryContext) Query() string {
	var sb strings.Builder
	if q.Block != "" {
		fmt.Fprintf(&sb, "Test block: %s\n", q.Block)
	}
	if q.Category != "" {
		fmt.Fprintf(&sb, "Category: %s\n", q.Category)
	}
	if q.ConditionText != "" {
		fmt.Fprintf(&sb, "Condition: %s\n", q.ConditionText)
	}
	if len(q.Targets) > 0 {
		fmt.Fprintf(&sb, "Equipment: %s\n", strings.Join(q.Targets, ", "))
	}
	return strings.TrimSpace(sb.String())
}

// Enhancer reads and writes knowledge through a RetrievalStore.
type Enhancer struct {
	store     store.RetrievalStore
	topK      int
	extractor types.ReasoningBackend
	metrics   *observability.Metrics
	now       func() time.Time
}

// Option configures an Enhancer.
type Option func(*Enhancer)

// WithTopK sets how many entries are added to a prompt. Values below 1 are
// ignored.
func WithTopK(k int) Option {
	return func(e *Enhancer) {
		if k > 0 {
			e.topK = k
		}
	}
}

// WithExtractor uses backend to split feedback into problem, solution and
// notes. Without one the deterministic fallback is used.
func WithExtractor(backend types.ReasoningBackend) Option {
	return func(e *Enhancer) { e.extractor = backend }
}

// WithMetrics records feedback ingestion on m.
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Enhancer) { e.metrics = m }
}

// WithClock overrides the timestamp source for knowledge entries.
func WithClock(now func() time.Time) Option {
	return func(e *Enhancer) { e.now = now }
}

// NewEnhancer creates an Enhancer over s.
func NewEnhancer(s store.RetrievalStore, opts ...Option) *Enhancer {
	e := &Enhancer{
		store: s,
		topK:  DefaultTopK,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Relevant returns up to topK matches for q, restricted to category when it
// is non-empty. The store is asked for up to twice as many, capped at
// maxSearchK unless topK itself is larger.
func (e *Enhancer) Relevant(ctx context.Context, q QueryContext, category Category) []store.Match {
	if e == nil || e.store == nil {
		return nil
	}
	query := q.Query()
	if query == "" {
		return nil
	}
	matches := e.store.Search(ctx, query, searchK(e.topK))

	out := make([]store.Match, 0, e.topK)
	for _, m := range matches {
		if category != "" && m.Document.Metadata["category"] != string(category) {
			continue
		}
		out = append(out, m)
		if len(out) == e.topK {
			break
		}
	}
	logging.KnowledgeDebug("query matched %d/%d entries (category=%q)", len(out), len(matches), category)
	return out
}

func searchK(topK int) int {
	k := min(topK*2, maxSearchK)
	if k < topK {
		return topK
	}
	return k
}

// Augment appends a prior-knowledge section to basePrompt. The prompt is
// returned unchanged when nothing relevant is stored.
func (e *Enhancer) Augment(ctx context.Context, basePrompt string, q QueryContext, category Category) string {
	matches := e.Relevant(ctx, q, category)
	if len(matches) == 0 {
		return basePrompt
	}

	var sb strings.Builder
	sb.WriteString(basePrompt)
	sb.WriteString("\n\n## Prior knowledge from engineer reviews\n")
	for i, m := range matches {
		fmt.Fprintf(&sb, "\n%d. %s\n", i+1, indent(strings.TrimSpace(m.Document.Content)))
		if m.Source == store.SourceLexical {
			sb.WriteString("   (keyword match)\n")
		} else {
			fmt.Fprintf(&sb, "   (similarity %.2f)\n", m.Score)
		}
	}
	sb.WriteString("\n")
	sb.WriteString(guidance(category))
	return sb.String()
}

// AugmentJudgment adds validation-method knowledge to a judgment prompt for
// item running on equipmentID.
func (e *Enhancer) AugmentJudgment(ctx context.Context, basePrompt string, item types.TestItem, equipmentID string) string {
	return e.Augment(ctx, basePrompt, QueryContext{
		Block:         item.Block,
		Category:      item.Category,
		ConditionText: item.ConditionText,
		Targets:       []string{equipmentID},
	}, CategoryValidationMethod)
}

// AugmentGeneration adds test-item-creation knowledge to a prompt that
// generates test items for feature on the given equipment.
func (e *Enhancer) AugmentGeneration(ctx context.Context, basePrompt, feature string, targets []string) string {
	return e.Augment(ctx, basePrompt, QueryContext{
		Block:   feature,
		Targets: targets,
	}, CategoryTestItemCreation)
}

// Similar is an unfiltered similarity search for analysis.
func (e *Enhancer) Similar(ctx context.Context, query string, k int) []store.Match {
	if e == nil || e.store == nil {
		return nil
	}
	return e.store.Search(ctx, query, k)
}

func guidance(category Category) string {
	switch category {
	case CategoryTestItemCreation:
		return "Use the feedback above when writing test items: avoid the gaps " +
			"reviewers pointed out and include the checks they asked for.\n"
	default:
		return "Use the feedback above when judging: avoid repeating the problems " +
			"reviewers found, and prefer NEEDS_CHECK over PASS when the evidence is ambiguous.\n"
	}
}

func indent(s string) string {
	return strings.ReplaceAll(s, "\n", "\n   ")
}

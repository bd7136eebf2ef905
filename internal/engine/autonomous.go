package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"labvalidate/internal/logging"
	"labvalidate/internal/observability"
	"labvalidate/internal/types"
)

// DefaultAutonomousTimeout bounds the single delegation call.
const DefaultAutonomousTimeout = 15 * time.Minute

const resultsTag = "results"

// AutonomousStrategy hands the whole batch to the backend in one Delegate
// call and parses per-unit results out of the reply. Every unit gets exactly
// one result; units the reply does not cover become NEEDS_CHECK.
type AutonomousStrategy struct {
	backend types.ReasoningBackend
	toolbox types.Toolbox
	command string
	timeout time.Duration
	metrics *observability.Metrics
	now     func() time.Time
}

// AutonomousOption configures an AutonomousStrategy.
type AutonomousOption func(*AutonomousStrategy)

// WithDelegateTimeout bounds the delegation call. Zero disables it.
func WithDelegateTimeout(d time.Duration) AutonomousOption {
	return func(s *AutonomousStrategy) { s.timeout = d }
}

// WithAutonomousCommand names the command the backend should run per unit.
func WithAutonomousCommand(cmd string) AutonomousOption {
	return func(s *AutonomousStrategy) {
		if cmd != "" {
			s.command = cmd
		}
	}
}

// WithAutonomousMetrics records unit and batch metrics.
func WithAutonomousMetrics(m *observability.Metrics) AutonomousOption {
	return func(s *AutonomousStrategy) { s.metrics = m }
}

// WithAutonomousClock replaces time.Now for batch timestamps.
func WithAutonomousClock(now func() time.Time) AutonomousOption {
	return func(s *AutonomousStrategy) { s.now = now }
}

// NewAutonomousStrategy creates a strategy delegating to backend with the
// tools in toolbox.
func NewAutonomousStrategy(backend types.ReasoningBackend, toolbox types.Toolbox, opts ...AutonomousOption) *AutonomousStrategy {
	s := &AutonomousStrategy{
		backend: backend,
		toolbox: toolbox,
		command: DefaultCommand,
		timeout: DefaultAutonomousTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *AutonomousStrategy) Mode() Mode { return ModeAutonomous }

// Run delegates b. A batch cancelled before delegation ends CANCELLED with no
// results; once delegated, the call runs to completion or its own deadline.
// Progress is reported once per result after the reply is parsed.
func (s *AutonomousStrategy) Run(ctx context.Context, b *types.Batch, onProgress ProgressFunc) *types.Batch {
	ctx, span := observability.StartSpan(ctx, "batch.delegate",
		attribute.String("batch.id", b.ID),
		attribute.String("batch.mode", string(ModeAutonomous)),
	)
	defer span.End()

	started := s.now()
	b.Status = types.BatchRunning
	b.StartedAt = &started
	b.CompletedAt = nil

	units := b.Units()
	b.Results = make([]types.Result, 0, len(units))
	if len(units) == 0 {
		s.finish(ctx, b, types.BatchCompleted)
		return b
	}
	if err := ctx.Err(); err != nil {
		logging.StrategyWarn("batch %s cancelled before delegation: %v", b.ID, err)
		s.finish(ctx, b, types.BatchCancelled)
		return b
	}

	prompt := s.prompt(b)
	logging.Strategy("batch %s: delegating %d units to %s (prompt %d bytes)", b.ID, len(units), s.backend.Name(), len(prompt))

	dctx := context.WithoutCancel(ctx)
	if s.timeout > 0 {
		var cancel context.CancelFunc
		dctx, cancel = context.WithTimeout(dctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	reply, err := await(dctx, func(ctx context.Context) (string, error) {
		return s.backend.Delegate(ctx, prompt, s.toolbox)
	})
	elapsed := time.Since(start)

	var results []types.Result
	if err != nil {
		logging.StrategyWarn("batch %s: delegation failed after %v: %v", b.ID, elapsed, err)
		observability.RecordError(span, err)
		results = delegationFailed(units, err)
	} else {
		results = matchResults(units, parseEntries(reply))
	}

	perUnit := elapsed.Seconds() / float64(len(units))
	for i := range results {
		if results[i].DurationSeconds == 0 {
			results[i].DurationSeconds = perUnit
		}
		b.Results = append(b.Results, results[i])
		observability.RecordUnit(ctx, s.metrics, string(ModeAutonomous), string(results[i].Outcome), string(results[i].ErrorKind), time.Duration(results[i].DurationSeconds*float64(time.Second)))
		if onProgress != nil {
			onProgress(float64(i+1)/float64(len(results)), results[i])
		}
	}

	s.finish(ctx, b, types.BatchCompleted)
	return b
}

func (s *AutonomousStrategy) finish(ctx context.Context, b *types.Batch, status types.BatchStatus) {
	done := s.now()
	b.Status = status
	b.CompletedAt = &done
	observability.RecordBatch(ctx, s.metrics, string(ModeAutonomous), string(status))
	logging.Strategy("batch %s %s: %d results", b.ID, status, len(b.Results))
}

// prompt describes the batch, its targets and the available tools, and asks
// for a tagged JSON array of results.
func (s *AutonomousStrategy) prompt(b *types.Batch) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "# Validation batch: %s\n\n", b.Name)
	fmt.Fprintf(&sb, "Run command %q on every target of every test item below, judge each output against the item's condition, and report one result per (test item, equipment) pair. A target listed twice needs two results.\n\n", s.command)

	sb.WriteString("## Test items\n")
	for _, item := range b.Items {
		fmt.Fprintf(&sb, "- id: %s\n", item.ID)
		if item.Block != "" {
			fmt.Fprintf(&sb, "  block: %s\n", item.Block)
		}
		if item.Category != "" {
			fmt.Fprintf(&sb, "  category: %s\n", item.Category)
		}
		fmt.Fprintf(&sb, "  condition: %s\n", item.ConditionText)
		if item.ExpectedCount > 0 {
			fmt.Fprintf(&sb, "  expected_count: %d\n", item.ExpectedCount)
		}
		fmt.Fprintf(&sb, "  targets: %s\n", strings.Join(item.Targets, ", "))
	}

	if s.toolbox != nil {
		if defs := s.toolbox.Tools(); len(defs) > 0 {
			sb.WriteString("\n## Tools\n")
			for _, def := range defs {
				fmt.Fprintf(&sb, "- %s: %s\n", def.Name, def.Description)
			}
		}
	}

	sb.WriteString("\n## Report format\n")
	sb.WriteString("When finished, reply with the results inside <results></results> tags as a JSON array:\n")
	sb.WriteString("<results>\n")
	sb.WriteString(`[{"test_item_id": "...", "equipment_id": "...", "outcome": "PASS|FAIL|NEEDS_CHECK", "confidence": 0.0, "rationale": "...", "issues": [], "recommendations": []}]`)
	sb.WriteString("\n</results>\n")
	return sb.String()
}

func resultsArray(reply string) ([]map[string]any, bool) {
	if body, ok := types.ExtractTagged(reply, resultsTag); ok {
		if raw, ok := types.ExtractJSONArray(body); ok {
			return raw, true
		}
		logging.StrategyWarn("delegated <%s> block is not a JSON array", resultsTag)
	}
	if body, ok := types.ExtractFenced(reply, "json"); ok {
		return types.ExtractJSONArray(body)
	}
	return nil, false
}

// entry is one reported result before it is matched to a unit.
type entry struct {
	itemID      string
	equipmentID string
	judgment    judgment
	duration    float64
	used        bool
}

// parseEntries reads the <results> block, falling back to a ```json fence
// when the block is missing or does not hold a JSON array. Entries without
// ids or an outcome are dropped.
func parseEntries(reply string) []*entry {
	raw, ok := resultsArray(reply)
	if !ok {
		logging.StrategyWarn("delegated reply has no <%s> block or json fence with a JSON array", resultsTag)
		return nil
	}

	var out []*entry
	for _, m := range raw {
		e := &entry{}
		if v, ok := types.FirstOf(m, "test_item_id", "item_id", "id"); ok {
			e.itemID = strings.TrimSpace(types.ExtractString(v))
		}
		if v, ok := types.FirstOf(m, "equipment_id", "equipment", "target"); ok {
			e.equipmentID = strings.TrimSpace(types.ExtractString(v))
		}
		j, ok := judgmentFromMap(m)
		if e.itemID == "" || e.equipmentID == "" || !ok {
			continue
		}
		e.judgment = j
		if v, ok := m["duration_seconds"]; ok {
			if f, ok := types.ExtractFloat64(v); ok && f > 0 {
				e.duration = f
			}
		}
		out = append(out, e)
	}
	return out
}

// matchResults pairs units with entries in unit order. Each entry is used at
// most once; ids compare case-insensitively.
func matchResults(units []types.ExecutionUnit, entries []*entry) []types.Result {
	results := make([]types.Result, 0, len(units))
	missing := 0
	for _, unit := range units {
		var found *entry
		for _, e := range entries {
			if !e.used && strings.EqualFold(e.itemID, unit.TestItemID) && strings.EqualFold(e.equipmentID, unit.EquipmentID) {
				found = e
				break
			}
		}
		if found == nil {
			missing++
			res := types.NewResult(unit, types.OutcomeNeedsCheck, 0, "No result was reported for this unit by the autonomous run; verify manually")
			res.ErrorKind = types.ErrorKindJudgmentParse
			res.ErrorMessage = "unit missing from delegated results"
			results = append(results, res)
			continue
		}
		found.used = true
		j := found.judgment
		res := types.NewResult(unit, j.Outcome, j.Confidence, j.Rationale)
		res.Issues = j.Issues
		res.Recommendations = j.Recommendations
		res.DurationSeconds = found.duration
		results = append(results, res)
	}
	if missing > 0 {
		logging.StrategyWarn("%d/%d units missing from delegated results", missing, len(units))
	}
	return results
}

// delegationFailed marks every unit NEEDS_CHECK with the delegation error.
func delegationFailed(units []types.ExecutionUnit, err error) []types.Result {
	kind := types.ErrorKindBackend
	if errors.Is(err, context.DeadlineExceeded) {
		kind = types.ErrorKindTimeout
	}
	results := make([]types.Result, 0, len(units))
	for _, unit := range units {
		res := types.NewResult(unit, types.OutcomeNeedsCheck, 0, fmt.Sprintf("Autonomous execution failed: %v", err))
		res.ErrorKind = kind
		res.ErrorMessage = err.Error()
		results = append(results, res)
	}
	return results
}

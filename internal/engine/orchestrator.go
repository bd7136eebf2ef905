package engine

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"labvalidate/internal/logging"
	"labvalidate/internal/observability"
	"labvalidate/internal/types"
)

// Pool sizing for scripted execution.
const (
	DefaultMaxConcurrency = 3
	MaxPoolSize           = 64
)

// ProgressFunc is called once per completed unit with the completed fraction
// of the batch. Calls come from a single goroutine and fractions never
// decrease.
type ProgressFunc func(progress float64, result types.Result)

// UnitRunner executes one unit. *Executor implements it.
type UnitRunner interface {
	Execute(ctx context.Context, item types.TestItem, unit types.ExecutionUnit) (types.Result, error)
}

// Orchestrator fans a batch out over a bounded worker pool.
type Orchestrator struct {
	runner  UnitRunner
	metrics *observability.Metrics
	now     func() time.Time
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithOrchestratorMetrics records unit and batch metrics.
func WithOrchestratorMetrics(m *observability.Metrics) OrchestratorOption {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithOrchestratorClock replaces time.Now for batch timestamps.
func WithOrchestratorClock(now func() time.Time) OrchestratorOption {
	return func(o *Orchestrator) { o.now = now }
}

// NewOrchestrator creates an orchestrator running units through runner.
func NewOrchestrator(runner UnitRunner, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{runner: runner, now: time.Now}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// poolSize validates maxConcurrency. Zero selects the default.
func poolSize(maxConcurrency int) (int, error) {
	switch {
	case maxConcurrency == 0:
		return DefaultMaxConcurrency, nil
	case maxConcurrency < 0 || maxConcurrency > MaxPoolSize:
		return 0, fmt.Errorf("%w: worker pool size %d outside 1..%d", types.ErrScheduling, maxConcurrency, MaxPoolSize)
	default:
		return maxConcurrency, nil
	}
}

// Execute runs every unit of b and returns b with its results filled in.
//
// Results arrive in completion order. Cancelling ctx stops dispatching new
// units; units already running finish (or hit their own deadline), their
// results are kept and the batch ends CANCELLED. If the pool cannot be built
// the batch ends FAILED with one placeholder FAIL result per unit and
// onProgress is never called.
func (o *Orchestrator) Execute(ctx context.Context, b *types.Batch, maxConcurrency int, onProgress ProgressFunc) *types.Batch {
	ctx, span := observability.StartSpan(ctx, "batch.execute",
		attribute.String("batch.id", b.ID),
		attribute.String("batch.mode", string(ModeScripted)),
	)
	defer span.End()

	started := o.now()
	b.Status = types.BatchRunning
	b.StartedAt = &started
	b.CompletedAt = nil

	units := b.Units()
	b.Results = make([]types.Result, 0, len(units))
	logging.Batch("batch %s (%s): %d units, concurrency %d", b.ID, b.Name, len(units), maxConcurrency)

	if len(units) == 0 {
		o.finish(ctx, b, types.BatchCompleted)
		return b
	}

	workers, err := poolSize(maxConcurrency)
	if err != nil {
		logging.BatchWarn("batch %s: %v", b.ID, err)
		observability.RecordError(span, err)
		for _, unit := range units {
			b.Results = append(b.Results, types.FailedResult(unit, types.ErrorKindScheduling, err))
		}
		o.finish(ctx, b, types.BatchFailed)
		return b
	}
	if workers > len(units) {
		workers = len(units)
	}

	jobs := make(chan types.ExecutionUnit)
	results := make(chan types.Result)

	go func() {
		defer close(jobs)
		for _, unit := range units {
			if ctx.Err() != nil {
				return
			}
			select {
			case <-ctx.Done():
				return
			case jobs <- unit:
			}
		}
	}()

	var g errgroup.Group
	g.SetLimit(workers)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for unit := range jobs {
				results <- o.runUnit(ctx, b, unit)
			}
			return nil
		})
	}
	go func() {
		_ = g.Wait()
		close(results)
	}()

	total := len(units)
	for res := range results {
		b.Results = append(b.Results, res)
		if onProgress != nil {
			onProgress(float64(len(b.Results))/float64(total), res)
		}
	}

	status := types.BatchCompleted
	if len(b.Results) < total {
		status = types.BatchCancelled
		logging.BatchWarn("batch %s cancelled after %d/%d units: %v", b.ID, len(b.Results), total, context.Cause(ctx))
	}
	o.finish(ctx, b, status)
	return b
}

// runUnit executes one unit and converts every failure into a Result.
func (o *Orchestrator) runUnit(ctx context.Context, b *types.Batch, unit types.ExecutionUnit) (res types.Result) {
	ctx, span := observability.StartSpan(ctx, "unit.execute",
		attribute.String("unit.test_item_id", unit.TestItemID),
		attribute.String("unit.equipment_id", unit.EquipmentID),
	)
	defer span.End()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("%w: %v", errPanic, r)
			observability.RecordError(span, err)
			res = types.FailedResult(unit, types.ErrorKindInternal, err)
			res.DurationSeconds = time.Since(start).Seconds()
		}
		span.SetAttributes(attribute.String("unit.outcome", string(res.Outcome)))
		observability.RecordUnit(ctx, o.metrics, string(ModeScripted), string(res.Outcome), string(res.ErrorKind), time.Since(start))
	}()

	item, ok := b.Item(unit.TestItemID)
	if !ok {
		res = types.FailedResult(unit, types.ErrorKindInternal, fmt.Errorf("test item %s not in batch", unit.TestItemID))
		return res
	}

	res, err := o.runner.Execute(ctx, item, unit)
	if err != nil {
		logging.BatchWarn("unit %s/%s failed: %v", unit.TestItemID, unit.EquipmentID, err)
		observability.RecordError(span, err)
		res = types.FailedResult(unit, types.ErrorKindInternal, err)
		res.DurationSeconds = time.Since(start).Seconds()
	}
	return res
}

func (o *Orchestrator) finish(ctx context.Context, b *types.Batch, status types.BatchStatus) {
	done := o.now()
	b.Status = status
	b.CompletedAt = &done
	observability.RecordBatch(ctx, o.metrics, string(ModeScripted), string(status))
	logging.Batch("batch %s %s: %d results in %v", b.ID, status, len(b.Results), done.Sub(*b.StartedAt))
}

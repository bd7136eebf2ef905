package engine

import (
	"context"
	"time"

	"labvalidate/internal/logging"
	"labvalidate/internal/types"
)

// Mode names an execution strategy.
type Mode string

const (
	ModeScripted   Mode = "scripted"
	ModeAutonomous Mode = "autonomous"
)

// SelectMode picks the strategy for backend. It depends only on the
// backend's declared autonomy.
func SelectMode(backend types.ReasoningBackend) Mode {
	if backend != nil && backend.Capabilities().Autonomous {
		return ModeAutonomous
	}
	return ModeScripted
}

// Strategy executes a whole batch.
type Strategy interface {
	Mode() Mode
	Run(ctx context.Context, b *types.Batch, onProgress ProgressFunc) *types.Batch
}

// ScriptedStrategy drives every unit through the orchestrator's worker pool.
type ScriptedStrategy struct {
	orchestrator   *Orchestrator
	maxConcurrency int
}

// NewScriptedStrategy creates a scripted strategy. maxConcurrency follows
// Orchestrator.Execute.
func NewScriptedStrategy(o *Orchestrator, maxConcurrency int) *ScriptedStrategy {
	return &ScriptedStrategy{orchestrator: o, maxConcurrency: maxConcurrency}
}

func (s *ScriptedStrategy) Mode() Mode { return ModeScripted }

// Run executes b through the orchestrator.
func (s *ScriptedStrategy) Run(ctx context.Context, b *types.Batch, onProgress ProgressFunc) *types.Batch {
	return s.orchestrator.Execute(ctx, b, s.maxConcurrency, onProgress)
}

// Engine selects a strategy for its backend and runs batches with it.
type Engine struct {
	backend      types.ReasoningBackend
	scripted     Strategy
	autonomous   Strategy
	batchTimeout time.Duration
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithAutonomous registers the strategy used for autonomous backends.
func WithAutonomous(s Strategy) EngineOption {
	return func(e *Engine) { e.autonomous = s }
}

// WithBatchTimeout cancels a batch that runs longer than d. Zero disables it.
func WithBatchTimeout(d time.Duration) EngineOption {
	return func(e *Engine) { e.batchTimeout = d }
}

// NewEngine creates an engine. scripted is required; without an autonomous
// strategy every batch is scripted.
func NewEngine(backend types.ReasoningBackend, scripted Strategy, opts ...EngineOption) *Engine {
	e := &Engine{backend: backend, scripted: scripted}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Strategy returns the strategy the engine will use.
func (e *Engine) Strategy() Strategy {
	if SelectMode(e.backend) == ModeAutonomous {
		if e.autonomous != nil {
			return e.autonomous
		}
		logging.StrategyWarn("backend %s is autonomous but no autonomous strategy is configured; running scripted", e.backend.Name())
	}
	return e.scripted
}

// Run executes b with the selected strategy.
func (e *Engine) Run(ctx context.Context, b *types.Batch, onProgress ProgressFunc) *types.Batch {
	if e.batchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.batchTimeout)
		defer cancel()
	}

	s := e.Strategy()
	name := "<none>"
	if e.backend != nil {
		name = e.backend.Name()
	}
	logging.Strategy("batch %s: %s mode via %s", b.ID, s.Mode(), name)
	return s.Run(ctx, b, onProgress)
}

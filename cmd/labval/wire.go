package main

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"labvalidate/internal/backend"
	"labvalidate/internal/config"
	"labvalidate/internal/embedding"
	"labvalidate/internal/engine"
	"labvalidate/internal/knowledge"
	"labvalidate/internal/logging"
	"labvalidate/internal/observability"
	"labvalidate/internal/simulator"
	"labvalidate/internal/store"
	"labvalidate/internal/tools"
	"labvalidate/internal/types"
)

// app holds the components built from configuration. Every command builds
// only what it needs.
type app struct {
	cfg *config.Config

	telemetry *observability.Provider
	metrics   *observability.Metrics

	embedder embedding.EmbeddingEngine
	store    store.RetrievalStore
	closers  []func() error

	backend  types.ReasoningBackend
	enhancer *knowledge.Enhancer

	sim   *simulator.Simulator
	tools *tools.Registry
}

func newApp(cfg *config.Config) *app {
	return &app{cfg: cfg}
}

// initMetrics installs the OpenTelemetry SDK when metrics are enabled.
func (a *app) initMetrics(ctx context.Context) error {
	if !a.cfg.Metrics.Enabled {
		return nil
	}
	p, err := observability.Setup(ctx, a.cfg.Metrics.ServiceName, a.cfg.Version)
	if err != nil {
		return fmt.Errorf("failed to set up telemetry: %w", err)
	}
	m, err := observability.InitMetrics()
	if err != nil {
		_ = p.Shutdown(ctx)
		return fmt.Errorf("failed to create metrics: %w", err)
	}
	a.telemetry, a.metrics = p, m
	return nil
}

// initStore opens the retrieval store and its embedding engine.
func (a *app) initStore(ctx context.Context) error {
	ec := a.cfg.Embedding
	engineCfg := embedding.Config{
		Provider:       ec.Provider,
		OllamaEndpoint: ec.OllamaEndpoint,
		OllamaModel:    ec.OllamaModel,
		GenAIAPIKey:    ec.GenAIAPIKey,
		GenAIModel:     ec.GenAIModel,
		TaskType:       ec.TaskType,
		CacheSize:      ec.CacheSize,
	}
	emb, err := embedding.NewEngine(ctx, engineCfg)
	if err != nil {
		return fmt.Errorf("failed to create embedding engine: %w", err)
	}
	a.embedder = emb

	opts := []store.Option{store.WithMetrics(a.metrics)}
	switch a.cfg.Retrieval.Backend {
	case "sqlite":
		s, err := store.NewSQLiteStore(a.cfg.Retrieval.DatabasePath, emb, opts...)
		if err != nil {
			return err
		}
		a.store = s
		a.closers = append(a.closers, s.Close)
	case "memory", "":
		a.store = store.NewMemoryStore(emb, opts...)
	default:
		return fmt.Errorf("unsupported retrieval backend: %s (use memory or sqlite)", a.cfg.Retrieval.Backend)
	}
	logger.Debug("Retrieval store ready",
		zap.String("backend", a.store.Stats().Backend),
		zap.String("embedding", emb.Name()),
		zap.Int("documents", a.store.Len()))
	return nil
}

// initBackend builds the reasoning backend.
func (a *app) initBackend(ctx context.Context) error {
	b, err := backend.New(ctx, a.cfg)
	if err != nil {
		return err
	}
	caps := b.Capabilities()
	logging.Boot("reasoning backend %s (autonomous=%t, streaming=%t)", b.Name(), caps.Autonomous, caps.Streaming)
	a.backend = b
	return nil
}

// initKnowledge builds the enhancer over the store. The backend, when
// present, condenses review feedback.
func (a *app) initKnowledge() {
	opts := []knowledge.Option{
		knowledge.WithTopK(a.cfg.Retrieval.TopK),
		knowledge.WithMetrics(a.metrics),
	}
	if a.backend != nil {
		opts = append(opts, knowledge.WithExtractor(a.backend))
	}
	a.enhancer = knowledge.NewEnhancer(a.store, opts...)
}

// initSimulator builds the equipment simulator and its tool surface.
func (a *app) initSimulator() error {
	lo, hi := a.cfg.GetSimulatorLatency()
	a.sim = simulator.New(simulator.Config{
		SuccessRate: a.cfg.Simulator.SuccessRate,
		Seed:        a.cfg.Simulator.Seed,
		MinLatency:  lo,
		MaxLatency:  hi,
	})
	a.tools = tools.NewRegistry()
	return simulator.RegisterTools(a.tools, a.sim, a.cfg.Execution.Command)
}

// engine assembles the strategies for a batch run. The autonomous strategy is
// only chosen when the backend declares it.
func (a *app) engine(maxConcurrency int, sink engine.TokenSink) *engine.Engine {
	execOpts := []engine.ExecutorOption{
		engine.WithCommand(a.cfg.Execution.Command),
		engine.WithUnitTimeout(a.cfg.GetUnitTimeout()),
		engine.WithAugmenter(a.enhancer),
	}
	if sink != nil {
		execOpts = append(execOpts, engine.WithTokenSink(sink))
	}
	exec := engine.NewExecutor(a.sim, a.backend, execOpts...)
	orch := engine.NewOrchestrator(exec, engine.WithOrchestratorMetrics(a.metrics))

	auto := engine.NewAutonomousStrategy(a.backend, a.tools,
		engine.WithDelegateTimeout(a.cfg.GetAutonomousTimeout()),
		engine.WithAutonomousCommand(a.cfg.Execution.Command),
		engine.WithAutonomousMetrics(a.metrics),
	)
	return engine.NewEngine(a.backend, engine.NewScriptedStrategy(orch, maxConcurrency),
		engine.WithAutonomous(auto),
		engine.WithBatchTimeout(a.cfg.GetBatchTimeout()),
	)
}

// reportMetrics logs the collected metric totals.
func (a *app) reportMetrics(ctx context.Context) {
	if a.telemetry == nil {
		return
	}
	rm, err := a.telemetry.Collect(ctx)
	if err != nil {
		logger.Warn("Failed to collect metrics", zap.Error(err))
		return
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			logger.Info("Metric", zap.String("name", m.Name), zap.Any("data", m.Data))
		}
	}
}

func (a *app) Close(ctx context.Context) error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c())
	}
	if a.telemetry != nil {
		a.reportMetrics(ctx)
		errs = append(errs, a.telemetry.Shutdown(ctx))
	}
	return errors.Join(errs...)
}

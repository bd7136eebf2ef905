package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"labvalidate/internal/engine"
	"labvalidate/internal/types"
)

var (
	runConcurrency int
	runJSON        bool
	runScripted    bool
)

// runCmd executes a batch file
var runCmd = &cobra.Command{
	Use:   "run <batch.yaml>",
	Short: "Execute a validation batch",
	Long: `Execute every test item of a batch file on each of its target equipment.

The batch file lists test items:

  name: nightly
  items:
    - id: TC-001
      test_block: Cell Setup
      category: cell
      condition_text: cell count must match expected_count
      expected_count: 3
      targets: [Ericsson-MMU, Samsung-AUv1]

Interrupting the run cancels the batch; results collected so far are kept.`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

func init() {
	runCmd.Flags().IntVarP(&runConcurrency, "concurrency", "n", 0, "Worker pool size in scripted mode (default from config)")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "Print the batch and its summary as JSON")
	runCmd.Flags().BoolVar(&runScripted, "scripted", false, "Judge unit by unit even if the backend can run the batch autonomously")
}

// batchReport is the JSON output of a run.
type batchReport struct {
	Batch   *types.Batch       `json:"batch"`
	Summary types.BatchSummary `json:"summary"`
}

func runBatch(cmd *cobra.Command, args []string) error {
	b, err := loadBatch(args[0])
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if runScripted {
		cfg.LLM.ForceScripted = true
	}
	concurrency := cfg.Execution.MaxConcurrency
	if cmd.Flags().Changed("concurrency") {
		concurrency = runConcurrency
	}

	a := newApp(cfg)
	defer func() {
		if err := a.Close(context.Background()); err != nil {
			logger.Warn("Shutdown incomplete", zap.Error(err))
		}
	}()
	if err := a.initMetrics(ctx); err != nil {
		return err
	}
	if err := a.initBackend(ctx); err != nil {
		return err
	}
	if err := a.initStore(ctx); err != nil {
		return err
	}
	a.initKnowledge()
	if err := a.initSimulator(); err != nil {
		return err
	}

	stderr := cmd.ErrOrStderr()
	var sink engine.TokenSink
	if cfg.LLM.Streaming && concurrency == 1 {
		sink = func(_ types.ExecutionUnit, token string) {
			fmt.Fprint(stderr, token)
		}
	}
	eng := a.engine(concurrency, sink)

	units := len(b.Units())
	logger.Info("Starting batch",
		zap.String("batch", b.ID),
		zap.String("name", b.Name),
		zap.Int("units", units),
		zap.String("mode", string(eng.Strategy().Mode())))
	if !runJSON {
		fmt.Fprintf(stderr, "Running %s: %d units on %s (%s mode)\n", b.Name, units, a.backend.Name(), eng.Strategy().Mode())
	}

	b = eng.Run(ctx, b, progressPrinter(stderr, runJSON || sink != nil))
	summary := engine.Summarize(b)

	logger.Info("Batch finished",
		zap.String("batch", b.ID),
		zap.String("status", string(b.Status)),
		zap.Int("results", len(b.Results)),
		zap.Float64("success_rate", summary.SuccessRate))

	out := cmd.OutOrStdout()
	if runJSON {
		return writeReport(out, b, summary)
	}
	fmt.Fprintln(out)
	fmt.Fprint(out, renderResults(b))
	fmt.Fprintln(out)
	fmt.Fprint(out, renderSummary(summary))

	if b.Status == types.BatchFailed {
		return fmt.Errorf("batch %s failed", b.Name)
	}
	return nil
}

// progressPrinter reports each collected result. quiet suppresses output.
func progressPrinter(w io.Writer, quiet bool) engine.ProgressFunc {
	if quiet {
		return nil
	}
	return func(progress float64, r types.Result) {
		fmt.Fprintf(w, "[%5.1f%%] %-12s %-16s %s\n",
			progress*100, r.TestItemID, r.EquipmentID, outcomeStyle(r.Outcome).Render(string(r.Outcome)))
	}
}

func writeReport(w io.Writer, b *types.Batch, s types.BatchSummary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(batchReport{Batch: b, Summary: s})
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

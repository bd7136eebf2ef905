package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"labvalidate/internal/config"
	"labvalidate/internal/logging"
)

var (
	// Global flags
	configPath string
	verbose    bool
	metrics    bool

	// Loaded in PersistentPreRunE
	cfg    *config.Config
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "labval",
	Short: "labval - batch validation of lab equipment with retrieval-augmented judgment",
	Long: `labval runs validation batches against lab equipment.

Each test item is executed on every target equipment. In scripted mode the
equipment output is judged unit by unit by the configured reasoning backend,
with prior engineer feedback retrieved from the knowledge store. Backends that
can use tools (Anthropic) run the whole batch autonomously instead.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if verbose {
			cfg.Logging.Level = "debug"
		}
		if metrics {
			cfg.Metrics.Enabled = true
		}

		if err := logging.Initialize(cfg.Logging.ToLogging()); err != nil {
			return fmt.Errorf("failed to initialize logging: %w", err)
		}
		logging.BootDebug("config %s: llm=%s retrieval=%s", configPath, cfg.LLM.Provider, cfg.Retrieval.Backend)
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		if cfg.Logging.File != "" {
			zcfg.OutputPaths = []string{cfg.Logging.File}
		}
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		logger.Debug("Configuration loaded",
			zap.String("path", configPath),
			zap.String("llm_provider", cfg.LLM.Provider),
			zap.String("retrieval_backend", cfg.Retrieval.Backend))
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "labval.yaml", "Configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().BoolVar(&metrics, "metrics", false, "Collect OpenTelemetry metrics and print totals on exit")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(feedbackCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(reembedCmd)
	rootCmd.AddCommand(providersCmd)
	rootCmd.AddCommand(equipmentCmd)
	rootCmd.AddCommand(initCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"labvalidate/internal/store"
)

var (
	searchK      int
	feedbackNoAI bool
)

// feedbackCmd records finalized engineer reviews as knowledge
var feedbackCmd = &cobra.Command{
	Use:   "feedback <review.yaml>",
	Short: "Record engineer review feedback in the knowledge store",
	Long: `Record finalized reviews in the knowledge store.

Only reviews resolved as REVALIDATION_REQUESTED produce knowledge. Each
non-empty validation_feedback or item_feedback becomes one document that
later judgments of similar items retrieve.

  reviews:
    - id: rv-1
      test_item_id: TC-001
      test_block: Cell Setup
      equipment_id: Ericsson-MMU
      resolution: REVALIDATION_REQUESTED
      validation_feedback: compare cell_count with expected_count`,
	Args: cobra.ExactArgs(1),
	RunE: runFeedback,
}

// searchCmd queries the knowledge store
var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the knowledge store",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSearch,
}

// reembedCmd regenerates stored embeddings
var reembedCmd = &cobra.Command{
	Use:   "reembed",
	Short: "Regenerate embeddings of the SQLite knowledge store",
	Long: `Regenerate the embedding of every stored document with the configured
embedding engine. Run this after switching embedding models.`,
	Args: cobra.NoArgs,
	RunE: runReembed,
}

func init() {
	feedbackCmd.Flags().BoolVar(&feedbackNoAI, "no-extract", false, "Skip backend extraction of problem and solution")
	searchCmd.Flags().IntVarP(&searchK, "k", "k", 5, "Number of matches")
}

func runFeedback(cmd *cobra.Command, args []string) error {
	reviews, err := loadReviews(args[0])
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(commandContext(cmd), 5*time.Minute)
	defer cancel()

	a := newApp(cfg)
	defer a.Close(context.Background())
	if err := a.initMetrics(ctx); err != nil {
		return err
	}
	if err := a.initStore(ctx); err != nil {
		return err
	}
	if !feedbackNoAI {
		if err := a.initBackend(ctx); err != nil {
			logger.Warn("No backend for feedback extraction, using fallback split", zap.Error(err))
		}
	}
	a.initKnowledge()

	out := cmd.OutOrStdout()
	var (
		total int
		errs  []error
	)
	for _, r := range reviews {
		n, err := a.enhancer.RecordFeedback(ctx, r)
		if err != nil {
			errs = append(errs, err)
		}
		total += n
		fmt.Fprintf(out, "%-10s %-12s %-24s %d stored\n", r.ID, r.TestItemID, r.Resolution, n)
	}
	fmt.Fprintf(out, "Stored %d knowledge entries from %d reviews (%d documents total)\n", total, len(reviews), a.store.Len())
	return errors.Join(errs...)
}

func runSearch(cmd *cobra.Command, args []string) error {
	query := strings.Join(args, " ")

	ctx, cancel := context.WithTimeout(commandContext(cmd), 60*time.Second)
	defer cancel()

	a := newApp(cfg)
	defer a.Close(context.Background())
	if err := a.initStore(ctx); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	matches := a.store.Search(ctx, query, searchK)
	if len(matches) == 0 {
		fmt.Fprintln(out, "No knowledge entries found.")
		return nil
	}

	t := &table{
		title:   fmt.Sprintf("Knowledge matching %q", query),
		headers: []string{"#", "Score", "Source", "Category", "Content"},
	}
	for i, m := range matches {
		score := fmt.Sprintf("%.3f", m.Score)
		if m.Source == store.SourceLexical {
			score = "-"
		}
		t.addRow(fmt.Sprint(i+1), score, string(m.Source), m.Document.Metadata["category"], truncate(m.Document.Content, 70))
	}
	fmt.Fprint(out, t.String())
	return nil
}

func runReembed(cmd *cobra.Command, args []string) error {
	if cfg.Retrieval.Backend != "sqlite" {
		return fmt.Errorf("reembed needs the sqlite retrieval backend (configured: %s)", cfg.Retrieval.Backend)
	}

	ctx, cancel := context.WithTimeout(commandContext(cmd), 30*time.Minute)
	defer cancel()

	a := newApp(cfg)
	defer a.Close(context.Background())
	if err := a.initStore(ctx); err != nil {
		return err
	}
	s, ok := a.store.(*store.SQLiteStore)
	if !ok {
		return fmt.Errorf("retrieval store %s cannot be re-embedded", a.store.Stats().Backend)
	}

	start := time.Now()
	n, err := s.Reembed(ctx)
	if err != nil {
		return err
	}
	st := s.Stats()
	fmt.Fprintf(cmd.OutOrStdout(), "Re-embedded %d/%d documents with %s in %s\n",
		n, st.TotalDocuments, st.EmbeddingEngine, time.Since(start).Round(time.Millisecond))
	return nil
}

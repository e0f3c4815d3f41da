package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/adaptive-authz/internal/logging"
	"github.com/danielpatrickdp/adaptive-authz/internal/replay"
	"github.com/danielpatrickdp/adaptive-authz/internal/risk"
	"github.com/danielpatrickdp/adaptive-authz/internal/tracestore"
)

// errReplayDrift makes the process exit non-zero when any case drifts.
var errReplayDrift = errors.New("replay drift detected")

// #region replay

func newReplayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay a fixture through the layered evaluator",
		Long: `Replay evaluates every case of a JSON fixture with the configured rule
bases and the fixture's thresholds, prints one line per case and exits
non-zero if any case does not reproduce its expected label.`,
		RunE: runReplay,
	}
	cmd.Flags().String("fixture", "", "fixture JSON path")
	_ = cmd.MarkFlagRequired("fixture")

	export := &cobra.Command{
		Use:   "export",
		Short: "Write a fixture from the most recent logged decisions",
		RunE:  runReplayExport,
	}
	export.Flags().String("db", "", "SQLite database holding the decision log (default: $AUTHZ_DB or config)")
	export.Flags().String("out", "", "output fixture JSON path")
	export.Flags().Int("last", 20, "number of most recent decisions to export")
	_ = export.MarkFlagRequired("out")
	cmd.AddCommand(export)

	return cmd
}

func runReplay(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	path, _ := cmd.Flags().GetString("fixture")
	fix, err := replay.LoadFixture(path)
	if err != nil {
		return err
	}

	evaluator, err := risk.NewLayeredEvaluatorFromRuleBases(
		cfg.AuthorizationRuleBase(), cfg.AnomalyRuleBase(), fix.Thresholds.ToThresholds())
	if err != nil {
		return fmt.Errorf("build evaluator: %w", err)
	}

	results := replay.Replay(evaluator, fix.ToCases())
	fmt.Printf("Fixture: %s (%d cases)\n", fix.Description, len(results))
	for _, r := range results {
		switch {
		case r.Err != nil:
			fmt.Printf("  ERROR  %-28s  %v\n", r.CaseID, r.Err)
		case r.Match:
			fmt.Printf("  PASS   %-28s  %-6s  combined=%.2f\n", r.CaseID, r.Decision.Label, r.Decision.Combined)
		default:
			fmt.Printf("  FAIL   %-28s  expected=%s got=%s combined=%.2f\n",
				r.CaseID, r.Expected, r.Decision.Label, r.Decision.Combined)
		}
	}

	sum := replay.Summarize(results)
	fmt.Printf("\n%d/%d matched, %d mismatched, %d errors\n", sum.Matches, sum.Total, sum.Mismatches, sum.Errors)
	logger.Info("replay finished", "fixture", path, "total", sum.Total,
		"mismatches", sum.Mismatches, "errors", sum.Errors)
	if !sum.OK() {
		return errReplayDrift
	}
	return nil
}

// #endregion replay

// #region export

func runReplayExport(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	outPath, _ := cmd.Flags().GetString("out")
	last, _ := cmd.Flags().GetInt("last")
	if last <= 0 {
		return fmt.Errorf("--last %d must be positive", last)
	}

	store, err := tracestore.NewStore(cfg.Storage.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := logging.EnsureSchema(store.DB()); err != nil {
		return err
	}
	recs, err := logging.RecentRecords(store.DB(), last)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		return fmt.Errorf("no decisions logged in %s", cfg.Storage.DBPath)
	}

	desc := fmt.Sprintf("last %d decisions from %s", len(recs), cfg.Storage.DBPath)
	if err := replay.WriteFixture(replay.FixtureFromRecords(desc, recs), outPath); err != nil {
		return err
	}
	logger.Info("fixture exported", "cases", len(recs), "out", outPath)
	fmt.Fprintf(os.Stderr, "wrote %d cases to %s\n", len(recs), outPath)
	return nil
}

// #endregion export

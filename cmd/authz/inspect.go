package main

import (
	"database/sql"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/adaptive-authz/internal/simenv"
	"github.com/danielpatrickdp/adaptive-authz/internal/tracestore"
	"github.com/danielpatrickdp/adaptive-authz/internal/training"
)

// #region inspect

func newInspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "List persisted training traces, or one trace's episodes",
		RunE:  runInspect,
	}
	cmd.Flags().String("db", "", "SQLite database (default: $AUTHZ_DB or config)")
	cmd.Flags().Int("last", 20, "show N most recent traces")
	cmd.Flags().String("trace", "", "show the episodes of one trace")
	cmd.Flags().Bool("json", false, "output as JSON instead of table")
	return cmd
}

func runInspect(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	last, _ := cmd.Flags().GetInt("last")
	traceID, _ := cmd.Flags().GetString("trace")
	jsonOut, _ := cmd.Flags().GetBool("json")

	store, err := tracestore.NewStore(cfg.Storage.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	if traceID != "" {
		return runTraceDetail(store, traceID, jsonOut)
	}
	return runTraceList(store, last, jsonOut)
}

func runTraceList(store *tracestore.Store, last int, jsonOut bool) error {
	traces, err := store.ListTraces(last)
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(traces)
	}
	if len(traces) == 0 {
		fmt.Fprintln(os.Stderr, "no traces found")
		return nil
	}

	fmt.Printf("%-10s  %8s  %8s  %12s  %s\n", "Trace", "Episodes", "Steps", "Reward", "Started")
	fmt.Printf("%-10s+-%8s+-%8s+-%12s+-%s\n", "----------", "--------", "--------", "------------", "--------------------")
	for _, t := range traces {
		fmt.Printf("%-10s  %8d  %8d  %12.3f  %s\n",
			shortID(t.TraceID), t.Episodes, t.Steps, t.TotalReward, t.StartedAt.Format("2006-01-02T15:04:05Z"))
	}

	active, err := store.ActivePolicy()
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return err
	default:
		fmt.Printf("\nActive policy: %s (trace %s, %dx%d)\n",
			shortID(active.VersionID), shortID(active.TraceID), active.States, active.Actions)
	}
	return nil
}

type traceDetail struct {
	TraceID  string                    `json:"trace_id"`
	Episodes []training.EpisodeSummary `json:"episodes"`
}

func runTraceDetail(store *tracestore.Store, traceID string, jsonOut bool) error {
	eps, err := store.GetEpisodes(traceID)
	if err != nil {
		return err
	}
	if len(eps) == 0 {
		return fmt.Errorf("trace %s not found", traceID)
	}
	if jsonOut {
		return printJSON(traceDetail{TraceID: traceID, Episodes: eps})
	}

	fmt.Printf("Trace: %s\n\n", traceID)
	fmt.Printf("%7s  %6s  %10s  %-9s  %s\n", "Episode", "Steps", "Reward", "Completed", "Epsilon")
	for _, ep := range eps {
		fmt.Printf("%7d  %6d  %10.3f  %-9t  %.4f\n", ep.Episode, ep.Steps, ep.TotalReward, ep.Completed, ep.Exploration)
	}
	return nil
}

// #endregion inspect

// #region policy

func newPolicyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Persisted Q-table versions",
	}
	cmd.PersistentFlags().String("db", "", "SQLite database (default: $AUTHZ_DB or config)")

	show := &cobra.Command{
		Use:   "show [version]",
		Short: "Print a Q-table version (default: the active one)",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runPolicyShow,
	}
	show.Flags().Bool("json", false, "output as JSON instead of table")
	cmd.AddCommand(show)

	cmd.AddCommand(&cobra.Command{
		Use:   "rollback <version>",
		Short: "Make an earlier Q-table version active",
		Args:  cobra.ExactArgs(1),
		RunE:  runPolicyRollback,
	})
	return cmd
}

func runPolicyShow(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	jsonOut, _ := cmd.Flags().GetBool("json")

	store, err := tracestore.NewStore(cfg.Storage.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	var rec tracestore.PolicyRecord
	if len(args) == 1 {
		rec, err = store.GetPolicy(args[0])
	} else {
		rec, err = store.ActivePolicy()
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("no policy found in %s", cfg.Storage.DBPath)
	}
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(rec)
	}

	fmt.Printf("Version: %s\n", rec.VersionID)
	if rec.ParentID != "" {
		fmt.Printf("Parent:  %s\n", rec.ParentID)
	}
	if rec.TraceID != "" {
		fmt.Printf("Trace:   %s\n", rec.TraceID)
	}
	fmt.Printf("Created: %s\n\n", rec.CreatedAt.Format("2006-01-02T15:04:05Z"))

	fmt.Printf("%5s", "State")
	for a := 0; a < rec.Actions; a++ {
		fmt.Printf("  %10s", simenv.ActionName(a))
	}
	fmt.Println()
	for s, row := range rec.Values {
		fmt.Printf("%5d", s)
		for _, v := range row {
			fmt.Printf("  %10.4f", v)
		}
		fmt.Println()
	}
	return nil
}

func runPolicyRollback(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	store, err := tracestore.NewStore(cfg.Storage.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Rollback(args[0]); err != nil {
		return err
	}
	logger.Info("policy rolled back", "version", args[0])
	return nil
}

// #endregion policy

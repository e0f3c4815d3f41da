package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/adaptive-authz/internal/config"
	"github.com/danielpatrickdp/adaptive-authz/internal/logging"
	"github.com/danielpatrickdp/adaptive-authz/internal/metrics"
	"github.com/danielpatrickdp/adaptive-authz/internal/risk"
	"github.com/danielpatrickdp/adaptive-authz/internal/signals"
	"github.com/danielpatrickdp/adaptive-authz/internal/tracestore"
)

// decisionOutput is what decide and observe print.
type decisionOutput struct {
	ID       string             `json:"id,omitempty"`
	Context  risk.AccessContext `json:"context"`
	Decision risk.Decision      `json:"decision"`
}

// #region decide

func newDecideCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decide",
		Short: "Score one access attempt and print the layered decision",
		RunE:  runDecide,
	}
	cmd.Flags().Float64("activity", 0, "recent activity level (0-100)")
	cmd.Flags().Float64("hour", 12, "hour of the attempt (0-24)")
	cmd.Flags().Float64("location", 0, "location score, 0 = trusted site, 100 = unknown")
	cmd.Flags().Float64("failed", 0, "recent failed attempts (0-10)")
	cmd.Flags().Float64("load", 0, "host resource load (0-100)")
	addDecisionFlags(cmd)
	return cmd
}

func runDecide(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx := risk.AccessContext{}
	ctx.Activity, _ = cmd.Flags().GetFloat64("activity")
	ctx.TimeOfDay, _ = cmd.Flags().GetFloat64("hour")
	ctx.Location, _ = cmd.Flags().GetFloat64("location")
	ctx.FailedAttempts, _ = cmd.Flags().GetFloat64("failed")
	ctx.ResourceLoad, _ = cmd.Flags().GetFloat64("load")

	return decideAndRecord(cmd, cfg, logger, "decide", ctx)
}

// #endregion decide

// #region observe

func newObserveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "observe",
		Short: "Build the access context from raw telemetry, then decide",
		RunE:  runObserve,
	}
	cmd.Flags().Int("events", 0, "access events in the recent window")
	cmd.Flags().Int("failed", 0, "failed attempts in the recent window")
	cmd.Flags().String("site", "", "site identifier reported by the reader")
	cmd.Flags().String("at", "", "attempt time, RFC 3339 (default: now)")
	cmd.Flags().String("tz", "", "IANA zone for the hour of day (default: UTC)")
	cmd.Flags().StringSlice("trusted", nil, "sites scored as trusted")
	cmd.Flags().StringSlice("familiar", nil, "sites scored as familiar")
	cmd.Flags().Int("saturation", signals.DefaultProducerConfig().ActivitySaturation, "events that map to activity 100")
	cmd.Flags().Float64("cpu", 0, "CPU percent when host sampling is off")
	cmd.Flags().Float64("mem", 0, "memory percent when host sampling is off")
	cmd.Flags().Bool("host-load", false, "sample CPU and memory from procfs")
	cmd.Flags().String("procfs", "", "procfs mount point (default: /proc)")
	addDecisionFlags(cmd)
	return cmd
}

func runObserve(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	pc := signals.DefaultProducerConfig()
	pc.TrustedSites, _ = cmd.Flags().GetStringSlice("trusted")
	pc.FamiliarSites, _ = cmd.Flags().GetStringSlice("familiar")
	pc.ActivitySaturation, _ = cmd.Flags().GetInt("saturation")
	if tz, _ := cmd.Flags().GetString("tz"); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return fmt.Errorf("load timezone: %w", err)
		}
		pc.Timezone = loc
	}

	var sampler signals.LoadSampler
	if hostLoad, _ := cmd.Flags().GetBool("host-load"); hostLoad {
		mount, _ := cmd.Flags().GetString("procfs")
		ps, err := signals.NewProcSampler(mount)
		if err != nil {
			return err
		}
		sampler = ps
	}

	obs := signals.Observation{At: time.Now()}
	if at, _ := cmd.Flags().GetString("at"); at != "" {
		if obs.At, err = time.Parse(time.RFC3339, at); err != nil {
			return fmt.Errorf("parse --at: %w", err)
		}
	}
	obs.RecentEvents, _ = cmd.Flags().GetInt("events")
	obs.FailedAttempts, _ = cmd.Flags().GetInt("failed")
	obs.Site, _ = cmd.Flags().GetString("site")
	obs.CPUPercent, _ = cmd.Flags().GetFloat64("cpu")
	obs.MemPercent, _ = cmd.Flags().GetFloat64("mem")

	ctx := signals.NewProducer(sampler, pc).Produce(cmd.Context(), obs)
	logger.Debug("context produced", "site", obs.Site, "activity", ctx.Activity,
		"time_of_day", ctx.TimeOfDay, "location", ctx.Location, "resource_load", ctx.ResourceLoad)

	return decideAndRecord(cmd, cfg, logger, "observe", ctx)
}

// #endregion observe

// #region record

func addDecisionFlags(cmd *cobra.Command) {
	cmd.Flags().String("db", "", "SQLite database for the decision log (default: $AUTHZ_DB or config)")
	cmd.Flags().Bool("no-log", false, "do not write the decision log")
	cmd.Flags().String("source", "", "source tag stored with the decision")
	cmd.Flags().String("push-url", "", "Pushgateway URL for decision metrics (default: $AUTHZ_METRICS_PUSH or config)")
}

// decideAndRecord evaluates ctx, prints the decision and writes it to the
// decision log unless --no-log is set. With a push URL configured the
// decision counters go to the Pushgateway as well.
func decideAndRecord(cmd *cobra.Command, cfg config.Config, logger *slog.Logger, source string, ctx risk.AccessContext) error {
	evaluator, err := cfg.LayeredEvaluator()
	if err != nil {
		return fmt.Errorf("build evaluator: %w", err)
	}
	d, err := evaluator.Evaluate(ctx)
	if err != nil {
		return fmt.Errorf("evaluate: %w", err)
	}
	if s, _ := cmd.Flags().GetString("source"); s != "" {
		source = s
	}

	out := decisionOutput{Context: ctx, Decision: d}
	if noLog, _ := cmd.Flags().GetBool("no-log"); !noLog {
		id, err := recordDecision(cfg.Storage.DBPath, source, ctx, evaluator.Thresholds(), d)
		if err != nil {
			return err
		}
		out.ID = id
	}

	logger.Info("decision", "label", d.Label, "allow", d.Allow, "combined", d.Combined, "id", out.ID)
	pushDecision(cmd, cfg, logger, source, d)
	return printJSON(out)
}

// pushDecision is best effort: an unreachable gateway never fails the
// decision.
func pushDecision(cmd *cobra.Command, cfg config.Config, logger *slog.Logger, source string, d risk.Decision) {
	url := cfg.Metrics.PushURL
	if f := cmd.Flags().Lookup("push-url"); f != nil && f.Changed {
		url = f.Value.String()
	}
	if url == "" {
		return
	}

	collector, err := metrics.New()
	if err != nil {
		logger.Warn("metrics collector", "error", err)
		return
	}
	collector.ObserveDecision(d)
	if err := collector.Push(cmd.Context(), url, "authz_decide", map[string]string{"source": source}); err != nil {
		logger.Warn("metrics push failed", "url", url, "error", err)
	}
}

func recordDecision(dbPath, source string, ctx risk.AccessContext, th risk.Thresholds, d risk.Decision) (string, error) {
	store, err := tracestore.NewStore(dbPath)
	if err != nil {
		return "", err
	}
	defer store.Close()

	if err := logging.EnsureSchema(store.DB()); err != nil {
		return "", err
	}
	entry, err := logging.NewEntry(source, ctx, th, d)
	if err != nil {
		return "", err
	}
	return logging.LogDecision(store.DB(), entry)
}

// #endregion record

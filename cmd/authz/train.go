package main

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/adaptive-authz/internal/fuzzy"
	"github.com/danielpatrickdp/adaptive-authz/internal/hybrid"
	"github.com/danielpatrickdp/adaptive-authz/internal/metrics"
	"github.com/danielpatrickdp/adaptive-authz/internal/qlearn"
	"github.com/danielpatrickdp/adaptive-authz/internal/simenv"
	"github.com/danielpatrickdp/adaptive-authz/internal/tracestore"
	"github.com/danielpatrickdp/adaptive-authz/internal/training"
)

type trainOutput struct {
	TraceID       string               `json:"trace_id"`
	PolicyVersion string               `json:"policy_version"`
	ParentVersion string               `json:"parent_version,omitempty"`
	Episodes      int                  `json:"episodes"`
	Steps         int                  `json:"steps"`
	TotalReward   float64              `json:"total_reward"`
	Exploration   float64              `json:"exploration"`
	Elapsed       string               `json:"elapsed"`
	Eval          *training.EvalResult `json:"eval,omitempty"`
}

// #region command

func newTrainCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train a hybrid Q-learning policy on the access simulator",
		Long: `Train runs epsilon-greedy Q-learning against the simulated access
environment, records a fuzzy risk sample per step, persists the trace and
the resulting Q-table as a new active policy version, then reports greedy
evaluation of the trained policy.`,
		RunE: runTrain,
	}
	cmd.Flags().Int("episodes", 0, "training episodes (default: config)")
	cmd.Flags().Int("max-steps", 0, "step budget per episode (default: config)")
	cmd.Flags().Int("eval", -1, "greedy evaluation episodes, 0 disables (default: config)")
	cmd.Flags().String("db", "", "SQLite database for traces and policies (default: $AUTHZ_DB or config)")
	cmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address while training")
	cmd.Flags().Bool("resume", false, "start from the active persisted Q-table")
	return cmd
}

func runTrain(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if v, _ := cmd.Flags().GetInt("episodes"); v > 0 {
		cfg.Training.Episodes = v
	}
	if v, _ := cmd.Flags().GetInt("max-steps"); v > 0 {
		cfg.Training.MaxStepsPerEpisode = v
	}
	if v, _ := cmd.Flags().GetInt("eval"); v >= 0 {
		cfg.Training.EvalEpisodes = v
	}
	if v, _ := cmd.Flags().GetString("metrics-addr"); v != "" {
		cfg.Metrics.Addr = v
	}

	evaluator, err := cfg.LayeredEvaluator()
	if err != nil {
		return fmt.Errorf("build evaluator: %w", err)
	}
	simCfg := cfg.ToSimConfig()
	env, err := simenv.New(evaluator, simCfg)
	if err != nil {
		return err
	}

	q, err := qlearn.NewPolicy(cfg.ToQLearnConfig(simenv.NumActions))
	if err != nil {
		return err
	}
	riskEval, err := fuzzy.NewEvaluator(cfg.HybridRuleBase())
	if err != nil {
		return fmt.Errorf("hybrid evaluator: %w", err)
	}
	policy, err := hybrid.New(q, riskEval)
	if err != nil {
		return err
	}

	store, err := tracestore.NewStore(cfg.Storage.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	if resume, _ := cmd.Flags().GetBool("resume"); resume {
		if err := restoreActive(store, q); err != nil {
			return err
		}
	}

	collector, err := metrics.New()
	if err != nil {
		return err
	}
	if cfg.Metrics.Addr != "" {
		srv := collector.Serve(cfg.Metrics.Addr, logger)
		defer srv.Close()
	}

	probe := hybrid.NewProbe(policy, hybrid.NewUniformSampler(policy, cfg.QLearning.Seed+1))
	trainer, err := training.NewTrainer(policy, env, cfg.ToTrainingConfig(),
		training.WithRiskProbe(probe),
		training.WithSinks(collector),
		training.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	start := time.Now()
	trace, runErr := trainer.Run(cmd.Context())
	if trace != nil && len(trace.Steps) > 0 {
		if err := store.SaveTrace(trace); err != nil {
			return errors.Join(runErr, err)
		}
		logger.Info("trace saved", "trace_id", trace.ID, "steps", len(trace.Steps))
	}
	if runErr != nil {
		return runErr
	}

	rec, err := store.SavePolicy(trace.ID, q.Snapshot())
	if err != nil {
		return err
	}

	out := trainOutput{
		TraceID:       trace.ID,
		PolicyVersion: rec.VersionID,
		ParentVersion: rec.ParentID,
		Episodes:      len(trace.Episodes),
		Steps:         len(trace.Steps),
		Exploration:   q.Exploration(),
		Elapsed:       time.Since(start).Round(time.Millisecond).String(),
	}
	for _, ep := range trace.Episodes {
		out.TotalReward += ep.TotalReward
	}

	if cfg.Training.EvalEpisodes > 0 {
		// A separately seeded simulator keeps evaluation draws out of the
		// training stream.
		evalCfg := simCfg
		evalCfg.Seed = simCfg.Seed + 1
		evalEnv, err := simenv.New(evaluator, evalCfg)
		if err != nil {
			return err
		}
		tc := cfg.ToTrainingConfig()
		tc.Episodes = cfg.Training.EvalEpisodes
		res, err := training.Evaluate(cmd.Context(), policy, evalEnv, tc)
		if err != nil {
			return fmt.Errorf("evaluate policy: %w", err)
		}
		out.Eval = &res
	}

	return printJSON(out)
}

// #endregion command

// #region resume

// restoreActive loads the active policy version into q. An empty store is
// not an error; training starts from zeros.
func restoreActive(store *tracestore.Store, q *qlearn.Policy) error {
	rec, err := store.ActivePolicy()
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := q.Restore(rec.Values); err != nil {
		return fmt.Errorf("resume from %s: %w", shortID(rec.VersionID), err)
	}
	return nil
}

// #endregion resume

// Package config loads application settings from a YAML file, a .env file and
// AUTHZ_* environment variables, in increasing order of precedence.
//
// Environment Variables:
//
//	AUTHZ_CONFIG       - YAML config path
//	AUTHZ_DB           - SQLite database path (default: authz.db)
//	AUTHZ_METRICS_ADDR - Prometheus listen address, empty disables
//	AUTHZ_METRICS_PUSH - Pushgateway URL for one-shot commands
//	AUTHZ_EPISODES     - Training episodes
//	AUTHZ_MAX_STEPS    - Step budget per episode
//	AUTHZ_SEED         - Seed for both the policy and the simulator
//	AUTHZ_LOG_FORMAT   - "text" or "json"
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/danielpatrickdp/adaptive-authz/internal/fuzzy"
	"github.com/danielpatrickdp/adaptive-authz/internal/qlearn"
	"github.com/danielpatrickdp/adaptive-authz/internal/risk"
	"github.com/danielpatrickdp/adaptive-authz/internal/simenv"
	"github.com/danielpatrickdp/adaptive-authz/internal/training"
)

// ErrInvalid reports a configuration that cannot be loaded or used.
var ErrInvalid = errors.New("invalid configuration")

// #region defaults
// Default mirrors each package's Default* configuration.
func Default() Config {
	th := risk.DefaultThresholds()
	q := qlearn.DefaultConfig()
	tr := training.DefaultConfig()
	sim := simenv.DefaultConfig()

	return Config{
		LogFormat: "text",
		Thresholds: ThresholdsConfig{
			LowMedium:  th.LowMedium,
			MediumHigh: th.MediumHigh,
		},
		QLearning: QLearningConfig{
			States:           sim.States,
			LearningRate:     q.LearningRate,
			Discount:         q.Discount,
			Exploration:      q.Exploration,
			ExplorationDecay: q.ExplorationDecay,
			MinExploration:   q.MinExploration,
			Seed:             q.Seed,
		},
		Training: TrainingConfig{
			Episodes:           tr.Episodes,
			InitialState:       tr.InitialState,
			MaxStepsPerEpisode: tr.MaxStepsPerEpisode,
			EvalEpisodes:       20,
		},
		Simulator: SimulatorConfig{
			AttackRate:         sim.AttackRate,
			AttemptsPerEpisode: sim.AttemptsPerEpisode,
			Seed:               sim.Seed,
			Rewards: RewardsConfig{
				AllowLegit:      sim.Rewards.AllowLegit,
				AllowAttack:     sim.Rewards.AllowAttack,
				ChallengeLegit:  sim.Rewards.ChallengeLegit,
				ChallengeAttack: sim.Rewards.ChallengeAttack,
				DenyLegit:       sim.Rewards.DenyLegit,
				DenyAttack:      sim.Rewards.DenyAttack,
			},
		},
		Storage: StorageConfig{DBPath: "authz.db"},
	}
}

// #endregion defaults

// #region load
// Load reads a YAML file on top of Default. Unknown keys are rejected.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("%w: read %s: %v", ErrInvalid, path, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("%w: parse %s: %v", ErrInvalid, path, err)
	}
	return cfg, nil
}

// LoadEnv loads .env files into the process environment. Missing files are
// ignored; variables already set win.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: env file %s: %v", ErrInvalid, f, err)
		}
	}
	return nil
}

// ApplyEnv overrides cfg from AUTHZ_* variables.
func ApplyEnv(cfg *Config) error {
	cfg.Storage.DBPath = envOr("AUTHZ_DB", cfg.Storage.DBPath)
	cfg.Metrics.Addr = envOr("AUTHZ_METRICS_ADDR", cfg.Metrics.Addr)
	cfg.Metrics.PushURL = envOr("AUTHZ_METRICS_PUSH", cfg.Metrics.PushURL)
	cfg.LogFormat = envOr("AUTHZ_LOG_FORMAT", cfg.LogFormat)

	if v := os.Getenv("AUTHZ_EPISODES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: AUTHZ_EPISODES=%q: %v", ErrInvalid, v, err)
		}
		cfg.Training.Episodes = n
	}
	if v := os.Getenv("AUTHZ_MAX_STEPS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: AUTHZ_MAX_STEPS=%q: %v", ErrInvalid, v, err)
		}
		cfg.Training.MaxStepsPerEpisode = n
	}
	if v := os.Getenv("AUTHZ_SEED"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: AUTHZ_SEED=%q: %v", ErrInvalid, v, err)
		}
		cfg.QLearning.Seed = n
		cfg.Simulator.Seed = n
	}
	return nil
}

// Resolve loads .env, then the YAML file at path (or AUTHZ_CONFIG), then
// applies env overrides and validates the result.
func Resolve(path string) (Config, error) {
	if err := LoadEnv(); err != nil {
		return Config{}, err
	}
	if path == "" {
		path = os.Getenv("AUTHZ_CONFIG")
	}

	cfg := Default()
	if path != "" {
		var err error
		if cfg, err = Load(path); err != nil {
			return Config{}, err
		}
	}
	if err := ApplyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-section consistency. Per-package ranges are checked
// again by each package's constructor.
func (c Config) Validate() error {
	switch {
	case c.LogFormat != "text" && c.LogFormat != "json":
		return fmt.Errorf("%w: log_format %q, want text or json", ErrInvalid, c.LogFormat)
	case c.QLearning.States <= 0:
		return fmt.Errorf("%w: qlearning.states %d must be positive", ErrInvalid, c.QLearning.States)
	case c.Training.InitialState >= c.QLearning.States:
		return fmt.Errorf("%w: training.initial_state %d outside [0, %d)", ErrInvalid, c.Training.InitialState, c.QLearning.States)
	case c.Training.EvalEpisodes < 0:
		return fmt.Errorf("%w: training.eval_episodes %d must not be negative", ErrInvalid, c.Training.EvalEpisodes)
	case c.Storage.DBPath == "":
		return fmt.Errorf("%w: storage.db_path is empty", ErrInvalid)
	}
	if err := c.ToThresholds().Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := c.ToQLearnConfig(simenv.NumActions).Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := c.ToTrainingConfig().Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// #endregion load

// #region conversions
// ToThresholds converts to risk.Thresholds.
func (c Config) ToThresholds() risk.Thresholds {
	return risk.Thresholds{LowMedium: c.Thresholds.LowMedium, MediumHigh: c.Thresholds.MediumHigh}
}

// ToQLearnConfig converts to qlearn.Config for the given action count.
func (c Config) ToQLearnConfig(actions int) qlearn.Config {
	return qlearn.Config{
		States:           c.QLearning.States,
		Actions:          actions,
		LearningRate:     c.QLearning.LearningRate,
		Discount:         c.QLearning.Discount,
		Exploration:      c.QLearning.Exploration,
		ExplorationDecay: c.QLearning.ExplorationDecay,
		MinExploration:   c.QLearning.MinExploration,
		Seed:             c.QLearning.Seed,
	}
}

// ToTrainingConfig converts to training.Config.
func (c Config) ToTrainingConfig() training.Config {
	return training.Config{
		Episodes:           c.Training.Episodes,
		InitialState:       c.Training.InitialState,
		MaxStepsPerEpisode: c.Training.MaxStepsPerEpisode,
	}
}

// ToSimConfig converts to simenv.Config. The simulator has one state per
// Q-learning state over the 0-100 risk scale.
func (c Config) ToSimConfig() simenv.Config {
	r := c.Simulator.Rewards
	return simenv.Config{
		States:             c.QLearning.States,
		Scale:              100,
		AttackRate:         c.Simulator.AttackRate,
		AttemptsPerEpisode: c.Simulator.AttemptsPerEpisode,
		Seed:               c.Simulator.Seed,
		Rewards: simenv.Rewards{
			AllowLegit:      r.AllowLegit,
			AllowAttack:     r.AllowAttack,
			ChallengeLegit:  r.ChallengeLegit,
			ChallengeAttack: r.ChallengeAttack,
			DenyLegit:       r.DenyLegit,
			DenyAttack:      r.DenyAttack,
		},
	}
}

// ToRuleBase converts to fuzzy.RuleBase. Consequents refer to the output
// variable.
func (rb *RuleBaseConfig) ToRuleBase() fuzzy.RuleBase {
	out := fuzzy.RuleBase{
		Output:     rb.Output.toVariable(),
		Resolution: rb.Resolution,
	}
	for _, v := range rb.Inputs {
		out.Inputs = append(out.Inputs, v.toVariable())
	}
	for _, r := range rb.Rules {
		rule := fuzzy.Rule{Consequent: fuzzy.Term{Variable: rb.Output.Name, Set: r.Then}}
		for _, t := range r.When {
			rule.Antecedents = append(rule.Antecedents, fuzzy.Term{Variable: t.Variable, Set: t.Set})
		}
		out.Rules = append(out.Rules, rule)
	}
	return out
}

func (v VariableConfig) toVariable() fuzzy.Variable {
	out := fuzzy.Variable{Name: v.Name, Min: v.Min, Max: v.Max}
	for _, s := range v.Sets {
		out.Sets = append(out.Sets, fuzzy.TriangularSet{Label: s.Label, Left: s.Left, Peak: s.Peak, Right: s.Right})
	}
	return out
}

// AuthorizationRuleBase returns the configured override or the default.
func (c Config) AuthorizationRuleBase() fuzzy.RuleBase {
	if c.RuleBases.Authorization != nil {
		return c.RuleBases.Authorization.ToRuleBase()
	}
	return risk.AuthorizationRuleBase()
}

// AnomalyRuleBase returns the configured override or the default.
func (c Config) AnomalyRuleBase() fuzzy.RuleBase {
	if c.RuleBases.Anomaly != nil {
		return c.RuleBases.Anomaly.ToRuleBase()
	}
	return risk.AnomalyRuleBase()
}

// HybridRuleBase returns the configured override or the default.
func (c Config) HybridRuleBase() fuzzy.RuleBase {
	if c.RuleBases.Hybrid != nil {
		return c.RuleBases.Hybrid.ToRuleBase()
	}
	return risk.HybridRuleBase()
}

// LayeredEvaluator builds the layered evaluator from the configured rule
// bases and thresholds.
func (c Config) LayeredEvaluator() (*risk.LayeredEvaluator, error) {
	return risk.NewLayeredEvaluatorFromRuleBases(c.AuthorizationRuleBase(), c.AnomalyRuleBase(), c.ToThresholds())
}

// #endregion conversions

// #region helpers
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// #endregion helpers

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/adaptive-authz/internal/fuzzy"
	"github.com/danielpatrickdp/adaptive-authz/internal/qlearn"
	"github.com/danielpatrickdp/adaptive-authz/internal/risk"
	"github.com/danielpatrickdp/adaptive-authz/internal/simenv"
	"github.com/danielpatrickdp/adaptive-authz/internal/training"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"AUTHZ_CONFIG", "AUTHZ_DB", "AUTHZ_METRICS_ADDR", "AUTHZ_METRICS_PUSH", "AUTHZ_EPISODES",
		"AUTHZ_MAX_STEPS", "AUTHZ_SEED", "AUTHZ_LOG_FORMAT",
	} {
		t.Setenv(k, "")
	}
}

func TestDefaultMirrorsPackageDefaults(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, risk.DefaultThresholds(), cfg.ToThresholds())

	q := qlearn.DefaultConfig()
	q.Actions = simenv.NumActions
	q.States = simenv.DefaultConfig().States
	assert.Equal(t, q, cfg.ToQLearnConfig(simenv.NumActions))

	assert.Equal(t, training.DefaultConfig(), cfg.ToTrainingConfig())
	assert.Equal(t, simenv.DefaultConfig(), cfg.ToSimConfig())

	assert.Equal(t, risk.AuthorizationRuleBase(), cfg.AuthorizationRuleBase())
	assert.Equal(t, risk.AnomalyRuleBase(), cfg.AnomalyRuleBase())
	assert.Equal(t, risk.HybridRuleBase(), cfg.HybridRuleBase())
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := writeFile(t, "authz.yaml", `
log_format: json
thresholds:
  low_medium: 35
  medium_high: 65
qlearning:
  states: 4
  exploration: 0.3
training:
  episodes: 12
storage:
  db_path: /tmp/x.db
metrics:
  addr: ":9108"
  push_url: http://gateway:9091
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, risk.Thresholds{LowMedium: 35, MediumHigh: 65}, cfg.ToThresholds())
	assert.Equal(t, 4, cfg.QLearning.States)
	assert.Equal(t, 0.3, cfg.QLearning.Exploration)
	assert.Equal(t, qlearn.DefaultConfig().LearningRate, cfg.QLearning.LearningRate)
	assert.Equal(t, 12, cfg.Training.Episodes)
	assert.Equal(t, training.DefaultConfig().MaxStepsPerEpisode, cfg.Training.MaxStepsPerEpisode)
	assert.Equal(t, "/tmp/x.db", cfg.Storage.DBPath)
	assert.Equal(t, ":9108", cfg.Metrics.Addr)
	assert.Equal(t, "http://gateway:9091", cfg.Metrics.PushURL)
	assert.Equal(t, 4, cfg.ToSimConfig().States)
}

func TestLoadRejectsUnknownKeysAndBadFiles(t *testing.T) {
	_, err := Load(writeFile(t, "typo.yaml", "thresholds:\n  low_medum: 30\n"))
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = Load(writeFile(t, "broken.yaml", "thresholds: [\n"))
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestLoadEmptyFileKeepsDefaults(t *testing.T) {
	cfg, err := Load(writeFile(t, "empty.yaml", ""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestRuleBaseOverride(t *testing.T) {
	path := writeFile(t, "rules.yaml", `
rule_bases:
  anomaly:
    inputs:
      - name: failed_attempts
        min: 0
        max: 10
        sets:
          - {label: few, left: 0, peak: 0, right: 5}
          - {label: many, left: 3, peak: 10, right: 10}
      - name: resource_load
        min: 0
        max: 100
        sets:
          - {label: any, left: 0, peak: 50, right: 100}
    output:
      name: risk
      min: 0
      max: 100
      sets:
        - {label: low, left: 0, peak: 0, right: 50}
        - {label: high, left: 50, peak: 100, right: 100}
    rules:
      - when: [{variable: failed_attempts, set: few}]
        then: low
      - when: [{variable: failed_attempts, set: many}]
        then: high
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	rb := cfg.AnomalyRuleBase()
	require.Len(t, rb.Inputs, 2)
	require.Len(t, rb.Rules, 2)
	assert.Equal(t, fuzzy.Term{Variable: "risk", Set: "high"}, rb.Rules[1].Consequent)
	assert.Equal(t, []fuzzy.Term{{Variable: "failed_attempts", Set: "many"}}, rb.Rules[1].Antecedents)

	// Other layers keep their defaults.
	assert.Equal(t, risk.AuthorizationRuleBase(), cfg.AuthorizationRuleBase())

	ev, err := cfg.LayeredEvaluator()
	require.NoError(t, err)
	d, err := ev.Evaluate(risk.AccessContext{TimeOfDay: 13, FailedAttempts: 10, ResourceLoad: 50})
	require.NoError(t, err)
	assert.Equal(t, risk.LabelHigh, d.Label)
}

func TestBrokenRuleBaseOverrideFailsAtConstruction(t *testing.T) {
	cfg := Default()
	cfg.RuleBases.Authorization = &RuleBaseConfig{
		Inputs: []VariableConfig{{Name: "activity", Min: 0, Max: 100,
			Sets: []SetConfig{{Label: "low", Left: 0, Peak: 0, Right: 40}}}},
		Output: VariableConfig{Name: "risk", Min: 0, Max: 100,
			Sets: []SetConfig{{Label: "low", Left: 0, Peak: 0, Right: 50}}},
		Rules: []RuleConfig{{When: []TermConfig{{Variable: "activity", Set: "extreme"}}, Then: "low"}},
	}
	_, err := cfg.LayeredEvaluator()
	assert.ErrorIs(t, err, fuzzy.ErrConfiguration)
}

func TestApplyEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("AUTHZ_DB", "env.db")
	t.Setenv("AUTHZ_METRICS_ADDR", "127.0.0.1:9200")
	t.Setenv("AUTHZ_METRICS_PUSH", "http://gateway:9091")
	t.Setenv("AUTHZ_EPISODES", "7")
	t.Setenv("AUTHZ_MAX_STEPS", "70")
	t.Setenv("AUTHZ_SEED", "99")
	t.Setenv("AUTHZ_LOG_FORMAT", "json")

	cfg := Default()
	require.NoError(t, ApplyEnv(&cfg))
	assert.Equal(t, "env.db", cfg.Storage.DBPath)
	assert.Equal(t, "127.0.0.1:9200", cfg.Metrics.Addr)
	assert.Equal(t, "http://gateway:9091", cfg.Metrics.PushURL)
	assert.Equal(t, 7, cfg.Training.Episodes)
	assert.Equal(t, 70, cfg.Training.MaxStepsPerEpisode)
	assert.Equal(t, uint64(99), cfg.QLearning.Seed)
	assert.Equal(t, uint64(99), cfg.Simulator.Seed)
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestApplyEnvRejectsMalformedNumbers(t *testing.T) {
	for _, key := range []string{"AUTHZ_EPISODES", "AUTHZ_MAX_STEPS", "AUTHZ_SEED"} {
		t.Run(key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(key, "many")
			cfg := Default()
			assert.ErrorIs(t, ApplyEnv(&cfg), ErrInvalid)
		})
	}
}

func TestResolvePrecedence(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "authz.yaml", "training:\n  episodes: 12\nstorage:\n  db_path: file.db\n")
	t.Setenv("AUTHZ_CONFIG", path)
	t.Setenv("AUTHZ_DB", "env.db")

	cfg, err := Resolve("")
	require.NoError(t, err)
	assert.Equal(t, 12, cfg.Training.Episodes)
	assert.Equal(t, "env.db", cfg.Storage.DBPath)
}

func TestResolveValidates(t *testing.T) {
	clearEnv(t)
	t.Setenv("AUTHZ_LOG_FORMAT", "xml")
	_, err := Resolve("")
	assert.ErrorIs(t, err, ErrInvalid)

	clearEnv(t)
	t.Setenv("AUTHZ_EPISODES", "0")
	_, err = Resolve("")
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestValidateCrossSection(t *testing.T) {
	cfg := Default()
	cfg.Training.InitialState = cfg.QLearning.States
	assert.ErrorIs(t, cfg.Validate(), ErrInvalid)

	cfg = Default()
	cfg.Thresholds.LowMedium = 90
	assert.ErrorIs(t, cfg.Validate(), ErrInvalid)

	cfg = Default()
	cfg.QLearning.LearningRate = 0
	assert.ErrorIs(t, cfg.Validate(), ErrInvalid)

	cfg = Default()
	cfg.Storage.DBPath = ""
	assert.ErrorIs(t, cfg.Validate(), ErrInvalid)
}

func TestLoadEnvIgnoresMissingFile(t *testing.T) {
	assert.NoError(t, LoadEnv(filepath.Join(t.TempDir(), "absent.env")))

	clearEnv(t)
	path := writeFile(t, "test.env", "AUTHZ_DB=dotenv.db\n")
	require.NoError(t, LoadEnv(path))
	// godotenv does not override variables that are already set, and an
	// empty t.Setenv value still counts as set.
	assert.Equal(t, "", os.Getenv("AUTHZ_DB"))
}

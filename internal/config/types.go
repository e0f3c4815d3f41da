package config

// #region config
// Config is the YAML-decoded application configuration. Every section mirrors
// a domain config with yaml tags and converts via its To* method.
type Config struct {
	LogFormat  string           `yaml:"log_format"` // "text" | "json"
	Thresholds ThresholdsConfig `yaml:"thresholds"`
	RuleBases  RuleBasesConfig  `yaml:"rule_bases"`
	QLearning  QLearningConfig  `yaml:"qlearning"`
	Training   TrainingConfig   `yaml:"training"`
	Simulator  SimulatorConfig  `yaml:"simulator"`
	Storage    StorageConfig    `yaml:"storage"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// #endregion config

// #region sections
// ThresholdsConfig mirrors risk.Thresholds.
type ThresholdsConfig struct {
	LowMedium  float64 `yaml:"low_medium"`
	MediumHigh float64 `yaml:"medium_high"`
}

// RuleBasesConfig overrides the built-in rule bases. A nil entry keeps the
// default.
type RuleBasesConfig struct {
	Authorization *RuleBaseConfig `yaml:"authorization"`
	Anomaly       *RuleBaseConfig `yaml:"anomaly"`
	Hybrid        *RuleBaseConfig `yaml:"hybrid"`
}

// RuleBaseConfig mirrors fuzzy.RuleBase.
type RuleBaseConfig struct {
	Inputs     []VariableConfig `yaml:"inputs"`
	Output     VariableConfig   `yaml:"output"`
	Rules      []RuleConfig     `yaml:"rules"`
	Resolution int              `yaml:"resolution"`
}

// VariableConfig mirrors fuzzy.Variable.
type VariableConfig struct {
	Name string      `yaml:"name"`
	Min  float64     `yaml:"min"`
	Max  float64     `yaml:"max"`
	Sets []SetConfig `yaml:"sets"`
}

// SetConfig mirrors fuzzy.TriangularSet.
type SetConfig struct {
	Label string  `yaml:"label"`
	Left  float64 `yaml:"left"`
	Peak  float64 `yaml:"peak"`
	Right float64 `yaml:"right"`
}

// RuleConfig is one rule; Then names a set of the output variable.
type RuleConfig struct {
	When []TermConfig `yaml:"when"`
	Then string       `yaml:"then"`
}

// TermConfig mirrors fuzzy.Term.
type TermConfig struct {
	Variable string `yaml:"variable"`
	Set      string `yaml:"set"`
}

// QLearningConfig mirrors qlearn.Config.
type QLearningConfig struct {
	States           int     `yaml:"states"`
	LearningRate     float64 `yaml:"learning_rate"`
	Discount         float64 `yaml:"discount"`
	Exploration      float64 `yaml:"exploration"`
	ExplorationDecay float64 `yaml:"exploration_decay"`
	MinExploration   float64 `yaml:"min_exploration"`
	Seed             uint64  `yaml:"seed"`
}

// TrainingConfig mirrors training.Config plus evaluation rollouts.
type TrainingConfig struct {
	Episodes           int `yaml:"episodes"`
	InitialState       int `yaml:"initial_state"`
	MaxStepsPerEpisode int `yaml:"max_steps_per_episode"`
	EvalEpisodes       int `yaml:"eval_episodes"`
}

// SimulatorConfig mirrors simenv.Config.
type SimulatorConfig struct {
	AttackRate         float64       `yaml:"attack_rate"`
	AttemptsPerEpisode int           `yaml:"attempts_per_episode"`
	Seed               uint64        `yaml:"seed"`
	Rewards            RewardsConfig `yaml:"rewards"`
}

// RewardsConfig mirrors simenv.Rewards.
type RewardsConfig struct {
	AllowLegit      float64 `yaml:"allow_legit"`
	AllowAttack     float64 `yaml:"allow_attack"`
	ChallengeLegit  float64 `yaml:"challenge_legit"`
	ChallengeAttack float64 `yaml:"challenge_attack"`
	DenyLegit       float64 `yaml:"deny_legit"`
	DenyAttack      float64 `yaml:"deny_attack"`
}

// StorageConfig locates the SQLite database.
type StorageConfig struct {
	DBPath string `yaml:"db_path"`
}

// MetricsConfig controls Prometheus export. Addr serves /metrics during
// training; PushURL is the Pushgateway one-shot commands push to. Empty
// values disable either.
type MetricsConfig struct {
	Addr    string `yaml:"addr"`
	PushURL string `yaml:"push_url"`
}

// #endregion sections

package training

import (
	"context"
	"errors"
	"time"

	"github.com/danielpatrickdp/adaptive-authz/internal/qlearn"
)

// #region errors
// ErrTrainingDivergence is returned when an episode exhausts its step budget
// without the environment signalling done.
var ErrTrainingDivergence = errors.New("training diverged")

// #endregion errors

// #region environment
// Environment is the external transition oracle.
type Environment interface {
	Step(state, action int) (next int, reward float64, done bool, err error)
}

// EnvironmentFunc adapts a plain transition function to Environment.
type EnvironmentFunc func(state, action int) (next int, reward float64, done bool)

// Step calls f.
func (f EnvironmentFunc) Step(state, action int) (int, float64, bool, error) {
	next, reward, done := f(state, action)
	return next, reward, done, nil
}

// #endregion environment

// #region learner
// Learner is the policy contract the loop drives. qlearn.Policy and
// hybrid.Policy both satisfy it.
type Learner interface {
	SelectAction(state int) (int, error)
	Update(state, action int, reward float64, next int) (qlearn.UpdateResult, error)
}

// GreedySelector exposes exploit-only action choice for evaluation.
type GreedySelector interface {
	Greedy(state int) (int, error)
}

// explorationDecayer is implemented by learners whose ε decays after each
// completed episode.
type explorationDecayer interface {
	Exploration() float64
	DecayExploration() float64
}

// #endregion learner

// #region risk-probe
// RiskSample is an auxiliary fuzzy risk reading drawn alongside a step.
type RiskSample struct {
	Activity float64 `json:"activity"`
	Trust    float64 `json:"trust"`
	Risk     float64 `json:"risk"`
}

// RiskProbe produces one risk sample per step. The sample is recorded in the
// trace only; it never feeds the reward or the state.
type RiskProbe interface {
	Probe() (RiskSample, error)
}

// #endregion risk-probe

// #region sink
// Sink receives every step record as it is produced.
type Sink interface {
	RecordStep(ctx context.Context, rec StepRecord) error
}

// #endregion sink

// #region config
// Config controls one training run.
type Config struct {
	Episodes           int
	InitialState       int
	MaxStepsPerEpisode int // mandatory step budget
}

// DefaultConfig returns a small run suitable for the simulator.
func DefaultConfig() Config {
	return Config{
		Episodes:           100,
		InitialState:       0,
		MaxStepsPerEpisode: 1000,
	}
}

// #endregion config

// #region trace
// StepRecord is one transition of an episode.
type StepRecord struct {
	Episode   int           `json:"episode"`
	Step      int           `json:"step"`
	State     int           `json:"state"`
	Action    int           `json:"action"`
	Reward    float64       `json:"reward"`
	NextState int           `json:"next_state"`
	Done      bool          `json:"done"`
	TDError   float64       `json:"td_error"`
	Value     float64       `json:"value"`
	Risk      *RiskSample   `json:"risk,omitempty"`
	Duration  time.Duration `json:"duration"`
	At        time.Time     `json:"at"`
}

// EpisodeSummary aggregates one episode.
type EpisodeSummary struct {
	Episode     int     `json:"episode"`
	Steps       int     `json:"steps"`
	TotalReward float64 `json:"total_reward"`
	Completed   bool    `json:"completed"` // environment signalled done
	Exploration float64 `json:"exploration"`
}

// Trace is the append-only record of a training run.
type Trace struct {
	ID         string           `json:"id"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
	Steps      []StepRecord     `json:"steps"`
	Episodes   []EpisodeSummary `json:"episodes"`
}

// #endregion trace

// #region eval-result
// EvalResult summarises greedy rollouts of a trained policy.
type EvalResult struct {
	Episodes    int     `json:"episodes"`
	MeanReward  float64 `json:"mean_reward"`
	MeanSteps   float64 `json:"mean_steps"`
	SuccessRate float64 `json:"success_rate"`
}

// #endregion eval-result

package qlearn

import "errors"

// #region errors
// ErrInvalidArgument reports an out-of-range state or action index, or a
// configuration value outside its allowed range.
var ErrInvalidArgument = errors.New("invalid argument")

// #endregion errors

// #region config
// Config holds the fixed parameters of a policy.
type Config struct {
	States           int
	Actions          int
	LearningRate     float64 // α, in (0, 1]
	Discount         float64 // γ, in [0, 1]
	Exploration      float64 // ε, in [0, 1]
	ExplorationDecay float64 // per-call multiplicative decay of ε, 0 disables
	MinExploration   float64 // floor for decayed ε
	Seed             uint64  // 0 = random seed
}

// DefaultConfig returns the parameters used by the access-control simulator.
func DefaultConfig() Config {
	return Config{
		States:       5,
		Actions:      3,
		LearningRate: 0.1,
		Discount:     0.9,
		Exploration:  0.1,
	}
}

// #endregion config

// #region update-result
// UpdateResult describes one Bellman update.
type UpdateResult struct {
	Previous float64 // Q[s,a] before the update
	Value    float64 // Q[s,a] after the update
	Target   float64 // r + γ·max Q[s',·]
	TDError  float64 // Target - Previous
}

// #endregion update-result

package training

import (
	"context"
	"fmt"
)

// #region evaluate
// Evaluate rolls out the greedy policy for cfg.Episodes episodes without
// updating it. Episodes that exhaust the step budget count as failures
// rather than errors.
func Evaluate(ctx context.Context, policy GreedySelector, env Environment, cfg Config) (EvalResult, error) {
	if err := cfg.Validate(); err != nil {
		return EvalResult{}, err
	}

	var totalReward float64
	var totalSteps, successes int

	for ep := 0; ep < cfg.Episodes; ep++ {
		state := cfg.InitialState
		for step := 0; step < cfg.MaxStepsPerEpisode; step++ {
			if err := ctx.Err(); err != nil {
				return EvalResult{}, err
			}
			action, err := policy.Greedy(state)
			if err != nil {
				return EvalResult{}, fmt.Errorf("eval episode %d: greedy: %w", ep, err)
			}
			next, reward, done, err := env.Step(state, action)
			if err != nil {
				return EvalResult{}, fmt.Errorf("eval episode %d: environment: %w", ep, err)
			}
			totalReward += reward
			totalSteps++
			state = next
			if done {
				successes++
				break
			}
		}
	}

	n := float64(cfg.Episodes)
	return EvalResult{
		Episodes:    cfg.Episodes,
		MeanReward:  totalReward / n,
		MeanSteps:   float64(totalSteps) / n,
		SuccessRate: float64(successes) / n,
	}, nil
}

// #endregion evaluate

// Package simenv simulates a stream of access attempts for training. Each
// state is a band of the layered fuzzy risk score of the pending attempt;
// the agent answers with allow, challenge or deny and is rewarded against
// the attempt's hidden ground truth.
package simenv

import (
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/danielpatrickdp/adaptive-authz/internal/risk"
)

// #region actions
// Actions available to the agent.
const (
	ActionAllow = iota
	ActionChallenge
	ActionDeny

	NumActions
)

// ActionName returns a printable action label.
func ActionName(a int) string {
	switch a {
	case ActionAllow:
		return "allow"
	case ActionChallenge:
		return "challenge"
	case ActionDeny:
		return "deny"
	}
	return fmt.Sprintf("action(%d)", a)
}

// #endregion actions

// #region config
// Rewards holds the payoff of every (action, ground truth) pair.
type Rewards struct {
	AllowLegit      float64
	AllowAttack     float64
	ChallengeLegit  float64
	ChallengeAttack float64
	DenyLegit       float64
	DenyAttack      float64
}

// Config parameterises the simulator.
type Config struct {
	States             int     // number of risk bands
	Scale              float64 // upper bound of the risk score
	AttackRate         float64 // probability an attempt is hostile
	AttemptsPerEpisode int
	Seed               uint64
	Rewards            Rewards
}

// DefaultConfig returns a five-band simulator with one attack in four.
func DefaultConfig() Config {
	return Config{
		States:             5,
		Scale:              100,
		AttackRate:         0.25,
		AttemptsPerEpisode: 20,
		Seed:               1,
		Rewards: Rewards{
			AllowLegit:      1,
			AllowAttack:     -5,
			ChallengeLegit:  0.5,
			ChallengeAttack: 1,
			DenyLegit:       -1,
			DenyAttack:      2,
		},
	}
}

// #endregion config

// #region env
// AccessEnv implements training.Environment. It is stateful (attempt counter
// and pending ground truth) and serialises Step calls internally.
type AccessEnv struct {
	mu        sync.Mutex
	cfg       Config
	evaluator *risk.LayeredEvaluator
	rng       *rand.Rand

	attempts int
	pending  map[int]bool // state → hidden attack flag of the attempt drawn into it
}

// New validates cfg and returns a simulator scoring attempts with evaluator.
func New(evaluator *risk.LayeredEvaluator, cfg Config) (*AccessEnv, error) {
	if evaluator == nil {
		return nil, fmt.Errorf("simulator needs a layered evaluator")
	}
	switch {
	case cfg.States <= 0:
		return nil, fmt.Errorf("states %d must be positive", cfg.States)
	case cfg.Scale <= 0:
		return nil, fmt.Errorf("scale %v must be positive", cfg.Scale)
	case cfg.AttackRate < 0 || cfg.AttackRate > 1:
		return nil, fmt.Errorf("attack rate %v outside [0, 1]", cfg.AttackRate)
	case cfg.AttemptsPerEpisode <= 0:
		return nil, fmt.Errorf("attempts per episode %d must be positive", cfg.AttemptsPerEpisode)
	}
	return &AccessEnv{
		cfg:       cfg,
		evaluator: evaluator,
		rng:       rand.New(rand.NewPCG(cfg.Seed, cfg.Seed+1)),
		pending:   make(map[int]bool),
	}, nil
}

// Step resolves the attempt pending in state with action, then draws the
// next attempt. The episode ends after AttemptsPerEpisode attempts.
func (e *AccessEnv) Step(state, action int) (int, float64, bool, error) {
	if state < 0 || state >= e.cfg.States {
		return 0, 0, false, fmt.Errorf("state %d outside [0, %d)", state, e.cfg.States)
	}
	if action < 0 || action >= NumActions {
		return 0, 0, false, fmt.Errorf("action %d outside [0, %d)", action, NumActions)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	attack, ok := e.pending[state]
	if !ok {
		// Episode start: no attempt was drawn into this band, so infer the
		// ground truth from how risky the band is.
		attack = e.rng.Float64() < float64(state+1)/float64(e.cfg.States)
	}
	reward := e.reward(action, attack)

	e.attempts++
	if e.attempts >= e.cfg.AttemptsPerEpisode {
		e.attempts = 0
		clear(e.pending)
		return state, reward, true, nil
	}

	next, nextAttack, err := e.draw()
	if err != nil {
		return 0, 0, false, err
	}
	clear(e.pending)
	e.pending[next] = nextAttack
	return next, reward, false, nil
}

// Bucket maps a risk score onto a state band.
func (e *AccessEnv) Bucket(score float64) int {
	width := e.cfg.Scale / float64(e.cfg.States)
	b := int(score / width)
	if b < 0 {
		return 0
	}
	if b >= e.cfg.States {
		return e.cfg.States - 1
	}
	return b
}

func (e *AccessEnv) reward(action int, attack bool) float64 {
	r := e.cfg.Rewards
	switch action {
	case ActionAllow:
		if attack {
			return r.AllowAttack
		}
		return r.AllowLegit
	case ActionChallenge:
		if attack {
			return r.ChallengeAttack
		}
		return r.ChallengeLegit
	default:
		if attack {
			return r.DenyAttack
		}
		return r.DenyLegit
	}
}

// draw generates the next attempt, scores it and returns its band.
func (e *AccessEnv) draw() (int, bool, error) {
	attack := e.rng.Float64() < e.cfg.AttackRate
	ctx := e.context(attack)
	d, err := e.evaluator.Evaluate(ctx)
	if err != nil {
		return 0, false, fmt.Errorf("score simulated attempt: %w", err)
	}
	return e.Bucket(d.Combined), attack, nil
}

func (e *AccessEnv) context(attack bool) risk.AccessContext {
	u := func(lo, hi float64) float64 { return lo + e.rng.Float64()*(hi-lo) }
	if attack {
		return risk.AccessContext{
			Activity:       u(40, 100),
			TimeOfDay:      u(0, 24),
			Location:       u(40, 100),
			FailedAttempts: u(2, 10),
			ResourceLoad:   u(30, 100),
		}
	}
	return risk.AccessContext{
		Activity:       u(0, 50),
		TimeOfDay:      u(7, 19),
		Location:       u(0, 40),
		FailedAttempts: u(0, 2),
		ResourceLoad:   u(0, 60),
	}
}

// #endregion env

// Package hybrid composes a Q-learning policy with a two-input fuzzy risk
// evaluator. The two capabilities stay independent: risk readings are only
// reported, and reach the value table solely through whatever reward or
// state the caller passes to Update.
package hybrid

import (
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/danielpatrickdp/adaptive-authz/internal/fuzzy"
	"github.com/danielpatrickdp/adaptive-authz/internal/qlearn"
	"github.com/danielpatrickdp/adaptive-authz/internal/risk"
	"github.com/danielpatrickdp/adaptive-authz/internal/training"
)

// Compile-time interface checks.
var (
	_ training.Learner        = (*Policy)(nil)
	_ training.GreedySelector = (*Policy)(nil)
	_ training.RiskProbe      = (*Probe)(nil)
)

// #region policy
// Policy wraps a Q-learning policy and an (activity, trust) risk evaluator.
type Policy struct {
	q    *qlearn.Policy
	risk *fuzzy.Evaluator
}

// New binds q and evaluator. The evaluator must declare exactly the
// activity and trust inputs.
func New(q *qlearn.Policy, evaluator *fuzzy.Evaluator) (*Policy, error) {
	if q == nil || evaluator == nil {
		return nil, fmt.Errorf("%w: hybrid policy needs a policy and an evaluator", fuzzy.ErrConfiguration)
	}
	names := evaluator.InputNames()
	_, hasActivity := evaluator.Input(risk.VarActivity)
	_, hasTrust := evaluator.Input(risk.VarTrust)
	if len(names) != 2 || !hasActivity || !hasTrust {
		return nil, fmt.Errorf("%w: hybrid evaluator inputs %v, want [%s %s]",
			fuzzy.ErrConfiguration, names, risk.VarActivity, risk.VarTrust)
	}
	return &Policy{q: q, risk: evaluator}, nil
}

// NewDefault builds a policy from cfg and the default hybrid rule base.
func NewDefault(cfg qlearn.Config) (*Policy, error) {
	q, err := qlearn.NewPolicy(cfg)
	if err != nil {
		return nil, fmt.Errorf("q-learning policy: %w", err)
	}
	evaluator, err := fuzzy.NewEvaluator(risk.HybridRuleBase())
	if err != nil {
		return nil, fmt.Errorf("hybrid evaluator: %w", err)
	}
	return New(q, evaluator)
}

// SelectAction delegates to the wrapped Q-learning policy.
func (p *Policy) SelectAction(state int) (int, error) {
	return p.q.SelectAction(state)
}

// Update delegates to the wrapped Q-learning policy.
func (p *Policy) Update(state, action int, reward float64, next int) (qlearn.UpdateResult, error) {
	return p.q.Update(state, action, reward, next)
}

// Greedy delegates to the wrapped Q-learning policy.
func (p *Policy) Greedy(state int) (int, error) {
	return p.q.Greedy(state)
}

// Exploration returns the wrapped policy's current ε.
func (p *Policy) Exploration() float64 {
	return p.q.Exploration()
}

// DecayExploration delegates to the wrapped Q-learning policy.
func (p *Policy) DecayExploration() float64 {
	return p.q.DecayExploration()
}

// EvaluateRisk scores an (activity, trust) pair.
func (p *Policy) EvaluateRisk(activity, trust float64) (float64, error) {
	res, err := p.risk.Evaluate(fuzzy.Inputs{
		risk.VarActivity: activity,
		risk.VarTrust:    trust,
	})
	if err != nil {
		return 0, err
	}
	return res.Score, nil
}

// QPolicy exposes the wrapped Q-learning policy.
func (p *Policy) QPolicy() *qlearn.Policy {
	return p.q
}

// #endregion policy

// #region sampler
// Sample is one (activity, trust) draw.
type Sample struct {
	Activity float64
	Trust    float64
}

// Sampler draws hybrid samples.
type Sampler interface {
	Sample() Sample
}

// UniformSampler draws activity and trust uniformly over given domains.
// It is safe for concurrent use.
type UniformSampler struct {
	mu       sync.Mutex
	rng      *rand.Rand
	activity [2]float64
	trust    [2]float64
}

// NewUniformSampler samples within the domains the policy's evaluator declares.
func NewUniformSampler(p *Policy, seed uint64) *UniformSampler {
	a, _ := p.risk.Input(risk.VarActivity)
	t, _ := p.risk.Input(risk.VarTrust)
	return &UniformSampler{
		rng:      rand.New(rand.NewPCG(seed, ^seed)),
		activity: [2]float64{a.Min, a.Max},
		trust:    [2]float64{t.Min, t.Max},
	}
}

// Sample returns the next draw.
func (s *UniformSampler) Sample() Sample {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Sample{
		Activity: s.activity[0] + s.rng.Float64()*(s.activity[1]-s.activity[0]),
		Trust:    s.trust[0] + s.rng.Float64()*(s.trust[1]-s.trust[0]),
	}
}

// #endregion sampler

// #region probe
// Probe pairs a policy with a sampler to feed training.RiskProbe.
type Probe struct {
	policy  *Policy
	sampler Sampler
}

// NewProbe returns a probe drawing from sampler.
func NewProbe(policy *Policy, sampler Sampler) *Probe {
	return &Probe{policy: policy, sampler: sampler}
}

// Probe draws a sample and scores it.
func (p *Probe) Probe() (training.RiskSample, error) {
	s := p.sampler.Sample()
	score, err := p.policy.EvaluateRisk(s.Activity, s.Trust)
	if err != nil {
		return training.RiskSample{}, fmt.Errorf("hybrid sample: %w", err)
	}
	return training.RiskSample{Activity: s.Activity, Trust: s.Trust, Risk: score}, nil
}

// #endregion probe

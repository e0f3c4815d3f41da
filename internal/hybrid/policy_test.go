package hybrid

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/adaptive-authz/internal/fuzzy"
	"github.com/danielpatrickdp/adaptive-authz/internal/qlearn"
	"github.com/danielpatrickdp/adaptive-authz/internal/risk"
	"github.com/danielpatrickdp/adaptive-authz/internal/training"
)

func testConfig() qlearn.Config {
	cfg := qlearn.DefaultConfig()
	cfg.States = 3
	cfg.Actions = 2
	cfg.Exploration = 0
	cfg.Seed = 11
	return cfg
}

func TestNewRequiresActivityAndTrust(t *testing.T) {
	q, err := qlearn.NewPolicy(testConfig())
	require.NoError(t, err)

	auth, err := fuzzy.NewEvaluator(risk.AuthorizationRuleBase())
	require.NoError(t, err)
	_, err = New(q, auth)
	assert.ErrorIs(t, err, fuzzy.ErrConfiguration)

	_, err = New(nil, auth)
	assert.ErrorIs(t, err, fuzzy.ErrConfiguration)

	hy, err := fuzzy.NewEvaluator(risk.HybridRuleBase())
	require.NoError(t, err)
	_, err = New(q, hy)
	assert.NoError(t, err)
}

func TestEvaluateRiskPassesThrough(t *testing.T) {
	p, err := NewDefault(testConfig())
	require.NoError(t, err)

	direct, err := fuzzy.NewEvaluator(risk.HybridRuleBase())
	require.NoError(t, err)

	for _, in := range []Sample{{0, 100}, {100, 0}, {50, 50}, {80, 90}} {
		got, err := p.EvaluateRisk(in.Activity, in.Trust)
		require.NoError(t, err)
		want, err := direct.Evaluate(fuzzy.Inputs{risk.VarActivity: in.Activity, risk.VarTrust: in.Trust})
		require.NoError(t, err)
		assert.Equal(t, want.Score, got)
	}

	low, err := p.EvaluateRisk(0, 100)
	require.NoError(t, err)
	high, err := p.EvaluateRisk(100, 0)
	require.NoError(t, err)
	assert.Less(t, low, high)

	_, err = p.EvaluateRisk(-5, 50)
	assert.ErrorIs(t, err, fuzzy.ErrInvalidInput)
}

func TestRiskDoesNotTouchTable(t *testing.T) {
	p, err := NewDefault(testConfig())
	require.NoError(t, err)

	before := p.QPolicy().Snapshot()
	for i := 0; i < 10; i++ {
		_, err := p.EvaluateRisk(float64(i*10), 50)
		require.NoError(t, err)
	}
	assert.Equal(t, before, p.QPolicy().Snapshot())
}

func TestSelectAndUpdateDelegate(t *testing.T) {
	p, err := NewDefault(testConfig())
	require.NoError(t, err)

	res, err := p.Update(0, 1, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 0.1, res.Value)

	a, err := p.SelectAction(0)
	require.NoError(t, err)
	assert.Equal(t, 1, a)

	v, err := p.QPolicy().Value(0, 1)
	require.NoError(t, err)
	assert.Equal(t, 0.1, v)

	_, err = p.Update(0, 5, 1, 2)
	assert.ErrorIs(t, err, qlearn.ErrInvalidArgument)
}

func TestUniformSamplerStaysInDomain(t *testing.T) {
	p, err := NewDefault(testConfig())
	require.NoError(t, err)

	s := NewUniformSampler(p, 99)
	for i := 0; i < 1000; i++ {
		smp := s.Sample()
		assert.GreaterOrEqual(t, smp.Activity, 0.0)
		assert.Less(t, smp.Activity, 100.0)
		assert.GreaterOrEqual(t, smp.Trust, 0.0)
		assert.Less(t, smp.Trust, 100.0)
	}

	a, b := NewUniformSampler(p, 5), NewUniformSampler(p, 5)
	for i := 0; i < 10; i++ {
		assert.Equal(t, a.Sample(), b.Sample())
	}
}

func TestHybridTrainingRecordsRiskSeparately(t *testing.T) {
	p, err := NewDefault(testConfig())
	require.NoError(t, err)
	probe := NewProbe(p, NewUniformSampler(p, 1))

	env := training.EnvironmentFunc(func(state, action int) (int, float64, bool) {
		return 2, 1, true
	})
	tr, err := training.NewTrainer(p, env, training.Config{Episodes: 4, MaxStepsPerEpisode: 3},
		training.WithRiskProbe(probe))
	require.NoError(t, err)

	trace, err := tr.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, trace.Steps, 4)
	for _, rec := range trace.Steps {
		require.NotNil(t, rec.Risk)
		want, err := p.EvaluateRisk(rec.Risk.Activity, rec.Risk.Trust)
		require.NoError(t, err)
		assert.Equal(t, want, rec.Risk.Risk)
		assert.Equal(t, 1.0, rec.Reward)
	}
}

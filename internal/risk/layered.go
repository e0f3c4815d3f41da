package risk

import (
	"fmt"
	"math"

	"github.com/danielpatrickdp/adaptive-authz/internal/fuzzy"
)

// #region thresholds
// Validate checks that both boundaries are finite and strictly ordered.
func (t Thresholds) Validate() error {
	if math.IsNaN(t.LowMedium) || math.IsInf(t.LowMedium, 0) ||
		math.IsNaN(t.MediumHigh) || math.IsInf(t.MediumHigh, 0) {
		return fmt.Errorf("%w: boundaries must be finite", ErrInvalidThresholds)
	}
	if t.LowMedium >= t.MediumHigh {
		return fmt.Errorf("%w: low/medium %.2f not below medium/high %.2f",
			ErrInvalidThresholds, t.LowMedium, t.MediumHigh)
	}
	return nil
}

// Classify maps a score to its band. Only the High band denies.
func (t Thresholds) Classify(score float64) (Label, bool) {
	switch {
	case score <= t.LowMedium:
		return LabelLow, true
	case score <= t.MediumHigh:
		return LabelMedium, true
	default:
		return LabelHigh, false
	}
}

// #endregion thresholds

// #region layered-evaluator
// LayeredEvaluator combines an authorization-oriented and an anomaly-oriented
// evaluator by taking the larger of their scores.
type LayeredEvaluator struct {
	authorization *fuzzy.Evaluator
	anomaly       *fuzzy.Evaluator
	thresholds    Thresholds
}

// NewLayeredEvaluator wires two evaluators under one set of band thresholds.
func NewLayeredEvaluator(authorization, anomaly *fuzzy.Evaluator, thresholds Thresholds) (*LayeredEvaluator, error) {
	if authorization == nil || anomaly == nil {
		return nil, fmt.Errorf("%w: layered evaluator needs both layers", fuzzy.ErrConfiguration)
	}
	if err := thresholds.Validate(); err != nil {
		return nil, err
	}
	return &LayeredEvaluator{
		authorization: authorization,
		anomaly:       anomaly,
		thresholds:    thresholds,
	}, nil
}

// NewDefaultLayeredEvaluator builds the layered evaluator from the default
// authorization and anomaly rule bases.
func NewDefaultLayeredEvaluator(thresholds Thresholds) (*LayeredEvaluator, error) {
	return NewLayeredEvaluatorFromRuleBases(AuthorizationRuleBase(), AnomalyRuleBase(), thresholds)
}

// NewLayeredEvaluatorFromRuleBases constructs both layers from rule bases.
func NewLayeredEvaluatorFromRuleBases(authorization, anomaly fuzzy.RuleBase, thresholds Thresholds) (*LayeredEvaluator, error) {
	auth, err := fuzzy.NewEvaluator(authorization)
	if err != nil {
		return nil, fmt.Errorf("authorization layer: %w", err)
	}
	anom, err := fuzzy.NewEvaluator(anomaly)
	if err != nil {
		return nil, fmt.Errorf("anomaly layer: %w", err)
	}
	return NewLayeredEvaluator(auth, anom, thresholds)
}

// Thresholds returns the band boundaries in use.
func (l *LayeredEvaluator) Thresholds() Thresholds {
	return l.thresholds
}

// Evaluate scores ctx on both layers and classifies the maximum.
func (l *LayeredEvaluator) Evaluate(ctx AccessContext) (Decision, error) {
	return l.EvaluateInputs(ctx.Inputs())
}

// EvaluateInputs is Evaluate over a name-keyed input set. Each layer receives
// only the variables it declares.
func (l *LayeredEvaluator) EvaluateInputs(in fuzzy.Inputs) (Decision, error) {
	auth, err := l.authorization.Evaluate(in.Pick(l.authorization.InputNames()))
	if err != nil {
		return Decision{}, fmt.Errorf("authorization layer: %w", err)
	}
	anom, err := l.anomaly.Evaluate(in.Pick(l.anomaly.InputNames()))
	if err != nil {
		return Decision{}, fmt.Errorf("anomaly layer: %w", err)
	}

	combined := math.Max(auth.Score, anom.Score)
	label, allow := l.thresholds.Classify(combined)

	source := "authorization"
	if anom.Score > auth.Score {
		source = "anomaly"
	}
	action := "allow"
	if !allow {
		action = "deny"
	}

	return Decision{
		Authorization: auth.Score,
		Anomaly:       anom.Score,
		Combined:      combined,
		Label:         label,
		Allow:         allow,
		Reason: fmt.Sprintf("%s: %s risk %.2f driven by %s layer",
			action, label, combined, source),
	}, nil
}

// #endregion layered-evaluator

package fuzzy

import (
	"errors"
	"math"
)

// #region errors
var (
	// ErrInvalidInput reports a crisp input the evaluator cannot accept:
	// a missing or unknown variable, NaN, or a value outside the domain.
	ErrInvalidInput = errors.New("invalid fuzzy input")

	// ErrConfiguration reports a malformed rule base detected at construction.
	ErrConfiguration = errors.New("invalid fuzzy configuration")
)

// #endregion errors

// #region triangular-set
// TriangularSet is a named fuzzy set with a triangular membership function.
// Left == Peak or Peak == Right yields a shoulder set.
type TriangularSet struct {
	Label string
	Left  float64
	Peak  float64
	Right float64
}

// Membership returns the degree in [0, 1] to which x belongs to the set.
func (s TriangularSet) Membership(x float64) float64 {
	switch {
	case x == s.Peak:
		return 1
	case x <= s.Left || x >= s.Right:
		return 0
	case x < s.Peak:
		return (x - s.Left) / (s.Peak - s.Left)
	default:
		return (s.Right - x) / (s.Right - s.Peak)
	}
}

// #endregion triangular-set

// #region variable
// Variable is a linguistic variable: a bounded numeric axis partitioned into
// named fuzzy sets.
type Variable struct {
	Name string
	Min  float64
	Max  float64
	Sets []TriangularSet
}

// Set looks up a fuzzy set by label.
func (v Variable) Set(label string) (TriangularSet, bool) {
	for _, s := range v.Sets {
		if s.Label == label {
			return s, true
		}
	}
	return TriangularSet{}, false
}

// Contains reports whether x lies inside the variable's domain.
func (v Variable) Contains(x float64) bool {
	return !math.IsNaN(x) && x >= v.Min && x <= v.Max
}

// Clamp restricts x to the variable's domain.
func (v Variable) Clamp(x float64) float64 {
	if math.IsNaN(x) || x < v.Min {
		return v.Min
	}
	if x > v.Max {
		return v.Max
	}
	return x
}

// Midpoint returns the centre of the domain.
func (v Variable) Midpoint() float64 {
	return (v.Min + v.Max) / 2
}

// #endregion variable

// #region rule
// Term references one fuzzy set of one variable.
type Term struct {
	Variable string
	Set      string
}

// Rule maps a conjunction of antecedent terms to a consequent term on the
// output variable.
type Rule struct {
	Antecedents []Term
	Consequent  Term
}

// #endregion rule

// #region rule-base
// DefaultResolution is the number of samples taken over the output domain
// during centroid defuzzification.
const DefaultResolution = 201

// RuleBase is the static configuration of an evaluator.
type RuleBase struct {
	Inputs     []Variable
	Output     Variable
	Rules      []Rule
	Resolution int // 0 = DefaultResolution
}

// #endregion rule-base

// #region inputs
// Inputs maps input variable names to crisp values.
type Inputs map[string]float64

// Pick returns the subset of in restricted to names. Names absent from in are
// left out, so the evaluator reports them as missing.
func (in Inputs) Pick(names []string) Inputs {
	out := make(Inputs, len(names))
	for _, n := range names {
		if v, ok := in[n]; ok {
			out[n] = v
		}
	}
	return out
}

// #endregion inputs

// #region result
// Activation records how strongly one rule fired for a given input.
type Activation struct {
	Rule     int
	Strength float64
}

// Result is the output of one evaluation.
type Result struct {
	Score       float64
	Activations []Activation
	Fallback    bool // no rule fired; Score is the output midpoint
}

// #endregion result

package fuzzy

import (
	"fmt"
	"math"
)

// #region evaluator
// Evaluator is a Mamdani inference engine over an immutable rule base.
// It holds no mutable state and is safe for concurrent use.
type Evaluator struct {
	inputs   []Variable
	byName   map[string]Variable
	output   Variable
	rules    []Rule
	universe []float64
}

// NewEvaluator validates rb and returns an evaluator owning a private copy of it.
func NewEvaluator(rb RuleBase) (*Evaluator, error) {
	if err := validate(rb); err != nil {
		return nil, err
	}

	resolution := rb.Resolution
	if resolution == 0 {
		resolution = DefaultResolution
	}

	e := &Evaluator{
		inputs: make([]Variable, len(rb.Inputs)),
		byName: make(map[string]Variable, len(rb.Inputs)),
		output: copyVariable(rb.Output),
		rules:  make([]Rule, len(rb.Rules)),
	}
	for i, v := range rb.Inputs {
		c := copyVariable(v)
		e.inputs[i] = c
		e.byName[c.Name] = c
	}
	for i, r := range rb.Rules {
		e.rules[i] = Rule{
			Antecedents: append([]Term(nil), r.Antecedents...),
			Consequent:  r.Consequent,
		}
	}

	step := (e.output.Max - e.output.Min) / float64(resolution-1)
	e.universe = make([]float64, resolution)
	for i := range e.universe {
		e.universe[i] = e.output.Min + float64(i)*step
	}
	e.universe[resolution-1] = e.output.Max

	return e, nil
}

// InputNames lists the declared input variables in declaration order.
func (e *Evaluator) InputNames() []string {
	names := make([]string, len(e.inputs))
	for i, v := range e.inputs {
		names[i] = v.Name
	}
	return names
}

// Input returns the declared input variable with the given name.
func (e *Evaluator) Input(name string) (Variable, bool) {
	v, ok := e.byName[name]
	return copyVariable(v), ok
}

// Output returns the output variable.
func (e *Evaluator) Output() Variable {
	return copyVariable(e.output)
}

// #endregion evaluator

// #region evaluate
// Evaluate fires every rule against in and defuzzifies the aggregated output
// by centroid. in must assign an in-domain value to every declared input and
// nothing else.
func (e *Evaluator) Evaluate(in Inputs) (Result, error) {
	if err := e.checkInputs(in); err != nil {
		return Result{}, err
	}

	// Firing strength per rule, then per consequent set (max across rules
	// sharing an output region).
	activations := make([]Activation, len(e.rules))
	clip := make(map[string]float64)
	for i, r := range e.rules {
		strength := 1.0
		for _, t := range r.Antecedents {
			set, _ := e.byName[t.Variable].Set(t.Set)
			strength = math.Min(strength, set.Membership(in[t.Variable]))
			if strength == 0 {
				break
			}
		}
		activations[i] = Activation{Rule: i, Strength: strength}
		if strength > clip[r.Consequent.Set] {
			clip[r.Consequent.Set] = strength
		}
	}

	var num, den float64
	for _, x := range e.universe {
		mu := 0.0
		for label, strength := range clip {
			set, _ := e.output.Set(label)
			mu = math.Max(mu, math.Min(strength, set.Membership(x)))
		}
		num += x * mu
		den += mu
	}

	if den == 0 {
		// Fired sets narrower than the sampling step leave no sampled mass;
		// weight their peaks by strength instead.
		for label, strength := range clip {
			set, _ := e.output.Set(label)
			num += set.Peak * strength
			den += strength
		}
	}
	if den == 0 {
		return Result{
			Score:       e.output.Midpoint(),
			Activations: activations,
			Fallback:    true,
		}, nil
	}
	return Result{Score: num / den, Activations: activations}, nil
}

func (e *Evaluator) checkInputs(in Inputs) error {
	for name := range in {
		if _, ok := e.byName[name]; !ok {
			return fmt.Errorf("%w: unknown variable %q", ErrInvalidInput, name)
		}
	}
	for _, v := range e.inputs {
		x, ok := in[v.Name]
		if !ok {
			return fmt.Errorf("%w: missing variable %q", ErrInvalidInput, v.Name)
		}
		if !v.Contains(x) {
			return fmt.Errorf("%w: %s=%v outside [%v, %v]", ErrInvalidInput, v.Name, x, v.Min, v.Max)
		}
	}
	return nil
}

// #endregion evaluate

// #region validation
func validate(rb RuleBase) error {
	if len(rb.Inputs) == 0 {
		return fmt.Errorf("%w: no input variables", ErrConfiguration)
	}
	if rb.Resolution != 0 && rb.Resolution < 2 {
		return fmt.Errorf("%w: resolution %d below 2", ErrConfiguration, rb.Resolution)
	}

	names := make(map[string]Variable, len(rb.Inputs))
	for _, v := range rb.Inputs {
		if err := validateVariable(v); err != nil {
			return err
		}
		if _, dup := names[v.Name]; dup {
			return fmt.Errorf("%w: duplicate input variable %q", ErrConfiguration, v.Name)
		}
		names[v.Name] = v
	}
	if err := validateVariable(rb.Output); err != nil {
		return err
	}
	if _, clash := names[rb.Output.Name]; clash {
		return fmt.Errorf("%w: output %q shadows an input", ErrConfiguration, rb.Output.Name)
	}

	if len(rb.Rules) == 0 {
		return fmt.Errorf("%w: no rules", ErrConfiguration)
	}
	for i, r := range rb.Rules {
		if len(r.Antecedents) == 0 {
			return fmt.Errorf("%w: rule %d has no antecedents", ErrConfiguration, i)
		}
		for _, t := range r.Antecedents {
			v, ok := names[t.Variable]
			if !ok {
				return fmt.Errorf("%w: rule %d references undefined input %q", ErrConfiguration, i, t.Variable)
			}
			if _, ok := v.Set(t.Set); !ok {
				return fmt.Errorf("%w: rule %d references undefined set %s.%s", ErrConfiguration, i, t.Variable, t.Set)
			}
		}
		if r.Consequent.Variable != rb.Output.Name {
			return fmt.Errorf("%w: rule %d consequent targets %q, not output %q",
				ErrConfiguration, i, r.Consequent.Variable, rb.Output.Name)
		}
		if _, ok := rb.Output.Set(r.Consequent.Set); !ok {
			return fmt.Errorf("%w: rule %d references undefined set %s.%s",
				ErrConfiguration, i, rb.Output.Name, r.Consequent.Set)
		}
	}
	return nil
}

func validateVariable(v Variable) error {
	if v.Name == "" {
		return fmt.Errorf("%w: unnamed variable", ErrConfiguration)
	}
	if math.IsNaN(v.Min) || math.IsNaN(v.Max) || v.Min >= v.Max {
		return fmt.Errorf("%w: %s domain [%v, %v] is empty", ErrConfiguration, v.Name, v.Min, v.Max)
	}
	if len(v.Sets) == 0 {
		return fmt.Errorf("%w: %s has no fuzzy sets", ErrConfiguration, v.Name)
	}
	seen := make(map[string]bool, len(v.Sets))
	for _, s := range v.Sets {
		if s.Label == "" {
			return fmt.Errorf("%w: %s has an unlabeled set", ErrConfiguration, v.Name)
		}
		if seen[s.Label] {
			return fmt.Errorf("%w: %s has duplicate set %q", ErrConfiguration, v.Name, s.Label)
		}
		seen[s.Label] = true
		if !(s.Left <= s.Peak && s.Peak <= s.Right) {
			return fmt.Errorf("%w: %s.%s breakpoints (%v, %v, %v) not ordered",
				ErrConfiguration, v.Name, s.Label, s.Left, s.Peak, s.Right)
		}
		if s.Left < v.Min || s.Right > v.Max {
			return fmt.Errorf("%w: %s.%s breakpoints outside domain [%v, %v]",
				ErrConfiguration, v.Name, s.Label, v.Min, v.Max)
		}
	}
	return nil
}

// #endregion validation

// #region helpers
func copyVariable(v Variable) Variable {
	v.Sets = append([]TriangularSet(nil), v.Sets...)
	return v
}

// #endregion helpers

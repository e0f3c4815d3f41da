package qlearn

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
)

// #region table
// Table is a dense states × actions value table.
type Table struct {
	states  int
	actions int
	values  []float64
}

func newTable(states, actions int) *Table {
	return &Table{
		states:  states,
		actions: actions,
		values:  make([]float64, states*actions),
	}
}

func (t *Table) row(state int) []float64 {
	return t.values[state*t.actions : (state+1)*t.actions]
}

// argmax returns the best action for state; ties go to the lowest index.
func (t *Table) argmax(state int) (int, float64) {
	row := t.row(state)
	best, bestValue := 0, row[0]
	for a := 1; a < len(row); a++ {
		if row[a] > bestValue {
			best, bestValue = a, row[a]
		}
	}
	return best, bestValue
}

// #endregion table

// #region policy
// Policy is an ε-greedy tabular Q-learning agent. Updates are serialized;
// action selection may run concurrently with other selections.
type Policy struct {
	mu          sync.RWMutex
	table       *Table
	cfg         Config
	exploration float64

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewPolicy validates cfg and returns a policy with a zero-initialised table.
func NewPolicy(cfg Config) (*Policy, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	return &Policy{
		table:       newTable(cfg.States, cfg.Actions),
		cfg:         cfg,
		exploration: cfg.Exploration,
		rng:         rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}, nil
}

// Validate checks sizes and hyper-parameter ranges.
func (c Config) Validate() error {
	switch {
	case c.States <= 0:
		return fmt.Errorf("%w: states %d must be positive", ErrInvalidArgument, c.States)
	case c.Actions <= 0:
		return fmt.Errorf("%w: actions %d must be positive", ErrInvalidArgument, c.Actions)
	case !(c.LearningRate > 0 && c.LearningRate <= 1):
		return fmt.Errorf("%w: learning rate %v outside (0, 1]", ErrInvalidArgument, c.LearningRate)
	case !(c.Discount >= 0 && c.Discount <= 1):
		return fmt.Errorf("%w: discount %v outside [0, 1]", ErrInvalidArgument, c.Discount)
	case !(c.Exploration >= 0 && c.Exploration <= 1):
		return fmt.Errorf("%w: exploration %v outside [0, 1]", ErrInvalidArgument, c.Exploration)
	case !(c.ExplorationDecay >= 0 && c.ExplorationDecay < 1):
		return fmt.Errorf("%w: exploration decay %v outside [0, 1)", ErrInvalidArgument, c.ExplorationDecay)
	case !(c.MinExploration >= 0 && c.MinExploration <= c.Exploration):
		return fmt.Errorf("%w: min exploration %v outside [0, %v]", ErrInvalidArgument, c.MinExploration, c.Exploration)
	}
	return nil
}

// Config returns the construction parameters.
func (p *Policy) Config() Config {
	return p.cfg
}

// #endregion policy

// #region select-action
// SelectAction explores with probability ε and otherwise exploits the
// highest-valued action, breaking ties by lowest index.
func (p *Policy) SelectAction(state int) (int, error) {
	if err := p.checkState(state); err != nil {
		return 0, err
	}

	p.mu.RLock()
	epsilon := p.exploration
	p.mu.RUnlock()

	if epsilon > 0 {
		p.rngMu.Lock()
		explore := p.rng.Float64() < epsilon
		var action int
		if explore {
			action = p.rng.IntN(p.cfg.Actions)
		}
		p.rngMu.Unlock()
		if explore {
			return action, nil
		}
	}

	return p.Greedy(state)
}

// Greedy returns the argmax action for state without exploring.
func (p *Policy) Greedy(state int) (int, error) {
	if err := p.checkState(state); err != nil {
		return 0, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	action, _ := p.table.argmax(state)
	return action, nil
}

// #endregion select-action

// #region update
// Update applies Q[s,a] += α·(r + γ·max Q[s',·] − Q[s,a]).
func (p *Policy) Update(state, action int, reward float64, next int) (UpdateResult, error) {
	if err := p.checkState(state); err != nil {
		return UpdateResult{}, err
	}
	if err := p.checkAction(action); err != nil {
		return UpdateResult{}, err
	}
	if err := p.checkState(next); err != nil {
		return UpdateResult{}, fmt.Errorf("next %w", err)
	}
	if math.IsNaN(reward) || math.IsInf(reward, 0) {
		return UpdateResult{}, fmt.Errorf("%w: reward %v is not finite", ErrInvalidArgument, reward)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	_, nextBest := p.table.argmax(next)
	row := p.table.row(state)
	previous := row[action]
	target := reward + p.cfg.Discount*nextBest
	tdError := target - previous
	row[action] = previous + p.cfg.LearningRate*tdError

	return UpdateResult{
		Previous: previous,
		Value:    row[action],
		Target:   target,
		TDError:  tdError,
	}, nil
}

// #endregion update

// #region exploration
// Exploration returns the current ε.
func (p *Policy) Exploration() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.exploration
}

// DecayExploration shrinks ε by the configured decay, never below
// MinExploration. It is a no-op when ExplorationDecay is zero.
func (p *Policy) DecayExploration() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cfg.ExplorationDecay == 0 {
		return p.exploration
	}
	p.exploration = math.Max(p.cfg.MinExploration, p.exploration*(1-p.cfg.ExplorationDecay))
	return p.exploration
}

// #endregion exploration

// #region accessors
// Value returns Q[s,a].
func (p *Policy) Value(state, action int) (float64, error) {
	if err := p.checkState(state); err != nil {
		return 0, err
	}
	if err := p.checkAction(action); err != nil {
		return 0, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.table.row(state)[action], nil
}

// Snapshot copies the table into a states × actions matrix.
func (p *Policy) Snapshot() [][]float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([][]float64, p.table.states)
	for s := range out {
		out[s] = append([]float64(nil), p.table.row(s)...)
	}
	return out
}

// Restore replaces the table with values, which must match the configured
// shape and be finite.
func (p *Policy) Restore(values [][]float64) error {
	if len(values) != p.cfg.States {
		return fmt.Errorf("%w: restore has %d states, want %d", ErrInvalidArgument, len(values), p.cfg.States)
	}
	for s, row := range values {
		if len(row) != p.cfg.Actions {
			return fmt.Errorf("%w: restore state %d has %d actions, want %d", ErrInvalidArgument, s, len(row), p.cfg.Actions)
		}
		for a, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("%w: restore value Q[%d,%d] is not finite", ErrInvalidArgument, s, a)
			}
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for s, row := range values {
		copy(p.table.row(s), row)
	}
	return nil
}

func (p *Policy) checkState(state int) error {
	if state < 0 || state >= p.cfg.States {
		return fmt.Errorf("%w: state %d outside [0, %d)", ErrInvalidArgument, state, p.cfg.States)
	}
	return nil
}

func (p *Policy) checkAction(action int) error {
	if action < 0 || action >= p.cfg.Actions {
		return fmt.Errorf("%w: action %d outside [0, %d)", ErrInvalidArgument, action, p.cfg.Actions)
	}
	return nil
}

// #endregion accessors

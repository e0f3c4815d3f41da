package training

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// #region trainer
// Trainer drives a learner against an environment, one sequential episode at
// a time. A Trainer is not safe for concurrent Run calls; independent
// trainers over independent learners may run in parallel.
type Trainer struct {
	learner Learner
	env     Environment
	cfg     Config
	probe   RiskProbe
	sinks   []Sink
	logger  *slog.Logger
}

// Option customises a Trainer.
type Option func(*Trainer)

// WithRiskProbe records an auxiliary risk sample on every step.
func WithRiskProbe(p RiskProbe) Option {
	return func(t *Trainer) { t.probe = p }
}

// WithSinks forwards each step record to the given sinks.
func WithSinks(sinks ...Sink) Option {
	return func(t *Trainer) { t.sinks = append(t.sinks, sinks...) }
}

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(t *Trainer) { t.logger = l }
}

// NewTrainer validates cfg and binds a learner to an environment.
func NewTrainer(learner Learner, env Environment, cfg Config, opts ...Option) (*Trainer, error) {
	if learner == nil || env == nil {
		return nil, errors.New("trainer needs a learner and an environment")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	t := &Trainer{learner: learner, env: env, cfg: cfg}
	for _, opt := range opts {
		opt(t)
	}
	if t.logger == nil {
		t.logger = slog.Default()
	}
	return t, nil
}

// Validate checks the episode count and the mandatory step budget.
func (c Config) Validate() error {
	if c.Episodes <= 0 {
		return fmt.Errorf("episodes %d must be positive", c.Episodes)
	}
	if c.MaxStepsPerEpisode <= 0 {
		return fmt.Errorf("step budget %d must be positive", c.MaxStepsPerEpisode)
	}
	if c.InitialState < 0 {
		return fmt.Errorf("initial state %d must not be negative", c.InitialState)
	}
	return nil
}

// #endregion trainer

// #region run
// Run executes the configured episodes and returns the trace. On error the
// trace holds everything recorded up to the failure.
func (t *Trainer) Run(ctx context.Context) (*Trace, error) {
	trace := &Trace{
		ID:        uuid.New().String(),
		StartedAt: time.Now().UTC(),
	}
	defer func() { trace.FinishedAt = time.Now().UTC() }()

	for ep := 0; ep < t.cfg.Episodes; ep++ {
		summary, err := t.runEpisode(ctx, ep, trace)
		if err == nil {
			if decayer, ok := t.learner.(explorationDecayer); ok {
				summary.Exploration = decayer.DecayExploration()
			}
		} else if decayer, ok := t.learner.(explorationDecayer); ok {
			// A failed episode leaves ε where the episode ran with it.
			summary.Exploration = decayer.Exploration()
		}
		trace.Episodes = append(trace.Episodes, summary)
		if err != nil {
			return trace, err
		}

		t.logger.Debug("episode finished",
			"trace_id", trace.ID,
			"episode", ep,
			"steps", summary.Steps,
			"reward", summary.TotalReward,
			"epsilon", summary.Exploration,
		)
	}

	t.logger.Info("training finished",
		"trace_id", trace.ID,
		"episodes", len(trace.Episodes),
		"steps", len(trace.Steps),
	)
	return trace, nil
}

func (t *Trainer) runEpisode(ctx context.Context, ep int, trace *Trace) (EpisodeSummary, error) {
	summary := EpisodeSummary{Episode: ep}
	state := t.cfg.InitialState

	for step := 0; step < t.cfg.MaxStepsPerEpisode; step++ {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		start := time.Now()

		action, err := t.learner.SelectAction(state)
		if err != nil {
			return summary, fmt.Errorf("episode %d step %d: select action: %w", ep, step, err)
		}
		next, reward, done, err := t.env.Step(state, action)
		if err != nil {
			return summary, fmt.Errorf("episode %d step %d: environment: %w", ep, step, err)
		}
		res, err := t.learner.Update(state, action, reward, next)
		if err != nil {
			return summary, fmt.Errorf("episode %d step %d: update: %w", ep, step, err)
		}

		rec := StepRecord{
			Episode:   ep,
			Step:      step,
			State:     state,
			Action:    action,
			Reward:    reward,
			NextState: next,
			Done:      done,
			TDError:   res.TDError,
			Value:     res.Value,
		}
		if t.probe != nil {
			sample, err := t.probe.Probe()
			if err != nil {
				return summary, fmt.Errorf("episode %d step %d: risk probe: %w", ep, step, err)
			}
			rec.Risk = &sample
		}
		rec.Duration = time.Since(start)
		rec.At = start.UTC()

		trace.Steps = append(trace.Steps, rec)
		t.emit(ctx, rec)

		summary.Steps++
		summary.TotalReward += reward
		state = next
		if done {
			summary.Completed = true
			return summary, nil
		}
	}

	t.logger.Warn("episode exceeded step budget",
		"trace_id", trace.ID,
		"episode", ep,
		"budget", t.cfg.MaxStepsPerEpisode,
	)
	return summary, fmt.Errorf("%w: episode %d hit %d steps without done",
		ErrTrainingDivergence, ep, t.cfg.MaxStepsPerEpisode)
}

// emit forwards rec to every sink. Sink failures are logged, not fatal.
func (t *Trainer) emit(ctx context.Context, rec StepRecord) {
	for _, s := range t.sinks {
		if err := s.RecordStep(ctx, rec); err != nil {
			t.logger.Warn("telemetry sink failed", "episode", rec.Episode, "step", rec.Step, "error", err)
		}
	}
}

// #endregion run

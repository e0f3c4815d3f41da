// Package metrics exposes access decisions and training progress to
// Prometheus.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/danielpatrickdp/adaptive-authz/internal/risk"
	"github.com/danielpatrickdp/adaptive-authz/internal/training"
)

// Compile-time interface check.
var _ training.Sink = (*Collector)(nil)

// #region collector
// Collector owns a private registry with decision and training metrics.
type Collector struct {
	registry *prometheus.Registry

	decisionsTotal *prometheus.CounterVec
	decisionScore  *prometheus.HistogramVec
	stepsTotal     *prometheus.CounterVec
	rewardTotal    prometheus.Gauge
	episodesTotal  prometheus.Counter
	tdError        prometheus.Histogram
	stepSeconds    prometheus.Histogram
	riskScore      prometheus.Histogram
}

// New creates a collector with all metrics registered.
func New() (*Collector, error) {
	c := &Collector{registry: prometheus.NewRegistry()}
	if err := c.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}
	return c, nil
}

func (c *Collector) initMetrics() error {
	c.decisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authz_decisions_total",
			Help: "Layered access decisions by risk label and outcome",
		},
		[]string{"label", "allow"},
	)

	c.decisionScore = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "authz_decision_score",
			Help:    "Per-layer fuzzy risk scores",
			Buckets: prometheus.LinearBuckets(10, 10, 10),
		},
		[]string{"layer"},
	)

	c.stepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authz_training_steps_total",
			Help: "Training steps by chosen action",
		},
		[]string{"action"},
	)

	c.rewardTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "authz_training_cumulative_reward",
		Help: "Running sum of every reward observed during training",
	})

	c.episodesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "authz_training_episodes_completed_total",
		Help: "Episodes the environment ended with done",
	})

	c.tdError = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "authz_training_td_error_abs",
		Help:    "Absolute temporal-difference error per update",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
	})

	c.stepSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "authz_training_step_seconds",
		Help:    "Wall time of one select-step-update cycle",
		Buckets: prometheus.ExponentialBuckets(1e-6, 10, 7),
	})

	c.riskScore = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "authz_training_risk_sample",
		Help:    "Auxiliary hybrid risk samples recorded during training",
		Buckets: prometheus.LinearBuckets(10, 10, 10),
	})

	collectors := []prometheus.Collector{
		c.decisionsTotal,
		c.decisionScore,
		c.stepsTotal,
		c.rewardTotal,
		c.episodesTotal,
		c.tdError,
		c.stepSeconds,
		c.riskScore,
	}
	for _, col := range collectors {
		if err := c.registry.Register(col); err != nil {
			return err
		}
	}
	return nil
}

// Registry returns the private registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// #endregion collector

// #region observe
// ObserveDecision records one layered decision.
func (c *Collector) ObserveDecision(d risk.Decision) {
	c.decisionsTotal.WithLabelValues(string(d.Label), strconv.FormatBool(d.Allow)).Inc()
	c.decisionScore.WithLabelValues("authorization").Observe(d.Authorization)
	c.decisionScore.WithLabelValues("anomaly").Observe(d.Anomaly)
	c.decisionScore.WithLabelValues("combined").Observe(d.Combined)
}

// RecordStep implements training.Sink.
func (c *Collector) RecordStep(_ context.Context, rec training.StepRecord) error {
	c.stepsTotal.WithLabelValues(strconv.Itoa(rec.Action)).Inc()
	c.rewardTotal.Add(rec.Reward)
	if rec.Done {
		c.episodesTotal.Inc()
	}
	td := rec.TDError
	if td < 0 {
		td = -td
	}
	c.tdError.Observe(td)
	c.stepSeconds.Observe(rec.Duration.Seconds())
	if rec.Risk != nil {
		c.riskScore.Observe(rec.Risk.Risk)
	}
	return nil
}

// #endregion observe

// #region serve
// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Server is a metrics HTTP endpoint started by Serve.
type Server struct {
	srv    *http.Server
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
}

// Serve starts an HTTP server exposing /metrics on addr. The server runs
// until Close is called.
func (c *Collector) Serve(addr string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())

	s := &Server{
		srv: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		logger: logger,
	}
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "addr", addr, "error", err)
		}
	}()
	logger.Info("metrics server listening", "addr", addr)
	return s
}

// Close shuts the server down. It is idempotent.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}

// #endregion serve

// #region push
// Push sends the registry to a Pushgateway under job, grouped by the given
// label pairs. One-shot commands use it instead of Serve.
func (c *Collector) Push(ctx context.Context, url, job string, grouping map[string]string) error {
	p := push.New(url, job).Gatherer(c.registry)
	for name, value := range grouping {
		p = p.Grouping(name, value)
	}
	if err := p.PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics to %s: %w", url, err)
	}
	return nil
}

// #endregion push

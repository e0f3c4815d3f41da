package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/adaptive-authz/internal/qlearn"
	"github.com/danielpatrickdp/adaptive-authz/internal/risk"
	"github.com/danielpatrickdp/adaptive-authz/internal/training"
)

func scrape(t *testing.T, h http.Handler) string {
	t.Helper()
	srv := httptest.NewServer(h)
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func TestObserveDecisionCountsByLabel(t *testing.T) {
	c, err := New()
	require.NoError(t, err)

	c.ObserveDecision(risk.Decision{Authorization: 80, Anomaly: 20, Combined: 80, Label: risk.LabelHigh, Allow: false})
	c.ObserveDecision(risk.Decision{Authorization: 85, Anomaly: 30, Combined: 85, Label: risk.LabelHigh, Allow: false})
	c.ObserveDecision(risk.Decision{Authorization: 10, Anomaly: 12, Combined: 12, Label: risk.LabelLow, Allow: true})

	body := scrape(t, c.Handler())
	assert.Contains(t, body, `authz_decisions_total{allow="false",label="High"} 2`)
	assert.Contains(t, body, `authz_decisions_total{allow="true",label="Low"} 1`)
	assert.Contains(t, body, `authz_decision_score_count{layer="combined"} 3`)
	assert.Contains(t, body, `authz_decision_score_sum{layer="authorization"} 175`)
}

func TestRecordStepFeedsTrainingMetrics(t *testing.T) {
	c, err := New()
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, c.RecordStep(ctx, training.StepRecord{Action: 1, Reward: 2, TDError: -0.5, Duration: time.Microsecond}))
	require.NoError(t, c.RecordStep(ctx, training.StepRecord{Action: 1, Reward: -5, TDError: 0.25}))
	require.NoError(t, c.RecordStep(ctx, training.StepRecord{
		Action: 2, Reward: 1, Done: true,
		Risk: &training.RiskSample{Activity: 10, Trust: 90, Risk: 16.5},
	}))

	body := scrape(t, c.Handler())
	assert.Contains(t, body, `authz_training_steps_total{action="1"} 2`)
	assert.Contains(t, body, `authz_training_steps_total{action="2"} 1`)
	assert.Contains(t, body, "authz_training_cumulative_reward -2")
	assert.Contains(t, body, "authz_training_episodes_completed_total 1")
	assert.Contains(t, body, "authz_training_td_error_abs_sum 0.75")
	assert.Contains(t, body, "authz_training_td_error_abs_count 3")
	assert.Contains(t, body, "authz_training_risk_sample_count 1")
}

func TestCollectorAsTrainingSink(t *testing.T) {
	c, err := New()
	require.NoError(t, err)

	env := training.EnvironmentFunc(func(state, action int) (int, float64, bool) { return 0, 1, true })
	cfg := qlearn.DefaultConfig()
	cfg.States, cfg.Actions, cfg.Seed = 1, 1, 3
	learner, err := qlearn.NewPolicy(cfg)
	require.NoError(t, err)
	tr, err := training.NewTrainer(learner, env, training.Config{Episodes: 4, MaxStepsPerEpisode: 2},
		training.WithSinks(c))
	require.NoError(t, err)
	_, err = tr.Run(context.Background())
	require.NoError(t, err)

	body := scrape(t, c.Handler())
	assert.Contains(t, body, `authz_training_steps_total{action="0"} 4`)
	assert.Contains(t, body, "authz_training_episodes_completed_total 4")
}

func TestServeExposesMetricsAndClosesIdempotently(t *testing.T) {
	c, err := New()
	require.NoError(t, err)
	c.ObserveDecision(risk.Decision{Label: risk.LabelMedium, Allow: true})

	srv := c.Serve("127.0.0.1:19391", nil)
	defer srv.Close()

	var body string
	require.Eventually(t, func() bool {
		resp, err := http.Get("http://127.0.0.1:19391/metrics")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		body = string(b)
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)
	assert.True(t, strings.Contains(body, `label="Medium"`))

	assert.NoError(t, srv.Close())
	assert.NoError(t, srv.Close())
}

// #region push-tests
type pushRecorder struct {
	mu     sync.Mutex
	method string
	path   string
	body   []byte
}

func (r *pushRecorder) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	body, _ := io.ReadAll(req.Body)
	r.mu.Lock()
	r.method, r.path, r.body = req.Method, req.URL.Path, body
	r.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func TestPushSendsDecisionMetrics(t *testing.T) {
	rec := &pushRecorder{}
	gw := httptest.NewServer(rec)
	defer gw.Close()

	c, err := New()
	require.NoError(t, err)
	c.ObserveDecision(risk.Decision{Authorization: 20, Anomaly: 10, Combined: 20, Label: risk.LabelLow, Allow: true})

	require.NoError(t, c.Push(context.Background(), gw.URL, "authz_decide", map[string]string{"source": "decide"}))

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, http.MethodPut, rec.method)
	assert.Equal(t, "/metrics/job/authz_decide/source/decide", rec.path)
	assert.Contains(t, string(rec.body), "authz_decisions_total")
}

func TestPushReportsGatewayErrors(t *testing.T) {
	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer gw.Close()

	c, err := New()
	require.NoError(t, err)
	assert.Error(t, c.Push(context.Background(), gw.URL, "authz_decide", nil))
}

// #endregion push-tests

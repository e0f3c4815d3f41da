package replay

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/danielpatrickdp/adaptive-authz/internal/fuzzy"
	"github.com/danielpatrickdp/adaptive-authz/internal/logging"
	"github.com/danielpatrickdp/adaptive-authz/internal/risk"
)

func defaultEvaluator(t *testing.T, th risk.Thresholds) *risk.LayeredEvaluator {
	t.Helper()
	ev, err := risk.NewDefaultLayeredEvaluator(th)
	require.NoError(t, err)
	return ev
}

// #region fixture-tests

// TestFixture_Baseline is the regression baseline for the default rule bases:
// if a membership breakpoint or rule changes, this catches the drift.
func TestFixture_Baseline(t *testing.T) {
	f, err := LoadFixture(filepath.Join("testdata", "baseline.json"))
	require.NoError(t, err)

	results := Replay(defaultEvaluator(t, f.Thresholds.ToThresholds()), f.ToCases())
	require.Len(t, results, len(f.Cases))
	for i, r := range results {
		require.NoError(t, r.Err)
		assert.Equal(t, f.Cases[i].ID, r.CaseID)
		assert.True(t, r.Match, "case %s: expected %s, got %s (%s)",
			r.CaseID, r.Expected, r.Decision.Label, r.Decision.Reason)
	}

	s := Summarize(results)
	assert.True(t, s.OK())
	assert.Equal(t, 1, s.ByLabel[risk.LabelLow])
	assert.Equal(t, 1, s.ByLabel[risk.LabelMedium])
	assert.Equal(t, 2, s.ByLabel[risk.LabelHigh])
}

func TestLoadFixture_RejectsUnknownLabel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"cases":[{"id":"x","expected":"Severe"}]}`), 0o644))

	_, err := LoadFixture(path)
	assert.Error(t, err)
}

func TestLoadFixture_MissingAndMalformed(t *testing.T) {
	_, err := LoadFixture(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "broken.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"cases":`), 0o644))
	_, err = LoadFixture(path)
	assert.Error(t, err)
}

func TestFixtureThresholds_ZeroMeansDefault(t *testing.T) {
	assert.Equal(t, risk.DefaultThresholds(), FixtureThresholds{}.ToThresholds())
	assert.Equal(t, risk.Thresholds{LowMedium: 30, MediumHigh: 60},
		FixtureThresholds{LowMedium: 30, MediumHigh: 60}.ToThresholds())
}

// #endregion fixture-tests

// #region replay-tests
func TestReplay_DetectsMismatchAndErrors(t *testing.T) {
	cases := []Case{
		{ID: "ok", Context: risk.AccessContext{TimeOfDay: 13, ResourceLoad: 10}, Expected: risk.LabelLow},
		{ID: "drift", Context: risk.AccessContext{TimeOfDay: 13, ResourceLoad: 10}, Expected: risk.LabelHigh},
		{ID: "invalid", Context: risk.AccessContext{TimeOfDay: 30}, Expected: risk.LabelLow},
	}

	results := Replay(defaultEvaluator(t, risk.DefaultThresholds()), cases)
	require.Len(t, results, 3)
	assert.True(t, results[0].Match)
	assert.False(t, results[1].Match)
	assert.Equal(t, risk.LabelLow, results[1].Decision.Label)
	assert.ErrorIs(t, results[2].Err, fuzzy.ErrInvalidInput)

	s := Summarize(results)
	assert.Equal(t, Summary{
		Total:      3,
		Matches:    1,
		Mismatches: 1,
		Errors:     1,
		ByLabel:    map[risk.Label]int{risk.LabelLow: 2},
	}, s)
	assert.False(t, s.OK())
}

func TestReplay_ThresholdsChangeBands(t *testing.T) {
	c := Case{ID: "branch", Context: risk.AccessContext{TimeOfDay: 13, Location: 50, ResourceLoad: 10}, Expected: risk.LabelMedium}

	results := Replay(defaultEvaluator(t, risk.DefaultThresholds()), []Case{c})
	assert.True(t, results[0].Match)

	strict := risk.Thresholds{LowMedium: 20, MediumHigh: 45}
	results = Replay(defaultEvaluator(t, strict), []Case{c})
	assert.False(t, results[0].Match)
	assert.Equal(t, risk.LabelHigh, results[0].Decision.Label)
}

func TestSummarize_Empty(t *testing.T) {
	s := Summarize(nil)
	assert.Equal(t, 0, s.Total)
	assert.True(t, s.OK())
}

// #endregion replay-tests

// #region export-tests
func TestExportFromDecisionLogRoundTrip(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	defer db.Close()
	require.NoError(t, logging.EnsureSchema(db))

	ev := defaultEvaluator(t, risk.DefaultThresholds())
	contexts := []risk.AccessContext{
		{TimeOfDay: 13, ResourceLoad: 10},
		{TimeOfDay: 13, Location: 50, ResourceLoad: 10},
		{Activity: 100, TimeOfDay: 23, Location: 100, FailedAttempts: 10, ResourceLoad: 95},
	}
	for _, ctx := range contexts {
		d, err := ev.Evaluate(ctx)
		require.NoError(t, err)
		entry, err := logging.NewEntry("test", ctx, ev.Thresholds(), d)
		require.NoError(t, err)
		_, err = logging.LogDecision(db, entry)
		require.NoError(t, err)
	}

	recs, err := logging.RecentRecords(db, 10)
	require.NoError(t, err)
	f := FixtureFromRecords("exported", recs)
	require.Len(t, f.Cases, 3)
	assert.Equal(t, 40.0, f.Thresholds.LowMedium)

	path := filepath.Join(t.TempDir(), "exported.json")
	require.NoError(t, WriteFixture(f, path))
	loaded, err := LoadFixture(path)
	require.NoError(t, err)
	assert.Equal(t, f, *loaded)

	s := Summarize(Replay(ev, loaded.ToCases()))
	assert.True(t, s.OK())
	assert.Equal(t, 3, s.Matches)
}

// #endregion export-tests

package logging

import (
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/danielpatrickdp/adaptive-authz/internal/risk"
)

// #region helpers
func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	// Every pooled connection would get its own in-memory database.
	db.SetMaxOpenConns(1)
	require.NoError(t, EnsureSchema(db))
	t.Cleanup(func() { db.Close() })
	return db
}

func sampleDecision() (risk.AccessContext, risk.Decision) {
	ctx := risk.AccessContext{Activity: 10, TimeOfDay: 11, Location: 5, FailedAttempts: 0, ResourceLoad: 20}
	d := risk.Decision{
		Authorization: 16.7,
		Anomaly:       16.7,
		Combined:      16.7,
		Label:         risk.LabelLow,
		Allow:         true,
		Reason:        "allow: Low risk 16.70 driven by authorization layer",
	}
	return ctx, d
}

// #endregion helpers

// #region log-decision-tests
func TestLogDecision_Success(t *testing.T) {
	db := setupDB(t)
	ctx, d := sampleDecision()

	entry, err := NewEntry("cli", ctx, risk.DefaultThresholds(), d)
	require.NoError(t, err)
	id, err := LogDecision(db, entry)
	require.NoError(t, err)
	assert.Equal(t, entry.ID, id)

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM decision_log").Scan(&count))
	assert.Equal(t, 1, count)

	var source, label string
	var allow int
	var combined float64
	require.NoError(t, db.QueryRow("SELECT source, label, allow, combined FROM decision_log WHERE id = ?", id).
		Scan(&source, &label, &allow, &combined))
	assert.Equal(t, "cli", source)
	assert.Equal(t, "Low", label)
	assert.Equal(t, 1, allow)
	assert.Equal(t, 16.7, combined)
}

func TestNewEntryEmbedsFullRecord(t *testing.T) {
	ctx, d := sampleDecision()
	th := risk.Thresholds{LowMedium: 30, MediumHigh: 60}

	entry, err := NewEntry("replay", ctx, th, d)
	require.NoError(t, err)

	var rec DecisionRecord
	require.NoError(t, json.Unmarshal([]byte(entry.ContextJSON), &rec))
	assert.Equal(t, entry.ID, rec.ID)
	assert.Equal(t, ctx, rec.Context)
	assert.Equal(t, d, rec.Decision)
	assert.Equal(t, DecisionThresholds{LowMedium: 30, MediumHigh: 60}, rec.Thresholds)
}

func TestLogDecision_AssignsIDAndTimestamp(t *testing.T) {
	db := setupDB(t)

	id, err := LogDecision(db, DecisionEntry{Source: "test", Label: risk.LabelHigh})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	var createdAt string
	require.NoError(t, db.QueryRow("SELECT created_at FROM decision_log WHERE id = ?", id).Scan(&createdAt))
	parsed, err := time.Parse(time.RFC3339Nano, createdAt)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), parsed, 5*time.Second)
}

func TestLogDecision_EmptyOptionalFieldsAreNull(t *testing.T) {
	db := setupDB(t)

	id, err := LogDecision(db, DecisionEntry{Source: "test", Label: risk.LabelMedium})
	require.NoError(t, err)

	var reason, contextJSON sql.NullString
	require.NoError(t, db.QueryRow("SELECT reason, context_json FROM decision_log WHERE id = ?", id).
		Scan(&reason, &contextJSON))
	assert.False(t, reason.Valid)
	assert.False(t, contextJSON.Valid)
}

func TestLogDecision_Error(t *testing.T) {
	db := setupDB(t)
	db.Close() // close to force error

	_, err := LogDecision(db, DecisionEntry{Source: "test", Label: risk.LabelLow})
	assert.Error(t, err)
}

// #endregion log-decision-tests

// #region recent-records-tests
func TestRecentRecords_ChronologicalAndSkipsForeignRows(t *testing.T) {
	db := setupDB(t)
	ctx, d := sampleDecision()
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	var ids []string
	for i := 0; i < 3; i++ {
		entry, err := NewEntry("cli", ctx, risk.DefaultThresholds(), d)
		require.NoError(t, err)
		entry.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		_, err = LogDecision(db, entry)
		require.NoError(t, err)
		ids = append(ids, entry.ID)
	}
	// Rows without a record or with a malformed one are ignored.
	_, err := LogDecision(db, DecisionEntry{Source: "manual", Label: risk.LabelLow, CreatedAt: base.Add(time.Hour)})
	require.NoError(t, err)
	_, err = LogDecision(db, DecisionEntry{Source: "manual", Label: risk.LabelLow, ContextJSON: "{", CreatedAt: base.Add(2 * time.Hour)})
	require.NoError(t, err)

	recs, err := RecentRecords(db, 4)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, ids[1], recs[0].ID)
	assert.Equal(t, ids[2], recs[1].ID)

	recs, err = RecentRecords(db, 10)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, ids[0], recs[0].ID)
}

// #endregion recent-records-tests

// #region null-if-empty-tests
func TestNullIfEmpty(t *testing.T) {
	assert.Nil(t, nullIfEmpty(""))
	assert.Equal(t, "hello", nullIfEmpty("hello"))
}

// #endregion null-if-empty-tests

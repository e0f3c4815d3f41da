// Package tracestore persists training traces and Q-table versions in SQLite.
package tracestore

import (
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/danielpatrickdp/adaptive-authz/internal/training"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS traces (
	trace_id      TEXT PRIMARY KEY,
	started_at    TEXT NOT NULL,
	finished_at   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS episodes (
	trace_id      TEXT NOT NULL,
	episode       INTEGER NOT NULL,
	steps         INTEGER NOT NULL,
	total_reward  REAL NOT NULL,
	completed     INTEGER NOT NULL,
	exploration   REAL NOT NULL,
	PRIMARY KEY (trace_id, episode),
	FOREIGN KEY (trace_id) REFERENCES traces(trace_id)
);

CREATE TABLE IF NOT EXISTS trace_steps (
	trace_id      TEXT NOT NULL,
	episode       INTEGER NOT NULL,
	step          INTEGER NOT NULL,
	state         INTEGER NOT NULL,
	action        INTEGER NOT NULL,
	reward        REAL NOT NULL,
	next_state    INTEGER NOT NULL,
	done          INTEGER NOT NULL,
	td_error      REAL NOT NULL,
	value         REAL NOT NULL,
	risk_activity REAL,
	risk_trust    REAL,
	risk_score    REAL,
	duration_ns   INTEGER NOT NULL,
	at            TEXT NOT NULL,
	PRIMARY KEY (trace_id, episode, step),
	FOREIGN KEY (trace_id) REFERENCES traces(trace_id)
);

CREATE TABLE IF NOT EXISTS policy_versions (
	version_id    TEXT PRIMARY KEY,
	parent_id     TEXT,
	trace_id      TEXT,
	states        INTEGER NOT NULL,
	actions       INTEGER NOT NULL,
	q_values      BLOB NOT NULL,
	created_at    TEXT NOT NULL,
	FOREIGN KEY (parent_id) REFERENCES policy_versions(version_id)
);

CREATE TABLE IF NOT EXISTS active_policy (
	id            INTEGER PRIMARY KEY CHECK (id = 1),
	version_id    TEXT NOT NULL,
	FOREIGN KEY (version_id) REFERENCES policy_versions(version_id)
);
`

// timeLayout is fixed-width so timestamps sort chronologically as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// #endregion schema

// #region store-struct
// Store manages persisted traces and policy versions in SQLite.
type Store struct {
	db *sql.DB
}

// #endregion store-struct

// #region constructor
// NewStore opens a SQLite database and runs migrations.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma busy_timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for use by other packages (e.g. logging).
func (s *Store) DB() *sql.DB {
	return s.db
}

// #endregion constructor

// #region save-trace
// SaveTrace writes a finished trace, its episode summaries and every step in
// one transaction.
func (s *Store) SaveTrace(trace *training.Trace) error {
	if trace == nil || trace.ID == "" {
		return fmt.Errorf("save trace: missing trace id")
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO traces (trace_id, started_at, finished_at) VALUES (?, ?, ?)`,
		trace.ID, trace.StartedAt.UTC().Format(timeLayout), trace.FinishedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("insert trace: %w", err)
	}

	for _, ep := range trace.Episodes {
		_, err = tx.Exec(
			`INSERT INTO episodes (trace_id, episode, steps, total_reward, completed, exploration)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			trace.ID, ep.Episode, ep.Steps, ep.TotalReward, boolInt(ep.Completed), ep.Exploration,
		)
		if err != nil {
			return fmt.Errorf("insert episode %d: %w", ep.Episode, err)
		}
	}

	stmt, err := tx.Prepare(
		`INSERT INTO trace_steps (trace_id, episode, step, state, action, reward, next_state, done,
		 td_error, value, risk_activity, risk_trust, risk_score, duration_ns, at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return fmt.Errorf("prepare steps: %w", err)
	}
	defer stmt.Close()

	for _, rec := range trace.Steps {
		var activity, trust, score interface{}
		if rec.Risk != nil {
			activity, trust, score = rec.Risk.Activity, rec.Risk.Trust, rec.Risk.Risk
		}
		_, err = stmt.Exec(
			trace.ID, rec.Episode, rec.Step, rec.State, rec.Action, rec.Reward, rec.NextState,
			boolInt(rec.Done), rec.TDError, rec.Value, activity, trust, score,
			rec.Duration.Nanoseconds(), rec.At.UTC().Format(timeLayout),
		)
		if err != nil {
			return fmt.Errorf("insert step %d/%d: %w", rec.Episode, rec.Step, err)
		}
	}

	return tx.Commit()
}

// #endregion save-trace

// #region list-traces
// ListTraces returns the most recent traces with their aggregate counts.
func (s *Store) ListTraces(limit int) ([]TraceRecord, error) {
	rows, err := s.db.Query(
		`SELECT t.trace_id, t.started_at, t.finished_at,
		        COUNT(e.episode), COALESCE(SUM(e.steps), 0), COALESCE(SUM(e.total_reward), 0)
		 FROM traces t LEFT JOIN episodes e ON e.trace_id = t.trace_id
		 GROUP BY t.trace_id
		 ORDER BY t.started_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list traces: %w", err)
	}
	defer rows.Close()

	var records []TraceRecord
	for rows.Next() {
		var rec TraceRecord
		var startedStr, finishedStr string
		if err := rows.Scan(&rec.TraceID, &startedStr, &finishedStr, &rec.Episodes, &rec.Steps, &rec.TotalReward); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		rec.StartedAt, _ = time.Parse(timeLayout, startedStr)
		rec.FinishedAt, _ = time.Parse(timeLayout, finishedStr)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// #endregion list-traces

// #region get-episodes
// GetEpisodes returns the episode summaries of a trace in order.
func (s *Store) GetEpisodes(traceID string) ([]training.EpisodeSummary, error) {
	rows, err := s.db.Query(
		`SELECT episode, steps, total_reward, completed, exploration
		 FROM episodes WHERE trace_id = ? ORDER BY episode`, traceID,
	)
	if err != nil {
		return nil, fmt.Errorf("get episodes %s: %w", traceID, err)
	}
	defer rows.Close()

	var out []training.EpisodeSummary
	for rows.Next() {
		var ep training.EpisodeSummary
		var completed int
		if err := rows.Scan(&ep.Episode, &ep.Steps, &ep.TotalReward, &completed, &ep.Exploration); err != nil {
			return nil, fmt.Errorf("scan episode: %w", err)
		}
		ep.Completed = completed != 0
		out = append(out, ep)
	}
	return out, rows.Err()
}

// #endregion get-episodes

// #region get-steps
// GetSteps returns the step records of one episode in order.
func (s *Store) GetSteps(traceID string, episode int) ([]training.StepRecord, error) {
	rows, err := s.db.Query(
		`SELECT episode, step, state, action, reward, next_state, done, td_error, value,
		        risk_activity, risk_trust, risk_score, duration_ns, at
		 FROM trace_steps WHERE trace_id = ? AND episode = ? ORDER BY step`, traceID, episode,
	)
	if err != nil {
		return nil, fmt.Errorf("get steps %s/%d: %w", traceID, episode, err)
	}
	defer rows.Close()

	var out []training.StepRecord
	for rows.Next() {
		var rec training.StepRecord
		var done int
		var activity, trust, score sql.NullFloat64
		var durationNs int64
		var atStr string
		if err := rows.Scan(&rec.Episode, &rec.Step, &rec.State, &rec.Action, &rec.Reward, &rec.NextState,
			&done, &rec.TDError, &rec.Value, &activity, &trust, &score, &durationNs, &atStr); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		rec.Done = done != 0
		if score.Valid {
			rec.Risk = &training.RiskSample{Activity: activity.Float64, Trust: trust.Float64, Risk: score.Float64}
		}
		rec.Duration = time.Duration(durationNs)
		rec.At, _ = time.Parse(timeLayout, atStr)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// #endregion get-steps

// #region policy-versions
// SavePolicy stores values as a new policy version whose parent is the
// current active version, and makes it active.
func (s *Store) SavePolicy(traceID string, values [][]float64) (PolicyRecord, error) {
	states, actions, err := shape(values)
	if err != nil {
		return PolicyRecord{}, err
	}

	rec := PolicyRecord{
		VersionID: uuid.New().String(),
		TraceID:   traceID,
		States:    states,
		Actions:   actions,
		Values:    values,
		CreatedAt: time.Now().UTC(),
	}

	tx, err := s.db.Begin()
	if err != nil {
		return PolicyRecord{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var parent sql.NullString
	err = tx.QueryRow(`SELECT version_id FROM active_policy WHERE id = 1`).Scan(&parent)
	if err != nil && err != sql.ErrNoRows {
		return PolicyRecord{}, fmt.Errorf("get active: %w", err)
	}
	var parentPtr interface{}
	if parent.Valid {
		rec.ParentID = parent.String
		parentPtr = parent.String
	}

	_, err = tx.Exec(
		`INSERT INTO policy_versions (version_id, parent_id, trace_id, states, actions, q_values, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.VersionID, parentPtr, nullIfEmpty(traceID), states, actions,
		encodeTable(values), rec.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return PolicyRecord{}, fmt.Errorf("insert policy: %w", err)
	}

	_, err = tx.Exec(
		`INSERT INTO active_policy (id, version_id) VALUES (1, ?)
		 ON CONFLICT(id) DO UPDATE SET version_id = excluded.version_id`,
		rec.VersionID,
	)
	if err != nil {
		return PolicyRecord{}, fmt.Errorf("set active: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return PolicyRecord{}, fmt.Errorf("commit: %w", err)
	}
	return rec, nil
}

// ActivePolicy reads the active policy version.
func (s *Store) ActivePolicy() (PolicyRecord, error) {
	var versionID string
	err := s.db.QueryRow(`SELECT version_id FROM active_policy WHERE id = 1`).Scan(&versionID)
	if err != nil {
		return PolicyRecord{}, fmt.Errorf("get active: %w", err)
	}
	return s.GetPolicy(versionID)
}

// GetPolicy retrieves a specific policy version by ID.
func (s *Store) GetPolicy(id string) (PolicyRecord, error) {
	var rec PolicyRecord
	var parentID, traceID sql.NullString
	var blob []byte
	var createdStr string

	err := s.db.QueryRow(
		`SELECT version_id, parent_id, trace_id, states, actions, q_values, created_at
		 FROM policy_versions WHERE version_id = ?`, id,
	).Scan(&rec.VersionID, &parentID, &traceID, &rec.States, &rec.Actions, &blob, &createdStr)
	if err != nil {
		return PolicyRecord{}, fmt.Errorf("get policy %s: %w", id, err)
	}

	rec.ParentID = parentID.String
	rec.TraceID = traceID.String
	rec.Values = decodeTable(blob, rec.States, rec.Actions)
	rec.CreatedAt, _ = time.Parse(timeLayout, createdStr)
	return rec, nil
}

// Rollback sets the active pointer to a previous policy version.
func (s *Store) Rollback(targetVersionID string) error {
	var exists int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM policy_versions WHERE version_id = ?`, targetVersionID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check version: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("policy version %s not found", targetVersionID)
	}

	_, err = s.db.Exec(
		`INSERT INTO active_policy (id, version_id) VALUES (1, ?)
		 ON CONFLICT(id) DO UPDATE SET version_id = excluded.version_id`,
		targetVersionID,
	)
	if err != nil {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}

// #endregion policy-versions

// #region encoding
func shape(values [][]float64) (int, int, error) {
	if len(values) == 0 || len(values[0]) == 0 {
		return 0, 0, fmt.Errorf("save policy: empty table")
	}
	actions := len(values[0])
	for s, row := range values {
		if len(row) != actions {
			return 0, 0, fmt.Errorf("save policy: state %d has %d actions, want %d", s, len(row), actions)
		}
	}
	return len(values), actions, nil
}

func encodeTable(values [][]float64) []byte {
	actions := len(values[0])
	buf := make([]byte, len(values)*actions*8)
	for s, row := range values {
		for a, v := range row {
			binary.LittleEndian.PutUint64(buf[(s*actions+a)*8:], math.Float64bits(v))
		}
	}
	return buf
}

func decodeTable(b []byte, states, actions int) [][]float64 {
	out := make([][]float64, states)
	for s := range out {
		out[s] = make([]float64, actions)
		for a := range out[s] {
			i := (s*actions + a) * 8
			if i+8 <= len(b) {
				out[s][a] = math.Float64frombits(binary.LittleEndian.Uint64(b[i:]))
			}
		}
	}
	return out
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// #endregion encoding

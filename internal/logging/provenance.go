// Package logging records layered access decisions with enough provenance to
// replay them.
package logging

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/danielpatrickdp/adaptive-authz/internal/risk"
)

// #region schema
// timeLayout is fixed-width so created_at sorts chronologically as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const schema = `
CREATE TABLE IF NOT EXISTS decision_log (
	id            TEXT PRIMARY KEY,
	source        TEXT NOT NULL,
	label         TEXT NOT NULL,
	allow         INTEGER NOT NULL,
	combined      REAL NOT NULL,
	reason        TEXT,
	context_json  TEXT,
	created_at    TEXT NOT NULL
);
`

// EnsureSchema creates the decision_log table if it does not exist.
func EnsureSchema(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("migrate decision log: %w", err)
	}
	return nil
}

// #endregion schema

// #region new-entry
// NewEntry builds a log entry for a decision, embedding the full record.
func NewEntry(source string, ctx risk.AccessContext, th risk.Thresholds, d risk.Decision) (DecisionEntry, error) {
	rec := DecisionRecord{
		ID:      uuid.New().String(),
		Context: ctx,
		Thresholds: DecisionThresholds{
			LowMedium:  th.LowMedium,
			MediumHigh: th.MediumHigh,
		},
		Decision:  d,
		CreatedAt: time.Now().UTC(),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return DecisionEntry{}, fmt.Errorf("marshal decision record: %w", err)
	}
	return DecisionEntry{
		ID:          rec.ID,
		Source:      source,
		Label:       d.Label,
		Allow:       d.Allow,
		Combined:    d.Combined,
		Reason:      d.Reason,
		ContextJSON: string(data),
		CreatedAt:   rec.CreatedAt,
	}, nil
}

// #endregion new-entry

// #region log-decision
// LogDecision writes entry to the decision_log table and returns its ID.
func LogDecision(db *sql.DB, entry DecisionEntry) (string, error) {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	allow := 0
	if entry.Allow {
		allow = 1
	}
	_, err := db.Exec(
		`INSERT INTO decision_log (id, source, label, allow, combined, reason, context_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.Source,
		string(entry.Label),
		allow,
		entry.Combined,
		nullIfEmpty(entry.Reason),
		nullIfEmpty(entry.ContextJSON),
		entry.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return "", fmt.Errorf("log decision: %w", err)
	}
	return entry.ID, nil
}

// #endregion log-decision

// #region recent-records
// RecentRecords returns the decision records of the last n logged decisions
// in chronological order. Rows without a parsable record are skipped.
func RecentRecords(db *sql.DB, n int) ([]DecisionRecord, error) {
	rows, err := db.Query(
		`SELECT context_json FROM (
			SELECT context_json, created_at FROM decision_log
			ORDER BY created_at DESC LIMIT ?
		) sub ORDER BY created_at ASC`, n,
	)
	if err != nil {
		return nil, fmt.Errorf("query decisions: %w", err)
	}
	defer rows.Close()

	var out []DecisionRecord
	for rows.Next() {
		var raw sql.NullString
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		if !raw.Valid || raw.String == "" {
			continue
		}
		var rec DecisionRecord
		if err := json.Unmarshal([]byte(raw.String), &rec); err != nil {
			continue
		}
		if rec.ID == "" {
			continue
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// #endregion recent-records

// #region helpers
func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// #endregion helpers

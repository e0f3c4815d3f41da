package tracestore

import "time"

// #region trace-record
// TraceRecord is the header row of a persisted training run.
type TraceRecord struct {
	TraceID     string    `json:"trace_id"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	Episodes    int       `json:"episodes"`
	Steps       int       `json:"steps"`
	TotalReward float64   `json:"total_reward"`
}

// #endregion trace-record

// #region policy-record
// PolicyRecord is a versioned snapshot of a Q-value table.
type PolicyRecord struct {
	VersionID string      `json:"version_id"`
	ParentID  string      `json:"parent_id,omitempty"`
	TraceID   string      `json:"trace_id,omitempty"` // run that produced this table, empty for imports
	States    int         `json:"states"`
	Actions   int         `json:"actions"`
	Values    [][]float64 `json:"values"`
	CreatedAt time.Time   `json:"created_at"`
}

// #endregion policy-record

package logging

import (
	"time"

	"github.com/danielpatrickdp/adaptive-authz/internal/risk"
)

// #region decision-entry
// DecisionEntry is a single row in the decision_log table.
type DecisionEntry struct {
	ID          string
	Source      string // "cli" | "replay" | caller-defined
	Label       risk.Label
	Allow       bool
	Combined    float64
	Reason      string
	ContextJSON string // serialized DecisionRecord
	CreatedAt   time.Time
}

// #endregion decision-entry

// #region decision-record
// DecisionRecord captures the complete evaluation inputs and outputs of one
// layered decision. Serialized as JSON into decision_log.context_json so the
// decision can be replayed later.
type DecisionRecord struct {
	ID         string             `json:"id"`
	Context    risk.AccessContext `json:"context"`
	Thresholds DecisionThresholds `json:"thresholds"`
	Decision   risk.Decision      `json:"decision"`
	CreatedAt  time.Time          `json:"created_at"`
}

// DecisionThresholds captures the band boundaries active at decision time.
type DecisionThresholds struct {
	LowMedium  float64 `json:"low_medium"`
	MediumHigh float64 `json:"medium_high"`
}

// #endregion decision-record

package risk

import (
	"errors"

	"github.com/danielpatrickdp/adaptive-authz/internal/fuzzy"
)

// #region variable-names
// Input and output variable names shared by the default rule bases.
const (
	VarActivity       = "activity"
	VarTimeOfDay      = "time_of_day"
	VarLocation       = "location"
	VarFailedAttempts = "failed_attempts"
	VarResourceLoad   = "resource_load"
	VarTrust          = "trust"
	VarRisk           = "risk"
)

// #endregion variable-names

// #region access-context
// AccessContext is the typed input record for one access attempt. Every field
// is a crisp value on the domain of the matching linguistic variable.
type AccessContext struct {
	Activity       float64 `json:"activity"`        // 0-100, recent activity level
	TimeOfDay      float64 `json:"time_of_day"`     // 0-24, hour of the attempt
	Location       float64 `json:"location"`        // 0 = trusted site, 100 = unknown
	FailedAttempts float64 `json:"failed_attempts"` // 0-10, recent failures
	ResourceLoad   float64 `json:"resource_load"`   // 0-100, host CPU/memory pressure
}

// Inputs exposes the context under the default variable names.
func (c AccessContext) Inputs() fuzzy.Inputs {
	return fuzzy.Inputs{
		VarActivity:       c.Activity,
		VarTimeOfDay:      c.TimeOfDay,
		VarLocation:       c.Location,
		VarFailedAttempts: c.FailedAttempts,
		VarResourceLoad:   c.ResourceLoad,
	}
}

// #endregion access-context

// #region label
// Label is a discrete risk band.
type Label string

const (
	LabelLow    Label = "Low"
	LabelMedium Label = "Medium"
	LabelHigh   Label = "High"
)

// #endregion label

// #region thresholds
// ErrInvalidThresholds reports band boundaries that are not strictly ordered.
var ErrInvalidThresholds = errors.New("invalid risk thresholds")

// Thresholds splits the combined score into three ordered bands.
type Thresholds struct {
	LowMedium  float64 // scores at or below are Low
	MediumHigh float64 // scores above are High
}

// DefaultThresholds returns band boundaries for the 0-100 risk scale.
func DefaultThresholds() Thresholds {
	return Thresholds{
		LowMedium:  40,
		MediumHigh: 70,
	}
}

// #endregion thresholds

// #region decision
// Decision is the output of the layered evaluator.
type Decision struct {
	Authorization float64 `json:"authorization"`
	Anomaly       float64 `json:"anomaly"`
	Combined      float64 `json:"combined"`
	Label         Label   `json:"label"`
	Allow         bool    `json:"allow"`
	Reason        string  `json:"reason"`
}

// #endregion decision

package replay

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/danielpatrickdp/adaptive-authz/internal/logging"
	"github.com/danielpatrickdp/adaptive-authz/internal/risk"
)

// #region fixture-types

// Fixture is the top-level JSON structure for a replay fixture.
type Fixture struct {
	Description string            `json:"description"`
	Thresholds  FixtureThresholds `json:"thresholds"`
	Cases       []FixtureCase     `json:"cases"`
}

// FixtureThresholds mirrors risk.Thresholds with JSON tags. Zero values fall
// back to the defaults.
type FixtureThresholds struct {
	LowMedium  float64 `json:"low_medium"`
	MediumHigh float64 `json:"medium_high"`
}

// FixtureContext mirrors risk.AccessContext with JSON tags.
type FixtureContext struct {
	Activity       float64 `json:"activity"`
	TimeOfDay      float64 `json:"time_of_day"`
	Location       float64 `json:"location"`
	FailedAttempts float64 `json:"failed_attempts"`
	ResourceLoad   float64 `json:"resource_load"`
}

// FixtureCase is one access attempt with its expected band.
type FixtureCase struct {
	ID       string         `json:"id"`
	Context  FixtureContext `json:"context"`
	Expected string         `json:"expected"` // "Low" | "Medium" | "High"
}

// #endregion fixture-types

// #region fixture-loader

// LoadFixture reads and parses a JSON fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	for i, c := range f.Cases {
		switch risk.Label(c.Expected) {
		case risk.LabelLow, risk.LabelMedium, risk.LabelHigh:
		default:
			return nil, fmt.Errorf("fixture %s case %d (%s): unknown expected label %q", path, i, c.ID, c.Expected)
		}
	}
	return &f, nil
}

// WriteFixture writes f as indented JSON.
func WriteFixture(f Fixture, path string) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal fixture: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write fixture %s: %w", path, err)
	}
	return nil
}

// ToThresholds converts the fixture thresholds to domain thresholds.
func (ft FixtureThresholds) ToThresholds() risk.Thresholds {
	if ft.LowMedium == 0 && ft.MediumHigh == 0 {
		return risk.DefaultThresholds()
	}
	return risk.Thresholds{LowMedium: ft.LowMedium, MediumHigh: ft.MediumHigh}
}

// ToAccessContext converts a FixtureContext to a domain AccessContext.
func (fc FixtureContext) ToAccessContext() risk.AccessContext {
	return risk.AccessContext{
		Activity:       fc.Activity,
		TimeOfDay:      fc.TimeOfDay,
		Location:       fc.Location,
		FailedAttempts: fc.FailedAttempts,
		ResourceLoad:   fc.ResourceLoad,
	}
}

// ToCase converts a FixtureCase to a domain Case.
func (fc FixtureCase) ToCase() Case {
	return Case{
		ID:       fc.ID,
		Context:  fc.Context.ToAccessContext(),
		Expected: risk.Label(fc.Expected),
	}
}

// ToCases converts every fixture case.
func (f *Fixture) ToCases() []Case {
	out := make([]Case, len(f.Cases))
	for i := range f.Cases {
		out[i] = f.Cases[i].ToCase()
	}
	return out
}

// #endregion fixture-loader

// #region fixture-export

// FixtureFromRecords builds a fixture from logged decisions, expecting each
// case to reproduce the label it was logged with. Thresholds come from the
// first record.
func FixtureFromRecords(description string, recs []logging.DecisionRecord) Fixture {
	f := Fixture{Description: description, Cases: make([]FixtureCase, len(recs))}
	if len(recs) > 0 {
		f.Thresholds = FixtureThresholds{
			LowMedium:  recs[0].Thresholds.LowMedium,
			MediumHigh: recs[0].Thresholds.MediumHigh,
		}
	}
	for i, r := range recs {
		f.Cases[i] = FixtureCase{
			ID: r.ID,
			Context: FixtureContext{
				Activity:       r.Context.Activity,
				TimeOfDay:      r.Context.TimeOfDay,
				Location:       r.Context.Location,
				FailedAttempts: r.Context.FailedAttempts,
				ResourceLoad:   r.Context.ResourceLoad,
			},
			Expected: string(r.Decision.Label),
		}
	}
	return f
}

// #endregion fixture-export

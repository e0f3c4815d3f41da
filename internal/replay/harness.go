// Package replay re-runs recorded access attempts through the layered
// evaluator and reports drift from their expected risk bands.
package replay

import (
	"github.com/danielpatrickdp/adaptive-authz/internal/risk"
)

// #region types
// Case is a single recorded access attempt for replay.
type Case struct {
	ID       string
	Context  risk.AccessContext
	Expected risk.Label
}

// Result captures the outcome of replaying one case.
type Result struct {
	CaseID   string
	Expected risk.Label
	Decision risk.Decision // zero if Err is set
	Match    bool
	Err      error
}

// Summary provides aggregate stats from a replay run.
type Summary struct {
	Total      int
	Matches    int
	Mismatches int
	Errors     int
	ByLabel    map[risk.Label]int // observed labels
}

// OK reports whether every case reproduced its expected label.
func (s Summary) OK() bool {
	return s.Mismatches == 0 && s.Errors == 0
}

// #endregion types

// #region replay
// Replay evaluates every case in order. Evaluation errors are recorded per
// case and do not stop the run.
func Replay(evaluator *risk.LayeredEvaluator, cases []Case) []Result {
	results := make([]Result, 0, len(cases))
	for _, c := range cases {
		d, err := evaluator.Evaluate(c.Context)
		if err != nil {
			results = append(results, Result{CaseID: c.ID, Expected: c.Expected, Err: err})
			continue
		}
		results = append(results, Result{
			CaseID:   c.ID,
			Expected: c.Expected,
			Decision: d,
			Match:    d.Label == c.Expected,
		})
	}
	return results
}

// Summarize computes aggregate stats from replay results.
func Summarize(results []Result) Summary {
	s := Summary{Total: len(results), ByLabel: make(map[risk.Label]int)}
	for _, r := range results {
		switch {
		case r.Err != nil:
			s.Errors++
			continue
		case r.Match:
			s.Matches++
		default:
			s.Mismatches++
		}
		s.ByLabel[r.Decision.Label]++
	}
	return s
}

// #endregion replay

// Package matching holds the decision-aggregation rules: how a comper's status
// vector resolves, how one group decision is applied, and how a resolution is
// announced exactly once.
package matching

import (
	"fmt"

	"github.com/erichli1/acamafia/internal/domain/model"
)

// Outcome is the evaluator's verdict on a status vector.
type Outcome int

const (
	// Pending means a group ranked above every acceptance has not decided yet.
	Pending Outcome = iota
	// Matched means the first non-rejecting slot in rank order accepted.
	Matched
	// NoMatch means every ranked group rejected.
	NoMatch
)

func (o Outcome) String() string {
	switch o {
	case Matched:
		return "matched"
	case NoMatch:
		return "no_match"
	default:
		return "pending"
	}
}

// Resolution is the result of Evaluate. Index is the matched rank position,
// or -1 unless Outcome is Matched.
type Resolution struct {
	Outcome Outcome
	Index   int
}

// Resolved reports whether the comper's fate is fully determined.
func (r Resolution) Resolved() bool {
	return r.Outcome != Pending
}

// Group names the announced group for ranking, or model.NoMatch.
func (r Resolution) Group(ranking []string) (string, error) {
	switch r.Outcome {
	case Matched:
		if r.Index < 0 || r.Index >= len(ranking) {
			return "", fmt.Errorf("resolution index %d outside ranking of %d", r.Index, len(ranking))
		}
		return ranking[r.Index], nil
	case NoMatch:
		return model.NoMatch, nil
	default:
		return "", ErrUnresolved
	}
}

// Evaluate scans statuses in preference order. Rejections are skipped; the
// first acceptance wins; an undecided slot reached before any acceptance
// leaves the comper pending. An exhausted scan, including an empty vector,
// resolves to no match.
func Evaluate(statuses []model.Status) Resolution {
	for i, s := range statuses {
		switch s {
		case model.StatusRejected:
			continue
		case model.StatusAccepted:
			return Resolution{Outcome: Matched, Index: i}
		default:
			return Resolution{Outcome: Pending, Index: -1}
		}
	}
	return Resolution{Outcome: NoMatch, Index: -1}
}

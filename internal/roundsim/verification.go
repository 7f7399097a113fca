package roundsim

import (
	"fmt"
	"strings"

	"github.com/erichli1/acamafia/internal/domain/matching"
	"github.com/erichli1/acamafia/internal/domain/model"
)

// Expected evaluates the applied decisions locally. The result maps each
// resolved comper to the group it must be announced with.
func Expected(plan *Plan, applied []Decision) map[string]string {
	index := make(map[string]*model.Comper, len(plan.Compers))
	for _, s := range plan.Compers {
		index[s.Email] = model.NewComper(s.Email, s.PreferredName, s.RankedGroups, s.UnrankedGroups)
	}
	for _, d := range applied {
		c, ok := index[d.Comper]
		if !ok {
			continue
		}
		if i := c.GroupIndex(d.Group); i >= 0 {
			c.Statuses[i] = model.StatusFor(d.Accept)
		}
	}

	out := make(map[string]string)
	for id, c := range index {
		res := matching.Evaluate(c.Statuses)
		if group, err := res.Group(c.RankedGroups); err == nil {
			out[id] = group
		}
	}
	return out
}

// Verify checks the feed against the expected outcomes: every resolved comper
// appears exactly once with the expected group, and no one else appears.
func Verify(feed []model.UpdateEntry, expected map[string]string) error {
	var problems []string
	seen := make(map[string]int, len(feed))
	for _, e := range feed {
		seen[e.Email]++
		want, ok := expected[e.Email]
		switch {
		case !ok:
			problems = append(problems, fmt.Sprintf("%s announced but never resolved", e.Email))
		case e.Group != want:
			problems = append(problems, fmt.Sprintf("%s announced as %q, want %q", e.Email, e.Group, want))
		}
	}
	for id := range expected {
		switch n := seen[id]; {
		case n == 0:
			problems = append(problems, fmt.Sprintf("%s resolved but never announced", id))
		case n > 1:
			problems = append(problems, fmt.Sprintf("%s announced %d times", id, n))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("%d feed problems: %s", len(problems), strings.Join(problems, "; "))
	}
	return nil
}

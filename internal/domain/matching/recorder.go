package matching

import (
	"fmt"
	"slices"
	"time"

	"github.com/erichli1/acamafia/internal/domain/model"
)

// Verdict reports the effect of one decision on a comper.
type Verdict struct {
	Index      int
	Resolution Resolution
	// Schedule is true when this decision resolved the comper and nothing has
	// been scheduled or announced for it yet. The caller must schedule in the
	// same transaction that persists the vector.
	Schedule bool
}

// Decide applies group's decision to c in place and evaluates the new vector.
// c is left untouched when a precondition fails.
func Decide(c *model.Comper, group string, accept bool) (Verdict, error) {
	idx := c.GroupIndex(group)
	if idx < 0 {
		return Verdict{}, fmt.Errorf("%w: %s is not ranked by %s", ErrNotAuthorized, group, c.Identity)
	}
	if len(c.Statuses) != len(c.RankedGroups) {
		return Verdict{}, fmt.Errorf("status vector of %s has %d slots for %d groups", c.Identity, len(c.Statuses), len(c.RankedGroups))
	}
	if c.Statuses[idx] != model.StatusUndecided {
		return Verdict{}, fmt.Errorf("%w: %s already %s %s", ErrAlreadyDecided, group, c.Statuses[idx], c.Identity)
	}

	c.Statuses[idx] = model.StatusFor(accept)
	res := Evaluate(c.Statuses)
	return Verdict{
		Index:      idx,
		Resolution: res,
		Schedule:   res.Resolved() && !c.Matched && !c.MatchScheduled,
	}, nil
}

// MarkScheduled records that announcement jobID will fire at dueAt. It is the
// check-and-set half of the duplicate-announcement guard.
func MarkScheduled(c *model.Comper, jobID string, dueAt time.Time) {
	c.MatchScheduled = true
	c.AnnouncementID = jobID
	c.AnnounceAt = dueAt
}

// NewAnnouncement builds the job for a comper whose vector is resolved.
func NewAnnouncement(c *model.Comper, res Resolution, jobID string, dueAt time.Time) (model.Announcement, error) {
	group, err := res.Group(c.RankedGroups)
	if err != nil {
		return model.Announcement{}, err
	}
	return model.Announcement{
		JobID:          jobID,
		ComperID:       c.Identity,
		Name:           c.PreferredName,
		Email:          c.Identity,
		Group:          group,
		RelevantGroups: slices.Clone(c.RankedGroups),
		DueAt:          dueAt,
	}, nil
}

// ValidateRanking checks a submission against the configured group universe.
// An empty universe accepts any group name.
func ValidateRanking(ranked, unranked, universe []string) error {
	if len(ranked) == 0 {
		return ErrEmptyRanking
	}
	seen := make(map[string]bool, len(ranked)+len(unranked))
	for _, g := range ranked {
		if g == "" {
			return fmt.Errorf("%w: empty group name", ErrInvalidRanking)
		}
		if seen[g] {
			return fmt.Errorf("%w: %s ranked twice", ErrInvalidRanking, g)
		}
		if len(universe) > 0 && !slices.Contains(universe, g) {
			return fmt.Errorf("%w: unknown group %s", ErrInvalidRanking, g)
		}
		seen[g] = true
	}
	for _, g := range unranked {
		if seen[g] {
			return fmt.Errorf("%w: %s both ranked and declined", ErrInvalidRanking, g)
		}
		if len(universe) > 0 && !slices.Contains(universe, g) {
			return fmt.Errorf("%w: unknown group %s", ErrInvalidRanking, g)
		}
		seen[g] = true
	}
	return nil
}

package matching

import (
	"fmt"
	"slices"

	"github.com/erichli1/acamafia/internal/domain/model"
)

// SkipReason explains why an announcement delivery changed nothing.
type SkipReason string

const (
	SkipNone           SkipReason = ""
	SkipAlreadyMatched SkipReason = "already_matched"
	SkipNotScheduled   SkipReason = "not_scheduled"
	SkipSuperseded     SkipReason = "superseded"
)

// Announce applies job to c in place: it sets Matched and MatchedGroup and
// returns the feed entry that must be appended in the same transaction.
//
// Redelivery is expected. A job for a comper that is already matched, was
// reset, or now carries a different announcement id returns a nil entry and
// the reason, and leaves c untouched.
func Announce(c *model.Comper, job model.Announcement) (*model.UpdateEntry, SkipReason, error) {
	switch {
	case c.Matched:
		return nil, SkipAlreadyMatched, nil
	case !c.MatchScheduled:
		return nil, SkipNotScheduled, nil
	case c.AnnouncementID != job.JobID:
		return nil, SkipSuperseded, nil
	}

	res := Evaluate(c.Statuses)
	group, err := res.Group(c.RankedGroups)
	if err != nil {
		return nil, SkipNone, fmt.Errorf("announce %s: %w", c.Identity, err)
	}

	c.Matched = true
	c.MatchedGroup = group
	return &model.UpdateEntry{
		Name:           c.PreferredName,
		Email:          c.Identity,
		Group:          group,
		RelevantGroups: slices.Clone(c.RankedGroups),
	}, SkipNone, nil
}

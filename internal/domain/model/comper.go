// Package model contains domain models passed between layers.
package model

import (
	"slices"
	"time"
)

// Status is one slot of a comper's status vector.
type Status string

// Status values. A slot leaves StatusUndecided at most once.
const (
	StatusUndecided Status = "undecided"
	StatusAccepted  Status = "accepted"
	StatusRejected  Status = "rejected"
)

// NoMatch is the matchedGroup marker for a comper every group rejected.
const NoMatch = "None"

// StatusFor maps a boolean group decision to its slot value.
func StatusFor(accept bool) Status {
	if accept {
		return StatusAccepted
	}
	return StatusRejected
}

// Comper is an auditionee and their per-group decision state.
//
// Statuses[i] is the decision of RankedGroups[i]. Matched and MatchedGroup are
// written once, by the announcer.
type Comper struct {
	Identity       string    `json:"identity"`
	PreferredName  string    `json:"preferred_name"`
	RankedGroups   []string  `json:"ranked_groups"`
	UnrankedGroups []string  `json:"unranked_groups"`
	Statuses       []Status  `json:"statuses"`
	Matched        bool      `json:"matched"`
	MatchedGroup   string    `json:"matched_group,omitempty"`
	MatchScheduled bool      `json:"match_scheduled"`
	AnnouncementID string    `json:"-"`
	AnnounceAt     time.Time `json:"-"`
	Version        int64     `json:"version"`
	CreatedAt      time.Time `json:"created_at"`
}

// NewComper builds a fresh comper with every slot undecided.
func NewComper(identity, name string, ranked, unranked []string) *Comper {
	statuses := make([]Status, len(ranked))
	for i := range statuses {
		statuses[i] = StatusUndecided
	}
	if unranked == nil {
		unranked = []string{}
	}
	return &Comper{
		Identity:       identity,
		PreferredName:  name,
		RankedGroups:   slices.Clone(ranked),
		UnrankedGroups: slices.Clone(unranked),
		Statuses:       statuses,
	}
}

// Clone returns a deep copy so stores never hand out shared slices.
func (c *Comper) Clone() *Comper {
	if c == nil {
		return nil
	}
	out := *c
	out.RankedGroups = slices.Clone(c.RankedGroups)
	out.UnrankedGroups = slices.Clone(c.UnrankedGroups)
	out.Statuses = slices.Clone(c.Statuses)
	return &out
}

// GroupIndex returns the rank position of group, or -1.
func (c *Comper) GroupIndex(group string) int {
	return slices.Index(c.RankedGroups, group)
}

// Declined reports whether the comper explicitly declined group.
func (c *Comper) Declined(group string) bool {
	return slices.Contains(c.UnrankedGroups, group)
}

// AnnouncementState tracks the announcement side of a comper independently of
// the evaluator's verdict.
type AnnouncementState int

const (
	NotScheduled AnnouncementState = iota
	Scheduled
	Announced
)

func (s AnnouncementState) String() string {
	switch s {
	case Scheduled:
		return "scheduled"
	case Announced:
		return "announced"
	default:
		return "not_scheduled"
	}
}

// AnnouncementState derives the announcement flag from the stored booleans.
func (c *Comper) AnnouncementState() AnnouncementState {
	switch {
	case c.Matched:
		return Announced
	case c.MatchScheduled:
		return Scheduled
	default:
		return NotScheduled
	}
}

// Reset returns the comper to the state it had right after submission.
func (c *Comper) Reset() {
	for i := range c.Statuses {
		c.Statuses[i] = StatusUndecided
	}
	c.Matched = false
	c.MatchedGroup = ""
	c.MatchScheduled = false
	c.AnnouncementID = ""
	c.AnnounceAt = time.Time{}
}

package model

import (
	"slices"
	"time"
)

// UpdateEntry is one immutable line of the update feed.
type UpdateEntry struct {
	ID             string    `json:"id"`
	Seq            int64     `json:"seq"`
	Name           string    `json:"name"`
	Email          string    `json:"email"`
	Group          string    `json:"group"`
	RelevantGroups []string  `json:"relevant_groups"`
	CreatedAt      time.Time `json:"created_at"`
}

// RelevantTo reports whether the entry concerns group.
func (e UpdateEntry) RelevantTo(group string) bool {
	return slices.Contains(e.RelevantGroups, group)
}

// Affiliation ties a representative's identity to the group they decide for.
type Affiliation struct {
	Email string `json:"email"`
	Group string `json:"group"`
	Admin bool   `json:"admin"`
}

// DelayConfig bounds the randomized announcement delay, in milliseconds.
type DelayConfig struct {
	BaselineMS int64 `json:"baseline_ms"`
	RangeMS    int64 `json:"range_ms"`
}

// Announcement is the job the scheduler delivers to the announcer.
type Announcement struct {
	JobID          string    `json:"job_id"`
	ComperID       string    `json:"comper_id"`
	Name           string    `json:"name"`
	Email          string    `json:"email"`
	Group          string    `json:"group"`
	RelevantGroups []string  `json:"relevant_groups"`
	DueAt          time.Time `json:"due_at"`
}

// RankedComper is one row of a group's working view.
type RankedComper struct {
	Identity      string `json:"identity"`
	PreferredName string `json:"preferred_name"`
	Rank          int    `json:"rank"`
	Status        Status `json:"status"`
	Matched       bool   `json:"matched"`
}

// DeclinedComper is a comper who explicitly declined the group.
type DeclinedComper struct {
	Identity      string `json:"identity"`
	PreferredName string `json:"preferred_name"`
}

// GroupView lists the compers a group can decide on and those who declined it.
type GroupView struct {
	Group    string           `json:"group"`
	Ranked   []RankedComper   `json:"ranked"`
	Unranked []DeclinedComper `json:"unranked"`
}

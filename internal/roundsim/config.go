// Package roundsim drives a running matching service through a full round
// over HTTP and checks the announced outcomes against a local evaluation.
package roundsim

import (
	"time"

	"github.com/erichli1/acamafia/internal/domain/model"
)

// Config holds configuration for a simulated round.
type Config struct {
	BaseURL      string            // Base URL of the service
	AdminToken   string            // Value for X-Admin-Token
	Groups       []string          // Groups to rank; must match the service's
	Compers      int               // Number of compers to submit
	DecisionRate float64           // Probability that a ranked group decides at all
	AcceptRate   float64           // Probability that a decision is an acceptance
	Workers      int               // Number of concurrent HTTP workers
	Timeout      time.Duration     // HTTP request timeout
	Settle       time.Duration     // How long to wait for the feed to fill
	Delay        model.DelayConfig // Announcement delay to configure
	Reset        bool              // Reset the round before starting
	Seed         int64             // Seed for the plan; 0 picks one from the clock
	Verbose      bool              // Log every request failure
}

// Stats holds round statistics.
type Stats struct {
	CompersSubmitted int
	DecisionsPlanned int
	DecisionsApplied int
	DecisionsFailed  int
	ExpectedResolved int
	ExpectedNoMatch  int
	FeedEntries      int
	StartTime        time.Time
	EndTime          time.Time
	Duration         time.Duration
}

// Decision is one group's planned verdict on one comper.
type Decision struct {
	Comper string
	Group  string
	Accept bool
}

// Plan is the generated workload: who ranks what, and who decides how.
type Plan struct {
	Compers   []Submission
	Decisions []Decision
}

// Submission is one comper's preference form.
type Submission struct {
	Email          string   `json:"-"`
	PreferredName  string   `json:"preferred_name"`
	RankedGroups   []string `json:"ranked_groups"`
	UnrankedGroups []string `json:"unranked_groups"`
}

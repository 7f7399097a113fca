// Package repository persists compers, the update feed, group affiliations
// and the announcement delay configuration.
package repository

import (
	"context"

	"github.com/erichli1/acamafia/internal/domain/model"
)

// MutateFunc edits a comper in place inside UpdateComper's transaction. A
// non-nil entry is appended to the update feed in the same transaction. An
// error discards every change.
type MutateFunc func(c *model.Comper) (*model.UpdateEntry, error)

// Stats summarizes the round.
type Stats struct {
	Compers   int `json:"compers"`
	Pending   int `json:"pending"`
	Scheduled int `json:"scheduled"`
	Matched   int `json:"matched"`
	Updates   int `json:"updates"`
}

// Store provides read/write access to the round state.
type Store interface {
	// CreateComper inserts a new comper. Returns ErrAlreadyExists when the
	// identity already submitted.
	CreateComper(ctx context.Context, c *model.Comper) error

	// GetComper returns a copy of the comper. Returns ErrNotFound if unknown.
	GetComper(ctx context.Context, id string) (*model.Comper, error)

	// ListCompers returns copies of every comper in submission order.
	ListCompers(ctx context.Context) ([]*model.Comper, error)

	// UpdateComper runs fn against the current record while holding that
	// record exclusively, then commits the record (with Version incremented)
	// together with the entry fn returned. Returns the committed copies.
	UpdateComper(ctx context.Context, id string, fn MutateFunc) (*model.Comper, *model.UpdateEntry, error)

	// ListUpdates returns the feed in creation order.
	ListUpdates(ctx context.Context) ([]model.UpdateEntry, error)

	// PutAffiliation inserts or replaces the affiliation for a.Email.
	PutAffiliation(ctx context.Context, a model.Affiliation) error

	// GetAffiliation returns ErrNotFound when email has no affiliation.
	GetAffiliation(ctx context.Context, email string) (model.Affiliation, error)

	// GetDelayConfig reports ok=false when no delay was ever set.
	GetDelayConfig(ctx context.Context) (cfg model.DelayConfig, ok bool, err error)

	SetDelayConfig(ctx context.Context, cfg model.DelayConfig) error

	// ResetRound resets every comper to its just-submitted state and purges
	// the feed. Returns the number of compers reset.
	ResetRound(ctx context.Context) (int, error)

	Stats(ctx context.Context) (Stats, error)

	Close() error
}

// Package scheduler holds announcement jobs until they are due and then hands
// them to the job queue.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/erichli1/acamafia/internal/adapters/mq/queue"
	"github.com/erichli1/acamafia/internal/domain/model"
)

const (
	defaultRetryDelay    = 100 * time.Millisecond
	defaultMaxRetryDelay = 5 * time.Second
	defaultPollInterval  = 250 * time.Millisecond
	defaultBatchSize     = 100
	defaultKey           = "acamafia:announcements"
)

// Enqueuer receives jobs once they are due.
type Enqueuer interface {
	Enqueue(ctx context.Context, j queue.Job) error
}

// Scheduler delays announcement jobs. Scheduling an id that is already
// pending replaces the earlier job.
type Scheduler interface {
	Schedule(ctx context.Context, job model.Announcement) error

	// Start begins delivering due jobs until ctx is done or Close is called.
	Start(ctx context.Context) error

	Pending(ctx context.Context) int

	Close() error
}

// retryable reports whether a failed hand-off should be attempted again.
func retryable(err error) bool {
	return !errors.Is(err, queue.ErrClosed) && !errors.Is(err, context.Canceled)
}

func nextBackoff(d, limit time.Duration) time.Duration {
	d *= 2
	if d > limit {
		return limit
	}
	return d
}

package scheduler

import (
	"time"

	"github.com/erichli1/acamafia/pkg/logger"
)

type settings struct {
	retryDelay    time.Duration
	maxRetryDelay time.Duration
	pollInterval  time.Duration
	batchSize     int64
	key           string
	log           logger.Logger
	now           func() time.Time
}

func defaults() settings {
	return settings{
		retryDelay:    defaultRetryDelay,
		maxRetryDelay: defaultMaxRetryDelay,
		pollInterval:  defaultPollInterval,
		batchSize:     defaultBatchSize,
		key:           defaultKey,
		now:           time.Now,
	}
}

// Option configures a Scheduler.
type Option func(*settings)

// WithRetryDelay sets the first and the largest delay between hand-off attempts
// when the queue rejects a due job.
func WithRetryDelay(first, limit time.Duration) Option {
	return func(s *settings) {
		if first > 0 {
			s.retryDelay = first
		}
		if limit >= s.retryDelay {
			s.maxRetryDelay = limit
		}
	}
}

// WithPollInterval sets how often the Redis scheduler looks for due jobs.
func WithPollInterval(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// WithBatchSize caps the jobs claimed per Redis poll.
func WithBatchSize(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.batchSize = int64(n)
		}
	}
}

// WithKey sets the Redis sorted-set key. Payloads live under key + ":jobs".
func WithKey(key string) Option {
	return func(s *settings) {
		if key != "" {
			s.key = key
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.log = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *settings) {
		if now != nil {
			s.now = now
		}
	}
}

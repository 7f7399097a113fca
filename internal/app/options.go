package service

import (
	"math/rand"
	"time"

	"github.com/erichli1/acamafia/internal/adapters/mq/scheduler"
	"github.com/erichli1/acamafia/internal/adapters/repository"
	"github.com/erichli1/acamafia/pkg/logger"
)

// SchedulerFactory builds the scheduler once the service's queue exists.
type SchedulerFactory func(out scheduler.Enqueuer) (scheduler.Scheduler, error)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithStore sets the round store. The service closes it on Stop.
func WithStore(store repository.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.store = store
		}
	}
}

// WithScheduler sets how the announcement scheduler is built.
func WithScheduler(factory SchedulerFactory) Option {
	return func(s *Service) {
		if factory != nil {
			s.newScheduler = factory
		}
	}
}

// WithGroups sets the universe of groups compers may rank.
func WithGroups(groups []string) Option {
	return func(s *Service) {
		if len(groups) > 0 {
			s.groups = append([]string(nil), groups...)
		}
	}
}

// WithWorkerCount sets the number of announcement workers.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the capacity of the due-job queue.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithDedupeSize sets how many delivered job ids are remembered.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithAffiliationCacheTTL sets how long resolved affiliations are cached.
func WithAffiliationCacheTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.affiliationTTL = ttl
		}
	}
}

// WithRecovery sets how often overdue announcements are swept and how late
// one must be before it is rescheduled. A zero interval disables the loop;
// the sweep still runs once on Start.
func WithRecovery(interval, grace time.Duration) Option {
	return func(s *Service) {
		if interval >= 0 {
			s.recoveryInterval = interval
		}
		if grace >= 0 {
			s.recoveryGrace = grace
		}
	}
}

// WithDelayRand seeds the announcement delay draw.
func WithDelayRand(rng *rand.Rand) Option {
	return func(s *Service) {
		s.delayRand = rng
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/erichli1/acamafia/internal/domain/model"
	"github.com/erichli1/acamafia/pkg/logger"
	"github.com/erichli1/acamafia/pkg/metrics"
)

// MemoryScheduler keeps pending jobs as process-local timers. Pending jobs
// are lost on restart; the service's recovery sweep reschedules them.
type MemoryScheduler struct {
	cfg settings
	out Enqueuer

	mu     sync.Mutex
	timers map[string]pendingTimer
	gen    uint64
	ctx    context.Context
	cancel context.CancelFunc
	closed bool
}

// pendingTimer pairs a timer with the generation it was armed under, so a
// firing timer can tell whether it is still the current one for its job.
type pendingTimer struct {
	timer *time.Timer
	gen   uint64
}

// NewMemoryScheduler creates a scheduler that hands due jobs to out.
func NewMemoryScheduler(out Enqueuer, opts ...Option) *MemoryScheduler {
	cfg := defaults()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.log == nil {
		cfg.log = logger.Get().Named("scheduler")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &MemoryScheduler{
		cfg:    cfg,
		out:    out,
		timers: make(map[string]pendingTimer),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start ties the scheduler's lifetime to ctx.
func (s *MemoryScheduler) Start(ctx context.Context) error {
	go func() {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-s.ctx.Done():
		}
	}()
	return nil
}

func (s *MemoryScheduler) Schedule(_ context.Context, job model.Announcement) error { //nolint:gocritic // hugeParam: job is captured by the timer
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if p, ok := s.timers[job.JobID]; ok {
		p.timer.Stop()
	}
	wait := job.DueAt.Sub(s.cfg.now())
	if wait < 0 {
		wait = 0
	}
	s.gen++
	gen := s.gen
	s.timers[job.JobID] = pendingTimer{
		timer: time.AfterFunc(wait, func() { s.fire(job, gen) }),
		gen:   gen,
	}
	metrics.UpdateSchedulerPending(len(s.timers))
	return nil
}

func (s *MemoryScheduler) fire(job model.Announcement, gen uint64) { //nolint:gocritic // hugeParam
	backoff := s.cfg.retryDelay
	for {
		err := s.out.Enqueue(s.ctx, job)
		if err == nil {
			break
		}
		if !retryable(err) || s.ctx.Err() != nil {
			s.cfg.log.Warn(s.ctx, "dropping due announcement",
				logger.String("job_id", job.JobID),
				logger.String("comper", job.ComperID),
				logger.Error(err),
			)
			break
		}
		s.cfg.log.Debug(s.ctx, "queue rejected due announcement, retrying",
			logger.String("job_id", job.JobID),
			logger.Duration("backoff", backoff),
			logger.Error(err),
		)
		select {
		case <-s.ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = nextBackoff(backoff, s.cfg.maxRetryDelay)
	}

	s.mu.Lock()
	if p, ok := s.timers[job.JobID]; ok && p.gen == gen {
		delete(s.timers, job.JobID)
	}
	metrics.UpdateSchedulerPending(len(s.timers))
	s.mu.Unlock()
}

func (s *MemoryScheduler) Pending(_ context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Close stops every pending timer.
func (s *MemoryScheduler) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.cancel()
	for id, p := range s.timers {
		p.timer.Stop()
		delete(s.timers, id)
	}
	metrics.UpdateSchedulerPending(0)
	return nil
}

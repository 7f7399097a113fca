// Package service wires the matching rules to storage, the announcement
// scheduler and the worker pool, and exposes the operations the HTTP API
// calls.
package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/erichli1/acamafia/internal/adapters/mq/queue"
	"github.com/erichli1/acamafia/internal/adapters/mq/scheduler"
	"github.com/erichli1/acamafia/internal/adapters/mq/worker"
	"github.com/erichli1/acamafia/internal/adapters/repository"
	"github.com/erichli1/acamafia/internal/domain/dedupe"
	"github.com/erichli1/acamafia/internal/domain/delay"
	"github.com/erichli1/acamafia/internal/domain/matching"
	"github.com/erichli1/acamafia/internal/domain/model"
	"github.com/erichli1/acamafia/pkg/logger"
	"github.com/erichli1/acamafia/pkg/metrics"
)

// DefaultGroups is the group universe used when none is configured.
var DefaultGroups = []string{"Veritones", "Callbacks", "Lowkeys"}

const (
	defaultQueueSize        = 10000
	defaultDedupeSize       = 50000
	defaultAffiliationTTL   = 30 * time.Second
	defaultRecoveryInterval = 30 * time.Second
	defaultRecoveryGrace    = 10 * time.Second
)

// Service implements the API dependencies for the matching round.
type Service struct {
	mu sync.RWMutex

	store        repository.Store
	queue        *queue.InMemoryQueue
	deduper      dedupe.Deduper
	pool         *worker.Pool
	scheduler    scheduler.Scheduler
	newScheduler SchedulerFactory
	delays       *delay.Provider
	delayRand    *rand.Rand
	affiliations *cache.Cache

	groups           []string
	workerCount      int
	queueSize        int
	dedupeSize       int
	affiliationTTL   time.Duration
	recoveryInterval time.Duration
	recoveryGrace    time.Duration
	now              func() time.Time

	started bool
	cancel  context.CancelFunc
	loopWG  sync.WaitGroup

	logger logger.Logger
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		groups:           slices.Clone(DefaultGroups),
		workerCount:      runtime.NumCPU() * 2,
		queueSize:        defaultQueueSize,
		dedupeSize:       defaultDedupeSize,
		affiliationTTL:   defaultAffiliationTTL,
		recoveryInterval: defaultRecoveryInterval,
		recoveryGrace:    defaultRecoveryGrace,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start initializes the store, queue, worker pool and scheduler, runs one
// recovery sweep and starts the periodic sweep.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}
	s.logger.Info(ctx, "starting matching service...")

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	if s.store == nil {
		s.store = repository.NewMemStore(runCtx)
		s.logger.Info(ctx, "using in-memory store")
	}
	s.queue = queue.NewInMemoryQueue(queue.WithCapacity(s.queueSize))
	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))
	s.affiliations = cache.New(s.affiliationTTL, 2*s.affiliationTTL)

	s.delays = delay.NewProvider(s.store, delay.WithRand(s.delayRand))

	if s.newScheduler == nil {
		s.newScheduler = func(out scheduler.Enqueuer) (scheduler.Scheduler, error) {
			return scheduler.NewMemoryScheduler(out), nil
		}
	}
	sched, err := s.newScheduler(s.queue)
	if err != nil {
		cancel()
		return fmt.Errorf("build scheduler: %w", err)
	}
	if err := sched.Start(runCtx); err != nil {
		cancel()
		return fmt.Errorf("start scheduler: %w", err)
	}
	s.scheduler = sched

	s.pool = worker.NewPool(s.workerCount, s.queue, announcerFunc(s.Announce), s.deduper)
	s.pool.Start(runCtx)

	s.cancel = cancel
	s.started = true

	if _, err := s.recoverPending(runCtx); err != nil {
		s.logger.Warn(ctx, "initial announcement recovery failed", logger.Error(err))
	}
	if s.recoveryInterval > 0 {
		s.loopWG.Add(1)
		go s.recoveryLoop(runCtx)
	}

	s.logger.Info(ctx, "matching service started",
		logger.Int("workers", s.pool.Size()),
		logger.Int("queueSize", s.queueSize),
		logger.Int("dedupeSize", s.dedupeSize),
		logger.Any("groups", s.groups),
	)
	return nil
}

// Stop gracefully shuts down the service.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	ctx := context.Background()
	s.logger.Info(ctx, "stopping matching service...")

	s.cancel()
	s.loopWG.Wait()

	if err := s.scheduler.Close(); err != nil {
		s.logger.Error(ctx, "error closing scheduler", logger.Error(err))
	}
	if err := s.pool.Shutdown(ctx); err != nil {
		s.logger.Error(ctx, "error stopping worker pool", logger.Error(err))
	}
	if err := s.store.Close(); err != nil {
		s.logger.Error(ctx, "error closing store", logger.Error(err))
	}

	s.started = false
	s.logger.Info(ctx, "matching service stopped")
}

func (s *Service) running() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return ErrNotStarted
	}
	return nil
}

// Groups returns the configured group universe.
func (s *Service) Groups() []string {
	return slices.Clone(s.groups)
}

// SubmitPreferences creates the comper record for identity.
func (s *Service) SubmitPreferences(ctx context.Context, identity, name string, ranked, unranked []string) (*model.Comper, error) {
	if err := s.running(); err != nil {
		return nil, err
	}
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return nil, matching.ErrNotAuthenticated
	}
	if err := matching.ValidateRanking(ranked, unranked, s.groups); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = identity
	}

	c := model.NewComper(identity, name, ranked, unranked)
	c.CreatedAt = s.now()
	if err := s.store.CreateComper(ctx, c); err != nil {
		if errors.Is(err, repository.ErrAlreadyExists) {
			return nil, fmt.Errorf("%w: %s", matching.ErrDuplicateSubmission, identity)
		}
		return nil, fmt.Errorf("submit preferences: %w", err)
	}
	metrics.RecordSubmission()
	s.logger.Info(ctx, "preferences submitted",
		logger.String("comper", identity),
		logger.Any("ranked", ranked),
	)
	return s.store.GetComper(ctx, identity)
}

// GetComper returns the comper record for identity.
func (s *Service) GetComper(ctx context.Context, identity string) (*model.Comper, error) {
	if err := s.running(); err != nil {
		return nil, err
	}
	if identity == "" {
		return nil, matching.ErrNotAuthenticated
	}
	c, err := s.store.GetComper(ctx, identity)
	if err != nil {
		return nil, translate(err)
	}
	return c, nil
}

// RecordGroupDecision applies group's decision on comperID on behalf of the
// representative callerEmail. When the decision resolves the comper, the
// announcement is marked scheduled in the same transaction and handed to the
// scheduler after commit.
func (s *Service) RecordGroupDecision(ctx context.Context, callerEmail, comperID, group string, accept bool) error {
	if err := s.running(); err != nil {
		return err
	}
	aff, err := s.ResolveAffiliation(ctx, callerEmail)
	if err != nil {
		metrics.RecordDecisionError("unauthorized")
		return err
	}
	if group == "" {
		group = aff.Group
	}
	if aff.Group != group {
		metrics.RecordDecisionError("unauthorized")
		return fmt.Errorf("%w: %s represents %s, not %s", matching.ErrNotAuthorized, callerEmail, aff.Group, group)
	}

	var (
		verdict matching.Verdict
		job     model.Announcement
		wait    time.Duration
	)
	_, _, err = s.store.UpdateComper(ctx, comperID, func(c *model.Comper) (*model.UpdateEntry, error) {
		v, err := matching.Decide(c, group, accept)
		if err != nil {
			return nil, err
		}
		verdict = v
		if !v.Schedule {
			return nil, nil
		}
		if wait, err = s.delays.Next(ctx); err != nil {
			return nil, err
		}
		due := s.now().Add(wait)
		jobID := uuid.NewString()
		matching.MarkScheduled(c, jobID, due)
		job, err = matching.NewAnnouncement(c, v.Resolution, jobID, due)
		return nil, err
	})
	if err != nil {
		metrics.RecordDecisionError(reasonFor(err))
		return translate(err)
	}
	metrics.RecordDecision(accept)
	s.logger.Info(ctx, "decision recorded",
		logger.String("comper", comperID),
		logger.String("group", group),
		logger.Bool("accept", accept),
		logger.String("outcome", verdict.Resolution.Outcome.String()),
	)

	if verdict.Schedule {
		metrics.RecordAnnouncementScheduled(float64(wait.Milliseconds()))
		if err := s.scheduler.Schedule(ctx, job); err != nil {
			// The comper stays scheduled and unannounced, so the recovery
			// sweep picks it up.
			s.logger.Error(ctx, "failed to schedule announcement",
				logger.String("comper", comperID),
				logger.String("job_id", job.JobID),
				logger.Error(err),
			)
			return nil
		}
		s.logger.Info(ctx, "announcement scheduled",
			logger.String("comper", comperID),
			logger.String("job_id", job.JobID),
			logger.String("group", job.Group),
			logger.Duration("delay", wait),
		)
	}
	return nil
}

// Announce applies a due announcement job. Redelivered, stale and superseded
// jobs are no-ops.
func (s *Service) Announce(ctx context.Context, job model.Announcement) error { //nolint:gocritic // hugeParam: job arrives by value from the queue
	var skip matching.SkipReason
	_, entry, err := s.store.UpdateComper(ctx, job.ComperID, func(c *model.Comper) (*model.UpdateEntry, error) {
		e, reason, err := matching.Announce(c, job)
		if err != nil {
			return nil, err
		}
		if reason != matching.SkipNone {
			skip = reason
			return nil, errSkipped
		}
		return e, nil
	})
	switch {
	case errors.Is(err, errSkipped):
		metrics.RecordAnnouncementSkipped(string(skip))
		s.logger.Debug(ctx, "announcement skipped",
			logger.String("job_id", job.JobID),
			logger.String("comper", job.ComperID),
			logger.String("reason", string(skip)),
		)
		return nil
	case errors.Is(err, repository.ErrNotFound):
		metrics.RecordAnnouncementSkipped("unknown_comper")
		s.logger.Warn(ctx, "announcement for unknown comper", logger.String("comper", job.ComperID))
		return nil
	case err != nil:
		return fmt.Errorf("announce %s: %w", job.ComperID, err)
	}

	metrics.RecordAnnouncementApplied()
	metrics.RecordResolution(entry.Group != model.NoMatch)
	s.logger.Info(ctx, "comper announced",
		logger.String("comper", job.ComperID),
		logger.String("group", entry.Group),
		logger.Int64("seq", entry.Seq),
	)
	return nil
}

// ListUpdateFeed returns the feed newest-first. A non-empty group keeps only
// entries for compers who ranked that group.
func (s *Service) ListUpdateFeed(ctx context.Context, group string) ([]model.UpdateEntry, error) {
	if err := s.running(); err != nil {
		return nil, err
	}
	entries, err := s.store.ListUpdates(ctx)
	if err != nil {
		return nil, fmt.Errorf("list updates: %w", err)
	}
	out := make([]model.UpdateEntry, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		if group == "" || entries[i].RelevantTo(group) {
			out = append(out, entries[i])
		}
	}
	return out, nil
}

// ListCompersForGroup builds group's working view in submission order.
func (s *Service) ListCompersForGroup(ctx context.Context, group string) (model.GroupView, error) {
	if err := s.running(); err != nil {
		return model.GroupView{}, err
	}
	if !slices.Contains(s.groups, group) {
		return model.GroupView{}, fmt.Errorf("%w: unknown group %q", matching.ErrInvalidReference, group)
	}
	compers, err := s.store.ListCompers(ctx)
	if err != nil {
		return model.GroupView{}, fmt.Errorf("list compers: %w", err)
	}

	view := model.GroupView{Group: group, Ranked: []model.RankedComper{}, Unranked: []model.DeclinedComper{}}
	for _, c := range compers {
		if idx := c.GroupIndex(group); idx >= 0 {
			view.Ranked = append(view.Ranked, model.RankedComper{
				Identity:      c.Identity,
				PreferredName: c.PreferredName,
				Rank:          idx + 1,
				Status:        c.Statuses[idx],
				Matched:       c.Matched,
			})
		} else if c.Declined(group) {
			view.Unranked = append(view.Unranked, model.DeclinedComper{Identity: c.Identity, PreferredName: c.PreferredName})
		}
	}
	return view, nil
}

// RegisterAffiliation inserts or replaces a representative's affiliation.
func (s *Service) RegisterAffiliation(ctx context.Context, a model.Affiliation) error {
	if err := s.running(); err != nil {
		return err
	}
	a.Email = strings.TrimSpace(a.Email)
	if a.Email == "" {
		return fmt.Errorf("%w: affiliation needs an email", matching.ErrInvalidReference)
	}
	if !slices.Contains(s.groups, a.Group) && !(a.Admin && a.Group == "") {
		return fmt.Errorf("%w: unknown group %q", matching.ErrInvalidReference, a.Group)
	}
	if err := s.store.PutAffiliation(ctx, a); err != nil {
		return fmt.Errorf("register affiliation: %w", err)
	}
	s.affiliations.Delete(a.Email)
	s.logger.Info(ctx, "affiliation registered",
		logger.String("email", a.Email),
		logger.String("group", a.Group),
		logger.Bool("admin", a.Admin),
	)
	return nil
}

// ResolveAffiliation maps an identity to its group, through a short-lived
// cache.
func (s *Service) ResolveAffiliation(ctx context.Context, email string) (model.Affiliation, error) {
	if err := s.running(); err != nil {
		return model.Affiliation{}, err
	}
	if email == "" {
		return model.Affiliation{}, matching.ErrNotAuthenticated
	}
	if v, ok := s.affiliations.Get(email); ok {
		return v.(model.Affiliation), nil
	}
	a, err := s.store.GetAffiliation(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.Affiliation{}, fmt.Errorf("%w: %s has no group affiliation", matching.ErrNotAuthorized, email)
		}
		return model.Affiliation{}, fmt.Errorf("resolve affiliation: %w", err)
	}
	s.affiliations.Set(email, a, cache.DefaultExpiration)
	return a, nil
}

// SetDelayConfig replaces the announcement delay bounds.
func (s *Service) SetDelayConfig(ctx context.Context, cfg model.DelayConfig) error {
	if err := s.running(); err != nil {
		return err
	}
	if err := delay.Validate(cfg); err != nil {
		return err
	}
	if err := s.store.SetDelayConfig(ctx, cfg); err != nil {
		return fmt.Errorf("set delay config: %w", err)
	}
	s.logger.Info(ctx, "delay config updated",
		logger.Int64("baseline_ms", cfg.BaselineMS),
		logger.Int64("range_ms", cfg.RangeMS),
	)
	return nil
}

// GetDelayConfig returns delay.ErrNotConfigured when no bounds were set.
func (s *Service) GetDelayConfig(ctx context.Context) (model.DelayConfig, error) {
	if err := s.running(); err != nil {
		return model.DelayConfig{}, err
	}
	cfg, ok, err := s.store.GetDelayConfig(ctx)
	if err != nil {
		return model.DelayConfig{}, fmt.Errorf("get delay config: %w", err)
	}
	if !ok {
		return model.DelayConfig{}, delay.ErrNotConfigured
	}
	return cfg, nil
}

// ResetRound returns every comper to undecided and purges the feed. Jobs
// still pending in the scheduler no longer match any comper's announcement
// id and are skipped on delivery.
func (s *Service) ResetRound(ctx context.Context) (int, error) {
	if err := s.running(); err != nil {
		return 0, err
	}
	n, err := s.store.ResetRound(ctx)
	if err != nil {
		return 0, fmt.Errorf("reset round: %w", err)
	}
	metrics.RecordRoundReset()
	s.logger.Warn(ctx, "round reset", logger.Int("compers", n))
	return n, nil
}

// RecoverPendingAnnouncements reschedules every comper that is scheduled but
// still unannounced well past its due time.
func (s *Service) RecoverPendingAnnouncements(ctx context.Context) (int, error) {
	if err := s.running(); err != nil {
		return 0, err
	}
	return s.recoverPending(ctx)
}

func (s *Service) recoverPending(ctx context.Context) (int, error) {
	compers, err := s.store.ListCompers(ctx)
	if err != nil {
		return 0, fmt.Errorf("list compers: %w", err)
	}
	now := s.now()
	recovered := 0
	for _, c := range compers {
		if c.AnnouncementState() != model.Scheduled || c.AnnounceAt.Add(s.recoveryGrace).After(now) {
			continue
		}
		job, err := matching.NewAnnouncement(c, matching.Evaluate(c.Statuses), c.AnnouncementID, now)
		if err != nil {
			s.logger.Error(ctx, "scheduled comper is unresolved", logger.String("comper", c.Identity), logger.Error(err))
			continue
		}
		if err := s.scheduler.Schedule(ctx, job); err != nil {
			return recovered, fmt.Errorf("reschedule %s: %w", c.Identity, err)
		}
		recovered++
		metrics.RecordAnnouncementRecovered()
		s.logger.Info(ctx, "announcement rescheduled",
			logger.String("comper", c.Identity),
			logger.String("job_id", job.JobID),
		)
	}
	return recovered, nil
}

func (s *Service) recoveryLoop(ctx context.Context) {
	defer s.loopWG.Done()

	ticker := time.NewTicker(s.recoveryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.recoverPending(ctx); err != nil && ctx.Err() == nil {
				s.logger.Warn(ctx, "announcement recovery failed", logger.Error(err))
			}
		}
	}
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats(ctx context.Context) map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]interface{}{
		"started":     s.started,
		"workerCount": s.workerCount,
		"queueSize":   s.queueSize,
		"dedupeSize":  s.dedupeSize,
		"groups":      s.groups,
	}
	if !s.started {
		return stats
	}

	queueLen := s.queue.Len(ctx)
	pending := s.scheduler.Pending(ctx)
	stats["queueLength"] = queueLen
	stats["scheduledAnnouncements"] = pending
	stats["dedupeEntries"] = s.deduper.Size()
	if round, err := s.store.Stats(ctx); err == nil {
		stats["round"] = round
		metrics.UpdateRoundState(round.Compers, round.Matched, round.Updates)
	}
	metrics.UpdateQueueSize(queueLen)
	metrics.UpdateSchedulerPending(pending)
	return stats
}

type announcerFunc func(ctx context.Context, job model.Announcement) error

func (f announcerFunc) Announce(ctx context.Context, job model.Announcement) error { //nolint:gocritic // hugeParam
	return f(ctx, job)
}

// translate maps store errors onto the matching error taxonomy.
func translate(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%w: %w", matching.ErrInvalidReference, err)
	}
	return err
}

func reasonFor(err error) string {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return "invalid_reference"
	case errors.Is(err, matching.ErrNotAuthorized):
		return "unauthorized"
	case errors.Is(err, matching.ErrAlreadyDecided):
		return "already_decided"
	case errors.Is(err, delay.ErrNotConfigured):
		return "delay_not_configured"
	default:
		return "internal"
	}
}

package repository

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/erichli1/acamafia/internal/domain/model"
	"github.com/erichli1/acamafia/pkg/metrics"
)

const defaultMetricsUpdateInterval = 5 * time.Second

// record guards one comper. Lock order is MemStore.mu, then record.mu, then
// MemStore.feedMu.
type record struct {
	mu     sync.Mutex
	comper *model.Comper
}

// MemStore is an in-memory Store. Writers to different compers proceed in
// parallel; writers to the same comper are serialized by its record lock.
type MemStore struct {
	mu      sync.RWMutex
	records map[string]*record
	order   []string

	feedMu sync.RWMutex
	feed   []model.UpdateEntry
	seq    int64

	cfgMu    sync.RWMutex
	affs     map[string]model.Affiliation
	delay    model.DelayConfig
	delaySet bool

	now                   func() time.Time
	metricsUpdateInterval time.Duration
	cancel                context.CancelFunc
	closed                atomic.Bool
}

// NewMemStore creates an empty store and starts its gauge updater, which
// stops when ctx is done or Close is called.
func NewMemStore(ctx context.Context, opts ...Option) *MemStore {
	s := &MemStore{
		records:               make(map[string]*record),
		affs:                  make(map[string]model.Affiliation),
		now:                   time.Now,
		metricsUpdateInterval: defaultMetricsUpdateInterval,
	}
	for _, opt := range opts {
		opt(s)
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.startMetricsUpdater(ctx)
	return s
}

// Close stops background work. Further calls fail with ErrClosed.
func (s *MemStore) Close() error {
	if s.closed.CompareAndSwap(false, true) {
		s.cancel()
	}
	return nil
}

func (s *MemStore) CreateComper(ctx context.Context, c *model.Comper) error {
	defer observe("create", time.Now())
	if err := s.check(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[c.Identity]; ok {
		metrics.RecordStoreError("create")
		return fmt.Errorf("comper %s: %w", c.Identity, ErrAlreadyExists)
	}
	stored := c.Clone()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = s.now()
	}
	stored.Version = 1
	s.records[c.Identity] = &record{comper: stored}
	s.order = append(s.order, c.Identity)
	return nil
}

func (s *MemStore) GetComper(ctx context.Context, id string) (*model.Comper, error) {
	defer observe("get", time.Now())
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	s.mu.RLock()
	rec, ok := s.records[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("comper %s: %w", id, ErrNotFound)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.comper.Clone(), nil
}

func (s *MemStore) ListCompers(ctx context.Context) ([]*model.Comper, error) {
	defer observe("list", time.Now())
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*model.Comper, 0, len(s.order))
	for _, id := range s.order {
		rec := s.records[id]
		rec.mu.Lock()
		out = append(out, rec.comper.Clone())
		rec.mu.Unlock()
	}
	return out, nil
}

func (s *MemStore) UpdateComper(ctx context.Context, id string, fn MutateFunc) (*model.Comper, *model.UpdateEntry, error) {
	defer observe("update", time.Now())
	if err := s.check(ctx); err != nil {
		return nil, nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, nil, fmt.Errorf("comper %s: %w", id, ErrNotFound)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	work := rec.comper.Clone()
	entry, err := fn(work)
	if err != nil {
		return nil, nil, err
	}
	work.Identity = rec.comper.Identity
	work.Version = rec.comper.Version + 1

	var committed *model.UpdateEntry
	if entry != nil {
		e := s.appendEntry(*entry)
		committed = &e
	}
	rec.comper = work
	return work.Clone(), committed, nil
}

func (s *MemStore) appendEntry(e model.UpdateEntry) model.UpdateEntry {
	s.feedMu.Lock()
	defer s.feedMu.Unlock()

	s.seq++
	e.Seq = s.seq
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}
	e.RelevantGroups = slices.Clone(e.RelevantGroups)
	s.feed = append(s.feed, e)
	return e
}

func (s *MemStore) ListUpdates(ctx context.Context) ([]model.UpdateEntry, error) {
	defer observe("list_updates", time.Now())
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	s.feedMu.RLock()
	defer s.feedMu.RUnlock()

	out := make([]model.UpdateEntry, len(s.feed))
	for i, e := range s.feed {
		e.RelevantGroups = slices.Clone(e.RelevantGroups)
		out[i] = e
	}
	return out, nil
}

func (s *MemStore) PutAffiliation(ctx context.Context, a model.Affiliation) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()
	s.affs[a.Email] = a
	return nil
}

func (s *MemStore) GetAffiliation(ctx context.Context, email string) (model.Affiliation, error) {
	if err := s.check(ctx); err != nil {
		return model.Affiliation{}, err
	}
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	a, ok := s.affs[email]
	if !ok {
		return model.Affiliation{}, fmt.Errorf("affiliation %s: %w", email, ErrNotFound)
	}
	return a, nil
}

func (s *MemStore) GetDelayConfig(ctx context.Context) (model.DelayConfig, bool, error) {
	if err := s.check(ctx); err != nil {
		return model.DelayConfig{}, false, err
	}
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	return s.delay, s.delaySet, nil
}

func (s *MemStore) SetDelayConfig(ctx context.Context, cfg model.DelayConfig) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()
	s.delay = cfg
	s.delaySet = true
	return nil
}

func (s *MemStore) ResetRound(ctx context.Context) (int, error) {
	defer observe("reset", time.Now())
	if err := s.check(ctx); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range s.records {
		rec.mu.Lock()
		c := rec.comper.Clone()
		c.Reset()
		c.Version = rec.comper.Version + 1
		rec.comper = c
		rec.mu.Unlock()
	}

	s.feedMu.Lock()
	s.feed = nil
	s.feedMu.Unlock()

	return len(s.records), nil
}

func (s *MemStore) Stats(ctx context.Context) (Stats, error) {
	if err := s.check(ctx); err != nil {
		return Stats{}, err
	}

	var st Stats
	s.mu.RLock()
	for _, rec := range s.records {
		rec.mu.Lock()
		switch rec.comper.AnnouncementState() {
		case model.Announced:
			st.Matched++
		case model.Scheduled:
			st.Scheduled++
		default:
			st.Pending++
		}
		rec.mu.Unlock()
	}
	st.Compers = len(s.records)
	s.mu.RUnlock()

	s.feedMu.RLock()
	st.Updates = len(s.feed)
	s.feedMu.RUnlock()
	return st, nil
}

func (s *MemStore) check(ctx context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("store: %w", err)
		}
	}
	return nil
}

// startMetricsUpdater publishes round gauges periodically.
func (s *MemStore) startMetricsUpdater(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.metricsUpdateInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				publishStats(ctx, s)
			}
		}
	}()
}

func publishStats(ctx context.Context, s Store) {
	st, err := s.Stats(ctx)
	if err != nil {
		return
	}
	metrics.UpdateRoundState(st.Compers, st.Matched, st.Updates)
}

func observe(op string, start time.Time) {
	metrics.RecordStoreLatency(op, float64(time.Since(start).Microseconds())/1000)
}

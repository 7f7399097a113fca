package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/erichli1/acamafia/internal/domain/model"
	"github.com/erichli1/acamafia/pkg/logger"
	"github.com/erichli1/acamafia/pkg/metrics"
)

// RedisScheduler keeps pending jobs in a sorted set scored by due time in
// unix milliseconds, with payloads in a hash. Pending jobs survive restarts.
// Several processes may poll the same key: a job is claimed by whoever
// removes it from the sorted set.
type RedisScheduler struct {
	cfg settings
	rdb redis.UniversalClient
	out Enqueuer

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	closed  bool
	started bool
}

// NewRedisClient builds the client used by RedisScheduler.
func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

// NewRedisScheduler creates a scheduler storing jobs in rdb.
func NewRedisScheduler(rdb redis.UniversalClient, out Enqueuer, opts ...Option) *RedisScheduler {
	cfg := defaults()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.log == nil {
		cfg.log = logger.Get().Named("scheduler")
	}
	return &RedisScheduler{cfg: cfg, rdb: rdb, out: out, done: make(chan struct{})}
}

func (s *RedisScheduler) payloadKey() string { return s.cfg.key + ":jobs" }

func (s *RedisScheduler) Schedule(ctx context.Context, job model.Announcement) error { //nolint:gocritic // hugeParam
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}

	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode announcement %s: %w", job.JobID, err)
	}
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, s.payloadKey(), job.JobID, payload)
		p.ZAdd(ctx, s.cfg.key, redis.Z{Score: float64(job.DueAt.UnixMilli()), Member: job.JobID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("schedule announcement %s: %w", job.JobID, err)
	}
	return nil
}

// Start launches the poller.
func (s *RedisScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.started {
		return nil
	}
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	s.started = true

	ctx, s.cancel = context.WithCancel(ctx)
	go s.poll(ctx)
	return nil
}

func (s *RedisScheduler) poll(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.deliverDue(ctx); err != nil && ctx.Err() == nil {
				s.cfg.log.Error(ctx, "failed to deliver due announcements", logger.Error(err))
			}
			metrics.UpdateSchedulerPending(s.Pending(ctx))
		}
	}
}

// deliverDue claims every job due now and hands it to the queue. A job the
// queue rejects goes back into the set after the retry delay.
func (s *RedisScheduler) deliverDue(ctx context.Context) error {
	now := s.cfg.now()
	ids, err := s.rdb.ZRangeByScore(ctx, s.cfg.key, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: s.cfg.batchSize,
	}).Result()
	if err != nil {
		return fmt.Errorf("range due jobs: %w", err)
	}

	for _, id := range ids {
		removed, err := s.rdb.ZRem(ctx, s.cfg.key, id).Result()
		if err != nil {
			return fmt.Errorf("claim %s: %w", id, err)
		}
		if removed == 0 {
			continue
		}
		if err := s.handOff(ctx, id, now); err != nil {
			s.cfg.log.Warn(ctx, "announcement hand-off failed",
				logger.String("job_id", id),
				logger.Error(err),
			)
		}
	}
	return nil
}

func (s *RedisScheduler) handOff(ctx context.Context, id string, now time.Time) error {
	raw, err := s.rdb.HGet(ctx, s.payloadKey(), id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		s.requeue(ctx, id, now)
		return fmt.Errorf("load payload: %w", err)
	}

	var job model.Announcement
	if err := json.Unmarshal(raw, &job); err != nil {
		_ = s.rdb.HDel(ctx, s.payloadKey(), id).Err()
		return fmt.Errorf("decode payload: %w", err)
	}

	if err := s.out.Enqueue(ctx, job); err != nil {
		if retryable(err) {
			s.requeue(ctx, id, now)
		}
		return err
	}
	return s.rdb.HDel(ctx, s.payloadKey(), id).Err()
}

func (s *RedisScheduler) requeue(ctx context.Context, id string, now time.Time) {
	at := now.Add(s.cfg.retryDelay).UnixMilli()
	if err := s.rdb.ZAdd(ctx, s.cfg.key, redis.Z{Score: float64(at), Member: id}).Err(); err != nil {
		s.cfg.log.Error(ctx, "failed to requeue announcement", logger.String("job_id", id), logger.Error(err))
	}
}

func (s *RedisScheduler) Pending(ctx context.Context) int {
	n, err := s.rdb.ZCard(ctx, s.cfg.key).Result()
	if err != nil {
		return 0
	}
	return int(n)
}

// Close stops the poller. Pending jobs stay in Redis.
func (s *RedisScheduler) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	started := s.started
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	if started {
		<-s.done
	}
	return nil
}

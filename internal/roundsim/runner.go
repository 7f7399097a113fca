package roundsim

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/erichli1/acamafia/internal/domain/model"
	"github.com/erichli1/acamafia/pkg/logger"
)

const feedPollInterval = 200 * time.Millisecond

// Run executes one simulated round end to end.
func Run(ctx context.Context, cfg *Config) (*Stats, error) {
	stats := &Stats{StartTime: time.Now()}
	log := logger.Get().Named("roundsim")

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	log.Info(ctx, "starting round simulation",
		logger.String("baseURL", cfg.BaseURL),
		logger.Int("compers", cfg.Compers),
		logger.Int("workers", cfg.Workers),
		logger.Int64("seed", seed),
	)

	client := NewClient(cfg)

	// Step 1: Check service health
	if err := client.Health(ctx); err != nil {
		return stats, fmt.Errorf("service health check failed: %w", err)
	}

	// Step 2: Prepare the round
	if cfg.Reset {
		if err := client.Reset(ctx); err != nil {
			return stats, fmt.Errorf("reset failed: %w", err)
		}
	}
	for _, g := range cfg.Groups {
		if err := client.RegisterRep(ctx, RepEmail(g), g); err != nil {
			return stats, fmt.Errorf("register representative for %s: %w", g, err)
		}
	}
	if err := client.SetDelay(ctx, cfg.Delay); err != nil {
		return stats, fmt.Errorf("set delay: %w", err)
	}

	// Step 3: Generate and submit preferences
	plan, err := GeneratePlan(ctx, cfg, rand.New(rand.NewSource(seed))) //nolint:gosec // workload generation
	if err != nil {
		return stats, fmt.Errorf("plan generation failed: %w", err)
	}
	failed := fanOut(ctx, cfg.Workers, plan.Compers, cfg.Verbose, client.Submit)
	stats.CompersSubmitted = len(plan.Compers) - failed
	if failed > 0 {
		return stats, fmt.Errorf("%d of %d submissions failed", failed, len(plan.Compers))
	}

	// Step 4: Fire decisions concurrently
	var (
		mu      sync.Mutex
		applied []Decision
	)
	stats.DecisionsPlanned = len(plan.Decisions)
	stats.DecisionsFailed = fanOut(ctx, cfg.Workers, plan.Decisions, cfg.Verbose, func(ctx context.Context, d Decision) error {
		if err := client.Decide(ctx, d); err != nil {
			return err
		}
		mu.Lock()
		applied = append(applied, d)
		mu.Unlock()
		return nil
	})
	stats.DecisionsApplied = len(applied)

	expected := Expected(plan, applied)
	stats.ExpectedResolved = len(expected)
	for _, g := range expected {
		if g == model.NoMatch {
			stats.ExpectedNoMatch++
		}
	}

	// Step 5: Wait for announcements
	wait := cfg.Settle + time.Duration(cfg.Delay.BaselineMS+cfg.Delay.RangeMS)*time.Millisecond
	log.Info(ctx, "waiting for announcements",
		logger.Int("expected", len(expected)),
		logger.Duration("upTo", wait),
	)
	feed, err := awaitFeed(ctx, client, plan, len(expected), wait)
	if err != nil {
		return stats, fmt.Errorf("feed retrieval failed: %w", err)
	}
	stats.FeedEntries = len(feed)

	// Step 6: Verify results
	if err := Verify(feed, expected); err != nil {
		return stats, fmt.Errorf("result verification failed: %w", err)
	}

	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)
	displayFinalStats(ctx, log, stats)
	return stats, nil
}

// awaitFeed polls until want entries for plan's compers are in the feed or
// wait elapses, then polls once more so late duplicates are caught.
func awaitFeed(ctx context.Context, client *Client, plan *Plan, want int, wait time.Duration) ([]model.UpdateEntry, error) {
	ours := make(map[string]bool, len(plan.Compers))
	for _, s := range plan.Compers {
		ours[s.Email] = true
	}
	fetch := func() ([]model.UpdateEntry, error) {
		all, err := client.Feed(ctx)
		if err != nil {
			return nil, err
		}
		out := all[:0]
		for _, e := range all {
			if ours[e.Email] {
				out = append(out, e)
			}
		}
		return out, nil
	}

	deadline := time.Now().Add(wait)
	for {
		feed, err := fetch()
		if err != nil {
			return nil, err
		}
		if len(feed) >= want || time.Now().After(deadline) {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(feedPollInterval):
		}
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(feedPollInterval):
	}
	return fetch()
}

// displayFinalStats logs the round statistics.
func displayFinalStats(ctx context.Context, log logger.Logger, stats *Stats) {
	log.Info(ctx, "round verified",
		logger.Int("compersSubmitted", stats.CompersSubmitted),
		logger.Int("decisionsPlanned", stats.DecisionsPlanned),
		logger.Int("decisionsApplied", stats.DecisionsApplied),
		logger.Int("decisionsFailed", stats.DecisionsFailed),
		logger.Int("expectedResolved", stats.ExpectedResolved),
		logger.Int("expectedNoMatch", stats.ExpectedNoMatch),
		logger.Int("feedEntries", stats.FeedEntries),
		logger.Duration("duration", stats.Duration),
	)
}

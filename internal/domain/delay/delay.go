// Package delay draws the randomized wait between a comper's resolution and
// its announcement.
package delay

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/erichli1/acamafia/internal/domain/model"
)

// MaxMS is the largest delay, in milliseconds, that fits in a time.Duration.
const MaxMS = math.MaxInt64 / int64(time.Millisecond)

// Source returns the delay configuration in force right now. It reports
// ok=false when no configuration was ever set.
type Source interface {
	GetDelayConfig(ctx context.Context) (cfg model.DelayConfig, ok bool, err error)
}

// Option applies a configuration option to the Provider.
type Option func(*Provider)

// WithRand replaces the random source. Tests pass a seeded generator.
func WithRand(rng *rand.Rand) Option {
	return func(p *Provider) {
		if rng != nil {
			p.rng = rng
		}
	}
}

// Provider computes announcement delays from the configuration stored in a
// Source. The configuration is read on every call so that an admin change
// applies to the next resolution without a restart.
type Provider struct {
	src Source

	mu  sync.Mutex
	rng *rand.Rand
}

// NewProvider creates a Provider reading from src.
func NewProvider(src Source, opts ...Option) *Provider {
	p := &Provider{
		src: src,
		rng: rand.New(rand.NewSource(time.Now().UnixNano())), //nolint:gosec // not security sensitive
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Next returns baseline + floor(u*range) milliseconds for a uniform u in [0,1).
func (p *Provider) Next(ctx context.Context) (time.Duration, error) {
	cfg, ok, err := p.src.GetDelayConfig(ctx)
	if err != nil {
		return 0, fmt.Errorf("read delay config: %w", err)
	}
	if !ok {
		return 0, ErrNotConfigured
	}
	return p.draw(cfg)
}

func (p *Provider) draw(cfg model.DelayConfig) (time.Duration, error) {
	if err := Validate(cfg); err != nil {
		return 0, err
	}
	var jitter int64
	if cfg.RangeMS > 0 {
		p.mu.Lock()
		jitter = int64(p.rng.Float64() * float64(cfg.RangeMS))
		p.mu.Unlock()
		if jitter >= cfg.RangeMS {
			jitter = cfg.RangeMS - 1
		}
	}
	return time.Duration(cfg.BaselineMS+jitter) * time.Millisecond, nil
}

// Validate rejects negative bounds and bounds whose sum exceeds MaxMS.
func Validate(cfg model.DelayConfig) error {
	if cfg.BaselineMS < 0 || cfg.RangeMS < 0 {
		return fmt.Errorf("%w: baseline=%d range=%d", ErrInvalidConfig, cfg.BaselineMS, cfg.RangeMS)
	}
	if cfg.BaselineMS > MaxMS || cfg.RangeMS > MaxMS-cfg.BaselineMS {
		return fmt.Errorf("%w: baseline=%d range=%d exceeds %dms", ErrInvalidConfig, cfg.BaselineMS, cfg.RangeMS, MaxMS)
	}
	return nil
}

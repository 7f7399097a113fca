// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New(ctx) to build a Config with defaults.
// - Load layers a YAML file and ACAMAFIA_ env vars over those defaults.
package config

import (
	"context"
	"fmt"
	"runtime"
	"slices"
	"time"
)

// Store and scheduler drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects the log encoding: json or text.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// Groups is the universe of groups compers may rank.
	Groups []string `koanf:"groups"`

	// StoreDriver selects the record store: memory or postgres.
	StoreDriver string `koanf:"store_driver"`
	DatabaseURL string `koanf:"database_url"`

	// SchedulerDriver selects the delayed-announcement scheduler: memory or redis.
	SchedulerDriver       string        `koanf:"scheduler_driver"`
	RedisAddr             string        `koanf:"redis_addr"`
	RedisPassword         string        `koanf:"redis_password"`
	RedisDB               int           `koanf:"redis_db"`
	RedisKey              string        `koanf:"redis_key"`
	SchedulerPollInterval time.Duration `koanf:"scheduler_poll_interval"`

	// QueueSize bounds the in-memory announcement queue.
	QueueSize int `koanf:"queue_size"`

	// WorkerCount sets the number of announcement workers.
	WorkerCount int `koanf:"worker_count"`

	// DedupeSize sets the size of the delivered-job deduplication cache.
	DedupeSize int `koanf:"dedupe_size"`

	// AffiliationCacheTTL bounds how long a resolved affiliation is reused.
	AffiliationCacheTTL time.Duration `koanf:"affiliation_cache_ttl"`

	// RecoveryInterval is how often overdue announcements are rescheduled;
	// zero disables the loop. RecoveryGrace is how far past due a job must be.
	RecoveryInterval time.Duration `koanf:"recovery_interval"`
	RecoveryGrace    time.Duration `koanf:"recovery_grace"`

	// AdminToken grants admin routes to requests carrying it. Empty disables.
	AdminToken string `koanf:"admin_token"`
}

// New creates a Config with defaults. Context is accepted first to satisfy
// the project-wide convention and is currently unused.
func New(_ context.Context) *Config {
	return &Config{
		LogLevel:              "info",
		LogFormat:             "json",
		Addr:                  ":9080",
		Groups:                []string{"Veritones", "Callbacks", "Lowkeys"},
		StoreDriver:           DriverMemory,
		SchedulerDriver:       DriverMemory,
		RedisAddr:             "localhost:6379",
		RedisKey:              "acamafia:announcements",
		SchedulerPollInterval: 250 * time.Millisecond,
		QueueSize:             10_000,
		WorkerCount:           runtime.NumCPU(),
		DedupeSize:            10_000,
		AffiliationCacheTTL:   time.Minute,
		RecoveryInterval:      30 * time.Second,
		RecoveryGrace:         time.Minute,
	}
}

// Validate reports the first inconsistent setting, wrapped in ErrInvalidConfig.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case len(c.Groups) == 0:
		return fmt.Errorf("%w: groups must not be empty", ErrInvalidConfig)
	case slices.Contains(c.Groups, ""):
		return fmt.Errorf("%w: groups must not contain an empty name", ErrInvalidConfig)
	case c.StoreDriver != DriverMemory && c.StoreDriver != DriverPostgres:
		return fmt.Errorf("%w: unknown store_driver %q", ErrInvalidConfig, c.StoreDriver)
	case c.StoreDriver == DriverPostgres && c.DatabaseURL == "":
		return fmt.Errorf("%w: database_url is required for the postgres store", ErrInvalidConfig)
	case c.SchedulerDriver != DriverMemory && c.SchedulerDriver != DriverRedis:
		return fmt.Errorf("%w: unknown scheduler_driver %q", ErrInvalidConfig, c.SchedulerDriver)
	case c.SchedulerDriver == DriverRedis && c.RedisAddr == "":
		return fmt.Errorf("%w: redis_addr is required for the redis scheduler", ErrInvalidConfig)
	case c.QueueSize < 0 || c.WorkerCount < 0 || c.DedupeSize < 0:
		return fmt.Errorf("%w: queue_size, worker_count and dedupe_size must not be negative", ErrInvalidConfig)
	case c.RecoveryInterval < 0 || c.RecoveryGrace < 0:
		return fmt.Errorf("%w: recovery durations must not be negative", ErrInvalidConfig)
	}
	return nil
}

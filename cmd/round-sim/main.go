package main

import (
	"context"
	"flag"
	"io"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/erichli1/acamafia/internal/domain/model"
	"github.com/erichli1/acamafia/internal/roundsim"
	"github.com/erichli1/acamafia/pkg/logger"
)

// Default configuration constants.
const (
	defaultCompers     = 200
	defaultWorkers     = 2 // multiplier for runtime.NumCPU()
	defaultTimeout     = 10 * time.Second
	defaultSettle      = 30 * time.Second
	defaultTestTimeout = 10 * time.Minute
	logFilePermission  = 0o600
)

func main() {
	var (
		baseURL    = flag.String("url", "http://localhost:9080", "Base URL of the service")
		adminToken = flag.String("admin-token", os.Getenv("ACAMAFIA_ADMIN_TOKEN"), "Admin token for setup calls")
		groups     = flag.String("groups", "Veritones,Callbacks,Lowkeys", "Comma-separated groups; must match the service")
		compers    = flag.Int("compers", defaultCompers, "Number of compers to submit")
		decide     = flag.Float64("decide", 1.0, "Probability that a ranked group decides")
		accept     = flag.Float64("accept", 0.3, "Probability that a decision is an acceptance")
		workers    = flag.Int("workers", runtime.NumCPU()*defaultWorkers, "Number of concurrent workers")
		timeout    = flag.Duration("timeout", defaultTimeout, "HTTP request timeout")
		settle     = flag.Duration("settle", defaultSettle, "Extra time to wait for announcements")
		baseline   = flag.Int64("delay-baseline-ms", 0, "Announcement delay baseline in ms")
		spread     = flag.Int64("delay-range-ms", 500, "Announcement delay range in ms")
		reset      = flag.Bool("reset", false, "Reset the round first")
		seed       = flag.Int64("seed", 0, "Plan seed (0 = from clock)")
		logFile    = flag.String("log", "", "Also write logs to this file")
		verbose    = flag.Bool("verbose", false, "Log every failed request")
	)
	flag.Parse()

	if err := setupLogging(*logFile); err != nil {
		os.Stderr.WriteString("Failed to setup logging: " + err.Error() + "\n")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultTestTimeout)
	defer cancel()

	cfg := &roundsim.Config{
		BaseURL:      strings.TrimRight(*baseURL, "/"),
		AdminToken:   *adminToken,
		Groups:       splitGroups(*groups),
		Compers:      *compers,
		DecisionRate: *decide,
		AcceptRate:   *accept,
		Workers:      *workers,
		Timeout:      *timeout,
		Settle:       *settle,
		Delay:        model.DelayConfig{BaselineMS: *baseline, RangeMS: *spread},
		Reset:        *reset,
		Seed:         *seed,
		Verbose:      *verbose,
	}

	if _, err := roundsim.Run(ctx, cfg); err != nil {
		logger.Get().Error(ctx, "round simulation failed", logger.Error(err))
		os.Exit(1)
	}
}

func setupLogging(path string) error {
	var out io.Writer = os.Stdout
	if path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFilePermission)
		if err != nil {
			return err
		}
		out = io.MultiWriter(os.Stdout, f)
	}
	return logger.Init(logger.WithFormat("text"), logger.WithOutput(out))
}

func splitGroups(s string) []string {
	var out []string
	for _, g := range strings.Split(s, ",") {
		if g = strings.TrimSpace(g); g != "" {
			out = append(out, g)
		}
	}
	return out
}

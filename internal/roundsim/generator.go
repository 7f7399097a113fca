package roundsim

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"unicode"

	"github.com/google/uuid"

	"github.com/erichli1/acamafia/pkg/logger"
)

// GeneratePlan builds a random round for cfg. Every comper ranks at least one
// group and declines some of the rest; decisions are shuffled so groups race
// each other on the same comper.
func GeneratePlan(ctx context.Context, cfg *Config, rng *rand.Rand) (*Plan, error) {
	if len(cfg.Groups) == 0 {
		return nil, fmt.Errorf("no groups to rank")
	}
	if cfg.Compers < 1 {
		return nil, fmt.Errorf("compers must be positive, got %d", cfg.Compers)
	}
	logger.Get().Info(ctx, "generating round plan",
		logger.Int("compers", cfg.Compers),
		logger.Int("groups", len(cfg.Groups)),
	)

	plan := &Plan{Compers: make([]Submission, cfg.Compers)}
	for i := range plan.Compers {
		groups := append([]string(nil), cfg.Groups...)
		rng.Shuffle(len(groups), func(a, b int) { groups[a], groups[b] = groups[b], groups[a] })
		k := 1 + rng.Intn(len(groups))
		rest := groups[k:]
		declined := rest[:rng.Intn(len(rest)+1)]

		id := uuid.NewString()[:8]
		sub := Submission{
			Email:          "comper-" + id + "@roundsim.test",
			PreferredName:  "Comper " + id,
			RankedGroups:   groups[:k],
			UnrankedGroups: append([]string{}, declined...),
		}
		plan.Compers[i] = sub

		for _, g := range sub.RankedGroups {
			if rng.Float64() >= cfg.DecisionRate {
				continue
			}
			plan.Decisions = append(plan.Decisions, Decision{
				Comper: sub.Email,
				Group:  g,
				Accept: rng.Float64() < cfg.AcceptRate,
			})
		}
	}
	rng.Shuffle(len(plan.Decisions), func(a, b int) {
		plan.Decisions[a], plan.Decisions[b] = plan.Decisions[b], plan.Decisions[a]
	})
	return plan, nil
}

// RepEmail is the simulated representative identity for group.
func RepEmail(group string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(group) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case b.Len() > 0 && !strings.HasSuffix(b.String(), "-"):
			b.WriteByte('-')
		}
	}
	return "rep+" + strings.TrimSuffix(b.String(), "-") + "@roundsim.test"
}

// Package sweeper periodically reaps lapsed bounty claims and resolves
// auctions past their close. Read paths do the same lazily; the sweep
// bounds how long an untouched row can stay stale.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/sudo-init-do/homebid/internal/bounty"
	"github.com/sudo-init-do/homebid/internal/showing"
)

type Reaper interface {
	ReapExpired(ctx context.Context) (bounty.ReapResult, error)
}

type Resolver interface {
	ResolveExpired(ctx context.Context) (showing.ResolveSummary, error)
}

// Result is what one sweep did.
type Result struct {
	Bounties bounty.ReapResult      `json:"bounties"`
	Showings showing.ResolveSummary `json:"showings"`
}

type Sweeper struct {
	reaper   Reaper
	resolver Resolver
	interval time.Duration
	cron     *cron.Cron

	// serialises scheduled and manual runs
	mu sync.Mutex
}

func New(reaper Reaper, resolver Resolver, interval time.Duration) *Sweeper {
	return &Sweeper{
		reaper:   reaper,
		resolver: resolver,
		interval: interval,
		cron:     cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger))),
	}
}

// RunOnce performs a single sweep. Both halves run even if the first
// fails; their errors are joined.
func (s *Sweeper) RunOnce(ctx context.Context) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res Result
	var errs []error

	reaped, err := s.reaper.ReapExpired(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("reaping bounties: %w", err))
	}
	res.Bounties = reaped

	resolved, err := s.resolver.ResolveExpired(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("resolving auctions: %w", err))
	}
	res.Showings = resolved

	return res, errors.Join(errs...)
}

// Start schedules RunOnce every interval until ctx is cancelled or Stop
// is called.
func (s *Sweeper) Start(ctx context.Context) error {
	if s.interval <= 0 {
		return fmt.Errorf("sweep interval must be positive, got %s", s.interval)
	}
	_, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.interval), func() {
		res, err := s.RunOnce(ctx)
		if err != nil {
			slog.ErrorContext(ctx, "sweep failed", "error", err)
		}
		if res.Bounties.Reclaimed+res.Bounties.Expired > 0 || res.Showings != (showing.ResolveSummary{}) {
			slog.InfoContext(ctx, "sweep finished",
				"reclaimed", res.Bounties.Reclaimed, "expired", res.Bounties.Expired,
				"awarded", res.Showings.Awarded, "cancelled", res.Showings.Cancelled, "failed", res.Showings.Failed)
		}
	})
	if err != nil {
		return fmt.Errorf("scheduling sweep: %w", err)
	}
	s.cron.Start()
	slog.Info("sweeper started", "interval", s.interval)
	return nil
}

// Stop halts scheduling and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

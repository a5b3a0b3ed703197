// Package reaper implements the Orphan Reaper: a periodic sweep that fails
// agent sessions whose heartbeat has gone stale, unblocking the
// single-running-per-stream invariant after a crash.
package reaper

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/adhocore/gronx"

	"github.com/nextlevelbuilder/companionrt/internal/store"
)

type Reaper struct {
	Sessions       store.SessionStore
	Interval       time.Duration
	StaleThreshold time.Duration
	Log            *slog.Logger

	// Schedule, when set to a 5-field cron expression (e.g. "*/1 * * * *"),
	// overrides Interval with cron-accurate sweep timing instead of a fixed
	// ticker. Left empty, Run uses Interval as before. An invalid expression
	// falls back to Interval with a logged warning.
	Schedule string
}

func New(sessions store.SessionStore, interval, staleThreshold time.Duration, log *slog.Logger) *Reaper {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if staleThreshold <= 0 {
		staleThreshold = 60 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Reaper{Sessions: sessions, Interval: interval, StaleThreshold: staleThreshold, Log: log}
}

// Run sweeps until ctx is cancelled, on Schedule's cron cadence if set, else
// on Interval. Safe to run concurrently from multiple worker nodes: the
// underlying update is a single conditional UPDATE per sweep.
func (r *Reaper) Run(ctx context.Context) {
	if isCronExpr(r.Schedule) {
		r.runCron(ctx)
		return
	}
	r.runTicker(ctx)
}

func (r *Reaper) runTicker(ctx context.Context) {
	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

// runCron sweeps at each cron-scheduled tick, computed one fire at a time
// via gronx so drift doesn't accumulate across the run.
func (r *Reaper) runCron(ctx context.Context) {
	for {
		next, err := gronx.NextTick(r.Schedule, false)
		if err != nil {
			r.Log.Error("reaper: invalid cron schedule, falling back to interval", "schedule", r.Schedule, "error", err)
			r.runTicker(ctx)
			return
		}
		wait := time.Until(next)
		if wait < 0 {
			wait = 0
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
			r.sweep(ctx)
		}
	}
}

func isCronExpr(spec string) bool {
	return len(strings.Fields(spec)) == 5
}

func (r *Reaper) sweep(ctx context.Context) {
	n, err := r.Sessions.ReapStale(ctx, r.StaleThreshold)
	if err != nil {
		r.Log.Error("reaper: sweep failed", "error", err)
		return
	}
	if n > 0 {
		r.Log.Warn("reaper: marked orphaned sessions failed", "count", n)
	}
}

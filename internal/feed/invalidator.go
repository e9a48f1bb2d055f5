package feed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jdholdren/headlines/internal/headlines"
	"github.com/jdholdren/headlines/internal/metrics"
)

const dayLayout = "2006-01-02"

// Invalidator wipes the cache at most once per calendar day.
//
// Days are compared as formatted strings in the location of the time handed
// in, so a clock or timezone change can cause an extra reset.
type Invalidator struct {
	days    headlines.DayStore
	store   headlines.Purger
	metrics *metrics.Metrics
}

func NewInvalidator(days headlines.DayStore, store headlines.Purger, m *metrics.Metrics) *Invalidator {
	if m == nil {
		m = metrics.NewDefault()
	}

	return &Invalidator{
		days:    days,
		store:   store,
		metrics: m,
	}
}

// ShouldReset reports whether no reset has been recorded for now's day.
func (inv *Invalidator) ShouldReset(ctx context.Context, now time.Time) (bool, error) {
	last, ok, err := inv.days.LastResetDay(ctx)
	if err != nil {
		return false, fmt.Errorf("error reading last reset day: %w", err)
	}
	if !ok {
		return true, nil
	}

	return last != now.Format(dayLayout), nil
}

// MarkResetPerformed records now's day as the last reset.
func (inv *Invalidator) MarkResetPerformed(ctx context.Context, now time.Time) error {
	if err := inv.days.SetLastResetDay(ctx, now.Format(dayLayout)); err != nil {
		return fmt.Errorf("error recording reset day: %w", err)
	}
	return nil
}

// ResetIfStale purges the whole cache if it hasn't been reset today.
//
// Meant to run once at startup, before anything reads from the cache. When
// the store can purge and mark in one step it does, otherwise a failed mark
// leaves an empty store that will be purged again on the next start.
func (inv *Invalidator) ResetIfStale(ctx context.Context, now time.Time) (bool, error) {
	day := now.Format(dayLayout)

	should, err := inv.ShouldReset(ctx, now)
	if err != nil {
		slog.ErrorContext(ctx, "error checking cache age", "error", err)
		return false, err
	}
	if !should {
		slog.DebugContext(ctx, "cache already reset today", "day", day)
		return false, nil
	}

	if atomic, ok := inv.store.(headlines.AtomicResetter); ok {
		if err := atomic.PurgeAndMarkReset(ctx, day); err != nil {
			slog.ErrorContext(ctx, "error resetting cache", "day", day, "error", err)
			return false, fmt.Errorf("error resetting cache: %w", err)
		}
	} else {
		if err := inv.store.PurgeAll(ctx); err != nil {
			slog.ErrorContext(ctx, "error purging cache", "day", day, "error", err)
			return false, fmt.Errorf("error purging cache: %w", err)
		}
		if err := inv.MarkResetPerformed(ctx, now); err != nil {
			slog.ErrorContext(ctx, "cache purged but reset day not recorded", "day", day, "error", err)
			return true, err
		}
	}

	inv.metrics.CachePurgesTotal.Inc()
	slog.InfoContext(ctx, "cache reset", "day", day)

	return true, nil
}

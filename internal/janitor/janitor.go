// ABOUTME: Periodic cleanup of idle rate limit records and expired link codes
// ABOUTME: Runs as a background loop under the serve command

package janitor

import (
	"context"
	"log/slog"
	"time"

	"github.com/talia-app/guardian/internal/store"
)

// IdleRateLimitAge is how long a rate limit record may sit untouched
// before cleanup removes it.
const IdleRateLimitAge = 30 * 24 * time.Hour

// Janitor periodically removes expired link codes and stale rate limit
// records.
type Janitor struct {
	store    store.Store
	interval time.Duration
	logger   *slog.Logger

	now func() time.Time
}

// New creates a janitor that sweeps at the given interval.
func New(st store.Store, interval time.Duration) *Janitor {
	return &Janitor{
		store:    st,
		interval: interval,
		logger:   slog.Default().With("component", "janitor"),
		now:      time.Now,
	}
}

// Run sweeps immediately, then on every tick until the context is
// cancelled.
func (j *Janitor) Run(ctx context.Context) {
	j.logger.Info("janitor started", "interval", j.interval.String())

	j.sweep(ctx)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("janitor stopped")
			return
		case <-ticker.C:
			j.sweep(ctx)
		}
	}
}

// sweep runs one cleanup pass. Errors are logged; the next tick retries.
func (j *Janitor) sweep(ctx context.Context) {
	now := j.now().UTC()

	codes, err := j.store.DeleteExpiredLinkCodes(ctx, now)
	if err != nil {
		j.logger.Warn("deleting expired link codes", "error", err)
	}

	cutoff := now.Add(-IdleRateLimitAge).UnixMilli()
	limits, err := j.store.DeleteIdleRateLimits(ctx, cutoff)
	if err != nil {
		j.logger.Warn("deleting idle rate limits", "error", err)
	}

	if codes > 0 || limits > 0 {
		j.logger.Info("cleanup pass complete", "link_codes", codes, "rate_limits", limits)
	}
}

// ABOUTME: Sliding-window rate limiter backed by the store's transactional records
// ABOUTME: Fails open on store errors so persistence trouble never blocks users

package ratelimit

import (
	"context"
	"log/slog"
	"time"

	"github.com/talia-app/guardian/internal/store"
)

// Policy describes one named action's limit: at most Max requests within
// the trailing Window.
type Policy struct {
	Max    int
	Window time.Duration
}

// Default action names. Policies for these are built in and can be
// overridden through config.
const (
	ActionCreateLink     = "create_link"
	ActionGenerateToken  = "generate_token"
	ActionGenerateReport = "generate_report"
)

// DefaultPolicies returns the built-in policy table.
func DefaultPolicies() map[string]Policy {
	return map[string]Policy{
		ActionCreateLink:     {Max: 5, Window: time.Hour},
		ActionGenerateToken:  {Max: 20, Window: time.Minute},
		ActionGenerateReport: {Max: 10, Window: time.Hour},
	}
}

// Decision is the outcome of a rate limit check. RetryAfter is the whole
// seconds until the oldest in-window request ages out; zero when allowed.
type Decision struct {
	Allowed    bool
	RetryAfter int
}

// Limiter checks actions against their policies using store-backed
// sliding windows.
type Limiter struct {
	store    store.RateLimitStore
	policies map[string]Policy
	logger   *slog.Logger

	// now is swappable for tests
	now func() time.Time
}

// NewLimiter creates a limiter with the given policy table. Actions
// missing from the table are always allowed.
func NewLimiter(st store.RateLimitStore, policies map[string]Policy) *Limiter {
	if policies == nil {
		policies = DefaultPolicies()
	}
	return &Limiter{
		store:    st,
		policies: policies,
		logger:   slog.Default().With("component", "ratelimit"),
		now:      time.Now,
	}
}

// Check records one request for (actorID, action) and reports whether it
// is within the policy. The read-filter-append runs in one store
// transaction. Store failures log a warning and allow the request.
func (l *Limiter) Check(ctx context.Context, actorID, action string) Decision {
	policy, ok := l.policies[action]
	if !ok {
		return Decision{Allowed: true}
	}

	nowMs := l.now().UnixMilli()
	windowMs := policy.Window.Milliseconds()
	cutoff := nowMs - windowMs

	decision := Decision{Allowed: true}

	err := l.store.WithRateLimitRecord(ctx, actorID, action, func(rec *store.RateLimitRecord) (*store.RateLimitRecord, error) {
		if rec == nil {
			rec = &store.RateLimitRecord{
				ID:        actorID + "_" + action,
				UserID:    actorID,
				Action:    action,
				CreatedAt: nowMs,
			}
		}

		recent := rec.Requests[:0:0]
		for _, ts := range rec.Requests {
			if ts > cutoff {
				recent = append(recent, ts)
			}
		}

		if len(recent) >= policy.Max {
			oldest := recent[0]
			retryMs := oldest + windowMs - nowMs
			retry := int((retryMs + 999) / 1000)
			if retry < 1 {
				retry = 1
			}
			decision = Decision{Allowed: false, RetryAfter: retry}
			// denied requests are not recorded
			return nil, nil
		}

		rec.Requests = append(recent, nowMs)
		rec.LastRequest = nowMs
		return rec, nil
	})
	if err != nil {
		l.logger.Warn("rate limit check failed, allowing request",
			"actor", actorID, "action", action, "error", err)
		return Decision{Allowed: true}
	}

	if !decision.Allowed {
		l.logger.Info("rate limit exceeded",
			"actor", actorID, "action", action, "retry_after", decision.RetryAfter)
	}
	return decision
}

package complexity

import (
	"sync"
	"time"

	"github.com/codeready-toolchain/sentinel/internal/apperrors"
	"github.com/codeready-toolchain/sentinel/internal/config"
	"golang.org/x/time/rate"
)

// userWindow tracks one user's two independent budgets: an
// x/time/rate.Limiter for the per-minute query rate, and a rolling hourly
// counter for complex-query admission.
type userWindow struct {
	perMinute *rate.Limiter

	mu             sync.Mutex
	complexHourly  []time.Time // timestamps of complex queries within the trailing hour
}

// RateLimiter enforces per-user query-rate and complex-query-rate budgets.
// It pairs golang.org/x/time/rate for the steady per-minute leg with a
// hand-rolled trailing-window counter for the hourly complex-query cap,
// since x/time/rate has no notion of a distinct "complex" sub-budget.
type RateLimiter struct {
	cfg config.QueryConfig

	mu    sync.Mutex
	users map[string]*userWindow
}

// NewRateLimiter builds a RateLimiter bound to the query engine's configured limits.
func NewRateLimiter(cfg config.QueryConfig) *RateLimiter {
	return &RateLimiter{cfg: cfg, users: make(map[string]*userWindow)}
}

func (r *RateLimiter) windowFor(userID string) *userWindow {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.users[userID]
	if !ok {
		perMinute := float64(r.cfg.MaxQueriesPerMinute) / 60.0
		w = &userWindow{perMinute: rate.NewLimiter(rate.Limit(perMinute), r.cfg.MaxQueriesPerMinute)}
		r.users[userID] = w
	}
	return w
}

// Allow admits or rejects a query for userID, applying the stricter hourly
// complex-query cap when isComplex is true, as flagged by the Complexity
// Analyzer's score.
func (r *RateLimiter) Allow(userID string, isComplex bool, now time.Time) error {
	w := r.windowFor(userID)

	if !w.perMinute.AllowN(now, 1) {
		return apperrors.Capacity(time.Minute,
			"user %s exceeded %d queries/minute", userID, r.cfg.MaxQueriesPerMinute)
	}

	if !isComplex {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	cutoff := now.Add(-time.Hour)
	kept := w.complexHourly[:0]
	for _, t := range w.complexHourly {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	w.complexHourly = kept

	if len(w.complexHourly) >= r.cfg.MaxComplexQueriesPerHour {
		return apperrors.Capacity(time.Hour,
			"user %s exceeded %d complex queries/hour", userID, r.cfg.MaxComplexQueriesPerHour)
	}
	w.complexHourly = append(w.complexHourly, now)
	return nil
}

// Reset clears a user's budgets, for tests and administrative overrides.
func (r *RateLimiter) Reset(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.users, userID)
}

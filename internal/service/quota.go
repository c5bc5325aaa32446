package service

import (
	"context"
	"fmt"
	"time"

	"github.com/keymeterhq/keymeter/internal/model"
	"github.com/keymeterhq/keymeter/internal/store"
)

// QuotaMode selects how the daily budget is enforced.
type QuotaMode string

const (
	// QuotaModeAtomic increments a fixed-window counter in the store and
	// compares the returned value. Exact even under concurrent bursts.
	QuotaModeAtomic QuotaMode = "atomic"

	// QuotaModeCounted reads a fresh count of today's usage events and
	// compares. No write-side locking: concurrent requests can race past
	// the boundary and admit slightly more than the budget before the
	// ledger catches up. Kept as a configurable relaxation.
	QuotaModeCounted QuotaMode = "counted"
)

// ParseQuotaMode maps a config string to a QuotaMode, defaulting to atomic.
func ParseQuotaMode(s string) (QuotaMode, error) {
	switch s {
	case "", string(QuotaModeAtomic):
		return QuotaModeAtomic, nil
	case string(QuotaModeCounted):
		return QuotaModeCounted, nil
	default:
		return "", fmt.Errorf("unknown quota mode %q", s)
	}
}

// QuotaService enforces per-key daily call budgets. "Today" is the calendar
// day in server-local wall clock: the budget resets fully at midnight rather
// than decaying over a rolling 24 hours, so a key can burst across the
// boundary. Reporting uses a rolling window instead; the asymmetry is
// deliberate.
type QuotaService struct {
	store *store.Store
	mode  QuotaMode
	now   func() time.Time
}

// NewQuotaService creates a QuotaService in the given mode.
func NewQuotaService(st *store.Store, mode QuotaMode) *QuotaService {
	return &QuotaService{store: st, mode: mode, now: time.Now}
}

// Consume admits or rejects one call against the key's daily budget. On
// admission it returns the number of calls counted against today's budget
// including this one; the dailyQuota-th call of the day is still admitted
// and the next is rejected with a *QuotaError.
func (s *QuotaService) Consume(ctx context.Context, key *model.APIKey) (int, error) {
	now := s.now()

	switch s.mode {
	case QuotaModeCounted:
		used, err := s.store.CountUsageSince(ctx, key.ID, startOfDay(now))
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		if used >= key.DailyQuota {
			return used, &QuotaError{Limit: key.DailyQuota, Used: used}
		}
		return used + 1, nil

	default: // QuotaModeAtomic
		n, err := s.store.IncrementQuotaCounter(ctx, key.ID, dayBucket(now))
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		if n > key.DailyQuota {
			// Rejected attempts keep bumping the counter, so report the
			// budget itself rather than the attempt tally.
			return key.DailyQuota, &QuotaError{Limit: key.DailyQuota, Used: key.DailyQuota}
		}
		return n, nil
	}
}

// UsedToday reports how many calls are counted against today's budget
// without consuming any quota.
func (s *QuotaService) UsedToday(ctx context.Context, key *model.APIKey) (int, error) {
	now := s.now()

	switch s.mode {
	case QuotaModeCounted:
		used, err := s.store.CountUsageSince(ctx, key.ID, startOfDay(now))
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		return used, nil
	default:
		n, err := s.store.GetQuotaCounter(ctx, key.ID, dayBucket(now))
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		if n > key.DailyQuota {
			n = key.DailyQuota
		}
		return n, nil
	}
}

// startOfDay returns local midnight for the day containing t.
func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// dayBucket names t's calendar day, keying the fixed-window counters.
func dayBucket(t time.Time) string {
	return t.Format("2006-01-02")
}

// QuotaResetIn returns how long until the fixed daily window resets, for
// Retry-After hints on rejected calls.
func QuotaResetIn(t time.Time) time.Duration {
	return startOfDay(t).Add(24 * time.Hour).Sub(t)
}

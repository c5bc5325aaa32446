package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/keymeterhq/keymeter/internal/model"
	"github.com/keymeterhq/keymeter/internal/store"
)

// DefaultMaxScan caps how many recent events one summary reads. Stats are
// exact up to the cap and approximate beyond it; callers needing exact
// long-window totals must page the raw events.
const DefaultMaxScan = 10000

// UsageService appends usage events and summarizes them for reporting.
type UsageService struct {
	store   *store.Store
	logger  *slog.Logger
	maxScan int
	now     func() time.Time
}

// NewUsageService creates a UsageService. maxScan <= 0 selects
// DefaultMaxScan.
func NewUsageService(st *store.Store, logger *slog.Logger, maxScan int) *UsageService {
	if maxScan <= 0 {
		maxScan = DefaultMaxScan
	}
	return &UsageService{store: st, logger: logger, maxScan: maxScan, now: time.Now}
}

// Record appends one usage event for an authenticated call.
func (s *UsageService) Record(ctx context.Context, keyID, endpoint string, tokensIn, tokensOut int, latencyMs int64, statusCode int) error {
	ev := &model.UsageEvent{
		APIKeyID:   keyID,
		Endpoint:   endpoint,
		TokensIn:   tokensIn,
		TokensOut:  tokensOut,
		LatencyMs:  latencyMs,
		StatusCode: statusCode,
		CreatedAt:  s.now().UTC(),
	}
	if err := s.store.InsertUsageEvent(ctx, ev); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// RecordAsync appends the event on a detached goroutine. Failures are
// logged and swallowed: losing a usage record is preferable to failing the
// already-completed call it describes.
func (s *UsageService) RecordAsync(keyID, endpoint string, tokensIn, tokensOut int, latencyMs int64, statusCode int) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.Record(ctx, keyID, endpoint, tokensIn, tokensOut, latencyMs, statusCode); err != nil {
			s.logger.Warn("usage record failed", "key_id", keyID, "endpoint", endpoint, "error", err)
		}
	}()
}

// Summarize aggregates a key's events over a trailing window of windowDays.
// Unlike quota enforcement this is a rolling window: reporting wants a
// trailing view, enforcement wants a resettable budget. The scan reads at
// most maxScan of the newest events.
func (s *UsageService) Summarize(ctx context.Context, keyID string, windowDays int) (*model.UsageSummary, error) {
	if windowDays <= 0 {
		windowDays = 30
	}
	now := s.now()
	since := now.Add(-time.Duration(windowDays) * 24 * time.Hour)

	events, err := s.store.ListUsageEvents(ctx, keyID, since, s.maxScan)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	summary := &model.UsageSummary{
		KeyID:      keyID,
		WindowDays: windowDays,
		TotalCalls: len(events),
		ByEndpoint: make(map[string]int),
		Truncated:  len(events) == s.maxScan,
	}

	dayStart := startOfDay(now)
	var latencySum int64
	for _, ev := range events {
		summary.TokensIn += int64(ev.TokensIn)
		summary.TokensOut += int64(ev.TokensOut)
		latencySum += ev.LatencyMs
		summary.ByEndpoint[ev.Endpoint]++
		if !ev.CreatedAt.Before(dayStart) {
			summary.CallsToday++
		}
	}
	if len(events) > 0 {
		summary.AvgLatencyMs = float64(latencySum) / float64(len(events))
	}
	return summary, nil
}

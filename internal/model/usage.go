package model

import "time"

// UsageEvent records one authenticated call against an API key. Events are
// append-only: they are written once by the usage recorder and never mutated
// or deleted afterwards.
type UsageEvent struct {
	ID         string    `json:"id" db:"id"`
	APIKeyID   string    `json:"api_key_id" db:"api_key_id"`
	Endpoint   string    `json:"endpoint" db:"endpoint"`
	TokensIn   int       `json:"tokens_in" db:"tokens_in"`
	TokensOut  int       `json:"tokens_out" db:"tokens_out"`
	LatencyMs  int64     `json:"latency_ms" db:"latency_ms"`
	StatusCode int       `json:"status_code" db:"status_code"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// UsageSummary aggregates a key's usage events over a trailing window.
// Totals are exact up to the aggregator's scan cap; callers needing exact
// long-window totals must page the raw events.
type UsageSummary struct {
	KeyID        string         `json:"key_id"`
	WindowDays   int            `json:"window_days"`
	TotalCalls   int            `json:"total_calls"`
	TokensIn     int64          `json:"tokens_in"`
	TokensOut    int64          `json:"tokens_out"`
	AvgLatencyMs float64        `json:"avg_latency_ms"`
	CallsToday   int            `json:"calls_today"`
	ByEndpoint   map[string]int `json:"by_endpoint"`
	Truncated    bool           `json:"truncated"` // true if the scan cap was hit
}

// QuotaCounter is a fixed-window admission counter keyed by (key, day).
// The store increments it atomically so concurrent bursts cannot race past
// the daily budget.
type QuotaCounter struct {
	APIKeyID string `db:"api_key_id"`
	Day      string `db:"day"` // YYYY-MM-DD in server-local time
	Calls    int    `db:"calls"`
}

package model

import "time"

// APIKey represents a programmatic-API credential issued to a tenant.
// The raw key is never stored; only a SHA-256 hash and a short prefix for
// identification are persisted. Rows are never deleted: deactivation flips
// is_active so the key's usage history stays intact.
type APIKey struct {
	ID         string     `json:"id" db:"id"`
	OwnerID    string     `json:"owner_id" db:"owner_id"`
	KeyHash    string     `json:"-" db:"key_hash"`            // SHA-256 hash, never expose
	KeyPrefix  string     `json:"key_prefix" db:"key_prefix"` // First 12 chars for identification
	Name       string     `json:"name" db:"name"`
	Plan       Plan       `json:"plan" db:"plan"`
	DailyQuota int        `json:"daily_quota" db:"daily_quota"`
	IsActive   bool       `json:"is_active" db:"is_active"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty" db:"last_used_at"`
}

package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/keymeterhq/keymeter/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(Options{}) // in-memory sqlite
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedKey(t *testing.T, s *Store, ownerID, hash string) *model.APIKey {
	t.Helper()
	key := &model.APIKey{
		OwnerID:    ownerID,
		KeyHash:    hash,
		KeyPrefix:  "km_deadbeef0",
		Name:       "test key",
		Plan:       model.PlanFree,
		DailyQuota: 100,
		IsActive:   true,
	}
	if err := s.CreateAPIKey(context.Background(), key); err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}
	return key
}

func TestAPIKeyCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	key := seedKey(t, s, "owner-1", "hash-1")
	if key.ID == "" {
		t.Fatal("expected non-empty ID after create")
	}
	if key.CreatedAt.IsZero() {
		t.Fatal("expected CreatedAt to be set")
	}

	// By hash
	got, err := s.GetAPIKeyByHash(ctx, "hash-1")
	if err != nil {
		t.Fatalf("GetAPIKeyByHash: %v", err)
	}
	if got.ID != key.ID {
		t.Errorf("got ID %q, want %q", got.ID, key.ID)
	}
	if got.Plan != model.PlanFree {
		t.Errorf("got plan %q, want %q", got.Plan, model.PlanFree)
	}
	if got.DailyQuota != 100 {
		t.Errorf("got quota %d, want 100", got.DailyQuota)
	}

	// By ID
	got2, err := s.GetAPIKey(ctx, key.ID)
	if err != nil {
		t.Fatalf("GetAPIKey: %v", err)
	}
	if got2.KeyHash != "hash-1" {
		t.Errorf("got hash %q, want %q", got2.KeyHash, "hash-1")
	}

	// Unknown hash
	if _, err := s.GetAPIKeyByHash(ctx, "no-such-hash"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown hash: got %v, want ErrNotFound", err)
	}
}

func TestAPIKeyUniqueHash(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedKey(t, s, "owner-1", "same-hash")
	dup := &model.APIKey{
		OwnerID:    "owner-2",
		KeyHash:    "same-hash",
		KeyPrefix:  "km_other0000",
		Plan:       model.PlanFree,
		DailyQuota: 100,
		IsActive:   true,
	}
	if err := s.CreateAPIKey(ctx, dup); err == nil {
		t.Fatal("expected unique constraint error for duplicate hash")
	}
}

func TestListAPIKeysByOwner(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedKey(t, s, "alice", "h1")
	seedKey(t, s, "alice", "h2")
	seedKey(t, s, "bob", "h3")

	aliceKeys, err := s.ListAPIKeys(ctx, "alice")
	if err != nil {
		t.Fatalf("ListAPIKeys(alice): %v", err)
	}
	if len(aliceKeys) != 2 {
		t.Errorf("got %d keys for alice, want 2", len(aliceKeys))
	}

	all, err := s.ListAPIKeys(ctx, "")
	if err != nil {
		t.Fatalf("ListAPIKeys(all): %v", err)
	}
	if len(all) != 3 {
		t.Errorf("got %d keys total, want 3", len(all))
	}
}

func TestDeactivateIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	key := seedKey(t, s, "owner-1", "h1")

	if err := s.DeactivateAPIKey(ctx, key.ID); err != nil {
		t.Fatalf("DeactivateAPIKey: %v", err)
	}
	got, err := s.GetAPIKey(ctx, key.ID)
	if err != nil {
		t.Fatalf("GetAPIKey: %v", err)
	}
	if got.IsActive {
		t.Error("expected key to be inactive")
	}

	// Second deactivation is a no-op, not an error.
	if err := s.DeactivateAPIKey(ctx, key.ID); err != nil {
		t.Fatalf("second DeactivateAPIKey: %v", err)
	}

	// Unknown ID is still ErrNotFound.
	if err := s.DeactivateAPIKey(ctx, "no-such-id"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown ID: got %v, want ErrNotFound", err)
	}

	// Reactivation brings the key back.
	if err := s.ReactivateAPIKey(ctx, key.ID); err != nil {
		t.Fatalf("ReactivateAPIKey: %v", err)
	}
	got, _ = s.GetAPIKey(ctx, key.ID)
	if !got.IsActive {
		t.Error("expected key to be active after reactivation")
	}
}

func TestUpdateLastUsed(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	key := seedKey(t, s, "owner-1", "h1")
	if key.LastUsedAt != nil {
		t.Fatal("expected nil LastUsedAt on fresh key")
	}

	now := time.Now().UTC().Truncate(time.Second)
	if err := s.UpdateAPIKeyLastUsed(ctx, key.ID, now); err != nil {
		t.Fatalf("UpdateAPIKeyLastUsed: %v", err)
	}

	got, err := s.GetAPIKey(ctx, key.ID)
	if err != nil {
		t.Fatalf("GetAPIKey: %v", err)
	}
	if got.LastUsedAt == nil {
		t.Fatal("expected LastUsedAt to be set")
	}
	if !got.LastUsedAt.Equal(now) {
		t.Errorf("LastUsedAt = %v, want %v", got.LastUsedAt, now)
	}

	if err := s.UpdateAPIKeyLastUsed(ctx, "no-such-id", now); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown ID: got %v, want ErrNotFound", err)
	}
}

func TestUsageEventsWindow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := seedKey(t, s, "owner-1", "h1")

	now := time.Now().UTC()
	times := []time.Time{
		now.Add(-48 * time.Hour), // outside a 1-day window
		now.Add(-2 * time.Hour),
		now.Add(-1 * time.Hour),
		now.Add(-time.Minute),
	}
	for i, ts := range times {
		ev := &model.UsageEvent{
			APIKeyID:   key.ID,
			Endpoint:   "validate",
			TokensIn:   10 * (i + 1),
			TokensOut:  5,
			LatencyMs:  int64(i),
			StatusCode: 200,
			CreatedAt:  ts,
		}
		if err := s.InsertUsageEvent(ctx, ev); err != nil {
			t.Fatalf("InsertUsageEvent: %v", err)
		}
	}

	n, err := s.CountUsageSince(ctx, key.ID, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("CountUsageSince: %v", err)
	}
	if n != 3 {
		t.Errorf("count in 24h window = %d, want 3", n)
	}

	events, err := s.ListUsageEvents(ctx, key.ID, now.Add(-24*time.Hour), 2)
	if err != nil {
		t.Fatalf("ListUsageEvents: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2 (limit)", len(events))
	}
	// Newest first
	if !events[0].CreatedAt.After(events[1].CreatedAt) {
		t.Errorf("events not ordered newest first: %v then %v", events[0].CreatedAt, events[1].CreatedAt)
	}

	// A different key sees nothing.
	n, err = s.CountUsageSince(ctx, "other-key", now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("CountUsageSince other key: %v", err)
	}
	if n != 0 {
		t.Errorf("count for other key = %d, want 0", n)
	}
}

func TestQuotaCounterIncrements(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for want := 1; want <= 3; want++ {
		got, err := s.IncrementQuotaCounter(ctx, "key-1", "2026-08-30")
		if err != nil {
			t.Fatalf("IncrementQuotaCounter: %v", err)
		}
		if got != want {
			t.Errorf("increment %d returned %d", want, got)
		}
	}

	// A new day bucket starts from one.
	got, err := s.IncrementQuotaCounter(ctx, "key-1", "2026-08-31")
	if err != nil {
		t.Fatalf("IncrementQuotaCounter new day: %v", err)
	}
	if got != 1 {
		t.Errorf("new day counter = %d, want 1", got)
	}

	// Reads don't consume.
	calls, err := s.GetQuotaCounter(ctx, "key-1", "2026-08-30")
	if err != nil {
		t.Fatalf("GetQuotaCounter: %v", err)
	}
	if calls != 3 {
		t.Errorf("GetQuotaCounter = %d, want 3", calls)
	}
	calls, _ = s.GetQuotaCounter(ctx, "key-1", "2026-09-01")
	if calls != 0 {
		t.Errorf("empty day counter = %d, want 0", calls)
	}
}

func TestAdminCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	admin := &model.Admin{
		Email:        "ops@example.com",
		PasswordHash: "hash",
		Name:         "Ops",
		IsActive:     true,
	}
	if err := s.CreateAdmin(ctx, admin); err != nil {
		t.Fatalf("CreateAdmin: %v", err)
	}
	if admin.ID == "" {
		t.Fatal("expected non-empty admin ID")
	}

	got, err := s.GetAdminByEmail(ctx, "ops@example.com")
	if err != nil {
		t.Fatalf("GetAdminByEmail: %v", err)
	}
	if got.ID != admin.ID {
		t.Errorf("got ID %q, want %q", got.ID, admin.ID)
	}

	if err := s.UpdateAdminLastLogin(ctx, admin.ID); err != nil {
		t.Fatalf("UpdateAdminLastLogin: %v", err)
	}
	got, _ = s.GetAdminByEmail(ctx, "ops@example.com")
	if got.LastLoginAt == nil {
		t.Error("expected LastLoginAt to be set")
	}

	admins, err := s.ListAdmins(ctx)
	if err != nil {
		t.Fatalf("ListAdmins: %v", err)
	}
	if len(admins) != 1 {
		t.Errorf("got %d admins, want 1", len(admins))
	}

	if _, err := s.GetAdminByEmail(ctx, "nobody@example.com"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown email: got %v, want ErrNotFound", err)
	}
}

func TestSettings(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.GetSetting(ctx, "instance_id"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unset key: got %v, want ErrNotFound", err)
	}

	if err := s.SetSetting(ctx, "instance_id", "abc"); err != nil {
		t.Fatalf("SetSetting: %v", err)
	}
	v, err := s.GetSetting(ctx, "instance_id")
	if err != nil {
		t.Fatalf("GetSetting: %v", err)
	}
	if v != "abc" {
		t.Errorf("got %q, want %q", v, "abc")
	}

	// Upsert replaces.
	if err := s.SetSetting(ctx, "instance_id", "def"); err != nil {
		t.Fatalf("SetSetting replace: %v", err)
	}
	v, _ = s.GetSetting(ctx, "instance_id")
	if v != "def" {
		t.Errorf("got %q after replace, want %q", v, "def")
	}
}

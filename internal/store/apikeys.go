package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/keymeterhq/keymeter/internal/model"
)

// CreateAPIKey inserts a new API key record. The key_hash must already be
// set (use secret.Hash). The ID and CreatedAt fields are populated before
// insert; the write is all-or-nothing.
func (s *Store) CreateAPIKey(ctx context.Context, key *model.APIKey) error {
	if key.ID == "" {
		key.ID = uuid.NewString()
	}
	key.CreatedAt = time.Now().UTC()

	const q = `INSERT INTO api_keys
		(id, owner_id, key_hash, key_prefix, name, plan, daily_quota, is_active, created_at, last_used_at)
		VALUES
		(:id, :owner_id, :key_hash, :key_prefix, :name, :plan, :daily_quota, :is_active, :created_at, :last_used_at)`

	if _, err := s.db.NamedExecContext(ctx, q, key); err != nil {
		return fmt.Errorf("insert api key: %w", err)
	}
	return nil
}

// GetAPIKeyByHash looks up an API key by its SHA-256 hash. A miss is
// indistinguishable from a key that never existed.
func (s *Store) GetAPIKeyByHash(ctx context.Context, hash string) (*model.APIKey, error) {
	var key model.APIKey
	q := s.db.Rebind("SELECT * FROM api_keys WHERE key_hash = ?")
	if err := s.db.GetContext(ctx, &key, q, hash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get api key by hash: %w", err)
	}
	return &key, nil
}

// GetAPIKey looks up an API key by ID.
func (s *Store) GetAPIKey(ctx context.Context, id string) (*model.APIKey, error) {
	var key model.APIKey
	q := s.db.Rebind("SELECT * FROM api_keys WHERE id = ?")
	if err := s.db.GetContext(ctx, &key, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get api key: %w", err)
	}
	return &key, nil
}

// ListAPIKeys returns keys for one owner, or all keys when ownerID is empty.
func (s *Store) ListAPIKeys(ctx context.Context, ownerID string) ([]model.APIKey, error) {
	var keys []model.APIKey
	var err error
	if ownerID == "" {
		err = s.db.SelectContext(ctx, &keys,
			"SELECT * FROM api_keys ORDER BY created_at DESC")
	} else {
		q := s.db.Rebind("SELECT * FROM api_keys WHERE owner_id = ? ORDER BY created_at DESC")
		err = s.db.SelectContext(ctx, &keys, q, ownerID)
	}
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	return keys, nil
}

// DeactivateAPIKey marks a key inactive. Deactivating an already-inactive
// key succeeds and leaves state unchanged; an unknown ID is ErrNotFound.
func (s *Store) DeactivateAPIKey(ctx context.Context, id string) error {
	return s.setAPIKeyActive(ctx, id, false)
}

// ReactivateAPIKey turns a deactivated key back on. This is an operator
// action; key holders cannot recover a deactivated key themselves.
func (s *Store) ReactivateAPIKey(ctx context.Context, id string) error {
	return s.setAPIKeyActive(ctx, id, true)
}

func (s *Store) setAPIKeyActive(ctx context.Context, id string, active bool) error {
	q := s.db.Rebind("UPDATE api_keys SET is_active = ? WHERE id = ?")
	result, err := s.db.ExecContext(ctx, q, active, id)
	if err != nil {
		return fmt.Errorf("set api key active: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set api key active rows affected: %w", err)
	}
	if n == 0 {
		// mysql reports zero affected rows for a no-op update, so a zero
		// here may still be an existing key already in the desired state.
		if _, err := s.GetAPIKey(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// UpdateAPIKeyLastUsed sets the last_used_at timestamp for an API key.
// Advisory telemetry: last writer wins and callers ignore failures.
func (s *Store) UpdateAPIKeyLastUsed(ctx context.Context, id string, at time.Time) error {
	q := s.db.Rebind("UPDATE api_keys SET last_used_at = ? WHERE id = ?")
	result, err := s.db.ExecContext(ctx, q, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update api key last used rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

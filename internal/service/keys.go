package service

import (
	"context"
	"fmt"

	"github.com/keymeterhq/keymeter/internal/model"
	"github.com/keymeterhq/keymeter/internal/secret"
	"github.com/keymeterhq/keymeter/internal/store"
)

// KeyService issues API keys. Issuance is the only moment the plaintext
// secret exists outside the caller's hands: the store keeps the hash and a
// display prefix, nothing more.
type KeyService struct {
	store *store.Store
}

// NewKeyService creates a KeyService over the given store.
func NewKeyService(st *store.Store) *KeyService {
	return &KeyService{store: st}
}

// IssuedKey is the one-time result of issuing a key. Plaintext is never
// retrievable again through any other operation.
type IssuedKey struct {
	Plaintext string
	Key       *model.APIKey
}

// Issue generates a secret, resolves the plan to its daily quota, and
// persists a new active key for the owner. The plan's quota is frozen on
// the record: later changes to the plan table do not touch issued keys.
// The write is all-or-nothing; a store failure leaves no partial state.
func (s *KeyService) Issue(ctx context.Context, ownerID, name string, plan model.Plan) (*IssuedKey, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("%w: owner_id is required", ErrInvalidInput)
	}
	if plan == "" {
		plan = model.DefaultPlan
	}
	quota, ok := model.QuotaFor(plan)
	if !ok {
		return nil, fmt.Errorf("%w: unknown plan %q", ErrInvalidInput, plan)
	}

	plaintext, err := secret.Generate()
	if err != nil {
		return nil, err
	}

	key := &model.APIKey{
		OwnerID:    ownerID,
		KeyHash:    secret.Hash(plaintext),
		KeyPrefix:  secret.Prefix(plaintext),
		Name:       name,
		Plan:       plan,
		DailyQuota: quota,
		IsActive:   true,
	}
	if err := s.store.CreateAPIKey(ctx, key); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	return &IssuedKey{Plaintext: plaintext, Key: key}, nil
}

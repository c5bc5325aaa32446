package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/keymeterhq/keymeter/internal/model"
	"github.com/keymeterhq/keymeter/internal/server/middleware"
	"github.com/keymeterhq/keymeter/internal/service"
	"github.com/keymeterhq/keymeter/internal/store"
)

// KeyHandler serves key issuance and lifecycle on the management surface,
// and self-service validation and usage stats on the key-authenticated
// surface.
type KeyHandler struct {
	store    *store.Store
	keySvc   *service.KeyService
	usageSvc *service.UsageService
}

// NewKeyHandler creates a new KeyHandler.
func NewKeyHandler(st *store.Store, keySvc *service.KeyService, usageSvc *service.UsageService) *KeyHandler {
	return &KeyHandler{store: st, keySvc: keySvc, usageSvc: usageSvc}
}

// ---------------------------------------------------------------------------
// Management surface
// ---------------------------------------------------------------------------

// issueKeyRequest is the expected payload for the Issue endpoint.
type issueKeyRequest struct {
	OwnerID string `json:"owner_id"`
	Name    string `json:"name"`
	Plan    string `json:"plan"`
}

// issueKeyResponse carries the one-time plaintext secret together with the
// stored record. The secret is never retrievable again.
type issueKeyResponse struct {
	Key    *model.APIKey `json:"key"`
	Secret string        `json:"secret"`
}

// Issue creates a new API key and returns the plaintext secret exactly once.
// POST /api/v1/system/key
func (h *KeyHandler) Issue(w http.ResponseWriter, r *http.Request) {
	var req issueKeyRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	issued, err := h.keySvc.Issue(r.Context(), req.OwnerID, req.Name, model.Plan(req.Plan))
	if err != nil {
		if errors.Is(err, service.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to issue key: "+err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, issueKeyResponse{
		Key:    issued.Key,
		Secret: issued.Plaintext,
	})
}

// List returns stored keys, optionally filtered by owner. Responses carry
// the display prefix only; the hash never leaves the store layer's JSON
// boundary.
// GET /api/v1/system/key?owner_id=
func (h *KeyHandler) List(w http.ResponseWriter, r *http.Request) {
	keys, err := h.store.ListAPIKeys(r.Context(), queryString(r, "owner_id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list keys: "+err.Error())
		return
	}

	resources := make([]map[string]interface{}, 0, len(keys))
	for i := range keys {
		resources = append(resources, keyToMap(&keys[i]))
	}
	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: resources,
		Meta:     &model.ResponseMeta{Count: len(resources)},
	})
}

// Get returns a single key by ID.
// GET /api/v1/system/key/{keyID}
func (h *KeyHandler) Get(w http.ResponseWriter, r *http.Request) {
	key, err := h.store.GetAPIKey(r.Context(), chi.URLParam(r, "keyID"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Key not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to load key: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, keyToMap(key))
}

// Deactivate turns a key off. Deactivating an already-inactive key succeeds;
// only an unknown ID is an error.
// DELETE /api/v1/system/key/{keyID}
func (h *KeyHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	keyID := chi.URLParam(r, "keyID")
	if err := h.store.DeactivateAPIKey(r.Context(), keyID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Key not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to deactivate key: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":        keyID,
		"is_active": false,
	})
}

// Reactivate turns a deactivated key back on.
// POST /api/v1/system/key/{keyID}/reactivate
func (h *KeyHandler) Reactivate(w http.ResponseWriter, r *http.Request) {
	keyID := chi.URLParam(r, "keyID")
	if err := h.store.ReactivateAPIKey(r.Context(), keyID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Key not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to reactivate key: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":        keyID,
		"is_active": true,
	})
}

// Usage returns rolling-window stats for any key, for operators.
// GET /api/v1/system/key/{keyID}/usage?days=30
func (h *KeyHandler) Usage(w http.ResponseWriter, r *http.Request) {
	keyID := chi.URLParam(r, "keyID")
	if _, err := h.store.GetAPIKey(r.Context(), keyID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Key not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to load key: "+err.Error())
		return
	}
	h.writeSummary(w, r, keyID)
}

// ---------------------------------------------------------------------------
// Key-authenticated surface
// ---------------------------------------------------------------------------

// Validate reports the authenticated caller's own identity. Reaching this
// handler at all means the key passed authentication and quota.
// GET /api/v1/key/validate
func (h *KeyHandler) Validate(w http.ResponseWriter, r *http.Request) {
	p := middleware.GetKeyPrincipal(r.Context())
	if p == nil {
		writeError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"valid":       true,
		"key_id":      p.KeyID,
		"owner_id":    p.OwnerID,
		"plan":        p.Plan,
		"daily_quota": p.DailyQuota,
		"used_today":  p.UsedToday,
	})
}

// SelfUsage returns the authenticated caller's own rolling-window stats.
// GET /api/v1/key/usage?days=30
func (h *KeyHandler) SelfUsage(w http.ResponseWriter, r *http.Request) {
	p := middleware.GetKeyPrincipal(r.Context())
	if p == nil {
		writeError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}
	h.writeSummary(w, r, p.KeyID)
}

func (h *KeyHandler) writeSummary(w http.ResponseWriter, r *http.Request, keyID string) {
	days := queryInt(r, "days", 0)
	if days < 0 || days > 365 {
		writeError(w, http.StatusBadRequest, "days must be between 1 and 365")
		return
	}
	summary, err := h.usageSvc.Summarize(r.Context(), keyID, days)
	if err != nil {
		if errors.Is(err, service.ErrStoreUnavailable) {
			writeError(w, http.StatusServiceUnavailable, "Backing store unavailable")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to summarize usage: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// keyToMap shapes a key for API responses: display prefix, never hash or
// secret.
func keyToMap(k *model.APIKey) map[string]interface{} {
	return map[string]interface{}{
		"id":           k.ID,
		"owner_id":     k.OwnerID,
		"key_prefix":   k.KeyPrefix,
		"name":         k.Name,
		"plan":         k.Plan,
		"daily_quota":  k.DailyQuota,
		"is_active":    k.IsActive,
		"created_at":   k.CreatedAt,
		"last_used_at": k.LastUsedAt,
	}
}

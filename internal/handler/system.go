package handler

import (
	"errors"
	"net/http"
	"net/mail"
	"time"

	"github.com/keymeterhq/keymeter/internal/model"
	"github.com/keymeterhq/keymeter/internal/secret"
	"github.com/keymeterhq/keymeter/internal/service"
	"github.com/keymeterhq/keymeter/internal/store"
)

// SystemHandler manages operator accounts and sessions.
type SystemHandler struct {
	store     *store.Store
	authSvc   *service.AuthService
	jwtExpiry time.Duration
}

// NewSystemHandler creates a new SystemHandler. jwtExpiry <= 0 selects 24h.
func NewSystemHandler(st *store.Store, authSvc *service.AuthService, jwtExpiry time.Duration) *SystemHandler {
	if jwtExpiry <= 0 {
		jwtExpiry = 24 * time.Hour
	}
	return &SystemHandler{store: st, authSvc: authSvc, jwtExpiry: jwtExpiry}
}

// ---------------------------------------------------------------------------
// Sessions
// ---------------------------------------------------------------------------

// loginRequest is the expected payload for the Login endpoint.
type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// loginResponse is the response payload for a successful login.
type loginResponse struct {
	Token     string `json:"session_token"`
	TokenType string `json:"token_type"`
	ExpiresIn int    `json:"expires_in"`
	AdminID   string `json:"admin_id"`
	Email     string `json:"email"`
	Name      string `json:"name"`
}

// Login authenticates an operator and returns a JWT session token.
// POST /api/v1/system/admin/session
func (h *SystemHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Email and password are required")
		return
	}

	token, admin, err := h.authSvc.Login(r.Context(), req.Email, req.Password, h.jwtExpiry)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "Invalid credentials")
			return
		}
		writeError(w, http.StatusServiceUnavailable, "Authentication unavailable")
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Token:     token,
		TokenType: "bearer",
		ExpiresIn: int(h.jwtExpiry.Seconds()),
		AdminID:   admin.ID,
		Email:     admin.Email,
		Name:      admin.Name,
	})
}

// Logout invalidates the current session. Sessions are stateless JWTs, so
// this is a server-side no-op; clients discard their token.
// DELETE /api/v1/system/admin/session
func (h *SystemHandler) Logout(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Session invalidated",
	})
}

// ---------------------------------------------------------------------------
// Operator accounts
// ---------------------------------------------------------------------------

// createAdminRequest is the expected payload for the CreateAdmin endpoint.
type createAdminRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

// CreateAdmin registers a new operator account.
// POST /api/v1/system/admin
func (h *SystemHandler) CreateAdmin(w http.ResponseWriter, r *http.Request) {
	var req createAdminRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		writeError(w, http.StatusBadRequest, "A valid email is required")
		return
	}
	if len(req.Password) < 8 {
		writeError(w, http.StatusBadRequest, "Password must be at least 8 characters")
		return
	}

	admin := &model.Admin{
		Email:        req.Email,
		PasswordHash: secret.Hash(req.Password),
		Name:         req.Name,
		IsActive:     true,
	}
	if err := h.store.CreateAdmin(r.Context(), admin); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create admin: "+err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, admin)
}

// ListAdmins returns all operator accounts.
// GET /api/v1/system/admin
func (h *SystemHandler) ListAdmins(w http.ResponseWriter, r *http.Request) {
	admins, err := h.store.ListAdmins(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list admins: "+err.Error())
		return
	}

	resources := make([]map[string]interface{}, 0, len(admins))
	for i := range admins {
		a := &admins[i]
		resources = append(resources, map[string]interface{}{
			"id":            a.ID,
			"email":         a.Email,
			"name":          a.Name,
			"is_active":     a.IsActive,
			"last_login_at": a.LastLoginAt,
			"created_at":    a.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: resources,
		Meta:     &model.ResponseMeta{Count: len(resources)},
	})
}

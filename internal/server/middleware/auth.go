package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/keymeterhq/keymeter/internal/service"
)

type contextKeyAuth string

const (
	// KeyPrincipalKey is the context key for the API-key principal.
	KeyPrincipalKey contextKeyAuth = "key_principal"

	// AdminPrincipalKey is the context key for the admin session principal.
	AdminPrincipalKey contextKeyAuth = "admin_principal"
)

// AuthenticateKey returns an HTTP middleware that resolves the request's
// API key (X-API-Key header, then Authorization bearer) to a principal,
// consuming one call of the key's daily budget. Failure modes map to
// distinct responses:
//
//	missing credentials     -> 401, asks for a key
//	unknown secret          -> 401, invalid key
//	deactivated key         -> 401, names the deactivation
//	daily budget exhausted  -> 429 with limit, usage, and Retry-After
//	store failure           -> 503
func AuthenticateKey(authSvc *service.AuthService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, err := authSvc.Authenticate(r.Context(), r)
			if err != nil {
				writeAuthFailure(w, err)
				return
			}
			setLoggedKeyID(r.Context(), p.KeyID)
			ctx := context.WithValue(r.Context(), KeyPrincipalKey, p)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin returns an HTTP middleware that enforces an admin session
// (Authorization bearer JWT) on management routes.
func RequireAdmin(authSvc *service.AuthService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				writeAuthJSON(w, http.StatusUnauthorized, "Admin session required. Provide a Bearer token.", nil)
				return
			}
			p, err := authSvc.ValidateJWT(r.Context(), token)
			if err != nil {
				writeAuthJSON(w, http.StatusUnauthorized, "Invalid or expired session token", nil)
				return
			}
			ctx := context.WithValue(r.Context(), AdminPrincipalKey, p)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetKeyPrincipal extracts the API-key principal from the context. Returns
// nil on unauthenticated requests.
func GetKeyPrincipal(ctx context.Context) *service.Principal {
	if p, ok := ctx.Value(KeyPrincipalKey).(*service.Principal); ok {
		return p
	}
	return nil
}

// GetAdminPrincipal extracts the admin principal from the context.
func GetAdminPrincipal(ctx context.Context) *service.AdminPrincipal {
	if p, ok := ctx.Value(AdminPrincipalKey).(*service.AdminPrincipal); ok {
		return p
	}
	return nil
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	auth := r.Header.Get("Authorization")
	if len(auth) > len(prefix) && auth[:len(prefix)] == prefix {
		return auth[len(prefix):]
	}
	return ""
}

func writeAuthFailure(w http.ResponseWriter, err error) {
	var qe *service.QuotaError
	switch {
	case errors.Is(err, service.ErrMissingKey):
		writeAuthJSON(w, http.StatusUnauthorized,
			"API key required. Provide the X-API-Key header or an Authorization bearer token.", nil)
	case errors.Is(err, service.ErrDeactivatedKey):
		writeAuthJSON(w, http.StatusUnauthorized, "API key has been deactivated", nil)
	case errors.As(err, &qe):
		w.Header().Set("Retry-After", strconv.Itoa(int(service.QuotaResetIn(time.Now()).Seconds())))
		writeAuthJSON(w, http.StatusTooManyRequests, "Daily quota exceeded", map[string]interface{}{
			"daily_quota": qe.Limit,
			"used_today":  qe.Used,
		})
	case errors.Is(err, service.ErrStoreUnavailable):
		writeAuthJSON(w, http.StatusServiceUnavailable, "Backing store unavailable, retry shortly", nil)
	default:
		writeAuthJSON(w, http.StatusUnauthorized, "Invalid API key", nil)
	}
}

// writeAuthJSON builds the error envelope inline rather than importing the
// handler package, which would create an import cycle.
func writeAuthJSON(w http.ResponseWriter, status int, message string, contextFields map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	body := map[string]interface{}{
		"error": map[string]interface{}{
			"code":    status,
			"message": message,
		},
	}
	if contextFields != nil {
		body["error"].(map[string]interface{})["context"] = contextFields
	}
	json.NewEncoder(w).Encode(body)
}

package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/keymeterhq/keymeter/internal/model"
	"github.com/keymeterhq/keymeter/internal/secret"
	"github.com/keymeterhq/keymeter/internal/store"
)

// APIKeyHeader is the dedicated secret header, checked before the
// Authorization bearer fallback.
const APIKeyHeader = "X-API-Key"

// Principal is the identity resolved from a valid API key, handed to
// downstream authorization and business logic.
type Principal struct {
	KeyID      string
	OwnerID    string
	Plan       model.Plan
	DailyQuota int
	UsedToday  int
}

// AdminPrincipal is the identity resolved from an admin session token.
type AdminPrincipal struct {
	AdminID string
	Email   string
}

// AuthService authenticates inbound requests. API keys are resolved by
// hash lookup and gated by the quota enforcer; operator sessions are JWT.
// The store handle is injected at construction so tests can substitute an
// in-memory database.
type AuthService struct {
	store     *store.Store
	quota     *QuotaService
	jwtSecret []byte
	logger    *slog.Logger
	now       func() time.Time
}

// NewAuthService creates an AuthService over the given store and quota
// enforcer.
func NewAuthService(st *store.Store, quota *QuotaService, jwtSecret string, logger *slog.Logger) *AuthService {
	return &AuthService{
		store:     st,
		quota:     quota,
		jwtSecret: []byte(jwtSecret),
		logger:    logger,
		now:       time.Now,
	}
}

// ExtractSecret pulls the candidate secret from a request: the X-API-Key
// header first, then an Authorization bearer token. Returns "" when neither
// yields a non-empty token.
func ExtractSecret(r *http.Request) string {
	if key := r.Header.Get(APIKeyHeader); key != "" {
		return key
	}
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return ""
}

// Authenticate resolves a request's API key to a Principal, consuming one
// call of today's budget. The error is one of ErrMissingKey, ErrInvalidKey,
// ErrDeactivatedKey, a *QuotaError, or ErrStoreUnavailable; any error is
// terminal for the request.
func (s *AuthService) Authenticate(ctx context.Context, r *http.Request) (*Principal, error) {
	raw := ExtractSecret(r)
	if raw == "" {
		return nil, ErrMissingKey
	}
	return s.ValidateSecret(ctx, raw)
}

// ValidateSecret authenticates a raw secret directly, outside an HTTP
// request. Same outcome contract as Authenticate.
func (s *AuthService) ValidateSecret(ctx context.Context, raw string) (*Principal, error) {
	key, err := s.store.GetAPIKeyByHash(ctx, secret.Hash(raw))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidKey
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if !key.IsActive {
		return nil, ErrDeactivatedKey
	}

	used, err := s.quota.Consume(ctx, key)
	if err != nil {
		var qe *QuotaError
		if errors.As(err, &qe) {
			return nil, qe
		}
		return nil, err
	}

	// Best-effort last-used stamp. Observability, not correctness: a failed
	// update must never fail the authentication, and last-writer-wins is
	// fine across concurrent requests.
	go func(id string, at time.Time) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.store.UpdateAPIKeyLastUsed(ctx, id, at); err != nil {
			s.logger.Warn("last-used update failed", "key_id", id, "error", err)
		}
	}(key.ID, s.now())

	return &Principal{
		KeyID:      key.ID,
		OwnerID:    key.OwnerID,
		Plan:       key.Plan,
		DailyQuota: key.DailyQuota,
		UsedToday:  used,
	}, nil
}

// ---------------------------------------------------------------------------
// Admin sessions
// ---------------------------------------------------------------------------

type adminClaims struct {
	AdminID string `json:"admin_id"`
	Email   string `json:"email"`
	jwt.RegisteredClaims
}

// Login verifies an operator's email and password and returns a signed
// session token. All failure modes collapse into ErrInvalidCredentials.
func (s *AuthService) Login(ctx context.Context, email, password string, ttl time.Duration) (string, *model.Admin, error) {
	admin, err := s.store.GetAdminByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", nil, ErrInvalidCredentials
		}
		return "", nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !admin.IsActive {
		return "", nil, ErrInvalidCredentials
	}
	if secret.Hash(password) != admin.PasswordHash {
		return "", nil, ErrInvalidCredentials
	}

	token, err := s.IssueJWT(ctx, admin.ID, admin.Email, ttl)
	if err != nil {
		return "", nil, err
	}

	// Advisory, same policy as last-used stamps.
	if err := s.store.UpdateAdminLastLogin(ctx, admin.ID); err != nil {
		s.logger.Warn("last-login update failed", "admin_id", admin.ID, "error", err)
	}
	return token, admin, nil
}

// IssueJWT creates a new signed session token for the given admin.
func (s *AuthService) IssueJWT(ctx context.Context, adminID, email string, ttl time.Duration) (string, error) {
	now := s.now()
	claims := adminClaims{
		AdminID: adminID,
		Email:   email,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    "keymeter",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

// ValidateJWT verifies a session token and returns the admin identity.
func (s *AuthService) ValidateJWT(ctx context.Context, tokenStr string) (*AdminPrincipal, error) {
	claims := &adminClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidCredentials
	}
	return &AdminPrincipal{AdminID: claims.AdminID, Email: claims.Email}, nil
}

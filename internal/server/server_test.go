package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/keymeterhq/keymeter/internal/model"
	"github.com/keymeterhq/keymeter/internal/secret"
	"github.com/keymeterhq/keymeter/internal/service"
	"github.com/keymeterhq/keymeter/internal/store"
)

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

const (
	testJWTSecret = "test-secret-for-jwt-integration-tests"
	testPassword  = "supersecretpassword"
	testAdminName = "Test Admin"
)

// testEnv holds all the shared state for integration tests.
type testEnv struct {
	server  *Server
	store   *store.Store
	authSvc *service.AuthService
}

// newTestEnv creates a fresh test environment with an in-memory store and a
// fully wired Server.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st, err := store.NewStore(store.Options{}) // in-memory SQLite
	if err != nil {
		t.Fatalf("store.NewStore: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	quotaSvc := service.NewQuotaService(st, service.QuotaModeAtomic)
	authSvc := service.NewAuthService(st, quotaSvc, testJWTSecret, logger)
	keySvc := service.NewKeyService(st)
	usageSvc := service.NewUsageService(st, logger, 0)

	cfg := DefaultConfig()
	cfg.LoginRateLimit = 100
	srv := New(cfg, st, authSvc, keySvc, usageSvc, logger)

	return &testEnv{
		server:  srv,
		store:   st,
		authSvc: authSvc,
	}
}

// seedAdmin creates a default admin account and returns it.
func (e *testEnv) seedAdmin(t *testing.T) *model.Admin {
	t.Helper()
	admin := &model.Admin{
		Email:        "admin@example.com",
		PasswordHash: secret.Hash(testPassword),
		Name:         testAdminName,
		IsActive:     true,
	}
	if err := e.store.CreateAdmin(context.Background(), admin); err != nil {
		t.Fatalf("seedAdmin: %v", err)
	}
	return admin
}

// adminToken logs in as the default admin and returns the JWT token string.
func (e *testEnv) adminToken(t *testing.T) string {
	t.Helper()
	body := jsonBody(t, map[string]string{
		"email":    "admin@example.com",
		"password": testPassword,
	})
	rr := e.do(t, "POST", "/api/v1/system/admin/session", body, nil)
	assertStatus(t, rr, http.StatusOK)

	var resp struct {
		Token string `json:"session_token"`
	}
	decodeJSON(t, rr, &resp)
	if resp.Token == "" {
		t.Fatal("adminToken: got empty token from login")
	}
	return resp.Token
}

// issueKey creates a key through the management API and returns the stored
// record's ID together with the one-time plaintext secret.
func (e *testEnv) issueKey(t *testing.T, token, ownerID, plan string) (keyID, plaintext string) {
	t.Helper()
	body := jsonBody(t, map[string]string{
		"owner_id": ownerID,
		"name":     "test key",
		"plan":     plan,
	})
	rr := e.doAuth(t, "POST", "/api/v1/system/key", body, token)
	assertStatus(t, rr, http.StatusCreated)

	var resp struct {
		Key    model.APIKey `json:"key"`
		Secret string       `json:"secret"`
	}
	decodeJSON(t, rr, &resp)
	if resp.Secret == "" {
		t.Fatal("issueKey: empty secret in response")
	}
	return resp.Key.ID, resp.Secret
}

// do executes an HTTP request against the test server and returns the recorder.
// headers is an optional map of header key-value pairs.
func (e *testEnv) do(t *testing.T, method, path string, body io.Reader, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	e.server.ServeHTTP(rr, req)
	return rr
}

// doAuth executes an authenticated HTTP request using the admin JWT.
func (e *testEnv) doAuth(t *testing.T, method, path string, body io.Reader, token string) *httptest.ResponseRecorder {
	t.Helper()
	return e.do(t, method, path, body, map[string]string{
		"Authorization": "Bearer " + token,
	})
}

// doAPIKey executes an HTTP request authenticated with an API key.
func (e *testEnv) doAPIKey(t *testing.T, method, path string, body io.Reader, apiKey string) *httptest.ResponseRecorder {
	t.Helper()
	return e.do(t, method, path, body, map[string]string{
		"X-API-Key": apiKey,
	})
}

func jsonBody(t *testing.T, v interface{}) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(v); err != nil {
		t.Fatalf("jsonBody: %v", err)
	}
	return buf
}

func assertStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Errorf("status = %d, want %d; body = %s", rr.Code, want, rr.Body.String())
	}
}

func assertContentType(t *testing.T, rr *httptest.ResponseRecorder, want string) {
	t.Helper()
	got := rr.Header().Get("Content-Type")
	if got != want {
		t.Errorf("Content-Type = %q, want %q", got, want)
	}
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decodeJSON: %v; body = %s", err, rr.Body.String())
	}
}

// ---------------------------------------------------------------------------
// Health check tests
// ---------------------------------------------------------------------------

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "GET", "/healthz", nil, nil)
	assertStatus(t, rr, http.StatusOK)
	assertContentType(t, rr, "application/json")

	var resp map[string]string
	decodeJSON(t, rr, &resp)
	if resp["status"] != "ok" {
		t.Errorf("status = %q, want %q", resp["status"], "ok")
	}
}

func TestReadyz(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "GET", "/readyz", nil, nil)
	assertStatus(t, rr, http.StatusOK)

	var resp map[string]interface{}
	decodeJSON(t, rr, &resp)
	if resp["status"] != "ok" {
		t.Errorf("status = %q, want %q", resp["status"], "ok")
	}
	checks, ok := resp["checks"].(map[string]interface{})
	if !ok {
		t.Fatal("expected checks to be a map")
	}
	if checks["store"] != "ok" {
		t.Errorf("store check = %v, want ok", checks["store"])
	}
}

func TestOpenAPISpec(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "GET", "/openapi.json", nil, nil)
	assertStatus(t, rr, http.StatusOK)
	assertContentType(t, rr, "application/json")

	var resp map[string]interface{}
	decodeJSON(t, rr, &resp)
	if resp["openapi"] != "3.1.0" {
		t.Errorf("openapi = %v, want 3.1.0", resp["openapi"])
	}
}

// ---------------------------------------------------------------------------
// Session tests
// ---------------------------------------------------------------------------

func TestLoginAndLogout(t *testing.T) {
	env := newTestEnv(t)
	env.seedAdmin(t)

	token := env.adminToken(t)
	if token == "" {
		t.Fatal("empty token")
	}

	rr := env.do(t, "DELETE", "/api/v1/system/admin/session", nil, nil)
	assertStatus(t, rr, http.StatusOK)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	env := newTestEnv(t)
	env.seedAdmin(t)

	body := jsonBody(t, map[string]string{
		"email":    "admin@example.com",
		"password": "wrong",
	})
	rr := env.do(t, "POST", "/api/v1/system/admin/session", body, nil)
	assertStatus(t, rr, http.StatusUnauthorized)
}

func TestManagementRequiresSession(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "GET", "/api/v1/system/key", nil, nil)
	assertStatus(t, rr, http.StatusUnauthorized)

	rr = env.doAuth(t, "GET", "/api/v1/system/key", nil, "not-a-token")
	assertStatus(t, rr, http.StatusUnauthorized)
}

// ---------------------------------------------------------------------------
// Key lifecycle tests
// ---------------------------------------------------------------------------

func TestIssueAndListKeys(t *testing.T) {
	env := newTestEnv(t)
	env.seedAdmin(t)
	token := env.adminToken(t)

	keyID, plaintext := env.issueKey(t, token, "owner-1", "pro")
	if !strings.HasPrefix(plaintext, "km_") {
		t.Errorf("secret = %q, want km_ prefix", plaintext)
	}

	rr := env.doAuth(t, "GET", "/api/v1/system/key?owner_id=owner-1", nil, token)
	assertStatus(t, rr, http.StatusOK)

	var list model.ListResponse
	decodeJSON(t, rr, &list)
	if list.Meta == nil || list.Meta.Count != 1 {
		t.Fatalf("count = %+v, want 1", list.Meta)
	}
	entry := list.Resource[0]
	if entry["id"] != keyID {
		t.Errorf("id = %v, want %q", entry["id"], keyID)
	}
	if entry["plan"] != "pro" {
		t.Errorf("plan = %v, want pro", entry["plan"])
	}
	if entry["daily_quota"].(float64) != 2000 {
		t.Errorf("daily_quota = %v, want 2000", entry["daily_quota"])
	}

	// Neither the hash nor the secret ever appears in list responses.
	raw := rr.Body.String()
	for _, field := range []string{"key_hash", "secret"} {
		if _, ok := entry[field]; ok {
			t.Errorf("list response exposes %q", field)
		}
	}
	if strings.Contains(raw, plaintext) {
		t.Error("list response contains the plaintext secret")
	}
}

func TestIssueKeyValidation(t *testing.T) {
	env := newTestEnv(t)
	env.seedAdmin(t)
	token := env.adminToken(t)

	for _, tt := range []struct {
		name string
		body map[string]string
	}{
		{"missing owner", map[string]string{"plan": "free"}},
		{"unknown plan", map[string]string{"owner_id": "o1", "plan": "platinum"}},
	} {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.doAuth(t, "POST", "/api/v1/system/key", jsonBody(t, tt.body), token)
			assertStatus(t, rr, http.StatusBadRequest)
		})
	}
}

func TestDeactivateKeyOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	env.seedAdmin(t)
	token := env.adminToken(t)

	keyID, plaintext := env.issueKey(t, token, "owner-1", "free")

	// Key works before deactivation.
	rr := env.doAPIKey(t, "GET", "/api/v1/key/validate", nil, plaintext)
	assertStatus(t, rr, http.StatusOK)

	rr = env.doAuth(t, "DELETE", "/api/v1/system/key/"+keyID, nil, token)
	assertStatus(t, rr, http.StatusOK)

	// Deactivation is sticky and idempotent.
	rr = env.doAPIKey(t, "GET", "/api/v1/key/validate", nil, plaintext)
	assertStatus(t, rr, http.StatusUnauthorized)

	rr = env.doAuth(t, "DELETE", "/api/v1/system/key/"+keyID, nil, token)
	assertStatus(t, rr, http.StatusOK)

	// Unknown IDs are a 404, not a silent success.
	rr = env.doAuth(t, "DELETE", "/api/v1/system/key/no-such-id", nil, token)
	assertStatus(t, rr, http.StatusNotFound)

	// Reactivation restores service.
	rr = env.doAuth(t, "POST", "/api/v1/system/key/"+keyID+"/reactivate", nil, token)
	assertStatus(t, rr, http.StatusOK)
	rr = env.doAPIKey(t, "GET", "/api/v1/key/validate", nil, plaintext)
	assertStatus(t, rr, http.StatusOK)
}

// ---------------------------------------------------------------------------
// Authentication and quota tests
// ---------------------------------------------------------------------------

func TestKeyAuthHeaderPriority(t *testing.T) {
	env := newTestEnv(t)
	env.seedAdmin(t)
	token := env.adminToken(t)
	_, plaintext := env.issueKey(t, token, "owner-1", "pro")

	// X-API-Key alone.
	rr := env.doAPIKey(t, "GET", "/api/v1/key/validate", nil, plaintext)
	assertStatus(t, rr, http.StatusOK)

	// Bearer alone.
	rr = env.do(t, "GET", "/api/v1/key/validate", nil, map[string]string{
		"Authorization": "Bearer " + plaintext,
	})
	assertStatus(t, rr, http.StatusOK)

	// X-API-Key wins when both are present, even when the bearer is junk.
	rr = env.do(t, "GET", "/api/v1/key/validate", nil, map[string]string{
		"X-API-Key":     plaintext,
		"Authorization": "Bearer km_junk",
	})
	assertStatus(t, rr, http.StatusOK)

	// No credentials at all.
	rr = env.do(t, "GET", "/api/v1/key/validate", nil, nil)
	assertStatus(t, rr, http.StatusUnauthorized)
}

func TestFreeKeyDailyQuota(t *testing.T) {
	env := newTestEnv(t)
	env.seedAdmin(t)
	token := env.adminToken(t)
	_, plaintext := env.issueKey(t, token, "owner-free", "free")

	// The free plan allows 100 calls per day. All 100 succeed.
	for i := 1; i <= 100; i++ {
		rr := env.doAPIKey(t, "GET", "/api/v1/key/validate", nil, plaintext)
		if rr.Code != http.StatusOK {
			t.Fatalf("call %d: status = %d; body = %s", i, rr.Code, rr.Body.String())
		}
	}

	// Call 101 is rejected with the budget in the error context and a
	// Retry-After hint.
	rr := env.doAPIKey(t, "GET", "/api/v1/key/validate", nil, plaintext)
	assertStatus(t, rr, http.StatusTooManyRequests)
	if rr.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header on 429")
	}

	var resp struct {
		Error struct {
			Code    int                    `json:"code"`
			Message string                 `json:"message"`
			Context map[string]interface{} `json:"context"`
		} `json:"error"`
	}
	decodeJSON(t, rr, &resp)
	if resp.Error.Context["daily_quota"].(float64) != 100 {
		t.Errorf("daily_quota = %v, want 100", resp.Error.Context["daily_quota"])
	}
	if resp.Error.Context["used_today"].(float64) != 100 {
		t.Errorf("used_today = %v, want 100", resp.Error.Context["used_today"])
	}
}

func TestValidateReportsIdentity(t *testing.T) {
	env := newTestEnv(t)
	env.seedAdmin(t)
	token := env.adminToken(t)
	keyID, plaintext := env.issueKey(t, token, "owner-9", "enterprise")

	rr := env.doAPIKey(t, "GET", "/api/v1/key/validate", nil, plaintext)
	assertStatus(t, rr, http.StatusOK)

	var resp map[string]interface{}
	decodeJSON(t, rr, &resp)
	if resp["valid"] != true {
		t.Error("valid = false")
	}
	if resp["key_id"] != keyID {
		t.Errorf("key_id = %v, want %q", resp["key_id"], keyID)
	}
	if resp["owner_id"] != "owner-9" {
		t.Errorf("owner_id = %v", resp["owner_id"])
	}
	if resp["plan"] != "enterprise" {
		t.Errorf("plan = %v", resp["plan"])
	}
	if resp["daily_quota"].(float64) != 50000 {
		t.Errorf("daily_quota = %v, want 50000", resp["daily_quota"])
	}
}

// ---------------------------------------------------------------------------
// Usage reporting tests
// ---------------------------------------------------------------------------

func TestUsageReporting(t *testing.T) {
	env := newTestEnv(t)
	env.seedAdmin(t)
	token := env.adminToken(t)
	keyID, plaintext := env.issueKey(t, token, "owner-1", "pro")

	// Generate some authenticated traffic.
	for i := 0; i < 5; i++ {
		rr := env.doAPIKey(t, "GET", "/api/v1/key/validate", nil, plaintext)
		assertStatus(t, rr, http.StatusOK)
	}

	// Recording is asynchronous; poll until events land.
	var summary model.UsageSummary
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		rr := env.doAuth(t, "GET", fmt.Sprintf("/api/v1/system/key/%s/usage?days=7", keyID), nil, token)
		assertStatus(t, rr, http.StatusOK)
		decodeJSON(t, rr, &summary)
		if summary.TotalCalls >= 5 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	if summary.TotalCalls < 5 {
		t.Fatalf("TotalCalls = %d, want >= 5", summary.TotalCalls)
	}
	if summary.KeyID != keyID {
		t.Errorf("KeyID = %q, want %q", summary.KeyID, keyID)
	}
	if summary.ByEndpoint["/api/v1/key/validate"] < 5 {
		t.Errorf("ByEndpoint = %v, want /api/v1/key/validate >= 5", summary.ByEndpoint)
	}

	// The self-service route reports the same stats, but spends quota.
	rr := env.doAPIKey(t, "GET", "/api/v1/key/usage?days=7", nil, plaintext)
	assertStatus(t, rr, http.StatusOK)
	var self model.UsageSummary
	decodeJSON(t, rr, &self)
	if self.KeyID != keyID {
		t.Errorf("self KeyID = %q, want %q", self.KeyID, keyID)
	}
}

func TestAdminUsageUnknownKey(t *testing.T) {
	env := newTestEnv(t)
	env.seedAdmin(t)
	token := env.adminToken(t)

	rr := env.doAuth(t, "GET", "/api/v1/system/key/no-such-key/usage", nil, token)
	assertStatus(t, rr, http.StatusNotFound)
}

package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blogsuite/blogauth/api"
	"github.com/blogsuite/blogauth/cache"
	"github.com/blogsuite/blogauth/credential"
	"github.com/blogsuite/blogauth/session"
	"github.com/blogsuite/blogauth/storage"
	"github.com/blogsuite/blogauth/storage/file"
	"github.com/blogsuite/blogauth/token"
)

const (
	testUser     = "admin"
	testPassword = "correct-horse-battery"
)

var testSecret = bytes.Repeat([]byte("s"), 32)

type testEnv struct {
	srv      *httptest.Server
	sessions *session.Manager
}

// setupServer builds a full stack on a temp-dir file store with a known
// plaintext credential record, exercising the lazy migration path on first
// login.
func setupServer(t *testing.T) *testEnv {
	t.Helper()
	store, err := file.New(t.TempDir())
	require.NoError(t, err)
	return setupServerOn(t, store)
}

// setupServerOn builds the stack on the given document store.
func setupServerOn(t *testing.T, store storage.DocumentStore) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	records := map[string]credential.Record{
		testUser: {
			Username:    testUser,
			Password:    testPassword,
			IsHashed:    false,
			LastUpdated: time.Now().UTC(),
		},
	}
	data, err := json.Marshal(records)
	require.NoError(t, err)
	require.NoError(t, store.Write(context.Background(), "credentials", data))

	c := cache.New[map[string]credential.Record]()
	creds := credential.New(store, c, logger)

	sessions := session.NewManager(store, logger, session.Config{})
	t.Cleanup(sessions.Close)

	issuer, err := token.NewIssuer(testSecret)
	require.NoError(t, err)

	a := api.New(creds, sessions, issuer,
		api.WithLogger(logger),
		api.WithCacheStats(c.Stats),
	)
	r := chi.NewRouter()
	r.Mount("/api", a.Router())

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, sessions: sessions}
}

// setupDegradedServer builds a stack with no session manager at all.
func setupDegradedServer(t *testing.T) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, err := file.New(t.TempDir())
	require.NoError(t, err)

	records := map[string]credential.Record{
		testUser: {Username: testUser, Password: testPassword, LastUpdated: time.Now().UTC()},
	}
	data, err := json.Marshal(records)
	require.NoError(t, err)
	require.NoError(t, store.Write(context.Background(), "credentials", data))

	c := cache.New[map[string]credential.Record]()
	creds := credential.New(store, c, logger)
	issuer, err := token.NewIssuer(testSecret)
	require.NoError(t, err)

	a := api.New(creds, nil, issuer, api.WithLogger(logger))
	r := chi.NewRouter()
	r.Mount("/api", a.Router())

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url, bearer string, body any) *http.Response {
	t.Helper()
	var reqBody bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&reqBody).Encode(body))
	}
	req, err := http.NewRequestWithContext(context.Background(), method, url, &reqBody)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func login(t *testing.T, baseURL string) api.LoginResponse {
	t.Helper()
	resp := doJSON(t, http.MethodPost, baseURL+"/api/auth/login", "", api.LoginRequest{
		Username: testUser,
		Password: testPassword,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decodeBody[api.LoginResponse](t, resp)
	require.True(t, out.Success)
	require.NotEmpty(t, out.Token)
	return out
}

func TestLoginSuccess(t *testing.T) {
	env := setupServer(t)

	out := login(t, env.srv.URL)
	assert.Equal(t, testUser, out.User.Username)
	assert.NotEmpty(t, out.User.SessionID)
	require.NotNil(t, out.Session)
	assert.True(t, out.Session.ExpiresAt.After(time.Now()))
}

func TestLoginFailureIsGeneric(t *testing.T) {
	env := setupServer(t)

	// Wrong password and unknown username must produce identical responses.
	for _, creds := range []api.LoginRequest{
		{Username: testUser, Password: "wrong"},
		{Username: "nobody", Password: testPassword},
	} {
		resp := doJSON(t, http.MethodPost, env.srv.URL+"/api/auth/login", "", creds)
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		out := decodeBody[api.ErrorResponse](t, resp)
		assert.Equal(t, "invalid_login", out.Code)
		assert.Equal(t, "Kullanıcı adı veya şifre hatalı", out.Error)
	}
}

func TestLoginValidation(t *testing.T) {
	env := setupServer(t)

	resp := doJSON(t, http.MethodPost, env.srv.URL+"/api/auth/login", "", api.LoginRequest{})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	out := decodeBody[api.ErrorResponse](t, resp)
	assert.Equal(t, "validation_error", out.Code)
}

func TestLoginLockoutAfterRepeatedFailures(t *testing.T) {
	env := setupServer(t)

	bad := api.LoginRequest{Username: testUser, Password: "wrong"}
	for i := 0; i < 5; i++ {
		resp := doJSON(t, http.MethodPost, env.srv.URL+"/api/auth/login", "", bad)
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		resp.Body.Close()
	}

	// Even the correct password is refused during lockout.
	resp := doJSON(t, http.MethodPost, env.srv.URL+"/api/auth/login", "", api.LoginRequest{
		Username: testUser, Password: testPassword,
	})
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
	out := decodeBody[api.ErrorResponse](t, resp)
	assert.Equal(t, "rate_limited", out.Code)
}

func TestAuthMiddlewareRejections(t *testing.T) {
	env := setupServer(t)

	resp := doJSON(t, http.MethodGet, env.srv.URL+"/api/auth/session", "", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	out := decodeBody[api.ErrorResponse](t, resp)
	assert.Equal(t, "auth_required", out.Code)

	resp = doJSON(t, http.MethodGet, env.srv.URL+"/api/auth/session", "not-a-token", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	out = decodeBody[api.ErrorResponse](t, resp)
	assert.Equal(t, "invalid_token", out.Code)
}

func TestSessionIntrospection(t *testing.T) {
	env := setupServer(t)
	out := login(t, env.srv.URL)

	resp := doJSON(t, http.MethodGet, env.srv.URL+"/api/auth/session", out.Token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	info := decodeBody[api.SessionResponse](t, resp)
	assert.Equal(t, testUser, info.Username)
	assert.Equal(t, out.User.SessionID, info.SessionID)
	assert.True(t, info.Tracked)
	assert.NotEmpty(t, info.ClientIP)
}

func TestLogoutInvalidatesSession(t *testing.T) {
	env := setupServer(t)
	out := login(t, env.srv.URL)

	resp := doJSON(t, http.MethodPost, env.srv.URL+"/api/auth/logout", out.Token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// The token is still cryptographically valid, but the session is gone.
	resp = doJSON(t, http.MethodGet, env.srv.URL+"/api/auth/session", out.Token, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	errOut := decodeBody[api.ErrorResponse](t, resp)
	assert.Equal(t, "invalid_session", errOut.Code)
}

func TestDegradedModeLoginAndAccess(t *testing.T) {
	srv := setupDegradedServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/auth/login", "", api.LoginRequest{
		Username: testUser, Password: testPassword,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decodeBody[api.LoginResponse](t, resp)
	require.True(t, out.Success)
	require.NotEmpty(t, out.Token)
	assert.Nil(t, out.Session)

	// Protected routes still work, flagged as untracked.
	resp = doJSON(t, http.MethodGet, srv.URL+"/api/auth/session", out.Token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	info := decodeBody[api.SessionResponse](t, resp)
	assert.Equal(t, testUser, info.Username)
	assert.False(t, info.Tracked)
}

// breakableStore passes through until broken, simulating a data directory
// that disappears while the service is running.
type breakableStore struct {
	storage.DocumentStore

	mu     sync.Mutex
	broken bool
}

func (b *breakableStore) fail() {
	b.mu.Lock()
	b.broken = true
	b.mu.Unlock()
}

func (b *breakableStore) Read(ctx context.Context, name string) ([]byte, error) {
	b.mu.Lock()
	broken := b.broken
	b.mu.Unlock()
	if broken {
		return nil, errors.New("data directory unavailable")
	}
	return b.DocumentStore.Read(ctx, name)
}

func (b *breakableStore) Write(ctx context.Context, name string, data []byte) error {
	b.mu.Lock()
	broken := b.broken
	b.mu.Unlock()
	if broken {
		return errors.New("data directory unavailable")
	}
	return b.DocumentStore.Write(ctx, name, data)
}

func TestDegradedModeWhenSessionStoreFails(t *testing.T) {
	inner, err := file.New(t.TempDir())
	require.NoError(t, err)
	store := &breakableStore{DocumentStore: inner}
	env := setupServerOn(t, store)

	out := login(t, env.srv.URL)
	require.NotNil(t, out.Session)

	// The store breaks after login. A tracked-session lookup now fails, but
	// the still-valid token must be accepted via its claims, not rejected as
	// a revoked session.
	store.fail()

	resp := doJSON(t, http.MethodGet, env.srv.URL+"/api/auth/session", out.Token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	info := decodeBody[api.SessionResponse](t, resp)
	assert.Equal(t, testUser, info.Username)
	assert.Equal(t, out.User.SessionID, info.SessionID)
	assert.False(t, info.Tracked)

	// Logout stays idempotent while degraded.
	resp = doJSON(t, http.MethodPost, env.srv.URL+"/api/auth/logout", out.Token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func TestChangePassword(t *testing.T) {
	env := setupServer(t)
	out := login(t, env.srv.URL)

	resp := doJSON(t, http.MethodPost, env.srv.URL+"/api/auth/password", out.Token, api.ChangePasswordRequest{
		CurrentPassword: testPassword,
		NewPassword:     "a-brand-new-password",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, http.MethodPost, env.srv.URL+"/api/auth/login", "", api.LoginRequest{
		Username: testUser, Password: testPassword,
	})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, http.MethodPost, env.srv.URL+"/api/auth/login", "", api.LoginRequest{
		Username: testUser, Password: "a-brand-new-password",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func TestChangePasswordRequiresCurrent(t *testing.T) {
	env := setupServer(t)
	out := login(t, env.srv.URL)

	resp := doJSON(t, http.MethodPost, env.srv.URL+"/api/auth/password", out.Token, api.ChangePasswordRequest{
		CurrentPassword: "wrong",
		NewPassword:     "a-brand-new-password",
	})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	errOut := decodeBody[api.ErrorResponse](t, resp)
	assert.Equal(t, "invalid_login", errOut.Code)
}

func TestChangeUsernameTerminatesSessions(t *testing.T) {
	env := setupServer(t)
	out := login(t, env.srv.URL)

	resp := doJSON(t, http.MethodPost, env.srv.URL+"/api/auth/username", out.Token, api.ChangeUsernameRequest{
		Password:    testPassword,
		NewUsername: "editor",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// The old token's session was terminated with the rename.
	resp = doJSON(t, http.MethodGet, env.srv.URL+"/api/auth/session", out.Token, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, http.MethodPost, env.srv.URL+"/api/auth/login", "", api.LoginRequest{
		Username: "editor", Password: testPassword,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func TestSecuritySessionEndpoints(t *testing.T) {
	env := setupServer(t)
	out := login(t, env.srv.URL)

	resp := doJSON(t, http.MethodGet, env.srv.URL+"/api/security/sessions", out.Token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sessions := decodeBody[[]session.Session](t, resp)
	require.Len(t, sessions, 1)
	assert.Equal(t, out.User.SessionID, sessions[0].ID)
	assert.NotEqual(t, out.Token, sessions[0].Token)

	resp = doJSON(t, http.MethodDelete, env.srv.URL+"/api/security/sessions/no-such-id", out.Token, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, http.MethodDelete, env.srv.URL+"/api/security/sessions", out.Token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	count := decodeBody[api.CountResponse](t, resp)
	assert.Equal(t, 1, count.Count)
}

func TestSecurityFailureLog(t *testing.T) {
	env := setupServer(t)

	resp := doJSON(t, http.MethodPost, env.srv.URL+"/api/auth/login", "", api.LoginRequest{
		Username: testUser, Password: "wrong",
	})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	out := login(t, env.srv.URL)

	resp = doJSON(t, http.MethodGet, env.srv.URL+"/api/security/failed", out.Token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	failed := decodeBody[[]session.LoginRecord](t, resp)
	require.Len(t, failed, 1)
	assert.Equal(t, testUser, failed[0].Username)
	assert.False(t, failed[0].Success)
	assert.Equal(t, "invalid password", failed[0].Reason)

	resp = doJSON(t, http.MethodGet, env.srv.URL+"/api/security/failed/by-ip", out.Token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	byIP := decodeBody[[]session.IPFailureSummary](t, resp)
	require.Len(t, byIP, 1)
	assert.Equal(t, 1, byIP[0].FailedAttempts)

	resp = doJSON(t, http.MethodDelete, env.srv.URL+"/api/security/failed", out.Token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	count := decodeBody[api.CountResponse](t, resp)
	assert.Equal(t, 1, count.Count)

	resp = doJSON(t, http.MethodGet, env.srv.URL+"/api/security/failed", out.Token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	failed = decodeBody[[]session.LoginRecord](t, resp)
	assert.Empty(t, failed)
}

func TestSecurityLoginHistory(t *testing.T) {
	env := setupServer(t)
	out := login(t, env.srv.URL)

	resp := doJSON(t, http.MethodGet, env.srv.URL+"/api/security/history", out.Token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	history := decodeBody[[]session.LoginRecord](t, resp)
	require.Len(t, history, 1)
	assert.Equal(t, testUser, history[0].Username)
	assert.True(t, history[0].Success)
}

func TestBlockIP(t *testing.T) {
	env := setupServer(t)
	out := login(t, env.srv.URL)

	resp := doJSON(t, http.MethodPost, env.srv.URL+"/api/security/blocked-ips", out.Token, api.BlockIPRequest{
		IP: "not-an-ip",
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, http.MethodPost, env.srv.URL+"/api/security/blocked-ips", out.Token, api.BlockIPRequest{
		IP:     "203.0.113.9",
		Reason: "brute force",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func TestCacheStatsEndpoint(t *testing.T) {
	env := setupServer(t)
	out := login(t, env.srv.URL)

	resp := doJSON(t, http.MethodGet, env.srv.URL+"/api/security/cache", out.Token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	stats := decodeBody[cache.Stats](t, resp)
	assert.Equal(t, 100, stats.MaxSize)
}

func TestOpenAPISpecServed(t *testing.T) {
	env := setupServer(t)

	resp, err := http.Get(env.srv.URL + "/api/openapi.yaml")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "/auth/login")
}

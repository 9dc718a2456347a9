package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/goldilocks/identity/internal/account"
	"github.com/goldilocks/identity/internal/audit"
	"github.com/goldilocks/identity/internal/auth"
	"github.com/goldilocks/identity/internal/authz"
	"github.com/goldilocks/identity/internal/config"
	"github.com/goldilocks/identity/internal/credential"
	"github.com/goldilocks/identity/internal/lockout"
	"github.com/goldilocks/identity/internal/session"
	"github.com/goldilocks/identity/internal/settings"
)

type testServer struct {
	router  chi.Router
	service *auth.Service
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	log := zap.NewNop()
	users := account.NewMockRepository()
	sessionRepo := session.NewMockRepository()
	settingsStore := settings.NewMockStore()
	recorder := audit.NewMockRecorder()

	authConfig := &config.AuthConfig{
		MinPasswordLength:   8,
		Argon2Time:          1,
		Argon2MemoryKiB:     1024,
		Argon2Threads:       1,
		RegistrationEnabled: true,
	}
	sessionConfig := &config.SessionConfig{TimeoutHours: 24, CookieName: "session"}

	manager := session.NewManager(sessionConfig, log, sessionRepo, settingsStore)
	policy := lockout.NewPolicy(&config.LockoutConfig{MaxLoginAttempts: 5, AttemptCeiling: 10}, log, users, settingsStore)
	service := auth.NewService(
		authConfig,
		log,
		users,
		credential.NewStore(authConfig),
		manager,
		policy,
		authz.NewGuard(),
		recorder,
		settingsStore,
	)

	handler := NewHandler(sessionConfig, log, service)
	mw := NewMiddleware(sessionConfig, log, service)

	return &testServer{
		router:  newRouter(nil, handler, mw, manager),
		service: service,
	}
}

func (s *testServer) do(method, path, body string, modify func(*http.Request)) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "192.0.2.1:1234"
	if modify != nil {
		modify(req)
	}

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

// registerAndLogin creates a user through the service and logs in over HTTP,
// returning the session cookie and CSRF token the client would hold.
func (s *testServer) registerAndLogin(t *testing.T) (*http.Cookie, string) {
	t.Helper()

	_, err := s.service.Register(context.Background(), "alice@example.com", "alice", "password1", "Alice")
	require.NoError(t, err)

	rec := s.do(http.MethodPost, "/api/auth/login",
		`{"identifier": "alice", "password": "password1"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		CSRFToken string `json:"csrf_token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotEmpty(t, body.CSRFToken)

	cookie := sessionCookie(t, rec)
	return cookie, body.CSRFToken
}

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()

	for _, c := range rec.Result().Cookies() {
		if c.Name == "session" {
			return c
		}
	}
	t.Fatal("no session cookie set")
	return nil
}

func TestHandler_Register(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPost, "/api/auth/register",
		`{"email": "alice@example.com", "username": "alice", "password": "password1", "full_name": "Alice"}`, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "alice@example.com", body["email"])
	assert.Equal(t, "alice", body["username"])
	assert.Equal(t, "user", body["role"])
	assert.NotEmpty(t, body["uuid"])
}

func TestHandler_RegisterValidation(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantField  string
	}{
		{
			name:       "malformed json",
			body:       `{`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "short password",
			body:       `{"email": "a@x.com", "username": "alice", "password": "short1"}`,
			wantStatus: http.StatusBadRequest,
			wantField:  "password",
		},
		{
			name:       "invalid email",
			body:       `{"email": "not-an-email", "username": "alice", "password": "password1"}`,
			wantStatus: http.StatusBadRequest,
			wantField:  "email",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(http.MethodPost, "/api/auth/register", tt.body, nil)
			assert.Equal(t, tt.wantStatus, rec.Code)

			if tt.wantField != "" {
				var body map[string]interface{}
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
				assert.Equal(t, tt.wantField, body["field"])
			}
		})
	}
}

func TestHandler_RegisterConflict(t *testing.T) {
	ts := newTestServer(t)
	payload := `{"email": "alice@example.com", "username": "alice", "password": "password1"}`

	rec := ts.do(http.MethodPost, "/api/auth/register", payload, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = ts.do(http.MethodPost, "/api/auth/register", payload, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandler_LoginSetsCookie(t *testing.T) {
	ts := newTestServer(t)
	cookie, csrfToken := ts.registerAndLogin(t)

	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, cookie.SameSite)
	assert.NotEmpty(t, cookie.Value)
	assert.NotEqual(t, cookie.Value, csrfToken)
}

func TestHandler_LoginFailures(t *testing.T) {
	ts := newTestServer(t)
	_, err := ts.service.Register(context.Background(), "alice@example.com", "alice", "password1", "Alice")
	require.NoError(t, err)

	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{
			name:       "wrong password",
			body:       `{"identifier": "alice", "password": "wrong-password"}`,
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "unknown user",
			body:       `{"identifier": "nobody", "password": "password1"}`,
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "missing fields",
			body:       `{"identifier": "alice"}`,
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(http.MethodPost, "/api/auth/login", tt.body, nil)
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestHandler_Me(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodGet, "/api/auth/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	cookie, _ := ts.registerAndLogin(t)
	rec = ts.do(http.MethodGet, "/api/auth/me", "", func(r *http.Request) {
		r.AddCookie(cookie)
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "alice", body["username"])
}

func TestHandler_CSRFEnforcement(t *testing.T) {
	ts := newTestServer(t)
	cookie, csrfToken := ts.registerAndLogin(t)

	// Cookie alone is not enough for mutating routes.
	rec := ts.do(http.MethodPost, "/api/auth/logout", "", func(r *http.Request) {
		r.AddCookie(cookie)
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// A wrong token is rejected the same way.
	rec = ts.do(http.MethodPost, "/api/auth/logout", "", func(r *http.Request) {
		r.AddCookie(cookie)
		r.Header.Set("X-CSRF-Token", "not-the-token")
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(http.MethodPost, "/api/auth/logout", "", func(r *http.Request) {
		r.AddCookie(cookie)
		r.Header.Set("X-CSRF-Token", csrfToken)
	})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	// The session is gone afterwards.
	rec = ts.do(http.MethodGet, "/api/auth/me", "", func(r *http.Request) {
		r.AddCookie(cookie)
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandler_ChangePasswordClearsCookie(t *testing.T) {
	ts := newTestServer(t)
	cookie, csrfToken := ts.registerAndLogin(t)

	rec := ts.do(http.MethodPost, "/api/auth/password",
		`{"old_password": "password1", "new_password": "password2"}`,
		func(r *http.Request) {
			r.AddCookie(cookie)
			r.Header.Set("X-CSRF-Token", csrfToken)
		})
	require.Equal(t, http.StatusNoContent, rec.Code)

	// All sessions were revoked, the caller's included.
	rec = ts.do(http.MethodGet, "/api/auth/me", "", func(r *http.Request) {
		r.AddCookie(cookie)
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// The new password works, the old one does not.
	rec = ts.do(http.MethodPost, "/api/auth/login",
		`{"identifier": "alice", "password": "password1"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(http.MethodPost, "/api/auth/login",
		`{"identifier": "alice", "password": "password2"}`, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandler_AdminStatsForbiddenForUser(t *testing.T) {
	ts := newTestServer(t)
	cookie, _ := ts.registerAndLogin(t)

	rec := ts.do(http.MethodGet, "/api/admin/stats", "", func(r *http.Request) {
		r.AddCookie(cookie)
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHandler_RevokeSessionInvalidID(t *testing.T) {
	ts := newTestServer(t)
	cookie, csrfToken := ts.registerAndLogin(t)

	rec := ts.do(http.MethodDelete, "/api/auth/sessions/abc", "", func(r *http.Request) {
		r.AddCookie(cookie)
		r.Header.Set("X-CSRF-Token", csrfToken)
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

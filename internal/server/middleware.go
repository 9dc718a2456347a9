package server

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/goldilocks/identity/internal/account"
	"github.com/goldilocks/identity/internal/auth"
	"github.com/goldilocks/identity/internal/config"
	"github.com/goldilocks/identity/internal/session"
)

type contextKey string

const (
	userContextKey    contextKey = "user"
	sessionContextKey contextKey = "session"

	csrfHeader = "X-CSRF-Token"
)

// Middleware resolves the session cookie into an authenticated user and
// enforces the CSRF binding on mutating requests.
type Middleware struct {
	config  *config.SessionConfig
	log     *zap.Logger
	service *auth.Service
}

func NewMiddleware(config *config.SessionConfig, log *zap.Logger, service *auth.Service) *Middleware {
	return &Middleware{
		config:  config,
		log:     log,
		service: service,
	}
}

func (m *Middleware) cookieName() string {
	if m.config.CookieName == "" {
		return "session"
	}
	return m.config.CookieName
}

// RequireSession validates the session cookie and attaches the user and
// session to the request context. Missing or invalid sessions get 401.
func (m *Middleware) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(m.cookieName())
		if err != nil || cookie.Value == "" {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}

		user, sess, err := m.service.CurrentSession(r.Context(), cookie.Value)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "session expired or invalid")
			return
		}

		ctx := context.WithValue(r.Context(), userContextKey, user)
		ctx = context.WithValue(ctx, sessionContextKey, sess)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireCSRF rejects mutating requests whose X-CSRF-Token header does not
// match the session's CSRF token. Must run after RequireSession.
func (m *Middleware) RequireCSRF(validate func(*session.Session, string) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess, ok := sessionFromContext(r.Context())
			if !ok || !validate(sess, r.Header.Get(csrfHeader)) {
				writeError(w, http.StatusForbidden, "invalid csrf token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func userFromContext(ctx context.Context) (*account.User, bool) {
	user, ok := ctx.Value(userContextKey).(*account.User)
	return user, ok
}

func sessionFromContext(ctx context.Context) (*session.Session, bool) {
	sess, ok := ctx.Value(sessionContextKey).(*session.Session)
	return sess, ok
}

func sessionToken(r *http.Request, cookieName string) string {
	cookie, err := r.Cookie(cookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

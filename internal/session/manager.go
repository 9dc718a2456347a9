package session

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/goldilocks/identity/internal/config"
	"github.com/goldilocks/identity/internal/settings"
)

// ErrSessionExpired covers every way a token can stop authorizing: unknown,
// deactivated, or past expiry. Callers get one error class so the response
// does not reveal which it was.
var ErrSessionExpired = errors.New("session expired or invalid")

const tokenBytes = 32

// Manager owns the session lifecycle and the CSRF binding.
type Manager struct {
	config     *config.SessionConfig
	log        *zap.Logger
	repository Repository
	settings   settings.Store

	// now is swappable for expiry tests.
	now func() time.Time
}

func NewManager(config *config.SessionConfig, log *zap.Logger, repo Repository, settings settings.Store) *Manager {
	return &Manager{
		config:     config,
		log:        log,
		repository: repo,
		settings:   settings,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Create issues a new session for the user. The session token and the CSRF
// token are independent random values; the token is the client's proof of
// authentication, the CSRF token its proof on mutating requests.
func (m *Manager) Create(ctx context.Context, userID uint, ip, userAgent string) (*Session, error) {
	token, err := newToken()
	if err != nil {
		return nil, err
	}
	csrf, err := newToken()
	if err != nil {
		return nil, err
	}

	now := m.now()
	session := &Session{
		Token:          token,
		UserID:         userID,
		IPAddress:      ip,
		UserAgent:      userAgent,
		CSRFToken:      csrf,
		CreatedAt:      now,
		ExpiresAt:      now.Add(m.timeout(ctx)),
		LastActivityAt: now,
		IsActive:       true,
	}

	if err := m.repository.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to persist session: %w", err)
	}
	return session, nil
}

// Validate resolves a token to its session. Expiry wins over is_active: a
// session past expires_at is rejected even if nothing deactivated it yet.
// The expiry is never extended here; use Refresh for that.
func (m *Manager) Validate(ctx context.Context, token string) (*Session, error) {
	session, err := m.repository.FindByToken(ctx, token)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, ErrSessionExpired
		}
		return nil, err
	}

	now := m.now()
	if !session.IsActive || session.Expired(now) {
		return nil, ErrSessionExpired
	}

	// Best-effort; a lost last_activity_at update is tolerable.
	if err := m.repository.TouchActivity(ctx, session.ID, now); err != nil {
		m.log.Warn("failed to update session activity",
			zap.Uint("session_id", session.ID),
			zap.Error(err))
	} else {
		session.LastActivityAt = now
	}

	return session, nil
}

// Refresh explicitly extends an active, unexpired session by a full timeout.
func (m *Manager) Refresh(ctx context.Context, token string) (*Session, error) {
	session, err := m.Validate(ctx, token)
	if err != nil {
		return nil, err
	}

	expiresAt := m.now().Add(m.timeout(ctx))
	if err := m.repository.UpdateExpiry(ctx, session.ID, expiresAt); err != nil {
		return nil, fmt.Errorf("failed to refresh session: %w", err)
	}
	session.ExpiresAt = expiresAt
	return session, nil
}

// Invalidate deactivates the session. Idempotent.
func (m *Manager) Invalidate(ctx context.Context, token string) error {
	return m.repository.Deactivate(ctx, token)
}

// InvalidateAllForUser bulk-deactivates every active session the user holds.
// Used by password changes and administrative revocation.
func (m *Manager) InvalidateAllForUser(ctx context.Context, userID uint) (int64, error) {
	return m.repository.DeactivateAllForUser(ctx, userID)
}

// InvalidateByID revokes one of the user's own sessions.
func (m *Manager) InvalidateByID(ctx context.Context, id, userID uint) error {
	return m.repository.DeactivateByID(ctx, id, userID)
}

// ActiveForUser lists the user's active sessions, newest first.
func (m *Manager) ActiveForUser(ctx context.Context, userID uint) ([]Session, error) {
	return m.repository.ActiveForUser(ctx, userID)
}

// SweepExpired deactivates sessions past expiry in bounded batches until none
// remain or ctx is done. Each batch is independently idempotent, so stopping
// between batches leaves no partial state.
func (m *Manager) SweepExpired(ctx context.Context) (int64, error) {
	batch := m.config.SweepBatch
	if batch <= 0 {
		batch = 500
	}

	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		n, err := m.repository.DeactivateExpired(ctx, m.now(), batch)
		total += n
		if err != nil {
			return total, err
		}
		if n < int64(batch) {
			return total, nil
		}
	}
}

// ValidateCSRF compares a submitted token against the session's CSRF token in
// constant time.
func (m *Manager) ValidateCSRF(session *Session, submitted string) bool {
	if session == nil || session.CSRFToken == "" || submitted == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(session.CSRFToken), []byte(submitted)) == 1
}

func (m *Manager) timeout(ctx context.Context) time.Duration {
	fallback := m.config.TimeoutHours
	if fallback <= 0 {
		fallback = 24
	}
	hours := m.settings.GetInt(ctx, settings.KeySessionTimeoutHours, fallback)
	if hours <= 0 {
		hours = fallback
	}
	return time.Duration(hours) * time.Hour
}

func newToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

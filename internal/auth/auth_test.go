package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/goldilocks/identity/internal/account"
	"github.com/goldilocks/identity/internal/audit"
	"github.com/goldilocks/identity/internal/authz"
	"github.com/goldilocks/identity/internal/config"
	"github.com/goldilocks/identity/internal/credential"
	"github.com/goldilocks/identity/internal/lockout"
	"github.com/goldilocks/identity/internal/session"
	"github.com/goldilocks/identity/internal/settings"
)

type testEnv struct {
	service  *Service
	users    *account.MockRepository
	sessions *session.MockRepository
	manager  *session.Manager
	audit    *audit.MockRecorder
	settings *settings.MockStore
}

func newTestAuthConfig() *config.AuthConfig {
	return &config.AuthConfig{
		MinPasswordLength:   8,
		Argon2Time:          1,
		Argon2MemoryKiB:     1024,
		Argon2Threads:       1,
		RegistrationEnabled: true,
	}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	log := zap.NewNop()
	users := account.NewMockRepository()
	sessionRepo := session.NewMockRepository()
	settingsStore := settings.NewMockStore()
	recorder := audit.NewMockRecorder()

	authConfig := newTestAuthConfig()
	credentials := credential.NewStore(authConfig)
	manager := session.NewManager(&config.SessionConfig{TimeoutHours: 24}, log, sessionRepo, settingsStore)
	policy := lockout.NewPolicy(&config.LockoutConfig{MaxLoginAttempts: 5, AttemptCeiling: 10}, log, users, settingsStore)

	service := NewService(
		authConfig,
		log,
		users,
		credentials,
		manager,
		policy,
		authz.NewGuard(),
		recorder,
		settingsStore,
	)

	return &testEnv{
		service:  service,
		users:    users,
		sessions: sessionRepo,
		manager:  manager,
		audit:    recorder,
		settings: settingsStore,
	}
}

func (e *testEnv) register(t *testing.T, email, username, password string) *account.User {
	t.Helper()

	user, err := e.service.Register(context.Background(), email, username, password, "Test User")
	require.NoError(t, err)
	return user
}

func (e *testEnv) login(t *testing.T, identifier, password string) *session.Session {
	t.Helper()

	sess, err := e.service.Login(context.Background(), identifier, password, "192.0.2.1", "test-agent")
	require.NoError(t, err)
	return sess
}

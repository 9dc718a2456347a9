package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goldilocks/identity/internal/account"
	"github.com/goldilocks/identity/internal/audit"
	"github.com/goldilocks/identity/internal/authz"
	"github.com/goldilocks/identity/internal/credential"
	"github.com/goldilocks/identity/internal/session"
	"github.com/goldilocks/identity/internal/settings"
)

func TestService_Register(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	user, err := env.service.Register(ctx, "a@x.com", "alice", "Str0ng!Pass", "Alice A")
	require.NoError(t, err)

	assert.Equal(t, authz.RoleUser, user.Role)
	assert.True(t, user.IsActive)
	assert.False(t, user.IsVerified)
	assert.Equal(t, 0, user.FailedLoginAttempts)
	assert.NotEmpty(t, user.UUID)
	assert.NotEqual(t, "Str0ng!Pass", user.PasswordHash)

	// The profile row exists from the same call.
	profile, err := env.users.ProfileByUserID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, user.ID, profile.UserID)

	assert.Contains(t, env.audit.Events(), audit.EventUserRegistered)
}

func TestService_RegisterNormalizesEmail(t *testing.T) {
	env := newTestEnv(t)

	user := env.register(t, "  Alice@Example.COM ", "alice", "Str0ng!Pass")
	assert.Equal(t, "alice@example.com", user.Email)

	// A different casing of the same address conflicts.
	_, err := env.service.Register(context.Background(), "ALICE@example.com", "alice2", "Str0ng!Pass", "")
	assert.ErrorIs(t, err, account.ErrEmailExists)
}

func TestService_RegisterConflicts(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "a@x.com", "alice", "Str0ng!Pass")

	tests := []struct {
		name     string
		email    string
		username string
		wantErr  error
	}{
		{
			name:     "duplicate email",
			email:    "a@x.com",
			username: "bob",
			wantErr:  account.ErrEmailExists,
		},
		{
			name:     "duplicate username",
			email:    "b@x.com",
			username: "alice",
			wantErr:  account.ErrUsernameExists,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.service.Register(context.Background(), tt.email, tt.username, "Str0ng!Pass", "")
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestService_RegisterValidation(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name      string
		email     string
		username  string
		password  string
		wantField string
	}{
		{name: "bad email", email: "not-an-email", username: "alice", password: "Str0ng!Pass", wantField: "email"},
		{name: "empty email", email: "", username: "alice", password: "Str0ng!Pass", wantField: "email"},
		{name: "short username", email: "a@x.com", username: "ab", password: "Str0ng!Pass", wantField: "username"},
		{name: "username with space", email: "a@x.com", username: "al ice", password: "Str0ng!Pass", wantField: "username"},
		{name: "weak password", email: "a@x.com", username: "alice", password: "short1", wantField: "password"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.service.Register(context.Background(), tt.email, tt.username, tt.password, "")
			var validation *credential.ValidationError
			require.ErrorAs(t, err, &validation)
			assert.Equal(t, tt.wantField, validation.Field)
		})
	}
}

func TestService_RegisterDisabledBySetting(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.settings.Set(ctx, settings.KeyRegistrationEnabled, "false"))

	_, err := env.service.Register(ctx, "a@x.com", "alice", "Str0ng!Pass", "")
	assert.ErrorIs(t, err, ErrRegistrationClosed)
}

func TestService_ConcurrentRegisterSameEmail(t *testing.T) {
	env := newTestEnv(t)

	const attempts = 8
	errs := make([]error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.service.Register(context.Background(), "race@x.com", "racer", "Str0ng!Pass", "")
		}(i)
	}
	wg.Wait()

	var successes, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			successes++
		case assert.ObjectsAreEqual(account.ErrEmailExists, err) || assert.ObjectsAreEqual(account.ErrUsernameExists, err):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, attempts-1, conflicts)
}

func TestService_LoginSuccess(t *testing.T) {
	env := newTestEnv(t)
	user := env.register(t, "a@x.com", "alice", "Str0ng!Pass")

	sess := env.login(t, "alice", "Str0ng!Pass")

	assert.Equal(t, user.ID, sess.UserID)
	assert.NotEmpty(t, sess.CSRFToken)
	assert.NotEqual(t, sess.Token, sess.CSRFToken)
	assert.WithinDuration(t, time.Now().UTC().Add(24*time.Hour), sess.ExpiresAt, time.Second)

	stored, err := env.users.FindByID(context.Background(), user.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored.LastLoginAt)

	events := env.audit.Events()
	assert.Contains(t, events, audit.EventLoginSuccess)
	assert.Contains(t, events, audit.EventSessionCreated)
}

func TestService_LoginByEmail(t *testing.T) {
	env := newTestEnv(t)
	user := env.register(t, "a@x.com", "alice", "Str0ng!Pass")

	sess := env.login(t, "A@X.com", "Str0ng!Pass")
	assert.Equal(t, user.ID, sess.UserID)
}

func TestService_LoginFailures(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "a@x.com", "alice", "Str0ng!Pass")
	ctx := context.Background()

	tests := []struct {
		name       string
		identifier string
		password   string
		setup      func(t *testing.T)
		wantErr    error
	}{
		{
			name:       "wrong password",
			identifier: "alice",
			password:   "Wr0ng!Pass",
			wantErr:    ErrInvalidCredentials,
		},
		{
			name:       "unknown identifier",
			identifier: "nobody",
			password:   "Str0ng!Pass",
			wantErr:    ErrInvalidCredentials,
		},
		{
			name:       "deactivated account",
			identifier: "alice",
			password:   "Str0ng!Pass",
			setup: func(t *testing.T) {
				user, err := env.users.FindByIdentifier(ctx, "alice")
				require.NoError(t, err)
				require.NoError(t, env.users.Deactivate(ctx, user.ID))
			},
			wantErr: ErrInvalidCredentials,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.setup != nil {
				tt.setup(t)
			}
			_, err := env.service.Login(ctx, tt.identifier, tt.password, "", "")
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestService_LockoutAfterRepeatedFailures(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "a@x.com", "alice", "Str0ng!Pass")
	ctx := context.Background()

	// Attempts 1-5 all surface as bad credentials; the 5th trips the lock as
	// a side effect but still reports invalid credentials for that attempt.
	for i := 0; i < 5; i++ {
		_, err := env.service.Login(ctx, "alice", "Wr0ng!Pass", "", "")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	}

	// The 6th attempt sees the locked account, correct password or not.
	_, err := env.service.Login(ctx, "alice", "Str0ng!Pass", "", "")
	assert.ErrorIs(t, err, ErrAccountLocked)

	_, err = env.service.Login(ctx, "alice", "Wr0ng!Pass", "", "")
	assert.ErrorIs(t, err, ErrAccountLocked)

	assert.Contains(t, env.audit.Events(), audit.EventAccountLocked)
}

func TestService_SuccessResetsFailureCounter(t *testing.T) {
	env := newTestEnv(t)
	user := env.register(t, "a@x.com", "alice", "Str0ng!Pass")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := env.service.Login(ctx, "alice", "Wr0ng!Pass", "", "")
		require.ErrorIs(t, err, ErrInvalidCredentials)
	}

	env.login(t, "alice", "Str0ng!Pass")

	stored, err := env.users.FindByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.FailedLoginAttempts)
}

func TestService_LoginRequiresVerifiedEmailWhenConfigured(t *testing.T) {
	env := newTestEnv(t)
	user := env.register(t, "a@x.com", "alice", "Str0ng!Pass")
	ctx := context.Background()

	require.NoError(t, env.settings.Set(ctx, settings.KeyEmailVerificationRequired, "true"))

	_, err := env.service.Login(ctx, "alice", "Str0ng!Pass", "", "")
	assert.ErrorIs(t, err, ErrEmailNotVerified)

	require.NoError(t, env.service.VerifyEmail(ctx, user.ID))

	_, err = env.service.Login(ctx, "alice", "Str0ng!Pass", "", "")
	assert.NoError(t, err)
}

func TestService_RehashOnLogin(t *testing.T) {
	env := newTestEnv(t)
	user := env.register(t, "a@x.com", "alice", "Str0ng!Pass")
	ctx := context.Background()

	// Simulate a hash stored under older, weaker parameters.
	weakConfig := newTestAuthConfig()
	weakConfig.Argon2MemoryKiB = 512
	weakHash, err := credential.NewStore(weakConfig).Hash("Str0ng!Pass")
	require.NoError(t, err)
	require.NoError(t, env.users.UpdatePassword(ctx, user.ID, weakHash))

	env.login(t, "alice", "Str0ng!Pass")

	stored, err := env.users.FindByID(ctx, user.ID)
	require.NoError(t, err)
	assert.NotEqual(t, weakHash, stored.PasswordHash)
}

func TestService_CurrentUser(t *testing.T) {
	env := newTestEnv(t)
	user := env.register(t, "a@x.com", "alice", "Str0ng!Pass")
	sess := env.login(t, "alice", "Str0ng!Pass")
	ctx := context.Background()

	current, err := env.service.CurrentUser(ctx, sess.Token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, current.ID)

	// A deactivated user's sessions stop authorizing.
	require.NoError(t, env.users.Deactivate(ctx, user.ID))
	_, err = env.service.CurrentUser(ctx, sess.Token)
	assert.ErrorIs(t, err, session.ErrSessionExpired)
}

func TestService_LogoutIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "a@x.com", "alice", "Str0ng!Pass")
	sess := env.login(t, "alice", "Str0ng!Pass")
	ctx := context.Background()

	require.NoError(t, env.service.Logout(ctx, sess.Token))
	require.NoError(t, env.service.Logout(ctx, sess.Token))

	stored, err := env.sessions.FindByToken(ctx, sess.Token)
	require.NoError(t, err)
	assert.False(t, stored.IsActive)

	_, err = env.service.CurrentUser(ctx, sess.Token)
	assert.ErrorIs(t, err, session.ErrSessionExpired)
}

func TestService_RequireRole(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "a@x.com", "alice", "Str0ng!Pass")
	sess := env.login(t, "alice", "Str0ng!Pass")
	ctx := context.Background()

	// A plain user clears the user bar but not moderator or admin.
	_, err := env.service.RequireRole(ctx, sess.Token, authz.RoleUser)
	assert.NoError(t, err)

	_, err = env.service.RequireRole(ctx, sess.Token, authz.RoleModerator)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = env.service.RequireRole(ctx, sess.Token, authz.RoleAdmin)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = env.service.RequireRole(ctx, "bad-token", authz.RoleUser)
	assert.ErrorIs(t, err, session.ErrSessionExpired)
}

func TestService_ChangePassword(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "a@x.com", "alice", "Str0ng!Pass")
	ctx := context.Background()

	first := env.login(t, "alice", "Str0ng!Pass")
	second := env.login(t, "alice", "Str0ng!Pass")

	require.NoError(t, env.service.ChangePassword(ctx, second.Token, "Str0ng!Pass", "N3w!Passw0rd"))

	// Every prior session is revoked, the caller's included.
	_, err := env.service.CurrentUser(ctx, first.Token)
	assert.ErrorIs(t, err, session.ErrSessionExpired)
	_, err = env.service.CurrentUser(ctx, second.Token)
	assert.ErrorIs(t, err, session.ErrSessionExpired)

	// Only the new password logs in.
	_, err = env.service.Login(ctx, "alice", "Str0ng!Pass", "", "")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	env.login(t, "alice", "N3w!Passw0rd")

	assert.Contains(t, env.audit.Events(), audit.EventPasswordChanged)
}

func TestService_ChangePasswordRejectsWrongOldPassword(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "a@x.com", "alice", "Str0ng!Pass")
	sess := env.login(t, "alice", "Str0ng!Pass")
	ctx := context.Background()

	err := env.service.ChangePassword(ctx, sess.Token, "Wr0ng!Pass", "N3w!Passw0rd")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	// The session survives a rejected change.
	_, err = env.service.CurrentUser(ctx, sess.Token)
	assert.NoError(t, err)
}

func TestService_ChangePasswordEnforcesPolicy(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "a@x.com", "alice", "Str0ng!Pass")
	sess := env.login(t, "alice", "Str0ng!Pass")

	err := env.service.ChangePassword(context.Background(), sess.Token, "Str0ng!Pass", "weak")
	var validation *credential.ValidationError
	assert.ErrorAs(t, err, &validation)
}

func TestService_UnlockAccount(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	locked := env.register(t, "a@x.com", "alice", "Str0ng!Pass")
	for i := 0; i < 5; i++ {
		_, err := env.service.Login(ctx, "alice", "Wr0ng!Pass", "", "")
		require.ErrorIs(t, err, ErrInvalidCredentials)
	}
	_, err := env.service.Login(ctx, "alice", "Str0ng!Pass", "", "")
	require.ErrorIs(t, err, ErrAccountLocked)

	// A non-admin cannot unlock.
	env.register(t, "b@x.com", "bob", "Str0ng!Pass")
	bobSess := env.login(t, "bob", "Str0ng!Pass")
	err = env.service.UnlockAccount(ctx, bobSess.Token, locked.UUID)
	assert.ErrorIs(t, err, ErrForbidden)

	// An admin can.
	admin := env.register(t, "root@x.com", "rootadm", "Str0ng!Pass")
	promote(t, env, admin.ID)
	adminSess := env.login(t, "rootadm", "Str0ng!Pass")

	require.NoError(t, env.service.UnlockAccount(ctx, adminSess.Token, locked.UUID))

	env.login(t, "alice", "Str0ng!Pass")
	assert.Contains(t, env.audit.Events(), audit.EventAccountUnlocked)
}

func TestService_UpdateProfile(t *testing.T) {
	env := newTestEnv(t)
	user := env.register(t, "a@x.com", "alice", "Str0ng!Pass")
	sess := env.login(t, "alice", "Str0ng!Pass")
	ctx := context.Background()

	bio := "  gopher  "
	fullName := "Alice B"
	require.NoError(t, env.service.UpdateProfile(ctx, sess.Token, account.ProfileUpdate{
		FullName: &fullName,
		Bio:      &bio,
	}))

	profile, err := env.users.ProfileByUserID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "gopher", profile.Bio)

	stored, err := env.users.FindByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alice B", stored.FullName)
}

func TestService_SessionsAndRevoke(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "a@x.com", "alice", "Str0ng!Pass")
	ctx := context.Background()

	first := env.login(t, "alice", "Str0ng!Pass")
	second := env.login(t, "alice", "Str0ng!Pass")

	listed, err := env.service.Sessions(ctx, second.Token)
	require.NoError(t, err)
	assert.Len(t, listed, 2)

	require.NoError(t, env.service.RevokeSession(ctx, second.Token, first.ID))

	_, err = env.service.CurrentUser(ctx, first.Token)
	assert.ErrorIs(t, err, session.ErrSessionExpired)
	_, err = env.service.CurrentUser(ctx, second.Token)
	assert.NoError(t, err)
}

func TestService_Stats(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	admin := env.register(t, "root@x.com", "rootadm", "Str0ng!Pass")
	promote(t, env, admin.ID)
	env.register(t, "a@x.com", "alice", "Str0ng!Pass")

	adminSess := env.login(t, "rootadm", "Str0ng!Pass")

	stats, err := env.service.Stats(ctx, adminSess.Token)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalUsers)
	assert.Equal(t, int64(1), stats.AdminUsers)

	// A plain user is refused.
	aliceSess := env.login(t, "alice", "Str0ng!Pass")
	_, err = env.service.Stats(ctx, aliceSess.Token)
	assert.ErrorIs(t, err, ErrForbidden)
}

// promote flips a mock-stored user to admin, standing in for a manual
// database grant.
func promote(t *testing.T, env *testEnv, userID uint) {
	t.Helper()
	env.users.SetRole(userID, authz.RoleAdmin)
}

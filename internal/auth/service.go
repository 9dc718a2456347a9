package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
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

// Service orchestrates registration, login, session use, and password
// changes across the credential store, lockout policy, session manager,
// authorization guard, and audit log.
type Service struct {
	config      *config.AuthConfig
	log         *zap.Logger
	users       account.Repository
	credentials *credential.Store
	sessions    *session.Manager
	lockout     *lockout.Policy
	guard       *authz.Guard
	audit       audit.Recorder
	settings    settings.Store

	now func() time.Time
}

func NewService(
	config *config.AuthConfig,
	log *zap.Logger,
	users account.Repository,
	credentials *credential.Store,
	sessions *session.Manager,
	lockoutPolicy *lockout.Policy,
	guard *authz.Guard,
	auditLog audit.Recorder,
	settings settings.Store,
) *Service {
	return &Service{
		config:      config,
		log:         log,
		users:       users,
		credentials: credentials,
		sessions:    sessions,
		lockout:     lockoutPolicy,
		guard:       guard,
		audit:       auditLog,
		settings:    settings,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Register creates a user and their profile. Email uniqueness is
// case-insensitive; both uniqueness violations surface as conflicts even
// when two registrations race, because the database constraint is the
// arbiter, not a pre-check.
func (s *Service) Register(ctx context.Context, email, username, password, fullName string) (*account.User, error) {
	if !s.settings.GetBool(ctx, settings.KeyRegistrationEnabled, s.config.RegistrationEnabled) {
		return nil, ErrRegistrationClosed
	}

	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if err := validateUsername(username); err != nil {
		return nil, err
	}

	hash, err := s.credentials.Hash(password)
	if err != nil {
		return nil, err
	}

	user := &account.User{
		UUID:         uuid.NewString(),
		Email:        account.NormalizeEmail(email),
		Username:     strings.TrimSpace(username),
		PasswordHash: hash,
		FullName:     strings.TrimSpace(fullName),
		Role:         authz.RoleUser,
		IsActive:     true,
	}
	profile := &account.Profile{}

	if err := s.users.Create(ctx, user, profile); err != nil {
		return nil, err
	}

	s.audit.Record(ctx, audit.EventUserRegistered, &user.ID, audit.RequestInfo{}, map[string]interface{}{
		"email":    user.Email,
		"username": user.Username,
		"role":     user.Role.String(),
	})
	s.log.Info("user registered",
		zap.Uint("user_id", user.ID),
		zap.String("username", user.Username))

	return user, nil
}

// Login authenticates an identifier (email or username) and password and
// issues a session. The lock check happens before the credential outcome is
// honored, so a locked account rejects even a correct password. A failure
// that trips the threshold still surfaces as ErrInvalidCredentials for this
// attempt; the next attempt sees ErrAccountLocked.
func (s *Service) Login(ctx context.Context, identifier, password, ip, userAgent string) (*session.Session, error) {
	req := audit.RequestInfo{IPAddress: ip, UserAgent: userAgent}

	user, err := s.users.FindByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, account.ErrUserNotFound) {
			// Burn the hashing cost anyway so unknown identifiers are not
			// distinguishable by response time.
			s.credentials.VerifyDummy(password)
			s.audit.Record(ctx, audit.EventLoginFailure, nil, req, map[string]interface{}{
				"reason": "unknown_identifier",
			})
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}

	if !user.IsActive {
		s.credentials.VerifyDummy(password)
		s.audit.Record(ctx, audit.EventLoginFailure, &user.ID, req, map[string]interface{}{
			"reason": "inactive_account",
		})
		return nil, ErrInvalidCredentials
	}

	if user.IsLocked {
		s.audit.Record(ctx, audit.EventLoginFailure, &user.ID, req, map[string]interface{}{
			"reason": "account_locked",
		})
		return nil, ErrAccountLocked
	}

	if !s.credentials.Verify(password, user.PasswordHash) {
		return nil, s.handleFailedAttempt(ctx, user, req)
	}

	// Correct password, but the account may have been locked by a
	// concurrent attempt between the read above and now.
	locked, err := s.lockout.IsLocked(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to read lock state: %w", err)
	}
	if locked {
		return nil, ErrAccountLocked
	}

	if s.settings.GetBool(ctx, settings.KeyEmailVerificationRequired, s.config.EmailVerificationRequired) && !user.IsVerified {
		return nil, ErrEmailNotVerified
	}

	if err := s.lockout.RecordSuccess(ctx, user.ID); err != nil {
		s.log.Error("failed to reset login attempts", zap.Uint("user_id", user.ID), zap.Error(err))
	}

	if s.credentials.NeedsRehash(user.PasswordHash) {
		s.rehash(ctx, user, password)
	}

	sess, err := s.sessions.Create(ctx, user.ID, ip, userAgent)
	if err != nil {
		return nil, err
	}

	if err := s.users.UpdateLastLogin(ctx, user.ID, s.now()); err != nil {
		s.log.Error("failed to update last login", zap.Uint("user_id", user.ID), zap.Error(err))
	}

	s.audit.Record(ctx, audit.EventLoginSuccess, &user.ID, req, map[string]interface{}{
		"username": user.Username,
	})
	s.audit.Record(ctx, audit.EventSessionCreated, &user.ID, req, map[string]interface{}{
		"session_id": sess.ID,
	})

	return sess, nil
}

func (s *Service) handleFailedAttempt(ctx context.Context, user *account.User, req audit.RequestInfo) error {
	state, err := s.lockout.RecordFailure(ctx, user.ID)
	if err != nil {
		s.log.Error("failed to record login failure", zap.Uint("user_id", user.ID), zap.Error(err))
		return ErrInvalidCredentials
	}

	s.audit.Record(ctx, audit.EventLoginFailure, &user.ID, req, map[string]interface{}{
		"reason":          "invalid_password",
		"failed_attempts": state.FailedAttempts,
	})
	if state.JustLocked {
		s.audit.Record(ctx, audit.EventAccountLocked, &user.ID, req, map[string]interface{}{
			"failed_attempts": state.FailedAttempts,
		})
	}

	return ErrInvalidCredentials
}

// rehash upgrades a stored hash to the current parameters after the password
// verified. Failure here is not a login failure.
func (s *Service) rehash(ctx context.Context, user *account.User, password string) {
	hash, err := s.credentials.Hash(password)
	if err != nil {
		// The old password may predate the current policy; keep the old hash.
		return
	}
	if err := s.users.UpdatePassword(ctx, user.ID, hash); err != nil {
		s.log.Warn("failed to rehash password", zap.Uint("user_id", user.ID), zap.Error(err))
	}
}

// RefreshSession explicitly extends the caller's session by a full timeout.
// Plain validation never slides the expiry; this is the one way to extend it.
func (s *Service) RefreshSession(ctx context.Context, token string) (*session.Session, error) {
	return s.sessions.Refresh(ctx, token)
}

// Logout invalidates the session. Idempotent: an unknown or already-inactive
// token is not an error.
func (s *Service) Logout(ctx context.Context, token string) error {
	if err := s.sessions.Invalidate(ctx, token); err != nil {
		return err
	}
	s.audit.Record(ctx, audit.EventSessionInvalidated, nil, audit.RequestInfo{}, nil)
	return nil
}

// CurrentUser resolves a session token to its user. Sessions whose user has
// been deactivated or soft-deleted stop authorizing.
func (s *Service) CurrentUser(ctx context.Context, token string) (*account.User, error) {
	user, _, err := s.resolve(ctx, token)
	return user, err
}

// CurrentSession resolves and validates a token, returning both the session
// and its user.
func (s *Service) CurrentSession(ctx context.Context, token string) (*account.User, *session.Session, error) {
	return s.resolve(ctx, token)
}

func (s *Service) resolve(ctx context.Context, token string) (*account.User, *session.Session, error) {
	sess, err := s.sessions.Validate(ctx, token)
	if err != nil {
		return nil, nil, err
	}

	user, err := s.users.FindByID(ctx, sess.UserID)
	if err != nil {
		if errors.Is(err, account.ErrUserNotFound) {
			return nil, nil, session.ErrSessionExpired
		}
		return nil, nil, err
	}
	if !user.IsActive {
		return nil, nil, session.ErrSessionExpired
	}

	return user, sess, nil
}

// RequireRole validates the session and then checks the role lattice.
// Authorization failure is distinct from authentication failure.
func (s *Service) RequireRole(ctx context.Context, token string, required authz.Role) (*account.User, error) {
	user, _, err := s.resolve(ctx, token)
	if err != nil {
		return nil, err
	}
	if !s.guard.Check(user.Role, required) {
		return nil, ErrForbidden
	}
	return user, nil
}

// ChangePassword re-verifies the old password, stores the new hash, and then
// revokes every session the user holds. The password update is durable before
// any session is touched, so a failure cannot leave new sessions keyed to the
// old password.
func (s *Service) ChangePassword(ctx context.Context, token, oldPassword, newPassword string) error {
	user, _, err := s.resolve(ctx, token)
	if err != nil {
		return err
	}

	if !s.credentials.Verify(oldPassword, user.PasswordHash) {
		return ErrInvalidCredentials
	}

	hash, err := s.credentials.Hash(newPassword)
	if err != nil {
		return err
	}

	if err := s.users.UpdatePassword(ctx, user.ID, hash); err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}

	revoked, err := s.sessions.InvalidateAllForUser(ctx, user.ID)
	if err != nil {
		// The password is already changed; the caller should retry logout
		// everywhere rather than the whole operation.
		s.log.Error("failed to revoke sessions after password change",
			zap.Uint("user_id", user.ID),
			zap.Error(err))
	}

	s.audit.Record(ctx, audit.EventPasswordChanged, &user.ID, audit.RequestInfo{}, map[string]interface{}{
		"sessions_revoked": revoked,
	})
	return nil
}

// UpdateProfile applies a partial profile update for the session's user.
func (s *Service) UpdateProfile(ctx context.Context, token string, update account.ProfileUpdate) error {
	user, _, err := s.resolve(ctx, token)
	if err != nil {
		return err
	}

	if err := s.users.UpdateProfile(ctx, user.ID, update); err != nil {
		return err
	}

	s.audit.Record(ctx, audit.EventProfileUpdated, &user.ID, audit.RequestInfo{}, nil)
	return nil
}

// VerifyEmail flips the verification flag. Delivery and token mechanics live
// outside this service; this is only the state transition.
func (s *Service) VerifyEmail(ctx context.Context, userID uint) error {
	if err := s.users.MarkVerified(ctx, userID); err != nil {
		return err
	}
	s.audit.Record(ctx, audit.EventEmailVerified, &userID, audit.RequestInfo{}, nil)
	return nil
}

// UnlockAccount is the administrative unlock. The caller must hold an admin
// session; the target is addressed by UUID.
func (s *Service) UnlockAccount(ctx context.Context, adminToken, userUUID string) error {
	admin, err := s.RequireRole(ctx, adminToken, authz.RoleAdmin)
	if err != nil {
		return err
	}

	target, err := s.users.FindByUUID(ctx, userUUID)
	if err != nil {
		return err
	}

	if err := s.lockout.Unlock(ctx, target.ID); err != nil {
		return err
	}

	s.audit.Record(ctx, audit.EventAccountUnlocked, &target.ID, audit.RequestInfo{}, map[string]interface{}{
		"unlocked_by": admin.ID,
	})
	return nil
}

// Sessions lists the caller's active sessions, newest first.
func (s *Service) Sessions(ctx context.Context, token string) ([]session.Session, error) {
	user, _, err := s.resolve(ctx, token)
	if err != nil {
		return nil, err
	}
	return s.sessions.ActiveForUser(ctx, user.ID)
}

// RevokeSession invalidates one of the caller's own sessions by id.
func (s *Service) RevokeSession(ctx context.Context, token string, sessionID uint) error {
	user, _, err := s.resolve(ctx, token)
	if err != nil {
		return err
	}
	if err := s.sessions.InvalidateByID(ctx, sessionID, user.ID); err != nil {
		return err
	}
	s.audit.Record(ctx, audit.EventSessionInvalidated, &user.ID, audit.RequestInfo{}, map[string]interface{}{
		"session_id": sessionID,
	})
	return nil
}

// Stats returns aggregate user counts. Admin only.
func (s *Service) Stats(ctx context.Context, adminToken string) (account.Stats, error) {
	if _, err := s.RequireRole(ctx, adminToken, authz.RoleAdmin); err != nil {
		return account.Stats{}, err
	}
	return s.users.Stats(ctx)
}

func validateEmail(email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return &credential.ValidationError{Field: "email", Reason: "is required"}
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return &credential.ValidationError{Field: "email", Reason: "invalid format"}
	}
	return nil
}

func validateUsername(username string) error {
	username = strings.TrimSpace(username)
	if username == "" {
		return &credential.ValidationError{Field: "username", Reason: "is required"}
	}
	if len(username) < 3 || len(username) > 32 {
		return &credential.ValidationError{Field: "username", Reason: "must be between 3 and 32 characters"}
	}
	if strings.ContainsAny(username, " \t\n@") {
		return &credential.ValidationError{Field: "username", Reason: "must not contain spaces or @"}
	}
	return nil
}

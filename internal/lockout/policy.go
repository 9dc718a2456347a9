package lockout

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/goldilocks/identity/internal/account"
	"github.com/goldilocks/identity/internal/config"
	"github.com/goldilocks/identity/internal/settings"
)

// attemptCeiling caps the failure counter regardless of further failures
// while locked.
const attemptCeiling = 10

// State reports the lockout outcome of a recorded failure.
type State struct {
	FailedAttempts int
	Locked         bool
	// JustLocked is true for exactly one of any set of concurrent failures
	// that push the account over the threshold.
	JustLocked bool
}

// Policy is the per-account failed-login state machine: Active counts
// failures up to the threshold, then transitions to Locked. Locked rejects
// authentication regardless of credential correctness and only an explicit
// Unlock returns the account to Active.
type Policy struct {
	config     *config.LockoutConfig
	log        *zap.Logger
	repository account.Repository
	settings   settings.Store

	now func() time.Time
}

func NewPolicy(config *config.LockoutConfig, log *zap.Logger, repo account.Repository, settings settings.Store) *Policy {
	return &Policy{
		config:     config,
		log:        log,
		repository: repo,
		settings:   settings,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// RecordFailure atomically increments the account's failure counter and locks
// the account when the counter reaches the threshold. The increment happens
// at the storage layer so concurrent failures cannot both read the same
// counter and miss the threshold.
func (p *Policy) RecordFailure(ctx context.Context, userID uint) (State, error) {
	attempts, err := p.repository.IncrementFailedAttempts(ctx, userID, p.ceiling())
	if err != nil {
		return State{}, err
	}

	state := State{FailedAttempts: attempts}
	if attempts < p.Threshold(ctx) {
		return state, nil
	}

	state.Locked = true
	justLocked, err := p.repository.Lock(ctx, userID, p.now())
	if err != nil {
		return state, err
	}
	state.JustLocked = justLocked
	if justLocked {
		p.log.Warn("account locked after repeated login failures",
			zap.Uint("user_id", userID),
			zap.Int("failed_attempts", attempts))
	}
	return state, nil
}

// RecordSuccess resets the failure counter. Called only after a successful
// authentication on an unlocked account.
func (p *Policy) RecordSuccess(ctx context.Context, userID uint) error {
	return p.repository.ResetFailedAttempts(ctx, userID)
}

// IsLocked reads the current lock state. Errors propagate so storage
// unavailability fails closed rather than defaulting to "not locked".
func (p *Policy) IsLocked(ctx context.Context, userID uint) (bool, error) {
	user, err := p.repository.FindByID(ctx, userID)
	if err != nil {
		return false, err
	}
	return user.IsLocked, nil
}

// Unlock is the administrative Locked -> Active transition. It resets the
// counter to zero.
func (p *Policy) Unlock(ctx context.Context, userID uint) error {
	return p.repository.Unlock(ctx, userID)
}

// Threshold is the number of consecutive failures that trigger a lock, read
// from system settings at decision time with the static config as fallback.
func (p *Policy) Threshold(ctx context.Context) int {
	fallback := p.config.MaxLoginAttempts
	if fallback <= 0 {
		fallback = 5
	}
	threshold := p.settings.GetInt(ctx, settings.KeyMaxLoginAttempts, fallback)
	if threshold <= 0 || threshold > p.ceiling() {
		return fallback
	}
	return threshold
}

func (p *Policy) ceiling() int {
	if p.config.AttemptCeiling > 0 && p.config.AttemptCeiling <= attemptCeiling {
		return p.config.AttemptCeiling
	}
	return attemptCeiling
}

package auth

import "errors"

var (
	// ErrInvalidCredentials covers both unknown identifiers and wrong
	// passwords so responses carry no account-enumeration signal.
	ErrInvalidCredentials = errors.New("invalid identifier or password")

	// ErrAccountLocked is surfaced distinctly from ErrInvalidCredentials so
	// clients can show a different message.
	ErrAccountLocked = errors.New("account is locked")

	ErrRegistrationClosed = errors.New("registration is disabled")
	ErrEmailNotVerified   = errors.New("email address not verified")
	ErrForbidden          = errors.New("insufficient role")
)

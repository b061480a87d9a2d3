package domain

import (
	"errors"
	"fmt"
)

// Error categories. Handlers map these to HTTP status codes with errors.Is.
var (
	ErrNotFound          = errors.New("not found")
	ErrAccessDenied      = errors.New("access denied")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidOperation  = errors.New("invalid operation")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrMisconfigured     = errors.New("service misconfigured")
	ErrAlreadyExists     = errors.New("already exists") // unique constraint hit in the store
)

// Specific failures, each wrapping its category.
var (
	ErrSameAccount        = fmt.Errorf("%w: cannot transfer to the same account", ErrInvalidOperation)
	ErrAmountTooLarge     = fmt.Errorf("%w: amount exceeds the largest supported value", ErrInvalidOperation)
	ErrBalanceOverflow    = fmt.Errorf("%w: resulting balance exceeds the largest supported value", ErrInvalidOperation)
	ErrInvalidAmount      = fmt.Errorf("%w: amount must be positive with at most two decimals", ErrInvalidOperation)
	ErrBalanceRemaining   = fmt.Errorf("%w: account has a remaining balance, provide transfer_account_id", ErrInvalidOperation)
	ErrSetupNotPending    = fmt.Errorf("%w: two-factor regeneration is only available during setup", ErrInvalidOperation)
	ErrEmailTaken         = fmt.Errorf("%w: user with this email or username already exists", ErrInvalidOperation)
	ErrInvalidFrequency   = fmt.Errorf("%w: unknown frequency", ErrInvalidOperation)
	ErrInvalidAccountType = fmt.Errorf("%w: unknown account type", ErrInvalidOperation)

	ErrChallengeMissing   = fmt.Errorf("%w: no pending two-factor challenge", ErrUnauthorized)
	ErrChallengeExpired   = fmt.Errorf("%w: two-factor challenge expired, please log in again", ErrUnauthorized)
	ErrInvalidCode        = fmt.Errorf("%w: invalid or expired OTP code", ErrUnauthorized)
	ErrInvalidCredentials = fmt.Errorf("%w: invalid email or password", ErrUnauthorized)
)

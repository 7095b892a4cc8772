package fileGate

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrValidation matches every malformed or weak-input error. Callers can
	// show the message to the user and let them retry.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidCredentials matches every *LoginError.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountLocked matches a *LoginError for a locked account.
	ErrAccountLocked = errors.New("account locked")
	// ErrAccountInactive matches a *LoginError for a disabled or not yet activated account.
	ErrAccountInactive = errors.New("account inactive")

	// ErrTokenInvalid covers bad signature, expiry and purpose mismatch alike.
	ErrTokenInvalid = errors.New("invalid token")

	// ErrAuthorizationDenied means the caller is authenticated but holds no
	// valid assignment for the file.
	ErrAuthorizationDenied = errors.New("authorization denied")

	// ErrPersistence wraps every repository failure other than ErrNotFound.
	ErrPersistence = errors.New("persistence failure")
	// ErrNotFound is returned by repositories when no row matches.
	ErrNotFound = errors.New("not found")

	ErrEngineNotReady = errors.New("engine not initialized")
)

var (
	ErrInvalidInput      = fmt.Errorf("%w: invalid input", ErrValidation)
	ErrAccountExists     = fmt.Errorf("%w: handle or email already in use", ErrValidation)
	ErrAlreadyActivated  = fmt.Errorf("%w: account already activated", ErrValidation)
	ErrAssignmentExists  = fmt.Errorf("%w: file already assigned to account", ErrValidation)
	ErrMFAStagingMissing = fmt.Errorf("%w: mfa enrollment not started or expired", ErrValidation)
	ErrMFACodeInvalid    = fmt.Errorf("%w: invalid verification code", ErrValidation)
	ErrMFAAlreadyEnabled = fmt.Errorf("%w: mfa already enabled", ErrValidation)
	ErrMFANotEnabled     = fmt.Errorf("%w: mfa not enabled", ErrValidation)
)

// FailureReason enumerates why a login attempt failed. It is logged and
// stored in the ledger, never shown to the caller.
type FailureReason string

const (
	ReasonInvalidHandle       FailureReason = "invalid_handle"
	ReasonInvalidPassword     FailureReason = "invalid_password"
	ReasonAccountLocked       FailureReason = "account_locked"
	ReasonAccountInactive     FailureReason = "account_inactive"
	ReasonInvalidMFACode      FailureReason = "invalid_mfa_code"
	ReasonMFAChallengeExpired FailureReason = "mfa_challenge_expired"
)

// LoginError is the authentication failure returned by Login and
// ConfirmLoginMFA. Error() is deliberately generic; Reason carries the detail
// for logs and the ledger.
type LoginError struct {
	Reason            FailureReason
	Locked            bool
	LockedUntil       *time.Time
	AttemptsRemaining int
}

func (e *LoginError) Error() string {
	return ErrInvalidCredentials.Error()
}

func (e *LoginError) Is(target error) bool {
	switch target {
	case ErrInvalidCredentials:
		return true
	case ErrAccountLocked:
		return e.Locked
	case ErrAccountInactive:
		return e.Reason == ReasonAccountInactive
	}
	return false
}

// Message is the text a login form may show. It distinguishes a lock from a
// plain failure with attempts left and says nothing about whether the handle
// exists.
func (e *LoginError) Message() string {
	switch {
	case e.Locked:
		return "Account locked due to too many failed login attempts. Try again later."
	case e.Reason == ReasonInvalidPassword && e.AttemptsRemaining > 0:
		if e.AttemptsRemaining == 1 {
			return "Invalid username or password. 1 attempt remaining."
		}
		return fmt.Sprintf("Invalid username or password. %d attempts remaining.", e.AttemptsRemaining)
	case e.Reason == ReasonInvalidMFACode:
		return "Invalid verification code."
	case e.Reason == ReasonMFAChallengeExpired:
		return "Verification expired. Please log in again."
	default:
		return "Invalid username or password."
	}
}

func persistenceError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrPersistence) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrPersistence, err)
}

func validationError(err error) error {
	if err == nil || errors.Is(err, ErrValidation) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrValidation, err)
}

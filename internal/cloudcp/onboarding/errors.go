package onboarding

import (
	"errors"
	"fmt"
)

// Sentinel errors. Callers match them with errors.Is.
var (
	ErrPlanNotFound          = errors.New("plan not found")
	ErrMissingPriceReference = errors.New("plan has no billing price reference")
	ErrInvalidEmail          = errors.New("invalid email address")
	ErrInvalidPassword       = errors.New("invalid password")
	ErrInvalidName           = errors.New("display name is required")
	ErrEmailTaken            = errors.New("email already registered")
	ErrInvalidSubdomain      = errors.New("invalid subdomain")
	ErrSubdomainTaken        = errors.New("subdomain already taken")
	ErrSessionNotFound       = errors.New("signup session not found")
	ErrSessionExpired        = errors.New("signup session expired")
	ErrSessionCompleted      = errors.New("signup session already completed")
	ErrInvalidState          = errors.New("signup session is not in the expected state")
	ErrTenantNotLinked       = errors.New("signup session has no tenant")
	ErrCheckoutSettled       = errors.New("checkout already paid; activation pending")
	ErrUnknownMerchant       = errors.New("merchant account not known to the billing provider")
	ErrMerchantTaken         = errors.New("merchant account already linked to another tenant")
)

// ErrorType is the category of a signup error.
type ErrorType string

const (
	// ErrorTypeValidation covers bad client input. No retry semantics.
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypePrecondition covers wrong-state, expired and completed sessions.
	ErrorTypePrecondition ErrorType = "precondition"
	// ErrorTypeNotFound covers unknown sessions.
	ErrorTypeNotFound ErrorType = "not_found"
	// ErrorTypeProvider covers billing provider and directory failures.
	ErrorTypeProvider ErrorType = "provider"
	// ErrorTypeInternal covers datastore failures.
	ErrorTypeInternal ErrorType = "internal"
)

// SignupError is a structured error for onboarding operations.
type SignupError struct {
	Type      ErrorType
	Op        string // operation that failed, e.g. "create_tenant"
	SessionID string
	Err       error
}

func (e *SignupError) Error() string {
	if e.SessionID != "" {
		return fmt.Sprintf("%s failed for session %s: %v", e.Op, e.SessionID, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *SignupError) Unwrap() error {
	return e.Err
}

// Retryable reports whether re-invoking the operation later may succeed.
func (e *SignupError) Retryable() bool {
	return e.Type == ErrorTypeProvider || e.Type == ErrorTypeInternal
}

func newError(t ErrorType, op, sessionID string, err error) *SignupError {
	return &SignupError{Type: t, Op: op, SessionID: sessionID, Err: err}
}

// TypeOf returns the category of err, or ErrorTypeInternal for unknown errors.
func TypeOf(err error) ErrorType {
	var se *SignupError
	if errors.As(err, &se) {
		return se.Type
	}
	return ErrorTypeInternal
}

// IsRetryable reports whether err is worth retrying later.
func IsRetryable(err error) bool {
	var se *SignupError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	return err != nil
}

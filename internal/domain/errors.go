package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound                 = errors.New("not found")
	ErrAlreadyExists            = errors.New("already exists")
	ErrRateLimited              = errors.New("rate limited")
	ErrUnauthorized             = errors.New("unauthorized")
	ErrForbidden                = errors.New("forbidden")
	ErrAccountBanned            = errors.New("account banned")
	ErrInsufficientFunds        = errors.New("insufficient funds")
	ErrInvalidStateTransition   = errors.New("invalid state transition")
	ErrOrderAlreadySettled      = errors.New("order already settled")
	ErrDisputeAlreadyOpen       = errors.New("dispute already open")
	ErrNoOpenDispute            = errors.New("no open dispute")
	ErrDisputeAlreadyResolved   = errors.New("dispute already resolved")
	ErrLedgerInvariantViolation = errors.New("ledger invariant violation")
	ErrDuplicateDeposit         = errors.New("deposit already recorded")
	ErrLockHeld                 = errors.New("lock already held")
	ErrContextDone              = errors.New("context cancelled")
)

// ValidationError reports a malformed or out-of-range input field. It carries
// enough detail for the caller to render an actionable message.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// Validationf builds a ValidationError for the given field.
func Validationf(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

package domain

import (
	"errors"
	"fmt"
)

var (
	ErrMalformedMessage  = errors.New("malformed payment message")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrAccountNotFound   = errors.New("account not found")
	ErrAccountExists     = errors.New("account already exists")
	ErrTransactionFailed = errors.New("transaction failed")
)

// ValidationError is returned by the ledger when an entry cannot be posted as given.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Message)
}

// IsLedgerFailure reports whether err is a rejection by the ledger itself.
func IsLedgerFailure(err error) bool {
	var verr *ValidationError
	return errors.Is(err, ErrInsufficientFunds) || errors.As(err, &verr)
}

// IsRetryable reports whether redelivering the same message may succeed later.
// Malformed messages never will.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrMalformedMessage)
}

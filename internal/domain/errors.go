package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrLockHeld      = errors.New("lock already held")

	ErrConnection    = errors.New("connection error")
	ErrQuote         = errors.New("quote error")
	ErrValidation    = errors.New("validation error")
	ErrExecution     = errors.New("execution error")
	ErrBridge        = errors.New("bridge error")
	ErrBridgeTimeout = errors.New("bridge timeout")
	ErrNotSupported  = errors.New("operation not supported")

	ErrNoActiveConnectors   = errors.New("no active connectors")
	ErrInvalidAmount        = errors.New("amount must be positive")
	ErrDuplicateOpportunity = errors.New("opportunity already submitted")
	ErrNotConnected         = errors.New("connector not connected")
)

// LedgerError ties a failure to a ledger and an operation. Kind is one of the
// sentinel errors above and is matched by errors.Is alongside the cause.
type LedgerError struct {
	Op       string
	LedgerID string
	Kind     error
	Err      error
}

func (e *LedgerError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s %s: %v", e.LedgerID, e.Op, e.Kind)
	}
	return fmt.Sprintf("%s %s: %v: %v", e.LedgerID, e.Op, e.Kind, e.Err)
}

func (e *LedgerError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// NewLedgerError wraps err with a ledger, operation and kind. An err that
// already carries ErrNotSupported keeps that classification.
func NewLedgerError(ledgerID, op string, kind, err error) error {
	if errors.Is(err, ErrNotSupported) {
		kind = ErrNotSupported
	}
	return &LedgerError{Op: op, LedgerID: ledgerID, Kind: kind, Err: err}
}

/*
errors.go - Centralized error types for the coin ledger

PURPOSE:
  All error types in one place. Callers (shop, missions, API handlers) match
  with errors.Is/errors.As and decide what surfaces to the client.

ERROR CATEGORIES:
  1. Client errors - insufficient funds, invalid operations
  2. Not-found errors - unknown account
  3. Transient errors - concurrent modification, exhausted retries

NOTE ON DUPLICATES:
  A duplicate op id is NOT an error at the service boundary: ApplyDelta
  resolves it as an idempotent replay and returns the recorded result.
  ErrDuplicateOperation exists for the store layer to signal the collision.
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrAccountNotFound is returned when the referenced account doesn't exist.
	ErrAccountNotFound = errors.New("account not found")

	// ErrDuplicateOperation is returned by stores when an entry with the same
	// (account, opId) already exists. The service treats it as a replay.
	ErrDuplicateOperation = errors.New("duplicate operation id")

	// ErrInsufficientFunds is returned when a debit-guarded operation would
	// take the balance negative.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInvalidOperation is returned for malformed input: empty op id,
	// unknown reason, or a debit on a reason that only ever credits.
	ErrInvalidOperation = errors.New("invalid operation")

	// ErrConcurrentModification is returned when the balance compare-and-swap
	// detects a conflicting writer. Retried internally, bounded.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrTransientStorage is returned after the bounded retry budget is
	// exhausted. Safe to retry with the same op id.
	ErrTransientStorage = errors.New("transient storage failure")

	// ErrAccountExists is returned when creating an account that already exists.
	ErrAccountExists = errors.New("account already exists")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientFundsError reports a rejected debit with its shortfall.
type InsufficientFundsError struct {
	AccountID AccountID
	Balance   int64
	Delta     int64
	Reason    Reason
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: account %s has %d, delta %d (%s)",
		e.AccountID, e.Balance, e.Delta, e.Reason)
}

func (e *InsufficientFundsError) Unwrap() error { return ErrInsufficientFunds }

// InvalidOperationError reports why an operation was malformed.
type InvalidOperationError struct {
	Field  string // "opId", "reason", "delta"
	Detail string
}

func (e *InvalidOperationError) Error() string {
	return fmt.Sprintf("invalid operation: %s %s", e.Field, e.Detail)
}

func (e *InvalidOperationError) Unwrap() error { return ErrInvalidOperation }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry with the same
// op id.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification) ||
		errors.Is(err, ErrTransientStorage)
}

// IsClientError returns true if the error is due to invalid client input and
// must not be retried automatically.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrInvalidOperation) ||
		errors.Is(err, ErrAccountExists)
}

// IsNotFound returns true if the error indicates a missing account.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAccountNotFound)
}

/*
store.go - Persistence interface for accounts and ledger entries

PURPOSE:
  Defines the contract between the ledger engine and the database. The entry
  collection is append-only; the account row carries the projected balance.

APPEND-ONLY CONTRACT:
  - AppendEntry(): The ONLY write on the entry collection.
  - No update or delete methods exist for entries. Corrections are new
    entries (e.g. a negative admin adjustment).

IDEMPOTENCY:
  Every entry carries an op id, unique per account. AppendEntry fails with
  ErrDuplicateOperation when the key exists; the service resolves that as a
  replay, never as a user-visible error.

ATOMICITY:
  UpdateBalance is a compare-and-swap guarded by the pre-mutation balance.
  The service performs AppendEntry + UpdateBalance inside WithTx so both
  commit or neither does; a CAS miss rolls the entry back and retries.

IMPLEMENTATIONS:
  - ledger/store/memory.go: In-memory, for tests and dev mode.
  - store/sqlite/sqlite.go: Production SQLite.
*/
package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// STORE - Accounts + append-only entries
// =============================================================================

// Store handles persistence for accounts and ledger entries.
type Store interface {
	// CreateAccount inserts a new account. Fails with ErrAccountExists if the
	// id is taken.
	CreateAccount(ctx context.Context, acct Account) error

	// Account returns the account, or (nil, nil) if it doesn't exist.
	Account(ctx context.Context, id AccountID) (*Account, error)

	// Accounts lists accounts ordered by creation, for admin paging.
	// after is an exclusive cursor; empty starts from the beginning.
	Accounts(ctx context.Context, limit int, after AccountID) ([]Account, error)

	// TopAccounts returns the richest accounts, for the leaderboard.
	TopAccounts(ctx context.Context, limit int) ([]Account, error)

	// SetProfitRate replaces the account's profit-per-hour rate.
	SetProfitRate(ctx context.Context, id AccountID, rate decimal.Decimal) error

	// SetBanned flips the soft-ban flag. Accounts are never deleted.
	SetBanned(ctx context.Context, id AccountID, banned bool) error

	// AppendEntry persists a ledger entry. Fails with ErrDuplicateOperation
	// if (entry.AccountID, entry.OpID) already exists. This is the ONLY
	// write operation on entries.
	AppendEntry(ctx context.Context, entry Entry) error

	// EntryByOp returns the entry recorded for (account, opId), or (nil, nil).
	EntryByOp(ctx context.Context, id AccountID, opID string) (*Entry, error)

	// Entries returns entries for the account, newest first. before is an
	// exclusive cursor (an EntryID from a previous page); empty starts from
	// the newest.
	Entries(ctx context.Context, id AccountID, limit int, before EntryID) ([]Entry, error)

	// SumDeltas returns the sum of all entry deltas and the entry count for
	// the account. Used by the projector's audit.
	SumDeltas(ctx context.Context, id AccountID) (total int64, count int, err error)

	// UpdateBalance compare-and-swaps the projected balance: the update
	// applies only if the stored balance still equals expected, otherwise
	// ErrConcurrentModification. When syncedAt is non-nil the account's
	// LastSyncedAt advances to it, but never backwards.
	UpdateBalance(ctx context.Context, id AccountID, expected, updated int64, syncedAt *time.Time) error
}

// =============================================================================
// TRANSACTIONAL STORE - Atomic entry + balance commit
// =============================================================================

// TxStore wraps Store with transaction support. The service requires it:
// idempotency-key uniqueness and the balance update must commit together.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction. If fn returns an error the
	// transaction is rolled back, otherwise committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}

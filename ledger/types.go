/*
Package ledger is the coin ledger and state-synchronization engine.

PURPOSE:
  Every coin mutation in the backend - taps, shop purchases, mission rewards,
  invite rewards, media rewards, admin adjustments, offline earnings - flows
  through this package. It guarantees exactly-once application of operations
  despite client retries, a balance that is always derivable from the ledger,
  and correct time-based accrual under clock skew.

KEY CONCEPTS IN THIS FILE (types.go):
  - Account: One per device identity. Balance is owned by this package.
  - Entry: An immutable ledger record, keyed by a caller-supplied op id.
  - Reason: A closed set of tags describing why a balance changed.

DESIGN PRINCIPLES:
  1. Immutability: Entries are never updated or deleted.
  2. Auditability: balance == sum of entry deltas, at all times.
  3. Idempotency: (account, opId) is unique; a retried op replays its result.
  4. Precision: Profit rates use decimal.Decimal; coin balances are int64.

SEE ALSO:
  - service.go: The single entry point for balance mutations.
  - sync.go: Batch reconciliation of client-reported operations.
  - accrual.go: Pure offline-earnings computation.
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type AccountID string
type EntryID string

// =============================================================================
// REASON - Closed tag set for balance changes
// =============================================================================

// Reason categorizes a balance change. The set is closed: anything outside it
// is rejected as an invalid operation, which keeps analytics and exhaustive
// handling honest.
type Reason string

const (
	ReasonTap            Reason = "tap"
	ReasonPurchase       Reason = "purchase"
	ReasonMissionReward  Reason = "mission_reward"
	ReasonInviteReward   Reason = "invite_reward"
	ReasonMediaReward    Reason = "media_reward"
	ReasonAdminAdjust    Reason = "admin_adjustment"
	ReasonOfflineAccrual Reason = "offline_accrual"

	// ReasonSync tags the single net entry committed per sync call. The
	// tap/purchase/offline breakdown is preserved in the entry metadata.
	ReasonSync Reason = "sync"
)

// Valid reports whether r belongs to the closed reason set.
func (r Reason) Valid() bool {
	switch r {
	case ReasonTap, ReasonPurchase, ReasonMissionReward, ReasonInviteReward,
		ReasonMediaReward, ReasonAdminAdjust, ReasonOfflineAccrual, ReasonSync:
		return true
	}
	return false
}

// DebitGuarded reports whether operations with this reason must keep the
// balance non-negative. Reward and accrual credits are never rejected for
// balance reasons; purchases, admin debits, and sync nets are.
func (r Reason) DebitGuarded() bool {
	switch r {
	case ReasonPurchase, ReasonAdminAdjust, ReasonSync:
		return true
	}
	return false
}

// =============================================================================
// ACCOUNT - One per device identity
// =============================================================================

// Account is the projected state for one player. Balance is mutated only
// through Service.ApplyDelta; no collaborator writes it directly.
type Account struct {
	ID            AccountID
	Balance       int64
	ProfitPerHour decimal.Decimal
	LastSyncedAt  time.Time
	Banned        bool
	CreatedAt     time.Time
}

// NewAccount returns a fresh account with zero balance, created and last
// synced at the given time.
func NewAccount(id AccountID, now time.Time) Account {
	return Account{
		ID:            id,
		Balance:       0,
		ProfitPerHour: decimal.Zero,
		LastSyncedAt:  now,
		CreatedAt:     now,
	}
}

// =============================================================================
// ENTRY - Append-only ledger record
// =============================================================================

// Entry records one accepted operation. Immutable once written.
//
// INVARIANT: ResultingBalance equals the sum of all prior deltas for the
// account plus this delta.
type Entry struct {
	ID               EntryID
	AccountID        AccountID
	OpID             string // caller-supplied idempotency key, unique per account
	Delta            int64  // signed; negative = debit
	Reason           Reason
	ResultingBalance int64
	Metadata         map[string]string
	CreatedAt        time.Time
}

/*
service.go - The single entry point for balance mutations

PURPOSE:
  Service.ApplyDelta is the one mutation path for every coin movement. It
  owns idempotency enforcement, delta validation, the debit guard, and the
  atomic commit of (ledger entry + balance projection).

EXACTLY-ONCE:
  Clients and upstream callers retry on timeout. An op id that was already
  applied is resolved as a replay: the previously recorded entry and its
  resulting balance are returned, and nothing is re-applied. Callers never
  see "duplicate" as an error.

CONCURRENCY:
  Two concurrent mutations for the same account cannot interleave their
  read-modify-write: the entry append and the balance compare-and-swap run in
  one storage transaction, and a CAS miss retries the whole mutation from a
  fresh read. The retry loop is bounded; exhausting it surfaces as a
  transient failure with no partial state change.

SEE ALSO:
  - projection.go: The CAS projection update.
  - store.go: The TxStore contract this relies on.
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/jamforge/coin-engine/metrics"
)

// maxApplyAttempts bounds the optimistic retry loop. A miss means another
// writer advanced the same account between our read and commit, which
// resolves within an attempt or two under realistic contention.
const maxApplyAttempts = 5

// =============================================================================
// SERVICE
// =============================================================================

// Service applies balance deltas with exactly-once semantics.
type Service struct {
	store TxStore
	proj  *Projector
	log   *zap.Logger
	now   func() time.Time
}

// NewService creates a ledger service over a transactional store.
func NewService(store TxStore, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		store: store,
		proj:  NewProjector(store),
		log:   log,
		now:   time.Now,
	}
}

// WithClock overrides the service clock. Intended for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// =============================================================================
// APPLY DELTA
// =============================================================================

// ApplyRequest describes one balance mutation.
type ApplyRequest struct {
	AccountID AccountID
	Delta     int64 // signed; negative = debit
	Reason    Reason
	OpID      string // caller-supplied idempotency key, unique per account

	// Metadata is stored on the entry verbatim. The sync engine uses it to
	// make retried syncs fully reconstructable.
	Metadata map[string]string

	// SyncedAt, when set, advances the account's LastSyncedAt in the same
	// atomic commit as the entry (never backwards).
	SyncedAt *time.Time

	// ProfitRate, when set, replaces the account's profit-per-hour rate in
	// the same atomic commit. Used by shop upgrades.
	ProfitRate *decimal.Decimal
}

// ApplyResult is the outcome of an accepted (or replayed) mutation.
type ApplyResult struct {
	Entry    Entry
	Balance  int64
	Replayed bool // true when the op id had already been applied
}

// Mutation is one balance change, computed against the account state read
// inside the storage transaction.
type Mutation struct {
	Delta    int64 // signed; negative = debit
	Metadata map[string]string

	// SyncedAt, when set, advances the account's LastSyncedAt in the same
	// atomic commit as the entry (never backwards).
	SyncedAt *time.Time

	// ProfitRate, when set, replaces the account's profit-per-hour rate in
	// the same atomic commit. Used by shop upgrades.
	ProfitRate *decimal.Decimal
}

// planFunc computes a mutation from the in-transaction account snapshot.
// It runs once per attempt, so retried attempts see the committed effects
// of whatever mutation won the previous race.
type planFunc func(acct Account) (Mutation, error)

// ApplyDelta applies one mutation with exactly-once semantics.
//
// Errors: ErrAccountNotFound, ErrInsufficientFunds (debit guard),
// ErrInvalidOperation (empty opId, unknown reason, debit on a credit-only
// reason), ErrTransientStorage (bounded retries exhausted; safe to retry
// with the same op id).
func (s *Service) ApplyDelta(ctx context.Context, req ApplyRequest) (*ApplyResult, error) {
	if req.Delta < 0 && !req.Reason.DebitGuarded() {
		return nil, &InvalidOperationError{Field: "delta", Detail: fmt.Sprintf("reason %q only credits", req.Reason)}
	}
	return s.ApplyWith(ctx, req.AccountID, req.Reason, req.OpID, func(Account) (Mutation, error) {
		return Mutation{
			Delta:      req.Delta,
			Metadata:   req.Metadata,
			SyncedAt:   req.SyncedAt,
			ProfitRate: req.ProfitRate,
		}, nil
	})
}

// ApplyWith is ApplyDelta for mutations whose delta depends on the current
// account state. The plan runs inside the storage transaction, after the
// account read, so the values it computes cannot go stale between read and
// commit; on a CAS conflict the next attempt recomputes from a fresh read.
func (s *Service) ApplyWith(ctx context.Context, accountID AccountID, reason Reason, opID string, plan planFunc) (*ApplyResult, error) {
	if opID == "" {
		return nil, &InvalidOperationError{Field: "opId", Detail: "must not be empty"}
	}
	if !reason.Valid() {
		return nil, &InvalidOperationError{Field: "reason", Detail: fmt.Sprintf("unknown reason %q", reason)}
	}

	for attempt := 1; attempt <= maxApplyAttempts; attempt++ {
		res, err := s.tryApply(ctx, accountID, reason, opID, plan)
		switch {
		case err == nil:
			if res.Replayed {
				metrics.Replays.Inc()
				s.log.Debug("idempotent replay",
					zap.String("account", string(accountID)),
					zap.String("op_id", opID))
			} else {
				metrics.EntriesApplied.WithLabelValues(string(reason)).Inc()
			}
			return res, nil

		case errors.Is(err, ErrConcurrentModification):
			s.log.Debug("balance CAS conflict, retrying",
				zap.String("account", string(accountID)),
				zap.String("op_id", opID),
				zap.Int("attempt", attempt))
			continue

		case errors.Is(err, ErrDuplicateOperation):
			// Lost a race against an identical in-flight op. Its entry is
			// committed now; the next attempt resolves it as a replay.
			continue

		case errors.Is(err, ErrInsufficientFunds):
			metrics.InsufficientFunds.Inc()
			return nil, err

		default:
			return nil, err
		}
	}

	metrics.RetriesExhausted.Inc()
	s.log.Warn("mutation retries exhausted",
		zap.String("account", string(accountID)),
		zap.String("op_id", opID))
	return nil, fmt.Errorf("apply %q for account %s: %w", opID, accountID, ErrTransientStorage)
}

// tryApply performs one attempt: replay check, plan, debit guard, entry
// append and balance CAS, all inside one storage transaction.
func (s *Service) tryApply(ctx context.Context, accountID AccountID, reason Reason, opID string, plan planFunc) (*ApplyResult, error) {
	var out *ApplyResult

	err := s.store.WithTx(ctx, func(tx Store) error {
		existing, err := tx.EntryByOp(ctx, accountID, opID)
		if err != nil {
			return err
		}
		if existing != nil {
			out = &ApplyResult{Entry: *existing, Balance: existing.ResultingBalance, Replayed: true}
			return nil
		}

		acct, err := tx.Account(ctx, accountID)
		if err != nil {
			return err
		}
		if acct == nil {
			return fmt.Errorf("account %s: %w", accountID, ErrAccountNotFound)
		}

		mut, err := plan(*acct)
		if err != nil {
			return err
		}

		updated := acct.Balance + mut.Delta
		if updated < 0 {
			return &InsufficientFundsError{
				AccountID: acct.ID,
				Balance:   acct.Balance,
				Delta:     mut.Delta,
				Reason:    reason,
			}
		}

		now := s.now().UTC()
		entry := Entry{
			ID:               newEntryID(now),
			AccountID:        acct.ID,
			OpID:             opID,
			Delta:            mut.Delta,
			Reason:           reason,
			ResultingBalance: updated,
			Metadata:         mut.Metadata,
			CreatedAt:        now,
		}
		if err := tx.AppendEntry(ctx, entry); err != nil {
			return err
		}

		balance, err := s.proj.applyAndProject(ctx, tx, acct, mut.Delta, mut.SyncedAt)
		if err != nil {
			return err
		}

		if mut.ProfitRate != nil {
			if err := tx.SetProfitRate(ctx, acct.ID, *mut.ProfitRate); err != nil {
				return err
			}
		}

		out = &ApplyResult{Entry: entry, Balance: balance}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

var entrySeq atomic.Uint64

// newEntryID builds ids that sort in insertion order: a fixed-width time
// prefix, a process-local sequence to break ties within the same instant,
// and a random tail. History pages on (created_at, id) and created_at only
// carries second precision, so the id must be the stable tiebreak.
func newEntryID(now time.Time) EntryID {
	return EntryID(fmt.Sprintf("%019d-%012d-%s", now.UnixNano(), entrySeq.Add(1), uuid.NewString()[:8]))
}

// =============================================================================
// ACCOUNT LIFECYCLE AND READS
// =============================================================================

// CreateAccount registers a new account with zero balance.
func (s *Service) CreateAccount(ctx context.Context, id AccountID) (*Account, error) {
	if id == "" {
		return nil, &InvalidOperationError{Field: "accountId", Detail: "must not be empty"}
	}
	acct := NewAccount(id, s.now().UTC())
	if err := s.store.CreateAccount(ctx, acct); err != nil {
		return nil, err
	}
	return &acct, nil
}

// Account returns the account or ErrAccountNotFound.
func (s *Service) Account(ctx context.Context, id AccountID) (*Account, error) {
	acct, err := s.store.Account(ctx, id)
	if err != nil {
		return nil, err
	}
	if acct == nil {
		return nil, fmt.Errorf("account %s: %w", id, ErrAccountNotFound)
	}
	return acct, nil
}

// History returns ledger entries newest first, with an exclusive cursor for
// the next page. An empty next cursor means the history is exhausted.
func (s *Service) History(ctx context.Context, id AccountID, limit int, before EntryID) ([]Entry, EntryID, error) {
	if _, err := s.Account(ctx, id); err != nil {
		return nil, "", err
	}
	if limit <= 0 {
		limit = 20
	}
	entries, err := s.store.Entries(ctx, id, limit, before)
	if err != nil {
		return nil, "", err
	}
	var next EntryID
	if len(entries) == limit {
		next = entries[len(entries)-1].ID
	}
	return entries, next, nil
}

// Audit verifies the conservation invariant for the account.
func (s *Service) Audit(ctx context.Context, id AccountID) (AuditReport, error) {
	return s.proj.Audit(ctx, id)
}

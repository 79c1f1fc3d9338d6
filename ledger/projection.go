/*
projection.go - Balance projection over the ledger

PURPOSE:
  The account's balance column is a projection of the entry stream. This file
  owns reads of that projection, the conditional update the service uses to
  advance it, and the audit that proves projection and ledger never diverged.

INVARIANT:
  balance == sum(entry.Delta) for every account, at all times. The projector
  and the store must never diverge; Audit recomputes the sum to verify.
*/
package ledger

import (
	"context"
	"time"
)

// =============================================================================
// PROJECTOR - Balance reads and conditional updates
// =============================================================================

// Projector exposes the projected balance. Mutation goes through
// applyAndProject, which only the Service invokes - callers never write the
// balance directly.
type Projector struct {
	store Store
}

func NewProjector(store Store) *Projector {
	return &Projector{store: store}
}

// Balance returns the projected balance for the account.
func (p *Projector) Balance(ctx context.Context, id AccountID) (int64, error) {
	acct, err := p.store.Account(ctx, id)
	if err != nil {
		return 0, err
	}
	if acct == nil {
		return 0, ErrAccountNotFound
	}
	return acct.Balance, nil
}

// applyAndProject advances the projection by delta using a compare-and-swap
// guarded by the pre-mutation balance. Must run inside the same transaction
// as the entry append; a CAS miss surfaces ErrConcurrentModification and the
// caller retries the whole mutation.
func (p *Projector) applyAndProject(ctx context.Context, s Store, acct *Account, delta int64, syncedAt *time.Time) (int64, error) {
	updated := acct.Balance + delta
	if err := s.UpdateBalance(ctx, acct.ID, acct.Balance, updated, syncedAt); err != nil {
		return 0, err
	}
	return updated, nil
}

// =============================================================================
// AUDIT - Conservation check
// =============================================================================

// AuditReport compares the projected balance against the ledger sum.
type AuditReport struct {
	AccountID AccountID
	Balance   int64
	LedgerSum int64
	Entries   int
}

// Consistent reports whether the conservation invariant holds.
func (r AuditReport) Consistent() bool { return r.Balance == r.LedgerSum }

// Audit recomputes the entry-delta sum and compares it with the projection.
func (p *Projector) Audit(ctx context.Context, id AccountID) (AuditReport, error) {
	acct, err := p.store.Account(ctx, id)
	if err != nil {
		return AuditReport{}, err
	}
	if acct == nil {
		return AuditReport{}, ErrAccountNotFound
	}

	sum, count, err := p.store.SumDeltas(ctx, id)
	if err != nil {
		return AuditReport{}, err
	}

	return AuditReport{
		AccountID: id,
		Balance:   acct.Balance,
		LedgerSum: sum,
		Entries:   count,
	}, nil
}

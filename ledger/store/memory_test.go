package store_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamforge/coin-engine/ledger"
	"github.com/jamforge/coin-engine/ledger/store"
)

func seedAccount(t *testing.T, m *store.TxMemory, id string) ledger.AccountID {
	t.Helper()
	acct := ledger.NewAccount(ledger.AccountID(id), time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC))
	require.NoError(t, m.CreateAccount(context.Background(), acct))
	return acct.ID
}

func TestMemory_DuplicateOpRejected(t *testing.T) {
	m := store.NewTxMemory()
	id := seedAccount(t, m, "player-1")
	ctx := context.Background()

	entry := ledger.Entry{ID: "e1", AccountID: id, Delta: 10, Reason: ledger.ReasonTap, OpID: "op-1"}
	require.NoError(t, m.AppendEntry(ctx, entry))

	entry.ID = "e2"
	err := m.AppendEntry(ctx, entry)
	assert.ErrorIs(t, err, ledger.ErrDuplicateOperation)
}

func TestMemory_UpdateBalanceCAS(t *testing.T) {
	m := store.NewTxMemory()
	id := seedAccount(t, m, "player-1")
	ctx := context.Background()

	require.NoError(t, m.UpdateBalance(ctx, id, 0, 10, nil))

	// Stale expectation loses.
	err := m.UpdateBalance(ctx, id, 0, 20, nil)
	assert.ErrorIs(t, err, ledger.ErrConcurrentModification)

	err = m.UpdateBalance(ctx, "ghost", 0, 20, nil)
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)
}

func TestMemory_SyncPointNeverMovesBackwards(t *testing.T) {
	m := store.NewTxMemory()
	id := seedAccount(t, m, "player-1")
	ctx := context.Background()

	later := time.Date(2026, time.March, 1, 14, 0, 0, 0, time.UTC)
	require.NoError(t, m.UpdateBalance(ctx, id, 0, 0, &later))

	earlier := later.Add(-time.Hour)
	require.NoError(t, m.UpdateBalance(ctx, id, 0, 0, &earlier))

	acct, err := m.Account(ctx, id)
	require.NoError(t, err)
	assert.True(t, acct.LastSyncedAt.Equal(later))
}

func TestMemory_EntriesCursor(t *testing.T) {
	m := store.NewTxMemory()
	id := seedAccount(t, m, "player-1")
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, m.AppendEntry(ctx, ledger.Entry{
			ID:        ledger.EntryID(fmt.Sprintf("e%d", i)),
			AccountID: id,
			Delta:     1,
			Reason:    ledger.ReasonTap,
			OpID:      fmt.Sprintf("op-%d", i),
		}))
	}

	page, err := m.Entries(ctx, id, 2, "")
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, ledger.EntryID("e4"), page[0].ID)
	assert.Equal(t, ledger.EntryID("e3"), page[1].ID)

	page, err = m.Entries(ctx, id, 2, "e3")
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, ledger.EntryID("e2"), page[0].ID)
	assert.Equal(t, ledger.EntryID("e1"), page[1].ID)
}

func TestMemory_TopAccountsExcludesBanned(t *testing.T) {
	m := store.NewTxMemory()
	ctx := context.Background()

	rich := seedAccount(t, m, "rich")
	poor := seedAccount(t, m, "poor")
	cheat := seedAccount(t, m, "cheat")

	require.NoError(t, m.UpdateBalance(ctx, rich, 0, 500, nil))
	require.NoError(t, m.UpdateBalance(ctx, poor, 0, 5, nil))
	require.NoError(t, m.UpdateBalance(ctx, cheat, 0, 9999, nil))
	require.NoError(t, m.SetBanned(ctx, cheat, true))

	top, err := m.TopAccounts(ctx, 10)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, rich, top[0].ID)
	assert.Equal(t, poor, top[1].ID)
}

func TestTxMemory_RollbackOnError(t *testing.T) {
	// GIVEN: A transaction that appends an entry and moves the balance
	// WHEN: The callback returns an error
	// THEN: Every write inside the transaction is undone

	m := store.NewTxMemory()
	id := seedAccount(t, m, "player-1")
	ctx := context.Background()

	boom := errors.New("boom")
	err := m.WithTx(ctx, func(tx ledger.Store) error {
		if err := tx.AppendEntry(ctx, ledger.Entry{
			ID: "e1", AccountID: id, Delta: 10, Reason: ledger.ReasonTap, OpID: "op-1",
		}); err != nil {
			return err
		}
		if err := tx.UpdateBalance(ctx, id, 0, 10, nil); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	acct, err := m.Account(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(0), acct.Balance)

	entry, err := m.EntryByOp(ctx, id, "op-1")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestTxMemory_CommitPersists(t *testing.T) {
	m := store.NewTxMemory()
	id := seedAccount(t, m, "player-1")
	ctx := context.Background()

	err := m.WithTx(ctx, func(tx ledger.Store) error {
		if err := tx.AppendEntry(ctx, ledger.Entry{
			ID: "e1", AccountID: id, Delta: 10, Reason: ledger.ReasonTap, OpID: "op-1",
		}); err != nil {
			return err
		}
		return tx.UpdateBalance(ctx, id, 0, 10, nil)
	})
	require.NoError(t, err)

	acct, err := m.Account(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(10), acct.Balance)
}

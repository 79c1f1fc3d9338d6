package ledger_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamforge/coin-engine/ledger"
	"github.com/jamforge/coin-engine/ledger/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type syncFixture struct {
	svc    *ledger.Service
	engine *ledger.SyncEngine
	store  *store.TxMemory
	now    time.Time
}

// newSyncFixture wires an engine over a memory store with a controllable
// clock. Advance the clock through f.now; both service and engine read it.
func newSyncFixture(t *testing.T) *syncFixture {
	t.Helper()
	f := &syncFixture{
		store: store.NewTxMemory(),
		now:   time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return f.now }
	f.svc = ledger.NewService(f.store, nil).WithClock(clock)
	f.engine = ledger.NewSyncEngine(f.svc, nil).WithClock(clock)
	return f
}

func (f *syncFixture) createAccount(t *testing.T, id string, rate int64) ledger.AccountID {
	t.Helper()
	acct, err := f.svc.CreateAccount(context.Background(), ledger.AccountID(id))
	require.NoError(t, err)
	if rate > 0 {
		require.NoError(t, f.store.SetProfitRate(context.Background(), acct.ID, decimal.NewFromInt(rate)))
	}
	return acct.ID
}

func tap(amount int64, opID string) ledger.Op {
	return ledger.Op{Type: ledger.OpTap, Amount: amount, OpID: opID}
}

func purchase(item string, cost int64, opID string) ledger.Op {
	return ledger.Op{Type: ledger.OpPurchase, Item: item, Cost: cost, OpID: opID}
}

// =============================================================================
// OFFLINE ACCRUAL
// =============================================================================

func TestSync_AccruesOfflineEarnings(t *testing.T) {
	// GIVEN: An account earning 3600/hour, last synced 2 hours ago
	// WHEN: Syncing with no client ops
	// THEN: 7200 coins accrue in a single sync entry

	f := newSyncFixture(t)
	id := f.createAccount(t, "player-1", 3600)
	f.now = f.now.Add(2 * time.Hour)

	res, err := f.engine.Sync(context.Background(), id, nil, "sync-1")
	require.NoError(t, err)

	assert.Equal(t, int64(7200), res.OfflineEarnings)
	assert.Equal(t, int64(7200), res.Account.Balance)
	assert.Equal(t, ledger.ReasonSync, res.Entry.Reason)
	assert.Equal(t, "sync_sync-1", res.Entry.OpID)
	assert.False(t, res.Replayed)
}

func TestSync_AdvancesLastSyncedAt(t *testing.T) {
	// GIVEN: Two syncs one hour apart
	// WHEN: Each completes
	// THEN: Earnings accrue per interval, never double-counted

	f := newSyncFixture(t)
	id := f.createAccount(t, "player-1", 100)

	f.now = f.now.Add(time.Hour)
	res, err := f.engine.Sync(context.Background(), id, nil, "sync-1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), res.OfflineEarnings)
	assert.True(t, res.Account.LastSyncedAt.Equal(f.now))

	f.now = f.now.Add(time.Hour)
	res, err = f.engine.Sync(context.Background(), id, nil, "sync-2")
	require.NoError(t, err)
	assert.Equal(t, int64(100), res.OfflineEarnings, "second interval accrues independently")
	assert.Equal(t, int64(200), res.Account.Balance)
}

func TestSync_ZeroRateAccruesNothing(t *testing.T) {
	f := newSyncFixture(t)
	id := f.createAccount(t, "player-1", 0)
	f.now = f.now.Add(24 * time.Hour)

	res, err := f.engine.Sync(context.Background(), id, nil, "sync-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.OfflineEarnings)
	assert.Equal(t, int64(0), res.Account.Balance)
}

// =============================================================================
// BATCH FOLDING
// =============================================================================

func TestSync_FoldsTapsAndPurchases(t *testing.T) {
	// GIVEN: A batch of taps and an affordable purchase
	// WHEN: Syncing
	// THEN: One entry carries the net delta; all ops applied

	f := newSyncFixture(t)
	id := f.createAccount(t, "player-1", 0)
	f.now = f.now.Add(time.Minute)

	ops := []ledger.Op{
		tap(100, "op-1"),
		tap(50, "op-2"),
		purchase("booster", 120, "op-3"),
	}
	res, err := f.engine.Sync(context.Background(), id, ops, "sync-1")
	require.NoError(t, err)

	assert.Equal(t, int64(30), res.Account.Balance)
	assert.Equal(t, int64(30), res.Entry.Delta)
	assert.Empty(t, res.Rejected)

	report, err := f.svc.Audit(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Entries, "whole batch commits as one entry")
	assert.True(t, report.Consistent())
}

func TestSync_OfflineEarningsFundPurchases(t *testing.T) {
	// GIVEN: Zero balance but 1000 coins of pending offline earnings
	// WHEN: The batch spends 800
	// THEN: The purchase is funded by the accrual in the same sync

	f := newSyncFixture(t)
	id := f.createAccount(t, "player-1", 1000)
	f.now = f.now.Add(time.Hour)

	res, err := f.engine.Sync(context.Background(), id,
		[]ledger.Op{purchase("upgrade", 800, "op-1")}, "sync-1")
	require.NoError(t, err)

	assert.Equal(t, int64(1000), res.OfflineEarnings)
	assert.Equal(t, int64(200), res.Account.Balance)
	assert.Empty(t, res.Rejected)
}

func TestSync_RejectsOverdraftPurchaseOnly(t *testing.T) {
	// GIVEN: A batch where the middle purchase exceeds the running balance
	// WHEN: Syncing
	// THEN: Only that op is rejected; the rest of the batch applies

	f := newSyncFixture(t)
	id := f.createAccount(t, "player-1", 0)
	f.now = f.now.Add(time.Minute)

	ops := []ledger.Op{
		tap(100, "op-1"),
		purchase("yacht", 5000, "op-2"),
		tap(20, "op-3"),
	}
	res, err := f.engine.Sync(context.Background(), id, ops, "sync-1")
	require.NoError(t, err)

	assert.Equal(t, int64(120), res.Account.Balance)
	require.Len(t, res.Rejected, 1)
	assert.Equal(t, "op-2", res.Rejected[0].OpID)
	assert.Equal(t, ledger.RejectInsufficientFunds, res.Rejected[0].Reason)
}

func TestSync_RejectsMalformedOps(t *testing.T) {
	f := newSyncFixture(t)
	id := f.createAccount(t, "player-1", 0)
	f.now = f.now.Add(time.Minute)

	ops := []ledger.Op{
		tap(0, "op-1"),                            // non-positive amount
		tap(-5, "op-2"),                           // negative amount
		purchase("thing", 0, "op-3"),              // non-positive cost
		{Type: "teleport", Amount: 10, OpID: "op-4"}, // unknown type
		tap(42, "op-5"),
	}
	res, err := f.engine.Sync(context.Background(), id, ops, "sync-1")
	require.NoError(t, err)

	assert.Equal(t, int64(42), res.Account.Balance)
	require.Len(t, res.Rejected, 4)
	assert.Equal(t, ledger.RejectInvalidAmount, res.Rejected[0].Reason)
	assert.Equal(t, ledger.RejectInvalidAmount, res.Rejected[1].Reason)
	assert.Equal(t, ledger.RejectInvalidAmount, res.Rejected[2].Reason)
	assert.Equal(t, ledger.RejectUnknownType, res.Rejected[3].Reason)
}

// =============================================================================
// IDEMPOTENCY
// =============================================================================

func TestSync_ReplayReturnsOriginalOutcome(t *testing.T) {
	// GIVEN: A completed sync with accrual and a rejection
	// WHEN: The same sync op id is retried after more time passes
	// THEN: The recorded breakdown is returned; no new accrual happens

	f := newSyncFixture(t)
	id := f.createAccount(t, "player-1", 1000)
	f.now = f.now.Add(time.Hour)

	ops := []ledger.Op{
		tap(100, "op-1"),
		purchase("yacht", 99999, "op-2"),
	}
	first, err := f.engine.Sync(context.Background(), id, ops, "sync-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), first.OfflineEarnings)
	require.Len(t, first.Rejected, 1)

	// Clock walks on; a naive recomputation would accrue another hour.
	f.now = f.now.Add(time.Hour)
	second, err := f.engine.Sync(context.Background(), id, ops, "sync-1")
	require.NoError(t, err)

	assert.True(t, second.Replayed)
	assert.Equal(t, int64(1000), second.OfflineEarnings, "replay must not re-accrue")
	assert.Equal(t, first.Entry.ID, second.Entry.ID)
	require.Len(t, second.Rejected, 1)
	assert.Equal(t, "op-2", second.Rejected[0].OpID)
	assert.Equal(t, first.Account.Balance, second.Account.Balance)

	report, err := f.svc.Audit(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Entries)
}

func TestSync_DistinctOpIDsAccrueSeparately(t *testing.T) {
	// Two different sync op ids are two real syncs, not a replay.

	f := newSyncFixture(t)
	id := f.createAccount(t, "player-1", 100)

	f.now = f.now.Add(time.Hour)
	_, err := f.engine.Sync(context.Background(), id, nil, "sync-1")
	require.NoError(t, err)

	f.now = f.now.Add(time.Hour)
	res, err := f.engine.Sync(context.Background(), id, nil, "sync-2")
	require.NoError(t, err)

	assert.False(t, res.Replayed)
	assert.Equal(t, int64(200), res.Account.Balance)
}

// =============================================================================
// VALIDATION
// =============================================================================

func TestSync_RequiresOpID(t *testing.T) {
	f := newSyncFixture(t)
	id := f.createAccount(t, "player-1", 0)

	_, err := f.engine.Sync(context.Background(), id, nil, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrInvalidOperation)
}

func TestSync_UnknownAccount(t *testing.T) {
	f := newSyncFixture(t)

	_, err := f.engine.Sync(context.Background(), "ghost", nil, "sync-1")
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)
}

// =============================================================================
// CONCURRENCY
// =============================================================================

// rendezvousStore stalls top-level account reads until two callers have
// arrived, pinning down the interleaving two concurrent requests produce.
// Reads inside WithTx go through the transactional view and are unaffected.
type rendezvousStore struct {
	*store.TxMemory
	mu      sync.Mutex
	arrived int
	release chan struct{}
}

func newRendezvousStore() *rendezvousStore {
	return &rendezvousStore{TxMemory: store.NewTxMemory(), release: make(chan struct{})}
}

func (r *rendezvousStore) Account(ctx context.Context, id ledger.AccountID) (*ledger.Account, error) {
	r.mu.Lock()
	r.arrived++
	if r.arrived == 2 {
		close(r.release)
	}
	r.mu.Unlock()
	<-r.release
	return r.TxMemory.Account(ctx, id)
}

func TestSync_ConcurrentSyncsAccrueWindowOnce(t *testing.T) {
	// GIVEN: An account earning 60/hour with one unsynced hour
	// WHEN: Two syncs with distinct op ids run concurrently
	// THEN: The hour is minted exactly once across both entries

	base := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	gated := newRendezvousStore()
	now := base
	clock := func() time.Time { return now }
	svc := ledger.NewService(gated, nil).WithClock(clock)
	engine := ledger.NewSyncEngine(svc, nil).WithClock(clock)
	ctx := context.Background()

	acct, err := svc.CreateAccount(ctx, "player-1")
	require.NoError(t, err)
	require.NoError(t, gated.SetProfitRate(ctx, acct.ID, decimal.NewFromInt(60)))
	now = base.Add(time.Hour)

	results := make([]*ledger.SyncResult, 2)
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i, opID := range []string{"sync-a", "sync-b"} {
		wg.Add(1)
		go func(i int, opID string) {
			defer wg.Done()
			results[i], errs[i] = engine.Sync(ctx, acct.ID, nil, opID)
		}(i, opID)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	minted := results[0].OfflineEarnings + results[1].OfflineEarnings
	assert.Equal(t, int64(60), minted, "second sync must accrue from the advanced sync point")

	report, err := svc.Audit(ctx, acct.ID)
	require.NoError(t, err)
	assert.True(t, report.Consistent())
	assert.Equal(t, int64(60), report.Balance)
	assert.Equal(t, 2, report.Entries)
}

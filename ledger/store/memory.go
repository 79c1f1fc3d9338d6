// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jamforge/coin-engine/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu       sync.RWMutex
	accounts map[ledger.AccountID]ledger.Account
	entries  map[ledger.AccountID][]ledger.Entry
	byOp     map[opKey]ledger.Entry
}

type opKey struct {
	AccountID ledger.AccountID
	OpID      string
}

func NewMemory() *Memory {
	return &Memory{
		accounts: make(map[ledger.AccountID]ledger.Account),
		entries:  make(map[ledger.AccountID][]ledger.Entry),
		byOp:     make(map[opKey]ledger.Entry),
	}
}

func (m *Memory) CreateAccount(_ context.Context, acct ledger.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createAccountLocked(acct)
}

func (m *Memory) Account(_ context.Context, id ledger.AccountID) (*ledger.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.accountLocked(id)
}

func (m *Memory) Accounts(_ context.Context, limit int, after ledger.AccountID) ([]ledger.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.accountsLocked(limit, after)
}

func (m *Memory) TopAccounts(_ context.Context, limit int) ([]ledger.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.topAccountsLocked(limit)
}

func (m *Memory) SetProfitRate(_ context.Context, id ledger.AccountID, rate decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setProfitRateLocked(id, rate)
}

func (m *Memory) SetBanned(_ context.Context, id ledger.AccountID, banned bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setBannedLocked(id, banned)
}

// AppendEntry adds a single entry. Append-only.
func (m *Memory) AppendEntry(_ context.Context, entry ledger.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendEntryLocked(entry)
}

func (m *Memory) EntryByOp(_ context.Context, id ledger.AccountID, opID string) (*ledger.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.entryByOpLocked(id, opID)
}

func (m *Memory) Entries(_ context.Context, id ledger.AccountID, limit int, before ledger.EntryID) ([]ledger.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.entriesLocked(id, limit, before)
}

func (m *Memory) SumDeltas(_ context.Context, id ledger.AccountID) (int64, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sumDeltasLocked(id)
}

func (m *Memory) UpdateBalance(_ context.Context, id ledger.AccountID, expected, updated int64, syncedAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateBalanceLocked(id, expected, updated, syncedAt)
}

// =============================================================================
// LOCKED IMPLEMENTATIONS - caller holds m.mu
// =============================================================================

func (m *Memory) createAccountLocked(acct ledger.Account) error {
	if _, ok := m.accounts[acct.ID]; ok {
		return ledger.ErrAccountExists
	}
	m.accounts[acct.ID] = acct
	return nil
}

func (m *Memory) accountLocked(id ledger.AccountID) (*ledger.Account, error) {
	acct, ok := m.accounts[id]
	if !ok {
		return nil, nil
	}
	out := acct
	return &out, nil
}

func (m *Memory) accountsLocked(limit int, after ledger.AccountID) ([]ledger.Account, error) {
	ids := make([]string, 0, len(m.accounts))
	for id := range m.accounts {
		if after != "" && string(id) <= string(after) {
			continue
		}
		ids = append(ids, string(id))
	}
	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	result := make([]ledger.Account, 0, len(ids))
	for _, id := range ids {
		result = append(result, m.accounts[ledger.AccountID(id)])
	}
	return result, nil
}

func (m *Memory) topAccountsLocked(limit int) ([]ledger.Account, error) {
	result := make([]ledger.Account, 0, len(m.accounts))
	for _, acct := range m.accounts {
		if acct.Banned {
			continue
		}
		result = append(result, acct)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Balance != result[j].Balance {
			return result[i].Balance > result[j].Balance
		}
		return result[i].ID < result[j].ID
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *Memory) setProfitRateLocked(id ledger.AccountID, rate decimal.Decimal) error {
	acct, ok := m.accounts[id]
	if !ok {
		return ledger.ErrAccountNotFound
	}
	acct.ProfitPerHour = rate
	m.accounts[id] = acct
	return nil
}

func (m *Memory) setBannedLocked(id ledger.AccountID, banned bool) error {
	acct, ok := m.accounts[id]
	if !ok {
		return ledger.ErrAccountNotFound
	}
	acct.Banned = banned
	m.accounts[id] = acct
	return nil
}

func (m *Memory) appendEntryLocked(entry ledger.Entry) error {
	k := opKey{AccountID: entry.AccountID, OpID: entry.OpID}
	if _, ok := m.byOp[k]; ok {
		return ledger.ErrDuplicateOperation
	}
	m.entries[entry.AccountID] = append(m.entries[entry.AccountID], entry)
	m.byOp[k] = entry
	return nil
}

func (m *Memory) entryByOpLocked(id ledger.AccountID, opID string) (*ledger.Entry, error) {
	entry, ok := m.byOp[opKey{AccountID: id, OpID: opID}]
	if !ok {
		return nil, nil
	}
	out := entry
	return &out, nil
}

// entriesLocked walks the append-only log backwards: newest first, with an
// exclusive cursor on entry id for pagination.
func (m *Memory) entriesLocked(id ledger.AccountID, limit int, before ledger.EntryID) ([]ledger.Entry, error) {
	log := m.entries[id]
	start := len(log)
	if before != "" {
		for i := len(log) - 1; i >= 0; i-- {
			if log[i].ID == before {
				start = i
				break
			}
		}
	}
	var result []ledger.Entry
	for i := start - 1; i >= 0; i-- {
		result = append(result, log[i])
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (m *Memory) sumDeltasLocked(id ledger.AccountID) (int64, int, error) {
	var total int64
	log := m.entries[id]
	for _, e := range log {
		total += e.Delta
	}
	return total, len(log), nil
}

func (m *Memory) updateBalanceLocked(id ledger.AccountID, expected, updated int64, syncedAt *time.Time) error {
	acct, ok := m.accounts[id]
	if !ok {
		return ledger.ErrAccountNotFound
	}
	if acct.Balance != expected {
		return ledger.ErrConcurrentModification
	}
	acct.Balance = updated
	// Sync points only ever move forward.
	if syncedAt != nil && syncedAt.After(acct.LastSyncedAt) {
		acct.LastSyncedAt = *syncedAt
	}
	m.accounts[id] = acct
	return nil
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.snapshot()

	txStore := &txMemoryView{parent: tm}
	if err := fn(txStore); err != nil {
		tm.restore(snapshot)
		return err
	}
	return nil
}

func (tm *TxMemory) snapshot() memorySnapshot {
	accounts := make(map[ledger.AccountID]ledger.Account, len(tm.accounts))
	for k, v := range tm.accounts {
		accounts[k] = v
	}
	entries := make(map[ledger.AccountID][]ledger.Entry, len(tm.entries))
	for k, v := range tm.entries {
		entries[k] = append([]ledger.Entry{}, v...)
	}
	byOp := make(map[opKey]ledger.Entry, len(tm.byOp))
	for k, v := range tm.byOp {
		byOp[k] = v
	}
	return memorySnapshot{accounts: accounts, entries: entries, byOp: byOp}
}

func (tm *TxMemory) restore(s memorySnapshot) {
	tm.accounts = s.accounts
	tm.entries = s.entries
	tm.byOp = s.byOp
}

type memorySnapshot struct {
	accounts map[ledger.AccountID]ledger.Account
	entries  map[ledger.AccountID][]ledger.Entry
	byOp     map[opKey]ledger.Entry
}

// txMemoryView dispatches to the locked implementations while the parent's
// mutex is held by WithTx.
type txMemoryView struct {
	parent *TxMemory
}

func (tv *txMemoryView) CreateAccount(_ context.Context, acct ledger.Account) error {
	return tv.parent.createAccountLocked(acct)
}

func (tv *txMemoryView) Account(_ context.Context, id ledger.AccountID) (*ledger.Account, error) {
	return tv.parent.accountLocked(id)
}

func (tv *txMemoryView) Accounts(_ context.Context, limit int, after ledger.AccountID) ([]ledger.Account, error) {
	return tv.parent.accountsLocked(limit, after)
}

func (tv *txMemoryView) TopAccounts(_ context.Context, limit int) ([]ledger.Account, error) {
	return tv.parent.topAccountsLocked(limit)
}

func (tv *txMemoryView) SetProfitRate(_ context.Context, id ledger.AccountID, rate decimal.Decimal) error {
	return tv.parent.setProfitRateLocked(id, rate)
}

func (tv *txMemoryView) SetBanned(_ context.Context, id ledger.AccountID, banned bool) error {
	return tv.parent.setBannedLocked(id, banned)
}

func (tv *txMemoryView) AppendEntry(_ context.Context, entry ledger.Entry) error {
	return tv.parent.appendEntryLocked(entry)
}

func (tv *txMemoryView) EntryByOp(_ context.Context, id ledger.AccountID, opID string) (*ledger.Entry, error) {
	return tv.parent.entryByOpLocked(id, opID)
}

func (tv *txMemoryView) Entries(_ context.Context, id ledger.AccountID, limit int, before ledger.EntryID) ([]ledger.Entry, error) {
	return tv.parent.entriesLocked(id, limit, before)
}

func (tv *txMemoryView) SumDeltas(_ context.Context, id ledger.AccountID) (int64, int, error) {
	return tv.parent.sumDeltasLocked(id)
}

func (tv *txMemoryView) UpdateBalance(_ context.Context, id ledger.AccountID, expected, updated int64, syncedAt *time.Time) error {
	return tv.parent.updateBalanceLocked(id, expected, updated, syncedAt)
}

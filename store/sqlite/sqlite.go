/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements all persistence interfaces using SQLite. In production, the same
  patterns apply to PostgreSQL - only minor SQL dialect differences.

INTERFACES IMPLEMENTED:
  ledger.Store:   Accounts and the append-only entry log
  ledger.TxStore: Entry append + balance update in one database transaction

APPEND-ONLY ENFORCEMENT:
  The entry log is never updated or deleted. Corrections are new entries with
  compensating deltas. The accounts table holds the projected balance, updated
  only through the compare-and-swap in UpdateBalance.

KEY TABLES:
  accounts:       Projected balance, profit rate, last sync point
  ledger_entries: Immutable log of all balance changes
  missions:       Mission catalog (admin-managed)
  shop_items:     Purchasable upgrades (admin-managed)
  invites:        Invite codes and their claim state
  admins:         Admin credentials (bcrypt hashes)

INDEXES:
  - UNIQUE(account_id, op_id) on ledger_entries enforces idempotency
  - idx_entries_account_created serves newest-first history pagination

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/coins.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc := ledger.NewService(store, logger)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - ledger/store.go: Interface definitions
  - ledger/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/jamforge/coin-engine/ledger"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps :memory: databases coherent and avoids
	// SQLITE_BUSY under concurrent writers.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Accounts (projected state)
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		balance INTEGER NOT NULL DEFAULT 0,
		profit_per_hour TEXT NOT NULL DEFAULT '0',
		last_synced_at TEXT NOT NULL,
		banned BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_accounts_balance
		ON accounts(banned, balance DESC);

	-- Ledger entries (append-only)
	CREATE TABLE IF NOT EXISTS ledger_entries (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		op_id TEXT NOT NULL,
		delta INTEGER NOT NULL,
		reason TEXT NOT NULL,
		resulting_balance INTEGER NOT NULL,
		metadata_json TEXT,
		created_at TEXT NOT NULL
	);

	-- CRITICAL: one entry per (account, operation). A replayed operation
	-- must hit this constraint instead of double-applying.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_entries_account_op
		ON ledger_entries(account_id, op_id);

	-- Newest-first history pagination (hot path)
	CREATE INDEX IF NOT EXISTS idx_entries_account_created
		ON ledger_entries(account_id, created_at DESC, id DESC);

	-- Missions
	CREATE TABLE IF NOT EXISTS missions (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		reward INTEGER NOT NULL,
		kind TEXT NOT NULL DEFAULT 'daily',
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Shop items
	CREATE TABLE IF NOT EXISTS shop_items (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		cost INTEGER NOT NULL,
		profit_boost TEXT NOT NULL DEFAULT '0',
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Invites
	CREATE TABLE IF NOT EXISTS invites (
		code TEXT PRIMARY KEY,
		inviter_id TEXT NOT NULL,
		invitee_id TEXT,
		created_at TEXT NOT NULL,
		claimed_at TEXT,
		expires_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_invites_inviter
		ON invites(inviter_id);

	-- Admins
	CREATE TABLE IF NOT EXISTS admins (
		username TEXT PRIMARY KEY,
		password_hash TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// dbConn is the common surface of *sql.DB and *sql.Tx.
type dbConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// ACCOUNT STORE (ledger.Store interface)
// =============================================================================

func (s *Store) CreateAccount(ctx context.Context, acct ledger.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return createAccount(ctx, s.db, acct)
}

func createAccount(ctx context.Context, q dbConn, acct ledger.Account) error {
	query := `
		INSERT INTO accounts (id, balance, profit_per_hour, last_synced_at, banned, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := q.ExecContext(ctx, query,
		acct.ID,
		acct.Balance,
		acct.ProfitPerHour.String(),
		acct.LastSyncedAt.UTC().Format(time.RFC3339),
		acct.Banned,
		acct.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.ErrAccountExists
		}
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

func (s *Store) Account(ctx context.Context, id ledger.AccountID) (*ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getAccount(ctx, s.db, id)
}

func getAccount(ctx context.Context, q dbConn, id ledger.AccountID) (*ledger.Account, error) {
	row := q.QueryRowContext(ctx,
		"SELECT id, balance, profit_per_hour, last_synced_at, banned, created_at FROM accounts WHERE id = ?",
		id,
	)
	acct, err := scanAccount(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return acct, nil
}

func scanAccount(scan func(dest ...any) error) (*ledger.Account, error) {
	var (
		acct         ledger.Account
		profitRate   string
		lastSyncedAt string
		createdAt    string
	)
	if err := scan(&acct.ID, &acct.Balance, &profitRate, &lastSyncedAt, &acct.Banned, &createdAt); err != nil {
		return nil, err
	}
	acct.ProfitPerHour, _ = decimal.NewFromString(profitRate)
	acct.LastSyncedAt, _ = time.Parse(time.RFC3339, lastSyncedAt)
	acct.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &acct, nil
}

func (s *Store) Accounts(ctx context.Context, limit int, after ledger.AccountID) ([]ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listAccounts(ctx, s.db, limit, after)
}

func listAccounts(ctx context.Context, q dbConn, limit int, after ledger.AccountID) ([]ledger.Account, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, balance, profit_per_hour, last_synced_at, banned, created_at
		FROM accounts
		WHERE id > ?
		ORDER BY id ASC
		LIMIT ?
	`
	return queryAccounts(ctx, q, query, after, limit)
}

func (s *Store) TopAccounts(ctx context.Context, limit int) ([]ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return topAccounts(ctx, s.db, limit)
}

func topAccounts(ctx context.Context, q dbConn, limit int) ([]ledger.Account, error) {
	if limit <= 0 {
		limit = 10
	}
	query := `
		SELECT id, balance, profit_per_hour, last_synced_at, banned, created_at
		FROM accounts
		WHERE banned = FALSE
		ORDER BY balance DESC, id ASC
		LIMIT ?
	`
	return queryAccounts(ctx, q, query, limit)
}

func queryAccounts(ctx context.Context, q dbConn, query string, args ...any) ([]ledger.Account, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	var accounts []ledger.Account
	for rows.Next() {
		acct, err := scanAccount(rows.Scan)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *acct)
	}
	return accounts, rows.Err()
}

func (s *Store) SetProfitRate(ctx context.Context, id ledger.AccountID, rate decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return setProfitRate(ctx, s.db, id, rate)
}

func setProfitRate(ctx context.Context, q dbConn, id ledger.AccountID, rate decimal.Decimal) error {
	res, err := q.ExecContext(ctx,
		"UPDATE accounts SET profit_per_hour = ? WHERE id = ?",
		rate.String(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to set profit rate: %w", err)
	}
	return requireRow(res, ledger.ErrAccountNotFound)
}

func (s *Store) SetBanned(ctx context.Context, id ledger.AccountID, banned bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return setBanned(ctx, s.db, id, banned)
}

func setBanned(ctx context.Context, q dbConn, id ledger.AccountID, banned bool) error {
	res, err := q.ExecContext(ctx,
		"UPDATE accounts SET banned = ? WHERE id = ?",
		banned, id,
	)
	if err != nil {
		return fmt.Errorf("failed to set banned flag: %w", err)
	}
	return requireRow(res, ledger.ErrAccountNotFound)
}

// UpdateBalance performs the compare-and-swap on the projected balance.
// The last sync point only ever moves forward, even on stale updates.
func (s *Store) UpdateBalance(ctx context.Context, id ledger.AccountID, expected, updated int64, syncedAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateBalance(ctx, s.db, id, expected, updated, syncedAt)
}

func updateBalance(ctx context.Context, q dbConn, id ledger.AccountID, expected, updated int64, syncedAt *time.Time) error {
	var (
		res sql.Result
		err error
	)
	if syncedAt != nil {
		ts := syncedAt.UTC().Format(time.RFC3339)
		res, err = q.ExecContext(ctx, `
			UPDATE accounts
			SET balance = ?,
			    last_synced_at = CASE WHEN ? > last_synced_at THEN ? ELSE last_synced_at END
			WHERE id = ? AND balance = ?
		`, updated, ts, ts, id, expected)
	} else {
		res, err = q.ExecContext(ctx,
			"UPDATE accounts SET balance = ? WHERE id = ? AND balance = ?",
			updated, id, expected,
		)
	}
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Either the account is gone or another writer won the swap.
		acct, err := getAccount(ctx, q, id)
		if err != nil {
			return err
		}
		if acct == nil {
			return ledger.ErrAccountNotFound
		}
		return ledger.ErrConcurrentModification
	}
	return nil
}

// =============================================================================
// ENTRY STORE (ledger.Store interface)
// =============================================================================

// AppendEntry adds an entry to the log. Append-only.
func (s *Store) AppendEntry(ctx context.Context, entry ledger.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendEntry(ctx, s.db, entry)
}

func appendEntry(ctx context.Context, q dbConn, entry ledger.Entry) error {
	metadataJSON, _ := json.Marshal(entry.Metadata)

	query := `
		INSERT INTO ledger_entries
		(id, account_id, op_id, delta, reason, resulting_balance, metadata_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := q.ExecContext(ctx, query,
		entry.ID,
		entry.AccountID,
		entry.OpID,
		entry.Delta,
		entry.Reason,
		entry.ResultingBalance,
		string(metadataJSON),
		entry.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.ErrDuplicateOperation
		}
		return fmt.Errorf("failed to append entry: %w", err)
	}
	return nil
}

func (s *Store) EntryByOp(ctx context.Context, id ledger.AccountID, opID string) (*ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return entryByOp(ctx, s.db, id, opID)
}

func entryByOp(ctx context.Context, q dbConn, id ledger.AccountID, opID string) (*ledger.Entry, error) {
	query := `
		SELECT id, account_id, op_id, delta, reason, resulting_balance, metadata_json, created_at
		FROM ledger_entries
		WHERE account_id = ? AND op_id = ?
	`
	entries, err := queryEntries(ctx, q, query, id, opID)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return &entries[0], nil
}

func (s *Store) Entries(ctx context.Context, id ledger.AccountID, limit int, before ledger.EntryID) ([]ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listEntries(ctx, s.db, id, limit, before)
}

// listEntries pages newest-first with an exclusive cursor on entry id.
func listEntries(ctx context.Context, q dbConn, id ledger.AccountID, limit int, before ledger.EntryID) ([]ledger.Entry, error) {
	if limit <= 0 {
		limit = 20
	}

	if before == "" {
		query := `
			SELECT id, account_id, op_id, delta, reason, resulting_balance, metadata_json, created_at
			FROM ledger_entries
			WHERE account_id = ?
			ORDER BY created_at DESC, id DESC
			LIMIT ?
		`
		return queryEntries(ctx, q, query, id, limit)
	}

	query := `
		SELECT e.id, e.account_id, e.op_id, e.delta, e.reason, e.resulting_balance, e.metadata_json, e.created_at
		FROM ledger_entries e, (SELECT created_at, id FROM ledger_entries WHERE id = ?) cursor
		WHERE e.account_id = ?
		  AND (e.created_at < cursor.created_at
		       OR (e.created_at = cursor.created_at AND e.id < cursor.id))
		ORDER BY e.created_at DESC, e.id DESC
		LIMIT ?
	`
	return queryEntries(ctx, q, query, before, id, limit)
}

func (s *Store) SumDeltas(ctx context.Context, id ledger.AccountID) (int64, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sumDeltas(ctx, s.db, id)
}

func sumDeltas(ctx context.Context, q dbConn, id ledger.AccountID) (int64, int, error) {
	var (
		total sql.NullInt64
		count int
	)
	err := q.QueryRowContext(ctx,
		"SELECT COALESCE(SUM(delta), 0), COUNT(*) FROM ledger_entries WHERE account_id = ?",
		id,
	).Scan(&total, &count)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to sum deltas: %w", err)
	}
	return total.Int64, count, nil
}

func queryEntries(ctx context.Context, q dbConn, query string, args ...any) ([]ledger.Entry, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	var entries []ledger.Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func scanEntry(rows *sql.Rows) (ledger.Entry, error) {
	var (
		entry        ledger.Entry
		metadataJSON sql.NullString
		createdAt    string
	)
	err := rows.Scan(
		&entry.ID, &entry.AccountID, &entry.OpID, &entry.Delta,
		&entry.Reason, &entry.ResultingBalance, &metadataJSON, &createdAt,
	)
	if err != nil {
		return entry, fmt.Errorf("failed to scan entry: %w", err)
	}

	entry.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	if metadataJSON.Valid && metadataJSON.String != "" && metadataJSON.String != "null" {
		json.Unmarshal([]byte(metadataJSON.String), &entry.Metadata)
	}
	return entry, nil
}

// =============================================================================
// TRANSACTIONAL STORE (ledger.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store ledger.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	txStore := &txStore{tx: sqlTx}
	if err := fn(txStore); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// txStore runs every operation against the open transaction. It must not
// touch the parent mutex: WithTx already holds the write lock.
type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) CreateAccount(ctx context.Context, acct ledger.Account) error {
	return createAccount(ctx, ts.tx, acct)
}

func (ts *txStore) Account(ctx context.Context, id ledger.AccountID) (*ledger.Account, error) {
	return getAccount(ctx, ts.tx, id)
}

func (ts *txStore) Accounts(ctx context.Context, limit int, after ledger.AccountID) ([]ledger.Account, error) {
	return listAccounts(ctx, ts.tx, limit, after)
}

func (ts *txStore) TopAccounts(ctx context.Context, limit int) ([]ledger.Account, error) {
	return topAccounts(ctx, ts.tx, limit)
}

func (ts *txStore) SetProfitRate(ctx context.Context, id ledger.AccountID, rate decimal.Decimal) error {
	return setProfitRate(ctx, ts.tx, id, rate)
}

func (ts *txStore) SetBanned(ctx context.Context, id ledger.AccountID, banned bool) error {
	return setBanned(ctx, ts.tx, id, banned)
}

func (ts *txStore) AppendEntry(ctx context.Context, entry ledger.Entry) error {
	return appendEntry(ctx, ts.tx, entry)
}

func (ts *txStore) EntryByOp(ctx context.Context, id ledger.AccountID, opID string) (*ledger.Entry, error) {
	return entryByOp(ctx, ts.tx, id, opID)
}

func (ts *txStore) Entries(ctx context.Context, id ledger.AccountID, limit int, before ledger.EntryID) ([]ledger.Entry, error) {
	return listEntries(ctx, ts.tx, id, limit, before)
}

func (ts *txStore) SumDeltas(ctx context.Context, id ledger.AccountID) (int64, int, error) {
	return sumDeltas(ctx, ts.tx, id)
}

func (ts *txStore) UpdateBalance(ctx context.Context, id ledger.AccountID, expected, updated int64, syncedAt *time.Time) error {
	return updateBalance(ctx, ts.tx, id, expected, updated, syncedAt)
}

// =============================================================================
// MISSION STORE
// =============================================================================

// MissionRecord is a stored mission definition.
type MissionRecord struct {
	ID        string
	Title     string
	Reward    int64
	Kind      string // daily, once
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SaveMission saves a mission record.
func (s *Store) SaveMission(ctx context.Context, m MissionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO missions (id, title, reward, kind, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			reward = excluded.reward,
			kind = excluded.kind,
			active = excluded.active,
			updated_at = excluded.updated_at
	`
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx, query,
		m.ID, m.Title, m.Reward, m.Kind, m.Active, now, now,
	)
	return err
}

// GetMission retrieves a mission by ID.
func (s *Store) GetMission(ctx context.Context, id string) (*MissionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var m MissionRecord
	var createdAt, updatedAt string

	err := s.db.QueryRowContext(ctx,
		"SELECT id, title, reward, kind, active, created_at, updated_at FROM missions WHERE id = ?",
		id,
	).Scan(&m.ID, &m.Title, &m.Reward, &m.Kind, &m.Active, &createdAt, &updatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	m.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	m.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &m, nil
}

// ListMissions returns missions, optionally only active ones.
func (s *Store) ListMissions(ctx context.Context, activeOnly bool) ([]MissionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT id, title, reward, kind, active, created_at, updated_at FROM missions"
	if activeOnly {
		query += " WHERE active = TRUE"
	}
	query += " ORDER BY title"

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var missions []MissionRecord
	for rows.Next() {
		var m MissionRecord
		var createdAt, updatedAt string
		if err := rows.Scan(&m.ID, &m.Title, &m.Reward, &m.Kind, &m.Active, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		m.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		m.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		missions = append(missions, m)
	}
	return missions, rows.Err()
}

// DeleteMission removes a mission.
func (s *Store) DeleteMission(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, "DELETE FROM missions WHERE id = ?", id)
	return err
}

// =============================================================================
// SHOP ITEM STORE
// =============================================================================

// ShopItemRecord is a stored shop item.
type ShopItemRecord struct {
	ID          string
	Name        string
	Cost        int64
	ProfitBoost decimal.Decimal // coins per hour added on purchase
	Active      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// SaveShopItem saves a shop item record.
func (s *Store) SaveShopItem(ctx context.Context, item ShopItemRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO shop_items (id, name, cost, profit_boost, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			cost = excluded.cost,
			profit_boost = excluded.profit_boost,
			active = excluded.active,
			updated_at = excluded.updated_at
	`
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx, query,
		item.ID, item.Name, item.Cost, item.ProfitBoost.String(), item.Active, now, now,
	)
	return err
}

// GetShopItem retrieves a shop item by ID.
func (s *Store) GetShopItem(ctx context.Context, id string) (*ShopItemRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var item ShopItemRecord
	var profitBoost, createdAt, updatedAt string

	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, cost, profit_boost, active, created_at, updated_at FROM shop_items WHERE id = ?",
		id,
	).Scan(&item.ID, &item.Name, &item.Cost, &profitBoost, &item.Active, &createdAt, &updatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	item.ProfitBoost, _ = decimal.NewFromString(profitBoost)
	item.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	item.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &item, nil
}

// ListShopItems returns shop items, optionally only active ones.
func (s *Store) ListShopItems(ctx context.Context, activeOnly bool) ([]ShopItemRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT id, name, cost, profit_boost, active, created_at, updated_at FROM shop_items"
	if activeOnly {
		query += " WHERE active = TRUE"
	}
	query += " ORDER BY cost ASC"

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []ShopItemRecord
	for rows.Next() {
		var item ShopItemRecord
		var profitBoost, createdAt, updatedAt string
		if err := rows.Scan(&item.ID, &item.Name, &item.Cost, &profitBoost, &item.Active, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		item.ProfitBoost, _ = decimal.NewFromString(profitBoost)
		item.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		item.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		items = append(items, item)
	}
	return items, rows.Err()
}

// DeleteShopItem removes a shop item.
func (s *Store) DeleteShopItem(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, "DELETE FROM shop_items WHERE id = ?", id)
	return err
}

// =============================================================================
// INVITE STORE
// =============================================================================

// InviteRecord is a stored invite code.
type InviteRecord struct {
	Code      string
	InviterID string
	InviteeID string // empty until claimed
	CreatedAt time.Time
	ClaimedAt *time.Time
	ExpiresAt time.Time
}

// Claimed reports whether the invite has been redeemed.
func (r InviteRecord) Claimed() bool { return r.InviteeID != "" }

// SaveInvite inserts a new invite code.
func (s *Store) SaveInvite(ctx context.Context, inv InviteRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO invites (code, inviter_id, invitee_id, created_at, claimed_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	var claimedAt *string
	if inv.ClaimedAt != nil {
		t := inv.ClaimedAt.UTC().Format(time.RFC3339)
		claimedAt = &t
	}
	_, err := s.db.ExecContext(ctx, query,
		inv.Code,
		inv.InviterID,
		nullString(inv.InviteeID),
		inv.CreatedAt.UTC().Format(time.RFC3339),
		claimedAt,
		inv.ExpiresAt.UTC().Format(time.RFC3339),
	)
	if err != nil && isUniqueConstraintError(err) {
		return ledger.ErrDuplicateOperation
	}
	return err
}

// GetInvite retrieves an invite by code.
func (s *Store) GetInvite(ctx context.Context, code string) (*InviteRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT code, inviter_id, invitee_id, created_at, claimed_at, expires_at FROM invites WHERE code = ?",
		code,
	)
	inv, err := scanInvite(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return inv, nil
}

// InvitesByInviter returns all invites created by an account.
func (s *Store) InvitesByInviter(ctx context.Context, inviterID string) ([]InviteRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT code, inviter_id, invitee_id, created_at, claimed_at, expires_at
		 FROM invites WHERE inviter_id = ? ORDER BY created_at DESC`,
		inviterID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var invites []InviteRecord
	for rows.Next() {
		inv, err := scanInvite(rows.Scan)
		if err != nil {
			return nil, err
		}
		invites = append(invites, *inv)
	}
	return invites, rows.Err()
}

func scanInvite(scan func(dest ...any) error) (*InviteRecord, error) {
	var (
		inv                  InviteRecord
		inviteeID, claimedAt sql.NullString
		createdAt, expiresAt string
	)
	if err := scan(&inv.Code, &inv.InviterID, &inviteeID, &createdAt, &claimedAt, &expiresAt); err != nil {
		return nil, err
	}
	inv.InviteeID = inviteeID.String
	inv.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	inv.ExpiresAt, _ = time.Parse(time.RFC3339, expiresAt)
	if claimedAt.Valid {
		t, _ := time.Parse(time.RFC3339, claimedAt.String)
		inv.ClaimedAt = &t
	}
	return &inv, nil
}

// MarkInviteClaimed records the invitee on an unclaimed invite. Returns false
// without error when the invite was already claimed.
func (s *Store) MarkInviteClaimed(ctx context.Context, code, inviteeID string, claimedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"UPDATE invites SET invitee_id = ?, claimed_at = ? WHERE code = ? AND invitee_id IS NULL",
		inviteeID, claimedAt.UTC().Format(time.RFC3339), code,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// =============================================================================
// ADMIN STORE
// =============================================================================

// AdminRecord is a stored admin credential.
type AdminRecord struct {
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// SaveAdmin upserts an admin credential.
func (s *Store) SaveAdmin(ctx context.Context, a AdminRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO admins (username, password_hash, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(username) DO UPDATE SET
			password_hash = excluded.password_hash
	`
	_, err := s.db.ExecContext(ctx, query,
		a.Username, a.PasswordHash, time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

// GetAdmin retrieves an admin by username.
func (s *Store) GetAdmin(ctx context.Context, username string) (*AdminRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var a AdminRecord
	var createdAt string

	err := s.db.QueryRowContext(ctx,
		"SELECT username, password_hash, created_at FROM admins WHERE username = ?",
		username,
	).Scan(&a.Username, &a.PasswordHash, &createdAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	a.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &a, nil
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"ledger_entries", "accounts", "missions", "shop_items", "invites", "admins"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// Helper functions

func requireRow(res sql.Result, missing error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return missing
	}
	return nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}

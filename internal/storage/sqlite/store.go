// Package sqlite keeps the reward ledger in a local SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite"

	"rewardLedger/internal/model"
)

// Store persists ledger snapshots and events in SQLite. Amounts are stored as
// decimal text since they exceed SQLite's 64-bit integers.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens (or creates) the database and runs migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	dsn := filepath.Clean(path)
	if path == ":memory:" {
		dsn = path
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// a single connection keeps :memory: databases shared and serialises writers
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ledger_state (
			id                INTEGER PRIMARY KEY CHECK (id = 1),
			total_distributed TEXT NOT NULL,
			snapshot_ts       INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS reward_pools (
			pool_address        TEXT PRIMARY KEY,
			rate                TEXT NOT NULL,
			last_update         INTEGER NOT NULL,
			acc_per_share       TEXT NOT NULL,
			total_staked_scaled TEXT NOT NULL,
			decimals            INTEGER NOT NULL,
			distributed         TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS reward_accounts (
			user_address       TEXT NOT NULL,
			pool_address       TEXT NOT NULL,
			acc_per_share_paid TEXT NOT NULL,
			accrued            TEXT NOT NULL,
			stake              TEXT NOT NULL,
			PRIMARY KEY (user_address, pool_address)
		)`,
		`CREATE TABLE IF NOT EXISTS reward_memberships (
			user_address TEXT NOT NULL,
			pool_address TEXT NOT NULL,
			position     INTEGER NOT NULL,
			PRIMARY KEY (user_address, pool_address)
		)`,
		`CREATE TABLE IF NOT EXISTS ledger_events (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			kind          TEXT NOT NULL,
			pool_address  TEXT,
			user_address  TEXT,
			amount        TEXT,
			rate          TEXT,
			stake         TEXT,
			total_staked  TEXT,
			acc_per_share TEXT,
			event_ts      INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_user ON ledger_events(user_address, event_ts)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", firstLine(stmt), err)
		}
	}
	return nil
}

// SaveSnapshot replaces the stored ledger in one transaction.
func (s *Store) SaveSnapshot(ctx context.Context, snap model.LedgerSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin snapshot tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range []string{"reward_pools", "reward_accounts", "reward_memberships"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO ledger_state (id, total_distributed, snapshot_ts) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET total_distributed = excluded.total_distributed, snapshot_ts = excluded.snapshot_ts`,
		orZero(snap.TotalDistributed), int64(snap.Timestamp)); err != nil {
		return fmt.Errorf("save ledger state: %w", err)
	}

	for _, p := range snap.Pools {
		if _, err := tx.ExecContext(ctx, `INSERT INTO reward_pools
			(pool_address, rate, last_update, acc_per_share, total_staked_scaled, decimals, distributed)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			p.Pool, orZero(p.Rate), int64(p.LastUpdate), orZero(p.AccPerShare), orZero(p.TotalStakedScaled), int64(p.Decimals), orZero(p.Distributed),
		); err != nil {
			return fmt.Errorf("save pool %s: %w", p.Pool, err)
		}
	}
	for _, a := range snap.Accounts {
		if _, err := tx.ExecContext(ctx, `INSERT INTO reward_accounts
			(user_address, pool_address, acc_per_share_paid, accrued, stake)
			VALUES (?, ?, ?, ?, ?)`,
			a.User, a.Pool, orZero(a.AccPerSharePaid), orZero(a.Accrued), orZero(a.Stake),
		); err != nil {
			return fmt.Errorf("save account %s/%s: %w", a.User, a.Pool, err)
		}
	}
	for _, m := range snap.Memberships {
		for position, pool := range m.Pools {
			if _, err := tx.ExecContext(ctx, `INSERT INTO reward_memberships (user_address, pool_address, position) VALUES (?, ?, ?)`,
				m.User, pool, position); err != nil {
				return fmt.Errorf("save membership %s/%s: %w", m.User, pool, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot reads the stored ledger. It reports false when none was saved.
func (s *Store) LoadSnapshot(ctx context.Context) (model.LedgerSnapshot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var snap model.LedgerSnapshot
	var ts int64
	err := s.db.QueryRowContext(ctx, `SELECT total_distributed, snapshot_ts FROM ledger_state WHERE id = 1`).Scan(&snap.TotalDistributed, &ts)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.LedgerSnapshot{}, false, nil
		}
		return model.LedgerSnapshot{}, false, fmt.Errorf("load ledger state: %w", err)
	}
	snap.Timestamp = uint64(ts)

	rows, err := s.db.QueryContext(ctx, `SELECT pool_address, rate, last_update, acc_per_share, total_staked_scaled, decimals, distributed
		FROM reward_pools ORDER BY pool_address`)
	if err != nil {
		return model.LedgerSnapshot{}, false, fmt.Errorf("load pools: %w", err)
	}
	for rows.Next() {
		var p model.PoolRecord
		var lastUpdate, decimals int64
		if err := rows.Scan(&p.Pool, &p.Rate, &lastUpdate, &p.AccPerShare, &p.TotalStakedScaled, &decimals, &p.Distributed); err != nil {
			rows.Close()
			return model.LedgerSnapshot{}, false, fmt.Errorf("scan pool: %w", err)
		}
		p.LastUpdate = uint64(lastUpdate)
		p.Decimals = uint8(decimals)
		snap.Pools = append(snap.Pools, p)
	}
	if err := closeRows(rows); err != nil {
		return model.LedgerSnapshot{}, false, err
	}

	rows, err = s.db.QueryContext(ctx, `SELECT user_address, pool_address, acc_per_share_paid, accrued, stake
		FROM reward_accounts ORDER BY user_address, pool_address`)
	if err != nil {
		return model.LedgerSnapshot{}, false, fmt.Errorf("load accounts: %w", err)
	}
	for rows.Next() {
		var a model.AccountRecord
		if err := rows.Scan(&a.User, &a.Pool, &a.AccPerSharePaid, &a.Accrued, &a.Stake); err != nil {
			rows.Close()
			return model.LedgerSnapshot{}, false, fmt.Errorf("scan account: %w", err)
		}
		snap.Accounts = append(snap.Accounts, a)
	}
	if err := closeRows(rows); err != nil {
		return model.LedgerSnapshot{}, false, err
	}

	rows, err = s.db.QueryContext(ctx, `SELECT user_address, pool_address FROM reward_memberships ORDER BY user_address, position`)
	if err != nil {
		return model.LedgerSnapshot{}, false, fmt.Errorf("load memberships: %w", err)
	}
	for rows.Next() {
		var user, pool string
		if err := rows.Scan(&user, &pool); err != nil {
			rows.Close()
			return model.LedgerSnapshot{}, false, fmt.Errorf("scan membership: %w", err)
		}
		if n := len(snap.Memberships); n > 0 && snap.Memberships[n-1].User == user {
			snap.Memberships[n-1].Pools = append(snap.Memberships[n-1].Pools, pool)
			continue
		}
		snap.Memberships = append(snap.Memberships, model.MembershipRecord{User: user, Pools: []string{pool}})
	}
	if err := closeRows(rows); err != nil {
		return model.LedgerSnapshot{}, false, err
	}

	return snap, true, nil
}

// PutEventBatch appends ledger events.
func (s *Store) PutEventBatch(events []model.LedgerEvent) error {
	if len(events) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin event tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, e := range events {
		if _, err := tx.Exec(`INSERT INTO ledger_events
			(kind, pool_address, user_address, amount, rate, stake, total_staked, acc_per_share, event_ts)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.Kind, nullable(e.Pool), nullable(e.User), nullable(e.Amount), nullable(e.Rate),
			nullable(e.Stake), nullable(e.TotalStaked), nullable(e.AccPerShare), int64(e.Timestamp),
		); err != nil {
			return fmt.Errorf("insert %s event: %w", e.Kind, err)
		}
	}
	return tx.Commit()
}

// EventsForUser returns a user's events in insertion order.
func (s *Store) EventsForUser(ctx context.Context, user string) ([]model.LedgerEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `SELECT kind, pool_address, user_address, amount, rate, stake, total_staked, acc_per_share, event_ts
		FROM ledger_events WHERE user_address = ? ORDER BY id`, user)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	var out []model.LedgerEvent
	for rows.Next() {
		var e model.LedgerEvent
		var pool, usr, amount, rate, stake, total, acc sql.NullString
		var ts int64
		if err := rows.Scan(&e.Kind, &pool, &usr, &amount, &rate, &stake, &total, &acc, &ts); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Pool, e.User, e.Amount, e.Rate = pool.String, usr.String, amount.String, rate.String
		e.Stake, e.TotalStaked, e.AccPerShare = stake.String, total.String, acc.String
		e.Timestamp = uint64(ts)
		out = append(out, e)
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}
	return out, nil
}

func closeRows(rows *sql.Rows) error {
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("iterate rows: %w", err)
	}
	return rows.Close()
}

func firstLine(stmt string) string {
	if i := strings.IndexByte(stmt, '\n'); i >= 0 {
		return stmt[:i]
	}
	return stmt
}

func orZero(value string) string {
	if value == "" {
		return "0"
	}
	return value
}

func nullable(value string) any {
	if value == "" {
		return nil
	}
	return value
}

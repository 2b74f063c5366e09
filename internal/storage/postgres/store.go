package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"rewardLedger/internal/model"
)

const defaultLedgerName = "default"

// Store provides Postgres persistence for the reward ledger and its events.
type Store struct {
	pool *pgxpool.Pool
	name string
}

func NewStore(ctx context.Context, dsn, ledgerName string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	if ledgerName == "" {
		ledgerName = defaultLedgerName
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool, name: ledgerName}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Migrate creates the ledger tables when they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS ledger_state (
		name TEXT PRIMARY KEY,
		total_distributed NUMERIC(78,0) NOT NULL,
		snapshot_ts BIGINT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS reward_pools (
		ledger TEXT NOT NULL,
		pool_address TEXT NOT NULL,
		rate NUMERIC(78,0) NOT NULL,
		last_update BIGINT NOT NULL,
		acc_per_share NUMERIC(78,0) NOT NULL,
		total_staked_scaled NUMERIC(78,0) NOT NULL,
		decimals SMALLINT NOT NULL,
		distributed NUMERIC(78,0) NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (ledger, pool_address)
	)`,
	`CREATE TABLE IF NOT EXISTS reward_accounts (
		ledger TEXT NOT NULL,
		user_address TEXT NOT NULL,
		pool_address TEXT NOT NULL,
		acc_per_share_paid NUMERIC(78,0) NOT NULL,
		accrued NUMERIC(78,0) NOT NULL,
		stake NUMERIC(78,0) NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (ledger, user_address, pool_address)
	)`,
	`CREATE TABLE IF NOT EXISTS reward_memberships (
		ledger TEXT NOT NULL,
		user_address TEXT NOT NULL,
		pool_address TEXT NOT NULL,
		position INTEGER NOT NULL,
		PRIMARY KEY (ledger, user_address, pool_address)
	)`,
	`CREATE TABLE IF NOT EXISTS ledger_events (
		id BIGSERIAL PRIMARY KEY,
		ledger TEXT NOT NULL,
		kind TEXT NOT NULL,
		pool_address TEXT,
		user_address TEXT,
		amount NUMERIC(78,0),
		rate NUMERIC(78,0),
		stake NUMERIC(78,0),
		total_staked NUMERIC(78,0),
		acc_per_share NUMERIC(78,0),
		event_ts BIGINT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_ledger_events_user ON ledger_events (ledger, user_address, event_ts)`,
}

// SaveSnapshot upserts the whole ledger in one transaction.
func (s *Store) SaveSnapshot(ctx context.Context, snap model.LedgerSnapshot) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		batch.Queue(`
			INSERT INTO ledger_state (name, total_distributed, snapshot_ts, updated_at)
			VALUES ($1, $2::text::numeric, $3, now())
			ON CONFLICT (name) DO UPDATE
			SET total_distributed = EXCLUDED.total_distributed,
				snapshot_ts = EXCLUDED.snapshot_ts,
				updated_at = now()
		`, s.name, orZero(snap.TotalDistributed), int64(snap.Timestamp))

		for _, p := range snap.Pools {
			batch.Queue(`
				INSERT INTO reward_pools (
					ledger, pool_address, rate, last_update, acc_per_share, total_staked_scaled, decimals, distributed, updated_at
				) VALUES ($1, $2, $3::text::numeric, $4, $5::text::numeric, $6::text::numeric, $7, $8::text::numeric, now())
				ON CONFLICT (ledger, pool_address)
				DO UPDATE SET
					rate = EXCLUDED.rate,
					last_update = EXCLUDED.last_update,
					acc_per_share = EXCLUDED.acc_per_share,
					total_staked_scaled = EXCLUDED.total_staked_scaled,
					decimals = EXCLUDED.decimals,
					distributed = EXCLUDED.distributed,
					updated_at = now()
			`,
				s.name,
				p.Pool,
				orZero(p.Rate),
				int64(p.LastUpdate),
				orZero(p.AccPerShare),
				orZero(p.TotalStakedScaled),
				int16(p.Decimals),
				orZero(p.Distributed),
			)
		}

		for _, a := range snap.Accounts {
			batch.Queue(`
				INSERT INTO reward_accounts (
					ledger, user_address, pool_address, acc_per_share_paid, accrued, stake, updated_at
				) VALUES ($1, $2, $3, $4::text::numeric, $5::text::numeric, $6::text::numeric, now())
				ON CONFLICT (ledger, user_address, pool_address)
				DO UPDATE SET
					acc_per_share_paid = EXCLUDED.acc_per_share_paid,
					accrued = EXCLUDED.accrued,
					stake = EXCLUDED.stake,
					updated_at = now()
			`,
				s.name,
				a.User,
				a.Pool,
				orZero(a.AccPerSharePaid),
				orZero(a.Accrued),
				orZero(a.Stake),
			)
		}

		queued := 1 + len(snap.Pools) + len(snap.Accounts)
		for _, m := range snap.Memberships {
			for position, pool := range m.Pools {
				batch.Queue(`
					INSERT INTO reward_memberships (ledger, user_address, pool_address, position)
					VALUES ($1, $2, $3, $4)
					ON CONFLICT (ledger, user_address, pool_address) DO NOTHING
				`, s.name, m.User, pool, position)
				queued++
			}
		}

		br := tx.SendBatch(ctx, batch)
		for i := 0; i < queued; i++ {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return fmt.Errorf("save snapshot: %w", err)
			}
		}
		return br.Close()
	})
}

// LoadSnapshot reads the ledger back. It reports false when no snapshot was saved.
func (s *Store) LoadSnapshot(ctx context.Context) (model.LedgerSnapshot, bool, error) {
	var snap model.LedgerSnapshot
	var ts int64
	row := s.pool.QueryRow(ctx, `SELECT total_distributed::text, snapshot_ts FROM ledger_state WHERE name=$1`, s.name)
	if err := row.Scan(&snap.TotalDistributed, &ts); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.LedgerSnapshot{}, false, nil
		}
		return model.LedgerSnapshot{}, false, err
	}
	snap.Timestamp = uint64(ts)

	rows, err := s.pool.Query(ctx, `
		SELECT pool_address, rate::text, last_update, acc_per_share::text, total_staked_scaled::text, decimals, distributed::text
		FROM reward_pools WHERE ledger=$1 ORDER BY pool_address
	`, s.name)
	if err != nil {
		return model.LedgerSnapshot{}, false, err
	}
	for rows.Next() {
		var p model.PoolRecord
		var lastUpdate int64
		var decimals int16
		if err := rows.Scan(&p.Pool, &p.Rate, &lastUpdate, &p.AccPerShare, &p.TotalStakedScaled, &decimals, &p.Distributed); err != nil {
			rows.Close()
			return model.LedgerSnapshot{}, false, err
		}
		p.LastUpdate = uint64(lastUpdate)
		p.Decimals = uint8(decimals)
		snap.Pools = append(snap.Pools, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return model.LedgerSnapshot{}, false, err
	}

	rows, err = s.pool.Query(ctx, `
		SELECT user_address, pool_address, acc_per_share_paid::text, accrued::text, stake::text
		FROM reward_accounts WHERE ledger=$1 ORDER BY user_address, pool_address
	`, s.name)
	if err != nil {
		return model.LedgerSnapshot{}, false, err
	}
	for rows.Next() {
		var a model.AccountRecord
		if err := rows.Scan(&a.User, &a.Pool, &a.AccPerSharePaid, &a.Accrued, &a.Stake); err != nil {
			rows.Close()
			return model.LedgerSnapshot{}, false, err
		}
		snap.Accounts = append(snap.Accounts, a)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return model.LedgerSnapshot{}, false, err
	}

	rows, err = s.pool.Query(ctx, `
		SELECT user_address, pool_address
		FROM reward_memberships WHERE ledger=$1 ORDER BY user_address, position
	`, s.name)
	if err != nil {
		return model.LedgerSnapshot{}, false, err
	}
	for rows.Next() {
		var user, pool string
		if err := rows.Scan(&user, &pool); err != nil {
			rows.Close()
			return model.LedgerSnapshot{}, false, err
		}
		if n := len(snap.Memberships); n > 0 && snap.Memberships[n-1].User == user {
			snap.Memberships[n-1].Pools = append(snap.Memberships[n-1].Pools, pool)
			continue
		}
		snap.Memberships = append(snap.Memberships, model.MembershipRecord{User: user, Pools: []string{pool}})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return model.LedgerSnapshot{}, false, err
	}

	return snap, true, nil
}

// PutEventBatch appends ledger events.
func (s *Store) PutEventBatch(events []model.LedgerEvent) error {
	if len(events) == 0 {
		return nil
	}
	ctx := context.Background()
	batch := &pgx.Batch{}
	for _, e := range events {
		batch.Queue(`
			INSERT INTO ledger_events (
				ledger, kind, pool_address, user_address, amount, rate, stake, total_staked, acc_per_share, event_ts
			) VALUES ($1, $2, $3, $4, $5::text::numeric, $6::text::numeric, $7::text::numeric, $8::text::numeric, $9::text::numeric, $10)
		`,
			s.name,
			e.Kind,
			nullable(e.Pool),
			nullable(e.User),
			nullable(e.Amount),
			nullable(e.Rate),
			nullable(e.Stake),
			nullable(e.TotalStaked),
			nullable(e.AccPerShare),
			int64(e.Timestamp),
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range events {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

func orZero(value string) string {
	if value == "" {
		return "0"
	}
	return value
}

func nullable(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

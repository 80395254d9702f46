package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"offramp_go/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS offramp_kv (
	key        TEXT PRIMARY KEY,
	value      JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS offramp_kv_status_idx ON offramp_kv ((value->>'status'))
	WHERE key LIKE 'offramp:order:%';`

const upsertStmt = `
INSERT INTO offramp_kv (key, value, updated_at) VALUES ($1, $2, NOW())
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`

// Postgres stores every key as a JSONB document in one table.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to dsn and ensures the schema exists.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	p := &Postgres{pool: pool}
	if err := p.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

// NewPostgresFromPool wraps an existing pool. The caller owns the pool.
func NewPostgresFromPool(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Migrate creates the key/value table if needed.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (p *Postgres) CreateOrder(ctx context.Context, order *domain.OfframpOrder) error {
	data, err := json.Marshal(order)
	if err != nil {
		return err
	}
	latest, _ := json.Marshal(order.ID)

	return p.withTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `INSERT INTO offramp_kv (key, value) VALUES ($1, $2)`, OrderKey(order.ID), data)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicateOrder
			}
			return fmt.Errorf("create order: %w", err)
		}
		if _, err := tx.Exec(ctx, upsertStmt, KeyLatestOrder, latest); err != nil {
			return fmt.Errorf("move latest pointer: %w", err)
		}
		return nil
	})
}

func (p *Postgres) GetOrder(ctx context.Context, id string) (*domain.OfframpOrder, error) {
	var o domain.OfframpOrder
	ok, err := p.load(ctx, OrderKey(id), &o)
	if err != nil || !ok {
		return nil, err
	}
	return &o, nil
}

func (p *Postgres) SaveOrder(ctx context.Context, order *domain.OfframpOrder) error {
	return p.save(ctx, OrderKey(order.ID), order)
}

func (p *Postgres) LatestOrder(ctx context.Context) (*domain.OfframpOrder, error) {
	var id string
	ok, err := p.load(ctx, KeyLatestOrder, &id)
	if err != nil || !ok {
		return nil, err
	}
	return p.GetOrder(ctx, id)
}

func (p *Postgres) ListOrdersByStatus(ctx context.Context, statuses ...domain.OrderStatus) ([]*domain.OfframpOrder, error) {
	query := `SELECT value FROM offramp_kv WHERE key LIKE 'offramp:order:%'`
	var args []any
	if len(statuses) > 0 {
		names := make([]string, len(statuses))
		for i, s := range statuses {
			names[i] = string(s)
		}
		query += ` AND value->>'status' = ANY($1)`
		args = append(args, names)
	}
	query += ` ORDER BY (value->>'created_at')::timestamptz`

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var out []*domain.OfframpOrder
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var o domain.OfframpOrder
		if err := json.Unmarshal(raw, &o); err != nil {
			return nil, fmt.Errorf("decode order: %w", err)
		}
		out = append(out, &o)
	}
	return out, rows.Err()
}

func (p *Postgres) SaveLock(ctx context.Context, lock domain.RateLock) error {
	return p.save(ctx, KeyRateLock, lock)
}

func (p *Postgres) LoadLock(ctx context.Context) (*domain.RateLock, error) {
	var lock domain.RateLock
	ok, err := p.load(ctx, KeyRateLock, &lock)
	if err != nil || !ok {
		return nil, err
	}
	return &lock, nil
}

func (p *Postgres) SaveAccounts(ctx context.Context, accounts []domain.SavedAccount) error {
	if accounts == nil {
		accounts = []domain.SavedAccount{}
	}
	return p.save(ctx, KeySavedAccounts, accounts)
}

func (p *Postgres) LoadAccounts(ctx context.Context) ([]domain.SavedAccount, error) {
	var accounts []domain.SavedAccount
	if _, err := p.load(ctx, KeySavedAccounts, &accounts); err != nil {
		return nil, err
	}
	return accounts, nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func (p *Postgres) save(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := p.pool.Exec(ctx, upsertStmt, key, data); err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}

func (p *Postgres) load(ctx context.Context, key string, v any) (bool, error) {
	var raw []byte
	err := p.pool.QueryRow(ctx, `SELECT value FROM offramp_kv WHERE key = $1`, key).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func (p *Postgres) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

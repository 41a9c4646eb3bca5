// Package postgres implements ledger.Store on PostgreSQL with pgx.
//
// Transactions run at READ COMMITTED. The conditional increment is a single
// UPDATE whose WHERE clause is re-checked after any row lock wait, and usage
// inserts use ON CONFLICT DO NOTHING so a duplicate key never aborts the
// surrounding transaction.
package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/matzehuels/vectorprint/pkg/ledger"
)

//go:embed schema.sql
var schema string

// Schema returns the DDL applied by Migrate.
func Schema() string { return schema }

// Store is a PostgreSQL-backed ledger.Store.
type Store struct {
	pool *pgxpool.Pool
}

var _ ledger.Store = (*Store)(nil)

// Open connects to dsn and applies the schema.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	s := New(pool)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing pool. The caller owns migrations.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Migrate creates the ledger tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// InTx runs fn in a transaction, committing when it returns nil.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx ledger.Tx) error) error {
	t, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer t.Rollback(ctx) //nolint:errcheck // no-op after commit

	if err := fn(ctx, &tx{t}); err != nil {
		return err
	}
	if err := t.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// IssueGrant inserts g.
func (s *Store) IssueGrant(ctx context.Context, g ledger.Grant) (ledger.Grant, error) {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO entitlement_grants (id, owner, user_id, guest_id, product_id, quota, used, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $8)`,
		g.ID, g.Identity.Key(), g.Identity.UserID, g.Identity.GuestID, g.ProductID,
		g.Quota, g.ExpiresAt, g.CreatedAt)
	if err != nil {
		return ledger.Grant{}, fmt.Errorf("insert grant: %w", err)
	}
	g.Used = 0
	return g, nil
}

type tx struct {
	q pgx.Tx
}

const grantColumns = `id, user_id, guest_id, product_id, quota, used, expires_at, created_at`

func (t *tx) FindUsage(ctx context.Context, key string) (*ledger.UsageRecord, error) {
	var (
		rec    ledger.UsageRecord
		extras []byte
	)
	err := t.q.QueryRow(ctx, `
		SELECT id, grant_id, user_id, guest_id, product_id, idempotency_key,
		       format, width, height, extras, created_at
		FROM usage_records WHERE idempotency_key = $1`, key).Scan(
		&rec.ID, &rec.GrantID, &rec.Identity.UserID, &rec.Identity.GuestID, &rec.ProductID,
		&rec.IdempotencyKey, &rec.Format, &rec.Width, &rec.Height, &extras, &rec.CreatedAt)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find usage: %w", err)
	}
	if len(extras) > 0 {
		if err := json.Unmarshal(extras, &rec.Extras); err != nil {
			return nil, fmt.Errorf("decode extras: %w", err)
		}
		if len(rec.Extras) == 0 {
			rec.Extras = nil
		}
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	return &rec, nil
}

func (t *tx) Candidates(ctx context.Context, id ledger.Identity, productID string, now time.Time) ([]ledger.Grant, error) {
	return t.grants(ctx, `
		SELECT `+grantColumns+` FROM entitlement_grants
		WHERE owner = $1 AND product_id = $2 AND used < quota
		  AND (expires_at IS NULL OR expires_at > $3)
		ORDER BY expires_at ASC NULLS LAST, created_at ASC, id ASC`,
		id.Key(), productID, now)
}

func (t *tx) ActiveGrants(ctx context.Context, id ledger.Identity, productID string, now time.Time) ([]ledger.Grant, error) {
	return t.grants(ctx, `
		SELECT `+grantColumns+` FROM entitlement_grants
		WHERE owner = $1 AND product_id = $2
		  AND (expires_at IS NULL OR expires_at > $3)
		ORDER BY created_at ASC, id ASC`,
		id.Key(), productID, now)
}

func (t *tx) grants(ctx context.Context, query string, args ...any) ([]ledger.Grant, error) {
	rows, err := t.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query grants: %w", err)
	}
	defer rows.Close()

	var out []ledger.Grant
	for rows.Next() {
		var g ledger.Grant
		if err := rows.Scan(&g.ID, &g.Identity.UserID, &g.Identity.GuestID, &g.ProductID,
			&g.Quota, &g.Used, &g.ExpiresAt, &g.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan grant: %w", err)
		}
		g.CreatedAt = g.CreatedAt.UTC()
		if g.ExpiresAt != nil {
			e := g.ExpiresAt.UTC()
			g.ExpiresAt = &e
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (t *tx) TryIncrement(ctx context.Context, grantID string, now time.Time) (bool, error) {
	var used int
	err := t.q.QueryRow(ctx, `
		UPDATE entitlement_grants SET used = used + 1
		WHERE id = $1 AND used < quota AND (expires_at IS NULL OR expires_at > $2)
		RETURNING used`, grantID, now).Scan(&used)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("increment grant: %w", err)
	}
	return true, nil
}

func (t *tx) InsertUsage(ctx context.Context, rec *ledger.UsageRecord) error {
	extras := []byte("{}")
	if rec.Extras != nil {
		var err error
		if extras, err = json.Marshal(rec.Extras); err != nil {
			return fmt.Errorf("encode extras: %w", err)
		}
	}
	tag, err := t.q.Exec(ctx, `
		INSERT INTO usage_records (id, grant_id, owner, user_id, guest_id, product_id,
		                           idempotency_key, format, width, height, extras, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (idempotency_key) DO NOTHING`,
		rec.ID, rec.GrantID, rec.Identity.Key(), rec.Identity.UserID, rec.Identity.GuestID, rec.ProductID,
		rec.IdempotencyKey, rec.Format, rec.Width, rec.Height, string(extras), rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert usage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ledger.ErrDuplicateKey
	}
	return nil
}

func (t *tx) Decrement(ctx context.Context, grantID string) error {
	_, err := t.q.Exec(ctx, `UPDATE entitlement_grants SET used = used - 1 WHERE id = $1 AND used > 0`, grantID)
	if err != nil {
		return fmt.Errorf("decrement grant: %w", err)
	}
	return nil
}

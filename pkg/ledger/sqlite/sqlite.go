// Package sqlite implements ledger.Store on SQLite.
//
// Transactions are opened with BEGIN IMMEDIATE, so a consume holds the
// database write lock from its first statement and concurrent consumes
// queue on busy_timeout instead of failing. The conditional increment and
// the unique idempotency key are still enforced in SQL.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/matzehuels/vectorprint/pkg/ledger"
)

//go:embed schema.sql
var schema string

// Store is a SQLite-backed ledger.Store.
type Store struct {
	db *sql.DB
}

var _ ledger.Store = (*Store)(nil)

// Open opens or creates the database at path and applies the schema.
// ":memory:" gives a private in-memory database.
func Open(path string) (*Store, error) {
	memory := path == ":memory:"
	if !memory {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("failed to create ledger directory: %w", err)
		}
	}

	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	db, err := sql.Open("sqlite3", path+sep+"_txlock=immediate&_busy_timeout=10000&_foreign_keys=1")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if memory {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// InTx runs fn inside an immediate transaction and commits when fn
// returns nil.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx ledger.Tx) error) error {
	t, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(ctx, &tx{t}); err != nil {
		_ = t.Rollback()
		return err
	}
	if err := t.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// IssueGrant inserts g.
func (s *Store) IssueGrant(ctx context.Context, g ledger.Grant) (ledger.Grant, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO grants (id, owner, user_id, guest_id, product_id, quota, used, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		g.ID, g.Identity.Key(), g.Identity.UserID, g.Identity.GuestID, g.ProductID,
		g.Quota, nullableTime(g.ExpiresAt), g.CreatedAt.UnixNano())
	if err != nil {
		return ledger.Grant{}, fmt.Errorf("insert grant: %w", err)
	}
	g.Used = 0
	return g, nil
}

type tx struct {
	q *sql.Tx
}

const grantColumns = `id, user_id, guest_id, product_id, quota, used, expires_at, created_at`

const usageColumns = `id, grant_id, user_id, guest_id, product_id, idempotency_key, format, width, height, extras, created_at`

func (t *tx) FindUsage(ctx context.Context, key string) (*ledger.UsageRecord, error) {
	row := t.q.QueryRowContext(ctx, `SELECT `+usageColumns+` FROM usage_records WHERE idempotency_key = ?`, key)
	var (
		rec     ledger.UsageRecord
		extras  string
		created int64
	)
	err := row.Scan(&rec.ID, &rec.GrantID, &rec.Identity.UserID, &rec.Identity.GuestID, &rec.ProductID,
		&rec.IdempotencyKey, &rec.Format, &rec.Width, &rec.Height, &extras, &created)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find usage: %w", err)
	}
	if extras != "" && extras != "{}" {
		if err := json.Unmarshal([]byte(extras), &rec.Extras); err != nil {
			return nil, fmt.Errorf("decode extras: %w", err)
		}
	}
	rec.CreatedAt = time.Unix(0, created).UTC()
	return &rec, nil
}

func (t *tx) Candidates(ctx context.Context, id ledger.Identity, productID string, now time.Time) ([]ledger.Grant, error) {
	return t.grants(ctx, `
		SELECT `+grantColumns+` FROM grants
		WHERE owner = ? AND product_id = ? AND used < quota
		  AND (expires_at IS NULL OR expires_at > ?)
		ORDER BY expires_at IS NULL, expires_at, created_at, id`,
		id.Key(), productID, now.UnixNano())
}

func (t *tx) ActiveGrants(ctx context.Context, id ledger.Identity, productID string, now time.Time) ([]ledger.Grant, error) {
	return t.grants(ctx, `
		SELECT `+grantColumns+` FROM grants
		WHERE owner = ? AND product_id = ?
		  AND (expires_at IS NULL OR expires_at > ?)
		ORDER BY created_at, id`,
		id.Key(), productID, now.UnixNano())
}

func (t *tx) grants(ctx context.Context, query string, args ...any) ([]ledger.Grant, error) {
	rows, err := t.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query grants: %w", err)
	}
	defer rows.Close()

	var out []ledger.Grant
	for rows.Next() {
		var (
			g       ledger.Grant
			expires sql.NullInt64
			created int64
		)
		if err := rows.Scan(&g.ID, &g.Identity.UserID, &g.Identity.GuestID, &g.ProductID,
			&g.Quota, &g.Used, &expires, &created); err != nil {
			return nil, fmt.Errorf("scan grant: %w", err)
		}
		if expires.Valid {
			e := time.Unix(0, expires.Int64).UTC()
			g.ExpiresAt = &e
		}
		g.CreatedAt = time.Unix(0, created).UTC()
		out = append(out, g)
	}
	return out, rows.Err()
}

func (t *tx) TryIncrement(ctx context.Context, grantID string, now time.Time) (bool, error) {
	res, err := t.q.ExecContext(ctx, `
		UPDATE grants SET used = used + 1
		WHERE id = ? AND used < quota AND (expires_at IS NULL OR expires_at > ?)`,
		grantID, now.UnixNano())
	if err != nil {
		return false, fmt.Errorf("increment grant: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (t *tx) InsertUsage(ctx context.Context, rec *ledger.UsageRecord) error {
	extras, err := json.Marshal(rec.Extras)
	if err != nil {
		return fmt.Errorf("encode extras: %w", err)
	}
	if rec.Extras == nil {
		extras = []byte("{}")
	}
	res, err := t.q.ExecContext(ctx, `
		INSERT INTO usage_records (id, grant_id, owner, user_id, guest_id, product_id,
		                           idempotency_key, format, width, height, extras, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (idempotency_key) DO NOTHING`,
		rec.ID, rec.GrantID, rec.Identity.Key(), rec.Identity.UserID, rec.Identity.GuestID, rec.ProductID,
		rec.IdempotencyKey, rec.Format, rec.Width, rec.Height, string(extras), rec.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("insert usage: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ledger.ErrDuplicateKey
	}
	return nil
}

func (t *tx) Decrement(ctx context.Context, grantID string) error {
	_, err := t.q.ExecContext(ctx, `UPDATE grants SET used = used - 1 WHERE id = ? AND used > 0`, grantID)
	if err != nil {
		return fmt.Errorf("decrement grant: %w", err)
	}
	return nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}

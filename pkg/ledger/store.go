package ledger

import (
	"context"
	stderrors "errors"
	"time"
)

// ErrDuplicateKey is returned by Tx.InsertUsage when a record with the same
// idempotency key already exists.
var ErrDuplicateKey = stderrors.New("ledger: duplicate idempotency key")

// Store is the persistent side of the ledger. Atomicity comes from the
// store: TryIncrement must be a single conditional write and InsertUsage
// must be guarded by a unique constraint on the idempotency key.
type Store interface {
	// InTx runs fn as one logical transaction. Stores without
	// multi-statement transactions may run fn directly; the ledger
	// compensates for partial effects itself.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// IssueGrant persists a new grant and returns it as stored.
	IssueGrant(ctx context.Context, g Grant) (Grant, error)

	Close() error
}

// Tx is the set of primitives the consume algorithm is written against.
type Tx interface {
	// FindUsage returns the record for key, or nil when none exists.
	FindUsage(ctx context.Context, key string) (*UsageRecord, error)

	// Candidates returns active grants with used < quota, ordered as by
	// SortCandidates.
	Candidates(ctx context.Context, id Identity, productID string, now time.Time) ([]Grant, error)

	// TryIncrement adds one use to the grant if, at the moment of the
	// write, it is still active and below quota. It reports whether the
	// increment took effect.
	TryIncrement(ctx context.Context, grantID string, now time.Time) (bool, error)

	// InsertUsage creates rec, or returns ErrDuplicateKey.
	InsertUsage(ctx context.Context, rec *UsageRecord) error

	// Decrement undoes one TryIncrement.
	Decrement(ctx context.Context, grantID string) error

	// ActiveGrants returns every active grant regardless of remaining
	// credits.
	ActiveGrants(ctx context.Context, id Identity, productID string, now time.Time) ([]Grant, error)
}

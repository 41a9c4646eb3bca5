// Package ledger meters exports against time-bounded entitlement grants.
//
// A Grant gives an identity a quota of exports for one product, optionally
// until an expiry. Every successful export consumes one credit and leaves an
// append-only UsageRecord keyed by a caller-chosen idempotency key:
//
//	l := ledger.New(store, logger)
//	out, err := l.ConsumeOne(ctx, ledger.ConsumeRequest{
//	    Identity:       ledger.Identity{UserID: "u1"},
//	    ProductID:      "poster",
//	    IdempotencyKey: key,
//	})
//
// ConsumeOne is written against the Store and Tx interfaces. Correctness
// under concurrency, across goroutines and processes, rests on two store
// primitives: a conditional increment that only succeeds while the grant is
// active and below quota, and a unique constraint on the idempotency key.
// When the usage insert fails after a successful increment, the increment is
// undone on the same grant before returning.
//
// Credits are spent soonest-expiring first, then from the oldest grant.
//
// Store implementations live in subpackages: memory (tests and local use),
// sqlite, postgres and mongo.
package ledger

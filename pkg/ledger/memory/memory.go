// Package memory provides an in-process ledger store.
//
// Each primitive is atomic under a mutex, but InTx does not hold the lock
// across the whole callback, so the store behaves like a document database
// with single-record atomicity. It is meant for tests and local use; state
// is lost when the process exits.
package memory

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/matzehuels/vectorprint/pkg/ledger"
)

// Store is an in-memory ledger.Store.
type Store struct {
	mu     sync.Mutex
	grants map[string]*ledger.Grant
	usage  map[string]ledger.UsageRecord
}

var (
	_ ledger.Store = (*Store)(nil)
	_ ledger.Tx    = (*Store)(nil)
)

// New creates an empty store.
func New() *Store {
	return &Store{
		grants: make(map[string]*ledger.Grant),
		usage:  make(map[string]ledger.UsageRecord),
	}
}

// InTx runs fn against the store directly.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx ledger.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx, s)
}

// IssueGrant stores a copy of g.
func (s *Store) IssueGrant(_ context.Context, g ledger.Grant) (ledger.Grant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g = cloneGrant(g)
	s.grants[g.ID] = &g
	return cloneGrant(g), nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

// FindUsage implements ledger.Tx.
func (s *Store) FindUsage(_ context.Context, key string) (*ledger.UsageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.usage[key]
	if !ok {
		return nil, nil
	}
	rec.Extras = maps.Clone(rec.Extras)
	return &rec, nil
}

// Candidates implements ledger.Tx.
func (s *Store) Candidates(_ context.Context, id ledger.Identity, productID string, now time.Time) ([]ledger.Grant, error) {
	out := s.matching(id, productID, now, true)
	ledger.SortCandidates(out)
	return out, nil
}

// ActiveGrants implements ledger.Tx.
func (s *Store) ActiveGrants(_ context.Context, id ledger.Identity, productID string, now time.Time) ([]ledger.Grant, error) {
	return s.matching(id, productID, now, false), nil
}

func (s *Store) matching(id ledger.Identity, productID string, now time.Time, withCredits bool) []ledger.Grant {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := id.Key()
	var out []ledger.Grant
	for _, g := range s.grants {
		if g.Identity.Key() != key || g.ProductID != productID || !g.Active(now) {
			continue
		}
		if withCredits && g.Used >= g.Quota {
			continue
		}
		out = append(out, cloneGrant(*g))
	}
	return out
}

// TryIncrement implements ledger.Tx.
func (s *Store) TryIncrement(_ context.Context, grantID string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.grants[grantID]
	if !ok || !g.Active(now) || g.Used >= g.Quota {
		return false, nil
	}
	g.Used++
	return true, nil
}

// InsertUsage implements ledger.Tx.
func (s *Store) InsertUsage(_ context.Context, rec *ledger.UsageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.usage[rec.IdempotencyKey]; ok {
		return ledger.ErrDuplicateKey
	}
	cp := *rec
	cp.Extras = maps.Clone(rec.Extras)
	s.usage[rec.IdempotencyKey] = cp
	return nil
}

// Decrement implements ledger.Tx.
func (s *Store) Decrement(_ context.Context, grantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if g, ok := s.grants[grantID]; ok && g.Used > 0 {
		g.Used--
	}
	return nil
}

// Grant returns a snapshot of one grant.
func (s *Store) Grant(id string) (ledger.Grant, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.grants[id]
	if !ok {
		return ledger.Grant{}, false
	}
	return cloneGrant(*g), true
}

// UsageCount returns the number of usage records.
func (s *Store) UsageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.usage)
}

func cloneGrant(g ledger.Grant) ledger.Grant {
	if g.ExpiresAt != nil {
		t := *g.ExpiresAt
		g.ExpiresAt = &t
	}
	return g
}

// Package ledgertest provides a conformance suite for ledger.Store
// implementations. Each store package runs it from its own tests:
//
//	func TestStore(t *testing.T) {
//	    ledgertest.Run(t, func(t *testing.T) ledger.Store { return memory.New() })
//	}
package ledgertest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matzehuels/vectorprint/pkg/errors"
	"github.com/matzehuels/vectorprint/pkg/ledger"
)

// Now is the fixed clock used by the suite. Whole seconds keep stores with
// millisecond precision exact.
var Now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

const product = "poster"

var alice = ledger.Identity{UserID: "alice"}

// NewStore returns a fresh, empty store for one subtest.
type NewStore func(t *testing.T) ledger.Store

// Run executes the suite.
func Run(t *testing.T, newStore NewStore) {
	tests := []struct {
		name string
		fn   func(t *testing.T, l *ledger.Ledger)
	}{
		{"Consume", testConsume},
		{"Idempotent", testIdempotent},
		{"DeniedNoEntitlement", testDeniedNoEntitlement},
		{"DeniedNoCredits", testDeniedNoCredits},
		{"ExpiredExcluded", testExpiredExcluded},
		{"SoonestExpiringFirst", testSoonestExpiringFirst},
		{"OldestFirstOnTie", testOldestFirstOnTie},
		{"SpillsToNextGrant", testSpillsToNextGrant},
		{"ConcurrentDistinctKeys", testConcurrentDistinctKeys},
		{"ConcurrentSameKey", testConcurrentSameKey},
		{"UserPreferredOverGuest", testUserPreferredOverGuest},
		{"SummaryIgnoresOtherOwners", testSummaryIgnoresOtherOwners},
		{"KeyBoundToExport", testKeyBoundToExport},
		{"ZeroQuotaGrant", testZeroQuotaGrant},
		{"InvalidInput", testInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Registered first so it runs after any cleanup newStore adds.
			var store ledger.Store
			t.Cleanup(func() {
				if store != nil {
					_ = store.Close()
				}
			})
			store = newStore(t)
			l := ledger.New(store, nil)
			l.Now = func() time.Time { return Now }
			tt.fn(t, l)
		})
	}
}

// Issue creates a grant with the given quota, expiry offset from Now (0 for
// none) and creation offset from Now.
func Issue(t *testing.T, l *ledger.Ledger, id ledger.Identity, quota int, expiresIn, createdAgo time.Duration) ledger.Grant {
	t.Helper()
	g := ledger.Grant{
		Identity:  id,
		ProductID: product,
		Quota:     quota,
		CreatedAt: Now.Add(-createdAgo),
	}
	if expiresIn != 0 {
		e := Now.Add(expiresIn)
		g.ExpiresAt = &e
	}
	out, err := l.IssueGrant(context.Background(), g)
	require.NoError(t, err)
	return out
}

func consume(t *testing.T, l *ledger.Ledger, id ledger.Identity, key string) ledger.Outcome {
	t.Helper()
	out, err := l.ConsumeOne(context.Background(), ledger.ConsumeRequest{
		Identity:       id,
		ProductID:      product,
		IdempotencyKey: key,
		Format:         "png",
		Width:          512,
		Height:         512,
	})
	require.NoError(t, err)
	return out
}

func summary(t *testing.T, l *ledger.Ledger, id ledger.Identity) ledger.Summary {
	t.Helper()
	s, err := l.Summarize(context.Background(), id, product)
	require.NoError(t, err)
	return s
}

func testConsume(t *testing.T, l *ledger.Ledger) {
	g := Issue(t, l, alice, 2, 0, time.Hour)

	out := consume(t, l, alice, "k1")
	assert.Equal(t, ledger.StatusConsumed, out.Status)
	require.NotNil(t, out.Record)
	assert.Equal(t, g.ID, out.Record.GrantID)
	assert.Equal(t, "k1", out.Record.IdempotencyKey)
	assert.Equal(t, 512, out.Record.Width)

	assert.Equal(t, ledger.Summary{Quota: 2, Used: 1, Remaining: 1}, summary(t, l, alice))
}

func testIdempotent(t *testing.T, l *ledger.Ledger) {
	Issue(t, l, alice, 5, 0, time.Hour)

	first := consume(t, l, alice, "retry-me")
	require.Equal(t, ledger.StatusConsumed, first.Status)

	second := consume(t, l, alice, "retry-me")
	assert.Equal(t, ledger.StatusAlreadyConsumed, second.Status)
	require.NotNil(t, second.Record)
	assert.Equal(t, first.Record.ID, second.Record.ID)

	assert.Equal(t, 1, summary(t, l, alice).Used)
}

func testDeniedNoEntitlement(t *testing.T, l *ledger.Ledger) {
	out := consume(t, l, alice, "k1")
	assert.Equal(t, ledger.StatusDenied, out.Status)
	assert.Equal(t, ledger.ReasonNoEntitlement, out.Reason)
	assert.Nil(t, out.Record)
}

func testDeniedNoCredits(t *testing.T, l *ledger.Ledger) {
	Issue(t, l, alice, 1, 0, time.Hour)
	require.Equal(t, ledger.StatusConsumed, consume(t, l, alice, "k1").Status)

	out := consume(t, l, alice, "k2")
	assert.Equal(t, ledger.StatusDenied, out.Status)
	assert.Equal(t, ledger.ReasonNoCredits, out.Reason)
	assert.Equal(t, ledger.Summary{Quota: 1, Used: 1, Remaining: 0}, summary(t, l, alice))

	// A denied key stays usable once credits exist.
	Issue(t, l, alice, 1, 0, time.Minute)
	assert.Equal(t, ledger.StatusConsumed, consume(t, l, alice, "k2").Status)
}

func testExpiredExcluded(t *testing.T, l *ledger.Ledger) {
	Issue(t, l, alice, 10, -time.Second, 2*time.Hour)

	assert.Equal(t, ledger.Summary{}, summary(t, l, alice))
	out := consume(t, l, alice, "k1")
	assert.Equal(t, ledger.StatusDenied, out.Status)
	assert.Equal(t, ledger.ReasonNoEntitlement, out.Reason)
}

func testSoonestExpiringFirst(t *testing.T, l *ledger.Ledger) {
	never := Issue(t, l, alice, 1, 0, 3*time.Hour)
	later := Issue(t, l, alice, 1, 2*time.Hour, time.Hour)
	sooner := Issue(t, l, alice, 1, time.Hour, 30*time.Minute)

	var got []string
	for i := range 3 {
		out := consume(t, l, alice, fmt.Sprintf("k%d", i))
		require.Equal(t, ledger.StatusConsumed, out.Status)
		got = append(got, out.Record.GrantID)
	}
	assert.Equal(t, []string{sooner.ID, later.ID, never.ID}, got)
}

func testOldestFirstOnTie(t *testing.T, l *ledger.Ledger) {
	newer := Issue(t, l, alice, 1, time.Hour, time.Minute)
	older := Issue(t, l, alice, 1, time.Hour, time.Hour)

	first := consume(t, l, alice, "k1")
	second := consume(t, l, alice, "k2")
	assert.Equal(t, older.ID, first.Record.GrantID)
	assert.Equal(t, newer.ID, second.Record.GrantID)
}

func testSpillsToNextGrant(t *testing.T, l *ledger.Ledger) {
	a := Issue(t, l, alice, 1, time.Hour, time.Hour)
	b := Issue(t, l, alice, 2, 2*time.Hour, time.Hour)

	grants := map[string]int{}
	for i := range 3 {
		out := consume(t, l, alice, fmt.Sprintf("k%d", i))
		require.Equal(t, ledger.StatusConsumed, out.Status)
		grants[out.Record.GrantID]++
	}
	assert.Equal(t, map[string]int{a.ID: 1, b.ID: 2}, grants)
	assert.Equal(t, ledger.Summary{Quota: 3, Used: 3, Remaining: 0}, summary(t, l, alice))
}

func testConcurrentDistinctKeys(t *testing.T, l *ledger.Ledger) {
	const quota, callers = 5, 20
	Issue(t, l, alice, 3, time.Hour, time.Hour)
	Issue(t, l, alice, quota-3, 0, time.Hour)

	outcomes := runConcurrently(t, callers, func(i int) (ledger.Outcome, error) {
		return l.ConsumeOne(context.Background(), ledger.ConsumeRequest{
			Identity:       alice,
			ProductID:      product,
			IdempotencyKey: fmt.Sprintf("key-%d", i),
		})
	})

	counts := map[ledger.Status]int{}
	for _, out := range outcomes {
		counts[out.Status]++
		if out.Status == ledger.StatusDenied {
			assert.Equal(t, ledger.ReasonNoCredits, out.Reason)
		}
	}
	assert.Equal(t, quota, counts[ledger.StatusConsumed])
	assert.Equal(t, callers-quota, counts[ledger.StatusDenied])
	assert.Equal(t, ledger.Summary{Quota: quota, Used: quota, Remaining: 0}, summary(t, l, alice))
}

func testConcurrentSameKey(t *testing.T, l *ledger.Ledger) {
	const callers = 10
	Issue(t, l, alice, 5, 0, time.Hour)

	outcomes := runConcurrently(t, callers, func(int) (ledger.Outcome, error) {
		return l.ConsumeOne(context.Background(), ledger.ConsumeRequest{
			Identity:       alice,
			ProductID:      product,
			IdempotencyKey: "shared",
		})
	})

	counts := map[ledger.Status]int{}
	for _, out := range outcomes {
		counts[out.Status]++
	}
	assert.Equal(t, 1, counts[ledger.StatusConsumed])
	assert.Equal(t, callers-1, counts[ledger.StatusAlreadyConsumed])
	assert.Equal(t, 1, summary(t, l, alice).Used)
}

func testUserPreferredOverGuest(t *testing.T, l *ledger.Ledger) {
	guest := ledger.Identity{GuestID: "g-1"}
	Issue(t, l, guest, 1, 0, time.Hour)
	userGrant := Issue(t, l, alice, 1, 0, time.Hour)

	both := ledger.Identity{UserID: alice.UserID, GuestID: guest.GuestID}
	out := consume(t, l, both, "k1")
	require.Equal(t, ledger.StatusConsumed, out.Status)
	assert.Equal(t, userGrant.ID, out.Record.GrantID)
	assert.Equal(t, alice, out.Record.Identity)

	assert.Equal(t, 0, summary(t, l, guest).Used)
}

func testSummaryIgnoresOtherOwners(t *testing.T, l *ledger.Ledger) {
	Issue(t, l, alice, 4, 0, time.Hour)
	Issue(t, l, ledger.Identity{UserID: "bob"}, 7, 0, time.Hour)
	_, err := l.IssueGrant(context.Background(), ledger.Grant{
		Identity: alice, ProductID: "other", Quota: 9, CreatedAt: Now,
	})
	require.NoError(t, err)

	assert.Equal(t, ledger.Summary{Quota: 4, Used: 0, Remaining: 4}, summary(t, l, alice))
}

func testInvalidInput(t *testing.T, l *ledger.Ledger) {
	ctx := context.Background()
	_, err := l.ConsumeOne(ctx, ledger.ConsumeRequest{ProductID: product, IdempotencyKey: "k"})
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput), "empty identity: %v", err)

	_, err = l.ConsumeOne(ctx, ledger.ConsumeRequest{Identity: alice, ProductID: product})
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput), "empty key: %v", err)

	_, err = l.Summarize(ctx, alice, "")
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput), "empty product: %v", err)

	_, err = l.IssueGrant(ctx, ledger.Grant{Identity: alice, ProductID: product, Quota: -1})
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput), "negative quota: %v", err)
}

func testKeyBoundToExport(t *testing.T, l *ledger.Ledger) {
	ctx := context.Background()
	Issue(t, l, alice, 1, 0, time.Hour)
	require.Equal(t, ledger.StatusConsumed, consume(t, l, alice, "spent").Status)

	// Another identity without grants cannot replay the key.
	mallory := ledger.Identity{UserID: "mallory"}
	_, err := l.ConsumeOne(ctx, ledger.ConsumeRequest{
		Identity: mallory, ProductID: product, IdempotencyKey: "spent",
	})
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput), "other identity: %v", err)
	assert.False(t, errors.IsRetryable(err))

	// Nor can the owner use it for another product.
	_, err = l.ConsumeOne(ctx, ledger.ConsumeRequest{
		Identity: alice, ProductID: "other", IdempotencyKey: "spent",
	})
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput), "other product: %v", err)

	assert.Equal(t, ledger.Summary{Quota: 1, Used: 1, Remaining: 0}, summary(t, l, alice))
	assert.Equal(t, ledger.StatusAlreadyConsumed, consume(t, l, alice, "spent").Status)
}

func testZeroQuotaGrant(t *testing.T, l *ledger.Ledger) {
	g := Issue(t, l, alice, 0, 0, time.Hour)
	assert.Equal(t, 0, g.Quota)
	assert.Equal(t, ledger.Summary{}, summary(t, l, alice))

	out := consume(t, l, alice, "k1")
	assert.Equal(t, ledger.StatusDenied, out.Status)
	assert.Equal(t, ledger.ReasonNoCredits, out.Reason)
}

func runConcurrently(t *testing.T, n int, fn func(i int) (ledger.Outcome, error)) []ledger.Outcome {
	t.Helper()
	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		outs  = make([]ledger.Outcome, n)
		errs  = make([]error, n)
	)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			outs[i], errs[i] = fn(i)
		}()
	}
	close(start)
	wg.Wait()
	for i, err := range errs {
		require.NoError(t, err, "caller %d", i)
	}
	return outs
}

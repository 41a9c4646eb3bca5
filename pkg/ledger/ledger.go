package ledger

import (
	"context"
	stderrors "errors"
	"io"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/matzehuels/vectorprint/pkg/errors"
	"github.com/matzehuels/vectorprint/pkg/observability"
)

// undoTimeout bounds the compensating decrement, which runs detached from
// the caller's context.
const undoTimeout = 5 * time.Second

// Ledger meters exports against entitlement grants.
//
// The Ledger holds no mutable state of its own; every guarantee comes from
// the Store. Multiple goroutines and processes may share one Store.
type Ledger struct {
	Store  Store
	Logger *log.Logger

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time

	// NewID generates record and grant IDs. Defaults to uuid.NewString.
	NewID func() string
}

// New creates a ledger over store. A nil logger discards output.
func New(store Store, logger *log.Logger) *Ledger {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Ledger{
		Store:  store,
		Logger: logger,
		Now:    time.Now,
		NewID:  uuid.NewString,
	}
}

// Summarize totals quota and used credits across the active grants of
// identity for productID. It has no side effects.
func (l *Ledger) Summarize(ctx context.Context, identity Identity, productID string) (Summary, error) {
	id, err := validateOwner(identity, productID)
	if err != nil {
		return Summary{}, err
	}
	now := l.now()

	var sum Summary
	err = l.Store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		grants, err := tx.ActiveGrants(ctx, id, productID, now)
		if err != nil {
			return err
		}
		sum = Summary{}
		for _, g := range grants {
			sum.Quota += g.Quota
			sum.Used += g.Used
		}
		sum.Remaining = max(0, sum.Quota-sum.Used)
		return nil
	})
	if err != nil {
		return Summary{}, errors.Transaction(err, "summarize %s", productID)
	}
	return sum, nil
}

// ConsumeOne meters one export. Exactly one usage record is ever created per
// idempotency key, and each Consumed outcome adds exactly one use across the
// identity's grants. Replays of a key return AlreadyConsumed without
// touching any grant.
//
// Denied outcomes are not errors. Store failures are returned as retryable
// TRANSACTION_ERROR errors and leave no partial effect, so the same key can
// be retried safely.
func (l *Ledger) ConsumeOne(ctx context.Context, req ConsumeRequest) (Outcome, error) {
	start := time.Now()
	out, err := l.consume(ctx, req)
	observability.Ledger().OnConsume(ctx, req.ProductID, string(out.Status), string(out.Reason), time.Since(start), err)
	return out, err
}

func (l *Ledger) consume(ctx context.Context, req ConsumeRequest) (Outcome, error) {
	id, err := validateOwner(req.Identity, req.ProductID)
	if err != nil {
		return Outcome{}, err
	}
	if err := errors.ValidateIdempotencyKey(req.IdempotencyKey); err != nil {
		return Outcome{}, err
	}
	now := l.now()
	key := req.IdempotencyKey

	var out Outcome
	err = l.Store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		out = Outcome{}

		existing, err := tx.FindUsage(ctx, key)
		if err != nil {
			return err
		}
		if existing != nil {
			if !sameExport(existing, id, req.ProductID) {
				return errKeyReused(key)
			}
			out = Outcome{Status: StatusAlreadyConsumed, Record: existing}
			return nil
		}

		candidates, err := tx.Candidates(ctx, id, req.ProductID, now)
		if err != nil {
			return err
		}
		var grantID string
		for _, g := range candidates {
			ok, err := tx.TryIncrement(ctx, g.ID, now)
			if err != nil {
				return err
			}
			if ok {
				grantID = g.ID
				break
			}
		}
		if grantID == "" {
			reason, err := denialReason(ctx, tx, id, req.ProductID, now, len(candidates))
			if err != nil {
				return err
			}
			out = Outcome{Status: StatusDenied, Reason: reason}
			return nil
		}

		rec := &UsageRecord{
			ID:             l.newID(),
			GrantID:        grantID,
			Identity:       id,
			ProductID:      req.ProductID,
			IdempotencyKey: key,
			Format:         req.Format,
			Width:          req.Width,
			Height:         req.Height,
			Extras:         req.Extras,
			CreatedAt:      now,
		}
		insertErr := tx.InsertUsage(ctx, rec)
		if insertErr == nil {
			out = Outcome{Status: StatusConsumed, Record: rec}
			return nil
		}

		// A concurrent call may have won the key between the lookup and the
		// insert. Either way the increment must not stand, even when the
		// caller has gone away.
		undoCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), undoTimeout)
		defer cancel()
		if err := tx.Decrement(undoCtx, grantID); err != nil {
			l.Logger.Error("compensation failed", "grant", grantID, "key", key, "error", err)
			return stderrors.Join(insertErr, err)
		}
		observability.Ledger().OnCompensate(ctx, grantID)
		if !stderrors.Is(insertErr, ErrDuplicateKey) {
			return insertErr
		}
		winner, err := tx.FindUsage(undoCtx, key)
		if err != nil {
			l.Logger.Warn("lookup after duplicate key failed", "key", key, "error", err)
		}
		if winner != nil && !sameExport(winner, id, req.ProductID) {
			return errKeyReused(key)
		}
		out = Outcome{Status: StatusAlreadyConsumed, Record: winner}
		return nil
	})
	if errors.Is(err, errors.ErrCodeInvalidInput) {
		return Outcome{}, err
	}
	if err != nil {
		return Outcome{}, errors.Transaction(err, "consume %s", req.ProductID)
	}

	l.Logger.Debug("metered export",
		"product", req.ProductID,
		"status", out.Status,
		"reason", out.Reason)
	return out, nil
}

// sameExport reports whether rec was written for the same owner and product.
// A key is only replayable by the export that spent it.
func sameExport(rec *UsageRecord, id Identity, productID string) bool {
	return rec.Identity.Key() == id.Key() && rec.ProductID == productID
}

func errKeyReused(key string) error {
	return errors.New(errors.ErrCodeInvalidInput, "idempotency key %q already used for a different export", key)
}

// denialReason picks the reason for a denied consume. An identity with no
// active grant for the product has no_entitlement. One that holds active
// grants whose quota is used up, or whose candidates were all taken by
// concurrent consumes, has no_credits, even though no candidate was left
// to try.
func denialReason(ctx context.Context, tx Tx, id Identity, productID string, now time.Time, candidates int) (Reason, error) {
	if candidates > 0 {
		return ReasonNoCredits, nil
	}
	active, err := tx.ActiveGrants(ctx, id, productID, now)
	if err != nil {
		return "", err
	}
	if len(active) == 0 {
		return ReasonNoEntitlement, nil
	}
	return ReasonNoCredits, nil
}

// IssueGrant records a new grant, typically after purchase fulfillment.
// ID and CreatedAt are filled in when empty; Used always starts at zero.
func (l *Ledger) IssueGrant(ctx context.Context, g Grant) (Grant, error) {
	id, err := validateOwner(g.Identity, g.ProductID)
	if err != nil {
		return Grant{}, err
	}
	if g.Quota < 0 {
		return Grant{}, errors.New(errors.ErrCodeInvalidInput, "quota must not be negative, got %d", g.Quota)
	}
	g.Identity = id
	g.Used = 0
	if g.ID == "" {
		g.ID = l.newID()
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = l.now()
	}

	stored, err := l.Store.IssueGrant(ctx, g)
	if err != nil {
		return Grant{}, errors.Transaction(err, "issue grant for %s", g.ProductID)
	}
	observability.Ledger().OnGrantIssued(ctx, stored.ProductID, stored.Quota)
	l.Logger.Info("issued grant", "grant", stored.ID, "product", stored.ProductID, "quota", stored.Quota)
	return stored, nil
}

func (l *Ledger) now() time.Time {
	if l.Now == nil {
		return time.Now().UTC()
	}
	return l.Now().UTC()
}

func (l *Ledger) newID() string {
	if l.NewID == nil {
		return uuid.NewString()
	}
	return l.NewID()
}

func validateOwner(identity Identity, productID string) (Identity, error) {
	id := identity.Normalize()
	if id.IsZero() {
		return Identity{}, errors.New(errors.ErrCodeInvalidInput, "identity is required")
	}
	if err := errors.ValidateProductID(productID); err != nil {
		return Identity{}, err
	}
	return id, nil
}

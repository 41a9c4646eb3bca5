// Package mongo implements ledger.Store on MongoDB.
//
// Every primitive is a single-document operation: the conditional increment
// is an UpdateOne whose filter requires used < quota and an unexpired grant,
// and usage records carry a unique index on the idempotency key. InTx does
// not open a multi-document transaction; the ledger's compensating
// decrement covers the gap between increment and insert.
package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/matzehuels/vectorprint/pkg/ledger"
)

// Collection names.
const (
	GrantsCollection = "entitlement_grants"
	UsageCollection  = "usage_records"
)

// Store is a MongoDB-backed ledger.Store.
type Store struct {
	client *mongo.Client
	grants *mongo.Collection
	usage  *mongo.Collection
}

var (
	_ ledger.Store = (*Store)(nil)
	_ ledger.Tx    = (*Store)(nil)
)

// Open connects to uri, selects database and ensures indexes.
func Open(ctx context.Context, uri, database string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	s := New(client.Database(database))
	s.client = client
	if err := s.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return s, nil
}

// New uses collections of an existing database handle. The caller owns
// the client and the indexes.
func New(db *mongo.Database) *Store {
	return &Store{
		grants: db.Collection(GrantsCollection),
		usage:  db.Collection(UsageCollection),
	}
}

// EnsureIndexes creates the unique idempotency key index and the grant
// lookup index.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.usage.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "idempotency_key", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("create usage index: %w", err)
	}
	_, err = s.grants.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "owner", Value: 1}, {Key: "product_id", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("create grant index: %w", err)
	}
	return nil
}

// Close disconnects the client when the store opened it.
func (s *Store) Close() error {
	if s.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// InTx runs fn directly against the collections.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx ledger.Tx) error) error {
	return fn(ctx, s)
}

type grantDoc struct {
	ID        string     `bson:"_id"`
	Owner     string     `bson:"owner"`
	UserID    string     `bson:"user_id,omitempty"`
	GuestID   string     `bson:"guest_id,omitempty"`
	ProductID string     `bson:"product_id"`
	Quota     int        `bson:"quota"`
	Used      int        `bson:"used"`
	ExpiresAt *time.Time `bson:"expires_at"`
	CreatedAt time.Time  `bson:"created_at"`
}

func (d grantDoc) grant() ledger.Grant {
	g := ledger.Grant{
		ID:        d.ID,
		Identity:  ledger.Identity{UserID: d.UserID, GuestID: d.GuestID},
		ProductID: d.ProductID,
		Quota:     d.Quota,
		Used:      d.Used,
		CreatedAt: d.CreatedAt.UTC(),
	}
	if d.ExpiresAt != nil {
		e := d.ExpiresAt.UTC()
		g.ExpiresAt = &e
	}
	return g
}

type usageDoc struct {
	ID             string            `bson:"_id"`
	GrantID        string            `bson:"grant_id"`
	Owner          string            `bson:"owner"`
	UserID         string            `bson:"user_id,omitempty"`
	GuestID        string            `bson:"guest_id,omitempty"`
	ProductID      string            `bson:"product_id"`
	IdempotencyKey string            `bson:"idempotency_key"`
	Format         string            `bson:"format,omitempty"`
	Width          int               `bson:"width,omitempty"`
	Height         int               `bson:"height,omitempty"`
	Extras         map[string]string `bson:"extras,omitempty"`
	CreatedAt      time.Time         `bson:"created_at"`
}

// IssueGrant inserts g.
func (s *Store) IssueGrant(ctx context.Context, g ledger.Grant) (ledger.Grant, error) {
	_, err := s.grants.InsertOne(ctx, grantDoc{
		ID:        g.ID,
		Owner:     g.Identity.Key(),
		UserID:    g.Identity.UserID,
		GuestID:   g.Identity.GuestID,
		ProductID: g.ProductID,
		Quota:     g.Quota,
		ExpiresAt: g.ExpiresAt,
		CreatedAt: g.CreatedAt,
	})
	if err != nil {
		return ledger.Grant{}, fmt.Errorf("insert grant: %w", err)
	}
	g.Used = 0
	return g, nil
}

func activeAt(now time.Time) bson.A {
	return bson.A{
		bson.M{"expires_at": nil},
		bson.M{"expires_at": bson.M{"$gt": now}},
	}
}

var belowQuota = bson.M{"$lt": bson.A{"$used", "$quota"}}

// FindUsage implements ledger.Tx.
func (s *Store) FindUsage(ctx context.Context, key string) (*ledger.UsageRecord, error) {
	var d usageDoc
	err := s.usage.FindOne(ctx, bson.M{"idempotency_key": key}).Decode(&d)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find usage: %w", err)
	}
	return &ledger.UsageRecord{
		ID:             d.ID,
		GrantID:        d.GrantID,
		Identity:       ledger.Identity{UserID: d.UserID, GuestID: d.GuestID},
		ProductID:      d.ProductID,
		IdempotencyKey: d.IdempotencyKey,
		Format:         d.Format,
		Width:          d.Width,
		Height:         d.Height,
		Extras:         d.Extras,
		CreatedAt:      d.CreatedAt.UTC(),
	}, nil
}

// Candidates implements ledger.Tx. MongoDB sorts nulls first, so ordering
// happens client side.
func (s *Store) Candidates(ctx context.Context, id ledger.Identity, productID string, now time.Time) ([]ledger.Grant, error) {
	out, err := s.find(ctx, bson.M{
		"owner":      id.Key(),
		"product_id": productID,
		"$or":        activeAt(now),
		"$expr":      belowQuota,
	})
	if err != nil {
		return nil, err
	}
	ledger.SortCandidates(out)
	return out, nil
}

// ActiveGrants implements ledger.Tx.
func (s *Store) ActiveGrants(ctx context.Context, id ledger.Identity, productID string, now time.Time) ([]ledger.Grant, error) {
	return s.find(ctx, bson.M{
		"owner":      id.Key(),
		"product_id": productID,
		"$or":        activeAt(now),
	})
}

func (s *Store) find(ctx context.Context, filter bson.M) ([]ledger.Grant, error) {
	cur, err := s.grants.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("query grants: %w", err)
	}
	var docs []grantDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode grants: %w", err)
	}
	out := make([]ledger.Grant, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.grant())
	}
	return out, nil
}

// TryIncrement implements ledger.Tx.
func (s *Store) TryIncrement(ctx context.Context, grantID string, now time.Time) (bool, error) {
	res, err := s.grants.UpdateOne(ctx,
		bson.M{"_id": grantID, "$or": activeAt(now), "$expr": belowQuota},
		bson.M{"$inc": bson.M{"used": 1}})
	if err != nil {
		return false, fmt.Errorf("increment grant: %w", err)
	}
	return res.ModifiedCount == 1, nil
}

// InsertUsage implements ledger.Tx.
func (s *Store) InsertUsage(ctx context.Context, rec *ledger.UsageRecord) error {
	_, err := s.usage.InsertOne(ctx, usageDoc{
		ID:             rec.ID,
		GrantID:        rec.GrantID,
		Owner:          rec.Identity.Key(),
		UserID:         rec.Identity.UserID,
		GuestID:        rec.Identity.GuestID,
		ProductID:      rec.ProductID,
		IdempotencyKey: rec.IdempotencyKey,
		Format:         rec.Format,
		Width:          rec.Width,
		Height:         rec.Height,
		Extras:         rec.Extras,
		CreatedAt:      rec.CreatedAt,
	})
	if mongo.IsDuplicateKeyError(err) {
		return ledger.ErrDuplicateKey
	}
	if err != nil {
		return fmt.Errorf("insert usage: %w", err)
	}
	return nil
}

// Decrement implements ledger.Tx.
func (s *Store) Decrement(ctx context.Context, grantID string) error {
	_, err := s.grants.UpdateOne(ctx,
		bson.M{"_id": grantID, "used": bson.M{"$gt": 0}},
		bson.M{"$inc": bson.M{"used": -1}})
	if err != nil {
		return fmt.Errorf("decrement grant: %w", err)
	}
	return nil
}

package mongostore

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/seoforge/backend/internal/domain"
	"github.com/seoforge/backend/internal/repository"
)

const (
	// maxAppliedEvents bounds the per-account dedup window. The processor
	// stops redelivering an event long before this many newer events land.
	maxAppliedEvents = 1000

	maxCASAttempts = 32
	casBaseDelay   = time.Millisecond
	casMaxDelay    = 50 * time.Millisecond
)

// AccountStore keeps accounts in a single collection. Mutate is an optimistic
// compare-and-swap on the document version; applied event ids live on the
// account document so the balance change and the dedup record commit together.
type AccountStore struct {
	coll *mongo.Collection
}

var _ repository.AccountStore = (*AccountStore)(nil)

func (s *AccountStore) Create(ctx context.Context, a *domain.Account) error {
	if _, err := s.coll.InsertOne(ctx, toAccountDoc(a)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return repository.ErrDuplicate
		}
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

func (s *AccountStore) FindByID(ctx context.Context, id string) (*domain.Account, error) {
	return s.findOne(ctx, bson.M{"_id": id})
}

func (s *AccountStore) FindByEmail(ctx context.Context, email string) (*domain.Account, error) {
	return s.findOne(ctx, bson.M{"email": email})
}

func (s *AccountStore) List(ctx context.Context) ([]*domain.Account, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}}).
		SetProjection(bson.M{"appliedEvents": 0})
	cursor, err := s.coll.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	var docs []accountDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode accounts: %w", err)
	}

	out := make([]*domain.Account, 0, len(docs))
	for i := range docs {
		out = append(out, docs[i].toDomain())
	}
	return out, nil
}

func (s *AccountStore) UpdateCredentialHash(ctx context.Context, id, hash string) error {
	res, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"credentialHash": hash, "updatedAt": time.Now().UTC()}},
	)
	if err != nil {
		return fmt.Errorf("update credential: %w", err)
	}
	if res.MatchedCount == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (s *AccountStore) Mutate(ctx context.Context, sel repository.Selector, eventID string, fn repository.MutateFunc) (*domain.Account, error) {
	filter, err := selectorFilter(sel)
	if err != nil {
		return nil, err
	}

	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, casBackoff(attempt)); err != nil {
				return nil, err
			}
		}

		var doc accountDoc
		if err := s.coll.FindOne(ctx, filter).Decode(&doc); err != nil {
			if errors.Is(err, mongo.ErrNoDocuments) {
				return nil, repository.ErrNotFound
			}
			return nil, fmt.Errorf("load account: %w", err)
		}
		if eventID != "" && slices.Contains(doc.AppliedEvents, eventID) {
			return nil, repository.ErrEventApplied
		}

		acc := doc.toDomain()
		if err := fn(acc); err != nil {
			return nil, err
		}
		acc.UpdatedAt = time.Now().UTC()

		casFilter := bson.M{"_id": doc.ID, "version": doc.Version}
		update := bson.M{
			"$set": bson.M{
				"balance":      acc.Balance,
				"subscription": toSubscriptionDoc(acc.Subscription),
				"updatedAt":    acc.UpdatedAt,
			},
			"$inc": bson.M{"version": 1},
		}
		if eventID != "" {
			casFilter["appliedEvents"] = bson.M{"$ne": eventID}
			update["$push"] = bson.M{"appliedEvents": bson.M{
				"$each":  bson.A{eventID},
				"$slice": -maxAppliedEvents,
			}}
		}

		res, err := s.coll.UpdateOne(ctx, casFilter, update)
		if err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return nil, repository.ErrDuplicate
			}
			return nil, fmt.Errorf("update account: %w", err)
		}
		if res.MatchedCount == 1 {
			return acc, nil
		}
		// Lost the race; reload and re-check the event id.
	}
	return nil, repository.ErrConflict
}

// casBackoff is a jittered exponential delay before retry attempt n (n >= 1).
func casBackoff(n int) time.Duration {
	d := casBaseDelay << min(n-1, 6)
	if d > casMaxDelay {
		d = casMaxDelay
	}
	return d/2 + rand.N(d/2+1)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (s *AccountStore) SetPaymentCustomerIfAbsent(ctx context.Context, id, ref string) (string, error) {
	res, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": id, "paymentCustomerRef": bson.M{"$exists": false}},
		bson.M{"$set": bson.M{"paymentCustomerRef": ref, "updatedAt": time.Now().UTC()}},
	)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return "", repository.ErrDuplicate
		}
		return "", fmt.Errorf("set customer ref: %w", err)
	}
	if res.ModifiedCount == 1 {
		return ref, nil
	}

	acc, err := s.FindByID(ctx, id)
	if err != nil {
		return "", err
	}
	return acc.PaymentCustomerRef, nil
}

func (s *AccountStore) findOne(ctx context.Context, filter bson.M) (*domain.Account, error) {
	var doc accountDoc
	opts := options.FindOne().SetProjection(bson.M{"appliedEvents": 0})
	if err := s.coll.FindOne(ctx, filter, opts).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("find account: %w", err)
	}
	return doc.toDomain(), nil
}

func selectorFilter(sel repository.Selector) (bson.M, error) {
	switch {
	case sel.AccountID != "":
		return bson.M{"_id": sel.AccountID}, nil
	case sel.CustomerRef != "":
		return bson.M{"paymentCustomerRef": sel.CustomerRef}, nil
	case sel.SubscriptionRef != "":
		return bson.M{"subscription.ref": sel.SubscriptionRef}, nil
	}
	return nil, fmt.Errorf("mongostore: empty selector")
}

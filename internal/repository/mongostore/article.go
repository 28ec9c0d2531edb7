package mongostore

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/seoforge/backend/internal/domain"
	"github.com/seoforge/backend/internal/repository"
)

// ArticleStore keeps generated articles.
type ArticleStore struct {
	coll *mongo.Collection
}

var _ repository.ArticleStore = (*ArticleStore)(nil)

func (s *ArticleStore) Create(ctx context.Context, a *domain.Article) error {
	if _, err := s.coll.InsertOne(ctx, toArticleDoc(a)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return repository.ErrDuplicate
		}
		return fmt.Errorf("insert article: %w", err)
	}
	return nil
}

func (s *ArticleStore) ListByOwner(ctx context.Context, ownerID string) ([]*domain.Article, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}}).
		SetProjection(bson.M{"content": 0})
	cursor, err := s.coll.Find(ctx, bson.M{"ownerId": ownerID}, opts)
	if err != nil {
		return nil, fmt.Errorf("list articles: %w", err)
	}
	var docs []articleDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode articles: %w", err)
	}

	out := make([]*domain.Article, 0, len(docs))
	for i := range docs {
		out = append(out, docs[i].toDomain())
	}
	return out, nil
}

func (s *ArticleStore) FindForOwner(ctx context.Context, ownerID, id string) (*domain.Article, error) {
	return s.findOne(ctx, bson.M{"_id": id, "ownerId": ownerID})
}

func (s *ArticleStore) FindByIdempotencyKey(ctx context.Context, ownerID, key string) (*domain.Article, error) {
	return s.findOne(ctx, bson.M{"ownerId": ownerID, "idempotencyKey": key})
}

func (s *ArticleStore) findOne(ctx context.Context, filter bson.M) (*domain.Article, error) {
	var doc articleDoc
	if err := s.coll.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("find article: %w", err)
	}
	return doc.toDomain(), nil
}

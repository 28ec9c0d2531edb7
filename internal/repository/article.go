package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/seoforge/backend/internal/domain"
)

// ArticleRepository is the PostgreSQL ArticleStore.
type ArticleRepository struct {
	db *pgxpool.Pool
}

var _ ArticleStore = (*ArticleRepository)(nil)

// NewArticleRepository creates a new ArticleRepository.
func NewArticleRepository(db *pgxpool.Pool) *ArticleRepository {
	return &ArticleRepository{db: db}
}

// Create inserts a new article.
func (r *ArticleRepository) Create(ctx context.Context, a *domain.Article) error {
	query := `
		INSERT INTO articles (id, owner_id, title, content, source_url, idempotency_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.Exec(ctx, query,
		a.ID, a.OwnerID, a.Title, a.Content, a.SourceURL, nullString(a.IdempotencyKey), a.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to create article: %w", err)
	}
	return nil
}

// ListByOwner returns article summaries, newest first.
func (r *ArticleRepository) ListByOwner(ctx context.Context, ownerID string) ([]*domain.Article, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, owner_id, title, source_url, created_at
		FROM articles WHERE owner_id = $1 ORDER BY created_at DESC
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list articles: %w", err)
	}
	defer rows.Close()

	articles := []*domain.Article{}
	for rows.Next() {
		var a domain.Article
		if err := rows.Scan(&a.ID, &a.OwnerID, &a.Title, &a.SourceURL, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan article: %w", err)
		}
		articles = append(articles, &a)
	}
	return articles, rows.Err()
}

// FindForOwner returns an article only if it belongs to ownerID.
func (r *ArticleRepository) FindForOwner(ctx context.Context, ownerID, id string) (*domain.Article, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, owner_id, title, content, source_url, COALESCE(idempotency_key, ''), created_at
		FROM articles WHERE id = $1 AND owner_id = $2
	`, id, ownerID)
	return scanArticle(row)
}

// FindByIdempotencyKey returns the article a previous request with the same key produced.
func (r *ArticleRepository) FindByIdempotencyKey(ctx context.Context, ownerID, key string) (*domain.Article, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, owner_id, title, content, source_url, COALESCE(idempotency_key, ''), created_at
		FROM articles WHERE owner_id = $1 AND idempotency_key = $2
	`, ownerID, key)
	return scanArticle(row)
}

func scanArticle(row pgx.Row) (*domain.Article, error) {
	var a domain.Article
	err := row.Scan(&a.ID, &a.OwnerID, &a.Title, &a.Content, &a.SourceURL, &a.IdempotencyKey, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan article: %w", err)
	}
	return &a, nil
}

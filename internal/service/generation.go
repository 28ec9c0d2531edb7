package service

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/seoforge/backend/internal/domain"
	"github.com/seoforge/backend/internal/ledger"
	"github.com/seoforge/backend/internal/repository"
	"github.com/seoforge/backend/pkg/llm"
)

// ErrBillingInconsistency marks a debit that could not be compensated after a
// failed generation. The account needs manual reconciliation.
var ErrBillingInconsistency = errors.New("billing inconsistency")

const (
	defaultArticleTitle = "Generated article"
	maxFilenameRunes    = 120
)

// HeadingExtractor fetches a page and returns its heading outline.
type HeadingExtractor interface {
	Extract(ctx context.Context, url string) (*domain.HeadingTree, error)
}

// GenerationService runs extract, generate and persist around a ledger
// reservation. The unit is taken before any upstream call and given back if
// the article is not stored.
type GenerationService struct {
	ledger    *ledger.Engine
	articles  repository.ArticleStore
	extractor HeadingExtractor
	generator llm.Generator

	inflight singleflight.Group
}

func NewGenerationService(engine *ledger.Engine, articles repository.ArticleStore, extractor HeadingExtractor, generator llm.Generator) *GenerationService {
	return &GenerationService{
		ledger:    engine,
		articles:  articles,
		extractor: extractor,
		generator: generator,
	}
}

// Generate produces and stores an article for the account. A non-empty
// idempotencyKey makes retries return the stored article without a second charge.
func (s *GenerationService) Generate(ctx context.Context, accountID string, req *domain.GenerateRequest, idempotencyKey string) (*domain.GenerateResponse, error) {
	hasURL := strings.TrimSpace(req.URL) != ""
	hasManual := req.ManualInput != nil
	switch {
	case !hasURL && !hasManual:
		return nil, domain.ErrBadRequest("url or manualInput is required")
	case hasURL && hasManual:
		return nil, domain.ErrBadRequest("provide either url or manualInput, not both")
	case hasManual && strings.TrimSpace(req.ManualInput.H1) == "":
		return nil, domain.ErrBadRequest("manualInput.h1 is required")
	}

	if idempotencyKey == "" {
		return s.generate(ctx, accountID, req, "")
	}

	v, err, _ := s.inflight.Do(accountID+"\x00"+idempotencyKey, func() (any, error) {
		return s.generate(ctx, accountID, req, idempotencyKey)
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.GenerateResponse), nil
}

func (s *GenerationService) generate(ctx context.Context, accountID string, req *domain.GenerateRequest, idempotencyKey string) (*domain.GenerateResponse, error) {
	if idempotencyKey != "" {
		existing, err := s.articles.FindByIdempotencyKey(ctx, accountID, idempotencyKey)
		if err == nil {
			return s.replay(ctx, accountID, existing)
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, domain.ErrInternal("failed to look up article", err)
		}
	}

	// Fail fast before paying for any upstream call. The reservation below is
	// the authoritative check.
	balance, err := s.ledger.Balance(ctx, accountID)
	if err != nil {
		return nil, ledgerError(err)
	}
	if balance <= 0 {
		return nil, domain.ErrPaymentRequired("insufficient tokens")
	}

	reservationID := uuid.NewString()
	balance, err = s.ledger.ReserveAndConsume(ctx, accountID, reservationID)
	if err != nil {
		return nil, ledgerError(err)
	}

	// The unit is already taken; upstream work and compensation must not be
	// cut short by the client going away.
	work := context.WithoutCancel(ctx)
	logger := log.With().Str("accountID", accountID).Str("reservationID", reservationID).Logger()

	tree, source, err := s.headings(work, req)
	if err != nil {
		logger.Warn().Err(err).Msg("Heading extraction failed")
		return nil, s.abort(work, accountID, reservationID, domain.ErrBadGateway("failed to extract headings from the page", err))
	}

	content, err := s.generator.Generate(work, tree)
	if err != nil {
		logger.Warn().Err(err).Msg("Content generation failed")
		return nil, s.abort(work, accountID, reservationID, domain.ErrBadGateway("content generation failed", err))
	}

	title := articleTitle(tree)
	article := &domain.Article{
		ID:             domain.NewArticleID(),
		OwnerID:        accountID,
		Title:          title,
		Content:        content,
		SourceURL:      source,
		IdempotencyKey: idempotencyKey,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.articles.Create(work, article); err != nil {
		if errors.Is(err, repository.ErrDuplicate) && idempotencyKey != "" {
			// Another instance stored the same request first.
			if abortErr := s.abort(work, accountID, reservationID, nil); abortErr != nil {
				return nil, abortErr
			}
			existing, findErr := s.articles.FindByIdempotencyKey(work, accountID, idempotencyKey)
			if findErr != nil {
				return nil, domain.ErrInternal("failed to load article", findErr)
			}
			return s.replay(work, accountID, existing)
		}
		logger.Error().Err(err).Msg("Failed to persist article")
		return nil, s.abort(work, accountID, reservationID, domain.ErrInternal("failed to save article", err))
	}

	logger.Info().Str("articleID", article.ID).Int64("balance", balance).Msg("Article generated")
	return &domain.GenerateResponse{
		ArticleID: article.ID,
		Content:   content,
		Filename:  Filename(title),
		Tokens:    balance,
	}, nil
}

func (s *GenerationService) headings(ctx context.Context, req *domain.GenerateRequest) (*domain.HeadingTree, string, error) {
	if req.ManualInput != nil {
		in := req.ManualInput
		return &domain.HeadingTree{
			Title: in.H1,
			H1:    in.H1,
			H2s:   nonEmpty(in.H2s),
			H3s:   nonEmpty(in.H3s),
		}, domain.ManualSourceURL, nil
	}
	tree, err := s.extractor.Extract(ctx, req.URL)
	if err != nil {
		return nil, "", err
	}
	return tree, req.URL, nil
}

// abort gives the reserved unit back and returns cause. If the release fails
// the caller gets a billing inconsistency instead.
func (s *GenerationService) abort(ctx context.Context, accountID, reservationID string, cause error) error {
	_, err := s.ledger.Release(ctx, accountID, reservationID)
	if err == nil || errors.Is(err, ledger.ErrAlreadyApplied) {
		return cause
	}
	log.Error().
		Err(err).
		AnErr("cause", cause).
		Str("accountID", accountID).
		Str("reservationID", reservationID).
		Msg("Failed to release reservation, account needs manual reconciliation")
	return domain.ErrInternal("billing inconsistency", errors.Join(ErrBillingInconsistency, err))
}

func (s *GenerationService) replay(ctx context.Context, accountID string, a *domain.Article) (*domain.GenerateResponse, error) {
	balance, err := s.ledger.Balance(ctx, accountID)
	if err != nil {
		return nil, ledgerError(err)
	}
	return &domain.GenerateResponse{
		ArticleID: a.ID,
		Content:   a.Content,
		Filename:  Filename(a.Title),
		Tokens:    balance,
	}, nil
}

// ListArticles returns the caller's article summaries, newest first.
func (s *GenerationService) ListArticles(ctx context.Context, accountID string) ([]*domain.Article, error) {
	articles, err := s.articles.ListByOwner(ctx, accountID)
	if err != nil {
		return nil, domain.ErrInternal("failed to list articles", err)
	}
	return articles, nil
}

// GetArticle returns one of the caller's articles.
func (s *GenerationService) GetArticle(ctx context.Context, accountID, id string) (*domain.Article, error) {
	a, err := s.articles.FindForOwner(ctx, accountID, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.ErrNotFound("article not found")
		}
		return nil, domain.ErrInternal("failed to find article", err)
	}
	return a, nil
}

// Filename derives a download name from an article title.
func Filename(title string) string {
	name := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '-'
		}
		if r < 0x20 {
			return -1
		}
		return r
	}, strings.TrimSpace(title))

	if utf8.RuneCountInString(name) > maxFilenameRunes {
		name = string([]rune(name)[:maxFilenameRunes])
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = "article"
	}
	return name + ".md"
}

func articleTitle(tree *domain.HeadingTree) string {
	if t := strings.TrimSpace(tree.Title); t != "" {
		return t
	}
	if h := strings.TrimSpace(tree.H1); h != "" {
		return h
	}
	return defaultArticleTitle
}

func nonEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// ledgerError maps ledger results onto HTTP-facing errors.
func ledgerError(err error) error {
	switch {
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return domain.ErrPaymentRequired("insufficient tokens")
	case errors.Is(err, ledger.ErrAccountNotFound):
		return domain.ErrNotFound("account not found")
	case errors.Is(err, ledger.ErrAlreadyApplied):
		return domain.ErrConflict("request already applied")
	case errors.Is(err, ledger.ErrInvalidAmount):
		return domain.ErrValidation("invalid amount")
	case errors.Is(err, ledger.ErrInvalidTransition):
		return domain.ErrConflict("invalid subscription state")
	}
	return domain.ErrInternal("ledger operation failed", err)
}

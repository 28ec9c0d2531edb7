package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/seoforge/backend/internal/domain"
	"github.com/seoforge/backend/internal/service"
)

// IdempotencyKeyHeader lets clients retry a generation without a second charge.
const IdempotencyKeyHeader = "Idempotency-Key"

const maxIdempotencyKeyLen = 128

// ArticleHandler handles generation and article endpoints.
type ArticleHandler struct {
	gen *service.GenerationService
}

// NewArticleHandler creates a new ArticleHandler.
func NewArticleHandler(gen *service.GenerationService) *ArticleHandler {
	return &ArticleHandler{gen: gen}
}

// Generate handles POST /api/generate.
func (h *ArticleHandler) Generate(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(r)
	if !ok {
		unauthorized(w)
		return
	}

	key := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
	if len(key) > maxIdempotencyKeyLen {
		Error(w, domain.ErrBadRequest("Idempotency-Key is too long"))
		return
	}

	var req domain.GenerateRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		Error(w, err)
		return
	}

	resp, err := h.gen.Generate(r.Context(), id, &req, key)
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, resp)
}

// List handles GET /api/articles.
func (h *ArticleHandler) List(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(r)
	if !ok {
		unauthorized(w)
		return
	}

	articles, err := h.gen.ListArticles(r.Context(), id)
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, articles)
}

// Get handles GET /api/articles/{id}.
func (h *ArticleHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(r)
	if !ok {
		unauthorized(w)
		return
	}

	article, err := h.gen.GetArticle(r.Context(), id, chi.URLParam(r, "id"))
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, article)
}

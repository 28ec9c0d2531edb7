package domain

import (
	"time"

	"github.com/google/uuid"
)

// ManualSourceURL is stored as the source of articles generated from
// user-supplied headings.
const ManualSourceURL = "Manual Input"

// HeadingTree is the H1/H2/H3 outline that steers content generation.
type HeadingTree struct {
	Title string   `json:"title"`
	H1    string   `json:"h1"`
	H2s   []string `json:"h2s"`
	H3s   []string `json:"h3s"`
}

// Article is a generated document. It is immutable once created.
type Article struct {
	ID             string    `json:"id"`
	OwnerID        string    `json:"ownerId"`
	Title          string    `json:"title"`
	Content        string    `json:"content,omitempty"`
	SourceURL      string    `json:"url"`
	IdempotencyKey string    `json:"-"`
	CreatedAt      time.Time `json:"createdAt"`
}

// NewArticleID generates a new UUID for an article.
func NewArticleID() string {
	return uuid.New().String()
}

// ManualInput carries user-supplied headings instead of a URL.
type ManualInput struct {
	H1  string   `json:"h1" validate:"required,max=300"`
	H2s []string `json:"h2s" validate:"max=50,dive,max=300"`
	H3s []string `json:"h3s" validate:"max=100,dive,max=300"`
}

// GenerateRequest selects exactly one of URL or ManualInput.
type GenerateRequest struct {
	URL         string       `json:"url" validate:"omitempty,url,max=2048"`
	ManualInput *ManualInput `json:"manualInput"`
}

// GenerateResponse mirrors what the front end expects after a generation.
type GenerateResponse struct {
	ArticleID string `json:"articleId"`
	Content   string `json:"content"`
	Filename  string `json:"filename"`
	Tokens    int64  `json:"tokens"`
}

package repository

import (
	"context"
	"errors"

	"github.com/seoforge/backend/internal/domain"
)

// Store errors shared by every backend.
var (
	ErrNotFound     = errors.New("repository: not found")
	ErrDuplicate    = errors.New("repository: duplicate")
	ErrEventApplied = errors.New("repository: event already applied")
	ErrConflict     = errors.New("repository: concurrent update conflict")
)

// Selector identifies exactly one account. Only one field is set.
type Selector struct {
	AccountID       string
	CustomerRef     string
	SubscriptionRef string
}

// ByAccountID selects an account by its internal id.
func ByAccountID(id string) Selector { return Selector{AccountID: id} }

// ByCustomerRef selects an account by its payment processor customer id.
func ByCustomerRef(ref string) Selector { return Selector{CustomerRef: ref} }

// BySubscriptionRef selects an account by its external subscription id.
func BySubscriptionRef(ref string) Selector { return Selector{SubscriptionRef: ref} }

// IsZero reports whether no field is set.
func (s Selector) IsZero() bool {
	return s.AccountID == "" && s.CustomerRef == "" && s.SubscriptionRef == ""
}

func (s Selector) String() string {
	switch {
	case s.AccountID != "":
		return "account:" + s.AccountID
	case s.CustomerRef != "":
		return "customer:" + s.CustomerRef
	case s.SubscriptionRef != "":
		return "subscription:" + s.SubscriptionRef
	}
	return "none"
}

// MutateFunc edits an account in place. Returning an error aborts the update.
type MutateFunc func(acc *domain.Account) error

// AccountStore persists accounts. Mutate is the only path that changes
// balance or subscription fields.
type AccountStore interface {
	Create(ctx context.Context, acc *domain.Account) error
	FindByID(ctx context.Context, id string) (*domain.Account, error)
	FindByEmail(ctx context.Context, email string) (*domain.Account, error)
	List(ctx context.Context) ([]*domain.Account, error)
	UpdateCredentialHash(ctx context.Context, id, hash string) error

	// Mutate loads the account matched by sel and applies fn as one atomic
	// unit. A non-empty eventID is recorded together with the update; if it
	// was recorded before, ErrEventApplied is returned and fn is not called.
	Mutate(ctx context.Context, sel Selector, eventID string, fn MutateFunc) (*domain.Account, error)

	// SetPaymentCustomerIfAbsent stores ref unless the account already has a
	// customer ref, and returns whichever ref is stored afterwards.
	SetPaymentCustomerIfAbsent(ctx context.Context, id, ref string) (string, error)
}

// ArticleStore persists generated articles.
type ArticleStore interface {
	// Create fails with ErrDuplicate when the owner already has an article
	// with the same non-empty idempotency key.
	Create(ctx context.Context, a *domain.Article) error
	// ListByOwner returns summaries (no content), newest first.
	ListByOwner(ctx context.Context, ownerID string) ([]*domain.Article, error)
	FindForOwner(ctx context.Context, ownerID, id string) (*domain.Article, error)
	FindByIdempotencyKey(ctx context.Context, ownerID, key string) (*domain.Article, error)
}

// Pinger reports backend health.
type Pinger interface {
	Ping(ctx context.Context) error
}

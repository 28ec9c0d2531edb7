// Package memstore is an in-process implementation of the repository
// interfaces. It backs the test suites and the "memory" store driver.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/seoforge/backend/internal/domain"
	"github.com/seoforge/backend/internal/repository"
)

// AccountStore keeps accounts and applied ledger events behind one mutex, so
// every Mutate call is serialized.
type AccountStore struct {
	mu sync.RWMutex

	accounts map[string]*domain.Account
	events   map[string]string // event id -> account id
}

var _ repository.AccountStore = (*AccountStore)(nil)

// NewAccountStore creates an empty account store.
func NewAccountStore() *AccountStore {
	return &AccountStore{
		accounts: make(map[string]*domain.Account),
		events:   make(map[string]string),
	}
}

// Ping always succeeds.
func (s *AccountStore) Ping(context.Context) error { return nil }

func (s *AccountStore) Create(_ context.Context, a *domain.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accounts[a.ID]; exists {
		return repository.ErrDuplicate
	}
	for _, existing := range s.accounts {
		if strings.EqualFold(existing.Email, a.Email) {
			return repository.ErrDuplicate
		}
	}
	s.accounts[a.ID] = a.Clone()
	return nil
}

func (s *AccountStore) FindByID(_ context.Context, id string) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if a, ok := s.accounts[id]; ok {
		return a.Clone(), nil
	}
	return nil, repository.ErrNotFound
}

func (s *AccountStore) FindByEmail(_ context.Context, email string) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, a := range s.accounts {
		if strings.EqualFold(a.Email, email) {
			return a.Clone(), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *AccountStore) List(_ context.Context) ([]*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		out = append(out, a.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *AccountStore) UpdateCredentialHash(_ context.Context, id, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[id]
	if !ok {
		return repository.ErrNotFound
	}
	a.CredentialHash = hash
	a.UpdatedAt = time.Now()
	return nil
}

func (s *AccountStore) Mutate(_ context.Context, sel repository.Selector, eventID string, fn repository.MutateFunc) (*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.lookup(sel)
	if current == nil {
		return nil, repository.ErrNotFound
	}
	if eventID != "" {
		if _, applied := s.events[eventID]; applied {
			return nil, repository.ErrEventApplied
		}
	}

	next := current.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	if ref := next.Subscription.ExternalSubscriptionRef; ref != "" {
		for id, other := range s.accounts {
			if id != next.ID && other.Subscription.ExternalSubscriptionRef == ref {
				return nil, repository.ErrDuplicate
			}
		}
	}
	next.UpdatedAt = time.Now()

	s.accounts[next.ID] = next
	if eventID != "" {
		s.events[eventID] = next.ID
	}
	return next.Clone(), nil
}

func (s *AccountStore) SetPaymentCustomerIfAbsent(_ context.Context, id, ref string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[id]
	if !ok {
		return "", repository.ErrNotFound
	}
	if a.PaymentCustomerRef == "" {
		a.PaymentCustomerRef = ref
		a.UpdatedAt = time.Now()
	}
	return a.PaymentCustomerRef, nil
}

// EventApplied reports whether an event id has been recorded.
func (s *AccountStore) EventApplied(eventID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.events[eventID]
	return ok
}

func (s *AccountStore) lookup(sel repository.Selector) *domain.Account {
	switch {
	case sel.AccountID != "":
		return s.accounts[sel.AccountID]
	case sel.CustomerRef != "":
		for _, a := range s.accounts {
			if a.PaymentCustomerRef == sel.CustomerRef {
				return a
			}
		}
	case sel.SubscriptionRef != "":
		for _, a := range s.accounts {
			if a.Subscription.ExternalSubscriptionRef == sel.SubscriptionRef {
				return a
			}
		}
	}
	return nil
}

// ArticleStore keeps articles in memory.
type ArticleStore struct {
	mu       sync.RWMutex
	articles map[string]*domain.Article
}

var _ repository.ArticleStore = (*ArticleStore)(nil)

// NewArticleStore creates an empty article store.
func NewArticleStore() *ArticleStore {
	return &ArticleStore{articles: make(map[string]*domain.Article)}
}

func (s *ArticleStore) Create(_ context.Context, a *domain.Article) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.articles[a.ID]; exists {
		return repository.ErrDuplicate
	}
	if a.IdempotencyKey != "" {
		for _, other := range s.articles {
			if other.OwnerID == a.OwnerID && other.IdempotencyKey == a.IdempotencyKey {
				return repository.ErrDuplicate
			}
		}
	}
	c := *a
	s.articles[a.ID] = &c
	return nil
}

func (s *ArticleStore) ListByOwner(_ context.Context, ownerID string) ([]*domain.Article, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []*domain.Article{}
	for _, a := range s.articles {
		if a.OwnerID != ownerID {
			continue
		}
		summary := *a
		summary.Content = ""
		out = append(out, &summary)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *ArticleStore) FindForOwner(_ context.Context, ownerID, id string) (*domain.Article, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.articles[id]
	if !ok || a.OwnerID != ownerID {
		return nil, repository.ErrNotFound
	}
	c := *a
	return &c, nil
}

func (s *ArticleStore) FindByIdempotencyKey(_ context.Context, ownerID, key string) (*domain.Article, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, a := range s.articles {
		if a.OwnerID == ownerID && a.IdempotencyKey == key {
			c := *a
			return &c, nil
		}
	}
	return nil, repository.ErrNotFound
}

// Len returns the number of stored articles.
func (s *ArticleStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.articles)
}

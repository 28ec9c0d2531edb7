package payment

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// MockGateway is an in-memory Gateway for local development and tests.
// Subscriptions must be seeded with PutSubscription before they can be read.
type MockGateway struct {
	seq atomic.Int64

	mu            sync.Mutex
	subscriptions map[string]*Subscription
	customers     map[string]string // customer ref -> account id
	checkouts     []CheckoutSession

	// Err, when set, is returned by every call.
	Err error
}

var _ Gateway = (*MockGateway)(nil)

func NewMockGateway() *MockGateway {
	return &MockGateway{
		subscriptions: make(map[string]*Subscription),
		customers:     make(map[string]string),
	}
}

func (g *MockGateway) CreateCustomer(_ context.Context, accountID, _ string) (string, error) {
	if g.Err != nil {
		return "", g.Err
	}
	ref := fmt.Sprintf("cus_mock_%d", g.seq.Add(1))
	g.mu.Lock()
	g.customers[ref] = accountID
	g.mu.Unlock()
	return ref, nil
}

func (g *MockGateway) CreateSubscriptionCheckout(_ context.Context, req SubscriptionCheckout) (*CheckoutSession, error) {
	return g.checkout(req.SuccessURL)
}

func (g *MockGateway) CreateTokenCheckout(_ context.Context, req TokenCheckout) (*CheckoutSession, error) {
	return g.checkout(req.SuccessURL)
}

func (g *MockGateway) GetSubscription(_ context.Context, ref string) (*Subscription, error) {
	if g.Err != nil {
		return nil, g.Err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	sub, ok := g.subscriptions[ref]
	if !ok {
		return nil, fmt.Errorf("subscription %s not found", ref)
	}
	cp := *sub
	return &cp, nil
}

func (g *MockGateway) CancelAtPeriodEnd(_ context.Context, ref string) (*Subscription, error) {
	if g.Err != nil {
		return nil, g.Err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	sub, ok := g.subscriptions[ref]
	if !ok {
		return nil, fmt.Errorf("subscription %s not found", ref)
	}
	sub.CancelAtPeriodEnd = true
	cp := *sub
	return &cp, nil
}

func (g *MockGateway) ChangePlan(_ context.Context, ref, priceRef string) (*Subscription, error) {
	if g.Err != nil {
		return nil, g.Err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	sub, ok := g.subscriptions[ref]
	if !ok {
		return nil, fmt.Errorf("subscription %s not found", ref)
	}
	sub.PriceRef = priceRef
	cp := *sub
	return &cp, nil
}

// PutSubscription seeds or replaces a subscription.
func (g *MockGateway) PutSubscription(sub Subscription) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.subscriptions[sub.ID] = &sub
}

// Customers returns how many customers were created.
func (g *MockGateway) Customers() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.customers)
}

// Checkouts returns the sessions created so far.
func (g *MockGateway) Checkouts() []CheckoutSession {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]CheckoutSession, len(g.checkouts))
	copy(out, g.checkouts)
	return out
}

func (g *MockGateway) checkout(successURL string) (*CheckoutSession, error) {
	if g.Err != nil {
		return nil, g.Err
	}
	id := fmt.Sprintf("cs_mock_%d", g.seq.Add(1))
	session := CheckoutSession{ID: id, URL: strings.ReplaceAll(successURL, SessionIDPlaceholder, id)}
	g.mu.Lock()
	g.checkouts = append(g.checkouts, session)
	g.mu.Unlock()
	return &session, nil
}

// MockSubscription returns an active subscription ending after period.
func MockSubscription(ref, priceRef string, period time.Duration) Subscription {
	return Subscription{
		ID:               ref,
		Status:           "active",
		PriceRef:         priceRef,
		CurrentPeriodEnd: time.Now().Add(period).UTC().Truncate(time.Second),
	}
}

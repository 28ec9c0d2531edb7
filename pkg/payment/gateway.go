// Package payment talks to the payment processor: customers, checkout
// sessions, subscriptions and signed webhook events.
package payment

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrInvalidSignature is returned when a webhook payload fails verification.
var ErrInvalidSignature = errors.New("payment: invalid webhook signature")

// Gateway defines the interface for payment providers.
type Gateway interface {
	// CreateCustomer registers a customer for an account and returns its ref.
	CreateCustomer(ctx context.Context, accountID, email string) (string, error)
	// CreateSubscriptionCheckout opens a hosted checkout for a recurring price.
	CreateSubscriptionCheckout(ctx context.Context, req SubscriptionCheckout) (*CheckoutSession, error)
	// CreateTokenCheckout opens a hosted checkout for a one-off token purchase.
	CreateTokenCheckout(ctx context.Context, req TokenCheckout) (*CheckoutSession, error)
	GetSubscription(ctx context.Context, ref string) (*Subscription, error)
	// CancelAtPeriodEnd stops renewal; the processor deletes the subscription
	// when the paid period ends.
	CancelAtPeriodEnd(ctx context.Context, ref string) (*Subscription, error)
	// ChangePlan swaps the subscription's price. The processor prorates the
	// difference on the next invoice.
	ChangePlan(ctx context.Context, ref, priceRef string) (*Subscription, error)
}

// EventVerifier authenticates a raw webhook body against its signature header.
type EventVerifier interface {
	ConstructEvent(payload []byte, signatureHeader string) (*Event, error)
}

// Metadata keys written on checkout sessions and read back from webhooks.
const (
	MetaAccountID = "account_id"
	MetaPlanID    = "plan_id"
	MetaTokens    = "tokens"
	MetaKind      = "kind"
)

// SessionIDPlaceholder is replaced by the processor with the checkout session id
// in success URLs.
const SessionIDPlaceholder = "{CHECKOUT_SESSION_ID}"

// Checkout kinds stored under MetaKind.
const (
	KindSubscription  = "subscription"
	KindTokenPurchase = "token_purchase"
)

// SubscriptionCheckout is the input for a subscription checkout session.
type SubscriptionCheckout struct {
	AccountID   string
	CustomerRef string
	PlanID      string
	PriceRef    string
	SuccessURL  string
	CancelURL   string
}

// TokenCheckout is the input for a one-off token purchase session.
type TokenCheckout struct {
	AccountID      string
	CustomerRef    string
	Quantity       int64
	UnitPriceCents int64
	SuccessURL     string
	CancelURL      string
}

// CheckoutSession is the hosted payment page returned by the processor.
type CheckoutSession struct {
	ID  string
	URL string
}

// Subscription is the processor's view of a recurring subscription.
type Subscription struct {
	ID                string
	Status            string
	PriceRef          string
	CurrentPeriodEnd  time.Time
	CancelAtPeriodEnd bool
}

// Event is a verified webhook event. Data holds the raw event object.
type Event struct {
	ID   string
	Type string
	Data json.RawMessage
}

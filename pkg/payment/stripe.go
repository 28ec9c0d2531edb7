package payment

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"
)

// StripeGateway implements Gateway and EventVerifier on the Stripe API.
type StripeGateway struct {
	sc            *stripe.Client
	webhookSecret string
}

var (
	_ Gateway       = (*StripeGateway)(nil)
	_ EventVerifier = (*StripeGateway)(nil)
)

func NewStripeGateway(secretKey, webhookSecret string) *StripeGateway {
	return &StripeGateway{
		sc:            stripe.NewClient(secretKey),
		webhookSecret: webhookSecret,
	}
}

func (g *StripeGateway) CreateCustomer(ctx context.Context, accountID, email string) (string, error) {
	params := &stripe.CustomerCreateParams{
		Email:    stripe.String(email),
		Metadata: map[string]string{MetaAccountID: accountID},
	}
	cus, err := g.sc.V1Customers.Create(ctx, params)
	if err != nil {
		return "", fmt.Errorf("failed to create customer: %w", err)
	}
	return cus.ID, nil
}

func (g *StripeGateway) CreateSubscriptionCheckout(ctx context.Context, req SubscriptionCheckout) (*CheckoutSession, error) {
	meta := map[string]string{
		MetaAccountID: req.AccountID,
		MetaPlanID:    req.PlanID,
		MetaKind:      KindSubscription,
	}
	params := &stripe.CheckoutSessionCreateParams{
		Customer:          stripe.String(req.CustomerRef),
		ClientReferenceID: stripe.String(req.AccountID),
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionCreateLineItemParams{
			{
				Price:    stripe.String(req.PriceRef),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
		Metadata:   meta,
		SubscriptionData: &stripe.CheckoutSessionCreateSubscriptionDataParams{
			Metadata: meta,
		},
	}
	session, err := g.sc.V1CheckoutSessions.Create(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("failed to create subscription checkout: %w", err)
	}
	return &CheckoutSession{ID: session.ID, URL: session.URL}, nil
}

func (g *StripeGateway) CreateTokenCheckout(ctx context.Context, req TokenCheckout) (*CheckoutSession, error) {
	params := &stripe.CheckoutSessionCreateParams{
		Customer:          stripe.String(req.CustomerRef),
		ClientReferenceID: stripe.String(req.AccountID),
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionCreateLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionCreateLineItemPriceDataParams{
					Currency: stripe.String(string(stripe.CurrencyEUR)),
					ProductData: &stripe.CheckoutSessionCreateLineItemPriceDataProductDataParams{
						Name:        stripe.String("Article tokens"),
						Description: stripe.String(fmt.Sprintf("%d tokens", req.Quantity)),
					},
					UnitAmount: stripe.Int64(req.UnitPriceCents),
				},
				Quantity: stripe.Int64(req.Quantity),
			},
		},
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
		Metadata: map[string]string{
			MetaAccountID: req.AccountID,
			MetaTokens:    strconv.FormatInt(req.Quantity, 10),
			MetaKind:      KindTokenPurchase,
		},
	}
	session, err := g.sc.V1CheckoutSessions.Create(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("failed to create token checkout: %w", err)
	}
	return &CheckoutSession{ID: session.ID, URL: session.URL}, nil
}

func (g *StripeGateway) GetSubscription(ctx context.Context, ref string) (*Subscription, error) {
	sub, err := g.sc.V1Subscriptions.Retrieve(ctx, ref, &stripe.SubscriptionRetrieveParams{})
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve subscription %s: %w", ref, err)
	}
	return toSubscription(sub), nil
}

func (g *StripeGateway) CancelAtPeriodEnd(ctx context.Context, ref string) (*Subscription, error) {
	params := &stripe.SubscriptionUpdateParams{
		CancelAtPeriodEnd: stripe.Bool(true),
	}
	sub, err := g.sc.V1Subscriptions.Update(ctx, ref, params)
	if err != nil {
		return nil, fmt.Errorf("failed to cancel subscription %s: %w", ref, err)
	}
	return toSubscription(sub), nil
}

func (g *StripeGateway) ChangePlan(ctx context.Context, ref, priceRef string) (*Subscription, error) {
	current, err := g.sc.V1Subscriptions.Retrieve(ctx, ref, &stripe.SubscriptionRetrieveParams{})
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve subscription %s: %w", ref, err)
	}
	if current.Items == nil || len(current.Items.Data) == 0 {
		return nil, fmt.Errorf("subscription %s has no items", ref)
	}
	params := &stripe.SubscriptionUpdateParams{
		Items: []*stripe.SubscriptionUpdateItemParams{
			{
				ID:    stripe.String(current.Items.Data[0].ID),
				Price: stripe.String(priceRef),
			},
		},
		ProrationBehavior: stripe.String("create_prorations"),
	}
	sub, err := g.sc.V1Subscriptions.Update(ctx, ref, params)
	if err != nil {
		return nil, fmt.Errorf("failed to change plan of subscription %s: %w", ref, err)
	}
	return toSubscription(sub), nil
}

// ConstructEvent verifies the Stripe-Signature header over the raw body.
// Events from a newer API version are accepted; only the fields read by the
// webhook handlers matter.
func (g *StripeGateway) ConstructEvent(payload []byte, signatureHeader string) (*Event, error) {
	if g.webhookSecret == "" {
		return nil, fmt.Errorf("%w: webhook secret not configured", ErrInvalidSignature)
	}
	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, g.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	out := &Event{ID: event.ID, Type: string(event.Type)}
	if event.Data != nil {
		out.Data = event.Data.Raw
	}
	return out, nil
}

func toSubscription(sub *stripe.Subscription) *Subscription {
	out := &Subscription{
		ID:                sub.ID,
		Status:            string(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		out.CurrentPeriodEnd = time.Unix(item.CurrentPeriodEnd, 0).UTC()
		if item.Price != nil {
			out.PriceRef = item.Price.ID
		}
	}
	return out
}

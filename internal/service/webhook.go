package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/seoforge/backend/internal/domain"
	"github.com/seoforge/backend/internal/ledger"
	"github.com/seoforge/backend/internal/repository"
	"github.com/seoforge/backend/pkg/payment"
)

// Webhook event types handled by the gateway.
const (
	EventCheckoutCompleted   = "checkout.session.completed"
	EventInvoicePaid         = "invoice.paid"
	EventInvoicePaymentFail  = "invoice.payment_failed"
	EventSubscriptionUpdated = "customer.subscription.updated"
	EventSubscriptionDeleted = "customer.subscription.deleted"
)

// Outcome is how a verified webhook event was resolved.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
	// OutcomeRejected means the event cannot apply to any account state and
	// retrying will not change that.
	OutcomeRejected Outcome = "rejected"
)

var (
	// ErrWebhookSignature is returned when the payload is not authentic.
	ErrWebhookSignature = errors.New("webhook: signature verification failed")
	// ErrWebhookPayload is returned when an authentic payload cannot be decoded.
	ErrWebhookPayload = errors.New("webhook: malformed payload")

	errUnknownPlan = errors.New("webhook: unknown plan")
)

// WebhookGateway verifies payment processor events and applies them to the
// ledger. It is the only caller of the ledger's credit and subscription
// operations.
type WebhookGateway struct {
	verifier payment.EventVerifier
	payments payment.Gateway
	ledger   *ledger.Engine
	plans    *domain.PlanCatalog

	tokenUnitPriceCents int64
}

func NewWebhookGateway(verifier payment.EventVerifier, payments payment.Gateway, engine *ledger.Engine, plans *domain.PlanCatalog, tokenUnitPriceCents int64) *WebhookGateway {
	if tokenUnitPriceCents <= 0 {
		tokenUnitPriceCents = 20
	}
	return &WebhookGateway{
		verifier:            verifier,
		payments:            payments,
		ledger:              engine,
		plans:               plans,
		tokenUnitPriceCents: tokenUnitPriceCents,
	}
}

// Handle verifies the raw body against its signature header and dispatches
// the event. A nil error means the sender should get a 2xx.
func (g *WebhookGateway) Handle(ctx context.Context, payload []byte, signature string) (Outcome, error) {
	ev, err := g.verifier.ConstructEvent(payload, signature)
	if err != nil {
		log.Warn().Err(err).Msg("Webhook signature rejected")
		return "", ErrWebhookSignature
	}
	if ev.ID == "" || len(ev.Data) == 0 {
		return "", fmt.Errorf("%w: missing event id or data", ErrWebhookPayload)
	}

	logger := log.With().Str("eventID", ev.ID).Str("type", ev.Type).Logger()

	switch ev.Type {
	case EventCheckoutCompleted:
		err = g.checkoutCompleted(ctx, ev)
	case EventInvoicePaid:
		err = g.invoicePaid(ctx, ev)
	case EventInvoicePaymentFail:
		err = g.invoicePaymentFailed(ctx, ev)
	case EventSubscriptionUpdated:
		err = g.subscriptionUpdated(ctx, ev)
	case EventSubscriptionDeleted:
		err = g.subscriptionDeleted(ctx, ev)
	default:
		logger.Debug().Msg("Webhook event type not handled")
		return OutcomeIgnored, nil
	}

	outcome, err := classify(err)
	switch {
	case err != nil && errors.Is(err, ErrWebhookPayload):
		logger.Warn().Err(err).Msg("Webhook payload rejected")
	case err != nil:
		logger.Error().Err(err).Msg("Webhook processing failed")
	case outcome == OutcomeRejected:
		logger.Warn().Msg("Webhook event does not apply to any account state")
	default:
		logger.Info().Str("outcome", string(outcome)).Msg("Webhook processed")
	}
	return outcome, err
}

// errIgnored lets handlers acknowledge events that need no ledger change.
var errIgnored = errors.New("ignored")

func classify(err error) (Outcome, error) {
	switch {
	case err == nil:
		return OutcomeApplied, nil
	case errors.Is(err, errIgnored):
		return OutcomeIgnored, nil
	case errors.Is(err, ledger.ErrAlreadyApplied):
		return OutcomeDuplicate, nil
	case errors.Is(err, ledger.ErrAccountNotFound),
		errors.Is(err, ledger.ErrInvalidTransition),
		errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, errUnknownPlan):
		return OutcomeRejected, nil
	}
	return "", err
}

type checkoutSession struct {
	ID                string            `json:"id"`
	Mode              string            `json:"mode"`
	PaymentStatus     string            `json:"payment_status"`
	Customer          string            `json:"customer"`
	Subscription      string            `json:"subscription"`
	ClientReferenceID string            `json:"client_reference_id"`
	AmountTotal       int64             `json:"amount_total"`
	Metadata          map[string]string `json:"metadata"`
}

type invoiceEvent struct {
	ID            string `json:"id"`
	Customer      string `json:"customer"`
	Subscription  string `json:"subscription"`
	BillingReason string `json:"billing_reason"`
	Parent        *struct {
		SubscriptionDetails *struct {
			Subscription string `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
	Lines struct {
		Data []invoiceLine `json:"data"`
	} `json:"lines"`
}

type invoiceLine struct {
	Period struct {
		End int64 `json:"end"`
	} `json:"period"`
	Price *struct {
		ID string `json:"id"`
	} `json:"price"`
	Pricing *struct {
		PriceDetails *struct {
			Price string `json:"price"`
		} `json:"price_details"`
	} `json:"pricing"`
}

func (inv *invoiceEvent) subscriptionRef() string {
	if inv.Subscription != "" {
		return inv.Subscription
	}
	if inv.Parent != nil && inv.Parent.SubscriptionDetails != nil {
		return inv.Parent.SubscriptionDetails.Subscription
	}
	return ""
}

func (inv *invoiceEvent) priceRef() string {
	for _, l := range inv.Lines.Data {
		if l.Price != nil && l.Price.ID != "" {
			return l.Price.ID
		}
		if l.Pricing != nil && l.Pricing.PriceDetails != nil && l.Pricing.PriceDetails.Price != "" {
			return l.Pricing.PriceDetails.Price
		}
	}
	return ""
}

func (inv *invoiceEvent) periodEnd() time.Time {
	var end int64
	for _, l := range inv.Lines.Data {
		if l.Period.End > end {
			end = l.Period.End
		}
	}
	if end == 0 {
		return time.Time{}
	}
	return time.Unix(end, 0).UTC()
}

type subscriptionEvent struct {
	ID       string `json:"id"`
	Customer string `json:"customer"`
	Status   string `json:"status"`
	Items    struct {
		Data []struct {
			CurrentPeriodEnd int64 `json:"current_period_end"`
			Price            *struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

func (s *subscriptionEvent) priceRef() string {
	for _, item := range s.Items.Data {
		if item.Price != nil && item.Price.ID != "" {
			return item.Price.ID
		}
	}
	return ""
}

func (s *subscriptionEvent) periodEnd() time.Time {
	for _, item := range s.Items.Data {
		if item.CurrentPeriodEnd > 0 {
			return time.Unix(item.CurrentPeriodEnd, 0).UTC()
		}
	}
	return time.Time{}
}

func (g *WebhookGateway) checkoutCompleted(ctx context.Context, ev *payment.Event) error {
	session, err := parseEventData[checkoutSession](ev)
	if err != nil {
		return err
	}
	if session.PaymentStatus == "unpaid" {
		// Delayed payment methods complete later with a separate event.
		return errIgnored
	}

	sel := checkoutTarget(session)
	switch session.Mode {
	case "payment":
		tokens, err := g.purchasedTokens(session)
		if err != nil {
			return err
		}
		_, err = g.ledger.CreditPurchase(ctx, sel, tokens, ev.ID)
		return err

	case "subscription":
		if session.Subscription == "" {
			return fmt.Errorf("%w: subscription checkout without subscription", ErrWebhookPayload)
		}
		remote, err := g.payments.GetSubscription(ctx, session.Subscription)
		if err != nil {
			return fmt.Errorf("retrieve subscription: %w", err)
		}
		plan, err := g.resolvePlan(session.Metadata[payment.MetaPlanID], remote.PriceRef)
		if err != nil {
			return err
		}
		_, err = g.ledger.ActivateSubscription(ctx, ledger.Activation{
			Account:         sel,
			SubscriptionRef: session.Subscription,
			PlanID:          plan.ID,
			PeriodEnd:       remote.CurrentPeriodEnd,
			Allotment:       plan.TokensPerCycle,
		}, ev.ID)
		return err
	}
	return errIgnored
}

func (g *WebhookGateway) invoicePaid(ctx context.Context, ev *payment.Event) error {
	inv, err := parseEventData[invoiceEvent](ev)
	if err != nil {
		return err
	}
	ref := inv.subscriptionRef()
	if ref == "" || inv.BillingReason == "subscription_create" {
		// First invoices are covered by checkout.session.completed.
		return errIgnored
	}

	priceRef := inv.priceRef()
	periodEnd := inv.periodEnd()
	if priceRef == "" || periodEnd.IsZero() {
		remote, err := g.payments.GetSubscription(ctx, ref)
		if err != nil {
			return fmt.Errorf("retrieve subscription: %w", err)
		}
		if priceRef == "" {
			priceRef = remote.PriceRef
		}
		if periodEnd.IsZero() {
			periodEnd = remote.CurrentPeriodEnd
		}
	}

	plan, err := g.resolvePlan("", priceRef)
	if err != nil {
		return err
	}
	_, err = g.ledger.CreditSubscriptionRenewal(ctx, ledger.Renewal{
		SubscriptionRef: ref,
		PlanID:          plan.ID,
		PeriodEnd:       periodEnd,
		Amount:          plan.TokensPerCycle,
	}, ev.ID)
	return err
}

func (g *WebhookGateway) invoicePaymentFailed(ctx context.Context, ev *payment.Event) error {
	inv, err := parseEventData[invoiceEvent](ev)
	if err != nil {
		return err
	}
	ref := inv.subscriptionRef()
	if ref == "" {
		return errIgnored
	}
	_, err = g.ledger.MarkPastDue(ctx, repository.BySubscriptionRef(ref), ev.ID)
	return err
}

// subscriptionUpdated follows price changes made at the processor, such as
// plan upgrades. Status changes arrive through invoice events instead.
func (g *WebhookGateway) subscriptionUpdated(ctx context.Context, ev *payment.Event) error {
	sub, err := parseEventData[subscriptionEvent](ev)
	if err != nil {
		return err
	}
	if sub.ID == "" {
		return fmt.Errorf("%w: subscription without id", ErrWebhookPayload)
	}
	priceRef := sub.priceRef()
	if priceRef == "" {
		return errIgnored
	}
	plan, err := g.resolvePlan("", priceRef)
	if err != nil {
		return err
	}
	_, err = g.ledger.ChangePlan(ctx, ledger.PlanChange{
		SubscriptionRef: sub.ID,
		PlanID:          plan.ID,
		PeriodEnd:       sub.periodEnd(),
	}, ev.ID)
	return err
}

func (g *WebhookGateway) subscriptionDeleted(ctx context.Context, ev *payment.Event) error {
	sub, err := parseEventData[subscriptionEvent](ev)
	if err != nil {
		return err
	}
	if sub.ID == "" {
		return fmt.Errorf("%w: subscription without id", ErrWebhookPayload)
	}
	_, err = g.ledger.CancelSubscription(ctx, repository.BySubscriptionRef(sub.ID), ev.ID)
	return err
}

func (g *WebhookGateway) purchasedTokens(session *checkoutSession) (int64, error) {
	if raw := session.Metadata[payment.MetaTokens]; raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n <= 0 {
			return 0, fmt.Errorf("%w: invalid tokens metadata %q", ErrWebhookPayload, raw)
		}
		return n, nil
	}
	if session.AmountTotal > 0 {
		return session.AmountTotal / g.tokenUnitPriceCents, nil
	}
	return 0, fmt.Errorf("%w: payment checkout without token quantity", ErrWebhookPayload)
}

func (g *WebhookGateway) resolvePlan(planID, priceRef string) (domain.Plan, error) {
	if planID != "" {
		if p, ok := g.plans.Get(planID); ok {
			return p, nil
		}
	}
	if p, ok := g.plans.ByPriceRef(priceRef); ok {
		return p, nil
	}
	return domain.Plan{}, fmt.Errorf("%w: plan %q price %q", errUnknownPlan, planID, priceRef)
}

func checkoutTarget(s *checkoutSession) repository.Selector {
	switch {
	case s.Metadata[payment.MetaAccountID] != "":
		return repository.ByAccountID(s.Metadata[payment.MetaAccountID])
	case s.ClientReferenceID != "":
		return repository.ByAccountID(s.ClientReferenceID)
	case s.Customer != "":
		return repository.ByCustomerRef(s.Customer)
	}
	return repository.Selector{}
}

func parseEventData[T any](ev *payment.Event) (*T, error) {
	var data T
	if err := json.Unmarshal(ev.Data, &data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWebhookPayload, err)
	}
	return &data, nil
}

package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/seoforge/backend/internal/domain"
	"github.com/seoforge/backend/internal/ledger"
	"github.com/seoforge/backend/internal/repository"
	"github.com/seoforge/backend/pkg/payment"
)

// BillingConfig configures checkout sessions.
type BillingConfig struct {
	FrontendURL         string
	TokenUnitPriceCents int64
	TokenMinPurchase    int64
}

// BillingService starts checkouts and reports subscription state. It never
// changes balances; those follow from webhooks.
type BillingService struct {
	cfg      BillingConfig
	ledger   *ledger.Engine
	accounts repository.AccountStore
	plans    *domain.PlanCatalog
	gateway  payment.Gateway
}

func NewBillingService(cfg BillingConfig, engine *ledger.Engine, accounts repository.AccountStore, plans *domain.PlanCatalog, gateway payment.Gateway) *BillingService {
	if cfg.TokenUnitPriceCents <= 0 {
		cfg.TokenUnitPriceCents = 20
	}
	if cfg.TokenMinPurchase <= 0 {
		cfg.TokenMinPurchase = 25
	}
	cfg.FrontendURL = strings.TrimRight(cfg.FrontendURL, "/")
	return &BillingService{
		cfg:      cfg,
		ledger:   engine,
		accounts: accounts,
		plans:    plans,
		gateway:  gateway,
	}
}

// Plans returns the plan catalog.
func (s *BillingService) Plans() []domain.Plan {
	return s.plans.All()
}

// CreateCheckoutSession opens a subscription checkout for a plan.
func (s *BillingService) CreateCheckoutSession(ctx context.Context, accountID, planID string) (*domain.CheckoutResponse, error) {
	plan, ok := s.plans.Get(planID)
	if !ok {
		return nil, domain.ErrBadRequest("invalid plan")
	}
	if plan.PriceRef == "" {
		return nil, domain.ErrBadRequest("plan is not available for purchase")
	}

	acc, err := s.account(ctx, accountID)
	if err != nil {
		return nil, err
	}
	switch acc.Subscription.Status {
	case domain.SubscriptionActive:
		return nil, domain.ErrConflict("subscription already active")
	case domain.SubscriptionPastDue:
		return nil, domain.ErrConflict("subscription payment is past due, settle the open invoice first")
	}

	customer, err := s.ensureCustomer(ctx, accountID)
	if err != nil {
		return nil, err
	}

	session, err := s.gateway.CreateSubscriptionCheckout(ctx, payment.SubscriptionCheckout{
		AccountID:   accountID,
		CustomerRef: customer,
		PlanID:      plan.ID,
		PriceRef:    plan.PriceRef,
		SuccessURL:  s.successURL(),
		CancelURL:   s.cancelURL(),
	})
	if err != nil {
		return nil, domain.ErrBadGateway("failed to create checkout session", err)
	}

	log.Info().Str("accountID", accountID).Str("plan", plan.ID).Str("session", session.ID).Msg("Subscription checkout created")
	return &domain.CheckoutResponse{URL: session.URL, SessionID: session.ID}, nil
}

// CreateTokenPurchaseSession opens a one-off checkout for quantity tokens.
func (s *BillingService) CreateTokenPurchaseSession(ctx context.Context, accountID string, quantity int64) (*domain.CheckoutResponse, error) {
	if quantity < s.cfg.TokenMinPurchase {
		return nil, domain.ErrValidation(fmt.Sprintf("minimum purchase is %d tokens", s.cfg.TokenMinPurchase))
	}
	if _, err := s.account(ctx, accountID); err != nil {
		return nil, err
	}

	customer, err := s.ensureCustomer(ctx, accountID)
	if err != nil {
		return nil, err
	}

	session, err := s.gateway.CreateTokenCheckout(ctx, payment.TokenCheckout{
		AccountID:      accountID,
		CustomerRef:    customer,
		Quantity:       quantity,
		UnitPriceCents: s.cfg.TokenUnitPriceCents,
		SuccessURL:     s.successURL(),
		CancelURL:      s.cancelURL(),
	})
	if err != nil {
		return nil, domain.ErrBadGateway("failed to create checkout session", err)
	}

	log.Info().Str("accountID", accountID).Int64("quantity", quantity).Str("session", session.ID).Msg("Token checkout created")
	return &domain.CheckoutResponse{URL: session.URL, SessionID: session.ID}, nil
}

// GetSubscriptionStatus reports the local subscription state, refreshed with
// the processor's period and cancellation flag when it is reachable.
func (s *BillingService) GetSubscriptionStatus(ctx context.Context, accountID string) (*domain.SubscriptionStatusResponse, error) {
	acc, err := s.account(ctx, accountID)
	if err != nil {
		return nil, err
	}

	resp := &domain.SubscriptionStatusResponse{
		Status:           acc.Subscription.Status,
		Plan:             acc.Subscription.PlanID,
		CurrentPeriodEnd: acc.Subscription.PeriodEnd,
		Tokens:           acc.Balance,
	}
	if resp.Status == "" {
		resp.Status = domain.SubscriptionInactive
	}

	ref := acc.Subscription.ExternalSubscriptionRef
	if ref == "" {
		return resp, nil
	}
	remote, err := s.gateway.GetSubscription(ctx, ref)
	if err != nil {
		log.Warn().Err(err).Str("accountID", accountID).Msg("Subscription refresh failed, using local state")
		return resp, nil
	}
	if !remote.CurrentPeriodEnd.IsZero() {
		end := remote.CurrentPeriodEnd
		resp.CurrentPeriodEnd = &end
	}
	resp.CancelAtPeriodEnd = remote.CancelAtPeriodEnd
	return resp, nil
}

// CancelSubscription asks the processor to stop renewing. Local state changes
// when the processor reports the subscription deleted.
func (s *BillingService) CancelSubscription(ctx context.Context, accountID string) (*domain.SubscriptionStatusResponse, error) {
	acc, err := s.account(ctx, accountID)
	if err != nil {
		return nil, err
	}
	sub := acc.Subscription
	if sub.ExternalSubscriptionRef == "" ||
		(sub.Status != domain.SubscriptionActive && sub.Status != domain.SubscriptionPastDue) {
		return nil, domain.ErrBadRequest("no active subscription")
	}

	remote, err := s.gateway.CancelAtPeriodEnd(ctx, sub.ExternalSubscriptionRef)
	if err != nil {
		return nil, domain.ErrBadGateway("failed to cancel subscription", err)
	}

	log.Info().Str("accountID", accountID).Msg("Subscription set to cancel at period end")
	resp := &domain.SubscriptionStatusResponse{
		Status:            sub.Status,
		Plan:              sub.PlanID,
		CurrentPeriodEnd:  sub.PeriodEnd,
		CancelAtPeriodEnd: remote.CancelAtPeriodEnd,
		Tokens:            acc.Balance,
	}
	if !remote.CurrentPeriodEnd.IsZero() {
		end := remote.CurrentPeriodEnd
		resp.CurrentPeriodEnd = &end
	}
	return resp, nil
}

// UpgradeSubscription moves an active subscription to a higher plan at the
// processor. The local plan follows from the resulting webhook events.
func (s *BillingService) UpgradeSubscription(ctx context.Context, accountID, planID string) (*domain.SubscriptionStatusResponse, error) {
	target, ok := s.plans.Get(planID)
	if !ok {
		return nil, domain.ErrBadRequest("invalid plan")
	}
	if target.PriceRef == "" {
		return nil, domain.ErrBadRequest("plan is not available for purchase")
	}

	acc, err := s.account(ctx, accountID)
	if err != nil {
		return nil, err
	}
	sub := acc.Subscription
	switch {
	case sub.Status == domain.SubscriptionPastDue:
		return nil, domain.ErrConflict("subscription payment is past due, settle the open invoice first")
	case sub.Status != domain.SubscriptionActive || sub.ExternalSubscriptionRef == "":
		return nil, domain.ErrBadRequest("no active subscription to upgrade")
	case s.plans.Rank(target.ID) <= s.plans.Rank(sub.PlanID):
		return nil, domain.ErrBadRequest("plan is not an upgrade of the current plan")
	}

	remote, err := s.gateway.ChangePlan(ctx, sub.ExternalSubscriptionRef, target.PriceRef)
	if err != nil {
		return nil, domain.ErrBadGateway("failed to upgrade subscription", err)
	}

	log.Info().Str("accountID", accountID).Str("from", sub.PlanID).Str("to", target.ID).Msg("Subscription upgrade requested")
	resp := &domain.SubscriptionStatusResponse{
		Status:            sub.Status,
		Plan:              target.ID,
		CurrentPeriodEnd:  sub.PeriodEnd,
		CancelAtPeriodEnd: remote.CancelAtPeriodEnd,
		Tokens:            acc.Balance,
	}
	if !remote.CurrentPeriodEnd.IsZero() {
		end := remote.CurrentPeriodEnd
		resp.CurrentPeriodEnd = &end
	}
	return resp, nil
}

func (s *BillingService) ensureCustomer(ctx context.Context, accountID string) (string, error) {
	ref, err := s.ledger.EnsurePaymentCustomer(ctx, accountID, func(ctx context.Context, acc *domain.Account) (string, error) {
		return s.gateway.CreateCustomer(ctx, acc.ID, acc.Email)
	})
	if err != nil {
		if errors.Is(err, ledger.ErrAccountNotFound) {
			return "", domain.ErrNotFound("account not found")
		}
		return "", domain.ErrBadGateway("failed to create payment customer", err)
	}
	return ref, nil
}

func (s *BillingService) account(ctx context.Context, id string) (*domain.Account, error) {
	acc, err := s.accounts.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.ErrNotFound("account not found")
		}
		return nil, domain.ErrInternal("failed to find account", err)
	}
	return acc, nil
}

func (s *BillingService) successURL() string {
	return s.cfg.FrontendURL + "/success?session_id=" + payment.SessionIDPlaceholder
}

func (s *BillingService) cancelURL() string {
	return s.cfg.FrontendURL + "/cancel"
}

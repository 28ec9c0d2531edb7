package handler

import (
	"net/http"

	"github.com/seoforge/backend/internal/domain"
	"github.com/seoforge/backend/internal/service"
)

type PaymentHandler struct {
	svc *service.BillingService
}

func NewPaymentHandler(svc *service.BillingService) *PaymentHandler {
	return &PaymentHandler{svc: svc}
}

// CreateCheckout handles POST /api/billing/subscription.
func (h *PaymentHandler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	userID, ok := accountID(r)
	if !ok {
		unauthorized(w)
		return
	}

	var req domain.CheckoutRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		Error(w, err)
		return
	}

	resp, err := h.svc.CreateCheckoutSession(r.Context(), userID, req.Plan)
	if err != nil {
		Error(w, err)
		return
	}

	JSON(w, http.StatusOK, resp)
}

// BuyTokens handles POST /api/billing/tokens.
func (h *PaymentHandler) BuyTokens(w http.ResponseWriter, r *http.Request) {
	userID, ok := accountID(r)
	if !ok {
		unauthorized(w)
		return
	}

	var req domain.TokenPurchaseRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		Error(w, err)
		return
	}

	resp, err := h.svc.CreateTokenPurchaseSession(r.Context(), userID, req.Quantity)
	if err != nil {
		Error(w, err)
		return
	}

	JSON(w, http.StatusOK, resp)
}

// GetSubscription handles GET /api/billing/subscription.
func (h *PaymentHandler) GetSubscription(w http.ResponseWriter, r *http.Request) {
	userID, ok := accountID(r)
	if !ok {
		unauthorized(w)
		return
	}

	status, err := h.svc.GetSubscriptionStatus(r.Context(), userID)
	if err != nil {
		Error(w, err)
		return
	}

	JSON(w, http.StatusOK, status)
}

// CancelSubscription handles POST /api/billing/subscription/cancel.
func (h *PaymentHandler) CancelSubscription(w http.ResponseWriter, r *http.Request) {
	userID, ok := accountID(r)
	if !ok {
		unauthorized(w)
		return
	}

	status, err := h.svc.CancelSubscription(r.Context(), userID)
	if err != nil {
		Error(w, err)
		return
	}

	JSON(w, http.StatusOK, status)
}

// UpgradeSubscription handles POST /api/billing/subscription/upgrade.
func (h *PaymentHandler) UpgradeSubscription(w http.ResponseWriter, r *http.Request) {
	userID, ok := accountID(r)
	if !ok {
		unauthorized(w)
		return
	}

	var req domain.UpgradeRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		Error(w, err)
		return
	}

	status, err := h.svc.UpgradeSubscription(r.Context(), userID, req.Plan)
	if err != nil {
		Error(w, err)
		return
	}

	JSON(w, http.StatusOK, status)
}

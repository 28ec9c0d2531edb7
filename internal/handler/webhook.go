package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/seoforge/backend/internal/service"
)

// StripeSignatureHeader carries the payment processor's HMAC signature.
const StripeSignatureHeader = "Stripe-Signature"

// EventHandler applies a verified payment event. Implemented by service.WebhookGateway.
type EventHandler interface {
	Handle(ctx context.Context, payload []byte, signature string) (service.Outcome, error)
}

type WebhookHandler struct {
	events EventHandler
}

func NewWebhookHandler(events EventHandler) *WebhookHandler {
	return &WebhookHandler{events: events}
}

// HandlePayment handles POST /api/webhooks/payment. The raw body must reach
// signature verification untouched.
func (h *WebhookHandler) HandlePayment(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		JSON(w, http.StatusBadRequest, map[string]string{"error": "failed to read body"})
		return
	}

	outcome, err := h.events.Handle(r.Context(), body, r.Header.Get(StripeSignatureHeader))
	switch {
	case errors.Is(err, service.ErrWebhookSignature):
		JSON(w, http.StatusBadRequest, map[string]string{"error": "invalid signature"})
		return
	case errors.Is(err, service.ErrWebhookPayload):
		JSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	case err != nil:
		// A 5xx makes the processor redeliver the event later.
		log.Error().Err(err).Msg("Webhook handling failed")
		JSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{"received": true, "outcome": outcome})
}

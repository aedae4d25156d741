package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"

	"github.com/jmylchreest/genstudio-api/internal/config"
	"github.com/jmylchreest/genstudio-api/internal/models"
)

// Crediter adds purchased or granted credits idempotently.
type Crediter interface {
	Credit(ctx context.Context, identity string, amount int64, txType models.LedgerTransactionType, externalRef, description string) (bool, error)
}

// Checkout session metadata keys set by the frontend when creating a session.
const (
	metadataUserID      = "user_id"
	metadataClerkUserID = "clerk_user_id"
	metadataPriceID     = "price_id"
)

// StripeWebhookHandler handles Stripe webhook events.
type StripeWebhookHandler struct {
	cfg    *config.Config
	ledger Crediter
	logger *slog.Logger
}

// NewStripeWebhookHandler creates a new Stripe webhook handler.
func NewStripeWebhookHandler(cfg *config.Config, ledger Crediter, logger *slog.Logger) *StripeWebhookHandler {
	stripe.Key = cfg.StripeSecretKey

	return &StripeWebhookHandler{
		cfg:    cfg,
		ledger: ledger,
		logger: logger.With("handler", "stripe_webhook"),
	}
}

// HandleWebhook processes incoming Stripe webhooks.
// This is a raw HTTP handler since huma doesn't handle raw body verification well.
func (h *StripeWebhookHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	const maxBodySize = 65536 // 64KB

	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.Error("failed to read webhook body", "error", err)
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	// Only session metadata is read, so events from newer API versions are accepted.
	event, err := webhook.ConstructEventWithOptions(payload, r.Header.Get("Stripe-Signature"), h.cfg.StripeWebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		h.logger.Error("failed to verify webhook signature", "error", err)
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	if err := h.handleEvent(ctx, event); err != nil {
		// Ledger outages are retried by Stripe; everything else is acknowledged.
		h.logger.Error("failed to handle webhook event", "type", event.Type, "id", event.ID, "error", err)
		http.Error(w, "failed to process event", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// handleEvent routes events to appropriate handlers.
func (h *StripeWebhookHandler) handleEvent(ctx context.Context, event stripe.Event) error {
	h.logger.Info("received Stripe webhook", "type", event.Type, "id", event.ID)

	switch event.Type {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		return h.handleCheckoutComplete(ctx, event)
	default:
		h.logger.Debug("unhandled webhook event type", "type", event.Type)
		return nil
	}
}

// handleCheckoutComplete credits the purchased pack. The payment intent id is
// the idempotency key, so replayed events never credit twice.
func (h *StripeWebhookHandler) handleCheckoutComplete(ctx context.Context, event stripe.Event) error {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		h.logger.Error("failed to unmarshal checkout session", "error", err)
		return nil
	}

	if session.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		h.logger.Info("checkout session not paid yet", "session_id", session.ID, "payment_status", session.PaymentStatus)
		return nil
	}

	identity := checkoutIdentity(&session)
	if identity == "" {
		h.logger.Warn("checkout session missing user id", "session_id", session.ID)
		return nil // Don't error - might be a non-user checkout
	}

	priceID := session.Metadata[metadataPriceID]
	credits := h.cfg.CreditPacks.Credits(priceID)
	if credits <= 0 {
		h.logger.Warn("checkout session for unknown credit pack", "session_id", session.ID, "price_id", priceID)
		return nil
	}

	ref := session.ID
	if session.PaymentIntent != nil && session.PaymentIntent.ID != "" {
		ref = session.PaymentIntent.ID
	}

	applied, err := h.ledger.Credit(ctx, identity, credits, models.TxTypePurchase, "stripe:"+ref,
		fmt.Sprintf("Purchased %d credits", credits))
	if err != nil {
		return fmt.Errorf("failed to credit purchase: %w", err)
	}

	h.logger.Info("credit pack purchased",
		"user_id", identity,
		"price_id", priceID,
		"amount", credits,
		"payment_id", ref,
		"applied", applied,
	)
	return nil
}

func checkoutIdentity(session *stripe.CheckoutSession) string {
	if id := session.Metadata[metadataUserID]; id != "" {
		return id
	}
	if id := session.Metadata[metadataClerkUserID]; id != "" {
		return id
	}
	return session.ClientReferenceID
}

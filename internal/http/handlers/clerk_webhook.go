package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	svix "github.com/svix/svix-webhooks/go"

	"github.com/jmylchreest/genstudio-api/internal/config"
	"github.com/jmylchreest/genstudio-api/internal/models"
)

// ClerkWebhookHandler handles Clerk webhook events.
type ClerkWebhookHandler struct {
	cfg    *config.Config
	ledger Crediter
	logger *slog.Logger
}

// NewClerkWebhookHandler creates a new Clerk webhook handler.
func NewClerkWebhookHandler(cfg *config.Config, ledger Crediter, logger *slog.Logger) *ClerkWebhookHandler {
	return &ClerkWebhookHandler{
		cfg:    cfg,
		ledger: ledger,
		logger: logger.With("handler", "clerk_webhook"),
	}
}

// ClerkWebhookEvent represents a Clerk webhook event.
type ClerkWebhookEvent struct {
	Type   string          `json:"type"`
	Object string          `json:"object"`
	Data   json.RawMessage `json:"data"`
}

// UserData is the subset of a Clerk user object we read.
type UserData struct {
	ID string `json:"id"`
}

// HandleWebhook processes incoming Clerk webhooks.
func (h *ClerkWebhookHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	const maxBodySize = 65536 // 64KB

	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.Error("failed to read webhook body", "error", err)
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	// Verify webhook signature using Svix
	headers := http.Header{}
	headers.Set("svix-id", r.Header.Get("svix-id"))
	headers.Set("svix-timestamp", r.Header.Get("svix-timestamp"))
	headers.Set("svix-signature", r.Header.Get("svix-signature"))

	wh, err := svix.NewWebhook(h.cfg.ClerkWebhookSecret)
	if err != nil {
		h.logger.Error("failed to create webhook verifier", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	if err := wh.Verify(payload, headers); err != nil {
		h.logger.Error("failed to verify webhook signature", "error", err)
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}

	var event ClerkWebhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		h.logger.Error("failed to parse webhook event", "error", err)
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	if err := h.handleEvent(ctx, event); err != nil {
		h.logger.Error("failed to handle webhook event", "type", event.Type, "error", err)
		http.Error(w, "failed to process event", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// handleEvent routes events to appropriate handlers.
func (h *ClerkWebhookHandler) handleEvent(ctx context.Context, event ClerkWebhookEvent) error {
	h.logger.Info("received Clerk webhook", "type", event.Type)

	switch event.Type {
	case "user.created":
		return h.handleUserCreated(ctx, event.Data)
	default:
		h.logger.Debug("unhandled webhook event type", "type", event.Type)
		return nil
	}
}

// handleUserCreated grants the signup credits once per user.
func (h *ClerkWebhookHandler) handleUserCreated(ctx context.Context, data json.RawMessage) error {
	if h.cfg.SignupGrantCredits <= 0 {
		return nil
	}

	var user UserData
	if err := json.Unmarshal(data, &user); err != nil {
		h.logger.Error("failed to unmarshal user", "error", err)
		return nil
	}
	if user.ID == "" {
		h.logger.Warn("user.created event missing id")
		return nil
	}

	applied, err := h.ledger.Credit(ctx, user.ID, h.cfg.SignupGrantCredits, models.TxTypeGrant, "signup:"+user.ID, "Signup credits")
	if err != nil {
		return fmt.Errorf("failed to grant signup credits: %w", err)
	}

	h.logger.Info("signup credits granted",
		"user_id", user.ID,
		"amount", h.cfg.SignupGrantCredits,
		"applied", applied,
	)
	return nil
}

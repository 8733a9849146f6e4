// Package plaid interprets Plaid webhook events and turns transaction
// updates into rate-limited sync triggers.
package plaid

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/marcelsud/finsync/events"
	"github.com/marcelsud/finsync/syncer"
	"github.com/marcelsud/finsync/webhook"
)

// Verification headers Plaid sends with each delivery
const (
	HeaderVerification = "plaid-verification"
	HeaderTimestamp    = "plaid-timestamp"
)

// payload carries the fields needed for routing and triggering; the
// full institution-specific schema stays with the provider
type payload struct {
	WebhookType string      `json:"webhook_type"`
	WebhookCode string      `json:"webhook_code"`
	WebhookID   string      `json:"webhook_id"`
	ItemID      string      `json:"item_id"`
	Error       *plaidError `json:"error"`
}

type plaidError struct {
	ErrorCode    string `json:"error_code"`
	ErrorMessage string `json:"error_message"`
}

// AccountResolver maps a Plaid item to the internal account it belongs to
type AccountResolver interface {
	ResolveItem(ctx context.Context, itemID string) (string, error)
}

// ResolverFunc adapts a function to AccountResolver
type ResolverFunc func(ctx context.Context, itemID string) (string, error)

func (f ResolverFunc) ResolveItem(ctx context.Context, itemID string) (string, error) {
	return f(ctx, itemID)
}

// Handler is the Plaid source handler
type Handler struct {
	trigger  *syncer.Trigger
	bus      *events.Bus
	resolver AccountResolver
	logger   *slog.Logger
}

// NewHandler creates the Plaid handler
func NewHandler(trigger *syncer.Trigger, bus *events.Bus, resolver AccountResolver, logger *slog.Logger) *Handler {
	return &Handler{
		trigger:  trigger,
		bus:      bus,
		resolver: resolver,
		logger:   logger,
	}
}

// Source identifies this handler in the router registry
func (h *Handler) Source() webhook.Source {
	return webhook.Plaid
}

// Handle interprets the event code. Sync triggers run asynchronously;
// the response only acknowledges the delivery.
func (h *Handler) Handle(ctx context.Context, req webhook.Request) webhook.Response {
	var p payload
	if err := json.Unmarshal(req.Body, &p); err != nil {
		return webhook.Rejected(http.StatusBadRequest, "bad_payload",
			"plaid webhook payload is not valid JSON", false)
	}

	switch p.WebhookType {
	case "TRANSACTIONS":
		return h.handleTransactions(ctx, p)
	case "ITEM":
		return h.handleItem(ctx, p)
	default:
		h.logger.Debug("ignoring plaid webhook",
			"webhook_type", p.WebhookType,
			"webhook_code", p.WebhookCode,
		)
		return webhook.AcceptedUnprocessed()
	}
}

func (h *Handler) handleTransactions(ctx context.Context, p payload) webhook.Response {
	switch p.WebhookCode {
	case "SYNC_UPDATES_AVAILABLE", "DEFAULT_UPDATE":
	default:
		return webhook.AcceptedUnprocessed()
	}

	accountID, err := h.resolver.ResolveItem(ctx, p.ItemID)
	if err != nil {
		h.logger.Error("resolving plaid item failed",
			"item_id", p.ItemID,
			"error", err,
		)
		return webhook.Rejected(http.StatusInternalServerError, "resolve_item",
			"could not resolve item to an account", true)
	}

	if !h.trigger.TriggerWebhookSync(accountID) {
		h.logger.Warn("webhook sync gated by rate limiter", "account_id", accountID)
		return webhook.AcceptedUnprocessed()
	}

	return webhook.Accepted()
}

// handleItem emits an account-error event; item problems need user
// action, never an automatic sync
func (h *Handler) handleItem(ctx context.Context, p payload) webhook.Response {
	switch p.WebhookCode {
	case "ERROR", "LOGIN_REQUIRED", "PENDING_EXPIRATION", "USER_PERMISSION_REVOKED":
	default:
		return webhook.AcceptedUnprocessed()
	}

	accountID, err := h.resolver.ResolveItem(ctx, p.ItemID)
	if err != nil {
		// Still surface the error event keyed by item when the account
		// mapping is gone; the user needs to re-link either way
		accountID = ""
	}

	detail := map[string]any{
		"item_id":      p.ItemID,
		"account_id":   accountID,
		"webhook_code": p.WebhookCode,
	}
	if p.Error != nil {
		detail["error_code"] = p.Error.ErrorCode
		detail["error_message"] = p.Error.ErrorMessage
	}
	h.bus.Emit(events.TypeAccountError, detail)

	return webhook.Accepted()
}

// NewRequest normalizes a raw Plaid delivery into a webhook.Request.
// The nonce is {webhook_id}_{webhook_code} when both are present, which
// makes provider retries of the same event collapse into one delivery.
func NewRequest(body []byte, headers, query map[string]string) webhook.Request {
	req := webhook.Request{
		Source:    webhook.Plaid,
		Body:      body,
		Headers:   headers,
		Query:     query,
		Signature: headers[HeaderVerification],
	}

	if raw := headers[HeaderTimestamp]; raw != "" {
		if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
			req.Timestamp = time.UnixMilli(ms)
		}
	}

	var p payload
	if err := json.Unmarshal(body, &p); err == nil && p.WebhookID != "" && p.WebhookCode != "" {
		req.Nonce = fmt.Sprintf("%s_%s", p.WebhookID, p.WebhookCode)
	}

	return req
}

// Package gocardless interprets GoCardless webhook deliveries, which
// batch multiple events per call.
package gocardless

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/marcelsud/finsync/syncer"
	"github.com/marcelsud/finsync/webhook"
)

// HeaderSignature carries the hex HMAC-SHA256 of the request body
const HeaderSignature = "webhook-signature"

type payload struct {
	Events []event `json:"events"`
}

type event struct {
	ID           string            `json:"id"`
	ResourceType string            `json:"resource_type"`
	Action       string            `json:"action"`
	Links        map[string]string `json:"links"`
}

// Handler is the GoCardless source handler
type Handler struct {
	trigger *syncer.Trigger
	logger  *slog.Logger
}

// NewHandler creates the GoCardless handler
func NewHandler(trigger *syncer.Trigger, logger *slog.Logger) *Handler {
	return &Handler{trigger: trigger, logger: logger}
}

// Source identifies this handler in the router registry
func (h *Handler) Source() webhook.Source {
	return webhook.GoCardless
}

// Handle triggers one sync per affected account across the event batch
func (h *Handler) Handle(ctx context.Context, req webhook.Request) webhook.Response {
	var p payload
	if err := json.Unmarshal(req.Body, &p); err != nil {
		return webhook.Rejected(http.StatusBadRequest, "bad_payload",
			"gocardless webhook payload is not valid JSON", false)
	}
	if len(p.Events) == 0 {
		return webhook.AcceptedUnprocessed()
	}

	accounts := make(map[string]bool)
	for _, ev := range p.Events {
		switch ev.ResourceType {
		case "transactions", "payments":
		default:
			continue
		}
		if account := ev.Links["account"]; account != "" {
			accounts[account] = true
		}
	}

	triggered := 0
	for account := range accounts {
		if h.trigger.TriggerWebhookSync(account) {
			triggered++
		}
	}

	h.logger.Debug("gocardless batch handled",
		"events", len(p.Events),
		"accounts", len(accounts),
		"syncs_triggered", triggered,
	)

	if triggered == 0 {
		return webhook.AcceptedUnprocessed()
	}
	return webhook.Accepted()
}

// NewRequest normalizes a raw GoCardless delivery.
// The nonce joins the batch's event IDs: GoCardless retries redeliver
// the identical batch, so the joined IDs identify the delivery.
func NewRequest(body []byte, headers, query map[string]string) webhook.Request {
	req := webhook.Request{
		Source:    webhook.GoCardless,
		Body:      body,
		Headers:   headers,
		Query:     query,
		Signature: headers[HeaderSignature],
	}

	var p payload
	if err := json.Unmarshal(body, &p); err == nil && len(p.Events) > 0 {
		ids := make([]string, 0, len(p.Events))
		for _, ev := range p.Events {
			if ev.ID != "" {
				ids = append(ids, ev.ID)
			}
		}
		req.Nonce = strings.Join(ids, "_")
	}

	return req
}

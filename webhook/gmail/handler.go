// Package gmail accepts Gmail push notifications (Pub/Sub envelopes)
// and hands them to the email-processing layer as events.
package gmail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/marcelsud/finsync/events"
	"github.com/marcelsud/finsync/webhook"
)

// envelope is the Pub/Sub push wrapper around the Gmail notification
type envelope struct {
	Message struct {
		Data      string `json:"data"` // base64 of notification
		MessageID string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// notification is the decoded Gmail watch payload
type notification struct {
	EmailAddress string `json:"emailAddress"`
	HistoryID    uint64 `json:"historyId"`
}

// Handler is the Gmail source handler. It only emits events: fetching
// and parsing mail belongs to the excluded email-client layer.
type Handler struct {
	bus    *events.Bus
	logger *slog.Logger
}

// NewHandler creates the Gmail handler
func NewHandler(bus *events.Bus, logger *slog.Logger) *Handler {
	return &Handler{bus: bus, logger: logger}
}

// Source identifies this handler in the router registry
func (h *Handler) Source() webhook.Source {
	return webhook.Gmail
}

// Handle decodes the Pub/Sub envelope and emits a transaction.email event
func (h *Handler) Handle(ctx context.Context, req webhook.Request) webhook.Response {
	var env envelope
	if err := json.Unmarshal(req.Body, &env); err != nil {
		return webhook.Rejected(http.StatusBadRequest, "bad_payload",
			"gmail push envelope is not valid JSON", false)
	}
	if env.Message.Data == "" {
		return webhook.AcceptedUnprocessed()
	}

	raw, err := base64.StdEncoding.DecodeString(env.Message.Data)
	if err != nil {
		return webhook.Rejected(http.StatusBadRequest, "bad_payload",
			"gmail notification data is not valid base64", false)
	}

	var note notification
	if err := json.Unmarshal(raw, &note); err != nil || note.EmailAddress == "" {
		return webhook.AcceptedUnprocessed()
	}

	h.bus.Emit(events.TypeTransactionEmail, map[string]any{
		"email_address": note.EmailAddress,
		"history_id":    note.HistoryID,
		"message_id":    env.Message.MessageID,
	})

	return webhook.Accepted()
}

// NewRequest normalizes a raw Gmail push delivery.
// The Pub/Sub message ID is the natural nonce: redeliveries reuse it.
func NewRequest(body []byte, headers, query map[string]string) webhook.Request {
	req := webhook.Request{
		Source:  webhook.Gmail,
		Body:    body,
		Headers: headers,
		Query:   query,
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err == nil {
		req.Nonce = env.Message.MessageID
	}

	return req
}

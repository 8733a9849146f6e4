// Package testsource provides the handler behind POST /webhook/test,
// used to exercise the full security and routing pipeline end to end
// without a real provider.
package testsource

import (
	"context"
	"log/slog"

	"github.com/marcelsud/finsync/webhook"
)

// Handler acknowledges any payload that survives the security checks
type Handler struct {
	logger *slog.Logger
}

// NewHandler creates the test handler
func NewHandler(logger *slog.Logger) *Handler {
	return &Handler{logger: logger}
}

// Source identifies this handler in the router registry
func (h *Handler) Source() webhook.Source {
	return webhook.Test
}

// Handle logs the delivery and acknowledges it
func (h *Handler) Handle(ctx context.Context, req webhook.Request) webhook.Response {
	h.logger.Info("test webhook received",
		"nonce", req.Nonce,
		"bytes", len(req.Body),
	)
	return webhook.Accepted()
}

// NewRequest normalizes a test delivery. Nonce and signature come from
// plain headers so curl can exercise replay and signature rejection.
func NewRequest(body []byte, headers, query map[string]string) webhook.Request {
	return webhook.Request{
		Source:    webhook.Test,
		Body:      body,
		Headers:   headers,
		Query:     query,
		Nonce:     headers["x-test-nonce"],
		Signature: headers["x-test-signature"],
	}
}

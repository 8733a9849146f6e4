package chi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httplog"

	"github.com/marcelsud/finsync/metrics"
	"github.com/marcelsud/finsync/oauth"
	"github.com/marcelsud/finsync/syncer"
	"github.com/marcelsud/finsync/webhook"
)

// Services bundles the gateway components the HTTP surface exposes.
// Exporter may be nil when metrics are disabled.
type Services struct {
	Router     *webhook.Router
	Completion *oauth.CompletionService
	Trigger    *syncer.Trigger
	Collector  metrics.Collector
	Exporter   *metrics.OTelExporter
}

// Handlers sets up the gateway API routes
func Handlers(ctx context.Context, svc Services) *chi.Mux {
	logger := httplog.NewLogger("finsync", httplog.Options{
		JSON: true,
	})

	r := chi.NewRouter()
	r.Use(httplog.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	// Health check
	r.Get("/health", getHealth(svc.Collector).ServeHTTP)

	if svc.Exporter != nil {
		r.Method(http.MethodGet, "/metrics", svc.Exporter.ServeHTTP())
	}

	// Provider webhook endpoints
	r.Route("/webhook", func(r chi.Router) {
		r.Post("/plaid", postWebhook(svc, webhook.Plaid).ServeHTTP)
		r.Post("/gocardless", postWebhook(svc, webhook.GoCardless).ServeHTTP)
		r.Post("/gmail", postWebhook(svc, webhook.Gmail).ServeHTTP)
		r.Post("/test", postWebhook(svc, webhook.Test).ServeHTTP)
	})

	// Gateway API routes
	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", getStatus(svc.Collector).ServeHTTP)
		r.Post("/accounts/{account_id}/sync", postManualSync(svc.Trigger).ServeHTTP)

		r.Post("/connect/{provider}", postConnect(svc.Completion).ServeHTTP)
		r.Get("/connect/sessions/{session_id}", getSession(svc.Completion).ServeHTTP)
		r.Post("/connect/sessions/{session_id}/complete", postComplete(svc.Completion).ServeHTTP)
		r.Delete("/connect/sessions/{session_id}", deleteSession(svc.Completion).ServeHTTP)
	})

	return r
}

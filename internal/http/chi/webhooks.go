package chi

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/marcelsud/finsync/metrics"
	"github.com/marcelsud/finsync/webhook"
	"github.com/marcelsud/finsync/webhook/gmail"
	"github.com/marcelsud/finsync/webhook/gocardless"
	"github.com/marcelsud/finsync/webhook/plaid"
	"github.com/marcelsud/finsync/webhook/testsource"
)

/* HTTP layer DTOs for the gateway API
 * Separate from domain entities to avoid leaking internal structure
 */

// webhookResponse represents the API response for a webhook delivery
type webhookResponse struct {
	Received  bool                   `json:"received"`
	Processed bool                   `json:"processed"`
	Error     *webhook.ResponseError `json:"error,omitempty"`
}

// statusResponse wraps the gateway snapshot
type statusResponse struct {
	Status  string           `json:"status"`
	Gateway metrics.Snapshot `json:"gateway"`
}

// normalizers map each source to its request builder
var normalizers = map[webhook.Source]func(body []byte, headers, query map[string]string) webhook.Request{
	webhook.Plaid:      plaid.NewRequest,
	webhook.GoCardless: gocardless.NewRequest,
	webhook.Gmail:      gmail.NewRequest,
	webhook.Test:       testsource.NewRequest,
}

// postWebhook handles POST /webhook/{source}
func postWebhook(svc Services, source webhook.Source) http.Handler {
	normalize := normalizers[source]

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "failed to read request body", http.StatusBadRequest)
			return
		}
		defer r.Body.Close()

		req := normalize(body, flattenHeaders(r), flattenQuery(r))
		resp := svc.Router.Process(r.Context(), req)

		if svc.Exporter != nil {
			svc.Exporter.RecordWebhook(r.Context(), source.String())
			if resp.Err != nil {
				svc.Exporter.RecordRejection(r.Context(), source.String(), resp.Err.Code)
			}
		}

		writeJSON(w, resp.Status, webhookResponse{
			Received:  resp.Received,
			Processed: resp.Processed,
			Error:     resp.Err,
		})
	})
}

// getHealth handles GET /health
func getHealth(collector metrics.Collector) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mode := "unknown"
		if collector != nil {
			if snapshot, err := collector.Collect(r.Context()); err == nil {
				mode = snapshot.Mode
			}
		}

		writeJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"mode":   mode,
		})
	})
}

// getStatus handles GET /v1/status
func getStatus(collector metrics.Collector) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if collector == nil {
			http.Error(w, "status collection not configured", http.StatusServiceUnavailable)
			return
		}

		snapshot, err := collector.Collect(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, statusResponse{
			Status:  "healthy",
			Gateway: snapshot,
		})
	})
}

// flattenHeaders lowercases header names and keeps the first value,
// matching how the source normalizers look headers up
func flattenHeaders(r *http.Request) map[string]string {
	headers := make(map[string]string, len(r.Header))
	for key, values := range r.Header {
		if len(values) > 0 {
			headers[strings.ToLower(key)] = values[0]
		}
	}
	return headers
}

// flattenQuery keeps the first value per query parameter
func flattenQuery(r *http.Request) map[string]string {
	values := r.URL.Query()
	query := make(map[string]string, len(values))
	for key, vals := range values {
		if len(vals) > 0 {
			query[key] = vals[0]
		}
	}
	return query
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// The status line is already out; an encode failure here has no
	// recovery path
	json.NewEncoder(w).Encode(body)
}

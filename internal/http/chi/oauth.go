package chi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/marcelsud/finsync/oauth"
	"github.com/marcelsud/finsync/relay"
	"github.com/marcelsud/finsync/syncer"
)

// sessionResponse represents an oauth session in the API.
// Credentials appear only once the session completes.
type sessionResponse struct {
	SessionID   string             `json:"session_id"`
	Provider    string             `json:"provider"`
	Mode        string             `json:"mode"`
	Status      string             `json:"status"`
	StartedAt   time.Time          `json:"started_at"`
	Error       string             `json:"error,omitempty"`
	Credentials *relay.Credentials `json:"credentials,omitempty"`
}

// syncResponse represents the outcome of a manual sync
type syncResponse struct {
	AccountID string    `json:"account_id"`
	Added     int       `json:"added"`
	Modified  int       `json:"modified"`
	Removed   int       `json:"removed"`
	Completed time.Time `json:"completed_at"`
}

func toSessionResponse(session oauth.Session) sessionResponse {
	resp := sessionResponse{
		SessionID:   session.ID,
		Provider:    session.Provider,
		Mode:        session.Mode.String(),
		Status:      session.Status.String(),
		StartedAt:   session.StartedAt,
		Credentials: session.Credentials,
	}
	if session.Err != nil {
		resp.Error = session.Err.Error()
	}
	return resp
}

// postConnect handles POST /v1/connect/{provider}
func postConnect(completion *oauth.CompletionService) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		provider := chi.URLParam(r, "provider")
		if provider == "" {
			http.Error(w, "provider is required", http.StatusBadRequest)
			return
		}

		session, err := completion.Begin(r.Context(), provider)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}

		writeJSON(w, http.StatusCreated, toSessionResponse(session))
	})
}

// getSession handles GET /v1/connect/sessions/{session_id}.
// With ?wait=true it blocks until the session settles or the request
// context expires.
func getSession(completion *oauth.CompletionService) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sessionID := chi.URLParam(r, "session_id")

		if r.URL.Query().Get("wait") == "true" {
			if _, err := completion.Wait(r.Context(), sessionID); err != nil && r.Context().Err() != nil {
				http.Error(w, "timed out waiting for session", http.StatusRequestTimeout)
				return
			}
		}

		session, ok := completion.Get(sessionID)
		if !ok {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}

		writeJSON(w, http.StatusOK, toSessionResponse(session))
	})
}

// postComplete handles POST /v1/connect/sessions/{session_id}/complete,
// the direct-mode callback carrying the provider's credentials
func postComplete(completion *oauth.CompletionService) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sessionID := chi.URLParam(r, "session_id")

		var creds relay.Credentials
		if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
			http.Error(w, "invalid credentials payload", http.StatusBadRequest)
			return
		}

		if err := completion.CompleteDirect(sessionID, creds); err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	})
}

// deleteSession handles DELETE /v1/connect/sessions/{session_id}
func deleteSession(completion *oauth.CompletionService) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sessionID := chi.URLParam(r, "session_id")

		if err := completion.Cancel(sessionID); err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	})
}

// postManualSync handles POST /v1/accounts/{account_id}/sync
func postManualSync(trigger *syncer.Trigger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		accountID := chi.URLParam(r, "account_id")
		if accountID == "" {
			http.Error(w, "account_id is required", http.StatusBadRequest)
			return
		}

		result, err := trigger.TriggerManualSync(r.Context(), accountID)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, syncer.ErrRateLimited) {
				status = http.StatusTooManyRequests
			}
			http.Error(w, err.Error(), status)
			return
		}

		writeJSON(w, http.StatusOK, syncResponse{
			AccountID: result.AccountID,
			Added:     result.Added,
			Modified:  result.Modified,
			Removed:   result.Removed,
			Completed: result.CompletedAt,
		})
	})
}

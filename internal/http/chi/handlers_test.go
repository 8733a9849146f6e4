package chi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/marcelsud/finsync/connection"
	"github.com/marcelsud/finsync/events"
	gatewayhttp "github.com/marcelsud/finsync/internal/http/chi"
	"github.com/marcelsud/finsync/metrics"
	"github.com/marcelsud/finsync/oauth"
	"github.com/marcelsud/finsync/ratelimit"
	"github.com/marcelsud/finsync/relay"
	"github.com/marcelsud/finsync/syncer"
	"github.com/marcelsud/finsync/syncer/mocks"
	"github.com/marcelsud/finsync/webhook"
	"github.com/marcelsud/finsync/webhook/dedupe"
	"github.com/marcelsud/finsync/webhook/plaid"
	"github.com/marcelsud/finsync/webhook/security"
	"github.com/marcelsud/finsync/webhook/testsource"
)

type harness struct {
	server  *httptest.Server
	trigger *syncer.Trigger
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// noopRelay satisfies the completion service without a live relay;
// direct-mode tests never touch it
type noopRelay struct{}

func (noopRelay) CreateSession(context.Context, string, string) (relay.Session, error) {
	return relay.Session{SessionID: "unused"}, nil
}
func (noopRelay) RetrieveCredentials(ctx context.Context, _, _ string, _ time.Duration) (relay.Credentials, error) {
	<-ctx.Done()
	return relay.Credentials{}, ctx.Err()
}
func (noopRelay) DeleteCredentials(context.Context, string) error { return nil }

func newHarness(t *testing.T, provider syncer.Provider, limits ratelimit.Config) *harness {
	t.Helper()
	logger := testLogger()

	store, err := dedupe.NewFileStore(filepath.Join(t.TempDir(), "cache.json"))
	require.NoError(t, err)

	testVerifier, err := security.NewVerifier(security.Config{
		ReplayProtection: true,
	}, store)
	require.NoError(t, err)

	router := webhook.NewRouter(security.PerSource{
		webhook.Test: testVerifier,
	}, logger)

	limiter := ratelimit.New(limits, logger)
	bus := events.NewBus()
	trigger := syncer.NewTrigger(provider, limiter, bus, logger)
	t.Cleanup(trigger.Close)

	require.NoError(t, router.Register(testsource.NewHandler(logger)))
	require.NoError(t, router.Register(plaid.NewHandler(
		trigger, bus,
		plaid.ResolverFunc(func(_ context.Context, itemID string) (string, error) {
			return "account-for-" + itemID, nil
		}),
		logger,
	)))

	selector := connection.NewSelector(connection.Config{
		Mode:      connection.ModeDirect,
		PublicURL: "https://gateway.example.com/webhook",
	}, nil, logger)
	completion := oauth.NewCompletionService(selector, noopRelay{}, oauth.CompletionConfig{
		SessionTimeout: 5 * time.Second,
	}, logger)
	t.Cleanup(completion.Close)

	collector := metrics.NewGatewayCollector(
		func() string { return "direct" },
		limiter,
		completion,
	)

	mux := gatewayhttp.Handlers(context.Background(), gatewayhttp.Services{
		Router:     router,
		Completion: completion,
		Trigger:    trigger,
		Collector:  collector,
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return &harness{server: server, trigger: trigger}
}

func (h *harness) post(t *testing.T, path string, body []byte, headers map[string]string) (*http.Response, []byte) {
	t.Helper()

	req, err := http.NewRequest(http.MethodPost, h.server.URL+path, bytes.NewReader(body))
	require.NoError(t, err)
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func (h *harness) get(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()

	resp, err := http.Get(h.server.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func TestWebhookEndpoints(t *testing.T) {
	provider := mocks.NewProvider(t)
	h := newHarness(t, provider, ratelimit.Config{})

	t.Run("test webhook is processed", func(t *testing.T) {
		resp, body := h.post(t, "/webhook/test", []byte(`{"ping":true}`), map[string]string{
			"X-Test-Nonce": "delivery-1",
		})

		require.Equal(t, http.StatusOK, resp.StatusCode)

		var result map[string]any
		require.NoError(t, json.Unmarshal(body, &result))
		assert.Equal(t, true, result["received"])
		assert.Equal(t, true, result["processed"])
	})

	t.Run("duplicate delivery is acknowledged unprocessed", func(t *testing.T) {
		resp, body := h.post(t, "/webhook/test", []byte(`{"ping":true}`), map[string]string{
			"X-Test-Nonce": "delivery-1",
		})

		require.Equal(t, http.StatusOK, resp.StatusCode)

		var result map[string]any
		require.NoError(t, json.Unmarshal(body, &result))
		assert.Equal(t, true, result["received"])
		assert.Equal(t, false, result["processed"])
	})

	t.Run("plaid transactions webhook triggers a sync", func(t *testing.T) {
		provider.On("SyncAccount", mock.Anything, "account-for-item-1").
			Return(syncer.Result{AccountID: "account-for-item-1", Added: 2}, nil).
			Once()

		payload := []byte(`{
			"webhook_type": "TRANSACTIONS",
			"webhook_code": "SYNC_UPDATES_AVAILABLE",
			"webhook_id": "wh-1",
			"item_id": "item-1"
		}`)

		resp, body := h.post(t, "/webhook/plaid", payload, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var result map[string]any
		require.NoError(t, json.Unmarshal(body, &result))
		assert.Equal(t, true, result["processed"])

		h.trigger.Wait()
	})
}

func TestHealthAndStatus(t *testing.T) {
	h := newHarness(t, mocks.NewProvider(t), ratelimit.Config{})

	t.Run("health reports mode", func(t *testing.T) {
		resp, body := h.get(t, "/health")
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var result map[string]string
		require.NoError(t, json.Unmarshal(body, &result))
		assert.Equal(t, "healthy", result["status"])
		assert.Equal(t, "direct", result["mode"])
	})

	t.Run("status exposes the gateway snapshot", func(t *testing.T) {
		resp, body := h.get(t, "/v1/status")
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var result struct {
			Status  string           `json:"status"`
			Gateway metrics.Snapshot `json:"gateway"`
		}
		require.NoError(t, json.Unmarshal(body, &result))
		assert.Equal(t, "healthy", result.Status)
		assert.Equal(t, "direct", result.Gateway.Mode)
	})
}

func TestManualSyncEndpoint(t *testing.T) {
	provider := mocks.NewProvider(t)
	h := newHarness(t, provider, ratelimit.Config{ManualLimit: 1})

	t.Run("manual sync returns the result", func(t *testing.T) {
		provider.On("SyncAccount", mock.Anything, "acct-1").
			Return(syncer.Result{AccountID: "acct-1", Added: 5, CompletedAt: time.Now()}, nil).
			Once()

		resp, body := h.post(t, "/v1/accounts/acct-1/sync", nil, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var result map[string]any
		require.NoError(t, json.Unmarshal(body, &result))
		assert.Equal(t, "acct-1", result["account_id"])
		assert.Equal(t, float64(5), result["added"])
	})

	t.Run("rate limited sync returns 429", func(t *testing.T) {
		resp, _ := h.post(t, "/v1/accounts/acct-1/sync", nil, nil)
		assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	})
}

func TestConnectEndpoints(t *testing.T) {
	h := newHarness(t, mocks.NewProvider(t), ratelimit.Config{})

	resp, body := h.post(t, "/v1/connect/plaid", nil, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var session map[string]any
	require.NoError(t, json.Unmarshal(body, &session))
	sessionID, _ := session["session_id"].(string)
	require.NotEmpty(t, sessionID)
	assert.Equal(t, "pending", session["status"])
	assert.Equal(t, "direct", session["mode"])

	t.Run("callback completes the session", func(t *testing.T) {
		creds, err := json.Marshal(relay.Credentials{PublicToken: "tok-123", Provider: "plaid"})
		require.NoError(t, err)

		resp, _ := h.post(t, "/v1/connect/sessions/"+sessionID+"/complete", creds, nil)
		require.Equal(t, http.StatusNoContent, resp.StatusCode)

		resp, body := h.get(t, "/v1/connect/sessions/"+sessionID)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var result map[string]any
		require.NoError(t, json.Unmarshal(body, &result))
		assert.Equal(t, "completed", result["status"])

		credentials, ok := result["credentials"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "tok-123", credentials["public_token"])
	})

	t.Run("cancelling a completed session conflicts", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodDelete, h.server.URL+"/v1/connect/sessions/"+sessionID, nil)
		require.NoError(t, err)

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})

	t.Run("unknown session is 404", func(t *testing.T) {
		resp, _ := h.get(t, "/v1/connect/sessions/does-not-exist")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

package connection_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/marcelsud/finsync/connection"
	"github.com/marcelsud/finsync/faults"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePinger struct {
	err error
}

func (f *fakePinger) Ping(ctx context.Context) error { return f.err }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func healthyEndpoint(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestSelect_Auto(t *testing.T) {
	ctx := context.Background()

	t.Run("direct wins when endpoint reachable", func(t *testing.T) {
		endpoint := healthyEndpoint(t)

		selector := connection.NewSelector(connection.Config{
			PublicURL: "https://hooks.example.com",
			ProbeURL:  endpoint.URL,
		}, &fakePinger{}, testLogger())

		selection, err := selector.Select(ctx, connection.PurposeWebhook)
		require.NoError(t, err)
		assert.Equal(t, connection.ModeDirect, selection.Mode)
		assert.Equal(t, connection.PurposeWebhook, selection.Purpose)
	})

	t.Run("relay when no public URL but relay healthy", func(t *testing.T) {
		selector := connection.NewSelector(connection.Config{
			RelayWebhookID: "wh-1",
			RelayAPIKey:    "key-1",
		}, &fakePinger{}, testLogger())

		selection, err := selector.Select(ctx, connection.PurposeWebhook)
		require.NoError(t, err)
		assert.Equal(t, connection.ModeRelay, selection.Mode)
	})

	t.Run("polling as terminal webhook fallback", func(t *testing.T) {
		selector := connection.NewSelector(connection.Config{}, nil, testLogger())

		selection, err := selector.Select(ctx, connection.PurposeWebhook)
		require.NoError(t, err)
		assert.Equal(t, connection.ModePolling, selection.Mode)
	})

	t.Run("oauth fails instead of degrading to polling", func(t *testing.T) {
		selector := connection.NewSelector(connection.Config{}, nil, testLogger())

		_, err := selector.Select(ctx, connection.PurposeOAuth)
		require.Error(t, err)

		fault, ok := faults.Classify(err)
		require.True(t, ok)
		assert.Equal(t, faults.CategoryConfig, fault.Category)
		assert.False(t, fault.Recoverable)
	})

	t.Run("unhealthy relay falls through to polling", func(t *testing.T) {
		selector := connection.NewSelector(connection.Config{
			RelayWebhookID: "wh-1",
			RelayAPIKey:    "key-1",
		}, &fakePinger{err: errors.New("relay down")}, testLogger())

		selection, err := selector.Select(ctx, connection.PurposeWebhook)
		require.NoError(t, err)
		assert.Equal(t, connection.ModePolling, selection.Mode)
	})

	t.Run("5xx probe response means direct unavailable", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer server.Close()

		selector := connection.NewSelector(connection.Config{
			PublicURL: "https://hooks.example.com",
			ProbeURL:  server.URL,
		}, nil, testLogger())

		selection, err := selector.Select(ctx, connection.PurposeWebhook)
		require.NoError(t, err)
		assert.Equal(t, connection.ModePolling, selection.Mode)
	})
}

func TestSelect_ExplicitMode(t *testing.T) {
	ctx := context.Background()

	t.Run("explicit mode skips probing", func(t *testing.T) {
		// No probe URL and no relay: an auto selection would degrade,
		// but the explicit mode is honored as configured
		selector := connection.NewSelector(connection.Config{
			Mode: connection.ModeRelay,
		}, nil, testLogger())

		selection, err := selector.Select(ctx, connection.PurposeWebhook)
		require.NoError(t, err)
		assert.Equal(t, connection.ModeRelay, selection.Mode)
		assert.Equal(t, "explicitly configured", selection.Reason)
	})

	t.Run("explicit polling rejected for oauth", func(t *testing.T) {
		selector := connection.NewSelector(connection.Config{
			Mode: connection.ModePolling,
		}, nil, testLogger())

		_, err := selector.Select(ctx, connection.PurposeOAuth)
		require.Error(t, err)
	})
}

func TestCanUpgrade(t *testing.T) {
	ctx := context.Background()

	t.Run("polling upgrades to direct when probe passes", func(t *testing.T) {
		endpoint := healthyEndpoint(t)

		selector := connection.NewSelector(connection.Config{
			PublicURL: "https://hooks.example.com",
			ProbeURL:  endpoint.URL,
		}, nil, testLogger())

		mode, ok := selector.CanUpgrade(ctx, connection.ModePolling, connection.PurposeWebhook)
		require.True(t, ok)
		assert.Equal(t, connection.ModeDirect, mode)
	})

	t.Run("polling upgrades to relay when only relay healthy", func(t *testing.T) {
		selector := connection.NewSelector(connection.Config{
			RelayWebhookID: "wh-1",
			RelayAPIKey:    "key-1",
		}, &fakePinger{}, testLogger())

		mode, ok := selector.CanUpgrade(ctx, connection.ModePolling, connection.PurposeWebhook)
		require.True(t, ok)
		assert.Equal(t, connection.ModeRelay, mode)
	})

	t.Run("direct has nothing to upgrade to", func(t *testing.T) {
		selector := connection.NewSelector(connection.Config{}, nil, testLogger())

		_, ok := selector.CanUpgrade(ctx, connection.ModeDirect, connection.PurposeWebhook)
		assert.False(t, ok)
	})

	t.Run("no upgrade when nothing is healthy", func(t *testing.T) {
		selector := connection.NewSelector(connection.Config{}, nil, testLogger())

		_, ok := selector.CanUpgrade(ctx, connection.ModePolling, connection.PurposeWebhook)
		assert.False(t, ok)
	})
}

func TestModeStrings(t *testing.T) {
	assert.Equal(t, "direct", connection.ModeDirect.String())
	assert.Equal(t, "auto", connection.ModeAuto.String())
	assert.Error(t, connection.ModeAuto.Validate())
	assert.NoError(t, connection.ModePolling.Validate())
	assert.True(t, connection.ModeDirect.HigherPriority(connection.ModePolling))
	assert.False(t, connection.ModePolling.HigherPriority(connection.ModeDirect))
}

func TestParseMode(t *testing.T) {
	for str, want := range map[string]connection.Mode{
		"auto":    connection.ModeAuto,
		"direct":  connection.ModeDirect,
		"relay":   connection.ModeRelay,
		"polling": connection.ModePolling,
	} {
		mode, err := connection.ParseMode(str)
		require.NoError(t, err)
		assert.Equal(t, want, mode)
	}

	// A typo must surface as a configuration error, not degrade to auto
	_, err := connection.ParseMode("realy")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "realy")
}

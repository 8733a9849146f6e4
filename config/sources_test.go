package config_test

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marcelsud/finsync/config"
	"github.com/marcelsud/finsync/webhook"
)

func writeSourcesFile(t *testing.T, content string) string {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "sources-*.yaml")
	require.NoError(t, err)
	t.Cleanup(func() { os.Remove(tmpFile.Name()) })

	_, err = tmpFile.WriteString(content)
	require.NoError(t, err)
	tmpFile.Close()

	return tmpFile.Name()
}

func TestSourceLoader_Load(t *testing.T) {
	t.Run("success - valid sources file", func(t *testing.T) {
		path := writeSourcesFile(t, `
sources:
  - source: "plaid"
    secret: "plaid-verification-key"
    tolerance_seconds: 300
    nonce_ttl_hours: 24
  - source: "gocardless"
    secret: "gc-secret"
    replay_protection: false
  - source: "test"
    enabled: false
`)

		loader := config.NewSourceLoader()
		require.NoError(t, loader.Load(path))

		all := loader.List()
		assert.Len(t, all, 3)

		plaid, err := loader.Get(webhook.Plaid)
		require.NoError(t, err)
		assert.Equal(t, webhook.Plaid, plaid.Source)
		assert.True(t, plaid.Enabled)
		assert.True(t, plaid.Security.SignatureVerification)
		assert.True(t, plaid.Security.ReplayProtection)
		assert.Equal(t, "plaid-verification-key", plaid.Security.Secret)
		assert.Equal(t, 5*time.Minute, plaid.Security.Tolerance)
		assert.Equal(t, 24*time.Hour, plaid.Security.NonceTTL)

		gc, err := loader.Get(webhook.GoCardless)
		require.NoError(t, err)
		assert.True(t, gc.Security.SignatureVerification)
		assert.False(t, gc.Security.ReplayProtection)

		test, err := loader.Get(webhook.Test)
		require.NoError(t, err)
		assert.False(t, test.Enabled)
		assert.False(t, test.Security.SignatureVerification)
	})

	t.Run("error - file not found", func(t *testing.T) {
		loader := config.NewSourceLoader()
		err := loader.Load("nonexistent.yaml")

		require.Error(t, err)
		assert.Contains(t, err.Error(), "reading sources file")
	})

	t.Run("error - invalid YAML", func(t *testing.T) {
		path := writeSourcesFile(t, `invalid yaml content: [[[`)

		loader := config.NewSourceLoader()
		err := loader.Load(path)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "parsing sources YAML")
	})

	t.Run("error - unknown source", func(t *testing.T) {
		path := writeSourcesFile(t, `
sources:
  - source: "stripe"
    secret: "whsec_abc"
`)

		loader := config.NewSourceLoader()
		err := loader.Load(path)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid source")
	})

	t.Run("error - verification without secret", func(t *testing.T) {
		path := writeSourcesFile(t, `
sources:
  - source: "plaid"
    signature_verification: true
`)

		loader := config.NewSourceLoader()
		err := loader.Load(path)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "requires a secret")
	})

	t.Run("error - negative tolerance", func(t *testing.T) {
		path := writeSourcesFile(t, `
sources:
  - source: "plaid"
    secret: "key"
    tolerance_seconds: -1
`)

		loader := config.NewSourceLoader()
		err := loader.Load(path)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "tolerance_seconds cannot be negative")
	})
}

func TestSourceLoader_Get(t *testing.T) {
	t.Run("source not configured", func(t *testing.T) {
		loader := config.NewSourceLoader()

		_, err := loader.Get(webhook.Gmail)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "source not configured")
	})
}

func TestSourceLoader_Exists(t *testing.T) {
	path := writeSourcesFile(t, `
sources:
  - source: "gmail"
`)

	loader := config.NewSourceLoader()
	require.NoError(t, loader.Load(path))

	t.Run("source exists", func(t *testing.T) {
		assert.True(t, loader.Exists(webhook.Gmail))
	})

	t.Run("source does not exist", func(t *testing.T) {
		assert.False(t, loader.Exists(webhook.Plaid))
	})
}

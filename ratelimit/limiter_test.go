package ratelimit_test

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/marcelsud/finsync/ratelimit"
	"github.com/stretchr/testify/assert"
)

func newLimiter(cfg ratelimit.Config) *ratelimit.Limiter {
	return ratelimit.New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestAllowWebhookSync_WindowLimit(t *testing.T) {
	limiter := newLimiter(ratelimit.Config{
		ManualLimit:  10,
		WebhookLimit: 3,
		Window:       200 * time.Millisecond,
	})

	for i := 0; i < 3; i++ {
		assert.True(t, limiter.AllowWebhookSync("acc-1"), "request %d should pass", i+1)
	}
	assert.False(t, limiter.AllowWebhookSync("acc-1"), "4th request within window must be rejected")

	time.Sleep(250 * time.Millisecond)

	assert.True(t, limiter.AllowWebhookSync("acc-1"), "window elapsed, requests allowed again")
}

func TestAllowManualSync_IndependentBucket(t *testing.T) {
	limiter := newLimiter(ratelimit.Config{
		ManualLimit:  2,
		WebhookLimit: 3,
		Window:       time.Minute,
		// threshold of 1.0 keeps the breaker out of this test
		CircuitThreshold: 1.0,
	})

	// Exhaust the webhook bucket; manual syncs are unaffected
	for i := 0; i < 3; i++ {
		limiter.AllowWebhookSync("acc-1")
	}
	assert.False(t, limiter.AllowWebhookSync("acc-1"))

	assert.True(t, limiter.AllowManualSync("acc-1"))
	assert.True(t, limiter.AllowManualSync("acc-1"))
	assert.False(t, limiter.AllowManualSync("acc-1"), "manual bucket has its own limit")
}

func TestCircuitBreaker_OpensOnCombinedPressure(t *testing.T) {
	/* total limit 10, threshold 0.8: the breaker opens once combined
	 * usage reaches 8, even though the webhook bucket has headroom
	 */
	limiter := newLimiter(ratelimit.Config{
		ManualLimit:      5,
		WebhookLimit:     5,
		Window:           300 * time.Millisecond,
		CircuitThreshold: 0.8,
	})

	for i := 0; i < 5; i++ {
		assert.True(t, limiter.AllowManualSync("acc-1"))
	}
	for i := 0; i < 3; i++ {
		assert.True(t, limiter.AllowWebhookSync("acc-1"))
	}

	// Combined usage is now 8 of 10
	assert.False(t, limiter.AllowWebhookSync("acc-1"), "threshold reached, breaker opens")
	assert.True(t, limiter.BreakerOpen())

	// The breaker blocks every account, including fresh ones
	assert.False(t, limiter.AllowWebhookSync("acc-never-seen"))

	// Manual syncs are not gated by the breaker
	manual, _ := limiter.Usage()
	assert.Equal(t, 5, manual)

	time.Sleep(350 * time.Millisecond)

	assert.False(t, limiter.BreakerOpen(), "breaker auto-closes after the window")
	assert.True(t, limiter.AllowWebhookSync("acc-1"))
}

func TestUsage(t *testing.T) {
	limiter := newLimiter(ratelimit.Config{
		ManualLimit:      10,
		WebhookLimit:     3,
		Window:           time.Minute,
		CircuitThreshold: 1.0,
	})

	limiter.AllowManualSync("a")
	limiter.AllowWebhookSync("a")
	limiter.AllowWebhookSync("b")

	manual, webhook := limiter.Usage()
	assert.Equal(t, 1, manual)
	assert.Equal(t, 2, webhook)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "manual", ratelimit.Manual.String())
	assert.Equal(t, "webhook", ratelimit.Webhook.String())
	assert.Equal(t, "unknown", ratelimit.Kind(99).String())
}

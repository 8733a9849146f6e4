package ratelimit

import (
	"log/slog"
	"sync"
	"time"
)

/* Limiter guards sync triggers with two independent sliding windows
 * The manual bucket exists so an operator- or agent-triggered sync is
 * never starved by a webhook flood; the webhook bucket keeps floods
 * from exhausting the upstream provider's API quota
 * A circuit breaker sits above both: sustained combined pressure opens
 * it and blocks webhook syncs for one full window, even for accounts
 * with headroom, because the provider's rate limit is global
 * State is deliberately process-local: rate limiting here is coarse
 * abuse protection, not an exact cross-process invariant
 */

// Kind distinguishes the two sliding-window buckets
type Kind int

const (
	Manual Kind = iota + 1
	Webhook
)

// String returns the string representation of the kind
func (k Kind) String() string {
	switch k {
	case Manual:
		return "manual"
	case Webhook:
		return "webhook"
	default:
		return "unknown"
	}
}

const (
	DefaultManualLimit      = 10
	DefaultWebhookLimit     = 3
	DefaultWindow           = time.Minute
	DefaultCircuitThreshold = 0.8
)

// Config bounds both buckets and the breaker
type Config struct {
	ManualLimit      int           // syncs per window, manual bucket
	WebhookLimit     int           // syncs per window, webhook bucket
	Window           time.Duration // sliding window duration
	CircuitThreshold float64       // fraction of combined limit that opens the breaker
}

func (c Config) withDefaults() Config {
	if c.ManualLimit <= 0 {
		c.ManualLimit = DefaultManualLimit
	}
	if c.WebhookLimit <= 0 {
		c.WebhookLimit = DefaultWebhookLimit
	}
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	if c.CircuitThreshold <= 0 || c.CircuitThreshold > 1 {
		c.CircuitThreshold = DefaultCircuitThreshold
	}
	return c
}

// Limiter is safe for concurrent use
type Limiter struct {
	mu      sync.Mutex
	cfg     Config
	manual  []time.Time
	webhook []time.Time

	breakerOpenUntil time.Time

	logger *slog.Logger
}

// New creates a limiter with the given config, filling in defaults
func New(cfg Config, logger *slog.Logger) *Limiter {
	return &Limiter{
		cfg:    cfg.withDefaults(),
		logger: logger,
	}
}

// AllowManualSync checks only the manual bucket and records the attempt
// when allowed. Manual syncs never open or consult the breaker.
func (l *Limiter) AllowManualSync(accountID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	l.prune(now)

	if len(l.manual) >= l.cfg.ManualLimit {
		l.logger.Warn("manual sync rate limited", "account_id", accountID)
		return false
	}

	l.manual = append(l.manual, now)
	return true
}

// AllowWebhookSync checks the breaker, the webhook bucket, and combined
// pressure, in that order, and records the attempt when allowed
func (l *Limiter) AllowWebhookSync(accountID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	l.prune(now)

	if now.Before(l.breakerOpenUntil) {
		l.logger.Warn("webhook sync blocked by open circuit",
			"account_id", accountID,
			"open_until", l.breakerOpenUntil,
		)
		return false
	}

	if len(l.webhook) >= l.cfg.WebhookLimit {
		l.logger.Warn("webhook sync rate limited", "account_id", accountID)
		return false
	}

	combined := len(l.manual) + len(l.webhook)
	total := l.cfg.ManualLimit + l.cfg.WebhookLimit
	if float64(combined) >= l.cfg.CircuitThreshold*float64(total) {
		l.breakerOpenUntil = now.Add(l.cfg.Window)
		l.logger.Warn("circuit breaker opened",
			"combined_usage", combined,
			"total_limit", total,
			"open_until", l.breakerOpenUntil,
		)
		return false
	}

	l.webhook = append(l.webhook, now)
	return true
}

// BreakerOpen reports whether the circuit is currently open.
// The breaker closes on its own once the open period elapses.
func (l *Limiter) BreakerOpen() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return time.Now().Before(l.breakerOpenUntil)
}

// Usage returns current window counts, for metrics and status output
func (l *Limiter) Usage() (manual, webhook int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(time.Now())
	return len(l.manual), len(l.webhook)
}

// prune drops entries older than the window; callers hold the lock
func (l *Limiter) prune(now time.Time) {
	cutoff := now.Add(-l.cfg.Window)
	l.manual = pruneBefore(l.manual, cutoff)
	l.webhook = pruneBefore(l.webhook, cutoff)
}

func pruneBefore(entries []time.Time, cutoff time.Time) []time.Time {
	kept := entries[:0]
	for _, ts := range entries {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	return kept
}

// Package syncer turns verified webhook events and manual requests into
// rate-limited sync operations against the bank-API-client layer.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	gosync "sync"
	"time"

	"github.com/marcelsud/finsync/events"
	"github.com/marcelsud/finsync/ratelimit"
)

// ErrRateLimited means the sliding-window gate refused the sync
var ErrRateLimited = errors.New("sync rate limited")

// Result summarizes one sync operation
type Result struct {
	AccountID   string
	Added       int
	Modified    int
	Removed     int
	CompletedAt time.Time
}

/* Provider is the collaborator interface to the excluded bank-API layer
 * (Plaid, GoCardless, Gmail clients live behind it)
 */
type Provider interface {
	SyncAccount(ctx context.Context, accountID string) (Result, error)
}

const (
	// DefaultMaxAttempts is how many times a webhook-triggered sync runs
	// before giving up
	DefaultMaxAttempts = 3

	// DefaultBaseDelay seeds the exponential backoff: 1s, 2s, 4s
	DefaultBaseDelay = time.Second
)

/* Trigger owns the async retry machinery around Provider
 * Webhook-triggered syncs run on their own goroutine so the HTTP
 * acknowledgment never waits on a provider call; manual syncs run
 * inline because the caller wants the result
 */
type Trigger struct {
	provider Provider
	limiter  *ratelimit.Limiter
	bus      *events.Bus
	logger   *slog.Logger

	maxAttempts int
	baseDelay   time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     gosync.WaitGroup
}

// Option tweaks retry behavior, mostly for tests
type Option func(*Trigger)

// WithRetry overrides attempt count and backoff base
func WithRetry(maxAttempts int, baseDelay time.Duration) Option {
	return func(t *Trigger) {
		t.maxAttempts = maxAttempts
		t.baseDelay = baseDelay
	}
}

// NewTrigger creates a sync trigger
func NewTrigger(provider Provider, limiter *ratelimit.Limiter, bus *events.Bus, logger *slog.Logger, opts ...Option) *Trigger {
	ctx, cancel := context.WithCancel(context.Background())
	t := &Trigger{
		provider:    provider,
		limiter:     limiter,
		bus:         bus,
		logger:      logger,
		maxAttempts: DefaultMaxAttempts,
		baseDelay:   DefaultBaseDelay,
		ctx:         ctx,
		cancel:      cancel,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// TriggerWebhookSync starts an async sync for the account if the webhook
// rate-limit gate allows it. Returns whether a sync was started.
func (t *Trigger) TriggerWebhookSync(accountID string) bool {
	if !t.limiter.AllowWebhookSync(accountID) {
		return false
	}

	t.bus.Emit(events.TypeSyncTriggered, map[string]any{
		"account_id": accountID,
		"trigger":    ratelimit.Webhook.String(),
	})

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.runWithRetry(accountID)
	}()
	return true
}

// TriggerManualSync runs a sync inline against the manual bucket.
// Manual syncs get exactly one attempt; the caller sees the error.
func (t *Trigger) TriggerManualSync(ctx context.Context, accountID string) (Result, error) {
	if !t.limiter.AllowManualSync(accountID) {
		return Result{}, fmt.Errorf("manual sync for account %s: %w", accountID, ErrRateLimited)
	}

	t.bus.Emit(events.TypeSyncTriggered, map[string]any{
		"account_id": accountID,
		"trigger":    ratelimit.Manual.String(),
	})

	result, err := t.provider.SyncAccount(ctx, accountID)
	if err != nil {
		return Result{}, fmt.Errorf("syncing account %s: %w", accountID, err)
	}
	return result, nil
}

// Close cancels in-flight syncs and waits for their goroutines to exit
func (t *Trigger) Close() {
	t.cancel()
	t.wg.Wait()
}

// Wait blocks until all in-flight webhook syncs have finished.
// Exported for tests that need a deterministic completion point.
func (t *Trigger) Wait() {
	t.wg.Wait()
}

// runWithRetry attempts the sync up to maxAttempts times with exponential
// backoff. Exhausting retries emits sync.failed and stops; the webhook
// delivery itself was already acknowledged.
func (t *Trigger) runWithRetry(accountID string) {
	var lastErr error
	for attempt := 1; attempt <= t.maxAttempts; attempt++ {
		result, err := t.provider.SyncAccount(t.ctx, accountID)
		if err == nil {
			t.logger.Info("sync completed",
				"account_id", accountID,
				"attempt", attempt,
				"added", result.Added,
				"modified", result.Modified,
				"removed", result.Removed,
			)
			return
		}

		lastErr = err
		t.logger.Warn("sync attempt failed",
			"account_id", accountID,
			"attempt", attempt,
			"error", err,
		)

		if attempt == t.maxAttempts {
			break
		}

		delay := t.baseDelay << (attempt - 1) // 1s, 2s, 4s
		select {
		case <-t.ctx.Done():
			return
		case <-time.After(delay):
		}
	}

	t.bus.Emit(events.TypeSyncFailed, map[string]any{
		"account_id": accountID,
		"attempts":   t.maxAttempts,
		"error":      lastErr.Error(),
	})
}

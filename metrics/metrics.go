package metrics

import (
	"context"
	"time"
)

// Snapshot represents the current state of the gateway.
type Snapshot struct {
	// Mode is the active connection mode ("direct", "relay", "polling"),
	// or "stopped" when the webhook manager is not running
	Mode string `json:"mode"`

	// BreakerOpen reports whether the sync circuit breaker is open
	BreakerOpen bool `json:"breaker_open"`

	// ManualSyncsUsed is the manual bucket's usage in the current window
	ManualSyncsUsed int `json:"manual_syncs_used"`

	// WebhookSyncsUsed is the webhook bucket's usage in the current window
	WebhookSyncsUsed int `json:"webhook_syncs_used"`

	// PendingOAuthSessions counts authorization attempts still in flight
	PendingOAuthSessions int `json:"pending_oauth_sessions"`

	// Timestamp when the snapshot was collected
	Timestamp time.Time `json:"timestamp"`
}

// Collector defines the interface for collecting gateway state.
type Collector interface {
	// Collect gathers the current snapshot from the system
	Collect(ctx context.Context) (Snapshot, error)
}

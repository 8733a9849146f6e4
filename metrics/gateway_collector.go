package metrics

import (
	"context"
	"time"
)

// UsageReporter reports sync rate limiter state
type UsageReporter interface {
	Usage() (manual, webhook int)
	BreakerOpen() bool
}

// SessionCounter counts in-flight oauth sessions
type SessionCounter interface {
	Pending() int
}

// GatewayCollector implements the Collector interface over the live
// gateway components. Any nil component simply contributes nothing.
type GatewayCollector struct {
	mode     func() string
	limiter  UsageReporter
	sessions SessionCounter
}

// NewGatewayCollector creates a collector. The mode function is called
// on every collection so the snapshot tracks manager transitions.
func NewGatewayCollector(mode func() string, limiter UsageReporter, sessions SessionCounter) *GatewayCollector {
	return &GatewayCollector{
		mode:     mode,
		limiter:  limiter,
		sessions: sessions,
	}
}

// Collect gathers the current snapshot
func (c *GatewayCollector) Collect(_ context.Context) (Snapshot, error) {
	snapshot := Snapshot{
		Mode:      "stopped",
		Timestamp: time.Now(),
	}

	if c.mode != nil {
		snapshot.Mode = c.mode()
	}
	if c.limiter != nil {
		snapshot.ManualSyncsUsed, snapshot.WebhookSyncsUsed = c.limiter.Usage()
		snapshot.BreakerOpen = c.limiter.BreakerOpen()
	}
	if c.sessions != nil {
		snapshot.PendingOAuthSessions = c.sessions.Pending()
	}

	return snapshot, nil
}

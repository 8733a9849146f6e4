// Package oauth runs provider authorization flows to completion: it
// creates connect sessions, protects relay handoff with PKCE, and polls
// until credentials arrive or the flow terminally fails.
package oauth

import (
	"time"

	"github.com/marcelsud/finsync/connection"
	"github.com/marcelsud/finsync/relay"
)

/* Status is the lifecycle of one authorization attempt
 * Pending is the only non-terminal status; every terminal status keeps
 * the session readable for a grace period before it is destroyed
 */
type Status int

const (
	StatusPending Status = iota + 1
	StatusCompleted
	StatusFailed
	StatusCancelled
	StatusTimeout
)

// String returns the string representation of the status
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	case StatusTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Terminal reports whether the session can no longer change state
func (s Status) Terminal() bool {
	return s != StatusPending
}

// Session is a read-only snapshot of an authorization attempt.
// The code verifier is deliberately absent: it never leaves the service.
type Session struct {
	ID          string
	Provider    string
	Mode        connection.Mode
	Status      Status
	StartedAt   time.Time
	Timeout     time.Duration
	Credentials *relay.Credentials
	Err         error
}

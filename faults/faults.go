// Package faults classifies gateway errors by category and severity and
// attaches the machine-executable recovery actions a caller can take.
package faults

import (
	"errors"
	"fmt"
)

/* Category groups errors by the subsystem that produced them
 * Routing on category keeps recovery decisions out of call sites
 */
type Category int

const (
	CategoryWebhook Category = iota + 1
	CategoryRelay
	CategoryNetwork
	CategoryConfig
)

// String returns the string representation of the category
func (c Category) String() string {
	switch c {
	case CategoryWebhook:
		return "webhook"
	case CategoryRelay:
		return "relay"
	case CategoryNetwork:
		return "network"
	case CategoryConfig:
		return "config"
	default:
		return "unknown"
	}
}

// Severity ranks how an error should surface
type Severity int

const (
	SeverityInfo Severity = iota + 1
	SeverityWarning
	SeverityError
	SeverityFatal
)

// String returns the string representation of the severity
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Action is a machine-executable recovery step
type Action int

const (
	ActionRetryWithDelay Action = iota + 1
	ActionSwitchMode
	ActionReauthenticate
	ActionManualIntervention
)

// String returns the string representation of the action
func (a Action) String() string {
	switch a {
	case ActionRetryWithDelay:
		return "retry_with_delay"
	case ActionSwitchMode:
		return "switch_mode"
	case ActionReauthenticate:
		return "re_authenticate"
	case ActionManualIntervention:
		return "manual_intervention"
	default:
		return "unknown"
	}
}

/* Fault is a classified error
 * It wraps the underlying cause so errors.Is/As still see it
 */
type Fault struct {
	Category    Category
	Severity    Severity
	Recoverable bool
	NextActions []Action
	cause       error
}

// Error implements the error interface
func (f *Fault) Error() string {
	return fmt.Sprintf("%s/%s: %v", f.Category, f.Severity, f.cause)
}

// Unwrap exposes the underlying cause
func (f *Fault) Unwrap() error {
	return f.cause
}

// New creates a classified fault from a message
func New(category Category, severity Severity, recoverable bool, msg string, actions ...Action) *Fault {
	return Wrap(category, severity, recoverable, errors.New(msg), actions...)
}

// Wrap classifies an existing error
func Wrap(category Category, severity Severity, recoverable bool, cause error, actions ...Action) *Fault {
	return &Fault{
		Category:    category,
		Severity:    severity,
		Recoverable: recoverable,
		NextActions: actions,
		cause:       cause,
	}
}

// Classify extracts the Fault from an error chain, if any
func Classify(err error) (*Fault, bool) {
	var fault *Fault
	if errors.As(err, &fault) {
		return fault, true
	}
	return nil, false
}

// IsFatal reports whether the error chain carries a fatal fault
func IsFatal(err error) bool {
	if fault, ok := Classify(err); ok {
		return fault.Severity == SeverityFatal
	}
	return false
}

package connection

import "fmt"

/* Mode is the transport used for webhook reception and OAuth handoff
 * Priority order when selecting automatically: Direct > Relay > Polling
 * Auto is a configuration value only; a selection never resolves to it
 */
type Mode int

const (
	ModeAuto Mode = iota
	ModeDirect
	ModeRelay
	ModePolling
)

// String returns the string representation of the mode
func (m Mode) String() string {
	switch m {
	case ModeAuto:
		return "auto"
	case ModeDirect:
		return "direct"
	case ModeRelay:
		return "relay"
	case ModePolling:
		return "polling"
	default:
		return "unknown"
	}
}

// ParseMode parses a configured mode string. Auto is accepted here
// even though selections never resolve to it.
func ParseMode(str string) (Mode, error) {
	switch str {
	case "auto":
		return ModeAuto, nil
	case "direct":
		return ModeDirect, nil
	case "relay":
		return ModeRelay, nil
	case "polling":
		return ModePolling, nil
	default:
		return 0, fmt.Errorf("unrecognized connection mode %q", str)
	}
}

// Validate checks that the mode is a usable selection result
func (m Mode) Validate() error {
	if m < ModeDirect || m > ModePolling {
		return fmt.Errorf("invalid connection mode: %d", m)
	}
	return nil
}

// HigherPriority reports whether m outranks other in the fallback order
func (m Mode) HigherPriority(other Mode) bool {
	return m >= ModeDirect && other >= ModeDirect && m < other
}

// Purpose distinguishes what the selected transport will carry
type Purpose int

const (
	PurposeWebhook Purpose = iota + 1
	PurposeOAuth
)

// String returns the string representation of the purpose
func (p Purpose) String() string {
	switch p {
	case PurposeWebhook:
		return "webhook"
	case PurposeOAuth:
		return "oauth"
	default:
		return "unknown"
	}
}

/* Selection is a derived, short-lived decision
 * Configuration is the durable input; this result is recomputed on
 * demand and on the health-check cadence, never persisted
 */
type Selection struct {
	Mode     Mode
	Purpose  Purpose
	Reason   string
	Explicit bool // mode was fixed in configuration, not probed
}

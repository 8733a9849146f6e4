package webhook

import "fmt"

/* Source identifies the external provider that delivered a webhook
 * Each source has its own handler, signature scheme, and nonce derivation
 */
type Source int

const (
	Plaid Source = iota + 1
	GoCardless
	Gmail
	Test
)

// String returns the string representation of the source
func (s Source) String() string {
	switch s {
	case Plaid:
		return "plaid"
	case GoCardless:
		return "gocardless"
	case Gmail:
		return "gmail"
	case Test:
		return "test"
	default:
		return "unknown"
	}
}

// NewSource creates a Source from a string
func NewSource(str string) Source {
	switch str {
	case "plaid":
		return Plaid
	case "gocardless":
		return GoCardless
	case "gmail":
		return Gmail
	case "test":
		return Test
	default:
		return 0
	}
}

// Validate checks if the source is valid
func (s Source) Validate() error {
	if s < Plaid || s > Test {
		return fmt.Errorf("invalid source: %d", s)
	}
	return nil
}

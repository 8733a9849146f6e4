package webhook

import (
	"context"
	"errors"
)

/* Verification outcomes live here, not in the security package, so the
 * Router can route on them without importing its own implementation
 */
var (
	// ErrReplay means the nonce was already processed within its TTL
	ErrReplay = errors.New("duplicate webhook delivery")

	// ErrStaleTimestamp means the signed timestamp is outside the tolerance
	ErrStaleTimestamp = errors.New("webhook timestamp outside tolerance")

	// ErrBadSignature means the HMAC did not match the supplied signature
	ErrBadSignature = errors.New("webhook signature mismatch")

	// ErrMissingSignature means verification is on but no signature was sent
	ErrMissingSignature = errors.New("webhook signature missing")
)

// Verifier applies the security checks before a request reaches a handler
type Verifier interface {
	/* Verify runs the configured checks without consuming the nonce
	 * so a failed signature never burns it
	 */
	Verify(ctx context.Context, req Request) error

	/* MarkProcessed records the nonce once the request is accepted
	 * It runs before handler dispatch: a handler failure must not
	 * reopen the door to double-processing on a provider retry
	 */
	MarkProcessed(ctx context.Context, req Request) error
}

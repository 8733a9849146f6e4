package dedupe

import (
	"context"
	"time"
)

/* Small, focused interface following "The Go Way"
 * Written for users of the API, not just for testing
 * The file-backed implementation is the default; a Redis-backed one exists
 * for deployments that already run Redis (see the redis subpackage)
 */

// NonceStore records which webhook nonces have already been processed
type NonceStore interface {
	/* IsProcessed reports whether a nonce was marked within its TTL
	 * An entry whose TTL has elapsed is treated as absent even if it is
	 * still on disk, and may be evicted on the spot
	 */
	IsProcessed(ctx context.Context, nonce string) (bool, error)

	/* MarkProcessed records a nonce with the given TTL
	 * Marking an already-marked nonce refreshes its expiry
	 */
	MarkProcessed(ctx context.Context, nonce string, ttl time.Duration) error

	/* Cleanup removes every expired entry in one pass and returns
	 * the number of entries removed
	 */
	Cleanup(ctx context.Context) (int, error)
}

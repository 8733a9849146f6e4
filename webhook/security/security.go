package security

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/marcelsud/finsync/webhook"
	"github.com/marcelsud/finsync/webhook/dedupe"
)

const (
	// DefaultNonceTTL bounds how long a processed nonce blocks replays
	DefaultNonceTTL = 24 * time.Hour

	// DefaultTolerance is the maximum accepted age of a signed timestamp
	DefaultTolerance = 5 * time.Minute
)

// Aliases to the canonical sentinels the Router dispatches on
var (
	ErrReplay           = webhook.ErrReplay
	ErrStaleTimestamp   = webhook.ErrStaleTimestamp
	ErrBadSignature     = webhook.ErrBadSignature
	ErrMissingSignature = webhook.ErrMissingSignature
)

/* Verifier applies the two independent webhook checks
 * Replay protection runs first because it is cheap and spares the HMAC
 * on known duplicates; signature verification runs second and rejects
 * regardless of replay status
 * Either check can be disabled per deployment
 */
type Verifier struct {
	store     dedupe.NonceStore
	secret    []byte
	replay    bool
	signature bool
	tolerance time.Duration
	nonceTTL  time.Duration
}

// Config controls which checks are active and their bounds
type Config struct {
	Secret                string
	ReplayProtection      bool
	SignatureVerification bool
	Tolerance             time.Duration // zero means DefaultTolerance
	NonceTTL              time.Duration // zero means DefaultNonceTTL
}

// NewVerifier creates a verifier over the given nonce store
func NewVerifier(cfg Config, store dedupe.NonceStore) (*Verifier, error) {
	if cfg.SignatureVerification && cfg.Secret == "" {
		return nil, fmt.Errorf("signature verification requires a secret")
	}
	if cfg.ReplayProtection && store == nil {
		return nil, fmt.Errorf("replay protection requires a nonce store")
	}

	tolerance := cfg.Tolerance
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	ttl := cfg.NonceTTL
	if ttl <= 0 {
		ttl = DefaultNonceTTL
	}

	return &Verifier{
		store:     store,
		secret:    []byte(cfg.Secret),
		replay:    cfg.ReplayProtection,
		signature: cfg.SignatureVerification,
		tolerance: tolerance,
		nonceTTL:  ttl,
	}, nil
}

// Verify runs the configured checks against the request.
// It does not mark the nonce; call MarkProcessed once the request is
// accepted so a failed signature never consumes the nonce.
func (v *Verifier) Verify(ctx context.Context, req webhook.Request) error {
	if v.replay {
		if err := v.checkReplay(ctx, req); err != nil {
			return err
		}
	}
	if v.signature {
		if err := v.checkSignature(req); err != nil {
			return err
		}
	}
	return nil
}

// MarkProcessed records the request nonce so retried deliveries are
// rejected as replays. Marking happens before handler dispatch: a handler
// failure must not reopen the door to double-processing.
func (v *Verifier) MarkProcessed(ctx context.Context, req webhook.Request) error {
	if !v.replay || req.Nonce == "" {
		return nil
	}
	if err := v.store.MarkProcessed(ctx, req.Nonce, v.nonceTTL); err != nil {
		return fmt.Errorf("recording nonce: %w", err)
	}
	return nil
}

func (v *Verifier) checkReplay(ctx context.Context, req webhook.Request) error {
	if !req.Timestamp.IsZero() {
		age := time.Since(req.Timestamp)
		if age > v.tolerance || age < -v.tolerance {
			return ErrStaleTimestamp
		}
	}

	if req.Nonce == "" {
		return nil
	}

	processed, err := v.store.IsProcessed(ctx, req.Nonce)
	if err != nil {
		return fmt.Errorf("checking nonce: %w", err)
	}
	if processed {
		return ErrReplay
	}
	return nil
}

func (v *Verifier) checkSignature(req webhook.Request) error {
	if req.Signature == "" {
		return ErrMissingSignature
	}

	supplied, err := hex.DecodeString(req.Signature)
	if err != nil {
		return fmt.Errorf("%w: not hex encoded", ErrBadSignature)
	}

	mac := hmac.New(sha256.New, v.secret)
	mac.Write(req.Body)

	// hmac.Equal is constant time
	if !hmac.Equal(supplied, mac.Sum(nil)) {
		return ErrBadSignature
	}
	return nil
}

// Sign computes the hex HMAC-SHA256 of the payload with the given secret.
// Exported for tests and for the test-source endpoint.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

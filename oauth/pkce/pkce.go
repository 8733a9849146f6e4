// Package pkce implements the RFC 7636 Proof Key for Code Exchange
// challenge/verifier scheme used to protect one-time credential handoff
// through a relay the user does not fully trust.
package pkce

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
)

const (
	// MethodS256 hashes the verifier before it crosses the wire (default)
	MethodS256 = "S256"

	// MethodPlain sends the verifier as its own challenge.
	// Supported only as a protocol fallback, never chosen by this code.
	MethodPlain = "plain"

	// VerifierBytes yields a 43-character verifier, the RFC minimum
	VerifierBytes = 32
)

// Pair holds a generated verifier and its derived challenge
type Pair struct {
	Verifier  string
	Challenge string
	Method    string
}

// NewPair generates a fresh verifier and its S256 challenge.
// The verifier must never leave the initiating process until credential
// retrieval; only the challenge is sent when the session is created.
func NewPair() (Pair, error) {
	raw := make([]byte, VerifierBytes)
	if _, err := rand.Read(raw); err != nil {
		return Pair{}, fmt.Errorf("generating code verifier: %w", err)
	}

	verifier := base64.RawURLEncoding.EncodeToString(raw)
	return Pair{
		Verifier:  verifier,
		Challenge: Challenge(verifier),
		Method:    MethodS256,
	}, nil
}

// Challenge derives the S256 challenge for a verifier:
// base64url(SHA256(verifier)) without padding
func Challenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// Verify reports whether the verifier matches the challenge under the
// given method, using constant-time comparison
func Verify(challenge, verifier, method string) (bool, error) {
	if len(verifier) < 43 || len(verifier) > 128 {
		return false, fmt.Errorf("code verifier must be 43-128 characters, got %d", len(verifier))
	}

	switch method {
	case MethodS256:
		derived := Challenge(verifier)
		return subtle.ConstantTimeCompare([]byte(derived), []byte(challenge)) == 1, nil
	case MethodPlain:
		return subtle.ConstantTimeCompare([]byte(verifier), []byte(challenge)) == 1, nil
	default:
		return false, fmt.Errorf("unsupported code challenge method: %s", method)
	}
}

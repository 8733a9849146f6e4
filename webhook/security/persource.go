package security

import (
	"context"

	"github.com/marcelsud/finsync/webhook"
)

// PerSource routes verification to the verifier configured for the
// request's source. A source without an entry skips both checks, which
// is how unsigned sources (gmail pub/sub, test) pass through.
type PerSource map[webhook.Source]*Verifier

// Verify delegates to the source's verifier, if any
func (p PerSource) Verify(ctx context.Context, req webhook.Request) error {
	if v, ok := p[req.Source]; ok && v != nil {
		return v.Verify(ctx, req)
	}
	return nil
}

// MarkProcessed delegates to the source's verifier, if any
func (p PerSource) MarkProcessed(ctx context.Context, req webhook.Request) error {
	if v, ok := p[req.Source]; ok && v != nil {
		return v.MarkProcessed(ctx, req)
	}
	return nil
}

package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
)

// Handler processes verified, deduplicated requests for one source.
// Implementations must not panic past Handle; the Router converts a
// panic into a 500 response as a last resort.
type Handler interface {
	Source() Source
	Handle(ctx context.Context, req Request) Response
}

/* Router dispatches requests to per-source handlers after running the
 * security checks. The handler registry is resolved at startup, not at
 * request time, to keep request latency predictable.
 */
type Router struct {
	handlers map[Source]Handler
	verifier Verifier // nil disables both security checks
	logger   *slog.Logger
}

// NewRouter creates a router. verifier may be nil for deployments that
// disable both security checks.
func NewRouter(verifier Verifier, logger *slog.Logger) *Router {
	return &Router{
		handlers: make(map[Source]Handler),
		verifier: verifier,
		logger:   logger,
	}
}

// Register adds a handler for its source, replacing any previous one
func (r *Router) Register(h Handler) error {
	if err := h.Source().Validate(); err != nil {
		return fmt.Errorf("registering handler: %w", err)
	}
	r.handlers[h.Source()] = h
	return nil
}

// Process verifies, deduplicates, and dispatches one request
func (r *Router) Process(ctx context.Context, req Request) Response {
	if err := req.Source.Validate(); err != nil {
		return Rejected(http.StatusBadRequest, "unknown_source", "unknown webhook source", false)
	}

	handler, ok := r.handlers[req.Source]
	if !ok {
		// Client configuration problem, not a transient fault
		return Rejected(http.StatusBadRequest, "no_handler",
			fmt.Sprintf("no handler registered for source %s", req.Source), false)
	}

	if r.verifier != nil {
		if err := r.verifier.Verify(ctx, req); err != nil {
			return r.rejectVerification(req, err)
		}

		// Mark before dispatch: retried deliveries of this exact payload
		// must be replay-rejected even if the handler fails below
		if err := r.verifier.MarkProcessed(ctx, req); err != nil {
			r.logger.Error("recording webhook nonce failed",
				"source", req.Source.String(),
				"error", err,
			)
			return Rejected(http.StatusInternalServerError, "nonce_store",
				"failed to record delivery", true)
		}
	}

	return r.dispatch(ctx, handler, req)
}

// rejectVerification maps verification outcomes onto responses.
// Replay is an expected control-flow outcome: the provider retried a
// delivery we already own, so it gets an acknowledgment, not an error.
func (r *Router) rejectVerification(req Request, err error) Response {
	switch {
	case errors.Is(err, ErrReplay):
		r.logger.Info("duplicate webhook delivery acknowledged",
			"source", req.Source.String(),
			"nonce", req.Nonce,
		)
		return AcceptedUnprocessed()
	case errors.Is(err, ErrStaleTimestamp):
		return Rejected(http.StatusUnauthorized, "stale_timestamp",
			"webhook timestamp outside tolerance", false)
	case errors.Is(err, ErrBadSignature), errors.Is(err, ErrMissingSignature):
		r.logger.Warn("webhook signature rejected", "source", req.Source.String())
		return Rejected(http.StatusUnauthorized, "bad_signature",
			"webhook signature verification failed", false)
	default:
		r.logger.Error("webhook verification failed",
			"source", req.Source.String(),
			"error", err,
		)
		return Rejected(http.StatusInternalServerError, "verification",
			"webhook verification failed", true)
	}
}

// dispatch runs the handler, converting a panic into a 500 response
func (r *Router) dispatch(ctx context.Context, handler Handler, req Request) (resp Response) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("webhook handler panicked",
				"source", req.Source.String(),
				"panic", rec,
			)
			resp = Rejected(http.StatusInternalServerError, "handler_panic",
				"internal error processing webhook", true)
		}
	}()

	return handler.Handle(ctx, req)
}

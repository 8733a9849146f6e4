package connection

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/marcelsud/finsync/faults"
)

// DefaultProbeTimeout bounds the direct-endpoint reachability probe
const DefaultProbeTimeout = 3 * time.Second

// RelayPinger is the slice of the relay client the selector needs
type RelayPinger interface {
	Ping(ctx context.Context) error
}

// Config is the durable connection configuration
type Config struct {
	Mode Mode // ModeAuto or an explicit mode honored without probing

	// Direct mode inputs: the public URL advertised to providers and
	// the local endpoint the reachability probe actually hits
	PublicURL string
	ProbeURL  string

	// Relay credentials; both empty means no relay is configured
	RelayWebhookID string
	RelayAPIKey    string

	ProbeTimeout time.Duration
}

/* Selector picks the best available transport for a purpose
 * Direct needs a configured public URL and a passing local probe;
 * Relay needs credentials and a passing relay ping; Polling is the
 * terminal fallback for webhooks but can never deliver a one-shot
 * OAuth credential, so OAuth selection fails instead of degrading
 */
type Selector struct {
	cfg        Config
	relay      RelayPinger // nil when no relay credentials exist
	httpClient *http.Client
	logger     *slog.Logger
}

// NewSelector creates a selector. relay may be nil when the deployment
// has no relay credentials.
func NewSelector(cfg Config, relay RelayPinger, logger *slog.Logger) *Selector {
	timeout := cfg.ProbeTimeout
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}

	return &Selector{
		cfg:        cfg,
		relay:      relay,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Select resolves the mode for the given purpose.
// An explicit non-auto mode is honored without health checks; runtime
// failures on an explicit mode are the manager's emergency-fallback
// problem, not a selection concern.
func (s *Selector) Select(ctx context.Context, purpose Purpose) (Selection, error) {
	if s.cfg.Mode != ModeAuto {
		if purpose == PurposeOAuth && s.cfg.Mode == ModePolling {
			return Selection{}, faults.New(faults.CategoryConfig, faults.SeverityError, false,
				"polling cannot deliver a one-shot oauth credential",
				faults.ActionManualIntervention)
		}
		return Selection{
			Mode:     s.cfg.Mode,
			Purpose:  purpose,
			Reason:   "explicitly configured",
			Explicit: true,
		}, nil
	}

	return s.probe(ctx, purpose)
}

// BestAvailable re-probes every mode and returns the highest-priority
// one that is currently healthy, regardless of configuration
func (s *Selector) BestAvailable(ctx context.Context, purpose Purpose) (Selection, error) {
	return s.probe(ctx, purpose)
}

// CanUpgrade reports whether a mode outranking current is healthy again,
// and which one. Used to promote a degraded session back.
func (s *Selector) CanUpgrade(ctx context.Context, current Mode, purpose Purpose) (Mode, bool) {
	if current == ModeDirect {
		return 0, false
	}

	if ModeDirect.HigherPriority(current) && s.directAvailable(ctx) {
		return ModeDirect, true
	}
	if ModeRelay.HigherPriority(current) && s.relayAvailable(ctx) {
		return ModeRelay, true
	}
	return 0, false
}

func (s *Selector) probe(ctx context.Context, purpose Purpose) (Selection, error) {
	if s.directAvailable(ctx) {
		return Selection{
			Mode:    ModeDirect,
			Purpose: purpose,
			Reason:  "public endpoint reachable",
		}, nil
	}

	if s.relayAvailable(ctx) {
		return Selection{
			Mode:    ModeRelay,
			Purpose: purpose,
			Reason:  "relay healthy, no public endpoint",
		}, nil
	}

	if purpose == PurposeOAuth {
		return Selection{}, faults.New(faults.CategoryConfig, faults.SeverityError, false,
			"oauth needs a direct endpoint or relay credentials; neither is available",
			faults.ActionManualIntervention)
	}

	return Selection{
		Mode:    ModePolling,
		Purpose: purpose,
		Reason:  "no push transport available",
	}, nil
}

// directAvailable requires a configured public URL and a passing probe
// of the local receiving endpoint
func (s *Selector) directAvailable(ctx context.Context) bool {
	if s.cfg.PublicURL == "" {
		return false
	}

	probeURL := s.cfg.ProbeURL
	if probeURL == "" {
		probeURL = s.cfg.PublicURL
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, probeURL, nil)
	if err != nil {
		return false
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.logger.Debug("direct endpoint probe failed", "url", probeURL, "error", err)
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 500 {
		s.logger.Debug("direct endpoint probe unhealthy", "url", probeURL, "status", resp.StatusCode)
		return false
	}
	return true
}

// relayAvailable requires relay credentials and a passing ping
func (s *Selector) relayAvailable(ctx context.Context) bool {
	if s.relay == nil || s.cfg.RelayWebhookID == "" || s.cfg.RelayAPIKey == "" {
		return false
	}

	if err := s.relay.Ping(ctx); err != nil {
		s.logger.Debug("relay ping failed", "error", err)
		return false
	}
	return true
}

// Describe summarizes the configuration for status output
func (s *Selector) Describe() string {
	return fmt.Sprintf("mode=%s public_url=%q relay_configured=%t",
		s.cfg.Mode, s.cfg.PublicURL, s.cfg.RelayWebhookID != "")
}

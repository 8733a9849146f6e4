package oauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/marcelsud/finsync/connection"
	"github.com/marcelsud/finsync/faults"
	"github.com/marcelsud/finsync/oauth/pkce"
	"github.com/marcelsud/finsync/relay"
)

const (
	// DefaultSessionTimeout bounds how long a user gets to finish the
	// provider's authorization UI
	DefaultSessionTimeout = 10 * time.Minute

	// DefaultGracePeriod keeps a terminal session readable so a late
	// status query still sees the outcome instead of "not found"
	DefaultGracePeriod = 30 * time.Second

	// transientRetryDelay spaces out retries after transient relay
	// failures inside the poll loop
	transientRetryDelay = 2 * time.Second
)

// RelayConnector is the slice of the relay client the completion
// service needs
type RelayConnector interface {
	CreateSession(ctx context.Context, challenge, method string) (relay.Session, error)
	RetrieveCredentials(ctx context.Context, sessionID, verifier string, wait time.Duration) (relay.Credentials, error)
	DeleteCredentials(ctx context.Context, sessionID string) error
}

// CompletionConfig tunes session lifetimes and relay polling
type CompletionConfig struct {
	SessionTimeout time.Duration
	GracePeriod    time.Duration
	PollWait       time.Duration
}

// session is the mutable server-side record behind a Session snapshot
type session struct {
	id        string
	provider  string
	mode      connection.Mode
	status    Status
	startedAt time.Time
	timeout   time.Duration
	creds     *relay.Credentials
	err       error

	// relay-mode flow state; the verifier never leaves this struct
	relaySessionID string
	verifier       string

	cancel  context.CancelFunc
	done    chan struct{}
	destroy *time.Timer
}

/* CompletionService owns every in-flight authorization attempt
 * Relay-mode sessions poll in a background goroutine; direct-mode
 * sessions sit pending until the HTTP callback completes them. Either
 * way Wait blocks on the same done channel.
 */
type CompletionService struct {
	selector *connection.Selector
	relay    RelayConnector
	cfg      CompletionConfig
	logger   *slog.Logger

	mu       sync.Mutex
	sessions map[string]*session
	closed   bool
	wg       sync.WaitGroup
}

// NewCompletionService creates a service with no active sessions
func NewCompletionService(selector *connection.Selector, relayConnector RelayConnector, cfg CompletionConfig, logger *slog.Logger) *CompletionService {
	if cfg.SessionTimeout <= 0 {
		cfg.SessionTimeout = DefaultSessionTimeout
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}
	if cfg.PollWait <= 0 {
		cfg.PollWait = relay.DefaultWait
	}
	return &CompletionService{
		selector: selector,
		relay:    relayConnector,
		cfg:      cfg,
		logger:   logger,
		sessions: make(map[string]*session),
	}
}

// Begin starts an authorization attempt for the provider and returns
// its session. In relay mode a PKCE pair is generated, the relay
// session is created, and background polling starts immediately; in
// direct mode the session waits for the provider's callback.
func (s *CompletionService) Begin(ctx context.Context, provider string) (Session, error) {
	selection, err := s.selector.Select(ctx, connection.PurposeOAuth)
	if err != nil {
		return Session{}, fmt.Errorf("selecting oauth connection mode: %w", err)
	}

	sess := &session{
		id:        uuid.New().String(),
		provider:  provider,
		mode:      selection.Mode,
		status:    StatusPending,
		startedAt: time.Now(),
		timeout:   s.cfg.SessionTimeout,
		done:      make(chan struct{}),
	}

	if selection.Mode == connection.ModeRelay {
		if s.relay == nil {
			return Session{}, faults.New(faults.CategoryConfig, faults.SeverityError, false,
				"relay mode selected but no relay client is configured",
				faults.ActionManualIntervention)
		}

		// Only the challenge crosses the relay; the verifier stays here
		// until credential retrieval presents it
		pair, err := pkce.NewPair()
		if err != nil {
			return Session{}, err
		}

		relaySession, err := s.relay.CreateSession(ctx, pair.Challenge, pair.Method)
		if err != nil {
			return Session{}, faults.Wrap(faults.CategoryRelay, faults.SeverityError, true,
				fmt.Errorf("creating relay session: %w", err),
				faults.ActionRetryWithDelay)
		}

		sess.relaySessionID = relaySession.SessionID
		sess.verifier = pair.Verifier
	}

	pollCtx, cancel := context.WithTimeout(context.Background(), sess.timeout)
	sess.cancel = cancel

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		return Session{}, fmt.Errorf("completion service is closed")
	}
	s.sessions[sess.id] = sess
	s.mu.Unlock()

	if sess.mode == connection.ModeRelay {
		s.wg.Add(1)
		go s.pollRelay(pollCtx, sess)
	} else {
		s.wg.Add(1)
		go s.awaitTimeout(pollCtx, sess)
	}

	s.logger.Info("oauth session started",
		"session_id", sess.id,
		"provider", provider,
		"mode", sess.mode.String(),
	)

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(sess.id), nil
}

// CompleteDirect finishes a direct-mode session with credentials
// delivered by the provider's callback
func (s *CompletionService) CompleteDirect(sessionID string, creds relay.Credentials) error {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("unknown oauth session %q", sessionID)
	}
	if sess.status.Terminal() {
		status := sess.status
		s.mu.Unlock()
		return fmt.Errorf("oauth session %q already %s", sessionID, status)
	}
	if sess.mode == connection.ModeRelay {
		s.mu.Unlock()
		return fmt.Errorf("oauth session %q completes through the relay", sessionID)
	}
	s.finishLocked(sess, StatusCompleted, &creds, nil)
	s.mu.Unlock()
	return nil
}

// Cancel aborts a pending session. Cancelling a terminal session is an
// error so callers learn they raced the outcome.
func (s *CompletionService) Cancel(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return fmt.Errorf("unknown oauth session %q", sessionID)
	}
	if sess.status.Terminal() {
		return fmt.Errorf("oauth session %q already %s", sessionID, sess.status)
	}

	s.finishLocked(sess, StatusCancelled, nil, nil)
	return nil
}

// Get returns a snapshot of the session, which survives for the grace
// period after reaching a terminal status
func (s *CompletionService) Get(sessionID string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sessionID]; !ok {
		return Session{}, false
	}
	return s.snapshotLocked(sessionID), true
}

// Pending counts sessions that have not reached a terminal status
func (s *CompletionService) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending := 0
	for _, sess := range s.sessions {
		if !sess.status.Terminal() {
			pending++
		}
	}
	return pending
}

// Wait blocks until the session reaches a terminal status or the
// caller's context expires, then returns the credentials or the
// session's failure
func (s *CompletionService) Wait(ctx context.Context, sessionID string) (relay.Credentials, error) {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	s.mu.Unlock()
	if !ok {
		return relay.Credentials{}, fmt.Errorf("unknown oauth session %q", sessionID)
	}

	select {
	case <-ctx.Done():
		return relay.Credentials{}, ctx.Err()
	case <-sess.done:
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch sess.status {
	case StatusCompleted:
		return *sess.creds, nil
	case StatusCancelled:
		return relay.Credentials{}, fmt.Errorf("oauth session %q was cancelled", sessionID)
	case StatusTimeout:
		return relay.Credentials{}, faults.New(faults.CategoryRelay, faults.SeverityError, true,
			fmt.Sprintf("oauth session %q timed out after %s", sessionID, sess.timeout),
			faults.ActionReauthenticate)
	default:
		if sess.err != nil {
			return relay.Credentials{}, sess.err
		}
		return relay.Credentials{}, fmt.Errorf("oauth session %q failed", sessionID)
	}
}

// Close cancels every pending session and waits for their goroutines.
// Destroy timers are stopped so nothing fires after shutdown.
func (s *CompletionService) Close() {
	s.mu.Lock()
	s.closed = true
	for _, sess := range s.sessions {
		if !sess.status.Terminal() {
			s.finishLocked(sess, StatusCancelled, nil, nil)
		}
		if sess.destroy != nil {
			sess.destroy.Stop()
		}
	}
	s.mu.Unlock()

	s.wg.Wait()
}

// pollRelay long-polls the relay until credentials arrive, a terminal
// protocol error occurs, or the session times out
func (s *CompletionService) pollRelay(ctx context.Context, sess *session) {
	defer s.wg.Done()

	for {
		creds, err := s.relay.RetrieveCredentials(ctx, sess.relaySessionID, sess.verifier, s.cfg.PollWait)
		if err == nil {
			s.mu.Lock()
			if !sess.status.Terminal() {
				s.finishLocked(sess, StatusCompleted, &creds, nil)
			}
			s.mu.Unlock()

			// The relay expires sessions on its own; deletion just
			// shortens the credential's server-side lifetime
			if err := s.relay.DeleteCredentials(context.Background(), sess.relaySessionID); err != nil {
				s.logger.Warn("deleting relay credentials failed",
					"session_id", sess.id,
					"error", err,
				)
			}
			return
		}

		if ctx.Err() != nil {
			s.expire(sess, ctx)
			return
		}

		// Pending means the long-poll elapsed without a credential;
		// the server-side wait already paces the loop, so go again
		if errors.Is(err, relay.ErrPending) {
			continue
		}

		if relay.IsTerminal(err) {
			s.mu.Lock()
			if !sess.status.Terminal() {
				fault := faults.Wrap(faults.CategoryRelay, faults.SeverityError, false,
					err, faults.ActionReauthenticate)
				s.finishLocked(sess, StatusFailed, nil, fault)
			}
			s.mu.Unlock()
			return
		}

		s.logger.Debug("credential poll failed, retrying",
			"session_id", sess.id,
			"error", err,
		)

		select {
		case <-ctx.Done():
			s.expire(sess, ctx)
			return
		case <-time.After(transientRetryDelay):
		}
	}
}

// awaitTimeout expires a direct-mode session that was never completed
func (s *CompletionService) awaitTimeout(ctx context.Context, sess *session) {
	defer s.wg.Done()

	select {
	case <-sess.done:
	case <-ctx.Done():
		s.expire(sess, ctx)
	}
}

// expire marks the session timed out unless something else already
// finished it; an explicit cancel surfaces as context.Canceled here
func (s *CompletionService) expire(sess *session, ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess.status.Terminal() {
		return
	}
	if ctx.Err() == context.DeadlineExceeded {
		s.finishLocked(sess, StatusTimeout, nil, nil)
		return
	}
	s.finishLocked(sess, StatusCancelled, nil, nil)
}

// finishLocked moves the session to a terminal status, wakes waiters,
// and schedules destruction after the grace period. Callers hold s.mu.
func (s *CompletionService) finishLocked(sess *session, status Status, creds *relay.Credentials, err error) {
	sess.status = status
	sess.creds = creds
	sess.err = err
	sess.cancel()
	close(sess.done)

	s.logger.Info("oauth session finished",
		"session_id", sess.id,
		"provider", sess.provider,
		"status", status.String(),
	)

	sess.destroy = time.AfterFunc(s.cfg.GracePeriod, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.sessions, sess.id)
	})
}

// snapshotLocked copies the session for external consumption.
// Callers hold s.mu or know the session cannot change.
func (s *CompletionService) snapshotLocked(sessionID string) Session {
	sess := s.sessions[sessionID]
	snapshot := Session{
		ID:        sess.id,
		Provider:  sess.provider,
		Mode:      sess.mode,
		Status:    sess.status,
		StartedAt: sess.startedAt,
		Timeout:   sess.timeout,
		Err:       sess.err,
	}
	if sess.creds != nil {
		creds := *sess.creds
		snapshot.Credentials = &creds
	}
	return snapshot
}

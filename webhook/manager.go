package webhook

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/marcelsud/finsync/connection"
	"github.com/marcelsud/finsync/events"
	"github.com/marcelsud/finsync/faults"
)

/* State follows the lifecycle: Stopped -> Starting -> Running -> Stopped
 * A mode change is a Running -> Running self-transition; the manager
 * never passes through Stopped to switch modes
 */
type State int

const (
	Stopped State = iota + 1
	Starting
	Running
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Starting:
		return "starting"
	case Running:
		return "running"
	default:
		return "unknown"
	}
}

// Transport provisions and releases the per-mode receiving machinery.
// The hosting environment owns actual socket binding; Direct provisioning
// publishes listener info, Relay establishes the relay connection, and
// Polling schedules the poll loop.
type Transport interface {
	Provision(ctx context.Context, mode connection.Mode) error
	Release(ctx context.Context, mode connection.Mode) error
}

// DefaultHealthCheckInterval is the mode re-evaluation cadence
const DefaultHealthCheckInterval = 60 * time.Second

// downgradeAfter is how many consecutive unhealthy checks force a
// downgrade; a single blip should not bounce the transport
const downgradeAfter = 2

// ManagerConfig controls health checking and automatic transitions
type ManagerConfig struct {
	HealthCheckInterval time.Duration
	AutoModeSwitching   bool // downgrade on sustained failure
	AutoUpgrade         bool // promote when a better mode recovers
}

/* Manager owns the connection mode for webhook reception
 * All mutable state lives on the instance so independent managers
 * (tests run several) never share anything
 */
type Manager struct {
	selector  *connection.Selector
	transport Transport
	bus       *events.Bus
	cfg       ManagerConfig
	logger    *slog.Logger

	mu            sync.Mutex
	state         State
	mode          connection.Mode
	unhealthyFor  int
	cancelHealth  context.CancelFunc
	healthStopped chan struct{}
}

// NewManager creates a stopped manager
func NewManager(selector *connection.Selector, transport Transport, bus *events.Bus, cfg ManagerConfig, logger *slog.Logger) *Manager {
	if cfg.HealthCheckInterval <= 0 {
		cfg.HealthCheckInterval = DefaultHealthCheckInterval
	}
	return &Manager{
		selector:  selector,
		transport: transport,
		bus:       bus,
		cfg:       cfg,
		logger:    logger,
		state:     Stopped,
	}
}

// Start resolves a mode, provisions its transport, and begins the
// recurring health check. With an auto mode, provisioning failure falls
// back to the next-priority mode instead of failing startup; a fixed
// mode that cannot provision is fatal and surfaced to the caller.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != Stopped {
		return fmt.Errorf("manager already %s", m.state)
	}
	m.state = Starting

	selection, err := m.selector.Select(ctx, connection.PurposeWebhook)
	if err != nil {
		m.state = Stopped
		return fmt.Errorf("selecting connection mode: %w", err)
	}

	mode, err := m.provisionWithFallback(ctx, selection)
	if err != nil {
		m.state = Stopped
		return err
	}

	m.mode = mode
	m.state = Running
	m.logger.Info("webhook manager started",
		"mode", mode.String(),
		"reason", selection.Reason,
	)

	healthCtx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	m.cancelHealth = cancel
	m.healthStopped = stopped
	go m.healthLoop(healthCtx, stopped)

	return nil
}

// Stop cancels the health check, releases the transport, and returns
// to Stopped. Stopping an already-stopped manager is a no-op.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if m.state == Stopped {
		m.mu.Unlock()
		return nil
	}

	cancel := m.cancelHealth
	stopped := m.healthStopped
	mode := m.mode
	m.cancelHealth = nil
	m.healthStopped = nil
	m.state = Stopped
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		<-stopped
	}

	if err := m.transport.Release(ctx, mode); err != nil {
		m.logger.Warn("releasing transport failed", "mode", mode.String(), "error", err)
	}

	m.logger.Info("webhook manager stopped")
	return nil
}

// Status reports the current state and, when running, the active mode
func (m *Manager) Status() (State, connection.Mode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, m.mode
}

// provisionWithFallback walks the fallback chain starting at the
// selected mode. A fixed (explicitly configured) selection has a chain
// of one: its failure is fatal.
func (m *Manager) provisionWithFallback(ctx context.Context, selection connection.Selection) (connection.Mode, error) {
	chain := []connection.Mode{selection.Mode}
	if !selection.Explicit {
		for next := selection.Mode + 1; next <= connection.ModePolling; next++ {
			chain = append(chain, next)
		}
	}

	var lastErr error
	for _, mode := range chain {
		if err := m.transport.Provision(ctx, mode); err != nil {
			lastErr = err
			m.logger.Warn("provisioning failed",
				"mode", mode.String(),
				"error", err,
			)
			continue
		}
		return mode, nil
	}

	return 0, faults.Wrap(faults.CategoryNetwork, faults.SeverityFatal, false,
		fmt.Errorf("provisioning %s transport: %w", selection.Mode, lastErr),
		faults.ActionManualIntervention)
}

// healthLoop re-evaluates the mode on a timer until cancelled.
// The stopped channel is passed in rather than read from the struct:
// Stop clears the field, possibly before this goroutine is scheduled.
func (m *Manager) healthLoop(ctx context.Context, stopped chan struct{}) {
	defer close(stopped)

	ticker := time.NewTicker(m.cfg.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.checkHealth(ctx)
		}
	}
}

// checkHealth compares the best available mode against the current one
// and transitions when configuration allows it
func (m *Manager) checkHealth(ctx context.Context) {
	m.mu.Lock()
	current := m.mode
	running := m.state == Running
	m.mu.Unlock()
	if !running {
		return
	}

	best, err := m.selector.BestAvailable(ctx, connection.PurposeWebhook)
	if err != nil {
		m.logger.Warn("health check failed", "error", err)
		return
	}

	switch {
	case best.Mode == current:
		m.mu.Lock()
		m.unhealthyFor = 0
		m.mu.Unlock()

	case best.Mode.HigherPriority(current):
		if !m.cfg.AutoUpgrade {
			return
		}
		// Re-confirm with a fresh probe before bouncing the transport
		to, ok := m.selector.CanUpgrade(ctx, current, connection.PurposeWebhook)
		if !ok {
			return
		}
		m.switchMode(ctx, to, "higher-priority mode healthy again")

	default:
		// Current mode looks unhealthy; require it to stay unhealthy
		// across consecutive checks before downgrading
		m.mu.Lock()
		m.unhealthyFor++
		sustained := m.unhealthyFor >= downgradeAfter
		m.mu.Unlock()

		if sustained && m.cfg.AutoModeSwitching {
			m.switchMode(ctx, best.Mode, "current mode unhealthy")
		}
	}
}

// switchMode performs the Running -> Running transition: provision the
// new transport, release the old one, and emit the mode-change event
func (m *Manager) switchMode(ctx context.Context, to connection.Mode, reason string) {
	m.mu.Lock()
	from := m.mode
	m.mu.Unlock()
	if from == to {
		return
	}

	if err := m.transport.Provision(ctx, to); err != nil {
		m.logger.Warn("mode switch aborted, provisioning failed",
			"from", from.String(),
			"to", to.String(),
			"error", err,
		)
		return
	}

	if err := m.transport.Release(ctx, from); err != nil {
		m.logger.Warn("releasing previous transport failed",
			"mode", from.String(),
			"error", err,
		)
	}

	m.mu.Lock()
	m.mode = to
	m.unhealthyFor = 0
	m.mu.Unlock()

	m.logger.Info("connection mode changed",
		"from", from.String(),
		"to", to.String(),
		"reason", reason,
	)
	m.bus.Emit(events.TypeModeChanged, map[string]any{
		"from":   from.String(),
		"to":     to.String(),
		"reason": reason,
	})
}

package dedupe

import (
	"context"
	"log/slog"
	"time"
)

// DefaultCleanupInterval is how often the background pass runs
const DefaultCleanupInterval = 5 * time.Minute

/* CleanupTask runs the periodic expired-nonce sweep
 * It is an explicit cancellable handle: Stop blocks until the loop has
 * exited, so no timer survives a stopped owner
 */
type CleanupTask struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// StartCleanup begins sweeping the store at the given interval.
// A zero interval uses DefaultCleanupInterval.
func StartCleanup(store NonceStore, interval time.Duration, logger *slog.Logger) *CleanupTask {
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	task := &CleanupTask{
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go func() {
		defer close(task.done)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				removed, err := store.Cleanup(ctx)
				if err != nil {
					logger.Error("nonce cache cleanup failed", "error", err)
					continue
				}
				if removed > 0 {
					logger.Debug("nonce cache cleanup", "removed", removed)
				}
			}
		}
	}()

	return task
}

// Stop cancels the task and waits for the sweep loop to exit
func (t *CleanupTask) Stop() {
	t.cancel()
	<-t.done
}

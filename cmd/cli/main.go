package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/marcelsud/finsync/config"
	"github.com/marcelsud/finsync/events"
	"github.com/marcelsud/finsync/ratelimit"
	"github.com/marcelsud/finsync/syncer"
	"github.com/marcelsud/finsync/webhook/dedupe"
)

/* finsync-cli runs one-shot operations against the same configuration
 * as the service. The cache file is lock-protected, so a concurrent
 * service instance stays consistent.
 */

func main() {
	if len(os.Args) < 2 {
		usage()
		return
	}

	cfg, err := config.GetConfig()
	if err != nil {
		fmt.Println(err)
		return
	}
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	switch os.Args[1] {
	case "sync":
		if len(os.Args) < 3 {
			fmt.Println("usage: finsync-cli sync <account-id>")
			return
		}
		runSync(ctx, cfg, logger, os.Args[2])
	case "cleanup":
		runCleanup(ctx, cfg)
	default:
		usage()
	}
}

func usage() {
	fmt.Println("usage: finsync-cli <sync|cleanup> [args]")
}

// runSync triggers one manual sync against the sync engine
func runSync(ctx context.Context, cfg *config.Config, logger *slog.Logger, accountID string) {
	limiter := ratelimit.New(cfg.RateLimitConfig(), logger)
	trigger := syncer.NewTrigger(syncer.NewHTTPProvider(cfg.SyncEngineURL), limiter, events.NewBus(), logger)
	defer trigger.Close()

	result, err := trigger.TriggerManualSync(ctx, accountID)
	if err != nil {
		fmt.Println(err)
		return
	}
	fmt.Printf("account %s synced: %d added, %d modified, %d removed\n",
		result.AccountID, result.Added, result.Modified, result.Removed)
}

// runCleanup sweeps expired nonces from the shared cache file
func runCleanup(ctx context.Context, cfg *config.Config) {
	store, err := dedupe.NewFileStore(cfg.CachePath)
	if err != nil {
		fmt.Println(err)
		return
	}

	removed, err := store.Cleanup(ctx)
	if err != nil {
		fmt.Println(err)
		return
	}
	fmt.Printf("removed %d expired entries from %s\n", removed, cfg.CachePath)
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/marcelsud/finsync/config"
	"github.com/marcelsud/finsync/connection"
	"github.com/marcelsud/finsync/events"
	gatewayhttp "github.com/marcelsud/finsync/internal/http/chi"
	"github.com/marcelsud/finsync/metrics"
	"github.com/marcelsud/finsync/oauth"
	"github.com/marcelsud/finsync/ratelimit"
	"github.com/marcelsud/finsync/relay"
	"github.com/marcelsud/finsync/syncer"
	"github.com/marcelsud/finsync/webhook"
	"github.com/marcelsud/finsync/webhook/dedupe"
	redisdedupe "github.com/marcelsud/finsync/webhook/dedupe/redis"
	"github.com/marcelsud/finsync/webhook/gmail"
	"github.com/marcelsud/finsync/webhook/gocardless"
	"github.com/marcelsud/finsync/webhook/plaid"
	"github.com/marcelsud/finsync/webhook/security"
	"github.com/marcelsud/finsync/webhook/testsource"
)

const TIMEOUT = 30 * time.Second

/* main wires every layer together: configuration, the nonce store, the
 * security verifiers, the webhook router, the connection manager, the
 * oauth completion service, and the HTTP surface. Imports only point
 * downward; no package imports main.
 */

func main() {
	cfg, err := config.GetConfig()
	if err != nil {
		fmt.Println(err)
		return
	}
	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT,
	)
	defer stop()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	// Nonce store: Redis when configured, otherwise the shared cache
	// file that CLI invocations also lock
	var store dedupe.NonceStore
	if cfg.RedisAddr != "" {
		redisStore, err := redisdedupe.NewStore(cfg.RedisAddr, "", 0)
		if err != nil {
			fmt.Println(err)
			return
		}
		defer redisStore.Close(context.Background())
		store = redisStore
	} else {
		fileStore, err := dedupe.NewFileStore(cfg.CachePath)
		if err != nil {
			fmt.Println(err)
			return
		}
		store = fileStore
	}

	cleanup := dedupe.StartCleanup(store, dedupe.DefaultCleanupInterval, logger)
	defer cleanup.Stop()

	// Per-source security settings
	sources := config.NewSourceLoader()
	if err := sources.Load(cfg.SourcesFile); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			fmt.Println(err)
			return
		}
		logger.Warn("sources file not found, webhook security checks disabled",
			"path", cfg.SourcesFile,
		)
	}

	verifiers := make(security.PerSource)
	for _, entry := range sources.List() {
		if !entry.Enabled {
			continue
		}
		verifier, err := security.NewVerifier(entry.Security, store)
		if err != nil {
			fmt.Println(err)
			return
		}
		verifiers[entry.Source] = verifier
	}

	var relayClient *relay.Client
	var pinger connection.RelayPinger
	if cfg.RelayConfigured() {
		relayClient = relay.NewClient(cfg.RelayURL, cfg.RelayWebhookID, cfg.RelayAPIKey)
		pinger = relayClient
	}

	connCfg, err := cfg.ConnectionConfig()
	if err != nil {
		fmt.Println(err)
		return
	}
	selector := connection.NewSelector(connCfg, pinger, logger)

	bus := events.NewBus()
	limiter := ratelimit.New(cfg.RateLimitConfig(), logger)
	trigger := syncer.NewTrigger(syncer.NewHTTPProvider(cfg.SyncEngineURL), limiter, bus, logger)
	defer trigger.Close()

	router := webhook.NewRouter(verifiers, logger)
	for _, h := range []webhook.Handler{
		plaid.NewHandler(trigger, bus, plaid.ResolverFunc(itemAsAccount), logger),
		gocardless.NewHandler(trigger, logger),
		gmail.NewHandler(bus, logger),
		testsource.NewHandler(logger),
	} {
		if err := router.Register(h); err != nil {
			fmt.Println(err)
			return
		}
	}

	var completionRelay oauth.RelayConnector
	if relayClient != nil {
		completionRelay = relayClient
	}
	completion := oauth.NewCompletionService(selector, completionRelay, oauth.CompletionConfig{
		SessionTimeout: cfg.OAuthTimeout(),
	}, logger)
	defer completion.Close()

	manager := webhook.NewManager(selector, &transport{relay: relayClient, logger: logger}, bus, webhook.ManagerConfig{
		HealthCheckInterval: cfg.HealthCheckInterval(),
		AutoModeSwitching:   cfg.AutoModeSwitching,
		AutoUpgrade:         cfg.AutoUpgrade,
	}, logger)
	if err := manager.Start(ctx); err != nil {
		fmt.Println(err)
		return
	}
	defer manager.Stop(context.Background())

	collector := metrics.NewGatewayCollector(func() string {
		state, mode := manager.Status()
		if state != webhook.Running {
			return state.String()
		}
		return mode.String()
	}, limiter, completion)

	exporter, err := metrics.NewOTelExporter(collector)
	if err != nil {
		fmt.Println(err)
		return
	}
	defer exporter.Shutdown(context.Background())
	exporter.ObserveBus(bus)

	r := gatewayhttp.Handlers(ctx, gatewayhttp.Services{
		Router:     router,
		Completion: completion,
		Trigger:    trigger,
		Collector:  collector,
		Exporter:   exporter,
	})
	srv := &http.Server{
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		Addr:         ":" + cfg.Port,
		Handler:      r,
	}

	errShutdown := make(chan error, 1)
	go shutdown(srv, ctx, errShutdown)
	fmt.Printf("Listening on port %s\n", cfg.Port)
	err = srv.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		fmt.Println(err)
		return
	}
	err = <-errShutdown
	if err != nil {
		fmt.Println(err)
		return
	}
}

// itemAsAccount maps a provider item to the account the sync engine
// addresses. The gateway keeps no account registry, so items pass
// through as account identifiers.
func itemAsAccount(_ context.Context, itemID string) (string, error) {
	return itemID, nil
}

/* transport adapts the deployment to the manager's mode lifecycle
 * The HTTP listener is always bound; per-mode provisioning only decides
 * how deliveries find it
 */
type transport struct {
	relay  *relay.Client
	logger *slog.Logger
}

func (t *transport) Provision(ctx context.Context, mode connection.Mode) error {
	switch mode {
	case connection.ModeRelay:
		if t.relay == nil {
			return fmt.Errorf("relay mode requires relay credentials")
		}
		if err := t.relay.Ping(ctx); err != nil {
			return fmt.Errorf("relay unavailable: %w", err)
		}
	case connection.ModePolling:
		t.logger.Warn("polling mode active, webhook push delivery is unavailable")
	}
	t.logger.Info("transport provisioned", "mode", mode.String())
	return nil
}

func (t *transport) Release(_ context.Context, mode connection.Mode) error {
	t.logger.Info("transport released", "mode", mode.String())
	return nil
}

func shutdown(server *http.Server, ctxShutdown context.Context, errShutdown chan error) {
	<-ctxShutdown.Done()

	ctxTimeout, stop := context.WithTimeout(context.Background(), TIMEOUT)
	defer stop()

	err := server.Shutdown(ctxTimeout)
	switch err {
	case nil:
		fmt.Printf("\nShutting down server...\n")
		errShutdown <- nil
	default:
		errShutdown <- fmt.Errorf("forcing closing the server")
	}
}

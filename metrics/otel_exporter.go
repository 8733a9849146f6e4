package metrics

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/marcelsud/finsync/events"
)

// OTelExporter provides OpenTelemetry metrics export following OTel standards
type OTelExporter struct {
	meterProvider *sdkmetric.MeterProvider
	collector     Collector
	unsubscribe   []func()

	// OTel meters and instruments
	meter             metric.Meter
	webhooksReceived  metric.Int64Counter
	webhooksRejected  metric.Int64Counter
	syncsTriggered    metric.Int64Counter
	syncsFailed       metric.Int64Counter
	modeSwitches      metric.Int64Counter
	modeGauge         metric.Int64ObservableGauge
	syncUsageGauge    metric.Int64ObservableGauge
	breakerGauge      metric.Int64ObservableGauge
	oauthSessionGauge metric.Int64ObservableGauge
}

// NewOTelExporter creates a new OpenTelemetry metrics exporter with Prometheus format
func NewOTelExporter(collector Collector) (*OTelExporter, error) {
	// Create Prometheus exporter
	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("creating prometheus exporter: %w", err)
	}

	// Create meter provider
	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(meterProvider)

	// Create meter with service info
	meter := meterProvider.Meter(
		"finsync",
		metric.WithInstrumentationVersion("1.0.0"),
	)

	oe := &OTelExporter{
		meterProvider: meterProvider,
		collector:     collector,
		meter:         meter,
	}

	// Register metrics instruments
	if err := oe.registerInstruments(); err != nil {
		return nil, fmt.Errorf("registering instruments: %w", err)
	}

	return oe, nil
}

// registerInstruments creates and registers all OpenTelemetry metric instruments
func (oe *OTelExporter) registerInstruments() error {
	var err error

	oe.webhooksReceived, err = oe.meter.Int64Counter(
		"webhook.received",
		metric.WithDescription("Webhooks received per source"),
		metric.WithUnit("{webhooks}"),
	)
	if err != nil {
		return fmt.Errorf("creating received counter: %w", err)
	}

	oe.webhooksRejected, err = oe.meter.Int64Counter(
		"webhook.rejected",
		metric.WithDescription("Webhooks rejected per source and reason"),
		metric.WithUnit("{webhooks}"),
	)
	if err != nil {
		return fmt.Errorf("creating rejected counter: %w", err)
	}

	oe.syncsTriggered, err = oe.meter.Int64Counter(
		"sync.triggered",
		metric.WithDescription("Account syncs triggered per origin"),
		metric.WithUnit("{syncs}"),
	)
	if err != nil {
		return fmt.Errorf("creating syncs triggered counter: %w", err)
	}

	oe.syncsFailed, err = oe.meter.Int64Counter(
		"sync.failed",
		metric.WithDescription("Account syncs that exhausted their retries"),
		metric.WithUnit("{syncs}"),
	)
	if err != nil {
		return fmt.Errorf("creating syncs failed counter: %w", err)
	}

	oe.modeSwitches, err = oe.meter.Int64Counter(
		"connection.mode.switches",
		metric.WithDescription("Connection mode transitions"),
		metric.WithUnit("{switches}"),
	)
	if err != nil {
		return fmt.Errorf("creating mode switches counter: %w", err)
	}

	oe.modeGauge, err = oe.meter.Int64ObservableGauge(
		"connection.mode",
		metric.WithDescription("Active connection mode, reported as 1 with a mode attribute"),
		metric.WithInt64Callback(oe.observeMode),
	)
	if err != nil {
		return fmt.Errorf("creating mode gauge: %w", err)
	}

	oe.syncUsageGauge, err = oe.meter.Int64ObservableGauge(
		"sync.window.usage",
		metric.WithDescription("Sync rate limiter usage per bucket in the current window"),
		metric.WithUnit("{syncs}"),
		metric.WithInt64Callback(oe.observeSyncUsage),
	)
	if err != nil {
		return fmt.Errorf("creating sync usage gauge: %w", err)
	}

	oe.breakerGauge, err = oe.meter.Int64ObservableGauge(
		"sync.breaker.open",
		metric.WithDescription("Whether the sync circuit breaker is open"),
		metric.WithInt64Callback(oe.observeBreaker),
	)
	if err != nil {
		return fmt.Errorf("creating breaker gauge: %w", err)
	}

	oe.oauthSessionGauge, err = oe.meter.Int64ObservableGauge(
		"oauth.sessions.pending",
		metric.WithDescription("Authorization attempts still in flight"),
		metric.WithUnit("{sessions}"),
		metric.WithInt64Callback(oe.observeOAuthSessions),
	)
	if err != nil {
		return fmt.Errorf("creating oauth session gauge: %w", err)
	}

	return nil
}

// RecordWebhook counts one received webhook
func (oe *OTelExporter) RecordWebhook(ctx context.Context, source string) {
	oe.webhooksReceived.Add(ctx, 1, metric.WithAttributes(
		attribute.String("webhook.source", source),
	))
}

// RecordRejection counts one rejected webhook
func (oe *OTelExporter) RecordRejection(ctx context.Context, source, reason string) {
	oe.webhooksRejected.Add(ctx, 1, metric.WithAttributes(
		attribute.String("webhook.source", source),
		attribute.String("reject.reason", reason),
	))
}

// ObserveBus subscribes the counters to gateway events. Shutdown
// removes the subscriptions.
func (oe *OTelExporter) ObserveBus(bus *events.Bus) {
	oe.unsubscribe = append(oe.unsubscribe,
		bus.Subscribe(events.TypeSyncTriggered, func(e events.Event) {
			trigger, _ := e.Payload["trigger"].(string)
			oe.syncsTriggered.Add(context.Background(), 1, metric.WithAttributes(
				attribute.String("sync.trigger", trigger),
			))
		}),
		bus.Subscribe(events.TypeSyncFailed, func(e events.Event) {
			oe.syncsFailed.Add(context.Background(), 1)
		}),
		bus.Subscribe(events.TypeModeChanged, func(e events.Event) {
			from, _ := e.Payload["from"].(string)
			to, _ := e.Payload["to"].(string)
			oe.modeSwitches.Add(context.Background(), 1, metric.WithAttributes(
				attribute.String("mode.from", from),
				attribute.String("mode.to", to),
			))
		}),
	)
}

// observeMode reports the active connection mode
func (oe *OTelExporter) observeMode(ctx context.Context, observer metric.Int64Observer) error {
	snapshot, err := oe.collector.Collect(ctx)
	if err != nil {
		return err
	}

	observer.Observe(1, metric.WithAttributes(
		attribute.String("connection.mode", snapshot.Mode),
	))

	return nil
}

// observeSyncUsage reports per-bucket rate limiter usage
func (oe *OTelExporter) observeSyncUsage(ctx context.Context, observer metric.Int64Observer) error {
	snapshot, err := oe.collector.Collect(ctx)
	if err != nil {
		return err
	}

	observer.Observe(int64(snapshot.ManualSyncsUsed), metric.WithAttributes(
		attribute.String("sync.bucket", "manual"),
	))
	observer.Observe(int64(snapshot.WebhookSyncsUsed), metric.WithAttributes(
		attribute.String("sync.bucket", "webhook"),
	))

	return nil
}

// observeBreaker reports the circuit breaker state
func (oe *OTelExporter) observeBreaker(ctx context.Context, observer metric.Int64Observer) error {
	snapshot, err := oe.collector.Collect(ctx)
	if err != nil {
		return err
	}

	open := int64(0)
	if snapshot.BreakerOpen {
		open = 1
	}
	observer.Observe(open)

	return nil
}

// observeOAuthSessions reports in-flight authorization attempts
func (oe *OTelExporter) observeOAuthSessions(ctx context.Context, observer metric.Int64Observer) error {
	snapshot, err := oe.collector.Collect(ctx)
	if err != nil {
		return err
	}

	observer.Observe(int64(snapshot.PendingOAuthSessions))

	return nil
}

// ServeHTTP serves Prometheus-formatted metrics on the given HTTP handler
func (oe *OTelExporter) ServeHTTP() http.Handler {
	return promhttp.Handler()
}

// Shutdown gracefully shuts down the meter provider
func (oe *OTelExporter) Shutdown(ctx context.Context) error {
	for _, unsub := range oe.unsubscribe {
		unsub()
	}
	oe.unsubscribe = nil

	if oe.meterProvider != nil {
		return oe.meterProvider.Shutdown(ctx)
	}
	return nil
}

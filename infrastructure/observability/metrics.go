package observability

import (
	"context"
	"fmt"
	"sync"
	"time"

	"wealthwars/config"
	"wealthwars/domain/interfaces"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

var _ interfaces.MetricsRecorder = (*MetricsProvider)(nil)

// MetricsProvider records domain metrics through OpenTelemetry
type MetricsProvider struct {
	config        *config.Config
	meterProvider *sdkmetric.MeterProvider
	meter         metric.Meter
	initialized   bool
	enabled       bool
	mu            sync.RWMutex

	linkAttemptsCounter     metric.Int64Counter
	balanceLookupsCounter   metric.Int64Counter
	entriesCounter          metric.Int64Counter
	stakedCounter           metric.Int64Counter
	roundTransitionsCounter metric.Int64Counter
	claimsCounter           metric.Int64Counter
}

// NewMetricsProvider creates a new metrics provider
func NewMetricsProvider(cfg *config.Config) *MetricsProvider {
	return &MetricsProvider{
		config: cfg,
	}
}

// Initialize sets up the exporter selected by the configuration
func (mp *MetricsProvider) Initialize(ctx context.Context) error {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	if mp.initialized {
		return nil
	}

	if !mp.config.OTelEnabled {
		log.Info("OpenTelemetry metrics disabled")
		mp.initialized = true
		return nil
	}

	var (
		exporter sdkmetric.Exporter
		err      error
	)
	switch mp.config.OTelExporterType {
	case "console":
		exporter, err = stdoutmetric.New()
		if err != nil {
			return fmt.Errorf("failed to create console exporter: %w", err)
		}
		log.Info("Using console metric exporter")

	case "otlp":
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		exporter, err = otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(mp.config.OTelOTLPEndpoint),
			otlpmetricgrpc.WithInsecure(),
		)
		if err != nil {
			return fmt.Errorf("failed to create OTLP exporter: %w", err)
		}
		log.WithField("endpoint", mp.config.OTelOTLPEndpoint).Info("Using OTLP metric exporter")

	case "none":
		log.Info("Metrics export disabled (exporter_type='none')")
		mp.initialized = true
		return nil

	default:
		return fmt.Errorf("unknown exporter type: %s", mp.config.OTelExporterType)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(mp.config.OTelServiceName),
			attribute.String("environment", mp.config.Environment),
		),
	)
	if err != nil {
		return fmt.Errorf("failed to create resource: %w", err)
	}

	mp.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(
				exporter,
				sdkmetric.WithInterval(time.Duration(mp.config.OTelExportIntervalMillis)*time.Millisecond),
			),
		),
	)
	otel.SetMeterProvider(mp.meterProvider)

	if err := mp.createInstruments(mp.meterProvider.Meter("wealthwars")); err != nil {
		return fmt.Errorf("failed to create instruments: %w", err)
	}

	mp.initialized = true
	mp.enabled = true
	log.Info("Metrics provider initialized")
	return nil
}

// InitializeWithReader wires the instruments to a caller-supplied reader
func (mp *MetricsProvider) InitializeWithReader(reader sdkmetric.Reader) error {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	mp.meterProvider = sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	if err := mp.createInstruments(mp.meterProvider.Meter("wealthwars")); err != nil {
		return fmt.Errorf("failed to create instruments: %w", err)
	}
	mp.initialized = true
	mp.enabled = true
	return nil
}

func (mp *MetricsProvider) createInstruments(meter metric.Meter) error {
	mp.meter = meter

	counters := []struct {
		dst         *metric.Int64Counter
		name        string
		description string
		unit        string
	}{
		{&mp.linkAttemptsCounter, LinkAttemptsTotal, "Wallet link verifications by outcome", "1"},
		{&mp.balanceLookupsCounter, BalanceLookupsTotal, "Balance lookups by result source", "1"},
		{&mp.entriesCounter, EntriesTotal, "Entries accepted into rounds", "1"},
		{&mp.stakedCounter, StakedTotal, "Stake accepted into round pots in minor units", "1"},
		{&mp.roundTransitionsCounter, RoundTransitionsTotal, "Round lifecycle transitions by target status", "1"},
		{&mp.claimsCounter, ClaimsTotal, "Payout and refund claims by outcome", "1"},
	}

	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name,
			metric.WithDescription(c.description),
			metric.WithUnit(c.unit),
		)
		if err != nil {
			return fmt.Errorf("failed to create %s counter: %w", c.name, err)
		}
		*c.dst = counter
	}
	return nil
}

// Shutdown flushes and stops the exporter
func (mp *MetricsProvider) Shutdown(ctx context.Context) error {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	if mp.meterProvider != nil {
		return mp.meterProvider.Shutdown(ctx)
	}
	return nil
}

func (mp *MetricsProvider) RecordLinkAttempt(outcome string) {
	if !mp.isEnabled() {
		return
	}
	mp.linkAttemptsCounter.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String(LabelOutcome, outcome)),
	)
}

func (mp *MetricsProvider) RecordBalanceLookup(source string) {
	if !mp.isEnabled() {
		return
	}
	mp.balanceLookupsCounter.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String(LabelSource, source)),
	)
}

// RecordEntry counts the entry and its stake. Round ids are left off the labels to bound cardinality.
func (mp *MetricsProvider) RecordEntry(roundID int64, stake int64) {
	if !mp.isEnabled() {
		return
	}
	mp.entriesCounter.Add(context.Background(), 1)
	mp.stakedCounter.Add(context.Background(), stake)
}

func (mp *MetricsProvider) RecordRoundTransition(status string) {
	if !mp.isEnabled() {
		return
	}
	mp.roundTransitionsCounter.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String(LabelStatus, status)),
	)
}

func (mp *MetricsProvider) RecordClaim(kind, outcome string) {
	if !mp.isEnabled() {
		return
	}
	mp.claimsCounter.Add(context.Background(), 1,
		metric.WithAttributes(
			attribute.String(LabelKind, kind),
			attribute.String(LabelOutcome, outcome),
		),
	)
}

func (mp *MetricsProvider) isEnabled() bool {
	mp.mu.RLock()
	defer mp.mu.RUnlock()
	return mp.initialized && mp.enabled
}

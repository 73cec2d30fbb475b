package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes application-level instruments.
type Metrics struct {
	creditGrants     metric.Int64Counter
	creditDeductions metric.Int64Counter
	duplicateEvents  metric.Int64Counter
	unmappedAmounts  metric.Int64Counter
	rejections       metric.Int64Counter
	usageLogFailures metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "creditd"
	}
	meter := provider.Meter(name)

	creditGrants, err := meter.Int64Counter("creditd_credit_grants_total")
	if err != nil {
		return nil, err
	}
	creditDeductions, err := meter.Int64Counter("creditd_credit_deductions_total")
	if err != nil {
		return nil, err
	}
	duplicateEvents, err := meter.Int64Counter("creditd_duplicate_payment_events_total")
	if err != nil {
		return nil, err
	}
	unmappedAmounts, err := meter.Int64Counter("creditd_unmapped_payment_amounts_total")
	if err != nil {
		return nil, err
	}
	rejections, err := meter.Int64Counter("creditd_insufficient_credit_rejections_total")
	if err != nil {
		return nil, err
	}
	usageLogFailures, err := meter.Int64Counter("creditd_usage_log_failures_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		creditGrants:     creditGrants,
		creditDeductions: creditDeductions,
		duplicateEvents:  duplicateEvents,
		unmappedAmounts:  unmappedAmounts,
		rejections:       rejections,
		usageLogFailures: usageLogFailures,
	}, nil
}

func (m *Metrics) RecordGrant(ctx context.Context, planName string, credits int64) {
	if m == nil {
		return
	}
	m.creditGrants.Add(ctx, credits, metric.WithAttributes(attribute.String("plan", planName)))
}

func (m *Metrics) RecordDeduction(ctx context.Context, tool string, credits int64) {
	if m == nil {
		return
	}
	m.creditDeductions.Add(ctx, credits, metric.WithAttributes(attribute.String("tool", tool)))
}

func (m *Metrics) RecordDuplicateEvent(ctx context.Context) {
	if m == nil {
		return
	}
	m.duplicateEvents.Add(ctx, 1)
}

func (m *Metrics) RecordUnmappedAmount(ctx context.Context, amountCents int64) {
	if m == nil {
		return
	}
	m.unmappedAmounts.Add(ctx, 1, metric.WithAttributes(attribute.Int64("amount_cents", amountCents)))
}

func (m *Metrics) RecordInsufficientCredits(ctx context.Context, tool string) {
	if m == nil {
		return
	}
	m.rejections.Add(ctx, 1, metric.WithAttributes(attribute.String("tool", tool)))
}

func (m *Metrics) RecordUsageLogFailure(ctx context.Context) {
	if m == nil {
		return
	}
	m.usageLogFailures.Add(ctx, 1)
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	switch protocol {
	case "", "grpc":
		return otlpmetricgrpc.New(context.Background(),
			otlpmetricgrpc.WithEndpoint(endpoint),
			otlpmetricgrpc.WithInsecure(),
		)
	case "http", "http/protobuf":
		return otlpmetrichttp.New(context.Background(),
			otlpmetrichttp.WithEndpoint(endpoint),
			otlpmetrichttp.WithInsecure(),
		)
	default:
		return nil, fmt.Errorf("unsupported metrics exporter protocol %q", protocol)
	}
}

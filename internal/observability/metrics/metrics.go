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

// Metrics exposes token economy instruments. A nil *Metrics records nothing.
type Metrics struct {
	ledgerPostings       metric.Int64Counter
	checkouts            metric.Int64Counter
	orderTransitions     metric.Int64Counter
	paymentConfirmations metric.Int64Counter
	notifications        metric.Int64Counter
	rateLimitDenied      metric.Int64Counter
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
		name = "stitchery"
	}
	meter := provider.Meter(name)

	ledgerPostings, err := meter.Int64Counter("stitchery_ledger_postings_total")
	if err != nil {
		return nil, err
	}
	checkouts, err := meter.Int64Counter("stitchery_checkout_total")
	if err != nil {
		return nil, err
	}
	orderTransitions, err := meter.Int64Counter("stitchery_order_transitions_total")
	if err != nil {
		return nil, err
	}
	paymentConfirmations, err := meter.Int64Counter("stitchery_payment_confirmations_total")
	if err != nil {
		return nil, err
	}
	notifications, err := meter.Int64Counter("stitchery_notifications_total")
	if err != nil {
		return nil, err
	}
	rateLimitDenied, err := meter.Int64Counter("stitchery_rate_limit_denied_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		ledgerPostings:       ledgerPostings,
		checkouts:            checkouts,
		orderTransitions:     orderTransitions,
		paymentConfirmations: paymentConfirmations,
		notifications:        notifications,
		rateLimitDenied:      rateLimitDenied,
	}, nil
}

func (m *Metrics) RecordLedgerPosting(ctx context.Context, kind, direction string) {
	if m == nil {
		return
	}
	m.ledgerPostings.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("kind", kind),
		attribute.String("direction", direction),
	)...))
}

// RecordCheckout counts checkout attempts by outcome (ok, insufficient, empty, invalid).
func (m *Metrics) RecordCheckout(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.checkouts.Add(ctx, 1, metric.WithAttributes(FilterAttributes(attribute.String("outcome", outcome))...))
}

func (m *Metrics) RecordOrderTransition(ctx context.Context, from, to string) {
	if m == nil {
		return
	}
	m.orderTransitions.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
	)...))
}

func (m *Metrics) RecordPaymentConfirmation(ctx context.Context, source, outcome string) {
	if m == nil {
		return
	}
	m.paymentConfirmations.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("source", source),
		attribute.String("outcome", outcome),
	)...))
}

func (m *Metrics) RecordNotification(ctx context.Context, kind, outcome string) {
	if m == nil {
		return
	}
	m.notifications.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("kind", kind),
		attribute.String("outcome", outcome),
	)...))
}

func (m *Metrics) RecordRateLimitDenied(ctx context.Context, endpoint string) {
	if m == nil {
		return
	}
	m.rateLimitDenied.Add(ctx, 1, metric.WithAttributes(FilterAttributes(attribute.String("endpoint", endpoint))...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"kind":      {},
	"direction": {},
	"outcome":   {},
	"from":      {},
	"to":        {},
	"source":    {},
	"endpoint":  {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}

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

// Metrics exposes application-level instruments for the issuance pipeline.
type Metrics struct {
	documentsIssued    metric.Int64Counter
	documentsErrored   metric.Int64Counter
	documentsCancelled metric.Int64Counter
	gatewayOutcomes    metric.Int64Counter
	sequenceAllocated  metric.Int64Counter
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
		name = "emissor"
	}
	meter := provider.Meter(name)

	documentsIssued, err := meter.Int64Counter("emissor_documents_issued_total")
	if err != nil {
		return nil, err
	}
	documentsErrored, err := meter.Int64Counter("emissor_documents_errored_total")
	if err != nil {
		return nil, err
	}
	documentsCancelled, err := meter.Int64Counter("emissor_documents_cancelled_total")
	if err != nil {
		return nil, err
	}
	gatewayOutcomes, err := meter.Int64Counter("emissor_gateway_outcomes_total")
	if err != nil {
		return nil, err
	}
	sequenceAllocated, err := meter.Int64Counter("emissor_sequence_allocated_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		documentsIssued:    documentsIssued,
		documentsErrored:   documentsErrored,
		documentsCancelled: documentsCancelled,
		gatewayOutcomes:    gatewayOutcomes,
		sequenceAllocated:  sequenceAllocated,
	}, nil
}

// RecordIssued increments successful issuance counts.
func (m *Metrics) RecordIssued(ctx context.Context, issuerID string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("issuer_id", strings.TrimSpace(issuerID)))
	m.documentsIssued.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordErrored increments failed issuance counts with the failure class.
func (m *Metrics) RecordErrored(ctx context.Context, issuerID, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("issuer_id", strings.TrimSpace(issuerID)),
		attribute.String("reason", strings.TrimSpace(reason)),
	)
	m.documentsErrored.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordCancelled increments cancellation counts.
func (m *Metrics) RecordCancelled(ctx context.Context, issuerID string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("issuer_id", strings.TrimSpace(issuerID)))
	m.documentsCancelled.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordGatewayOutcome increments authority submission outcome counts.
func (m *Metrics) RecordGatewayOutcome(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("outcome", strings.TrimSpace(outcome)))
	m.gatewayOutcomes.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordSequenceAllocated increments RPS number allocation counts.
func (m *Metrics) RecordSequenceAllocated(ctx context.Context, issuerID string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("issuer_id", strings.TrimSpace(issuerID)))
	m.sequenceAllocated.Add(ctx, 1, metric.WithAttributes(attrs...))
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
	"issuer_id":   {},
	"outcome":     {},
	"reason":      {},
	"endpoint":    {},
	"status_code": {},
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

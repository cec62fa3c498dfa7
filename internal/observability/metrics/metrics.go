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
	codesIssued    metric.Int64Counter
	tokensIssued   metric.Int64Counter
	grantFailures  metric.Int64Counter
	guardDecisions metric.Int64Counter
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
		name = "authgate"
	}
	meter := provider.Meter(name)

	codesIssued, err := meter.Int64Counter("authgate_authorization_codes_issued_total")
	if err != nil {
		return nil, err
	}
	tokensIssued, err := meter.Int64Counter("authgate_tokens_issued_total")
	if err != nil {
		return nil, err
	}
	grantFailures, err := meter.Int64Counter("authgate_grant_failures_total")
	if err != nil {
		return nil, err
	}
	guardDecisions, err := meter.Int64Counter("authgate_guard_decisions_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		codesIssued:    codesIssued,
		tokensIssued:   tokensIssued,
		grantFailures:  grantFailures,
		guardDecisions: guardDecisions,
	}, nil
}

// RecordCodeIssued increments the authorization code counter.
func (m *Metrics) RecordCodeIssued(ctx context.Context) {
	if m == nil {
		return
	}
	m.codesIssued.Add(ctx, 1)
}

// RecordTokenIssued increments the token counter for a grant type.
func (m *Metrics) RecordTokenIssued(ctx context.Context, grantType string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("grant_type", strings.TrimSpace(grantType)))
	m.tokensIssued.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordGrantFailure increments the grant failure counter.
func (m *Metrics) RecordGrantFailure(ctx context.Context, grantType, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("grant_type", strings.TrimSpace(grantType)),
		attribute.String("reason", strings.TrimSpace(reason)),
	)
	m.grantFailures.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordGuardDecision increments the resource guard decision counter.
func (m *Metrics) RecordGuardDecision(ctx context.Context, allowed bool) {
	if m == nil {
		return
	}
	decision := "denied"
	if allowed {
		decision = "allowed"
	}
	attrs := FilterAttributes(attribute.String("decision", decision))
	m.guardDecisions.Add(ctx, 1, metric.WithAttributes(attrs...))
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
	"grant_type": {},
	"reason":     {},
	"decision":   {},
	"endpoint":   {},
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

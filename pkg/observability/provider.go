package observability

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Provider holds the OpenTelemetry providers and exporters.
type Provider struct {
	MeterProvider *sdkmetric.MeterProvider
	Metrics       *Metrics
	registry      *prometheus.Registry
}

// Config configures the observability provider.
type Config struct {
	// ServiceName is the name of the service for telemetry.
	ServiceName string

	// EnablePrometheus enables the Prometheus metrics exporter.
	EnablePrometheus bool

	// Reader, if set, is attached in addition to the Prometheus exporter.
	// Tests use an sdkmetric.ManualReader here.
	Reader sdkmetric.Reader
}

// DefaultConfig returns default configuration.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:      "daemonstress",
		EnablePrometheus: true,
	}
}

// NewProvider creates a new observability provider.
func NewProvider(cfg *Config) (*Provider, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	p := &Provider{}
	var opts []sdkmetric.Option

	if cfg.EnablePrometheus {
		// A private registry keeps repeated providers (tests, reruns) from
		// colliding in the global default registry.
		p.registry = prometheus.NewRegistry()
		exporter, err := otelprom.New(otelprom.WithRegisterer(p.registry))
		if err != nil {
			return nil, err
		}
		opts = append(opts, sdkmetric.WithReader(exporter))
	}
	if cfg.Reader != nil {
		opts = append(opts, sdkmetric.WithReader(cfg.Reader))
	}

	p.MeterProvider = sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(p.MeterProvider)

	metrics, err := NewMetrics(p.MeterProvider)
	if err != nil {
		return nil, err
	}
	p.Metrics = metrics

	return p, nil
}

// PrometheusHandler returns an http.Handler for the /metrics endpoint.
func (p *Provider) PrometheusHandler() http.Handler {
	if p.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Shutdown gracefully shuts down the provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.MeterProvider != nil {
		return p.MeterProvider.Shutdown(ctx)
	}
	return nil
}

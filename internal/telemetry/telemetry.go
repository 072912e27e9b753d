// Package telemetry wires OpenTelemetry metrics to a Prometheus
// exporter.
package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics holds the instruments used across the service.
type Metrics struct {
	Requests        metric.Int64Counter
	ErrorCount      metric.Int64Counter
	RequestDuration metric.Float64Histogram

	Transitions  metric.Int64Counter
	WorkflowRuns metric.Int64Counter

	registry *prometheus.Registry
}

// RecordTransition counts one server status transition.
func (m *Metrics) RecordTransition(ctx context.Context, serverID, status string) {
	if m == nil {
		return
	}
	m.Transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("server_id", serverID),
		attribute.String("status", status),
	))
}

// PrometheusHandler serves the /metrics scrape endpoint.
func (m *Metrics) PrometheusHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// InitMetrics sets up the meter provider, the Prometheus exporter and
// Go runtime instrumentation. The returned shutdown function flushes
// the provider.
func InitMetrics(version string) (func(context.Context) error, *Metrics, error) {
	registry := prometheus.NewRegistry()

	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, nil, fmt.Errorf("create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	if err := runtime.Start(runtime.WithMinimumReadMemStatsInterval(10 * time.Second)); err != nil {
		return nil, nil, fmt.Errorf("start runtime instrumentation: %w", err)
	}

	meter := provider.Meter("mcpfleet", metric.WithInstrumentationVersion(version))

	m := &Metrics{registry: registry}

	m.Requests, err = meter.Int64Counter("http_requests_total",
		metric.WithDescription("Total HTTP requests"))
	if err != nil {
		return nil, nil, err
	}
	m.ErrorCount, err = meter.Int64Counter("http_request_errors_total",
		metric.WithDescription("HTTP requests that returned 4xx or 5xx"))
	if err != nil {
		return nil, nil, err
	}
	m.RequestDuration, err = meter.Float64Histogram("http_request_duration_seconds",
		metric.WithDescription("HTTP request latency"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, nil, err
	}
	m.Transitions, err = meter.Int64Counter("fleet_transitions_total",
		metric.WithDescription("Server status transitions"))
	if err != nil {
		return nil, nil, err
	}
	m.WorkflowRuns, err = meter.Int64Counter("workflow_runs_total",
		metric.WithDescription("Workflow executions started"))
	if err != nil {
		return nil, nil, err
	}

	return provider.Shutdown, m, nil
}

package observability

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/kadirpekel/hookd/pkg/hooks"
	"github.com/kadirpekel/hookd/pkg/hooks/executor"
)

// Metrics records hook and HTTP metrics through an OpenTelemetry meter
// exported in Prometheus format. A nil *Metrics is a valid no-op recorder.
type Metrics struct {
	registry *prometheus.Registry
	provider *sdkmetric.MeterProvider

	executions      metric.Int64Counter
	executionTime   metric.Float64Histogram
	retries         metric.Int64Counter
	triggers        metric.Int64Counter
	triggerDuration metric.Float64Histogram
	httpRequests    metric.Int64Counter
	httpDuration    metric.Float64Histogram
}

// NewMetrics builds the instruments. It returns nil when metrics are
// disabled.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	cfg.SetDefaults()

	registry := prometheus.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter(DefaultServiceName)
	name := func(suffix string) string { return cfg.Namespace + "_" + suffix }

	m := &Metrics{registry: registry, provider: provider}

	if m.executions, err = meter.Int64Counter(name("hook_executions_total"),
		metric.WithDescription("Hook executions by final status")); err != nil {
		return nil, fmt.Errorf("failed to create executions counter: %w", err)
	}
	if m.executionTime, err = meter.Float64Histogram(name("hook_duration_seconds"),
		metric.WithDescription("Hook execution duration in seconds, retries included")); err != nil {
		return nil, fmt.Errorf("failed to create duration histogram: %w", err)
	}
	if m.retries, err = meter.Int64Counter(name("hook_retries_total"),
		metric.WithDescription("Retry attempts spent by hooks")); err != nil {
		return nil, fmt.Errorf("failed to create retries counter: %w", err)
	}
	if m.triggers, err = meter.Int64Counter(name("triggers_total"),
		metric.WithDescription("Handled events by outcome")); err != nil {
		return nil, fmt.Errorf("failed to create triggers counter: %w", err)
	}
	if m.triggerDuration, err = meter.Float64Histogram(name("trigger_duration_seconds"),
		metric.WithDescription("Summed hook duration per handled event in seconds")); err != nil {
		return nil, fmt.Errorf("failed to create trigger histogram: %w", err)
	}
	if m.httpRequests, err = meter.Int64Counter(name("http_requests_total"),
		metric.WithDescription("HTTP requests served by the control API")); err != nil {
		return nil, fmt.Errorf("failed to create http counter: %w", err)
	}
	if m.httpDuration, err = meter.Float64Histogram(name("http_request_duration_seconds"),
		metric.WithDescription("HTTP request duration in seconds")); err != nil {
		return nil, fmt.Errorf("failed to create http histogram: %w", err)
	}

	return m, nil
}

// Handler serves the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ExecutionFinished records one finished hook execution.
func (m *Metrics) ExecutionFinished(ctx context.Context, r executor.Result) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("hook", r.HookID),
		attribute.String("capability", r.Capability),
		attribute.String("event", r.Event.String()),
		attribute.String("status", string(r.Status())),
	)
	m.executions.Add(ctx, 1, attrs)
	m.executionTime.Record(ctx, r.Duration.Seconds(), attrs)
	if r.RetryAttempts > 0 {
		m.retries.Add(ctx, int64(r.RetryAttempts), metric.WithAttributes(
			attribute.String("hook", r.HookID),
			attribute.String("capability", r.Capability),
		))
	}
}

// TriggerFinished records one handled event.
func (m *Metrics) TriggerFinished(ctx context.Context, event hooks.Event, agg executor.AggregatedResult, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	switch {
	case hooks.IsConfigurationError(err):
		outcome = "config_error"
	case err != nil:
		outcome = "failed"
	case agg.Total == 0:
		outcome = "empty"
	}
	attrs := metric.WithAttributes(
		attribute.String("event", event.Type.String()),
		attribute.String("outcome", outcome),
	)
	m.triggers.Add(ctx, 1, attrs)
	m.triggerDuration.Record(ctx, agg.TotalDuration.Seconds(), attrs)
}

// RecordHTTPRequest records one served HTTP request.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("route", route),
		attribute.String("status", strconv.Itoa(status)),
	)
	m.httpRequests.Add(ctx, 1, attrs)
	m.httpDuration.Record(ctx, duration.Seconds(), attrs)
}

// Shutdown flushes and stops the meter provider.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}

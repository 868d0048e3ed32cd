package observability

import (
	"context"
	"errors"
	"sync"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Manager owns the tracer provider and metrics built from one Config.
type Manager struct {
	config Config

	mu             sync.RWMutex
	tracerProvider trace.TracerProvider
	metrics        *Metrics
}

// NewManager creates an uninitialized manager.
func NewManager(cfg Config) *Manager {
	cfg.SetDefaults()
	return &Manager{config: cfg, tracerProvider: noop.NewTracerProvider()}
}

// Initialize builds the tracer provider and metrics.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tp, err := NewTracerProvider(ctx, m.config.Tracing)
	if err != nil {
		return err
	}
	metrics, err := NewMetrics(m.config.Metrics)
	if err != nil {
		return err
	}
	m.tracerProvider = tp
	m.metrics = metrics
	return nil
}

// Tracer returns a named tracer from the configured provider.
func (m *Manager) Tracer(name string) trace.Tracer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tracerProvider.Tracer(name)
}

// Metrics returns the metrics recorder; nil when metrics are disabled.
func (m *Manager) Metrics() *Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.metrics
}

// MetricsPath is the HTTP path metrics are served on.
func (m *Manager) MetricsPath() string {
	return m.config.Metrics.Endpoint
}

// Shutdown flushes exporters.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	if s, ok := m.tracerProvider.(interface{ Shutdown(context.Context) error }); ok {
		errs = append(errs, s.Shutdown(ctx))
	}
	errs = append(errs, m.metrics.Shutdown(ctx))
	return errors.Join(errs...)
}

package tracing

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "prayerflow"

// Manager owns the tracer provider lifecycle
type Manager struct {
	serviceName string
	enabled     bool
	logger      *zap.Logger
	provider    *sdktrace.TracerProvider
}

// NewManager creates a tracing manager. When enabled is false the global
// no-op provider stays in place.
func NewManager(serviceName string, enabled bool, logger *zap.Logger) *Manager {
	return &Manager{serviceName: serviceName, enabled: enabled, logger: logger}
}

// Initialize installs a stdout-exporting tracer provider
func (m *Manager) Initialize(ctx context.Context) error {
	if !m.enabled {
		m.logger.Info("Tracing disabled")
		return nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(attribute.String("service.name", m.serviceName)),
	)
	if err != nil {
		return fmt.Errorf("failed to create resource: %w", err)
	}

	exporter, err := stdouttrace.New()
	if err != nil {
		return fmt.Errorf("failed to create stdout exporter: %w", err)
	}

	m.provider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(m.provider)

	m.logger.Info("Tracing initialized", zap.String("service", m.serviceName))
	return nil
}

// Shutdown flushes pending spans
func (m *Manager) Shutdown(ctx context.Context) error {
	if m.provider == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := m.provider.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown tracer provider: %w", err)
	}
	return nil
}

// StartSpan starts a span on the global provider
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, name)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, span
}

// RecordError marks the span as failed
func RecordError(span trace.Span, err error) {
	if err == nil || !span.IsRecording() {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

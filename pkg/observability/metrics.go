package observability

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

var (
	globalMetrics *Metrics
	metricsMu     sync.RWMutex
)

// Metrics holds the instruments recorded along the orchestration path.
// A nil *Metrics is safe to record against and does nothing.
type Metrics struct {
	runDuration    metric.Float64Histogram
	runsTotal      metric.Int64Counter
	runErrorsTotal metric.Int64Counter
	runTokensTotal metric.Int64Counter

	toolDuration    metric.Float64Histogram
	toolCallsTotal  metric.Int64Counter
	toolErrorsTotal metric.Int64Counter

	modelDuration    metric.Float64Histogram
	modelCallsTotal  metric.Int64Counter
	modelErrorsTotal metric.Int64Counter
}

// InitMetrics registers the Prometheus reader plus the instrument set and
// installs the result as the global metrics recorder. Disabled metrics
// install a nil recorder, which no-ops.
func InitMetrics(enabled bool) (*Metrics, error) {
	if !enabled {
		SetGlobalMetrics(nil)
		return nil, nil
	}

	promExporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(promExporter),
	)
	meter := meterProvider.Meter(serviceName)

	m := &Metrics{}

	if m.runDuration, err = meter.Float64Histogram(
		"seclens_run_duration_seconds",
		metric.WithDescription("Orchestration run duration in seconds"),
	); err != nil {
		return nil, err
	}
	if m.runsTotal, err = meter.Int64Counter(
		"seclens_runs_total",
		metric.WithDescription("Total orchestration runs"),
	); err != nil {
		return nil, err
	}
	if m.runErrorsTotal, err = meter.Int64Counter(
		"seclens_run_errors_total",
		metric.WithDescription("Total failed orchestration runs"),
	); err != nil {
		return nil, err
	}
	if m.runTokensTotal, err = meter.Int64Counter(
		"seclens_run_tokens_used_total",
		metric.WithDescription("Total tokens consumed by runs"),
	); err != nil {
		return nil, err
	}
	if m.toolDuration, err = meter.Float64Histogram(
		"seclens_tool_call_duration_seconds",
		metric.WithDescription("Tool call duration in seconds"),
	); err != nil {
		return nil, err
	}
	if m.toolCallsTotal, err = meter.Int64Counter(
		"seclens_tool_calls_total",
		metric.WithDescription("Total tool calls"),
	); err != nil {
		return nil, err
	}
	if m.toolErrorsTotal, err = meter.Int64Counter(
		"seclens_tool_errors_total",
		metric.WithDescription("Total failed tool calls"),
	); err != nil {
		return nil, err
	}
	if m.modelDuration, err = meter.Float64Histogram(
		"seclens_model_request_duration_seconds",
		metric.WithDescription("Model request duration in seconds"),
	); err != nil {
		return nil, err
	}
	if m.modelCallsTotal, err = meter.Int64Counter(
		"seclens_model_calls_total",
		metric.WithDescription("Total model requests"),
	); err != nil {
		return nil, err
	}
	if m.modelErrorsTotal, err = meter.Int64Counter(
		"seclens_model_errors_total",
		metric.WithDescription("Total failed model requests"),
	); err != nil {
		return nil, err
	}

	SetGlobalMetrics(m)
	return m, nil
}

// RecordRun records one completed orchestration run.
func (m *Metrics) RecordRun(ctx context.Context, duration time.Duration, tokens int, err error) {
	if m == nil {
		return
	}
	m.runDuration.Record(ctx, duration.Seconds())
	m.runsTotal.Add(ctx, 1)
	if tokens > 0 {
		m.runTokensTotal.Add(ctx, int64(tokens))
	}
	if err != nil {
		m.runErrorsTotal.Add(ctx, 1)
	}
}

// RecordToolCall records one tool invocation.
func (m *Metrics) RecordToolCall(ctx context.Context, tool string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("tool", tool))
	m.toolDuration.Record(ctx, duration.Seconds(), attrs)
	m.toolCallsTotal.Add(ctx, 1, attrs)
	if err != nil {
		m.toolErrorsTotal.Add(ctx, 1, attrs)
	}
}

// RecordModelCall records one model request.
func (m *Metrics) RecordModelCall(ctx context.Context, model string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("model", model))
	m.modelDuration.Record(ctx, duration.Seconds(), attrs)
	m.modelCallsTotal.Add(ctx, 1, attrs)
	if err != nil {
		m.modelErrorsTotal.Add(ctx, 1, attrs)
	}
}

// SetGlobalMetrics installs the process-wide metrics recorder.
func SetGlobalMetrics(m *Metrics) {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	globalMetrics = m
}

// GetGlobalMetrics returns the process-wide metrics recorder, possibly nil.
func GetGlobalMetrics() *Metrics {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	return globalMetrics
}

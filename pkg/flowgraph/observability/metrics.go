package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder records engine metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordNodeExecution records a node execution with its duration and error status.
	RecordNodeExecution(ctx context.Context, nodeID, nodeType string, duration time.Duration, err error)

	// RecordRun records a finished run with its final status.
	RecordRun(ctx context.Context, status string, duration time.Duration)

	// RecordWireTransfer records one payload forwarded along an edge.
	RecordWireTransfer(ctx context.Context, fromNode, toNode string)

	// RecordFrame records a telemetry frame written or dropped.
	RecordFrame(ctx context.Context, frameType string, sizeBytes int, dropped bool)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	nodeExecutions metric.Int64Counter
	nodeLatency    metric.Float64Histogram
	nodeErrors     metric.Int64Counter
	runs           metric.Int64Counter
	runLatency     metric.Float64Histogram
	wireTransfers  metric.Int64Counter
	frames         metric.Int64Counter
	frameSize      metric.Int64Histogram
	framesDropped  metric.Int64Counter
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

// getDefaultMetrics returns the default OTel metrics instance.
// Lazily initializes the metrics on first call.
func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

// newOtelMetrics creates a new OTel metrics instance.
func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("flowgraph")
	m := &otelMetrics{}
	var err error

	if m.nodeExecutions, err = meter.Int64Counter("flowgraph.node.executions",
		metric.WithDescription("Number of node executions"),
	); err != nil {
		return nil, err
	}
	if m.nodeLatency, err = meter.Float64Histogram("flowgraph.node.latency_ms",
		metric.WithDescription("Node execution latency in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}
	if m.nodeErrors, err = meter.Int64Counter("flowgraph.node.errors",
		metric.WithDescription("Number of node execution errors"),
	); err != nil {
		return nil, err
	}
	if m.runs, err = meter.Int64Counter("flowgraph.runs",
		metric.WithDescription("Number of finished runs"),
	); err != nil {
		return nil, err
	}
	if m.runLatency, err = meter.Float64Histogram("flowgraph.run.latency_ms",
		metric.WithDescription("Run latency in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}
	if m.wireTransfers, err = meter.Int64Counter("flowgraph.wire.transfers",
		metric.WithDescription("Payloads forwarded along edges"),
	); err != nil {
		return nil, err
	}
	if m.frames, err = meter.Int64Counter("flowgraph.telemetry.frames",
		metric.WithDescription("Telemetry frames written"),
	); err != nil {
		return nil, err
	}
	if m.frameSize, err = meter.Int64Histogram("flowgraph.telemetry.frame_bytes",
		metric.WithDescription("Telemetry frame size in bytes"),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if m.framesDropped, err = meter.Int64Counter("flowgraph.telemetry.dropped",
		metric.WithDescription("Telemetry frames that could not be delivered"),
	); err != nil {
		return nil, err
	}
	return m, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the provider
// before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// RecordNodeExecution records a node execution.
func (m *otelMetrics) RecordNodeExecution(ctx context.Context, nodeID, nodeType string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(
		attribute.String("node_id", nodeID),
		attribute.String("node_type", nodeType),
	)
	m.nodeExecutions.Add(ctx, 1, attrs)
	m.nodeLatency.Record(ctx, float64(duration.Microseconds())/1000, attrs)
	if err != nil {
		m.nodeErrors.Add(ctx, 1, attrs)
	}
}

// RecordRun records a finished run.
func (m *otelMetrics) RecordRun(ctx context.Context, status string, duration time.Duration) {
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.runs.Add(ctx, 1, attrs)
	m.runLatency.Record(ctx, float64(duration.Microseconds())/1000, attrs)
}

// RecordWireTransfer records a forwarded payload.
func (m *otelMetrics) RecordWireTransfer(ctx context.Context, fromNode, toNode string) {
	m.wireTransfers.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", fromNode),
		attribute.String("to", toNode),
	))
}

// RecordFrame records a telemetry frame.
func (m *otelMetrics) RecordFrame(ctx context.Context, frameType string, sizeBytes int, dropped bool) {
	attrs := metric.WithAttributes(attribute.String("frame_type", frameType))
	if dropped {
		m.framesDropped.Add(ctx, 1, attrs)
		return
	}
	m.frames.Add(ctx, 1, attrs)
	m.frameSize.Record(ctx, int64(sizeBytes), attrs)
}

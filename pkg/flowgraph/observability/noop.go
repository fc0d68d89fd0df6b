package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// NoopMetrics discards every measurement. It is the default recorder for
// runs and publishers.
type NoopMetrics struct{}

var _ MetricsRecorder = NoopMetrics{}

func (NoopMetrics) RecordNodeExecution(context.Context, string, string, time.Duration, error) {}

func (NoopMetrics) RecordRun(context.Context, string, time.Duration) {}

func (NoopMetrics) RecordWireTransfer(context.Context, string, string) {}

func (NoopMetrics) RecordFrame(context.Context, string, int, bool) {}

// NoopSpanManager starts no spans. Contexts pass through unchanged.
type NoopSpanManager struct{}

var _ SpanManager = NoopSpanManager{}

func (NoopSpanManager) StartRunSpan(ctx context.Context, _, _ string, _ int) (context.Context, trace.Span) {
	return ctx, noop.Span{}
}

func (NoopSpanManager) StartNodeSpan(ctx context.Context, _, _ string) (context.Context, trace.Span) {
	return ctx, noop.Span{}
}

func (NoopSpanManager) EndSpan(trace.Span, string, error) {}

func (NoopSpanManager) WireEvent(context.Context, string, uint64) {}

func (NoopSpanManager) SkipEvent(context.Context, string, string) {}

package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span and event names.
const (
	SpanRun      = "flowgraph.run"
	SpanNode     = "flowgraph.node"
	EventWire    = "wire.transfer"
	EventSkipped = "node.skipped"
	attrState    = "flowgraph.state"
	tracerName   = "flowgraph"
)

var tracer = otel.Tracer(tracerName)

// SpanManager traces runs. A run span parents one span per node execution;
// wire transfers and skipped nodes are events on the run span.
type SpanManager interface {
	StartRunSpan(ctx context.Context, flowID, runID string, nodes int) (context.Context, trace.Span)
	StartNodeSpan(ctx context.Context, nodeID, nodeType string) (context.Context, trace.Span)

	// EndSpan records the final run status or node state and ends span.
	EndSpan(span trace.Span, state string, err error)

	WireEvent(ctx context.Context, edge string, pkt uint64)
	SkipEvent(ctx context.Context, nodeID, failedUpstream string)
}

type otelSpanManager struct{}

// NewSpanManager returns a SpanManager backed by the global tracer
// provider. Install the provider with otel.SetTracerProvider first.
func NewSpanManager() SpanManager {
	return &otelSpanManager{}
}

func (m *otelSpanManager) StartRunSpan(ctx context.Context, flowID, runID string, nodes int) (context.Context, trace.Span) {
	return StartRunSpan(ctx, flowID, runID, nodes)
}

func (m *otelSpanManager) StartNodeSpan(ctx context.Context, nodeID, nodeType string) (context.Context, trace.Span) {
	return StartNodeSpan(ctx, nodeID, nodeType)
}

func (m *otelSpanManager) EndSpan(span trace.Span, state string, err error) {
	EndSpan(span, state, err)
}

func (m *otelSpanManager) WireEvent(ctx context.Context, edge string, pkt uint64) {
	addEvent(ctx, EventWire,
		attribute.String("edge.id", edge),
		attribute.Int64("wire.pkt", int64(pkt)),
	)
}

func (m *otelSpanManager) SkipEvent(ctx context.Context, nodeID, failedUpstream string) {
	addEvent(ctx, EventSkipped,
		attribute.String("node.id", nodeID),
		attribute.String("node.failed_upstream", failedUpstream),
	)
}

// StartRunSpan starts a run span using the global tracer.
func StartRunSpan(ctx context.Context, flowID, runID string, nodes int) (context.Context, trace.Span) {
	return tracer.Start(ctx, SpanRun,
		trace.WithAttributes(
			attribute.String("flow.id", flowID),
			attribute.String("run.id", runID),
			attribute.Int("run.nodes", nodes),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartNodeSpan starts a node span using the global tracer. Node ids are
// attributes, not part of the span name, so span names stay low-cardinality.
func StartNodeSpan(ctx context.Context, nodeID, nodeType string) (context.Context, trace.Span) {
	return tracer.Start(ctx, SpanNode,
		trace.WithAttributes(
			attribute.String("node.id", nodeID),
			attribute.String("node.type", nodeType),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// EndSpan sets the flowgraph.state attribute, records err if any and ends span.
// A nil span is ignored.
func EndSpan(span trace.Span, state string, err error) {
	if span == nil {
		return
	}
	if state != "" {
		span.SetAttributes(attribute.String(attrState, state))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

func addEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// Package observability provides structured logging, metrics and tracing
// for the flow engine.
//
// Features:
//   - Structured logging via slog (Go stdlib)
//   - Metrics via OpenTelemetry
//   - Tracing via OpenTelemetry
//
// All features are opt-in and have no-op implementations when disabled.
// Every logging helper accepts a nil logger and does nothing.
package observability

import (
	"log/slog"
	"time"
)

// EnrichLogger adds run and node context to a logger.
// Returns a new logger with run_id, node_id, and attempt fields.
//
// Example:
//
//	enriched := EnrichLogger(logger, "run-123", "llm", 1)
//	enriched.Info("calling model") // includes run_id, node_id, attempt
func EnrichLogger(logger *slog.Logger, runID, nodeID string, attempt int) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("run_id", runID),
		slog.String("node_id", nodeID),
		slog.Int("attempt", attempt),
	)
}

// LogRunStart logs the start of a run.
func LogRunStart(logger *slog.Logger, runID, flowID string, nodeCount int) {
	if logger == nil {
		return
	}
	logger.Info("run starting",
		slog.String("run_id", runID),
		slog.String("flow_id", flowID),
		slog.Int("nodes", nodeCount),
	)
}

// LogRunComplete logs a run that finished with every node ok.
func LogRunComplete(logger *slog.Logger, runID string, durationMs float64, nodeCount int) {
	if logger == nil {
		return
	}
	logger.Info("run completed",
		slog.String("run_id", runID),
		slog.Float64("duration_ms", durationMs),
		slog.Int("nodes_executed", nodeCount),
	)
}

// LogRunError logs a run that ended in error or cancellation.
func LogRunError(logger *slog.Logger, runID, status string, err error, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Error("run failed",
		slog.String("run_id", runID),
		slog.String("status", status),
		slog.String("error", err.Error()),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogRunControl logs a controller transition (pause, resume, step, cancel).
func LogRunControl(logger *slog.Logger, runID, action string) {
	if logger == nil {
		return
	}
	logger.Info("run control",
		slog.String("run_id", runID),
		slog.String("action", action),
	)
}

// LogNodeStart logs node execution start.
func LogNodeStart(logger *slog.Logger, nodeID, nodeType string) {
	if logger == nil {
		return
	}
	logger.Debug("node starting",
		slog.String("node_id", nodeID),
		slog.String("node_type", nodeType),
	)
}

// LogNodeComplete logs successful node completion.
func LogNodeComplete(logger *slog.Logger, nodeID string, durationMs float64, outputs int) {
	if logger == nil {
		return
	}
	logger.Debug("node completed",
		slog.String("node_id", nodeID),
		slog.Float64("duration_ms", durationMs),
		slog.Int("outputs", outputs),
	)
}

// LogNodeError logs node execution error.
func LogNodeError(logger *slog.Logger, nodeID string, err error) {
	if logger == nil {
		return
	}
	logger.Error("node failed",
		slog.String("node_id", nodeID),
		slog.String("error", err.Error()),
	)
}

// LogNodeSkipped logs a node that will not run because an upstream node failed.
func LogNodeSkipped(logger *slog.Logger, nodeID, failedUpstream string) {
	if logger == nil {
		return
	}
	logger.Warn("node skipped",
		slog.String("node_id", nodeID),
		slog.String("failed_upstream", failedUpstream),
	)
}

// LogSchemaWarn logs a value dropped because it did not fit the node's ports.
func LogSchemaWarn(logger *slog.Logger, nodeID, port, reason string) {
	if logger == nil {
		return
	}
	logger.Warn("payload dropped",
		slog.String("node_id", nodeID),
		slog.String("port", port),
		slog.String("reason", reason),
	)
}

// LogRecorderError logs a run recorder failure (non-fatal).
func LogRecorderError(logger *slog.Logger, op, nodeID string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("recorder failed",
		slog.String("operation", op),
		slog.String("node_id", nodeID),
		slog.String("error", err.Error()),
	)
}

// LogTelemetryDrop logs a telemetry frame that could not be delivered.
func LogTelemetryDrop(logger *slog.Logger, frameType string, err error) {
	if logger == nil {
		return
	}
	logger.Debug("telemetry frame dropped",
		slog.String("frame_type", frameType),
		slog.String("error", err.Error()),
	)
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed time in milliseconds.
//
// Example:
//
//	done := TimedOperation()
//	// ... do work ...
//	durationMs := done()
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Microseconds()) / 1000
	}
}

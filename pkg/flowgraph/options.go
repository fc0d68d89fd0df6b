package flowgraph

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/randalmurphal/voide-engine/pkg/flowgraph/config"
	"github.com/randalmurphal/voide-engine/pkg/flowgraph/observability"
	"github.com/randalmurphal/voide-engine/pkg/flowgraph/porttype"
	"github.com/randalmurphal/voide-engine/pkg/flowgraph/retry"
	"github.com/randalmurphal/voide-engine/pkg/flowgraph/runstore"
	"github.com/randalmurphal/voide-engine/pkg/flowgraph/telemetry"
)

// FailurePolicy decides what a node failure does to the rest of the run.
type FailurePolicy int

const (
	// FailAbort stops dispatching after the first failure, waits for
	// in-flight nodes and returns the failure.
	FailAbort FailurePolicy = iota

	// FailIsolate skips every descendant of a failed node and keeps running
	// independent branches. The run ends with status error.
	FailIsolate
)

// String returns "abort" or "isolate".
func (p FailurePolicy) String() string {
	switch p {
	case FailAbort:
		return config.FailurePolicyAbort
	case FailIsolate:
		return config.FailurePolicyIsolate
	default:
		return fmt.Sprintf("FailurePolicy(%d)", int(p))
	}
}

// ParseFailurePolicy parses "abort" or "isolate". The empty string is abort.
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch s {
	case "", config.FailurePolicyAbort:
		return FailAbort, nil
	case config.FailurePolicyIsolate:
		return FailIsolate, nil
	default:
		return FailAbort, fmt.Errorf("unknown failure policy %q", s)
	}
}

// runConfig holds configuration for one run.
type runConfig struct {
	runID          string
	controller     *RunController
	logger         *slog.Logger
	metrics        observability.MetricsRecorder
	spans          observability.SpanManager
	tracingEnabled bool
	telemetry      telemetry.Emitter
	recorder       runstore.Recorder
	recorderFatal  bool
	failurePolicy  FailurePolicy
	maxConcurrency int
	nodeTimeout    time.Duration
	retry          retry.Policy
	inputs         map[string]map[string][]any
	types          *porttype.Registry
}

// defaultRunConfig returns the default run configuration.
func defaultRunConfig() runConfig {
	return runConfig{
		logger:         slog.Default(),
		metrics:        observability.NoopMetrics{},
		spans:          observability.NoopSpanManager{},
		telemetry:      telemetry.Discard,
		recorder:       runstore.Nop{},
		failurePolicy:  FailAbort,
		maxConcurrency: config.DefaultMaxConcurrency,
		retry:          retry.None,
		inputs:         make(map[string]map[string][]any),
	}
}

func newRunConfig(opts []RunOption) runConfig {
	cfg := defaultRunConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.runID == "" {
		cfg.runID = uuid.New().String()
	}
	if cfg.controller == nil {
		cfg.controller = NewRunController()
	}
	return cfg
}

// RunOption configures a run.
type RunOption func(*runConfig)

// WithRunID sets the run id. Default: a random UUID.
//
// The run id is the telemetry span of every frame and the key the recorder
// stores the run under.
func WithRunID(id string) RunOption {
	return func(c *runConfig) {
		c.runID = id
	}
}

// WithController attaches a RunController so the run can be paused,
// stepped and cancelled from other goroutines.
//
// Example:
//
//	ctrl := flowgraph.NewRunController()
//	ctrl.Pause()
//	go func() { result, err = dag.Run(ctx, execs, flowgraph.WithController(ctrl)) }()
//	ctrl.Step() // runs exactly one node
func WithController(ctrl *RunController) RunOption {
	return func(c *runConfig) {
		c.controller = ctrl
	}
}

// WithLogger sets the run logger. Default: slog.Default(). A nil logger
// disables run logging.
func WithLogger(logger *slog.Logger) RunOption {
	return func(c *runConfig) {
		c.logger = logger
	}
}

// WithMetrics records run and node metrics. Pass
// observability.NewMetricsRecorder() for OpenTelemetry.
func WithMetrics(m observability.MetricsRecorder) RunOption {
	return func(c *runConfig) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithTracing enables OpenTelemetry spans for the run and each node.
func WithTracing(enabled bool) RunOption {
	return func(c *runConfig) {
		c.tracingEnabled = enabled
		if enabled {
			c.spans = observability.NewSpanManager()
		} else {
			c.spans = observability.NoopSpanManager{}
		}
	}
}

// WithTelemetry sends node and wire events to e, usually a
// *telemetry.Publisher. Default: telemetry.Discard.
func WithTelemetry(e telemetry.Emitter) RunOption {
	return func(c *runConfig) {
		if e != nil {
			c.telemetry = e
		}
	}
}

// WithRecorder persists run status, payloads and node logs.
// Default: runstore.Nop.
func WithRecorder(r runstore.Recorder) RunOption {
	return func(c *runConfig) {
		if r != nil {
			c.recorder = r
		}
	}
}

// WithRecorderFailureFatal makes recorder errors fail the run with a
// *RecorderError. By default they are logged and ignored.
func WithRecorderFailureFatal(fatal bool) RunOption {
	return func(c *runConfig) {
		c.recorderFatal = fatal
	}
}

// WithFailurePolicy sets what a node failure does. Default: FailAbort.
func WithFailurePolicy(p FailurePolicy) RunOption {
	return func(c *runConfig) {
		c.failurePolicy = p
	}
}

// WithMaxConcurrency sets how many nodes may execute at once. Default: 1,
// which runs nodes one at a time in topological order. Values below 1 are
// ignored.
func WithMaxConcurrency(n int) RunOption {
	return func(c *runConfig) {
		if n > 0 {
			c.maxConcurrency = n
		}
	}
}

// WithNodeTimeout bounds each node attempt. Zero means no limit.
func WithNodeTimeout(d time.Duration) RunOption {
	return func(c *runConfig) {
		if d >= 0 {
			c.nodeTimeout = d
		}
	}
}

// WithRetry retries failing node executions. Default: retry.None.
//
// Example:
//
//	dag.Run(ctx, execs, flowgraph.WithRetry(retry.NewPolicy(
//	    retry.WithMaxAttempts(3),
//	    retry.WithInitialBackoff(100*time.Millisecond),
//	)))
func WithRetry(p retry.Policy) RunOption {
	return func(c *runConfig) {
		c.retry = p
	}
}

// WithInputs seeds values on a node's in-port before the run starts.
// Seeded values precede values arriving over edges. Repeated calls append.
func WithInputs(nodeID, port string, values ...any) RunOption {
	return func(c *runConfig) {
		ports, ok := c.inputs[nodeID]
		if !ok {
			ports = make(map[string][]any)
			c.inputs[nodeID] = ports
		}
		ports[port] = append(ports[port], values...)
	}
}

// WithTranscoder re-encodes values that cross a type boundary: when an
// edge's negotiated type differs from the source port's primary type, the
// value is transcoded through types before delivery. Without it values
// are delivered unchanged.
func WithTranscoder(types *porttype.Registry) RunOption {
	return func(c *runConfig) {
		c.types = types
	}
}

// WithConfig applies the run section of an engine config file. Options
// after it override its values.
func WithConfig(rc config.Run) RunOption {
	return func(c *runConfig) {
		if rc.MaxConcurrency > 0 {
			c.maxConcurrency = rc.MaxConcurrency
		}
		if p, err := ParseFailurePolicy(rc.FailurePolicy); err == nil {
			c.failurePolicy = p
		}
		if rc.NodeTimeout > 0 {
			c.nodeTimeout = rc.NodeTimeout
		}
		if rc.RetryAttempts > 1 {
			backoff := rc.RetryBackoff
			if backoff == 0 {
				backoff = config.DefaultRetryBackoff
			}
			c.retry = retry.NewPolicy(
				retry.WithMaxAttempts(rc.RetryAttempts),
				retry.WithInitialBackoff(backoff),
			)
		}
	}
}

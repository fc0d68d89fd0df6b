package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/randalmurphal/voide-engine/pkg/flowgraph/config"
	"github.com/randalmurphal/voide-engine/pkg/flowgraph/observability"
)

// Emitter accepts telemetry events. Emit never blocks on the observer and
// never fails; undeliverable events are dropped.
type Emitter interface {
	Emit(ev Event)
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(ev Event)

// Emit calls f.
func (f EmitterFunc) Emit(ev Event) { f(ev) }

// Discard is an Emitter that drops everything.
var Discard Emitter = EmitterFunc(func(Event) {})

// maxWireKeys bounds the de-duplication table before stale keys are pruned.
const maxWireKeys = 4096

// Publisher encodes events and writes them to a Transport.
//
// Publisher stamps events that carry no timestamp, suppresses repeated
// WireTransfer events for the same (from, to, pkt) inside the
// de-duplication window, and sends a heartbeat on a fixed interval until
// Close.
type Publisher struct {
	transport Transport
	logger    *slog.Logger
	metrics   observability.MetricsRecorder
	window    time.Duration
	interval  time.Duration
	now       func() time.Time

	mu       sync.Mutex
	lastWire map[string]uint64

	sent    atomic.Uint64
	dropped atomic.Uint64
	deduped atomic.Uint64

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// PublisherOption configures a Publisher.
type PublisherOption func(*Publisher)

// WithLogger logs dropped frames at debug level.
func WithLogger(logger *slog.Logger) PublisherOption {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// WithMetrics records sent and dropped frames.
func WithMetrics(m observability.MetricsRecorder) PublisherOption {
	return func(p *Publisher) {
		if m != nil {
			p.metrics = m
		}
	}
}

// WithDedupWindow sets the WireTransfer de-duplication window.
// Zero disables de-duplication.
func WithDedupWindow(d time.Duration) PublisherOption {
	return func(p *Publisher) {
		p.window = d
	}
}

// WithHeartbeatInterval sets the heartbeat period. Zero disables the
// heartbeat goroutine.
func WithHeartbeatInterval(d time.Duration) PublisherOption {
	return func(p *Publisher) {
		p.interval = d
	}
}

// withClock replaces time.Now in tests.
func withClock(now func() time.Time) PublisherOption {
	return func(p *Publisher) {
		p.now = now
	}
}

// NewPublisher starts a publisher on t. A nil t publishes nowhere.
func NewPublisher(t Transport, opts ...PublisherOption) *Publisher {
	if t == nil {
		t = NopTransport{}
	}
	p := &Publisher{
		transport: t,
		metrics:   observability.NoopMetrics{},
		window:    config.DefaultWireDedupWindow,
		interval:  config.DefaultHeartbeatInterval,
		now:       time.Now,
		lastWire:  make(map[string]uint64),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.interval > 0 {
		p.Heartbeat()
		go p.heartbeatLoop()
	} else {
		close(p.done)
	}
	return p
}

// NewPublisherFromConfig opens the transport for cfg and wraps it.
func NewPublisherFromConfig(cfg config.Telemetry, logger *slog.Logger, opts ...PublisherOption) *Publisher {
	base := []PublisherOption{
		WithLogger(logger),
		WithDedupWindow(cfg.WireDedupWindow),
		WithHeartbeatInterval(cfg.HeartbeatInterval),
	}
	if cfg.WireDedupWindow == 0 {
		base[1] = WithDedupWindow(config.DefaultWireDedupWindow)
	}
	if cfg.HeartbeatInterval == 0 {
		base[2] = WithHeartbeatInterval(config.DefaultHeartbeatInterval)
	}
	return NewPublisher(Open(cfg, logger), append(base, opts...)...)
}

func (p *Publisher) heartbeatLoop() {
	defer close(p.done)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.Heartbeat()
		}
	}
}

// Heartbeat writes one heartbeat now.
func (p *Publisher) Heartbeat() {
	if err := p.transport.Heartbeat(uint64(p.now().UnixNano())); err != nil {
		observability.LogTelemetryDrop(p.logger, Heartbeat.String(), err)
	}
}

// Emit implements Emitter.
func (p *Publisher) Emit(ev Event) {
	if ev.Timestamp == 0 {
		ev.Timestamp = uint64(p.now().UnixNano())
	}
	if p.duplicate(ev) {
		p.deduped.Add(1)
		return
	}

	frame, err := Encode(ev)
	if err == nil {
		err = p.transport.Write(frame)
	}
	ctx := context.Background()
	if err != nil {
		p.dropped.Add(1)
		p.metrics.RecordFrame(ctx, ev.Type.String(), 0, true)
		observability.LogTelemetryDrop(p.logger, ev.Type.String(), err)
		return
	}
	p.sent.Add(1)
	p.metrics.RecordFrame(ctx, ev.Type.String(), len(frame), false)
}

// duplicate reports whether ev repeats a WireTransfer inside the window.
func (p *Publisher) duplicate(ev Event) bool {
	if ev.Type != WireTransfer || p.window <= 0 {
		return false
	}
	key := ev.Field("from") + "|" + ev.Field("to") + "|" + ev.Field("pkt")
	window := uint64(p.window.Nanoseconds())

	p.mu.Lock()
	defer p.mu.Unlock()
	if prev, ok := p.lastWire[key]; ok && ev.Timestamp >= prev && ev.Timestamp-prev < window {
		return true
	}
	if len(p.lastWire) >= maxWireKeys {
		for k, ts := range p.lastWire {
			if ev.Timestamp < ts || ev.Timestamp-ts >= window {
				delete(p.lastWire, k)
			}
		}
	}
	p.lastWire[key] = ev.Timestamp
	return false
}

// Stats is a snapshot of publisher counters.
type Stats struct {
	Sent         uint64
	Dropped      uint64
	Deduplicated uint64
	Transport    string
}

// Stats returns the publisher counters.
func (p *Publisher) Stats() Stats {
	return Stats{
		Sent:         p.sent.Load(),
		Dropped:      p.dropped.Load(),
		Deduplicated: p.deduped.Load(),
		Transport:    Kind(p.transport),
	}
}

// Close stops the heartbeat and closes the transport.
func (p *Publisher) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.stop)
		<-p.done
		err = p.transport.Close()
	})
	return err
}

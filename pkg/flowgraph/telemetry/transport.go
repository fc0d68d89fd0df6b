package telemetry

import (
	"log/slog"

	"github.com/randalmurphal/voide-engine/pkg/flowgraph/config"
)

// Transport carries encoded frames to the observer.
// Implementations must be safe for concurrent use.
type Transport interface {
	// Write ships one encoded frame.
	Write(frame []byte) error

	// Heartbeat reports scheduler liveness at ns nanoseconds since the epoch.
	Heartbeat(ns uint64) error

	// Close releases the transport.
	Close() error
}

// NopTransport discards every frame.
type NopTransport struct{}

func (NopTransport) Write([]byte) error     { return nil }
func (NopTransport) Heartbeat(uint64) error { return nil }
func (NopTransport) Close() error           { return nil }

// Kind names a transport for display: "ring", "udp", "uds" or "none".
func Kind(t Transport) string {
	switch v := t.(type) {
	case *RingTransport:
		return "ring"
	case *DatagramTransport:
		return v.Kind()
	default:
		return "none"
	}
}

// Open picks the transport for cfg: the ring file first, then the datagram
// fallback, then NopTransport. Failures are logged at debug level and never
// returned; telemetry must not stop a run.
func Open(cfg config.Telemetry, logger *slog.Logger) Transport {
	if cfg.Disabled {
		return NopTransport{}
	}
	path := cfg.RingPath
	if path == "" {
		path = config.DefaultRingPath()
	}
	size := cfg.RingSizeMB
	if size == 0 {
		size = config.DefaultRingSizeMB
	}

	ring, err := OpenRing(path, size)
	if err == nil {
		return ring
	}
	if logger != nil {
		logger.Debug("telemetry ring unavailable", slog.String("path", path), slog.String("error", err.Error()))
	}

	if cfg.Fallback.Type == "none" {
		return NopTransport{}
	}
	dgram, err := DialDatagram(cfg.Fallback)
	if err == nil {
		return dgram
	}
	if logger != nil {
		logger.Debug("telemetry fallback unavailable", slog.String("type", cfg.Fallback.Type), slog.String("error", err.Error()))
	}
	return NopTransport{}
}

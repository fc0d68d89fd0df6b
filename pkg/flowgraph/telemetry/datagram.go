package telemetry

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/randalmurphal/voide-engine/pkg/flowgraph/config"
)

// Datagram kinds.
const (
	KindUDP = "udp"
	KindUDS = "uds"
)

// maxDatagram bounds one received frame.
const maxDatagram = 64 * 1024

// datagramTarget resolves the network and address for a fallback config.
func datagramTarget(fb config.Fallback) (network, addr string, err error) {
	switch fb.Type {
	case KindUDP, "":
		host := fb.Host
		if host == "" {
			host = config.DefaultFallbackHost
		}
		port := fb.Port
		if port == 0 {
			port = config.DefaultFallbackPort
		}
		return "udp", net.JoinHostPort(host, strconv.Itoa(port)), nil
	case KindUDS:
		path := fb.Path
		if path == "" {
			path = config.DefaultFallbackSocket
		}
		return "unixgram", path, nil
	default:
		return "", "", fmt.Errorf("unsupported fallback type %q", fb.Type)
	}
}

// DatagramTransport sends each frame as one UDP or Unix datagram.
// Sends are fire-and-forget; a missing listener is not an error for UDP.
type DatagramTransport struct {
	conn net.Conn
	kind string
}

// DialDatagram connects to the fallback target. For "uds" the socket must
// already exist.
func DialDatagram(fb config.Fallback) (*DatagramTransport, error) {
	network, addr, err := datagramTarget(fb)
	if err != nil {
		return nil, err
	}
	conn, err := net.Dial(network, addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s %s: %w", network, addr, err)
	}
	kind := KindUDP
	if network == "unixgram" {
		kind = KindUDS
	}
	return &DatagramTransport{conn: conn, kind: kind}, nil
}

// Kind returns KindUDP or KindUDS.
func (d *DatagramTransport) Kind() string {
	return d.kind
}

// Write implements Transport.
func (d *DatagramTransport) Write(frame []byte) error {
	_, err := d.conn.Write(frame)
	return err
}

// Heartbeat implements Transport by sending a Heartbeat frame.
func (d *DatagramTransport) Heartbeat(ns uint64) error {
	frame, err := Encode(HeartbeatEvent(ns))
	if err != nil {
		return err
	}
	return d.Write(frame)
}

// Close implements Transport.
func (d *DatagramTransport) Close() error {
	return d.conn.Close()
}

// Receiver listens for frames on a UDP or Unix datagram socket.
type Receiver struct {
	conn net.PacketConn
	kind string
	path string
	buf  []byte
}

// ListenDatagram binds the fallback target. A stale Unix socket file is
// removed first.
func ListenDatagram(fb config.Fallback) (*Receiver, error) {
	network, addr, err := datagramTarget(fb)
	if err != nil {
		return nil, err
	}
	r := &Receiver{kind: KindUDP, buf: make([]byte, maxDatagram)}
	if network == "unixgram" {
		if err := os.Remove(addr); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("remove stale socket: %w", err)
		}
		r.kind = KindUDS
		r.path = addr
	}
	conn, err := net.ListenPacket(network, addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s %s: %w", network, addr, err)
	}
	r.conn = conn
	return r, nil
}

// Kind returns KindUDP or KindUDS.
func (r *Receiver) Kind() string {
	return r.kind
}

// Addr returns the bound address.
func (r *Receiver) Addr() net.Addr {
	return r.conn.LocalAddr()
}

// Receive blocks until one frame arrives or the deadline passes.
// A zero deadline waits forever. Undecodable datagrams return the decode
// error; the caller may keep receiving.
func (r *Receiver) Receive(deadline time.Time) (Event, error) {
	if err := r.conn.SetReadDeadline(deadline); err != nil {
		return Event{}, err
	}
	n, _, err := r.conn.ReadFrom(r.buf)
	if err != nil {
		return Event{}, err
	}
	return Decode(r.buf[:n])
}

// Close stops listening and removes the Unix socket file.
func (r *Receiver) Close() error {
	err := r.conn.Close()
	if r.path != "" {
		_ = os.Remove(r.path)
	}
	return err
}

// IsTimeout reports whether err is a receive deadline expiring.
func IsTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

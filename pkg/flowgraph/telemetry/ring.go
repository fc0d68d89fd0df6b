package telemetry

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// Ring file layout. The 64-byte header is little-endian; frames in the
// data region keep their own big-endian encoding.
const (
	RingHeaderSize  = 64
	RingVersion     = 1
	MinRingCapacity = 64 * 1024

	offVersion    = 4
	offHeaderSize = 6
	offCapacity   = 8
	offWriteHead  = 16
	offReadHead   = 24
	offHeartbeat  = 32
	offDropped    = 40
)

var ringMagic = [4]byte{'V', 'T', 'L', 'R'}

// Ring errors.
var (
	ErrRingSize    = errors.New("ring size must be positive")
	ErrRingHeader  = errors.New("telemetry ring header invalid")
	ErrRingClosed  = errors.New("telemetry ring closed")
	ErrFrameTooBig = errors.New("frame larger than ring capacity")
)

// RingCapacity returns the data capacity for a ring of sizeMB MiB.
func RingCapacity(sizeMB int) uint64 {
	c := uint64(sizeMB) * 1024 * 1024
	if c < MinRingCapacity {
		return MinRingCapacity
	}
	return c
}

// ringFile wraps the shared file for both writer and reader.
type ringFile struct {
	f        *os.File
	capacity uint64
}

func (r *ringFile) readU64(off int64) (uint64, error) {
	var b [8]byte
	if _, err := r.f.ReadAt(b[:], off); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

func (r *ringFile) writeU64(off int64, v uint64) error {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	_, err := r.f.WriteAt(b[:], off)
	return err
}

// readWrap reads len(dst) bytes at ring offset pos, wrapping at capacity.
func (r *ringFile) readWrap(dst []byte, pos uint64) error {
	off := pos % r.capacity
	first := r.capacity - off
	if uint64(len(dst)) <= first {
		_, err := r.f.ReadAt(dst, RingHeaderSize+int64(off))
		return err
	}
	if _, err := r.f.ReadAt(dst[:first], RingHeaderSize+int64(off)); err != nil {
		return err
	}
	_, err := r.f.ReadAt(dst[first:], RingHeaderSize)
	return err
}

// writeWrap writes src at ring offset pos, wrapping at capacity.
func (r *ringFile) writeWrap(src []byte, pos uint64) error {
	off := pos % r.capacity
	first := r.capacity - off
	if uint64(len(src)) <= first {
		_, err := r.f.WriteAt(src, RingHeaderSize+int64(off))
		return err
	}
	if _, err := r.f.WriteAt(src[:first], RingHeaderSize+int64(off)); err != nil {
		return err
	}
	_, err := r.f.WriteAt(src[first:], RingHeaderSize)
	return err
}

// RingTransport appends frames to a file-backed ring buffer.
//
// When a frame does not fit, the oldest frames are dropped to make room
// and counted in the header's dropped field. A frame larger than the
// whole ring drops everything buffered.
type RingTransport struct {
	mu        sync.Mutex
	ring      ringFile
	path      string
	writeHead uint64
	readHead  uint64
	dropped   uint64
	closed    bool
}

// OpenRing opens or creates the ring at path with sizeMB MiB of data.
// An existing ring with a matching header is reused; anything else is reset.
func OpenRing(path string, sizeMB int) (*RingTransport, error) {
	if sizeMB <= 0 {
		return nil, ErrRingSize
	}
	return openRing(path, RingCapacity(sizeMB))
}

func openRing(path string, capacity uint64) (*RingTransport, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create ring dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open ring: %w", err)
	}

	t := &RingTransport{ring: ringFile{f: f, capacity: capacity}, path: path}
	if err := t.load(); err != nil {
		if err := t.reset(); err != nil {
			f.Close()
			return nil, fmt.Errorf("reset ring: %w", err)
		}
	}
	if err := os.Chmod(path, 0o600); err != nil {
		f.Close()
		return nil, fmt.Errorf("chmod ring: %w", err)
	}
	return t, nil
}

// load adopts an existing compatible header.
func (t *RingTransport) load() error {
	hdr := make([]byte, RingHeaderSize)
	if _, err := t.ring.f.ReadAt(hdr, 0); err != nil {
		return ErrRingHeader
	}
	if [4]byte(hdr[0:4]) != ringMagic ||
		binary.LittleEndian.Uint16(hdr[offVersion:]) != RingVersion ||
		uint64(binary.LittleEndian.Uint32(hdr[offCapacity:])) != t.ring.capacity {
		return ErrRingHeader
	}
	info, err := t.ring.f.Stat()
	if err != nil || info.Size() < int64(RingHeaderSize+t.ring.capacity) {
		return ErrRingHeader
	}
	t.writeHead = binary.LittleEndian.Uint64(hdr[offWriteHead:])
	t.readHead = binary.LittleEndian.Uint64(hdr[offReadHead:])
	t.dropped = binary.LittleEndian.Uint64(hdr[offDropped:])
	if t.readHead > t.writeHead || t.writeHead-t.readHead > t.ring.capacity {
		return ErrRingHeader
	}
	return nil
}

// reset truncates the file and writes a fresh header.
func (t *RingTransport) reset() error {
	if err := t.ring.f.Truncate(int64(RingHeaderSize + t.ring.capacity)); err != nil {
		return err
	}
	t.writeHead, t.readHead, t.dropped = 0, 0, 0

	hdr := make([]byte, RingHeaderSize)
	copy(hdr[0:4], ringMagic[:])
	binary.LittleEndian.PutUint16(hdr[offVersion:], RingVersion)
	binary.LittleEndian.PutUint16(hdr[offHeaderSize:], RingHeaderSize)
	binary.LittleEndian.PutUint32(hdr[offCapacity:], uint32(t.ring.capacity))
	_, err := t.ring.f.WriteAt(hdr, 0)
	return err
}

// Path returns the ring file path.
func (t *RingTransport) Path() string {
	return t.path
}

// Write implements Transport.
func (t *RingTransport) Write(frame []byte) error {
	if len(frame) == 0 {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrRingClosed
	}
	size := uint64(len(frame))
	if size > t.ring.capacity {
		t.readHead = t.writeHead
		t.dropped++
		if err := t.persist(offReadHead, t.readHead); err != nil {
			return err
		}
		if err := t.persist(offDropped, t.dropped); err != nil {
			return err
		}
		return ErrFrameTooBig
	}

	// A reader may have consumed frames since the last write.
	if onDisk, err := t.ring.readU64(offReadHead); err == nil && onDisk > t.readHead && onDisk <= t.writeHead {
		t.readHead = onDisk
	}

	for t.writeHead+size-t.readHead > t.ring.capacity {
		if !t.dropOldest() {
			t.readHead = t.writeHead
			if err := t.persist(offReadHead, t.readHead); err != nil {
				return err
			}
			break
		}
	}

	if err := t.ring.writeWrap(frame, t.writeHead); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	t.writeHead += size
	return t.persist(offWriteHead, t.writeHead)
}

// dropOldest advances the read head past the oldest frame.
// Returns false if nothing could be dropped.
func (t *RingTransport) dropOldest() bool {
	if t.readHead == t.writeHead {
		return false
	}
	hdr := make([]byte, HeaderSize)
	if err := t.ring.readWrap(hdr, t.readHead); err != nil {
		return false
	}
	n, err := FrameLen(hdr)
	if err != nil || uint64(n) > t.ring.capacity || t.readHead+uint64(n) > t.writeHead {
		return false
	}
	t.readHead += uint64(n)
	t.dropped++
	_ = t.persist(offReadHead, t.readHead)
	_ = t.persist(offDropped, t.dropped)
	return true
}

func (t *RingTransport) persist(off int64, v uint64) error {
	if err := t.ring.writeU64(off, v); err != nil {
		return fmt.Errorf("persist ring header: %w", err)
	}
	return nil
}

// Heartbeat implements Transport. ns is stored in the ring header.
func (t *RingTransport) Heartbeat(ns uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrRingClosed
	}
	return t.persist(offHeartbeat, ns)
}

// Dropped returns the number of frames dropped for lack of room.
func (t *RingTransport) Dropped() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dropped
}

// Close implements Transport.
func (t *RingTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	return t.ring.f.Close()
}

// RingReader consumes frames from a ring written by another process.
type RingReader struct {
	ring        ringFile
	path        string
	readHead    uint64
	lastDropped uint64
}

// Poll is the result of one RingReader.Poll call.
type Poll struct {
	Events []Event
	// HeartbeatNs is the writer's last heartbeat, 0 if none yet.
	HeartbeatNs uint64
	// Dropped is the writer's total drop count; DroppedDelta is the
	// increase since the previous poll.
	Dropped      uint64
	DroppedDelta uint64
	// Invalid counts frames skipped because they failed to decode.
	Invalid int
}

// OpenRingReader attaches to an existing ring.
func OpenRingReader(path string) (*RingReader, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open ring: %w", err)
	}
	hdr := make([]byte, RingHeaderSize)
	if _, err := f.ReadAt(hdr, 0); err != nil {
		f.Close()
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: truncated", ErrRingHeader)
		}
		return nil, fmt.Errorf("read ring header: %w", err)
	}
	if [4]byte(hdr[0:4]) != ringMagic {
		f.Close()
		return nil, fmt.Errorf("%w: bad magic", ErrRingHeader)
	}
	capacity := uint64(binary.LittleEndian.Uint32(hdr[offCapacity:]))
	if capacity == 0 {
		f.Close()
		return nil, fmt.Errorf("%w: zero capacity", ErrRingHeader)
	}
	return &RingReader{
		ring:        ringFile{f: f, capacity: capacity},
		path:        path,
		readHead:    binary.LittleEndian.Uint64(hdr[offReadHead:]),
		lastDropped: binary.LittleEndian.Uint64(hdr[offDropped:]),
	}, nil
}

// Path returns the ring file path.
func (r *RingReader) Path() string {
	return r.path
}

// Poll returns every frame written since the previous call and persists
// the new read head.
func (r *RingReader) Poll() (Poll, error) {
	writeHead, err := r.ring.readU64(offWriteHead)
	if err != nil {
		return Poll{}, fmt.Errorf("read write head: %w", err)
	}
	// The writer advances the read head when it drops frames.
	if onDisk, err := r.ring.readU64(offReadHead); err == nil && onDisk > r.readHead {
		r.readHead = onDisk
	}
	if r.readHead > writeHead {
		// Writer reset the ring.
		r.readHead = 0
	}

	var p Poll
	hdr := make([]byte, HeaderSize)
	for r.readHead < writeHead {
		if err := r.ring.readWrap(hdr, r.readHead); err != nil {
			return p, fmt.Errorf("read frame header: %w", err)
		}
		n, err := FrameLen(hdr)
		if err != nil || uint64(n) > r.ring.capacity || r.readHead+uint64(n) > writeHead {
			r.readHead = writeHead
			p.Invalid++
			break
		}
		frame := make([]byte, n)
		if err := r.ring.readWrap(frame, r.readHead); err != nil {
			return p, fmt.Errorf("read frame: %w", err)
		}
		r.readHead += uint64(n)

		ev, err := Decode(frame)
		if err != nil {
			p.Invalid++
			continue
		}
		p.Events = append(p.Events, ev)
	}
	if err := r.ring.writeU64(offReadHead, r.readHead); err != nil {
		return p, fmt.Errorf("persist read head: %w", err)
	}

	p.HeartbeatNs, _ = r.ring.readU64(offHeartbeat)
	p.Dropped, _ = r.ring.readU64(offDropped)
	if p.Dropped >= r.lastDropped {
		p.DroppedDelta = p.Dropped - r.lastDropped
	}
	r.lastDropped = p.Dropped
	return p, nil
}

// Close releases the ring file.
func (r *RingReader) Close() error {
	return r.ring.f.Close()
}

package mtcl

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// shmRingCapacity is the payload capacity of one direction's ring, per
// handle. shmHeaderSize holds the two monotonic byte counters (write
// position, read position) that make the ring a simple SPSC queue.
const (
	shmRingCapacity = 1 << 16
	shmHeaderSize   = 16
)

func init() {
	RegisterFactory("SHM", func() Driver { return newSHMDriver() })
}

// shmDriver is the shared-memory ring driver (C1), grounded on
// original_source/protocols/shm_buffer.hpp's ring-over-named-segment
// design. Cross-process synchronization uses golang.org/x/sys/unix.Flock
// around each ring's header rather than hand-rolled atomics over mmap'd
// memory, which has no portable happens-before guarantee without a real
// memory-barrier primitive.
type shmDriver struct {
	mu      sync.Mutex
	pending []*shmHandle // new segments, not yet surfaced by Update
	runtime []*shmHandle // yielded back to the runtime, awaiting readiness

	acceptPoll time.Duration
}

func newSHMDriver() *shmDriver { return &shmDriver{} }

func (d *shmDriver) Scheme() string { return "SHM" }

func (d *shmDriver) Init(cfg *Config) error {
	d.acceptPoll = cfg.acceptPoll
	return nil
}

// Listen pre-creates the two ring segments backing endpoint (e.g.
// "/mtclshm") and waits in the background for a peer's presence marker,
// since SHM has no native accept queue.
func (d *shmDriver) Listen(endpoint string) error {
	a2b, b2a, err := openSHMRings(endpoint)
	if err != nil {
		return fmt.Errorf("mtcl: shm listen %q: %w", endpoint, ErrInvalidArgument)
	}
	go d.waitForPeer(endpoint, a2b, b2a)
	return nil
}

func (d *shmDriver) waitForPeer(endpoint string, a2b, b2a *shmRing) {
	marker := shmMarkerPath(endpoint)
	poll := NewAcceptPoll(d.acceptPoll)
	for {
		if _, err := os.Stat(marker); err == nil {
			h := &shmHandle{name: endpoint, readRing: b2a, writeRing: a2b}
			d.mu.Lock()
			d.pending = append(d.pending, h)
			d.mu.Unlock()
			return
		}
		poll.Sleep()
	}
}

func (d *shmDriver) Connect(ctx context.Context, address string, timeout time.Duration) (HandleBackend, error) {
	a2b, b2a, err := openSHMRings(address)
	if err != nil {
		return nil, fmt.Errorf("mtcl: shm connect %q: %w", address, ErrUnreachable)
	}
	marker := shmMarkerPath(address)
	f, err := os.Create(marker)
	if err != nil {
		return nil, fmt.Errorf("mtcl: shm marker for %q: %w", address, ErrIOError)
	}
	f.Close()
	return &shmHandle{name: address, readRing: a2b, writeRing: b2a}, nil
}

func (d *shmDriver) Update(push func(isNew bool, h HandleBackend)) error {
	d.mu.Lock()
	pending := d.pending
	d.pending = nil
	runtime := d.runtime
	d.runtime = nil
	d.mu.Unlock()

	for _, h := range pending {
		push(true, h)
	}
	for _, h := range runtime {
		if _, err := h.Probe(false); err != nil {
			if Kind(err) == KindWouldBlock {
				d.mu.Lock()
				d.runtime = append(d.runtime, h)
				d.mu.Unlock()
				continue
			}
			push(false, h)
			continue
		}
		push(false, h)
	}
	return nil
}

func (d *shmDriver) NotifyYield(hb HandleBackend) {
	h, ok := hb.(*shmHandle)
	if !ok {
		return
	}
	d.mu.Lock()
	d.runtime = append(d.runtime, h)
	d.mu.Unlock()
}

func (d *shmDriver) NotifyClose(h HandleBackend, closeWr, closeRd bool) {}
func (d *shmDriver) End() error                                         { return nil }

// shmRing is one direction of a point-to-point byte ring backed by a
// memory-mapped file under os.TempDir().
type shmRing struct {
	mu   sync.Mutex
	file *os.File
	data []byte
}

func openSHMRing(path string) (*shmRing, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	size := int64(shmHeaderSize + shmRingCapacity)
	if fi, statErr := f.Stat(); statErr == nil && fi.Size() < size {
		if err := f.Truncate(size); err != nil {
			f.Close()
			return nil, err
		}
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &shmRing{file: f, data: data}, nil
}

func openSHMRings(name string) (a2b, b2a *shmRing, err error) {
	dir := shmDir(name)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, nil, err
	}
	a2b, err = openSHMRing(filepath.Join(dir, "a2b.ring"))
	if err != nil {
		return nil, nil, err
	}
	b2a, err = openSHMRing(filepath.Join(dir, "b2a.ring"))
	if err != nil {
		return nil, nil, err
	}
	return a2b, b2a, nil
}

func shmDir(name string) string {
	return filepath.Join(os.TempDir(), "mtcl-shm", filepath.Clean(name))
}

func shmMarkerPath(name string) string {
	return filepath.Join(shmDir(name), "peer.present")
}

func (r *shmRing) positions() (writePos, readPos uint64) {
	return binary.LittleEndian.Uint64(r.data[0:8]), binary.LittleEndian.Uint64(r.data[8:16])
}

func (r *shmRing) setWritePos(v uint64) { binary.LittleEndian.PutUint64(r.data[0:8], v) }
func (r *shmRing) setReadPos(v uint64)  { binary.LittleEndian.PutUint64(r.data[8:16], v) }

// write appends data to the ring, busy-polling (lock released between
// attempts) until enough free space exists.
func (r *shmRing) write(data []byte) error {
	for {
		r.mu.Lock()
		if err := unix.Flock(int(r.file.Fd()), unix.LOCK_EX); err != nil {
			r.mu.Unlock()
			return err
		}
		writePos, readPos := r.positions()
		if free := shmRingCapacity - int(writePos-readPos); free >= len(data) {
			base := shmHeaderSize
			for i, b := range data {
				r.data[base+int((writePos+uint64(i))%shmRingCapacity)] = b
			}
			r.setWritePos(writePos + uint64(len(data)))
			unix.Flock(int(r.file.Fd()), unix.LOCK_UN)
			r.mu.Unlock()
			return nil
		}
		unix.Flock(int(r.file.Fd()), unix.LOCK_UN)
		r.mu.Unlock()
		time.Sleep(time.Millisecond)
	}
}

// peekOrRead reads len(out) bytes from the current read position. If
// consume is true, the read position advances; otherwise the bytes remain
// available for a subsequent call. Returns ok=false without blocking if
// fewer bytes than requested are available and blocking is false.
func (r *shmRing) peekOrRead(out []byte, consume, blocking bool) (bool, error) {
	for {
		r.mu.Lock()
		if err := unix.Flock(int(r.file.Fd()), unix.LOCK_EX); err != nil {
			r.mu.Unlock()
			return false, err
		}
		writePos, readPos := r.positions()
		if avail := int(writePos - readPos); avail >= len(out) {
			base := shmHeaderSize
			for i := range out {
				out[i] = r.data[base+int((readPos+uint64(i))%shmRingCapacity)]
			}
			if consume {
				r.setReadPos(readPos + uint64(len(out)))
			}
			unix.Flock(int(r.file.Fd()), unix.LOCK_UN)
			r.mu.Unlock()
			return true, nil
		}
		unix.Flock(int(r.file.Fd()), unix.LOCK_UN)
		r.mu.Unlock()
		if !blocking {
			return false, nil
		}
		time.Sleep(time.Millisecond)
	}
}

func (r *shmRing) close() error {
	unix.Munmap(r.data)
	return r.file.Close()
}

// shmHandle is the driver-specific backend for one SHM connection,
// applying the same 8-byte big-endian size framing as the stream drivers
// (§4.2), just carried over a ring instead of a socket.
type shmHandle struct {
	name      string
	readRing  *shmRing
	writeRing *shmRing

	havePending bool
	pendingSize int
}

func (h *shmHandle) Send(payload []byte) error {
	var hdr [FrameHeaderSize]byte
	binary.BigEndian.PutUint64(hdr[:], uint64(len(payload)))
	if err := h.writeRing.write(hdr[:]); err != nil {
		return fmt.Errorf("mtcl: shm send: %w", ErrIOError)
	}
	if len(payload) > 0 {
		if err := h.writeRing.write(payload); err != nil {
			return fmt.Errorf("mtcl: shm send: %w", ErrIOError)
		}
	}
	return nil
}

func (h *shmHandle) Probe(blocking bool) (int, error) {
	if h.havePending {
		return h.pendingSize, nil
	}
	var hdr [FrameHeaderSize]byte
	ok, err := h.readRing.peekOrRead(hdr[:], true, blocking)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrIOError, err)
	}
	if !ok {
		return 0, ErrWouldBlock
	}
	size := int(DecodeHeader(hdr[:]))
	h.havePending = true
	h.pendingSize = size
	return size, nil
}

func (h *shmHandle) Receive(buf []byte) (int, error) {
	if !h.havePending {
		if _, err := h.Probe(true); err != nil {
			return 0, err
		}
	}
	size := h.pendingSize
	h.havePending = false
	if size == 0 {
		return 0, nil
	}
	n := size
	if n > len(buf) {
		n = len(buf)
	}
	if _, err := h.readRing.peekOrRead(buf[:n], true, true); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrIOError, err)
	}
	return n, nil
}

func (h *shmHandle) Close(closeWr, closeRd bool) error {
	if closeWr {
		return h.Send(nil)
	}
	return nil
}

func (h *shmHandle) LocalAddr() string  { return "SHM:" + h.name }
func (h *shmHandle) RemoteAddr() string { return "SHM:" + h.name }

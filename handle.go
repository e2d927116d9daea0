package mtcl

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// owner records which side may currently invoke I/O on a handle, per the
// state machine of §4.4: a handle is held by exactly one of the
// application or the runtime at any moment.
type owner int32

const (
	ownerRuntime owner = iota
	ownerApp
)

// Handle is one endpoint of a bidirectional, framed, message-oriented
// channel (C2). It wraps a driver-specific HandleBackend with the
// ownership, half-close and frame-probe-cache state the source keeps on
// every connection regardless of transport.
type Handle struct {
	mu sync.Mutex

	driverScheme string
	backend      HandleBackend
	name         string

	refcount int32
	owner    owner

	closedRd bool
	closedWr bool

	probedHas  bool
	probedSize int

	isNewConnection bool

	metrics Metrics
}

func newHandle(scheme string, backend HandleBackend, owner owner, isNew bool) *Handle {
	return &Handle{
		driverScheme:    scheme,
		backend:         backend,
		refcount:        1,
		owner:           owner,
		isNewConnection: isNew,
	}
}

// Name returns the handle's optional symbolic label, set by the team
// builder once a rendezvous identifier has been exchanged.
func (h *Handle) Name() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.name
}

// SetName assigns a symbolic label, used by the team builder to tag
// rendezvous-identified handles.
func (h *Handle) SetName(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.name = name
}

// IsNewConnection reports whether this handle arrived via an inbound
// accept rather than an explicit Connect.
func (h *Handle) IsNewConnection() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.isNewConnection
}

// Retain increments the live-reference count. Pair with Release.
func (h *Handle) Retain() {
	atomic.AddInt32(&h.refcount, 1)
}

// Release decrements the live-reference count. Once it reaches zero with
// both halves closed, the backend is destroyed.
func (h *Handle) Release() {
	if atomic.AddInt32(&h.refcount, -1) == 0 {
		h.mu.Lock()
		closed := h.closedRd && h.closedWr
		h.mu.Unlock()
		if closed {
			h.backend.Close(true, true)
		}
	}
}

func (h *Handle) requireApp() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.owner != ownerApp {
		return fmt.Errorf("mtcl: handle not held by application: %w", ErrInvalidState)
	}
	return nil
}

// Send writes payload as a single frame. Fails with ErrInvalidState if the
// write half is already closed.
func (h *Handle) Send(payload []byte) error {
	if err := h.requireApp(); err != nil {
		return err
	}
	h.mu.Lock()
	if h.closedWr {
		h.mu.Unlock()
		return fmt.Errorf("mtcl: send on closed write half: %w", ErrInvalidState)
	}
	h.mu.Unlock()
	if err := h.backend.Send(payload); err != nil {
		return translateIOError(err)
	}
	if h.metrics != nil {
		h.metrics.IncrementSend()
		h.metrics.IncrementBytesSent(int64(len(payload)))
	}
	return nil
}

// Probe reports the next frame's size without consuming it. Once the read
// half is closed, it permanently returns (0, nil) per §4.4.
func (h *Handle) Probe(blocking bool) (int, error) {
	if err := h.requireApp(); err != nil {
		return 0, err
	}
	h.mu.Lock()
	if h.closedRd {
		h.mu.Unlock()
		return 0, nil
	}
	if h.probedHas {
		size := h.probedSize
		h.mu.Unlock()
		return size, nil
	}
	h.mu.Unlock()

	size, err := h.backend.Probe(blocking)
	if err != nil {
		if translateIOError(err) == ErrEndOfStream {
			h.mu.Lock()
			h.closedRd = true
			h.mu.Unlock()
			return 0, nil
		}
		return 0, translateIOError(err)
	}
	h.mu.Lock()
	if size == 0 {
		h.closedRd = true
		h.mu.Unlock()
		return 0, nil
	}
	h.probedHas = true
	h.probedSize = size
	h.mu.Unlock()
	return size, nil
}

// Receive consumes the current frame into buf. If the cached probe size
// exceeds len(buf), it fails with ErrMessageTooLarge and the cached frame
// remains readable for a subsequent, larger-buffer call (§4.4). Returns 0
// exactly on EOS.
func (h *Handle) Receive(buf []byte) (int, error) {
	if err := h.requireApp(); err != nil {
		return 0, err
	}
	h.mu.Lock()
	if h.closedRd {
		h.mu.Unlock()
		return 0, nil
	}
	h.mu.Unlock()

	if _, err := h.Probe(true); err != nil {
		return 0, err
	}
	h.mu.Lock()
	if h.closedRd {
		h.mu.Unlock()
		return 0, nil
	}
	if h.probedHas && h.probedSize > len(buf) {
		h.mu.Unlock()
		return 0, fmt.Errorf("mtcl: buffer of %d bytes too small for %d byte frame: %w", len(buf), h.probedSize, ErrMessageTooLarge)
	}
	h.mu.Unlock()

	n, err := h.backend.Receive(buf)
	if err != nil {
		if translateIOError(err) == ErrEndOfStream {
			h.mu.Lock()
			h.closedRd = true
			h.probedHas = false
			h.mu.Unlock()
			return 0, nil
		}
		return 0, translateIOError(err)
	}
	h.mu.Lock()
	h.probedHas = false
	if n == 0 {
		h.closedRd = true
	}
	h.mu.Unlock()
	if n > 0 && h.metrics != nil {
		h.metrics.IncrementReceive()
		h.metrics.IncrementBytesReceived(int64(n))
	}
	return n, nil
}

// Close half- or fully-closes the handle. Infallible at the API surface
// per §7: errors from the backend are swallowed, matching the source's
// "close never returns an error code" contract.
func (h *Handle) Close(closeWr, closeRd bool) {
	h.mu.Lock()
	if closeWr {
		h.closedWr = true
	}
	if closeRd {
		h.closedRd = true
	}
	bothClosed := h.closedRd && h.closedWr
	h.mu.Unlock()
	h.backend.Close(closeWr, closeRd)
	if bothClosed {
		if h.metrics != nil {
			h.metrics.IncrementClosed()
		}
		h.Release()
	}
}

// Yield returns ownership of the handle from the application back to the
// runtime, re-arming readiness detection so a future update() can
// redeliver it through get_next.
func (h *Handle) Yield(mgr *Manager) {
	h.mu.Lock()
	h.owner = ownerRuntime
	h.mu.Unlock()
	if mgr != nil {
		mgr.notifyYield(h)
	}
}

// IsValid reports whether the handle has a live backend. The zero Handle
// (the "invalid handle sentinel" of §7) is never valid.
func (h *Handle) IsValid() bool {
	return h != nil && h.backend != nil
}

func translateIOError(err error) error {
	if err == nil {
		return nil
	}
	switch Kind(err) {
	case KindPeerReset:
		// §7: peer-reset during a read is translated to end-of-stream;
		// the source treats an abrupt close as an orderly one here.
		return ErrEndOfStream
	case KindUnknown:
		return fmt.Errorf("%w: %v", ErrIOError, err)
	default:
		return err
	}
}

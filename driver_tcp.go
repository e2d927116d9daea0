package mtcl

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"
)

func init() {
	RegisterFactory("TCP", func() Driver { return newTCPDriver() })
	// UCX:host:port is stream-shaped per spec.md §6.1; no RDMA/UCX binding
	// exists anywhere in the Go ecosystem, so it defers to the stream
	// driver under its own scheme alias (documented substitution, see
	// DESIGN.md).
	RegisterFactory("UCX", func() Driver { return newTCPDriver() })
}

// tcpDriver is the TCP transport driver (C1), grounded on the source's
// select()-based ConnTcp but expressed with Go's netpoller: each accepted
// connection gets its own goroutine-free, deadline-driven Probe instead
// of a shared fd_set.
type tcpDriver struct {
	mu        sync.Mutex
	listeners []net.Listener
	pending   []*tcpHandle // accepted, not yet surfaced by Update as new-connection
	runtime   []*tcpHandle // yielded back to the runtime, awaiting readiness
}

func newTCPDriver() *tcpDriver { return &tcpDriver{} }

func (d *tcpDriver) Scheme() string { return "TCP" }

func (d *tcpDriver) Init(cfg *Config) error { return nil }

func (d *tcpDriver) Listen(endpoint string) error {
	ln, err := net.Listen("tcp", endpoint)
	if err != nil {
		return fmt.Errorf("mtcl: tcp listen %q: %w", endpoint, ErrInvalidArgument)
	}
	d.mu.Lock()
	d.listeners = append(d.listeners, ln)
	d.mu.Unlock()
	go d.acceptLoop(ln)
	return nil
}

func (d *tcpDriver) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		h := newTCPHandle(conn)
		d.mu.Lock()
		d.pending = append(d.pending, h)
		d.mu.Unlock()
	}
}

func (d *tcpDriver) Connect(ctx context.Context, address string, timeout time.Duration) (HandleBackend, error) {
	conn, err := net.DialTimeout("tcp", address, timeout)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil, fmt.Errorf("mtcl: tcp connect %q: %w", address, ErrTimeout)
		}
		return nil, fmt.Errorf("mtcl: tcp connect %q: %w", address, ErrUnreachable)
	}
	return newTCPHandle(conn), nil
}

func (d *tcpDriver) Update(push func(isNew bool, h HandleBackend)) error {
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
			// Non-would-block errors (EOS, reset) are surfaced to the
			// app the next time it probes or receives this handle.
			push(false, h)
			continue
		}
		push(false, h)
	}
	return nil
}

func (d *tcpDriver) NotifyYield(hb HandleBackend) {
	h, ok := hb.(*tcpHandle)
	if !ok {
		return
	}
	d.mu.Lock()
	d.runtime = append(d.runtime, h)
	d.mu.Unlock()
}

func (d *tcpDriver) NotifyClose(hb HandleBackend, closeWr, closeRd bool) {}

func (d *tcpDriver) End() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, ln := range d.listeners {
		ln.Close()
	}
	d.listeners = nil
	return nil
}

// tcpHandle is the driver-specific backend for a single TCP connection,
// applying the framing layer (C3) described in §4.2: an 8-byte big-endian
// size header, with 0 meaning EOS.
type tcpHandle struct {
	conn net.Conn
	mu   sync.Mutex
	r    *bufio.Reader
	wbuf bytes.Buffer

	havePending bool
	pendingSize int
}

func newTCPHandle(conn net.Conn) *tcpHandle {
	return &tcpHandle{conn: conn, r: bufio.NewReader(conn)}
}

func (h *tcpHandle) Send(payload []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.wbuf.Reset()
	BuildFrame(&h.wbuf, payload)
	if _, err := h.conn.Write(h.wbuf.Bytes()); err != nil {
		return fmt.Errorf("mtcl: tcp send: %w", ErrIOError)
	}
	return nil
}

func (h *tcpHandle) Probe(blocking bool) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.havePending {
		return h.pendingSize, nil
	}
	if blocking {
		h.conn.SetReadDeadline(time.Time{})
	} else {
		h.conn.SetReadDeadline(time.Now())
	}
	hdr := make([]byte, FrameHeaderSize)
	_, err := io.ReadFull(h.r, hdr)
	h.conn.SetReadDeadline(time.Time{})
	if err != nil {
		return 0, classifyTCPErr(err)
	}
	size := int(DecodeHeader(hdr))
	h.havePending = true
	h.pendingSize = size
	return size, nil
}

func (h *tcpHandle) Receive(buf []byte) (int, error) {
	h.mu.Lock()
	if !h.havePending {
		h.mu.Unlock()
		if _, err := h.Probe(true); err != nil {
			return 0, err
		}
		h.mu.Lock()
	}
	defer h.mu.Unlock()

	size := h.pendingSize
	if size == 0 {
		h.havePending = false
		return 0, nil
	}
	n := size
	if n > len(buf) {
		n = len(buf)
	}
	if _, err := io.ReadFull(h.r, buf[:n]); err != nil {
		return 0, fmt.Errorf("mtcl: tcp receive: %w", ErrIOError)
	}
	h.havePending = false
	return n, nil
}

func (h *tcpHandle) Close(closeWr, closeRd bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if closeWr {
		h.wbuf.Reset()
		BuildFrame(&h.wbuf, nil)
		h.conn.Write(h.wbuf.Bytes())
	}
	if closeWr && closeRd {
		return h.conn.Close()
	}
	return nil
}

func (h *tcpHandle) LocalAddr() string  { return h.conn.LocalAddr().String() }
func (h *tcpHandle) RemoteAddr() string { return h.conn.RemoteAddr().String() }

func classifyTCPErr(err error) error {
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return ErrWouldBlock
	}
	if err == io.EOF || strings.Contains(err.Error(), "reset") || strings.Contains(err.Error(), "closed") {
		return ErrPeerReset
	}
	return fmt.Errorf("%w: %v", ErrIOError, err)
}

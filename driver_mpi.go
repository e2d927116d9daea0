package mtcl

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/status"
)

func init() {
	RegisterFactory("MPI", func() Driver { return newMPIDriver() })
	RegisterFactory("MPIP2P", func() Driver { return newMPIDriver() })
	encoding.RegisterCodec(rawCodec{})
}

// mpiDisconnectTag is reserved for the disconnect notification per
// spec.md §9 and original_source/protocols/mpip2p.hpp; applications must
// not Connect/Send using this tag.
const mpiDisconnectTag = 42

// rawMessage is the wire type exchanged over the MPI/MPIP2P grpc stream:
// an already-framed byte payload passed through verbatim by rawCodec,
// rather than a protoc-generated message type.
type rawMessage []byte

// rawCodec lets the MPI/MPIP2P driver move pre-framed byte payloads over
// grpc without generated protobuf bindings. No Go MPI binding exists
// anywhere in the ecosystem or the retrieval pack; grpc bidirectional
// streaming is the substitute fabric, and this codec is what makes it
// carry opaque bytes instead of a fixed message schema.
type rawCodec struct{}

func (rawCodec) Marshal(v interface{}) ([]byte, error) {
	m, ok := v.(rawMessage)
	if !ok {
		return nil, fmt.Errorf("mtcl: rawCodec cannot marshal %T", v)
	}
	return m, nil
}

func (rawCodec) Unmarshal(data []byte, v interface{}) error {
	m, ok := v.(*rawMessage)
	if !ok {
		return fmt.Errorf("mtcl: rawCodec cannot unmarshal into %T", v)
	}
	*m = append([]byte(nil), data...)
	return nil
}

func (rawCodec) Name() string { return "raw" }

type mpiServer interface {
	Channel(grpc.ServerStream) error
}

func mpiChannelHandler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(mpiServer).Channel(stream)
}

var mpiServiceDesc = grpc.ServiceDesc{
	ServiceName: "mtcl.MPIP2P",
	HandlerType: (*mpiServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Channel",
			Handler:       mpiChannelHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "mtcl_mpi",
}

// mpiDriver substitutes grpc bidirectional streaming for the native
// MPI/MPIP2P fabric (§6.1's "MPI:rank:tag", "MPIP2P:label"), grounded on
// original_source/protocols/mpip2p.hpp's rank/tag-addressed point-to-point
// channel. google.golang.org/grpc is the pack's own stand-in for a
// message-oriented, rank-addressed fabric (estuary-flow, rclone, aistore
// and fuchsia all depend on it).
type mpiDriver struct {
	mu        sync.Mutex
	listeners []*grpc.Server
	pending   []*mpiHandle // new streams, not yet surfaced by Update
	runtime   []*mpiHandle // yielded back to the runtime, awaiting readiness
}

func newMPIDriver() *mpiDriver { return &mpiDriver{} }

func (d *mpiDriver) Scheme() string        { return "MPI" }
func (d *mpiDriver) Init(cfg *Config) error { return nil }

// Channel implements mpiServer: every accepted stream becomes a pending
// new-connection handle, then blocks until the handle is closed so the
// underlying RPC stays open for the rest of its life.
func (d *mpiDriver) Channel(stream grpc.ServerStream) error {
	h := newMPIServerHandle(stream)
	d.mu.Lock()
	d.pending = append(d.pending, h)
	d.mu.Unlock()
	<-h.closed
	return nil
}

func (d *mpiDriver) Listen(endpoint string) error {
	ln, err := net.Listen("tcp", endpoint)
	if err != nil {
		return fmt.Errorf("mtcl: mpi listen %q: %w", endpoint, ErrInvalidArgument)
	}
	srv := grpc.NewServer()
	srv.RegisterService(&mpiServiceDesc, d)
	d.mu.Lock()
	d.listeners = append(d.listeners, srv)
	d.mu.Unlock()
	go srv.Serve(ln)
	return nil
}

func (d *mpiDriver) Connect(ctx context.Context, address string, timeout time.Duration) (HandleBackend, error) {
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	conn, err := grpc.DialContext(dialCtx, address,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock())
	if err != nil {
		return nil, fmt.Errorf("mtcl: mpi connect %q: %w", address, ErrUnreachable)
	}
	stream, err := conn.NewStream(context.Background(), &mpiServiceDesc.Streams[0], "/mtcl.MPIP2P/Channel")
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("mtcl: mpi connect %q: %w", address, ErrUnreachable)
	}
	return newMPIClientHandle(conn, stream), nil
}

func (d *mpiDriver) Update(push func(isNew bool, h HandleBackend)) error {
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

func (d *mpiDriver) NotifyYield(hb HandleBackend) {
	h, ok := hb.(*mpiHandle)
	if !ok {
		return
	}
	d.mu.Lock()
	d.runtime = append(d.runtime, h)
	d.mu.Unlock()
}

func (d *mpiDriver) NotifyClose(h HandleBackend, closeWr, closeRd bool) {}

func (d *mpiDriver) End() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, srv := range d.listeners {
		srv.GracefulStop()
	}
	d.listeners = nil
	return nil
}

// mpiStream is the SendMsg/RecvMsg subset shared by grpc.ServerStream and
// grpc.ClientStream, letting mpiHandle treat both sides uniformly.
type mpiStream interface {
	SendMsg(m interface{}) error
	RecvMsg(m interface{}) error
}

// mpiHandle is the driver-specific backend for one MPI/MPIP2P channel.
// Like MQTT, grpc messages are already boundary-delimited, so EOS is a
// zero-length message rather than a size header.
type mpiHandle struct {
	stream mpiStream
	conn   *grpc.ClientConn // non-nil only for the connecting side
	closed chan struct{}
	once   sync.Once

	mu          sync.Mutex
	havePending bool
	pendingBuf  []byte

	// inflight holds the result of an outstanding non-blocking recvOne
	// attempt. grpc forbids concurrent RecvMsg calls on one stream, so a
	// repeated non-blocking Probe (e.g. the runtime re-polling a yielded
	// handle every progress tick) must reuse this goroutine's result
	// instead of racing a fresh one against it.
	inflight chan mpiRecvResult
}

type mpiRecvResult struct {
	data []byte
	err  error
}

func newMPIServerHandle(stream grpc.ServerStream) *mpiHandle {
	return &mpiHandle{stream: stream, closed: make(chan struct{})}
}

func newMPIClientHandle(conn *grpc.ClientConn, stream grpc.ClientStream) *mpiHandle {
	return &mpiHandle{stream: stream, conn: conn, closed: make(chan struct{})}
}

func (h *mpiHandle) Send(payload []byte) error {
	m := rawMessage(append([]byte(nil), payload...))
	if err := h.stream.SendMsg(m); err != nil {
		return fmt.Errorf("mtcl: mpi send: %w", ErrIOError)
	}
	return nil
}

func (h *mpiHandle) recvOne() ([]byte, error) {
	var m rawMessage
	if err := h.stream.RecvMsg(&m); err != nil {
		return nil, err
	}
	return m, nil
}

// Probe has no native non-blocking receive on a grpc stream; a
// non-blocking call races the read against a short timeout, reusing one
// in-flight RecvMsg goroutine across repeated calls rather than spawning a
// new one each time (grpc streams reject concurrent RecvMsg calls). This
// is a documented approximation (see DESIGN.md), not a true peek.
func (h *mpiHandle) Probe(blocking bool) (int, error) {
	h.mu.Lock()
	if h.havePending {
		n := len(h.pendingBuf)
		h.mu.Unlock()
		return n, nil
	}
	ch := h.inflight
	if ch == nil {
		ch = make(chan mpiRecvResult, 1)
		h.inflight = ch
		go func() {
			data, err := h.recvOne()
			ch <- mpiRecvResult{data, err}
		}()
	}
	h.mu.Unlock()

	if !blocking {
		select {
		case r := <-ch:
			return h.resolveRecv(r)
		case <-time.After(time.Millisecond):
			return 0, ErrWouldBlock
		}
	}

	r := <-ch
	return h.resolveRecv(r)
}

func (h *mpiHandle) resolveRecv(r mpiRecvResult) (int, error) {
	h.mu.Lock()
	h.inflight = nil
	h.mu.Unlock()
	if r.err != nil {
		return 0, classifyMPIErr(r.err)
	}
	h.mu.Lock()
	h.havePending = true
	h.pendingBuf = r.data
	h.mu.Unlock()
	return len(r.data), nil
}

func (h *mpiHandle) Receive(buf []byte) (int, error) {
	if _, err := h.Probe(true); err != nil {
		return 0, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	data := h.pendingBuf
	h.havePending = false
	h.pendingBuf = nil
	if len(data) == 0 {
		return 0, nil
	}
	return copy(buf, data), nil
}

func (h *mpiHandle) Close(closeWr, closeRd bool) error {
	if closeWr {
		h.Send(nil)
		if cs, ok := h.stream.(grpc.ClientStream); ok {
			cs.CloseSend()
		}
	}
	if closeWr && closeRd {
		h.once.Do(func() { close(h.closed) })
		if h.conn != nil {
			return h.conn.Close()
		}
	}
	return nil
}

func (h *mpiHandle) LocalAddr() string  { return "MPI" }
func (h *mpiHandle) RemoteAddr() string { return "MPI" }

func classifyMPIErr(err error) error {
	if err == io.EOF {
		return ErrPeerReset
	}
	if s, ok := status.FromError(err); ok {
		switch s.Code() {
		case codes.Canceled, codes.Unavailable:
			return ErrPeerReset
		case codes.DeadlineExceeded:
			return ErrTimeout
		}
	}
	return fmt.Errorf("%w: %v", ErrIOError, err)
}

package mtcl

import "sync"

// pipeBackend is an in-memory HandleBackend used by the package's own test
// files to exercise Handle, Collective and Manager logic without any real
// transport. Two pipeBackend values constructed back to back via
// newPipePair behave like a connected pair of TCP sockets carrying the
// standard 8-byte frame header.
type pipeBackend struct {
	mu     sync.Mutex
	cond   *sync.Cond
	outbox chan []byte
	inbox  chan []byte
	closed bool

	pending     []byte
	havePending bool
}

func newPipePair() (*pipeBackend, *pipeBackend) {
	a2b := make(chan []byte, 64)
	b2a := make(chan []byte, 64)
	a := &pipeBackend{outbox: a2b, inbox: b2a}
	b := &pipeBackend{outbox: b2a, inbox: a2b}
	return a, b
}

func (p *pipeBackend) Send(payload []byte) error {
	p.outbox <- EncodeFrame(payload)
	return nil
}

func (p *pipeBackend) fill() bool {
	if p.havePending {
		return true
	}
	select {
	case frame, ok := <-p.inbox:
		if !ok {
			return false
		}
		p.pending = frame
		p.havePending = true
		return true
	default:
		return false
	}
}

func (p *pipeBackend) Probe(blocking bool) (int, error) {
	if p.fill() {
		return int(DecodeHeader(p.pending[:FrameHeaderSize])), nil
	}
	if !blocking {
		return 0, ErrWouldBlock
	}
	frame, ok := <-p.inbox
	if !ok {
		return 0, ErrPeerReset
	}
	p.pending = frame
	p.havePending = true
	return int(DecodeHeader(p.pending[:FrameHeaderSize])), nil
}

func (p *pipeBackend) Receive(buf []byte) (int, error) {
	if _, err := p.Probe(true); err != nil {
		return 0, err
	}
	payload := p.pending[FrameHeaderSize:]
	p.havePending = false
	p.pending = nil
	return copy(buf, payload), nil
}

func (p *pipeBackend) Close(closeWr, closeRd bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if closeWr && !p.closed {
		p.closed = true
		p.outbox <- eosFrame
	}
	return nil
}

func (p *pipeBackend) LocalAddr() string  { return "pipe:local" }
func (p *pipeBackend) RemoteAddr() string { return "pipe:remote" }

func newTestHandlePair() (*Handle, *Handle) {
	a, b := newPipePair()
	return newHandle("PIPE", a, ownerApp, false), newHandle("PIPE", b, ownerApp, false)
}

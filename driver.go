package mtcl

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// HandleBackend is the driver-specific operations a concrete handle must
// implement. Handle (§4.4) wraps one of these with the ownership, framing
// and half-close state machine; the backend itself only knows how to move
// bytes and report readiness for its transport.
type HandleBackend interface {
	// Send writes payload as a single frame. All-or-error: a partial
	// write is resumed internally and never observed by the caller.
	Send(payload []byte) error
	// Probe reports the next frame's size without consuming it. If
	// blocking is false and nothing is ready, it fails with ErrWouldBlock.
	Probe(blocking bool) (size int, err error)
	// Receive consumes the frame probe most recently reported (or probes
	// internally first) into buf, returning the number of bytes written.
	// 0 means EOS.
	Receive(buf []byte) (int, error)
	// Close half- or fully-closes the backend connection.
	Close(closeWr, closeRd bool) error
	LocalAddr() string
	RemoteAddr() string
}

// Driver is the transport capability interface every concrete backend
// satisfies (C1). The Manager holds drivers behind this uniform surface;
// the progress thread drives each registered driver's Update.
type Driver interface {
	// Scheme returns the address prefix this driver answers to, e.g. "TCP".
	Scheme() string
	// Init brings up driver-level resources, seeded from the Manager's
	// Config. Called once by Manager.Init.
	Init(cfg *Config) error
	// Listen begins accepting inbound connections matching endpoint.
	Listen(endpoint string) error
	// Connect produces a backend connected to address, or fails with
	// ErrUnreachable / ErrTimeout / ErrInvalidArgument.
	Connect(ctx context.Context, address string, timeout time.Duration) (HandleBackend, error)
	// Update performs one non-blocking progress step: accept pending
	// connections, detect readable handles, and invoke push for each
	// ready event. Must not block longer than a bounded poll interval.
	Update(push func(isNew bool, h HandleBackend)) error
	// NotifyYield re-arms readiness detection for h after the runtime
	// regains control of it.
	NotifyYield(h HandleBackend)
	// NotifyClose tells the driver h has been half- or fully-closed at
	// the Handle layer, independent of the backend's own Close call.
	NotifyClose(h HandleBackend, closeWr, closeRd bool)
	// End stops the driver's listeners and releases driver-level
	// resources. It does not close handles the driver has already handed
	// out.
	End() error
}

// Factory constructs a fresh Driver instance. Concrete drivers register a
// Factory under their scheme via RegisterFactory, typically from an init()
// function, mirroring the teacher repo's own driver registry.
type Factory func() Driver

var (
	factoriesMu sync.Mutex
	factories   = map[string]Factory{}
)

// RegisterFactory registers f under scheme for every subsequently
// constructed Manager to pick up. Intended to be called from a driver
// package's init(), before any Manager.Init call — per §6.5, static
// registration of driver factories is permitted before init.
func RegisterFactory(scheme string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[scheme] = f
}

// UnregisterFactory removes a previously registered factory. Mainly useful
// in tests that swap a real driver for a fake under the same scheme.
func UnregisterFactory(scheme string) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	delete(factories, scheme)
}

// GetFactories returns a snapshot of the registered scheme set.
func GetFactories() map[string]Factory {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	out := make(map[string]Factory, len(factories))
	for k, v := range factories {
		out[k] = v
	}
	return out
}

func splitScheme(address string) (scheme, rest string, err error) {
	for i := 0; i < len(address); i++ {
		if address[i] == ':' {
			if i == 0 {
				break
			}
			return address[:i], address[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("mtcl: address %q has no SCHEME: prefix: %w", address, ErrInvalidArgument)
}

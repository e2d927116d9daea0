package mtcl

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Manager is the registry of drivers, owner of the progress thread, and
// façade for Listen/Connect/GetNext/Finalize (C5). Unlike the source's
// static class, Manager is an explicit, constructible type so tests can
// run several independent instances side by side.
type Manager struct {
	appName string
	cfg     *Config
	logger  Logger
	metrics Metrics

	mu          sync.Mutex
	drivers     map[string]Driver
	initialized bool
	finalized   atomic.Bool

	queue *dispatchQueue

	limiter *rate.Limiter

	onConnMu sync.Mutex
	onConn   func(h *Handle, isNew bool)

	// yielded maps a yielded handle's backend to its Handle so that the
	// redelivery event hands back the same Handle.
	yielded sync.Map

	progressDone chan struct{}
}

// NewManager constructs a Manager without starting it. Call Init before
// any other method.
func NewManager(appName string, opts ...Option) *Manager {
	cfg := applyConfig(opts)
	return &Manager{
		appName: appName,
		cfg:     cfg,
		logger:  cfg.logger,
		metrics: cfg.metrics,
		drivers: make(map[string]Driver),
		queue:   newDispatchQueue(),
		limiter: rate.NewLimiter(rate.Every(cfg.fastPoll), 1),
	}
}

// Init brings up every driver registered via RegisterFactory (or added
// explicitly via AddDriver before Init) and starts the progress thread.
// Idempotent: a second call is a no-op.
func (m *Manager) Init() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.initialized {
		return nil
	}
	if m.finalized.Load() {
		return ErrAlreadyFinalized
	}
	for scheme, factory := range GetFactories() {
		if _, ok := m.drivers[scheme]; ok {
			continue
		}
		m.drivers[scheme] = factory()
	}
	for scheme, d := range m.drivers {
		if err := d.Init(m.cfg); err != nil {
			return fmt.Errorf("mtcl: initializing driver %q: %w", scheme, err)
		}
	}
	m.initialized = true
	m.progressDone = make(chan struct{})
	go m.progressLoop()
	go m.watchContext()
	m.logger.Infof("manager %q initialized with %d drivers", m.appName, len(m.drivers))
	return nil
}

// watchContext ties WithContext's context to Finalize: cancelling it has
// the same effect as an explicit Finalize(false) call. Exits once the
// progress thread has stopped for any reason, so it never leaks past a
// Manager's lifetime.
func (m *Manager) watchContext() {
	select {
	case <-m.cfg.ctx.Done():
		m.Finalize(false)
	case <-m.progressDone:
	}
}

// AddDriver registers an already-constructed Driver under its own Scheme,
// overriding any factory-registered driver for the same scheme. Must be
// called before Init.
func (m *Manager) AddDriver(d Driver) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.initialized {
		return fmt.Errorf("mtcl: AddDriver after Init: %w", ErrInvalidState)
	}
	m.drivers[d.Scheme()] = d
	return nil
}

func (m *Manager) driverFor(scheme string) (Driver, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.initialized || m.finalized.Load() {
		return nil, ErrNotInitialized
	}
	d, ok := m.drivers[scheme]
	if !ok {
		return nil, fmt.Errorf("mtcl: no driver registered for scheme %q: %w", scheme, ErrUnknownScheme)
	}
	return d, nil
}

// Listen begins accepting inbound connections at endpoint ("SCHEME:rest"),
// or at a component's own configured listen endpoints if endpoint names a
// resolver component instead of carrying a scheme prefix.
func (m *Manager) Listen(endpoint string) error {
	scheme, rest, err := splitScheme(endpoint)
	if err != nil {
		if m.cfg.resolver == nil {
			return err
		}
		addrs, rerr := m.cfg.resolver.ListenAddresses(endpoint)
		if rerr != nil {
			return rerr
		}
		for _, addr := range addrs {
			if lerr := m.Listen(addr); lerr != nil {
				return lerr
			}
		}
		return nil
	}
	d, err := m.driverFor(scheme)
	if err != nil {
		return err
	}
	return d.Listen(rest)
}

// Connect produces a Handle to target, which is either a transport URL
// ("SCHEME:rest") dispatched directly to a driver, or a symbolic
// component name resolved via the configured Resolver. It retries on
// ErrUnreachable up to the configured connect timeout.
func (m *Manager) Connect(ctx context.Context, target string) (*Handle, error) {
	scheme, rest, err := splitScheme(target)
	if err != nil {
		if m.cfg.resolver == nil {
			return nil, err
		}
		addr, rerr := m.cfg.resolver.ConnectAddress(target, func(s string) bool {
			_, derr := m.driverFor(s)
			return derr == nil
		})
		if rerr != nil {
			return nil, rerr
		}
		return m.Connect(ctx, addr)
	}
	d, err := m.driverFor(scheme)
	if err != nil {
		return nil, err
	}

	deadline := time.Now().Add(m.cfg.connectTimeout)
	poll := NewAdaptivePoll(m.cfg.connectRetry, m.cfg.connectRetry)
	for {
		backend, err := d.Connect(ctx, rest, m.cfg.connectTimeout)
		if err == nil {
			h := newHandle(scheme, backend, ownerApp, false)
			h.metrics = m.metrics
			m.metrics.IncrementConnected()
			return h, nil
		}
		if Kind(err) != KindUnreachable || time.Now().After(deadline) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		poll.Sleep()
	}
}

// GetNext blocks until a dispatch event is available and returns its
// handle, flipping ownership to the application. Returns ErrNotInitialized
// once Finalize has run and no further events remain.
func (m *Manager) GetNext() (*Handle, error) {
	ev, ok := m.queue.pop()
	if !ok {
		return nil, ErrNotInitialized
	}
	ev.handle.mu.Lock()
	ev.handle.owner = ownerApp
	ev.handle.mu.Unlock()
	return ev.handle, nil
}

// OnConnection registers a non-blocking callback invoked by the progress
// thread for every dispatch event, in addition to (not instead of)
// GetNext's FIFO queue. Supplements the blocking consumption path with the
// source's registerConnectionHandler style without altering the queue's
// contract.
func (m *Manager) OnConnection(fn func(h *Handle, isNew bool)) {
	m.onConnMu.Lock()
	defer m.onConnMu.Unlock()
	m.onConn = fn
}

// Yield returns ownership of h to the runtime so a future update() can
// redeliver it through GetNext without the caller re-issuing Connect.
func (m *Manager) Yield(h *Handle) {
	h.Yield(m)
}

func (m *Manager) notifyYield(h *Handle) {
	d, err := m.driverFor(h.driverScheme)
	if err != nil {
		return
	}
	m.yielded.Store(h.backend, h)
	d.NotifyYield(h.backend)
}

// progressLoop is the single driver-sweeping goroutine (C5). In the
// default mode it copies the driver registry and the finalized flag under
// m.mu on every iteration, since AddDriver/Init could in principle still
// be racing on another goroutine's first call. When WithSingleIOThread is
// set, the registry is known immutable post-Init (AddDriver already
// rejects calls after Init), so this loop reads m.drivers directly and
// never takes m.mu at all. Each driver's Update still takes that driver's
// own mutex in either mode.
func (m *Manager) progressLoop() {
	defer close(m.progressDone)
	if m.cfg.singleIOThread {
		m.progressLoopCollapsed()
		return
	}
	poll := NewAdaptivePoll(m.cfg.fastPoll, m.cfg.steadyPoll)
	for {
		m.mu.Lock()
		finalized := m.finalized.Load()
		drivers := make(map[string]Driver, len(m.drivers))
		for k, v := range m.drivers {
			drivers[k] = v
		}
		m.mu.Unlock()
		if finalized {
			return
		}

		active := m.sweepDrivers(drivers)
		if active {
			poll.Reset()
		}
		_ = m.limiter.Wait(context.Background())
		poll.Sleep()
	}
}

// progressLoopCollapsed is the WithSingleIOThread variant: m.drivers is
// read directly with no mutex, relying on it being immutable once Init
// has returned, and the poll cadence is fixed rather than backing off
// while no driver has activity.
func (m *Manager) progressLoopCollapsed() {
	poll := NewCollapsedPoll(m.cfg.fastPoll)
	for {
		if m.finalized.Load() {
			return
		}
		m.sweepDrivers(m.drivers)
		_ = m.limiter.Wait(context.Background())
		poll.Sleep()
	}
}

// sweepDrivers runs one Update pass over drivers, dispatching every event
// it produces, and reports whether any driver had activity.
func (m *Manager) sweepDrivers(drivers map[string]Driver) bool {
	active := false
	for scheme, d := range drivers {
		err := d.Update(func(isNew bool, backend HandleBackend) {
			active = true
			var h *Handle
			if !isNew {
				if prev, ok := m.yielded.LoadAndDelete(backend); ok {
					h = prev.(*Handle)
				}
			}
			if h == nil {
				h = newHandle(scheme, backend, ownerRuntime, isNew)
				h.metrics = m.metrics
			}
			if isNew {
				m.metrics.IncrementAccepted()
			}
			m.queue.push(dispatchEvent{isNew: isNew, handle: h})
			m.onConnMu.Lock()
			cb := m.onConn
			m.onConnMu.Unlock()
			if cb != nil {
				cb(h, isNew)
			}
		})
		if err != nil {
			m.logger.Warnf("driver %q update: %v", scheme, err)
		}
	}
	return active
}

// Finalize stops the progress thread, optionally drains pending close I/O
// across every driver, and releases the driver registry. A second call
// fails with ErrAlreadyFinalized per §8's idempotence property.
func (m *Manager) Finalize(drain bool) error {
	m.mu.Lock()
	if m.finalized.Load() {
		m.mu.Unlock()
		return ErrAlreadyFinalized
	}
	m.finalized.Store(true)
	drivers := make([]Driver, 0, len(m.drivers))
	for _, d := range m.drivers {
		drivers = append(drivers, d)
	}
	m.mu.Unlock()

	m.cfg.cancel()

	if m.progressDone != nil {
		<-m.progressDone
	}
	m.queue.finish()

	if !drain {
		return nil
	}

	g := new(errgroup.Group)
	for _, d := range drivers {
		d := d
		g.Go(func() error {
			return d.End()
		})
	}
	return g.Wait()
}

package mtcl

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"
)

const (
	// DefaultFastPoll is the polling interval used during activity.
	// Adaptive polling backs off exponentially from FastPoll to SteadyPoll.
	DefaultFastPoll = 10 * time.Millisecond
	// DefaultSteadyPoll is the steady-state polling interval for idle drivers.
	DefaultSteadyPoll = 500 * time.Millisecond
	// DefaultAcceptPoll is the polling interval for drivers scanning for new connections.
	DefaultAcceptPoll = 1 * time.Second
	// DefaultConnectTimeout is the maximum duration Connect waits before giving up.
	DefaultConnectTimeout = 30 * time.Second
	// DefaultConnectRetry is the interval between connect retry attempts.
	DefaultConnectRetry = 200 * time.Millisecond
)

// Option configures a Manager at construction time.
type Option func(*Config)

// Config holds Manager-wide tuning. Zero value is never used directly;
// construct one via defaultConfig() and apply Options on top.
type Config struct {
	ctx    context.Context
	cancel context.CancelFunc

	logger Logger
	metrics Metrics

	fastPoll   time.Duration
	steadyPoll time.Duration
	acceptPoll time.Duration

	connectTimeout time.Duration
	connectRetry   time.Duration

	singleIOThread bool

	resolver *Resolver
}

func defaultConfig() *Config {
	ctx, cancel := context.WithCancel(context.Background())
	return &Config{
		ctx:            ctx,
		cancel:         cancel,
		logger:         newDefaultLogger(),
		metrics:        NewDefaultMetrics(),
		fastPoll:       DefaultFastPoll,
		steadyPoll:     DefaultSteadyPoll,
		acceptPoll:     DefaultAcceptPoll,
		connectTimeout: DefaultConnectTimeout,
		connectRetry:   DefaultConnectRetry,
	}
}

func applyConfig(opts []Option) *Config {
	cfg := defaultConfig()
	for _, o := range opts {
		o(cfg)
	}
	return cfg
}

// WithContext sets the base context controlling the progress thread's
// lifetime. Cancelling it has the same effect as calling Finalize.
func WithContext(ctx context.Context) Option {
	return func(c *Config) {
		if ctx != nil {
			c.ctx, c.cancel = context.WithCancel(ctx)
		}
	}
}

// WithLogger injects a structured logger. The default logs to stderr at
// info level via logrus.
func WithLogger(l Logger) Option {
	return func(c *Config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics injects a custom Metrics implementation. The default uses
// atomic in-process counters; see PrometheusMetrics for an alternative.
func WithMetrics(m Metrics) Option {
	return func(c *Config) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithFastPoll sets the progress thread's polling interval while a driver
// has recent activity.
func WithFastPoll(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.fastPoll = d
		}
	}
}

// WithSteadyPoll sets the progress thread's steady-state polling interval
// once a driver has been idle for a while.
func WithSteadyPoll(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.steadyPoll = d
		}
	}
}

// WithAcceptPoll sets how frequently the SHM driver's listener checks for
// a connecting peer. The other drivers accept without polling and ignore it.
func WithAcceptPoll(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.acceptPoll = d
		}
	}
}

// WithConnectTimeout bounds how long Connect retries before returning
// ErrUnreachable.
func WithConnectTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.connectTimeout = d
		}
	}
}

// WithConnectRetry sets the interval between Connect retry attempts.
func WithConnectRetry(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.connectRetry = d
		}
	}
}

// WithSingleIOThread switches the progress thread to a loop that reads the
// driver registry without taking the Manager's mutex and sweeps every
// driver's update() at a fixed cadence, after the source's
// SINGLE_IO_THREAD build switch. Driver-level locking is not removed:
// each driver's Update still takes its own mutex. Off by default; only
// safe when callers never touch handles from a goroutine other than the
// one calling GetNext.
func WithSingleIOThread() Option {
	return func(c *Config) {
		c.singleIOThread = true
	}
}

// WithResolver attaches a component Resolver, enabling Connect/Listen to
// take bare component names instead of SCHEME:rest addresses.
func WithResolver(r *Resolver) Option {
	return func(c *Config) {
		if r != nil {
			c.resolver = r
		}
	}
}

// Component describes one entry of a resolver document: a named peer
// reachable over one or more protocols, in preference order.
type Component struct {
	Name            string   `json:"name"`
	Host            string   `json:"host"`
	Protocols       []string `json:"protocols"`
	ListenEndpoints []string `json:"listen-endpoints"`
}

// Resolver maps component names to connect/listen endpoints, loaded from
// the JSON document format spec.md §6.4 names explicitly as the wire
// format for this loader.
type Resolver struct {
	components map[string]Component
}

type resolverDoc struct {
	Components []Component `json:"components"`
}

// LoadResolver parses a JSON resolver document from path.
func LoadResolver(path string) (*Resolver, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("mtcl: reading resolver file: %w", err)
	}
	return ParseResolver(data)
}

// ParseResolver parses a JSON resolver document from raw bytes.
func ParseResolver(data []byte) (*Resolver, error) {
	var doc resolverDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("mtcl: parsing resolver document: %w", err)
	}
	r := &Resolver{components: make(map[string]Component, len(doc.Components))}
	for _, c := range doc.Components {
		r.components[c.Name] = c
	}
	return r, nil
}

// Lookup returns the component entry for name, if any.
func (r *Resolver) Lookup(name string) (Component, bool) {
	if r == nil {
		return Component{}, false
	}
	c, ok := r.components[name]
	return c, ok
}

// ConnectAddress returns the first SCHEME:rest address for name whose
// scheme has a registered driver, trying the component's protocol list in
// order and prefixing each with its Host.
func (r *Resolver) ConnectAddress(name string, hasDriver func(scheme string) bool) (string, error) {
	c, ok := r.Lookup(name)
	if !ok {
		return "", fmt.Errorf("mtcl: unknown component %q: %w", name, ErrInvalidArgument)
	}
	for _, proto := range c.Protocols {
		if hasDriver(proto) {
			return fmt.Sprintf("%s:%s", proto, c.Host), nil
		}
	}
	return "", fmt.Errorf("mtcl: no reachable protocol for component %q: %w", name, ErrUnknownScheme)
}

// ListenAddresses returns a component's configured listen endpoints in order.
func (r *Resolver) ListenAddresses(name string) ([]string, error) {
	c, ok := r.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("mtcl: unknown component %q: %w", name, ErrInvalidArgument)
	}
	return c.ListenEndpoints, nil
}

package mtcl

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks runtime counters across every driver a Manager owns.
// Handle.Send/Handle.Receive/Handle.Close and the Manager's accept/connect
// paths call Increment*; collectors read via Get* or, for
// PrometheusMetrics, by scraping the registered collectors directly.
type Metrics interface {
	IncrementSend()
	IncrementReceive()
	IncrementBytesSent(n int64)
	IncrementBytesReceived(n int64)
	IncrementAccepted()
	IncrementConnected()
	IncrementClosed()

	GetSendCount() int64
	GetReceiveCount() int64
	GetBytesSent() int64
	GetBytesReceived() int64
	GetAcceptedCount() int64
	GetConnectedCount() int64
	GetClosedCount() int64
}

// DefaultMetrics implements Metrics with atomic in-process counters, the
// same shape as the teacher repo's atomic-counter implementation.
type DefaultMetrics struct {
	sends     int64
	receives  int64
	bytesSent int64
	bytesRecv int64
	accepted  int64
	connected int64
	closed    int64
}

// NewDefaultMetrics creates a new DefaultMetrics instance.
func NewDefaultMetrics() *DefaultMetrics { return &DefaultMetrics{} }

func (m *DefaultMetrics) IncrementSend()             { atomic.AddInt64(&m.sends, 1) }
func (m *DefaultMetrics) IncrementReceive()           { atomic.AddInt64(&m.receives, 1) }
func (m *DefaultMetrics) IncrementBytesSent(n int64)  { atomic.AddInt64(&m.bytesSent, n) }
func (m *DefaultMetrics) IncrementBytesReceived(n int64) {
	atomic.AddInt64(&m.bytesRecv, n)
}
func (m *DefaultMetrics) IncrementAccepted()  { atomic.AddInt64(&m.accepted, 1) }
func (m *DefaultMetrics) IncrementConnected() { atomic.AddInt64(&m.connected, 1) }
func (m *DefaultMetrics) IncrementClosed()    { atomic.AddInt64(&m.closed, 1) }

func (m *DefaultMetrics) GetSendCount() int64      { return atomic.LoadInt64(&m.sends) }
func (m *DefaultMetrics) GetReceiveCount() int64   { return atomic.LoadInt64(&m.receives) }
func (m *DefaultMetrics) GetBytesSent() int64      { return atomic.LoadInt64(&m.bytesSent) }
func (m *DefaultMetrics) GetBytesReceived() int64  { return atomic.LoadInt64(&m.bytesRecv) }
func (m *DefaultMetrics) GetAcceptedCount() int64  { return atomic.LoadInt64(&m.accepted) }
func (m *DefaultMetrics) GetConnectedCount() int64 { return atomic.LoadInt64(&m.connected) }
func (m *DefaultMetrics) GetClosedCount() int64    { return atomic.LoadInt64(&m.closed) }

// PrometheusMetrics implements Metrics with Prometheus client_golang
// collectors, for callers who want to expose /metrics rather than poll
// Get* accessors directly.
type PrometheusMetrics struct {
	sends     prometheus.Counter
	receives  prometheus.Counter
	bytesOut  prometheus.Counter
	bytesIn   prometheus.Counter
	accepted  prometheus.Counter
	connected prometheus.Counter
	closed    prometheus.Counter
}

// NewPrometheusMetrics builds and registers a PrometheusMetrics on reg. Pass
// prometheus.DefaultRegisterer to use the global registry.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	pm := &PrometheusMetrics{
		sends:     prometheus.NewCounter(prometheus.CounterOpts{Name: "mtcl_sends_total", Help: "Total Handle.Send calls that completed."}),
		receives:  prometheus.NewCounter(prometheus.CounterOpts{Name: "mtcl_receives_total", Help: "Total Handle.Receive calls that completed."}),
		bytesOut:  prometheus.NewCounter(prometheus.CounterOpts{Name: "mtcl_bytes_sent_total", Help: "Total payload bytes sent."}),
		bytesIn:   prometheus.NewCounter(prometheus.CounterOpts{Name: "mtcl_bytes_received_total", Help: "Total payload bytes received."}),
		accepted:  prometheus.NewCounter(prometheus.CounterOpts{Name: "mtcl_accepted_total", Help: "Total inbound connections accepted."}),
		connected: prometheus.NewCounter(prometheus.CounterOpts{Name: "mtcl_connected_total", Help: "Total outbound connections established."}),
		closed:    prometheus.NewCounter(prometheus.CounterOpts{Name: "mtcl_closed_total", Help: "Total handles closed."}),
	}
	if reg != nil {
		reg.MustRegister(pm.sends, pm.receives, pm.bytesOut, pm.bytesIn, pm.accepted, pm.connected, pm.closed)
	}
	return pm
}

func (m *PrometheusMetrics) IncrementSend()              { m.sends.Inc() }
func (m *PrometheusMetrics) IncrementReceive()            { m.receives.Inc() }
func (m *PrometheusMetrics) IncrementBytesSent(n int64)    { m.bytesOut.Add(float64(n)) }
func (m *PrometheusMetrics) IncrementBytesReceived(n int64) { m.bytesIn.Add(float64(n)) }
func (m *PrometheusMetrics) IncrementAccepted()            { m.accepted.Inc() }
func (m *PrometheusMetrics) IncrementConnected()           { m.connected.Inc() }
func (m *PrometheusMetrics) IncrementClosed()              { m.closed.Inc() }

// Get* accessors are not cheap on a Prometheus counter (no public Value()
// accessor), so PrometheusMetrics is meant to be scraped, not polled;
// these panic to surface misuse early rather than silently return zero.
func (m *PrometheusMetrics) GetSendCount() int64      { panic("mtcl: PrometheusMetrics does not support polling; scrape the registry instead") }
func (m *PrometheusMetrics) GetReceiveCount() int64   { panic("mtcl: PrometheusMetrics does not support polling; scrape the registry instead") }
func (m *PrometheusMetrics) GetBytesSent() int64      { panic("mtcl: PrometheusMetrics does not support polling; scrape the registry instead") }
func (m *PrometheusMetrics) GetBytesReceived() int64  { panic("mtcl: PrometheusMetrics does not support polling; scrape the registry instead") }
func (m *PrometheusMetrics) GetAcceptedCount() int64  { panic("mtcl: PrometheusMetrics does not support polling; scrape the registry instead") }
func (m *PrometheusMetrics) GetConnectedCount() int64 { panic("mtcl: PrometheusMetrics does not support polling; scrape the registry instead") }
func (m *PrometheusMetrics) GetClosedCount() int64    { panic("mtcl: PrometheusMetrics does not support polling; scrape the registry instead") }

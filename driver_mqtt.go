package mtcl

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

func init() {
	RegisterFactory("MQTT", func() Driver { return newMQTTDriver() })
}

// mqttDriver is the broker-mediated message-oriented driver (C1),
// grounded on original_source/protocols/mqtt.hpp and the
// github.com/eclipse/paho.mqtt.golang client already named in the
// retrieval pack's byd-hass and ibs-source-syslog-consumer manifests.
// Since MQTT has no connection-accept primitive, an inbound connection is
// emulated by a per-listener rendezvous topic: a connecting peer publishes
// a fresh connection id there, and both sides then exchange framed
// messages on a pair of per-connection topics.
type mqttDriver struct {
	mu      sync.Mutex
	clients map[string]mqtt.Client
	pending []*mqttHandle // new rendezvoused connections, not yet surfaced by Update
	runtime []*mqttHandle // yielded back to the runtime, awaiting readiness
}

func newMQTTDriver() *mqttDriver {
	return &mqttDriver{clients: make(map[string]mqtt.Client)}
}

func (d *mqttDriver) Scheme() string        { return "MQTT" }
func (d *mqttDriver) Init(cfg *Config) error { return nil }

func (d *mqttDriver) clientFor(broker string) (mqtt.Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if c, ok := d.clients[broker]; ok {
		return c, nil
	}
	opts := mqtt.NewClientOptions().AddBroker(broker).SetClientID("mtcl-" + uuid.NewString())
	c := mqtt.NewClient(opts)
	if tok := c.Connect(); tok.Wait() && tok.Error() != nil {
		return nil, tok.Error()
	}
	d.clients[broker] = c
	return c, nil
}

// parseMQTTAddress splits "broker_id[:topic]" per §6.1 into a broker URL
// paho can dial and the topic prefix used for rendezvous.
func parseMQTTAddress(address string) (broker, topic string) {
	parts := strings.SplitN(address, ":", 2)
	brokerID := parts[0]
	if len(parts) == 2 {
		topic = parts[1]
	}
	if !strings.Contains(brokerID, "://") {
		brokerID = "tcp://" + brokerID
	}
	return brokerID, topic
}

func (d *mqttDriver) Listen(endpoint string) error {
	broker, topic := parseMQTTAddress(endpoint)
	if topic == "" {
		return fmt.Errorf("mtcl: mqtt listen %q requires a topic: %w", endpoint, ErrInvalidArgument)
	}
	c, err := d.clientFor(broker)
	if err != nil {
		return fmt.Errorf("mtcl: mqtt listen %q: %w", endpoint, ErrIOError)
	}
	rendezvous := topic + "/connect"
	tok := c.Subscribe(rendezvous, 1, func(_ mqtt.Client, msg mqtt.Message) {
		connID := string(msg.Payload())
		h := newMQTTHandle(c, topic+"/"+connID+"/c2s", topic+"/"+connID+"/s2c")
		if err := h.subscribe(); err != nil {
			return
		}
		d.mu.Lock()
		d.pending = append(d.pending, h)
		d.mu.Unlock()
	})
	if tok.Wait() && tok.Error() != nil {
		return fmt.Errorf("mtcl: mqtt subscribe %q: %w", rendezvous, ErrIOError)
	}
	return nil
}

func (d *mqttDriver) Connect(ctx context.Context, address string, timeout time.Duration) (HandleBackend, error) {
	broker, topic := parseMQTTAddress(address)
	if topic == "" {
		return nil, fmt.Errorf("mtcl: mqtt connect %q requires a topic: %w", address, ErrInvalidArgument)
	}
	c, err := d.clientFor(broker)
	if err != nil {
		return nil, fmt.Errorf("mtcl: mqtt connect %q: %w", address, ErrUnreachable)
	}
	connID := uuid.NewString()
	h := newMQTTHandle(c, topic+"/"+connID+"/s2c", topic+"/"+connID+"/c2s")
	if err := h.subscribe(); err != nil {
		return nil, fmt.Errorf("mtcl: mqtt connect %q: %w", address, ErrIOError)
	}
	tok := c.Publish(topic+"/connect", 1, false, []byte(connID))
	if tok.Wait() && tok.Error() != nil {
		return nil, fmt.Errorf("mtcl: mqtt connect %q: %w", address, ErrUnreachable)
	}
	return h, nil
}

func (d *mqttDriver) Update(push func(isNew bool, h HandleBackend)) error {
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

func (d *mqttDriver) NotifyYield(hb HandleBackend) {
	h, ok := hb.(*mqttHandle)
	if !ok {
		return
	}
	d.mu.Lock()
	d.runtime = append(d.runtime, h)
	d.mu.Unlock()
}

func (d *mqttDriver) NotifyClose(h HandleBackend, closeWr, closeRd bool) {}

func (d *mqttDriver) End() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range d.clients {
		c.Disconnect(250)
	}
	d.clients = make(map[string]mqtt.Client)
	return nil
}

// mqttHandle is the driver-specific backend for one rendezvoused MQTT
// connection. MQTT already preserves message boundaries, so no size
// header is needed; EOS is a zero-length message, matching §4.2's note
// that message-oriented transports may emulate EOS natively instead of
// framing it.
type mqttHandle struct {
	client    mqtt.Client
	sendTopic string
	recvTopic string

	msgs chan []byte

	mu          sync.Mutex
	havePending bool
	pending     []byte
}

func newMQTTHandle(c mqtt.Client, sendTopic, recvTopic string) *mqttHandle {
	return &mqttHandle{client: c, sendTopic: sendTopic, recvTopic: recvTopic, msgs: make(chan []byte, 64)}
}

func (h *mqttHandle) subscribe() error {
	tok := h.client.Subscribe(h.recvTopic, 1, func(_ mqtt.Client, msg mqtt.Message) {
		payload := append([]byte(nil), msg.Payload()...)
		select {
		case h.msgs <- payload:
		default:
		}
	})
	tok.Wait()
	return tok.Error()
}

func (h *mqttHandle) Send(payload []byte) error {
	tok := h.client.Publish(h.sendTopic, 1, false, payload)
	if tok.Wait() && tok.Error() != nil {
		return fmt.Errorf("mtcl: mqtt publish: %w", ErrIOError)
	}
	return nil
}

func (h *mqttHandle) Probe(blocking bool) (int, error) {
	h.mu.Lock()
	if h.havePending {
		n := len(h.pending)
		h.mu.Unlock()
		return n, nil
	}
	h.mu.Unlock()

	if blocking {
		msg := <-h.msgs
		h.mu.Lock()
		h.havePending = true
		h.pending = msg
		h.mu.Unlock()
		return len(msg), nil
	}
	select {
	case msg := <-h.msgs:
		h.mu.Lock()
		h.havePending = true
		h.pending = msg
		h.mu.Unlock()
		return len(msg), nil
	default:
		return 0, ErrWouldBlock
	}
}

func (h *mqttHandle) Receive(buf []byte) (int, error) {
	if _, err := h.Probe(true); err != nil {
		return 0, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	msg := h.pending
	h.havePending = false
	h.pending = nil
	if len(msg) == 0 {
		return 0, nil
	}
	return copy(buf, msg), nil
}

func (h *mqttHandle) Close(closeWr, closeRd bool) error {
	if closeWr {
		return h.Send(nil)
	}
	return nil
}

func (h *mqttHandle) LocalAddr() string  { return "MQTT:" + h.sendTopic }
func (h *mqttHandle) RemoteAddr() string { return "MQTT:" + h.recvTopic }

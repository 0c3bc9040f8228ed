package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cziter15/BlynkMqttBridge/internal/blynk"
)

var errMock = errors.New("mock failure")

type pinWrite struct {
	pin   int
	value string
}

// mockDevice records virtual writes and satisfies blynk.Connector.
type mockDevice struct {
	mu        sync.Mutex
	connected bool
	failWrite bool
	writes    []pinWrite
	stats     blynk.Stats
	onPin     func(blynk.PinEvent)
	started   bool
	closed    int
}

var _ blynk.Connector = (*mockDevice)(nil)

func newMockDevice() *mockDevice {
	return &mockDevice{connected: true}
}

func (d *mockDevice) Start(context.Context) {
	d.mu.Lock()
	d.started = true
	d.mu.Unlock()
}

func (d *mockDevice) IsConnected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected
}

func (d *mockDevice) setConnected(v bool) {
	d.mu.Lock()
	d.connected = v
	d.mu.Unlock()
}

func (d *mockDevice) VirtualWrite(pin int, values ...any) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.connected {
		return blynk.ErrNotConnected
	}
	if d.failWrite {
		return errMock
	}
	value := ""
	if len(values) > 0 {
		value = fmt.Sprint(values[0])
	}
	d.writes = append(d.writes, pinWrite{pin: pin, value: value})
	return nil
}

func (d *mockDevice) DigitalWrite(int, bool) error { return nil }
func (d *mockDevice) VirtualRead(int) error        { return nil }

func (d *mockDevice) SetWidgetProperty(int, blynk.WidgetProperty, any) error { return nil }

func (d *mockDevice) SetOnPinEvent(cb func(blynk.PinEvent)) {
	d.mu.Lock()
	d.onPin = cb
	d.mu.Unlock()
}

func (d *mockDevice) emit(ev blynk.PinEvent) {
	d.mu.Lock()
	cb := d.onPin
	d.mu.Unlock()
	if cb != nil {
		cb(ev)
	}
}

func (d *mockDevice) Stats() blynk.Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := d.stats
	s.Connected = d.connected
	return s
}

func (d *mockDevice) Close() error {
	d.mu.Lock()
	d.closed++
	d.mu.Unlock()
	return nil
}

func (d *mockDevice) getWrites() []pinWrite {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]pinWrite, len(d.writes))
	copy(out, d.writes)
	return out
}

type publish struct {
	topic   string
	payload string
	retain  bool
}

// mockPubSub records publishes and subscriptions and satisfies PubSub.
type mockPubSub struct {
	mu          sync.Mutex
	connected   bool
	failPublish bool
	failStart   bool
	publishes   []publish
	subscribes  [][]string
	onConn      func(bool)
	onMessage   func(string, []byte)
	started     bool
	closed      int
}

var _ PubSub = (*mockPubSub)(nil)

func newMockPubSub() *mockPubSub {
	return &mockPubSub{connected: true}
}

func (p *mockPubSub) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

func (p *mockPubSub) setConnected(v bool) {
	p.mu.Lock()
	p.connected = v
	p.mu.Unlock()
}

func (p *mockPubSub) Subscribe(topics []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subscribes = append(p.subscribes, append([]string(nil), topics...))
	return nil
}

func (p *mockPubSub) Publish(topic string, payload []byte, retain bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failPublish {
		return errMock
	}
	p.publishes = append(p.publishes, publish{topic: topic, payload: string(payload), retain: retain})
	return nil
}

func (p *mockPubSub) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failStart {
		return errMock
	}
	p.started = true
	return nil
}

func (p *mockPubSub) SetOnConnectionChange(cb func(bool)) {
	p.mu.Lock()
	p.onConn = cb
	p.mu.Unlock()
}

func (p *mockPubSub) SetOnMessage(cb func(string, []byte)) {
	p.mu.Lock()
	p.onMessage = cb
	p.mu.Unlock()
}

func (p *mockPubSub) Close() error {
	p.mu.Lock()
	p.closed++
	p.mu.Unlock()
	return nil
}

func (p *mockPubSub) connect() {
	p.setConnected(true)
	p.mu.Lock()
	cb := p.onConn
	p.mu.Unlock()
	if cb != nil {
		cb(true)
	}
}

func (p *mockPubSub) deliver(topic, payload string) {
	p.mu.Lock()
	cb := p.onMessage
	p.mu.Unlock()
	if cb != nil {
		cb(topic, []byte(payload))
	}
}

func (p *mockPubSub) getPublishes() []publish {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]publish, len(p.publishes))
	copy(out, p.publishes)
	return out
}

func (p *mockPubSub) getSubscribes() [][]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]string, len(p.subscribes))
	copy(out, p.subscribes)
	return out
}

// mockRecorder collects transfers and drops.
type mockRecorder struct {
	mu        sync.Mutex
	transfers []Transfer
	drops     []DropReason
}

func (r *mockRecorder) RecordTransfer(t Transfer) {
	r.mu.Lock()
	r.transfers = append(r.transfers, t)
	r.mu.Unlock()
}

func (r *mockRecorder) RecordDrop(reason DropReason) {
	r.mu.Lock()
	r.drops = append(r.drops, reason)
	r.mu.Unlock()
}

func (r *mockRecorder) getTransfers() []Transfer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Transfer(nil), r.transfers...)
}

func (r *mockRecorder) getDrops() []DropReason {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]DropReason(nil), r.drops...)
}

package bridge

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// DeviceWriter is the Blynk side of the router.
// Satisfied by *blynk.Client.
type DeviceWriter interface {
	IsConnected() bool
	VirtualWrite(pin int, values ...any) error
}

// Publisher is the MQTT side of the router.
type Publisher interface {
	IsConnected() bool
	Subscribe(topics []string) error
	Publish(topic string, payload []byte, retain bool) error
}

// RouterOptions holds the router's collaborators.
type RouterOptions struct {
	Table   *Table
	Device  DeviceWriter
	PubSub  Publisher
	EchoTTL time.Duration

	// Recorder is optional.
	Recorder Recorder

	// Logger is optional.
	Logger Logger
}

// RouterStats is a snapshot of routing counters.
type RouterStats struct {
	ToDevice         uint64
	ToPubSub         uint64
	Acks             uint64
	EchoesSuppressed uint64
	Dropped          uint64
	PendingEchoes    int
}

// Router translates values between MQTT topics and Blynk pins.
//
// OnPubSubMessage and OnPinUpdate are called concurrently from the MQTT
// callback goroutine and the Blynk event worker. The table is read-only;
// the echo set carries its own lock.
type Router struct {
	table    *Table
	device   DeviceWriter
	pubsub   Publisher
	echoes   *EchoSet
	recorder Recorder
	now      func() time.Time

	toDevice         atomic.Uint64
	toPubSub         atomic.Uint64
	acks             atomic.Uint64
	echoesSuppressed atomic.Uint64
	dropped          atomic.Uint64

	logger   Logger
	loggerMu sync.RWMutex
}

// NewRouter creates a router. Table, Device and PubSub are required.
func NewRouter(opts RouterOptions) (*Router, error) {
	if opts.Table == nil {
		return nil, fmt.Errorf("%w: mapping table", ErrMissingDependency)
	}
	if opts.Device == nil {
		return nil, fmt.Errorf("%w: device writer", ErrMissingDependency)
	}
	if opts.PubSub == nil {
		return nil, fmt.Errorf("%w: publisher", ErrMissingDependency)
	}

	return &Router{
		table:    opts.Table,
		device:   opts.Device,
		pubsub:   opts.PubSub,
		echoes:   NewEchoSet(opts.EchoTTL),
		recorder: opts.Recorder,
		now:      time.Now,
		logger:   opts.Logger,
	}, nil
}

// OnPubSubMessage routes an inbound MQTT message to its pin.
func (r *Router) OnPubSubMessage(topic string, payload []byte) {
	if r.echoes.Consume(topic) {
		r.echoesSuppressed.Add(1)
		r.recordDrop(DropEcho)
		r.logDebug("echo suppressed", "topic", topic)
		return
	}

	entry, ok := r.table.ByTopic(topic)
	if !ok {
		return
	}

	if !r.device.IsConnected() {
		r.drop(DropDeviceOffline, "topic", topic, "pin", entry.Pin)
		return
	}

	in := string(payload)
	out := entry.Encoder.ToDevice(entry, in)
	if err := r.device.VirtualWrite(entry.Pin, out); err != nil {
		r.drop(DropSendFailed, "topic", topic, "pin", entry.Pin, "error", err)
		return
	}

	r.toDevice.Add(1)
	r.logDebug("mqtt -> blynk", "topic", topic, "pin", entry.Pin, "value", out)
	r.record(Transfer{
		Direction: ToDevice,
		Topic:     topic,
		Pin:       entry.Pin,
		Encoder:   entry.Encoder.Name(),
		Input:     in,
		Output:    out,
	})
}

// OnPinUpdate routes a virtual pin update to its MQTT topic. raw is the
// first value of the update as received.
func (r *Router) OnPinUpdate(pin int, raw string) {
	if !r.pubsub.IsConnected() {
		r.drop(DropPubSubOffline, "pin", pin)
		return
	}

	entry, ok := r.table.ByPin(pin)
	if !ok {
		return
	}

	out := entry.Encoder.FromDevice(entry, raw)
	topic := entry.OutTopic()

	// Only subscribed topics can come back as an echo.
	marked := r.table.IsListenTopic(topic)
	if marked {
		r.echoes.Add(topic)
	}

	if err := r.pubsub.Publish(topic, []byte(out), !entry.SuppressRetain); err != nil {
		if marked {
			r.echoes.Remove(topic)
		}
		r.drop(DropPublishFailed, "topic", topic, "pin", pin, "error", err)
	} else {
		r.toPubSub.Add(1)
		r.logDebug("blynk -> mqtt", "pin", pin, "topic", topic, "value", out)
		r.record(Transfer{
			Direction: ToPubSub,
			Topic:     topic,
			Pin:       pin,
			Encoder:   entry.Encoder.Name(),
			Input:     raw,
			Output:    out,
		})
	}

	if entry.Ack {
		r.ack(entry, raw)
	}
}

// ack writes the untransformed value back to the pin it came from.
func (r *Router) ack(entry *Entry, raw string) {
	if err := r.device.VirtualWrite(entry.Pin, raw); err != nil {
		r.drop(DropSendFailed, "pin", entry.Pin, "ack", true, "error", err)
		return
	}
	r.acks.Add(1)
	r.record(Transfer{
		Direction: Ack,
		Topic:     entry.Topic,
		Pin:       entry.Pin,
		Encoder:   entry.Encoder.Name(),
		Input:     raw,
		Output:    raw,
	})
}

// OnPubSubConnected clears echo tracking and subscribes to every listen
// topic in a single call.
func (r *Router) OnPubSubConnected() {
	r.echoes.Clear()

	topics := r.table.ListenTopics()
	if len(topics) == 0 {
		return
	}
	if err := r.pubsub.Subscribe(topics); err != nil {
		r.logError("subscribe failed", "topics", len(topics), "error", err)
		return
	}
	r.logInfo("subscribed", "topics", len(topics))
}

// Table returns the mapping table.
func (r *Router) Table() *Table {
	return r.table
}

// Stats returns a snapshot of routing counters.
func (r *Router) Stats() RouterStats {
	return RouterStats{
		ToDevice:         r.toDevice.Load(),
		ToPubSub:         r.toPubSub.Load(),
		Acks:             r.acks.Load(),
		EchoesSuppressed: r.echoesSuppressed.Load(),
		Dropped:          r.dropped.Load(),
		PendingEchoes:    r.echoes.Len(),
	}
}

// SetLogger sets the logger for the router.
func (r *Router) SetLogger(logger Logger) {
	r.loggerMu.Lock()
	r.logger = logger
	r.loggerMu.Unlock()
}

func (r *Router) drop(reason DropReason, keysAndValues ...any) {
	r.dropped.Add(1)
	r.recordDrop(reason)
	r.logDebug("value dropped", append([]any{"reason", string(reason)}, keysAndValues...)...)
}

func (r *Router) record(t Transfer) {
	if r.recorder == nil {
		return
	}
	t.Time = r.now()
	r.recorder.RecordTransfer(t)
}

func (r *Router) recordDrop(reason DropReason) {
	if d, ok := r.recorder.(DropRecorder); ok {
		d.RecordDrop(reason)
	}
}

func (r *Router) getLogger() Logger {
	r.loggerMu.RLock()
	defer r.loggerMu.RUnlock()
	return r.logger
}

func (r *Router) logDebug(msg string, keysAndValues ...any) {
	if l := r.getLogger(); l != nil {
		l.Debug(msg, keysAndValues...)
	}
}

func (r *Router) logInfo(msg string, keysAndValues ...any) {
	if l := r.getLogger(); l != nil {
		l.Info(msg, keysAndValues...)
	}
}

func (r *Router) logError(msg string, keysAndValues ...any) {
	if l := r.getLogger(); l != nil {
		l.Error(msg, keysAndValues...)
	}
}

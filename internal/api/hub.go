package api

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/cziter15/BlynkMqttBridge/internal/bridge"
	"github.com/cziter15/BlynkMqttBridge/internal/infrastructure/config"
	"github.com/cziter15/BlynkMqttBridge/internal/infrastructure/logging"
)

// Live feed channels.
const (
	// ChannelTransfer carries every value that crossed the bridge.
	ChannelTransfer = "bridge.transfer"

	// ChannelDrop carries every value that did not.
	ChannelDrop = "bridge.drop"
)

// TransferEvent is the payload of a bridge.transfer event.
type TransferEvent struct {
	Time      time.Time `json:"time"`
	Direction string    `json:"direction"`
	Topic     string    `json:"topic"`
	Pin       int       `json:"pin"`
	Encoder   string    `json:"encoder"`
	Input     string    `json:"input"`
	Output    string    `json:"output"`
}

// DropEvent is the payload of a bridge.drop event.
type DropEvent struct {
	Reason string `json:"reason"`
}

// Hub tracks live feed clients and fans bridge events out to them.
// It implements bridge.Recorder and bridge.DropRecorder; neither blocks.
type Hub struct {
	timing  feedTiming
	logger  *logging.Logger
	mu      sync.RWMutex
	clients map[*feedClient]struct{}
}

// feedTiming is the per-connection keepalive policy.
type feedTiming struct {
	pingEvery  time.Duration
	pongWait   time.Duration
	readLimit  int64
	writeLimit time.Duration
}

func newFeedTiming(cfg config.WebSocketConfig) feedTiming {
	ping, pong, size := cfg.PingInterval, cfg.PongTimeout, cfg.MaxMessageSize
	if ping <= 0 {
		ping = 30
	}
	if pong <= 0 {
		pong = 10
	}
	if size <= 0 {
		size = 4096
	}
	return feedTiming{
		pingEvery:  time.Duration(ping) * time.Second,
		pongWait:   time.Duration(pong) * time.Second,
		readLimit:  int64(size),
		writeLimit: time.Duration(pong) * time.Second,
	}
}

// readDeadline is how long a client may stay silent, pongs included.
func (t feedTiming) readDeadline() time.Time {
	return time.Now().Add(t.pingEvery + t.pongWait)
}

// NewHub creates a hub. Zero settings fall back to 30 s ping, 10 s pong
// wait and a 4096 byte message limit.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		timing:  newFeedTiming(cfg),
		logger:  logger,
		clients: make(map[*feedClient]struct{}),
	}
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.disconnectAll()
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// RecordTransfer implements bridge.Recorder.
func (h *Hub) RecordTransfer(t bridge.Transfer) {
	at := t.Time
	if at.IsZero() {
		at = time.Now()
	}
	h.publish(ChannelTransfer, TransferEvent{
		Time:      at.UTC(),
		Direction: string(t.Direction),
		Topic:     t.Topic,
		Pin:       t.Pin,
		Encoder:   t.Encoder,
		Input:     t.Input,
		Output:    t.Output,
	})
}

// RecordDrop implements bridge.DropRecorder.
func (h *Hub) RecordDrop(reason bridge.DropReason) {
	h.publish(ChannelDrop, DropEvent{Reason: string(reason)})
}

// publish encodes one event and queues it on every client subscribed to
// channel. Clients whose queue is full miss the event.
func (h *Hub) publish(channel string, payload any) {
	targets := h.subscribers(channel)
	if len(targets) == 0 {
		return
	}

	data, err := json.Marshal(feedMessage{
		Type:      msgEvent,
		EventType: channel,
		Timestamp: stamp(),
		Payload:   payload,
	})
	if err != nil {
		h.logger.Error("encoding feed event failed", "channel", channel, "error", err)
		return
	}
	for _, c := range targets {
		c.enqueue(data)
	}
}

// subscribers snapshots the clients listening on channel. The hub lock is
// released before any client lock is taken.
func (h *Hub) subscribers(channel string) []*feedClient {
	h.mu.RLock()
	all := make([]*feedClient, 0, len(h.clients))
	for c := range h.clients {
		all = append(all, c)
	}
	h.mu.RUnlock()

	out := all[:0]
	for _, c := range all {
		if c.listensTo(channel) {
			out = append(out, c)
		}
	}
	return out
}

func (h *Hub) add(c *feedClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("feed client connected", "clients", n, "subject", c.subject)
}

// remove drops c from the hub. Only the caller that actually removed it
// closes the outbox, so shutdown and a read error cannot both close it.
func (h *Hub) remove(c *feedClient) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	if ok {
		close(c.outbox)
		h.logger.Debug("feed client disconnected", "clients", n)
	}
}

func (h *Hub) disconnectAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		delete(h.clients, c)
		close(c.outbox)
		if c.conn != nil {
			c.conn.Close()
		}
	}
}

var (
	_ bridge.Recorder     = (*Hub)(nil)
	_ bridge.DropRecorder = (*Hub)(nil)
)

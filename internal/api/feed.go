package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Feed message types.
const (
	msgSubscribe   = "subscribe"
	msgUnsubscribe = "unsubscribe"
	msgPing        = "ping"
	msgPong        = "pong"
	msgEvent       = "event"
	msgResponse    = "response"
	msgError       = "error"

	// outboxSize is the per-client queue of encoded messages.
	outboxSize = 256
)

// feedMessage is the envelope for every frame in either direction.
type feedMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// channelList is the payload of subscribe and unsubscribe requests.
type channelList struct {
	Channels []string `json:"channels"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Access is controlled by the bearer token, not the origin.
	CheckOrigin: func(*http.Request) bool { return true },
}

func stamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// feedClient is one live feed connection.
type feedClient struct {
	hub     *Hub
	conn    *websocket.Conn
	outbox  chan []byte
	subject string // token subject, empty without auth

	mu       sync.RWMutex
	channels map[string]struct{}
}

// handleFeed upgrades to a WebSocket. authMiddleware has already run.
func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	subject, _ := r.Context().Value(ctxKeySubject).(string) //nolint:errcheck // empty without auth
	c := &feedClient{
		hub:      s.hub,
		conn:     conn,
		outbox:   make(chan []byte, outboxSize),
		subject:  subject,
		channels: make(map[string]struct{}),
	}
	s.hub.add(c)

	go c.writeLoop()
	go c.readLoop()
}

func (c *feedClient) listensTo(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.channels[channel]
	return ok
}

// enqueue never blocks. A full outbox loses the message and a closed one
// (client gone mid-publish) is ignored.
func (c *feedClient) enqueue(data []byte) {
	defer func() {
		recover() //nolint:errcheck // send on a closed outbox
	}()

	select {
	case c.outbox <- data:
	default:
	}
}

func (c *feedClient) readLoop() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()

	t := c.hub.timing
	c.conn.SetReadLimit(t.readLimit)
	//nolint:errcheck // Best-effort; a missed deadline ends the read below
	c.conn.SetReadDeadline(t.readDeadline())
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(t.readDeadline())
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("feed client read failed", "error", err)
			}
			return
		}
		// Application messages count as liveness too.
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(t.readDeadline())
		c.dispatch(data)
	}
}

func (c *feedClient) writeLoop() {
	t := c.hub.timing
	ping := time.NewTicker(t.pingEvery)
	defer func() {
		ping.Stop()
		c.conn.Close()
	}()

	for {
		var (
			kind = websocket.TextMessage
			data []byte
		)
		select {
		case msg, ok := <-c.outbox:
			if !ok {
				//nolint:errcheck // Best-effort close frame
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			data = msg
		case <-ping.C:
			kind = websocket.PingMessage
		}

		//nolint:errcheck // A late write fails below
		c.conn.SetWriteDeadline(time.Now().Add(t.writeLimit))
		if err := c.conn.WriteMessage(kind, data); err != nil {
			return
		}
	}
}

// dispatch handles one client request.
func (c *feedClient) dispatch(data []byte) {
	var req feedMessage
	if err := json.Unmarshal(data, &req); err != nil {
		c.reply("", msgError, errorPayload("invalid JSON message"))
		return
	}

	switch req.Type {
	case msgSubscribe, msgUnsubscribe:
		c.updateChannels(req)
	case msgPing:
		c.reply(req.ID, msgPong, nil)
	default:
		c.reply(req.ID, msgError, errorPayload("unknown message type: "+req.Type))
	}
}

func (c *feedClient) updateChannels(req feedMessage) {
	// Payload was decoded into a generic map; round-trip it into the
	// typed form.
	raw, err := json.Marshal(req.Payload)
	if err != nil {
		c.reply(req.ID, msgError, errorPayload("invalid payload"))
		return
	}
	var list channelList
	if err := json.Unmarshal(raw, &list); err != nil {
		c.reply(req.ID, msgError, errorPayload("invalid "+req.Type+" payload"))
		return
	}

	subscribe := req.Type == msgSubscribe
	c.mu.Lock()
	for _, ch := range list.Channels {
		if subscribe {
			c.channels[ch] = struct{}{}
		} else {
			delete(c.channels, ch)
		}
	}
	c.mu.Unlock()

	key := "unsubscribed"
	if subscribe {
		key = "subscribed"
	}
	c.reply(req.ID, msgResponse, map[string]any{key: list.Channels})
}

func (c *feedClient) reply(id, kind string, payload any) {
	data, err := json.Marshal(feedMessage{
		Type:      kind,
		ID:        id,
		Timestamp: stamp(),
		Payload:   payload,
	})
	if err != nil {
		return
	}
	c.enqueue(data)
}

func errorPayload(msg string) map[string]string {
	return map[string]string{"message": msg}
}

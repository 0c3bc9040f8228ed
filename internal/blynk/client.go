package blynk

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

// Default timeouts and intervals for the Blynk session.
const (
	// defaultConnectTimeout bounds the TCP dial.
	defaultConnectTimeout = time.Second

	// defaultLoginTimeout bounds the wait for the LOGIN response.
	defaultLoginTimeout = 3 * time.Second

	// defaultPingInterval is the keepalive and reconnect tick.
	defaultPingInterval = 5 * time.Second

	// defaultWriteTimeout is the deadline for a single frame write.
	defaultWriteTimeout = 5 * time.Second

	// idleTimeoutFactor times the ping interval without any inbound byte
	// marks the session dead.
	idleTimeoutFactor = 3

	// readBufferSize is the size of a single socket read.
	readBufferSize = 512

	// eventQueueSize is the buffer size for pin events awaiting delivery.
	eventQueueSize = 256

	// loginMessageID is the fixed id of the LOGIN frame.
	loginMessageID = 1
)

// Config holds the Blynk session configuration.
type Config struct {
	// Address is the server "host:port".
	Address string

	// Token is the device authentication token.
	Token string

	// ConnectTimeout bounds the TCP dial. Default: 1 second.
	ConnectTimeout time.Duration

	// LoginTimeout bounds the wait for the LOGIN response. Default: 3 seconds.
	LoginTimeout time.Duration

	// PingInterval is the keepalive/reconnect tick. Default: 5 seconds.
	PingInterval time.Duration

	// WriteTimeout is the deadline for writing one frame. Default: 5 seconds.
	WriteTimeout time.Duration

	// MaxPayload is the largest inbound payload accepted. Default: 1024.
	MaxPayload int
}

// Phase is the connection phase of the session.
type Phase int32

// Session phases.
const (
	PhaseDisconnected Phase = iota
	PhaseConnecting
	PhaseAuthenticating
	PhaseConnected
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhaseDisconnected:
		return "disconnected"
	case PhaseConnecting:
		return "connecting"
	case PhaseAuthenticating:
		return "authenticating"
	case PhaseConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// Stats holds operational statistics.
type Stats struct {
	FramesTx      uint64
	FramesRx      uint64
	FramesDropped uint64 // Unknown commands and malformed pin payloads
	EventsDropped uint64 // Pin events dropped due to a full event queue
	ErrorsTotal   uint64
	ConnectsTotal uint64 // Successful logins
	LastActivity  time.Time
	LastPing      time.Time // Last PING acknowledged by the server
	Phase         Phase
	Connected     bool
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Connector is the session surface used by the bridge.
// This allows mocking the Blynk client in tests.
type Connector interface {
	Start(ctx context.Context)
	IsConnected() bool
	VirtualWrite(pin int, values ...any) error
	DigitalWrite(pin int, on bool) error
	VirtualRead(pin int) error
	SetWidgetProperty(pin int, property WidgetProperty, value any) error
	SetOnPinEvent(callback func(PinEvent))
	Stats() Stats
	Close() error
}

// Ensure Client implements Connector.
var _ Connector = (*Client)(nil)

// Client maintains one session with a Blynk server.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Pin event callbacks run on a single worker goroutine, in arrival order.
//
// Reconnection:
//   - Start runs a fixed-interval tick. When connected it sends PING; when
//     not, it tears down any half-open socket and connects again.
//   - There is no backoff. The tick interval is also the retry interval.
//   - Any I/O error drops the session. The next tick restores it.
type Client struct {
	cfg Config

	// mu serialises Connect, Disconnect and the reconnect half of the tick.
	mu sync.Mutex

	// connMu guards conn and the message id counter. Holding it also
	// serialises frame writes.
	connMu sync.Mutex
	conn   net.Conn
	msgID  uint16

	connected atomic.Bool
	phase     atomic.Int32

	// lastPingID is the id of the most recent outbound PING.
	lastPingID atomic.Uint32

	// failures counts consecutive failed connects (for log throttling).
	failures atomic.Uint32

	onPinEvent func(PinEvent)
	onPhase    func(Phase)
	callbackMu sync.RWMutex

	events chan PinEvent

	startOnce sync.Once
	done      *closeOnce
	wg        sync.WaitGroup

	logger   Logger
	loggerMu sync.RWMutex

	framesTx      atomic.Uint64
	framesRx      atomic.Uint64
	framesDropped atomic.Uint64
	eventsDropped atomic.Uint64
	errorsTotal   atomic.Uint64
	connectsTotal atomic.Uint64
	lastActivity  atomic.Int64 // Unix nanoseconds
	lastPing      atomic.Int64 // Unix nanoseconds
}

// New creates a disconnected client. Call Start to run the session, or
// Connect to open it once without the keepalive tick.
func New(cfg Config) *Client {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.LoginTimeout <= 0 {
		cfg.LoginTimeout = defaultLoginTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.MaxPayload <= 0 {
		cfg.MaxPayload = DefaultMaxPayload
	}

	return &Client{
		cfg:    cfg,
		events: make(chan PinEvent, eventQueueSize),
		done:   newCloseOnce(),
	}
}

// Start launches the event worker and the keepalive/reconnect tick.
// The first tick fires immediately. Start returns without waiting for the
// connection; it is a no-op after the first call.
func (c *Client) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		c.wg.Add(2)
		go c.eventWorker()
		go c.keepaliveLoop(ctx)
	})
}

// Connect opens the transport and logs in.
//
// It is a no-op when already connected. A dial failure, a rejected token and
// a login timeout all return an error wrapping ErrConnectionFailed and leave
// the session disconnected.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isClosed() {
		return ErrClosed
	}
	if c.connected.Load() {
		return nil
	}

	c.teardown(c.currentConn())
	return c.connectLocked(ctx)
}

// connectLocked dials and authenticates. Caller must hold c.mu.
func (c *Client) connectLocked(ctx context.Context) error {
	c.setPhase(PhaseConnecting)

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(dialCtx, "tcp", c.cfg.Address)
	if err != nil {
		c.setPhase(PhaseDisconnected)
		c.errorsTotal.Add(1)
		return fmt.Errorf("%w: dial %s: %w", ErrConnectionFailed, c.cfg.Address, err)
	}

	c.setPhase(PhaseAuthenticating)

	dec := NewDecoder(c.cfg.MaxPayload)
	early, err := c.login(ctx, conn, dec)
	if err != nil {
		conn.Close()
		c.setPhase(PhaseDisconnected)
		c.errorsTotal.Add(1)
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	c.connMu.Lock()
	c.conn = conn
	c.msgID = loginMessageID
	c.connMu.Unlock()

	c.connected.Store(true)
	c.connectsTotal.Add(1)
	c.touch()
	c.setPhase(PhaseConnected)

	c.wg.Add(1)
	go c.receiveLoop(conn, dec, early)

	return nil
}

// login sends the LOGIN frame and waits for the server's RESPONSE.
// Frames arriving ahead of the response are returned for normal dispatch;
// bytes past it stay in dec.
func (c *Client) login(ctx context.Context, conn net.Conn, dec *Decoder) ([]Frame, error) {
	deadline := time.Now().Add(c.cfg.LoginTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("set deadline: %w", err)
	}
	defer conn.SetDeadline(time.Time{}) //nolint:errcheck // best-effort reset

	frame := Frame{Command: CmdLogin, ID: loginMessageID, Payload: []byte(c.cfg.Token)}
	if _, err := conn.Write(frame.Encode()); err != nil {
		return nil, fmt.Errorf("write login: %w", err)
	}
	c.framesTx.Add(1)

	buf := make([]byte, readBufferSize)
	var early []Frame

	for {
		for {
			f, ok, err := dec.Next()
			if err != nil {
				return nil, err
			}
			if !ok {
				break
			}
			c.framesRx.Add(1)
			if f.Command == CmdResponse && f.ID == loginMessageID {
				if f.Status != StatusOK {
					return nil, fmt.Errorf("%w: %s", ErrLoginRejected, f.Status)
				}
				return early, nil
			}
			early = append(early, f)
		}

		n, err := conn.Read(buf)
		if n > 0 {
			dec.Feed(buf[:n])
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("await login response: %w", err)
		}
	}
}

// Disconnect releases the transport and marks the session disconnected.
// Safe to call when already disconnected.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.teardown(c.currentConn())
	c.connected.Store(false)
	c.setPhase(PhaseDisconnected)
}

// Close stops the tick and the event worker and releases the transport.
// Safe to call multiple times.
func (c *Client) Close() error {
	c.done.Close()
	c.Disconnect()
	c.wg.Wait()
	c.drainEvents()

	c.logInfo("session closed")
	return nil
}

// currentConn returns the live transport, if any.
func (c *Client) currentConn() net.Conn {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.conn
}

// teardown closes conn if it is still the live transport. Stale callers
// (an old receive loop, a failed write on a replaced socket) are no-ops.
func (c *Client) teardown(conn net.Conn) bool {
	if conn == nil {
		return false
	}

	c.connMu.Lock()
	if c.conn != conn {
		c.connMu.Unlock()
		return false
	}
	c.conn = nil
	c.connMu.Unlock()

	c.connected.Store(false)
	conn.Close()
	c.setPhase(PhaseDisconnected)
	return true
}

// keepaliveLoop drives PING and reconnection on a fixed interval.
func (c *Client) keepaliveLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	c.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done.Done():
			return
		case <-ticker.C:
			c.tick(ctx)
		}
	}
}

// tick pings a live session or rebuilds a dead one.
// Only the reconnect half takes c.mu so a slow ping never blocks Disconnect.
func (c *Client) tick(ctx context.Context) {
	if c.IsConnected() {
		if err := c.SendPing(); err != nil {
			c.logDebug("ping failed", "error", err)
		}
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isClosed() || ctx.Err() != nil || c.connected.Load() {
		return
	}

	c.teardown(c.currentConn())

	c.logDebug("connecting to blynk server", "server", c.cfg.Address)
	if err := c.connectLocked(ctx); err != nil {
		if c.failures.Add(1) == 1 {
			c.logWarn("blynk connect failed, retrying", "server", c.cfg.Address, "error", err)
		} else {
			c.logDebug("blynk connect failed", "server", c.cfg.Address, "error", err)
		}
		return
	}

	c.failures.Store(0)
	c.logInfo("connected to blynk server", "server", c.cfg.Address)
}

// receiveLoop reads from one transport until it fails or is replaced.
func (c *Client) receiveLoop(conn net.Conn, dec *Decoder, early []Frame) {
	defer c.wg.Done()

	for _, f := range early {
		c.dispatch(conn, f)
	}

	idle := c.cfg.PingInterval * idleTimeoutFactor
	buf := make([]byte, readBufferSize)

	for {
		if err := c.drainFrames(conn, dec); err != nil {
			c.errorsTotal.Add(1)
			if c.teardown(conn) {
				c.logError("protocol desync, dropping session", "error", err)
			}
			return
		}

		if err := conn.SetReadDeadline(time.Now().Add(idle)); err != nil {
			c.teardown(conn)
			return
		}

		n, err := conn.Read(buf)
		if n > 0 {
			dec.Feed(buf[:n])
			c.touch()
		}
		if err != nil {
			if c.teardown(conn) && !c.isClosed() {
				c.errorsTotal.Add(1)
				c.logWarn("blynk session lost", "error", readErrorReason(err))
			}
			return
		}
	}
}

func readErrorReason(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("idle timeout: %w", err)
	}
	return err
}

// drainFrames dispatches every complete frame in dec.
func (c *Client) drainFrames(conn net.Conn, dec *Decoder) error {
	for {
		f, ok, err := dec.Next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		c.framesRx.Add(1)
		c.dispatch(conn, f)
	}
}

// dispatch handles one inbound frame.
func (c *Client) dispatch(conn net.Conn, f Frame) {
	switch f.Command {
	case CmdResponse:
		if f.Status == StatusOK && uint32(f.ID) == c.lastPingID.Load() {
			c.lastPing.Store(time.Now().UnixNano())
			return
		}
		if f.Status != StatusOK {
			c.logDebug("server response", "id", f.ID, "status", f.Status.String())
		}

	case CmdPing:
		resp := Frame{Command: CmdResponse, ID: f.ID, Status: StatusOK}
		if err := c.writeTo(conn, resp); err != nil {
			c.logDebug("ping response failed", "error", err)
		}

	case CmdHardware, CmdBridge:
		ev, err := ParsePinPayload(f.Payload)
		if err != nil {
			c.framesDropped.Add(1)
			c.logDebug("dropping pin frame", "command", f.Command.String(), "error", err)
			return
		}
		c.enqueue(ev)

	default:
		if !f.Command.Known() {
			c.framesDropped.Add(1)
			c.logDebug("dropping unknown command", "command", uint8(f.Command), "length", len(f.Payload))
		}
	}
}

// enqueue hands an event to the worker, dropping it if the queue is full.
func (c *Client) enqueue(ev PinEvent) {
	c.callbackMu.RLock()
	hasCallback := c.onPinEvent != nil
	c.callbackMu.RUnlock()

	if !hasCallback {
		return
	}

	select {
	case c.events <- ev:
	default:
		c.eventsDropped.Add(1)
		c.logWarn("event queue full, dropping pin event", "pin", ev.Pin)
	}
}

// eventWorker delivers pin events one at a time.
func (c *Client) eventWorker() {
	defer c.wg.Done()

	for {
		select {
		case <-c.done.Done():
			return
		case ev := <-c.events:
			c.deliver(ev)
		}
	}
}

func (c *Client) deliver(ev PinEvent) {
	c.callbackMu.RLock()
	callback := c.onPinEvent
	c.callbackMu.RUnlock()

	if callback == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			c.logError("pin event callback panic", "panic", fmt.Sprint(r), "pin", ev.Pin)
		}
	}()
	callback(ev)
}

func (c *Client) drainEvents() {
	for {
		select {
		case <-c.events:
		default:
			return
		}
	}
}

// VirtualWrite sends a virtual pin write. Values are rendered with fmt and
// commas are normalised to decimal points.
func (c *Client) VirtualWrite(pin int, values ...any) error {
	if err := validatePin(pin); err != nil {
		return err
	}
	_, err := c.send(CmdHardware, virtualWritePayload(pin, values...))
	return err
}

// DigitalWrite sends a digital pin write.
func (c *Client) DigitalWrite(pin int, on bool) error {
	if err := validatePin(pin); err != nil {
		return err
	}
	_, err := c.send(CmdHardware, digitalWritePayload(pin, on))
	return err
}

// VirtualRead asks the server to push the current value of a virtual pin.
func (c *Client) VirtualRead(pin int) error {
	if err := validatePin(pin); err != nil {
		return err
	}
	_, err := c.send(CmdHardwareSync, virtualReadPayload(pin))
	return err
}

// SetWidgetProperty changes a property of the widget bound to pin.
func (c *Client) SetWidgetProperty(pin int, property WidgetProperty, value any) error {
	if err := validatePin(pin); err != nil {
		return err
	}
	if !property.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownProperty, property)
	}
	_, err := c.send(CmdSetWidgetProperty, widgetPropertyPayload(pin, property, value))
	return err
}

// BridgeSetAuthToken binds a bridge channel to another device's token.
func (c *Client) BridgeSetAuthToken(target int, token string) error {
	_, err := c.send(CmdBridge, bridgeAuthPayload(target, token))
	return err
}

// BridgeVirtualWrite writes a virtual pin of the device bound to target.
func (c *Client) BridgeVirtualWrite(target, pin int, values ...any) error {
	if err := validatePin(pin); err != nil {
		return err
	}
	_, err := c.send(CmdBridge, bridgePayload(target, virtualWritePayload(pin, values...)))
	return err
}

// BridgeDigitalWrite writes a digital pin of the device bound to target.
func (c *Client) BridgeDigitalWrite(target, pin int, on bool) error {
	if err := validatePin(pin); err != nil {
		return err
	}
	_, err := c.send(CmdBridge, bridgePayload(target, digitalWritePayload(pin, on)))
	return err
}

// SendPing sends a keepalive PING.
func (c *Client) SendPing() error {
	id, err := c.send(CmdPing, nil)
	if err != nil {
		return err
	}
	c.lastPingID.Store(uint32(id))
	return nil
}

// send writes one frame with the next message id. Nothing is queued: when
// the session is down the frame is dropped and ErrNotConnected returned.
func (c *Client) send(cmd Command, payload []byte) (uint16, error) {
	if !c.connected.Load() {
		return 0, ErrNotConnected
	}
	if len(payload) > MaxWirePayload {
		return 0, fmt.Errorf("%w: %s: %d bytes", ErrPayloadTooLarge, cmd, len(payload))
	}

	c.connMu.Lock()
	conn := c.conn
	if conn == nil {
		c.connMu.Unlock()
		return 0, ErrNotConnected
	}
	c.msgID++
	if c.msgID == 0 {
		c.msgID = 1
	}
	id := c.msgID
	err := c.writeLocked(conn, Frame{Command: cmd, ID: id, Payload: payload})
	c.connMu.Unlock()

	if err != nil {
		c.failWrite(conn, err)
		return 0, fmt.Errorf("%w: %s: %w", ErrSendFailed, cmd, err)
	}
	return id, nil
}

// writeTo writes a frame with a caller-chosen id to conn, if conn is live.
func (c *Client) writeTo(conn net.Conn, f Frame) error {
	c.connMu.Lock()
	if c.conn != conn {
		c.connMu.Unlock()
		return ErrNotConnected
	}
	err := c.writeLocked(conn, f)
	c.connMu.Unlock()

	if err != nil {
		c.failWrite(conn, err)
		return fmt.Errorf("%w: %s: %w", ErrSendFailed, f.Command, err)
	}
	return nil
}

// writeLocked writes one encoded frame. Caller must hold c.connMu.
func (c *Client) writeLocked(conn net.Conn, f Frame) error {
	if err := conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
		return err
	}
	if _, err := conn.Write(f.Encode()); err != nil {
		return err
	}
	c.framesTx.Add(1)
	c.touch()
	return nil
}

func (c *Client) failWrite(conn net.Conn, err error) {
	c.errorsTotal.Add(1)
	if c.teardown(conn) {
		c.logWarn("blynk write failed, dropping session", "error", err)
	}
}

func (c *Client) setPhase(p Phase) {
	if Phase(c.phase.Swap(int32(p))) == p {
		return
	}

	c.callbackMu.RLock()
	callback := c.onPhase
	c.callbackMu.RUnlock()

	if callback != nil {
		callback(p)
	}
}

func (c *Client) touch() {
	c.lastActivity.Store(time.Now().UnixNano())
}

func (c *Client) isClosed() bool {
	select {
	case <-c.done.Done():
		return true
	default:
		return false
	}
}

// SetOnPinEvent sets the callback for pin updates pushed by the server.
// Panics in the callback are recovered and logged.
func (c *Client) SetOnPinEvent(callback func(PinEvent)) {
	c.callbackMu.Lock()
	c.onPinEvent = callback
	c.callbackMu.Unlock()
}

// SetOnPhaseChange sets a callback invoked on every phase transition.
// It runs on the goroutine causing the transition and must not block.
func (c *Client) SetOnPhaseChange(callback func(Phase)) {
	c.callbackMu.Lock()
	c.onPhase = callback
	c.callbackMu.Unlock()
}

// SetLogger sets the logger for this client.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

// IsConnected reports whether the session is logged in.
func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

// Phase returns the current connection phase.
func (c *Client) Phase() Phase {
	return Phase(c.phase.Load())
}

// Stats returns current operational statistics.
func (c *Client) Stats() Stats {
	return Stats{
		FramesTx:      c.framesTx.Load(),
		FramesRx:      c.framesRx.Load(),
		FramesDropped: c.framesDropped.Load(),
		EventsDropped: c.eventsDropped.Load(),
		ErrorsTotal:   c.errorsTotal.Load(),
		ConnectsTotal: c.connectsTotal.Load(),
		LastActivity:  unixNano(c.lastActivity.Load()),
		LastPing:      unixNano(c.lastPing.Load()),
		Phase:         c.Phase(),
		Connected:     c.IsConnected(),
	}
}

func unixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

func (c *Client) logDebug(msg string, keysAndValues ...any) {
	if l := c.getLogger(); l != nil {
		l.Debug(msg, keysAndValues...)
	}
}

func (c *Client) logInfo(msg string, keysAndValues ...any) {
	if l := c.getLogger(); l != nil {
		l.Info(msg, keysAndValues...)
	}
}

func (c *Client) logWarn(msg string, keysAndValues ...any) {
	if l := c.getLogger(); l != nil {
		l.Warn(msg, keysAndValues...)
	}
}

func (c *Client) logError(msg string, keysAndValues ...any) {
	if l := c.getLogger(); l != nil {
		l.Error(msg, keysAndValues...)
	}
}

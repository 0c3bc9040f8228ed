package mqtt

import (
	"context"
	"fmt"
	"sync"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/cziter15/BlynkMqttBridge/internal/infrastructure/config"
)

// Client wraps paho.mqtt.golang as the bridge's publish/subscribe port.
//
// Start never waits for the broker: paho keeps retrying in the background
// and reports every connect and loss through SetOnConnectionChange.
// Subscriptions are not restored by the client; the connection callback is
// expected to subscribe again.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Message and connection callbacks run on paho goroutines.
type Client struct {
	client  pahomqtt.Client
	options *pahomqtt.ClientOptions
	cfg     config.MQTTConfig

	// connected tracks current connection state.
	connected bool
	connMu    sync.RWMutex

	startOnce sync.Once
	closeOnce sync.Once

	onConnChange func(connected bool)
	onMessage    func(topic string, payload []byte)
	callbackMu   sync.RWMutex

	// logger for error/panic logging (optional, set via SetLogger).
	logger   Logger
	loggerMu sync.RWMutex
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// New creates a client from cfg. Nothing is dialled until Start.
func New(cfg config.MQTTConfig, opts ...Option) *Client {
	if cfg.Broker.ClientID == "" {
		cfg.Broker.ClientID = generateClientID()
	}

	c := &Client{cfg: cfg}
	c.options = buildClientOptions(cfg)
	for _, opt := range opts {
		opt(c.options)
	}

	c.options.SetOnConnectHandler(func(_ pahomqtt.Client) {
		c.handleConnect()
	})
	c.options.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.handleDisconnect(err)
	})
	c.options.SetReconnectingHandler(func(_ pahomqtt.Client, _ *pahomqtt.ClientOptions) {
		c.logWarn("MQTT reconnecting", "broker", brokerURL(cfg))
	})

	c.client = pahomqtt.NewClient(c.options)
	return c
}

// ClientID returns the client identifier sent to the broker.
func (c *Client) ClientID() string {
	return c.cfg.Broker.ClientID
}

// Start begins connecting in the background and returns immediately.
// Calling Start more than once is a no-op.
func (c *Client) Start() error {
	if c.client == nil {
		return ErrNotConfigured
	}

	c.startOnce.Do(func() {
		token := c.client.Connect()
		go func() {
			// With connect-retry enabled the token completes on the first
			// successful connect, or with an error once Disconnect is called.
			token.Wait()
			if err := token.Error(); err != nil {
				c.logWarn("MQTT initial connect abandoned", "error", err)
			}
		}()
	})
	return nil
}

func (c *Client) handleConnect() {
	c.connMu.Lock()
	c.connected = true
	c.connMu.Unlock()

	c.logInfo("MQTT connected", "broker", brokerURL(c.cfg), "client_id", c.cfg.Broker.ClientID)
	c.notifyConnection(true)
}

func (c *Client) handleDisconnect(err error) {
	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()

	c.logWarn("MQTT connection lost", "error", err)
	c.notifyConnection(false)
}

func (c *Client) notifyConnection(connected bool) {
	c.callbackMu.RLock()
	callback := c.onConnChange
	c.callbackMu.RUnlock()
	if callback == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			c.logError("MQTT connection callback panic recovered", "panic", r)
		}
	}()
	callback(connected)
}

// Close disconnects from the broker. It is safe to call more than once.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}

	c.closeOnce.Do(func() {
		c.client.Disconnect(defaultDisconnectQuiesce)

		c.connMu.Lock()
		c.connected = false
		c.connMu.Unlock()
	})
	return nil
}

// HealthCheck reports whether the client is connected.
func (c *Client) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected returns the current connection state.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected && c.client != nil && c.client.IsConnected()
}

// SetOnConnectionChange sets the callback invoked on every connect (true)
// and every connection loss (false).
func (c *Client) SetOnConnectionChange(callback func(connected bool)) {
	c.callbackMu.Lock()
	c.onConnChange = callback
	c.callbackMu.Unlock()
}

// SetOnMessage sets the callback for messages on subscribed topics.
func (c *Client) SetOnMessage(callback func(topic string, payload []byte)) {
	c.callbackMu.Lock()
	c.onMessage = callback
	c.callbackMu.Unlock()
}

// SetLogger sets a logger for connection events and handler panics.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

// handleMessage dispatches a paho message to the message callback with
// panic recovery.
func (c *Client) handleMessage(_ pahomqtt.Client, msg pahomqtt.Message) {
	defer func() {
		if r := recover(); r != nil {
			c.logError("MQTT handler panic recovered",
				"topic", msg.Topic(),
				"panic", r,
			)
		}
	}()

	c.callbackMu.RLock()
	callback := c.onMessage
	c.callbackMu.RUnlock()
	if callback != nil {
		callback(msg.Topic(), msg.Payload())
	}
}

func (c *Client) logInfo(msg string, args ...any) {
	if l := c.getLogger(); l != nil {
		l.Info(msg, args...)
	}
}

func (c *Client) logWarn(msg string, args ...any) {
	if l := c.getLogger(); l != nil {
		l.Warn(msg, args...)
	}
}

func (c *Client) logError(msg string, args ...any) {
	if l := c.getLogger(); l != nil {
		l.Error(msg, args...)
	}
}

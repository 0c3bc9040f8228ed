package mqtt

import (
	"crypto/tls"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/cziter15/BlynkMqttBridge/internal/infrastructure/config"
)

// Connection constants.
const (
	// defaultConnectTimeout bounds a single connection attempt.
	defaultConnectTimeout = 10 * time.Second

	// defaultPublishTimeout is the maximum time to wait for publish acknowledgment.
	defaultPublishTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 1000 // milliseconds

	// defaultKeepAlive is the keepalive interval for the connection.
	defaultKeepAlive = 60 * time.Second

	// maxQoS is the maximum QoS level supported.
	maxQoS = 2

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12

	// clientIDPrefix prefixes generated client identifiers.
	clientIDPrefix = "blynkmqttbridge-"
)

// Option adjusts paho options before the client is built.
type Option func(*pahomqtt.ClientOptions)

// WithWill sets a retained Last Will and Testament message. The broker
// publishes it if the bridge disconnects without a clean DISCONNECT.
func WithWill(topic string, payload []byte, qos byte) Option {
	return func(opts *pahomqtt.ClientOptions) {
		if topic == "" {
			return
		}
		opts.SetBinaryWill(topic, payload, qos, true)
	}
}

// WithTLSConfig replaces the default TLS configuration.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(opts *pahomqtt.ClientOptions) {
		opts.SetTLSConfig(cfg)
	}
}

// brokerURL returns tcp:// or ssl:// URL for the configured broker.
func brokerURL(cfg config.MQTTConfig) string {
	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port)
}

// generateClientID returns a unique client identifier.
func generateClientID() string {
	return clientIDPrefix + uuid.NewString()
}

// buildClientOptions creates paho MQTT options from config.
//
// This configures:
//   - Broker URL (tcp:// or ssl:// based on TLS setting)
//   - Client ID and credentials
//   - Connect retry and auto-reconnect with exponential backoff
//   - Clean session mode (subscriptions are re-issued on every connect)
func buildClientOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	opts.AddBroker(brokerURL(cfg))
	opts.SetClientID(cfg.Broker.ClientID)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}

	opts.SetCleanSession(true)

	// Retry the first connect too, so Start never fails on an absent broker.
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay) * time.Second)
	opts.SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second)

	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetKeepAlive(defaultKeepAlive)

	// Pin updates must reach the router in the order the broker sent them.
	opts.SetOrderMatters(true)

	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{
			MinVersion: tlsMinVersion,
		})
	}

	return opts
}

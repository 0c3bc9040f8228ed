package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml"
	"gopkg.in/yaml.v3"
)

// Pin bounds accepted by the Blynk server (V0..V255).
const (
	MinPin = 0
	MaxPin = 255
)

// Config is the root configuration structure for the bridge.
// It is loaded once at startup from YAML (or TOML) and can be overridden by
// environment variables. Nothing in it changes while the bridge runs.
type Config struct {
	Blynk    BlynkConfig    `yaml:"blynk" toml:"blynk"`
	MQTT     MQTTConfig     `yaml:"mqtt" toml:"mqtt"`
	Bridge   BridgeConfig   `yaml:"bridge" toml:"bridge"`
	Logging  LoggingConfig  `yaml:"logging" toml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics" toml:"metrics"`
	API      APIConfig      `yaml:"api" toml:"api"`
	InfluxDB InfluxDBConfig `yaml:"influxdb" toml:"influxdb"`
	Journal  JournalConfig  `yaml:"journal" toml:"journal"`
	Topics   []TopicConfig  `yaml:"topics" toml:"topics"`
}

// BlynkConfig contains the device-control server session settings.
type BlynkConfig struct {
	Address string `yaml:"address" toml:"address"`
	Port    int    `yaml:"port" toml:"port"`

	// Token is the device authentication token sent in the LOGIN frame.
	// WARNING: never log this value.
	Token string `yaml:"token" toml:"token"`

	// ConnectTimeoutMS bounds the TCP dial (milliseconds). Default: 1000.
	ConnectTimeoutMS int `yaml:"connect_timeout_ms" toml:"connect_timeout_ms"`

	// LoginTimeoutMS bounds the wait for the LOGIN response (milliseconds).
	// Default: 3000.
	LoginTimeoutMS int `yaml:"login_timeout_ms" toml:"login_timeout_ms"`

	// PingInterval is the keepalive/reconnect tick (seconds). Default: 5.
	PingInterval int `yaml:"ping_interval" toml:"ping_interval"`

	// MaxPayload is the largest frame payload accepted before the stream is
	// considered out of sync. Default: 1024.
	MaxPayload int `yaml:"max_payload" toml:"max_payload"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker" toml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth" toml:"auth"`
	QoS       int                 `yaml:"qos" toml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect" toml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host string `yaml:"host" toml:"host"`
	Port int    `yaml:"port" toml:"port"`
	TLS  bool   `yaml:"tls" toml:"tls"`

	// ClientID identifies the bridge at the broker. A random id is generated
	// when empty.
	ClientID string `yaml:"client_id" toml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username" toml:"username"`
	Password string `yaml:"password" toml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay" toml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay" toml:"max_delay"`
}

// BridgeConfig contains routing and health settings.
type BridgeConfig struct {
	// EchoTTL is how long a pending echo marker lives (seconds). Default: 5.
	EchoTTL int `yaml:"echo_ttl" toml:"echo_ttl"`

	// StatusTopic receives retained health messages. Empty disables health
	// reporting.
	StatusTopic string `yaml:"status_topic" toml:"status_topic"`

	// HealthInterval is how often health is published (seconds). Default: 30.
	HealthInterval int `yaml:"health_interval" toml:"health_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
	Output string `yaml:"output" toml:"output"`
}

// MetricsConfig contains the Prometheus endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Listen  string `yaml:"listen" toml:"listen"`
}

// APIConfig contains the read-only status API served on the metrics
// listener under /api/v1.
type APIConfig struct {
	Enabled bool `yaml:"enabled" toml:"enabled"`

	// JWTSecret, when set, requires an HS256 bearer token on /api/v1.
	// WARNING: never log this value.
	JWTSecret string `yaml:"jwt_secret" toml:"jwt_secret"`

	WebSocket WebSocketConfig `yaml:"websocket" toml:"websocket"`
}

// WebSocketConfig contains the live transfer feed settings.
type WebSocketConfig struct {
	// PingInterval is how often the server pings clients (seconds). Default: 30.
	PingInterval int `yaml:"ping_interval" toml:"ping_interval"`

	// PongTimeout is how long to wait for a pong (seconds). Default: 10.
	PongTimeout int `yaml:"pong_timeout" toml:"pong_timeout"`

	// MaxMessageSize bounds inbound client messages (bytes). Default: 4096.
	MaxMessageSize int `yaml:"max_message_size" toml:"max_message_size"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled" toml:"enabled"`
	URL           string `yaml:"url" toml:"url"`
	Token         string `yaml:"token" toml:"token"`
	Org           string `yaml:"org" toml:"org"`
	Bucket        string `yaml:"bucket" toml:"bucket"`
	BatchSize     int    `yaml:"batch_size" toml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval" toml:"flush_interval"`
}

// JournalConfig contains the SQLite transfer journal settings.
type JournalConfig struct {
	Enabled     bool   `yaml:"enabled" toml:"enabled"`
	Path        string `yaml:"path" toml:"path"`
	WALMode     bool   `yaml:"wal_mode" toml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout" toml:"busy_timeout"`

	// RetentionHours bounds the journal's age. Default: 168 (one week).
	RetentionHours int `yaml:"retention_hours" toml:"retention_hours"`
}

// TopicConfig binds one MQTT topic to one Blynk virtual pin.
type TopicConfig struct {
	Topic      string `yaml:"topic" toml:"topic"`
	ReplyTopic string `yaml:"reply_topic" toml:"reply_topic"`

	// Pin is a pointer so a missing pin can be told apart from V0.
	Pin *int `yaml:"pin" toml:"pin"`

	// Type names the value encoder (Straight, OnOff, Led, ...).
	Type      string `yaml:"type" toml:"type"`
	ExtraData string `yaml:"extra_data" toml:"extra_data"`

	// Ack writes a received pin value back to the device unchanged.
	Ack bool `yaml:"ack" toml:"ack"`

	// NoRetain publishes without the MQTT retain flag.
	NoRetain bool `yaml:"no_retain" toml:"no_retain"`
}

// Load reads configuration from a YAML or TOML file and applies environment
// variable overrides.
//
// The configuration loading order is:
//  1. File values
//  2. Defaults for anything the file left empty
//  3. Environment variables (override file values)
//
// Files ending in ".toml" are decoded as TOML, everything else as YAML.
// Environment variables follow the pattern: BLYNKMQTT_SECTION_KEY
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := &Config{}
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// applyDefaults fills every zero-valued setting with its default.
func applyDefaults(cfg *Config) {
	setDefault(&cfg.Blynk.Port, 8080)
	setDefault(&cfg.Blynk.ConnectTimeoutMS, 1000)
	setDefault(&cfg.Blynk.LoginTimeoutMS, 3000)
	setDefault(&cfg.Blynk.PingInterval, 5)
	setDefault(&cfg.Blynk.MaxPayload, 1024)

	if cfg.MQTT.Broker.Host == "" {
		cfg.MQTT.Broker.Host = "localhost"
	}
	setDefault(&cfg.MQTT.Broker.Port, 1883)
	setDefault(&cfg.MQTT.Reconnect.InitialDelay, 2)
	setDefault(&cfg.MQTT.Reconnect.MaxDelay, 30)

	setDefault(&cfg.Bridge.EchoTTL, 5)
	setDefault(&cfg.Bridge.HealthInterval, 30)

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "console"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}

	if cfg.Metrics.Listen == "" {
		cfg.Metrics.Listen = ":9464"
	}

	setDefault(&cfg.API.WebSocket.PingInterval, 30)
	setDefault(&cfg.API.WebSocket.PongTimeout, 10)
	setDefault(&cfg.API.WebSocket.MaxMessageSize, 4096)

	if cfg.Journal.Path == "" {
		cfg.Journal.Path = "./data/journal.db"
	}
	setDefault(&cfg.Journal.BusyTimeout, 5)
	setDefault(&cfg.Journal.RetentionHours, 168)
}

func setDefault(v *int, def int) {
	if *v == 0 {
		*v = def
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	// Blynk
	if v := os.Getenv("BLYNKMQTT_BLYNK_ADDRESS"); v != "" {
		cfg.Blynk.Address = v
	}
	if v := os.Getenv("BLYNKMQTT_BLYNK_TOKEN"); v != "" {
		cfg.Blynk.Token = v
	}

	// MQTT
	if v := os.Getenv("BLYNKMQTT_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("BLYNKMQTT_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("BLYNKMQTT_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Logging
	if v := os.Getenv("BLYNKMQTT_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// InfluxDB
	if v := os.Getenv("BLYNKMQTT_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// API
	if v := os.Getenv("BLYNKMQTT_API_JWT_SECRET"); v != "" {
		cfg.API.JWTSecret = v
	}
}

// Validate checks the configuration for errors.
// All problems are collected and reported together.
func (c *Config) Validate() error {
	var errs []string

	errs = append(errs, c.validateBlynk()...)
	errs = append(errs, c.validateMQTT()...)
	errs = append(errs, c.validateBridge()...)
	errs = append(errs, c.validateLogging()...)
	errs = append(errs, c.validateTopics()...)

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}
	if c.Journal.Enabled && c.Journal.Path == "" {
		errs = append(errs, "journal.path is required when journal is enabled")
	}
	if c.API.Enabled && !c.Metrics.Enabled {
		errs = append(errs, "api.enabled requires metrics.enabled (the API shares its listener)")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func (c *Config) validateBlynk() []string {
	var errs []string
	if c.Blynk.Address == "" {
		errs = append(errs, "blynk.address is required")
	}
	if c.Blynk.Token == "" {
		errs = append(errs, "blynk.token is required")
	}
	if c.Blynk.Port < 1 || c.Blynk.Port > 65535 {
		errs = append(errs, "blynk.port must be between 1 and 65535")
	}
	if c.Blynk.ConnectTimeoutMS < 0 || c.Blynk.LoginTimeoutMS < 0 {
		errs = append(errs, "blynk timeouts must not be negative")
	}
	if c.Blynk.PingInterval < 1 {
		errs = append(errs, "blynk.ping_interval must be at least 1 second")
	}
	if c.Blynk.MaxPayload < 1 || c.Blynk.MaxPayload > 0xFFFF {
		errs = append(errs, "blynk.max_payload must be between 1 and 65535")
	}
	return errs
}

func (c *Config) validateMQTT() []string {
	var errs []string
	if c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required")
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	return errs
}

func (c *Config) validateBridge() []string {
	var errs []string
	if c.Bridge.EchoTTL < 1 {
		errs = append(errs, "bridge.echo_ttl must be at least 1 second")
	}
	if c.Bridge.HealthInterval < 1 {
		errs = append(errs, "bridge.health_interval must be at least 1 second")
	}
	return errs
}

func (c *Config) validateLogging() []string {
	var errs []string

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, fmt.Sprintf("logging.level %q is invalid (use debug, info, warn, or error)", c.Logging.Level))
	}

	validFormats := map[string]bool{"json": true, "text": true, "console": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, fmt.Sprintf("logging.format %q is invalid (use json, text, or console)", c.Logging.Format))
	}

	return errs
}

// validateTopics checks each mapping entry for required fields.
// Encoder names are resolved later by the bridge, which owns the encoder set.
func (c *Config) validateTopics() []string {
	var errs []string

	if len(c.Topics) == 0 {
		errs = append(errs, "topics must have at least one entry")
	}

	for i, t := range c.Topics {
		if t.Topic == "" {
			errs = append(errs, fmt.Sprintf("topics[%d].topic is required", i))
		}
		if t.Type == "" {
			errs = append(errs, fmt.Sprintf("topics[%d].type is required", i))
		}
		if t.Pin == nil {
			errs = append(errs, fmt.Sprintf("topics[%d].pin is required", i))
		} else if *t.Pin < MinPin || *t.Pin > MaxPin {
			errs = append(errs, fmt.Sprintf("topics[%d].pin %d is out of range (%d-%d)", i, *t.Pin, MinPin, MaxPin))
		}
		if strings.ContainsAny(t.Topic, "+#") || strings.ContainsAny(t.ReplyTopic, "+#") {
			errs = append(errs, fmt.Sprintf("topics[%d] must not contain MQTT wildcards", i))
		}
	}

	return errs
}

// ConnectTimeout returns the Blynk dial timeout as a Duration.
func (c *Config) ConnectTimeout() time.Duration {
	return time.Duration(c.Blynk.ConnectTimeoutMS) * time.Millisecond
}

// LoginTimeout returns the Blynk login response timeout as a Duration.
func (c *Config) LoginTimeout() time.Duration {
	return time.Duration(c.Blynk.LoginTimeoutMS) * time.Millisecond
}

// PingInterval returns the Blynk keepalive interval as a Duration.
func (c *Config) PingInterval() time.Duration {
	return time.Duration(c.Blynk.PingInterval) * time.Second
}

// EchoTTL returns the pending echo lifetime as a Duration.
func (c *Config) EchoTTL() time.Duration {
	return time.Duration(c.Bridge.EchoTTL) * time.Second
}

// HealthInterval returns the health reporting interval as a Duration.
func (c *Config) HealthInterval() time.Duration {
	return time.Duration(c.Bridge.HealthInterval) * time.Second
}

// JournalRetention returns the journal retention window as a Duration.
func (c *Config) JournalRetention() time.Duration {
	return time.Duration(c.Journal.RetentionHours) * time.Hour
}

// BlynkServer returns the "host:port" dial address of the Blynk server.
func (c *Config) BlynkServer() string {
	return fmt.Sprintf("%s:%d", c.Blynk.Address, c.Blynk.Port)
}

// String returns a summary safe for logging (secrets masked).
func (c *Config) String() string {
	return fmt.Sprintf("Config{Blynk:%s, MQTT:%s:%d, Topics:%d}",
		c.BlynkServer(), c.MQTT.Broker.Host, c.MQTT.Broker.Port, len(c.Topics))
}

// String returns a string representation with password masked.
func (a MQTTAuthConfig) String() string {
	password := ""
	if a.Password != "" {
		password = "[REDACTED]"
	}
	return fmt.Sprintf("MQTTAuthConfig{Username:%q, Password:%s}", a.Username, password)
}

// MarshalJSON implements json.Marshaler to redact the password.
func (a MQTTAuthConfig) MarshalJSON() ([]byte, error) {
	type redacted MQTTAuthConfig
	safe := redacted(a)
	if safe.Password != "" {
		safe.Password = "[REDACTED]"
	}
	return json.Marshal(safe)
}

// MarshalJSON implements json.Marshaler to redact the JWT secret.
func (a APIConfig) MarshalJSON() ([]byte, error) {
	type redacted APIConfig
	safe := redacted(a)
	if safe.JWTSecret != "" {
		safe.JWTSecret = "[REDACTED]"
	}
	return json.Marshal(safe)
}

// MarshalJSON implements json.Marshaler to redact the token.
func (b BlynkConfig) MarshalJSON() ([]byte, error) {
	type redacted BlynkConfig
	safe := redacted(b)
	if safe.Token != "" {
		safe.Token = "[REDACTED]"
	}
	return json.Marshal(safe)
}

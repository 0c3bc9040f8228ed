package bridge

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/cziter15/BlynkMqttBridge/internal/blynk"
)

// DefaultHealthInterval is used when HealthReporterConfig.Interval is zero.
const DefaultHealthInterval = 30 * time.Second

// HealthPublisher is the interface for publishing health messages.
type HealthPublisher interface {
	Publish(topic string, payload []byte, retain bool) error
	IsConnected() bool
}

// SessionSource provides Blynk session state.
type SessionSource interface {
	IsConnected() bool
	Stats() blynk.Stats
}

// HealthReporter manages periodic health status reporting.
// It publishes retained health messages to a single MQTT topic; with no
// topic configured it only serves Snapshot.
type HealthReporter struct {
	topic     string
	version   string
	server    string
	startTime time.Time
	interval  time.Duration
	publisher HealthPublisher
	session   SessionSource
	router    *Router

	// Shutdown coordination (stopOnce prevents double-close panics)
	done      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once

	// Logger (optional)
	logger   Logger
	loggerMu sync.RWMutex
}

// HealthReporterConfig holds configuration for the health reporter.
type HealthReporterConfig struct {
	// Topic receives the retained health document.
	Topic string

	// Version is the bridge software version.
	Version string

	// Server is the Blynk server address, reported as-is.
	Server string

	// Interval is how often to publish health status.
	// Default: 30 seconds.
	Interval time.Duration

	Publisher HealthPublisher
	Session   SessionSource

	// Router provides routing counters and the mapping count. Optional.
	Router *Router
}

// NewHealthReporter creates a new health reporter.
// Call Start to begin reporting.
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultHealthInterval
	}

	return &HealthReporter{
		topic:     cfg.Topic,
		version:   cfg.Version,
		server:    cfg.Server,
		startTime: time.Now(),
		interval:  interval,
		publisher: cfg.Publisher,
		session:   cfg.Session,
		router:    cfg.Router,
		done:      make(chan struct{}),
	}
}

// Start begins periodic health reporting. Subsequent calls are no-ops.
func (h *HealthReporter) Start(ctx context.Context) {
	h.startOnce.Do(func() {
		h.wg.Add(1)
		go h.reportLoop(ctx)
	})
}

// Stop stops reporting and publishes a final "stopping" status.
// Safe to call multiple times.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()

		//nolint:errcheck // Best-effort during shutdown
		h.publishStatus(HealthStopping, "")
	})
}

// SetLogger sets the logger for this reporter.
func (h *HealthReporter) SetLogger(logger Logger) {
	h.loggerMu.Lock()
	h.logger = logger
	h.loggerMu.Unlock()
}

// PublishStarting publishes a "starting" status.
func (h *HealthReporter) PublishStarting() error {
	return h.publishStatus(HealthStarting, "bridge starting")
}

// PublishNow publishes the current health status immediately.
func (h *HealthReporter) PublishNow() error {
	status, reason := h.determineStatus()
	return h.publishStatus(status, reason)
}

// Topic returns the health topic, also used for the last will.
func (h *HealthReporter) Topic() string {
	return h.topic
}

func (h *HealthReporter) reportLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			if err := h.PublishNow(); err != nil {
				h.logError("failed to publish health", err)
			}
		}
	}
}

func (h *HealthReporter) determineStatus() (HealthStatus, string) {
	if h.publisher == nil || !h.publisher.IsConnected() {
		return HealthDegraded, "MQTT disconnected"
	}
	if h.session == nil || !h.session.IsConnected() {
		return HealthDegraded, "Blynk disconnected"
	}
	return HealthHealthy, ""
}

// Snapshot returns the current health document without publishing it.
func (h *HealthReporter) Snapshot() HealthMessage {
	status, reason := h.determineStatus()
	return h.message(status, reason)
}

func (h *HealthReporter) message(status HealthStatus, reason string) HealthMessage {
	var stats blynk.Stats
	if h.session != nil {
		stats = h.session.Stats()
	}
	var routing RouterStats
	mappings := 0
	if h.router != nil {
		routing = h.router.Stats()
		mappings = h.router.Table().Len()
	}

	msg := NewHealthMessage(h.version, status, stats, routing, mappings, h.startTime)
	msg.Reason = reason
	msg.Session.Server = h.server
	return msg
}

func (h *HealthReporter) publishStatus(status HealthStatus, reason string) error {
	if h.publisher == nil || h.topic == "" {
		return nil
	}
	// Nothing reaches the broker while offline; the last will covers it.
	if !h.publisher.IsConnected() {
		return nil
	}

	payload, err := json.Marshal(h.message(status, reason))
	if err != nil {
		return err
	}
	return h.publisher.Publish(h.topic, payload, true)
}

func (h *HealthReporter) logError(msg string, err error) {
	h.loggerMu.RLock()
	logger := h.logger
	h.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}

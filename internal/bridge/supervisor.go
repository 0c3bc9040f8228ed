package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cziter15/BlynkMqttBridge/internal/blynk"
)

// ErrAlreadyStarted is returned by a second call to Supervisor.Start.
var ErrAlreadyStarted = errors.New("bridge: already started")

// PubSub is the MQTT collaborator owned by the supervisor.
// Satisfied by *mqtt.Client.
type PubSub interface {
	Publisher
	Start() error
	SetOnConnectionChange(callback func(connected bool))
	SetOnMessage(callback func(topic string, payload []byte))
	Close() error
}

// SupervisorOptions holds configuration for creating a supervisor.
type SupervisorOptions struct {
	Device blynk.Connector
	PubSub PubSub
	Router *Router

	// Health is optional.
	Health *HealthReporter

	// Logger is optional.
	Logger Logger
}

// Supervisor owns the Blynk session and the MQTT client and wires both to
// the router.
//
// Thread Safety: All methods are safe for concurrent use.
type Supervisor struct {
	device blynk.Connector
	pubsub PubSub
	router *Router
	health *HealthReporter

	started   atomic.Bool
	announced atomic.Bool
	stopOnce  sync.Once

	logger Logger
}

// NewSupervisor creates a supervisor. Call Start to begin operation.
func NewSupervisor(opts SupervisorOptions) (*Supervisor, error) {
	if opts.Device == nil {
		return nil, fmt.Errorf("%w: blynk connector", ErrMissingDependency)
	}
	if opts.PubSub == nil {
		return nil, fmt.Errorf("%w: mqtt client", ErrMissingDependency)
	}
	if opts.Router == nil {
		return nil, fmt.Errorf("%w: router", ErrMissingDependency)
	}

	return &Supervisor{
		device: opts.Device,
		pubsub: opts.PubSub,
		router: opts.Router,
		health: opts.Health,
		logger: opts.Logger,
	}, nil
}

// Start wires callbacks and starts both transports. Neither transport is
// waited on; each connects and reconnects in the background.
func (s *Supervisor) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	s.device.SetOnPinEvent(s.handlePinEvent)
	s.pubsub.SetOnMessage(s.router.OnPubSubMessage)
	s.pubsub.SetOnConnectionChange(s.handleConnectionChange)

	if err := s.pubsub.Start(); err != nil {
		return fmt.Errorf("start mqtt: %w", err)
	}
	s.device.Start(ctx)

	if s.health != nil {
		s.health.Start(ctx)
	}

	s.logInfo("bridge started", "mappings", s.router.Table().Len())
	return nil
}

// Stop tears down both transports. Safe to call multiple times.
func (s *Supervisor) Stop() {
	s.stopOnce.Do(func() {
		// Health goes first so "stopping" still reaches the broker.
		if s.health != nil {
			s.health.Stop()
		}
		if err := s.device.Close(); err != nil {
			s.logWarn("blynk close failed", "error", err)
		}
		if err := s.pubsub.Close(); err != nil {
			s.logWarn("mqtt close failed", "error", err)
		}
		s.logInfo("bridge stopped")
	})
}

// handlePinEvent forwards virtual pin updates carrying at least one value.
func (s *Supervisor) handlePinEvent(ev blynk.PinEvent) {
	if ev.Kind != blynk.PinVirtual {
		return
	}
	v, ok := ev.First()
	if !ok {
		return
	}
	s.router.OnPinUpdate(ev.Pin, v.String())
}

func (s *Supervisor) handleConnectionChange(connected bool) {
	if !connected {
		s.logWarn("mqtt disconnected")
		return
	}

	s.logInfo("mqtt connected")
	s.router.OnPubSubConnected()

	if s.health != nil {
		if s.announced.CompareAndSwap(false, true) {
			if err := s.health.PublishStarting(); err != nil {
				s.logWarn("failed to publish starting status", "error", err)
			}
		}
		if err := s.health.PublishNow(); err != nil {
			s.logWarn("failed to publish health", "error", err)
		}
	}
}

func (s *Supervisor) logInfo(msg string, keysAndValues ...any) {
	if s.logger != nil {
		s.logger.Info(msg, keysAndValues...)
	}
}

func (s *Supervisor) logWarn(msg string, keysAndValues ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, keysAndValues...)
	}
}

package bridge

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/cziter15/BlynkMqttBridge/internal/blynk"
)

// BridgeName identifies this bridge in health messages.
const BridgeName = "blynkmqttbridge"

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	// HealthHealthy indicates both transports are connected.
	HealthHealthy HealthStatus = "healthy"

	// HealthDegraded indicates one transport is down.
	HealthDegraded HealthStatus = "degraded"

	// HealthOffline is published by the broker as the last will.
	HealthOffline HealthStatus = "offline"

	// HealthStarting indicates the bridge is starting up.
	HealthStarting HealthStatus = "starting"

	// HealthStopping indicates the bridge is shutting down.
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage is the retained status document.
type HealthMessage struct {
	Bridge        string       `json:"bridge"`
	Timestamp     time.Time    `json:"timestamp"`
	Status        HealthStatus `json:"status"`
	Version       string       `json:"version,omitempty"`
	UptimeSeconds int64        `json:"uptime_seconds"`

	// Session describes the Blynk session.
	Session *SessionStatus `json:"session,omitempty"`

	Statistics *BridgeStatistics `json:"statistics,omitempty"`

	// Mappings is the number of configured topic mappings.
	Mappings int `json:"mappings"`

	// Reason explains degraded and offline states.
	Reason string `json:"reason,omitempty"`
}

// SessionStatus describes the Blynk session state.
type SessionStatus struct {
	Status   string     `json:"status"`
	Server   string     `json:"server,omitempty"`
	LastPing *time.Time `json:"last_ping,omitempty"`
	Connects uint64     `json:"connects"`
}

// BridgeStatistics contains operational counters.
type BridgeStatistics struct {
	FramesReceived   uint64 `json:"frames_received"`
	FramesSent       uint64 `json:"frames_sent"`
	FramesDropped    uint64 `json:"frames_dropped"`
	ToDevice         uint64 `json:"to_device"`
	ToPubSub         uint64 `json:"to_pubsub"`
	EchoesSuppressed uint64 `json:"echoes_suppressed"`
	Dropped          uint64 `json:"dropped"`
	Errors           uint64 `json:"errors"`
}

// MarshalJSON writes the timestamp as RFC3339 UTC.
func (m HealthMessage) MarshalJSON() ([]byte, error) {
	type Alias HealthMessage
	return json.Marshal(&struct {
		Alias
		Timestamp string `json:"timestamp"`
	}{
		Alias:     Alias(m),
		Timestamp: m.Timestamp.UTC().Format(time.RFC3339),
	})
}

// UnmarshalJSON parses the RFC3339 timestamp.
func (m *HealthMessage) UnmarshalJSON(data []byte) error {
	type Alias HealthMessage
	aux := &struct {
		*Alias
		Timestamp string `json:"timestamp"`
	}{
		Alias: (*Alias)(m),
	}
	if err := json.Unmarshal(data, aux); err != nil {
		return fmt.Errorf("unmarshal health message: %w", err)
	}
	if aux.Timestamp != "" {
		t, err := time.Parse(time.RFC3339, aux.Timestamp)
		if err != nil {
			return fmt.Errorf("parse timestamp: %w", err)
		}
		m.Timestamp = t
	}
	return nil
}

// NewHealthMessage creates a health status message.
func NewHealthMessage(version string, status HealthStatus, session blynk.Stats, routing RouterStats, mappings int, startTime time.Time) HealthMessage {
	msg := HealthMessage{
		Bridge:        BridgeName,
		Timestamp:     time.Now().UTC(),
		Status:        status,
		Version:       version,
		UptimeSeconds: int64(time.Since(startTime).Seconds()),
		Mappings:      mappings,
	}

	msg.Session = &SessionStatus{
		Status:   session.Phase.String(),
		Connects: session.ConnectsTotal,
	}
	if !session.LastPing.IsZero() {
		lastPing := session.LastPing.UTC()
		msg.Session.LastPing = &lastPing
	}

	msg.Statistics = &BridgeStatistics{
		FramesReceived:   session.FramesRx,
		FramesSent:       session.FramesTx,
		FramesDropped:    session.FramesDropped,
		ToDevice:         routing.ToDevice,
		ToPubSub:         routing.ToPubSub,
		EchoesSuppressed: routing.EchoesSuppressed,
		Dropped:          routing.Dropped,
		Errors:           session.ErrorsTotal,
	}

	return msg
}

// NewLWTMessage creates the last will message for MQTT.
// The broker publishes it if the bridge disconnects unexpectedly.
func NewLWTMessage() HealthMessage {
	return HealthMessage{
		Bridge:    BridgeName,
		Timestamp: time.Now().UTC(),
		Status:    HealthOffline,
		Reason:    "unexpected_disconnect",
	}
}

// LWTPayload returns the serialised last will message.
func LWTPayload() ([]byte, error) {
	return json.Marshal(NewLWTMessage())
}

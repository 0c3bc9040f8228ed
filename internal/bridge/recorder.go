package bridge

import "time"

// Direction identifies which way a value crossed the bridge.
type Direction string

const (
	// ToDevice is an MQTT message written to a Blynk pin.
	ToDevice Direction = "mqtt_to_blynk"

	// ToPubSub is a Blynk pin update published to MQTT.
	ToPubSub Direction = "blynk_to_mqtt"

	// Ack is an untransformed value written back to the pin it came from.
	Ack Direction = "ack"
)

// DropReason explains why a value did not cross the bridge.
type DropReason string

const (
	DropDeviceOffline DropReason = "device_offline"
	DropPubSubOffline DropReason = "mqtt_offline"
	DropSendFailed    DropReason = "send_failed"
	DropPublishFailed DropReason = "publish_failed"
	DropEcho          DropReason = "echo"
)

// Transfer describes one value that crossed the bridge.
type Transfer struct {
	Time      time.Time
	Direction Direction
	Topic     string
	Pin       int
	Encoder   string
	Input     string
	Output    string
}

// Recorder receives completed transfers. Implementations must not block.
type Recorder interface {
	RecordTransfer(t Transfer)
}

// DropRecorder is optionally implemented by recorders that count drops.
type DropRecorder interface {
	RecordDrop(reason DropReason)
}

// Recorders fans records out to every member.
type Recorders []Recorder

// RecordTransfer implements Recorder.
func (rs Recorders) RecordTransfer(t Transfer) {
	for _, r := range rs {
		r.RecordTransfer(t)
	}
}

// RecordDrop implements DropRecorder for members that support it.
func (rs Recorders) RecordDrop(reason DropReason) {
	for _, r := range rs {
		if d, ok := r.(DropRecorder); ok {
			d.RecordDrop(reason)
		}
	}
}

var (
	_ Recorder     = Recorders(nil)
	_ DropRecorder = Recorders(nil)
)

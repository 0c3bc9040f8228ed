package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/cziter15/BlynkMqttBridge/internal/bridge"
)

// Measurement names written by the recorder.
const (
	MeasurementTransfer = "bridge_transfer"
	MeasurementDrop     = "bridge_drop"
)

// RecordTransfer writes one bridge_transfer point. It implements
// bridge.Recorder and never blocks.
func (c *Client) RecordTransfer(t bridge.Transfer) {
	c.writePoint(transferPoint(t))
}

// RecordDrop writes one bridge_drop point with a count of 1.
func (c *Client) RecordDrop(reason bridge.DropReason) {
	c.writePoint(write.NewPoint(
		MeasurementDrop,
		map[string]string{"reason": string(reason)},
		map[string]any{"count": 1},
		time.Now(),
	))
}

func transferPoint(t bridge.Transfer) *write.Point {
	ts := t.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	fields := map[string]any{
		"input":  t.Input,
		"output": t.Output,
	}
	// Numeric payloads are also stored as a float so they can be graphed.
	if v, err := strconv.ParseFloat(t.Output, 64); err == nil {
		fields["value"] = v
	}

	return write.NewPoint(
		MeasurementTransfer,
		map[string]string{
			"direction": string(t.Direction),
			"topic":     t.Topic,
			"pin":       strconv.Itoa(t.Pin),
			"encoder":   t.Encoder,
		},
		fields,
		ts,
	)
}

var (
	_ bridge.Recorder     = (*Client)(nil)
	_ bridge.DropRecorder = (*Client)(nil)
)

package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/cziter15/BlynkMqttBridge/internal/blynk"
	"github.com/cziter15/BlynkMqttBridge/internal/bridge"
)

type fakeSession struct{ stats blynk.Stats }

func (f *fakeSession) Stats() blynk.Stats { return f.stats }

type fakeConn struct{ up bool }

func (f *fakeConn) IsConnected() bool { return f.up }

func TestCollectorRecords(t *testing.T) {
	c := NewCollector(nil, nil)

	c.RecordTransfer(bridge.Transfer{Direction: bridge.ToDevice})
	c.RecordTransfer(bridge.Transfer{Direction: bridge.ToDevice})
	c.RecordTransfer(bridge.Transfer{Direction: bridge.ToPubSub})
	c.RecordDrop(bridge.DropEcho)
	c.RecordDrop(bridge.DropDeviceOffline)
	c.SetPhase(blynk.PhaseAuthenticating)

	if got := testutil.ToFloat64(c.transfers.WithLabelValues(string(bridge.ToDevice))); got != 2 {
		t.Errorf("transfers{mqtt_to_blynk} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.transfers.WithLabelValues(string(bridge.ToPubSub))); got != 1 {
		t.Errorf("transfers{blynk_to_mqtt} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.echoes); got != 1 {
		t.Errorf("echoes = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.drops.WithLabelValues(string(bridge.DropDeviceOffline))); got != 1 {
		t.Errorf("drops{device_offline} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.phase); got != float64(blynk.PhaseAuthenticating) {
		t.Errorf("phase = %v", got)
	}
}

func TestCollectorSessionSeries(t *testing.T) {
	session := &fakeSession{stats: blynk.Stats{FramesTx: 7, FramesRx: 9, ConnectsTotal: 2, Connected: true}}
	c := NewCollector(session, &fakeConn{up: true})

	expected := `
# HELP blynkmqttbridge_blynk_frames_sent_total Frames written to the Blynk server
# TYPE blynkmqttbridge_blynk_frames_sent_total counter
blynkmqttbridge_blynk_frames_sent_total 7
# HELP blynkmqttbridge_blynk_connects_total Successful Blynk logins
# TYPE blynkmqttbridge_blynk_connects_total counter
blynkmqttbridge_blynk_connects_total 2
# HELP blynkmqttbridge_blynk_connected 1 when the Blynk session is logged in
# TYPE blynkmqttbridge_blynk_connected gauge
blynkmqttbridge_blynk_connected 1
# HELP blynkmqttbridge_mqtt_connected 1 when the MQTT client is connected
# TYPE blynkmqttbridge_mqtt_connected gauge
blynkmqttbridge_mqtt_connected 1
`
	err := testutil.GatherAndCompare(c.Registry(), strings.NewReader(expected),
		"blynkmqttbridge_blynk_frames_sent_total",
		"blynkmqttbridge_blynk_connects_total",
		"blynkmqttbridge_blynk_connected",
		"blynkmqttbridge_mqtt_connected",
	)
	if err != nil {
		t.Error(err)
	}

	// Values are read at scrape time.
	session.stats.FramesTx = 8
	if n, err := testutil.GatherAndCount(c.Registry(), "blynkmqttbridge_blynk_frames_sent_total"); err != nil || n != 1 {
		t.Errorf("GatherAndCount() = %d, %v", n, err)
	}
}

package influxdb

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/cziter15/BlynkMqttBridge/internal/bridge"
	"github.com/cziter15/BlynkMqttBridge/internal/infrastructure/config"
)

type fakeWriter struct {
	mu      sync.Mutex
	points  []*write.Point
	flushes int
}

func (f *fakeWriter) WritePoint(p *write.Point) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.points = append(f.points, p)
}

func (f *fakeWriter) Flush() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushes++
}

func newTestClient() (*Client, *fakeWriter) {
	w := &fakeWriter{}
	return &Client{writer: w, connected: true}, w
}

func tags(p *write.Point) map[string]string {
	out := make(map[string]string)
	for _, t := range p.TagList() {
		out[t.Key] = t.Value
	}
	return out
}

func fields(p *write.Point) map[string]any {
	out := make(map[string]any)
	for _, f := range p.FieldList() {
		out[f.Key] = f.Value
	}
	return out
}

func TestRecordTransfer(t *testing.T) {
	at := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		transfer  bridge.Transfer
		wantValue any
	}{
		{
			name: "numeric output",
			transfer: bridge.Transfer{
				Time: at, Direction: bridge.ToPubSub, Topic: "home/temp", Pin: 5,
				Encoder: bridge.EncoderStraight, Input: "21.5", Output: "21.5",
			},
			wantValue: 21.5,
		},
		{
			name: "text output",
			transfer: bridge.Transfer{
				Time: at, Direction: bridge.ToDevice, Topic: "home/mode", Pin: 2,
				Encoder: bridge.EncoderStringMap, Input: "auto", Output: "0",
			},
			wantValue: 0.0,
		},
		{
			name: "non numeric",
			transfer: bridge.Transfer{
				Time: at, Direction: bridge.ToPubSub, Topic: "home/mode", Pin: 2,
				Encoder: bridge.EncoderStringMap, Input: "0", Output: "auto",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, w := newTestClient()
			c.RecordTransfer(tt.transfer)

			if len(w.points) != 1 {
				t.Fatalf("points = %d, want 1", len(w.points))
			}
			p := w.points[0]
			if p.Name() != MeasurementTransfer || !p.Time().Equal(at) {
				t.Errorf("point = %s @ %v", p.Name(), p.Time())
			}

			gotTags := tags(p)
			if gotTags["direction"] != string(tt.transfer.Direction) ||
				gotTags["topic"] != tt.transfer.Topic ||
				gotTags["encoder"] != tt.transfer.Encoder {
				t.Errorf("tags = %v", gotTags)
			}

			gotFields := fields(p)
			if gotFields["input"] != tt.transfer.Input || gotFields["output"] != tt.transfer.Output {
				t.Errorf("fields = %v", gotFields)
			}
			if v, ok := gotFields["value"]; tt.wantValue == nil && ok {
				t.Errorf("value field = %v, want none", v)
			} else if tt.wantValue != nil && v != tt.wantValue {
				t.Errorf("value field = %v, want %v", v, tt.wantValue)
			}
		})
	}
}

func TestRecordTransferPinTag(t *testing.T) {
	c, w := newTestClient()
	c.RecordTransfer(bridge.Transfer{Pin: 127, Direction: bridge.Ack})

	if got := tags(w.points[0])["pin"]; got != "127" {
		t.Errorf("pin tag = %q, want 127", got)
	}
	if w.points[0].Time().IsZero() {
		t.Error("zero transfer time not replaced")
	}
}

func TestRecordDrop(t *testing.T) {
	c, w := newTestClient()
	c.RecordDrop(bridge.DropDeviceOffline)

	p := w.points[0]
	if p.Name() != MeasurementDrop || tags(p)["reason"] != "device_offline" {
		t.Errorf("point = %s %v", p.Name(), tags(p))
	}
}

func TestClosedClientDiscardsWrites(t *testing.T) {
	c, w := newTestClient()
	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}

	c.RecordTransfer(bridge.Transfer{Topic: "t"})
	c.Flush()

	if len(w.points) != 0 {
		t.Error("closed client wrote a point")
	}
	if w.flushes != 1 {
		t.Errorf("flushes = %d, want 1 (from Close)", w.flushes)
	}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
}

func TestConnectDisabled(t *testing.T) {
	_, err := Connect(context.Background(), config.InfluxDBConfig{Enabled: false})
	if !errors.Is(err, ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnectUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := Connect(context.Background(), config.InfluxDBConfig{Enabled: true, URL: url})
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

// fakeInflux answers /ping and records line protocol sent to /api/v2/write.
type fakeInflux struct {
	mu     sync.Mutex
	bodies []string
}

func (f *fakeInflux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/ping":
		w.WriteHeader(http.StatusNoContent)
	case "/api/v2/write":
		body, _ := io.ReadAll(r.Body) //nolint:errcheck // Test server
		f.mu.Lock()
		f.bodies = append(f.bodies, string(body))
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeInflux) written() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return strings.Join(f.bodies, "\n")
}

func TestConnectAndWrite(t *testing.T) {
	fake := &fakeInflux{}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	c, err := Connect(context.Background(), config.InfluxDBConfig{
		Enabled: true,
		URL:     srv.URL,
		Token:   "token",
		Org:     "home",
		Bucket:  "bridge",
	})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := c.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	c.RecordTransfer(bridge.Transfer{
		Direction: bridge.ToPubSub, Topic: "home/temp", Pin: 5,
		Encoder: bridge.EncoderStraight, Input: "21", Output: "21",
	})
	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for !strings.Contains(fake.written(), MeasurementTransfer+",direction=blynk_to_mqtt") {
		if time.Now().After(deadline) {
			t.Fatalf("line protocol not received, got %q", fake.written())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

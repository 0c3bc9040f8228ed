package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/cziter15/BlynkMqttBridge/internal/blynk"
	"github.com/cziter15/BlynkMqttBridge/internal/bridge"
)

const namespace = "blynkmqttbridge"

// SessionSource provides Blynk session counters at scrape time.
type SessionSource interface {
	Stats() blynk.Stats
}

// ConnectionSource reports a transport's connection state.
type ConnectionSource interface {
	IsConnected() bool
}

// Collector holds the bridge's Prometheus collectors.
type Collector struct {
	registry *prometheus.Registry

	transfers *prometheus.CounterVec
	drops     *prometheus.CounterVec
	echoes    prometheus.Counter
	phase     prometheus.Gauge
}

var (
	_ bridge.Recorder     = (*Collector)(nil)
	_ bridge.DropRecorder = (*Collector)(nil)
)

// NewCollector registers all collectors on a fresh registry. Either source
// may be nil, in which case its series are omitted.
func NewCollector(session SessionSource, mqtt ConnectionSource) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),

		transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfers_total",
			Help:      "Values that crossed the bridge, by direction",
		}, []string{"direction"}),

		drops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "drops_total",
			Help:      "Values that were not bridged, by reason",
		}, []string{"reason"}),

		echoes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "echoes_suppressed_total",
			Help:      "Inbound MQTT messages recognised as the bridge's own publish",
		}),

		phase: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "blynk",
			Name:      "phase",
			Help:      "Blynk session phase (0 disconnected, 1 connecting, 2 authenticating, 3 connected)",
		}),
	}

	c.registry.MustRegister(
		c.transfers,
		c.drops,
		c.echoes,
		c.phase,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if session != nil {
		c.registerSession(session)
	}
	if mqtt != nil {
		c.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "mqtt",
			Name:      "connected",
			Help:      "1 when the MQTT client is connected",
		}, func() float64 { return boolToFloat(mqtt.IsConnected()) }))
	}

	return c
}

func (c *Collector) registerSession(session SessionSource) {
	counter := func(name, help string, read func(blynk.Stats) uint64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "blynk",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(read(session.Stats())) })
	}

	c.registry.MustRegister(
		counter("frames_sent_total", "Frames written to the Blynk server",
			func(s blynk.Stats) uint64 { return s.FramesTx }),
		counter("frames_received_total", "Frames read from the Blynk server",
			func(s blynk.Stats) uint64 { return s.FramesRx }),
		counter("frames_dropped_total", "Unknown or malformed frames discarded",
			func(s blynk.Stats) uint64 { return s.FramesDropped }),
		counter("events_dropped_total", "Pin events discarded on a full queue",
			func(s blynk.Stats) uint64 { return s.EventsDropped }),
		counter("errors_total", "Blynk I/O and protocol errors",
			func(s blynk.Stats) uint64 { return s.ErrorsTotal }),
		counter("connects_total", "Successful Blynk logins",
			func(s blynk.Stats) uint64 { return s.ConnectsTotal }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "blynk",
			Name:      "connected",
			Help:      "1 when the Blynk session is logged in",
		}, func() float64 { return boolToFloat(session.Stats().Connected) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "blynk",
			Name:      "last_ping_timestamp_seconds",
			Help:      "Unix time of the last acknowledged ping",
		}, func() float64 {
			last := session.Stats().LastPing
			if last.IsZero() {
				return 0
			}
			return float64(last.UnixNano()) / 1e9
		}),
	)
}

// RecordTransfer implements bridge.Recorder.
func (c *Collector) RecordTransfer(t bridge.Transfer) {
	c.transfers.WithLabelValues(string(t.Direction)).Inc()
}

// RecordDrop implements bridge.DropRecorder.
func (c *Collector) RecordDrop(reason bridge.DropReason) {
	if reason == bridge.DropEcho {
		c.echoes.Inc()
		return
	}
	c.drops.WithLabelValues(string(reason)).Inc()
}

// SetPhase records a Blynk phase change. Suitable for
// blynk.Client.SetOnPhaseChange.
func (c *Collector) SetPhase(p blynk.Phase) {
	c.phase.Set(float64(p))
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

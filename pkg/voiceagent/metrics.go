package voiceagent

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for one client. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	FramesReceived   *prometheus.CounterVec
	MessagesSent     *prometheus.CounterVec
	AudioBytes       *prometheus.CounterVec
	ChunksDropped    *prometheus.CounterVec
	Errors           *prometheus.CounterVec
	StateTransitions *prometheus.CounterVec
	PlaybackQueue    prometheus.Gauge
}

// NewMetrics creates a Metrics instance on its own registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "voiceagent"
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		FramesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "frames_received_total",
				Help:      "Inbound frames by metadata type",
			},
			[]string{"type"},
		),
		MessagesSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_sent_total",
				Help:      "Outbound messages by control type (audio for raw chunks)",
			},
			[]string{"type"},
		),
		AudioBytes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "audio_bytes_total",
				Help:      "Audio bytes by direction",
			},
			[]string{"direction"},
		),
		ChunksDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "audio_chunks_dropped_total",
				Help:      "Audio chunks discarded, by reason",
			},
			[]string{"reason"},
		),
		Errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Reported errors by code",
			},
			[]string{"code"},
		),
		StateTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "state_transitions_total",
				Help:      "Connection state changes by new state",
			},
			[]string{"state"},
		),
		PlaybackQueue: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "playback_queue_depth",
				Help:      "Inbound audio chunks waiting for the sink",
			},
		),
	}

	registry.MustRegister(
		m.FramesReceived,
		m.MessagesSent,
		m.AudioBytes,
		m.ChunksDropped,
		m.Errors,
		m.StateTransitions,
		m.PlaybackQueue,
	)

	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) frameReceived(msgType string, payloadBytes int) {
	if m == nil {
		return
	}
	m.FramesReceived.WithLabelValues(msgType).Inc()
	if msgType == MessageTypeAudio {
		m.AudioBytes.WithLabelValues("inbound").Add(float64(payloadBytes))
	}
}

func (m *Metrics) messageSent(msgType string, n int) {
	if m == nil {
		return
	}
	m.MessagesSent.WithLabelValues(msgType).Inc()
	if msgType == "audio" {
		m.AudioBytes.WithLabelValues("outbound").Add(float64(n))
	}
}

func (m *Metrics) chunksDropped(reason string, n int) {
	if m == nil {
		return
	}
	m.ChunksDropped.WithLabelValues(reason).Add(float64(n))
}

func (m *Metrics) errorReported(code string) {
	if m == nil {
		return
	}
	m.Errors.WithLabelValues(code).Inc()
}

func (m *Metrics) stateChanged(state ConnectionState) {
	if m == nil {
		return
	}
	m.StateTransitions.WithLabelValues(string(state)).Inc()
}

func (m *Metrics) setQueueDepth(n int) {
	if m == nil {
		return
	}
	m.PlaybackQueue.Set(float64(n))
}

package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	SessionState      *prometheus.GaugeVec
	SessionEvents     *prometheus.CounterVec
	ProviderCalls     *prometheus.CounterVec
	ProviderLatency   *prometheus.HistogramVec
	SpeakTasks        *prometheus.CounterVec
	Generations       *prometheus.CounterVec
	WarmupStops       *prometheus.CounterVec
	WarmupStopLatency prometheus.Histogram
	WSMessages        *prometheus.CounterVec

	latency *latencyWindow
}

// SessionStates lists the label values used by the SessionState gauge.
var SessionStates = []string{"idle", "initializing", "ready", "failed", "stopped"}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		SessionState: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "avatar_session_state",
			Help:      "1 for the current avatar session state, 0 otherwise.",
		}, []string{"state"}),
		SessionEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "avatar_session_events_total",
			Help:      "Avatar session lifecycle events by type.",
		}, []string{"event"}),
		ProviderCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_calls_total",
			Help:      "Avatar provider calls by operation and outcome.",
		}, []string{"op", "outcome"}),
		ProviderLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_call_latency_ms",
			Help:      "Avatar provider call latency in milliseconds.",
			Buckets:   []float64{50, 100, 250, 500, 1000, 2000, 4000, 8000, 15000, 60000},
		}, []string{"op"}),
		SpeakTasks: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "speak_tasks_total",
			Help:      "Speak requests by source and result.",
		}, []string{"source", "result"}),
		Generations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "text_generations_total",
			Help:      "Text producer calls by result.",
		}, []string{"result"}),
		WarmupStops: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "warmup_ambient_stops_total",
			Help:      "Ambient audio stop decisions by reason.",
		}, []string{"reason"}),
		WarmupStopLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "warmup_ambient_stop_latency_ms",
			Help:      "Time from arming the warmup window to stopping ambient audio.",
			Buckets:   []float64{250, 500, 1000, 2000, 3000, 4000, 5000, 6000},
		}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		latency: newLatencyWindow(256),
	}
}

func (m *Metrics) SetSessionState(state string) {
	if m == nil {
		return
	}
	for _, s := range SessionStates {
		v := 0.0
		if s == state {
			v = 1
		}
		m.SessionState.WithLabelValues(s).Set(v)
	}
}

func (m *Metrics) ObserveSessionEvent(event string) {
	if m == nil {
		return
	}
	m.SessionEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) ObserveProviderCall(op, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.ProviderCalls.WithLabelValues(op, outcome).Inc()
	m.ProviderLatency.WithLabelValues(op).Observe(float64(d.Milliseconds()))
	m.latency.record(op, outcome, d)
}

func (m *Metrics) ObserveSpeak(source, result string) {
	if m == nil {
		return
	}
	m.SpeakTasks.WithLabelValues(source, result).Inc()
}

func (m *Metrics) ObserveGeneration(result string) {
	if m == nil {
		return
	}
	m.Generations.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveWarmupStop(reason string, sinceArm time.Duration) {
	if m == nil {
		return
	}
	m.WarmupStops.WithLabelValues(reason).Inc()
	m.WarmupStopLatency.Observe(float64(sinceArm.Milliseconds()))
	m.latency.record(OpWarmupStop, reason, sinceArm)
}

// SnapshotLatency returns rolling latency percentiles for provider calls and
// warmup stops.
func (m *Metrics) SnapshotLatency() LatencySnapshot {
	if m == nil || m.latency == nil {
		return LatencySnapshot{GeneratedAt: time.Now().UTC(), Ops: []OpLatency{}}
	}
	return m.latency.snapshot(time.Now())
}

func (m *Metrics) ObserveWSMessage(direction, messageType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, messageType).Inc()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

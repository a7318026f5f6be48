package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sjawhar/ghost-capture/internal/session"
	"github.com/sjawhar/ghost-capture/internal/transcribe"
)

const namespace = "ghost_capture"

// Metrics records capture and transcription activity on a private registry.
// It satisfies session.EventBroadcaster so the controller can feed it
// alongside the websocket hub.
type Metrics struct {
	registry *prometheus.Registry

	segments        *prometheus.CounterVec
	segmentBytes    prometheus.Histogram
	recorderFails   prometheus.Counter
	state           *prometheus.GaugeVec
	microphone      prometheus.Gauge
	attempts        *prometheus.CounterVec
	attemptDuration *prometheus.HistogramVec
	outcomes        *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		segments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segments_emitted_total",
			Help:      "Segments handed to the transcription queue.",
		}, []string{"final"}),
		segmentBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "segment_size_bytes",
			Help:      "Encoded size of emitted segments.",
			Buckets:   prometheus.ExponentialBuckets(4096, 2, 10),
		}),
		recorderFails: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recorder_failures_total",
			Help:      "Recorder errors that ended a capture session.",
		}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "capture_state",
			Help:      "1 for the current capture state, 0 otherwise.",
		}, []string{"state"}),
		microphone: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "microphone_active",
			Help:      "Whether the microphone is mixed into the current session.",
		}),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcription_attempts_total",
			Help:      "Strategy attempts by strategy and result.",
		}, []string{"strategy", "result"}),
		attemptDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transcription_attempt_seconds",
			Help:      "Latency of one strategy attempt.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"strategy"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcriptions_total",
			Help:      "Segments transcribed, by result.",
		}, []string{"result"}),
	}

	m.registry.MustRegister(
		m.segments,
		m.segmentBytes,
		m.recorderFails,
		m.state,
		m.microphone,
		m.attempts,
		m.attemptDuration,
		m.outcomes,
	)
	m.setState(session.Idle)
	return m
}

// WatchQueue exports the current queue length on every scrape.
func (m *Metrics) WatchQueue(size func() int) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_size",
		Help:      "Segments waiting for transcription.",
	}, func() float64 { return float64(size()) }))
}

// WatchBreaker exports the provider circuit breaker as 0 closed, 1 half-open,
// 2 open.
func (m *Metrics) WatchBreaker(provider string, state func() string) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   namespace,
		Name:        "breaker_state",
		Help:        "Transcription circuit breaker: 0 closed, 1 half-open, 2 open.",
		ConstLabels: prometheus.Labels{"provider": provider},
	}, func() float64 { return breakerValue(state()) }))
}

// WatchDroppedSamples exports audio discarded while recorders rotate.
func (m *Metrics) WatchDroppedSamples(count func() int) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "rotation_samples_dropped",
		Help:      "Samples discarded in the current session because a rotation gap overflowed the hold buffer.",
	}, func() float64 { return float64(count()) }))
}

func breakerValue(state string) float64 {
	switch state {
	case "half-open":
		return 1
	case "open":
		return 2
	default:
		return 0
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) BroadcastStateChanged(_ string, state session.State) {
	m.setState(state)
}

func (m *Metrics) BroadcastSourcesChanged(_ string, active session.Sources) {
	if active.Microphone {
		m.microphone.Set(1)
		return
	}
	m.microphone.Set(0)
}

func (m *Metrics) BroadcastSegmentEmitted(seg session.Segment) {
	final := "false"
	if seg.Final {
		final = "true"
	}
	m.segments.WithLabelValues(final).Inc()
	m.segmentBytes.Observe(float64(seg.SizeBytes()))
}

func (m *Metrics) BroadcastRecorderFailed(string, string) {
	m.recorderFails.Inc()
}

// ObserveAttempt is meant for transcribe.Engine.OnAttempt.
func (m *Metrics) ObserveAttempt(att transcribe.Attempt) {
	result := "error"
	if att.Succeeded {
		result = "ok"
	}
	m.attempts.WithLabelValues(att.Strategy, result).Inc()
	m.attemptDuration.WithLabelValues(att.Strategy).Observe(att.Duration.Seconds())
}

func (m *Metrics) ObserveOutcome(out transcribe.Outcome) {
	if out.Succeeded {
		m.outcomes.WithLabelValues("ok").Inc()
		return
	}
	m.outcomes.WithLabelValues("failed").Inc()
}

func (m *Metrics) setState(current session.State) {
	for _, s := range []session.State{session.Idle, session.Capturing, session.Paused, session.Stopping} {
		v := 0.0
		if s == current {
			v = 1
		}
		m.state.WithLabelValues(s.String()).Set(v)
	}
}

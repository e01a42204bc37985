package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the collectors for the voice pipeline. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	// Model backend metrics
	ModelCalls        *prometheus.CounterVec
	ModelCallDuration *prometheus.HistogramVec

	// Tool metrics
	ToolDispatches *prometheus.CounterVec

	// Speech synthesis metrics
	SynthesisRequests prometheus.Counter
	SynthesisFailures prometheus.Counter
	SynthesizedBytes  prometheus.Counter

	// Session metrics
	ActiveSessions prometheus.Gauge

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all collectors on a private registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		ModelCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicerag_model_calls_total",
			Help: "Total number of model backend calls",
		}, []string{"op", "outcome"}),
		ModelCallDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "voicerag_model_call_duration_seconds",
			Help:    "Duration of model backend calls",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),

		ToolDispatches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicerag_tool_dispatches_total",
			Help: "Total number of tool dispatches",
		}, []string{"tool", "outcome"}),

		SynthesisRequests: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicerag_synthesis_requests_total",
			Help: "Total number of speech synthesis requests",
		}),
		SynthesisFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicerag_synthesis_failures_total",
			Help: "Total number of speech synthesis requests that degraded to empty audio",
		}),
		SynthesizedBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicerag_synthesized_bytes_total",
			Help: "Total number of audio bytes produced by speech synthesis",
		}),

		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "voicerag_active_sessions",
			Help: "Number of live conversation sessions",
		}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicerag_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "voicerag_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicerag_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordModelCall counts one model call and its latency
func (m *Metrics) RecordModelCall(op string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.ModelCalls.WithLabelValues(op, outcome(err)).Inc()
	m.ModelCallDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// RecordToolDispatch counts one tool dispatch
func (m *Metrics) RecordToolDispatch(tool string, err error) {
	if m == nil {
		return
	}
	m.ToolDispatches.WithLabelValues(tool, outcome(err)).Inc()
}

// RecordSynthesis counts one synthesis request and the audio it produced.
// A failed request produced no audio.
func (m *Metrics) RecordSynthesis(bytes int, failed bool) {
	if m == nil {
		return
	}
	m.SynthesisRequests.Inc()
	if failed {
		m.SynthesisFailures.Inc()
		return
	}
	m.SynthesizedBytes.Add(float64(bytes))
}

// SetActiveSessions sets the current number of sessions
func (m *Metrics) SetActiveSessions(count int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Set(float64(count))
}

// RecordHTTPRequest records a completed HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordHTTPError records an HTTP error by kind
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	if m == nil {
		return
	}
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}

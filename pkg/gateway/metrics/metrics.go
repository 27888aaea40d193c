// Package metrics exposes Prometheus instrumentation for the call gateway.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the gateway.
type Metrics struct {
	registry *prometheus.Registry

	CallsActive  prometheus.Gauge
	CallsTotal   *prometheus.CounterVec
	CallDuration *prometheus.HistogramVec

	ToolInvocations *prometheus.CounterVec
	ModeChanges     *prometheus.CounterVec
	SignalErrors    *prometheus.CounterVec

	TranscriptLines prometheus.Counter
	TimeExtensions  prometheus.Counter
}

// New creates a Metrics instance with all collectors registered on a
// private registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "dialkit"
	}

	registry := prometheus.NewRegistry()

	callsActive := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "calls_active",
			Help:      "Number of calls currently active",
		},
	)

	callsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_total",
			Help:      "Total number of calls ended, by termination reason",
		},
		[]string{"reason"},
	)

	callDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "call_duration_seconds",
			Help:      "Call duration in seconds",
			Buckets:   []float64{10, 30, 60, 120, 240, 360, 600, 1200},
		},
		[]string{"reason"},
	)

	toolInvocations := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_invocations_total",
			Help:      "Total tool invocations, by tool name",
		},
		[]string{"tool"},
	)

	modeChanges := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mode_changes_total",
			Help:      "Total call mode transitions, by target mode",
		},
		[]string{"mode"},
	)

	signalErrors := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signal_errors_total",
			Help:      "Total signaling errors, by error code",
		},
		[]string{"code"},
	)

	transcriptLines := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcript_lines_total",
			Help:      "Total transcript lines recorded across all calls",
		},
	)

	timeExtensions := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "time_extensions_total",
			Help:      "Total granted call time extensions",
		},
	)

	registry.MustRegister(
		callsActive,
		callsTotal,
		callDuration,
		toolInvocations,
		modeChanges,
		signalErrors,
		transcriptLines,
		timeExtensions,
	)

	return &Metrics{
		registry:        registry,
		CallsActive:     callsActive,
		CallsTotal:      callsTotal,
		CallDuration:    callDuration,
		ToolInvocations: toolInvocations,
		ModeChanges:     modeChanges,
		SignalErrors:    signalErrors,
		TranscriptLines: transcriptLines,
		TimeExtensions:  timeExtensions,
	}
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordCallStart records a call going active.
func (m *Metrics) RecordCallStart() {
	m.CallsActive.Inc()
}

// RecordCallEnd records a call ending with the given termination reason.
func (m *Metrics) RecordCallEnd(reason string, duration time.Duration) {
	m.CallsActive.Dec()
	m.CallsTotal.WithLabelValues(reason).Inc()
	m.CallDuration.WithLabelValues(reason).Observe(duration.Seconds())
}

// RecordTool records a tool invocation.
func (m *Metrics) RecordTool(tool string) {
	m.ToolInvocations.WithLabelValues(tool).Inc()
}

// RecordModeChange records a transition into the named mode.
func (m *Metrics) RecordModeChange(mode string) {
	m.ModeChanges.WithLabelValues(mode).Inc()
}

// RecordSignalError records a signaling error by code.
func (m *Metrics) RecordSignalError(code string) {
	m.SignalErrors.WithLabelValues(code).Inc()
}

// RecordTranscriptLine counts one recorded transcript line.
func (m *Metrics) RecordTranscriptLine() {
	m.TranscriptLines.Inc()
}

// RecordExtension counts one granted time extension.
func (m *Metrics) RecordExtension() {
	m.TimeExtensions.Inc()
}

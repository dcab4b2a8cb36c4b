// Package metrics exports detector activity to Prometheus.
//
// Scores are exported per detector session so that a dashboard can follow
// one input field; sessions are forgotten when their detector is destroyed.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "keycadence"

// Metrics holds the detector collectors.
type Metrics struct {
	registry *prometheus.Registry

	keystrokes       prometheus.Counter
	analyses         *prometheus.CounterVec
	analysisDuration prometheus.Histogram
	score            *prometheus.GaugeVec
	samples          *prometheus.GaugeVec
	transitions      *prometheus.CounterVec
	signals          *prometheus.CounterVec
	activeDetectors  prometheus.Gauge
}

// New creates and registers the collectors in a fresh registry.
func New(namespace string) (*Metrics, error) {
	if namespace == "" {
		namespace = DefaultNamespace
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
		keystrokes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "keystrokes_total",
			Help: "Accepted keystrokes across all detectors.",
		}),
		analyses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "analyses_total",
			Help: "Completed analyses by confidence.",
		}, []string{"confident"}),
		analysisDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "analysis_duration_seconds",
			Help:    "Time spent computing one analysis.",
			Buckets: prometheus.ExponentialBuckets(1e-6, 4, 10),
		}),
		score: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "score",
			Help: "Latest composite humanity score per session.",
		}, []string{"session"}),
		samples: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "samples",
			Help: "Dwell samples in the window per session.",
		}, []string{"session"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "classification_transitions_total",
			Help: "Classification label changes.",
		}, []string{"from", "to"}),
		signals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "signals_total",
			Help: "Analyses that reported a non-timing signal.",
		}, []string{"signal"}),
		activeDetectors: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "active_detectors",
			Help: "Detectors currently listening.",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.keystrokes, m.analyses, m.analysisDuration, m.score,
		m.samples, m.transitions, m.signals, m.activeDetectors,
	} {
		if err := m.registry.Register(c); err != nil {
			return nil, fmt.Errorf("register collector: %w", err)
		}
	}
	return m, nil
}

// Registry exposes the underlying registry, e.g. for testutil.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Keystroke counts one accepted keystroke.
func (m *Metrics) Keystroke() {
	m.keystrokes.Inc()
}

// Analysis records a completed analysis.
func (m *Metrics) Analysis(session string, score float64, confident bool, samples int, took time.Duration) {
	label := "false"
	if confident {
		label = "true"
	}
	m.analyses.WithLabelValues(label).Inc()
	m.analysisDuration.Observe(took.Seconds())
	m.score.WithLabelValues(session).Set(score)
	m.samples.WithLabelValues(session).Set(float64(samples))
}

// Signal counts an analysis that carried the named signal.
func (m *Metrics) Signal(name string) {
	m.signals.WithLabelValues(name).Inc()
}

// Transition records a label change. Unchanged labels are ignored.
func (m *Metrics) Transition(from, to string) {
	if from == to {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

// DetectorStarted and DetectorStopped track listening detectors.
func (m *Metrics) DetectorStarted() { m.activeDetectors.Inc() }
func (m *Metrics) DetectorStopped() { m.activeDetectors.Dec() }

// Forget drops the per-session series.
func (m *Metrics) Forget(session string) {
	m.score.DeleteLabelValues(session)
	m.samples.DeleteLabelValues(session)
}

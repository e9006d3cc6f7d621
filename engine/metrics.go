package engine

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/xkayo32/pytake-sub013/metric"
)

type engineMetrics struct {
	events        *prometheus.CounterVec
	nodes         *prometheus.CounterVec
	blockedSends  prometheus.Counter
	eventDuration prometheus.Histogram
}

func newEngineMetrics(reg *metric.Registry) (*engineMetrics, error) {
	m := &engineMetrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_events_total",
			Help: "Inbound events handled, labeled by outcome.",
		}, []string{"outcome"}),
		nodes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_node_executions_total",
			Help: "Node handler executions, labeled by node kind.",
		}, []string{"kind"}),
		blockedSends: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_window_blocked_sends_total",
			Help: "Free-form sends blocked by a closed messaging window.",
		}),
		eventDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "engine_event_duration_seconds",
			Help:    "Wall time spent handling one inbound event.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	if err := reg.RegisterCounterVec("engine", "events_total", m.events); err != nil {
		return nil, err
	}
	if err := reg.RegisterCounterVec("engine", "node_executions_total", m.nodes); err != nil {
		return nil, err
	}
	if err := reg.RegisterCounter("engine", "window_blocked_sends_total", m.blockedSends); err != nil {
		return nil, err
	}
	if err := reg.RegisterHistogram("engine", "event_duration_seconds", m.eventDuration); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *engineMetrics) recordOutcome(outcome Outcome) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(string(outcome)).Inc()
}

func (m *engineMetrics) recordNode(kind string) {
	if m == nil {
		return
	}
	m.nodes.WithLabelValues(kind).Inc()
}

func (m *engineMetrics) recordBlockedSend() {
	if m == nil {
		return
	}
	m.blockedSends.Inc()
}

func (m *engineMetrics) observeDuration(seconds float64) {
	if m == nil {
		return
	}
	m.eventDuration.Observe(seconds)
}

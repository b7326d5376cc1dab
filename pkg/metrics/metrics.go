// Package metrics counts what synchronization does.
package metrics

import (
	"io"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

const namespace = "modelsync"

// Metrics of synchronization. A nil *Metrics records nothing.
type Metrics struct {
	events       *prometheus.CounterVec
	stale        *prometheus.CounterVec
	failovers    *prometheus.CounterVec
	pollFailures *prometheus.CounterVec
	entries      *prometheus.GaugeVec
}

// New creates metrics and registers them to reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "events_applied_total",
			Help: "Watch events applied to collections.",
		}, []string{"kind", "type"}),
		stale: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "stale_events_dropped_total",
			Help: "Events and poll results dropped because a newer source has started.",
		}, []string{"kind"}),
		failovers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "stream_failovers_total",
			Help: "Fallbacks from streaming to polling.",
		}, []string{"kind"}),
		pollFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "poll_failures_total",
			Help: "Failed polls.",
		}, []string{"kind"}),
		entries: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "collection_entries",
			Help: "Resources in the latest snapshot.",
		}, []string{"kind"}),
	}
	if reg != nil {
		reg.MustRegister(m.events, m.stale, m.failovers, m.pollFailures, m.entries)
	}
	return m
}

func (m *Metrics) EventApplied(kind, eventType string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(kind, eventType).Inc()
}

func (m *Metrics) StaleDropped(kind string) {
	if m == nil {
		return
	}
	m.stale.WithLabelValues(kind).Inc()
}

func (m *Metrics) Failover(kind string) {
	if m == nil {
		return
	}
	m.failovers.WithLabelValues(kind).Inc()
}

func (m *Metrics) PollFailed(kind string) {
	if m == nil {
		return
	}
	m.pollFailures.WithLabelValues(kind).Inc()
}

func (m *Metrics) Entries(kind string, n int) {
	if m == nil {
		return
	}
	m.entries.WithLabelValues(kind).Set(float64(n))
}

// Dump writes metrics gathered from g in the text exposition format.
func Dump(w io.Writer, g prometheus.Gatherer) error {
	var families []*dto.MetricFamily
	families, err := g.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}

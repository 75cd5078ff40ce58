package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prune reasons reported on gridhost_listeners_pruned_total.
const (
	PruneClosed     = "closed"
	PruneSendFailed = "send_failed"
)

// ExternalEventLabel is the event label for names outside the known set.
// Relayed events can carry any name, and each label value is a new series.
const ExternalEventLabel = "external"

// Metrics holds the fan-out collectors. A nil *Metrics records nothing.
type Metrics struct {
	EventsPublished *prometheus.CounterVec
	Deliveries      prometheus.Counter
	Pruned          *prometheus.CounterVec
	Listeners       prometheus.Gauge
	Probes          *prometheus.CounterVec

	known map[string]struct{}
}

// NewMetrics registers the fan-out collectors on reg. events lists the
// event names that get their own label value; every other name is counted
// under ExternalEventLabel.
// Tests pass a fresh prometheus.NewRegistry() to avoid duplicate registration.
func NewMetrics(reg prometheus.Registerer, events ...string) *Metrics {
	known := make(map[string]struct{}, len(events))
	for _, name := range events {
		known[name] = struct{}{}
	}
	factory := promauto.With(reg)
	return &Metrics{
		known: known,
		EventsPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gridhost_events_published_total",
				Help: "Total number of events broadcast to listeners",
			},
			[]string{"event"},
		),
		Deliveries: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "gridhost_event_deliveries_total",
				Help: "Total number of event messages handed to listeners",
			},
		),
		Pruned: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gridhost_listeners_pruned_total",
				Help: "Total number of listeners removed during broadcast",
			},
			[]string{"reason"},
		),
		Listeners: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "gridhost_listeners",
				Help: "Current number of registered listeners",
			},
		),
		Probes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gridhost_liveness_probes_total",
				Help: "Total number of liveness pings issued",
			},
			[]string{"result"}, // "ok", "failed"
		),
	}
}

// EventLabel maps an event name onto the bounded label set.
func (m *Metrics) EventLabel(name string) string {
	if m != nil {
		if _, ok := m.known[name]; ok {
			return name
		}
	}
	return ExternalEventLabel
}

func (m *Metrics) published(name string, d Delivery) {
	if m == nil {
		return
	}
	m.EventsPublished.WithLabelValues(m.EventLabel(name)).Inc()
	m.Deliveries.Add(float64(d.Delivered))
}

func (m *Metrics) pruned(reason string) {
	if m == nil {
		return
	}
	m.Pruned.WithLabelValues(reason).Inc()
}

func (m *Metrics) listeners(n int) {
	if m == nil {
		return
	}
	m.Listeners.Set(float64(n))
}

func (m *Metrics) probed(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.Probes.WithLabelValues(result).Inc()
}

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/md-rashed-zaman/carebook/libs/domain"
)

// Metrics exposes counters/histograms for booking flows.
type Metrics struct {
	bookingsTotal    *prometheus.CounterVec
	transitionsTotal *prometheus.CounterVec
	slotQueriesTotal *prometheus.CounterVec
	slotsReturned    prometheus.Histogram
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		bookingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "carebook",
			Subsystem: "booking",
			Name:      "bookings_total",
			Help:      "Appointment creation attempts by outcome",
		}, []string{"outcome"}),
		transitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "carebook",
			Subsystem: "booking",
			Name:      "transitions_total",
			Help:      "Appointment status transitions by action and outcome",
		}, []string{"action", "outcome"}),
		slotQueriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "carebook",
			Subsystem: "booking",
			Name:      "slot_queries_total",
			Help:      "Available slot lookups by outcome",
		}, []string{"outcome"}),
		slotsReturned: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "carebook",
			Subsystem: "booking",
			Name:      "slots_returned",
			Help:      "Number of slots returned per successful lookup",
			Buckets:   []float64{0, 1, 2, 4, 8, 16, 32, 64},
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.bookingsTotal, m.transitionsTotal, m.slotQueriesTotal, m.slotsReturned)
	return m
}

func (m *Metrics) ObserveBooking(outcome string) {
	if m == nil {
		return
	}
	m.bookingsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveTransition(action, outcome string) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(action, outcome).Inc()
}

func (m *Metrics) ObserveSlotQuery(outcome string, slots int) {
	if m == nil {
		return
	}
	m.slotQueriesTotal.WithLabelValues(outcome).Inc()
	if outcome == "ok" {
		m.slotsReturned.Observe(float64(slots))
	}
}

// Outcome labels a result by its error kind; nil is "ok".
func Outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return string(domain.KindOf(err))
}

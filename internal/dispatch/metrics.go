package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the dispatch counters. They register on the registry handed to
// NewMetrics so tests and one-shot runs can use their own.
type Metrics struct {
	outcomes     *prometheus.CounterVec
	sendAttempts *prometheus.CounterVec
	sendDuration *prometheus.HistogramVec
	lookups      *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		outcomes: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "comply_reminder_outcomes_total",
				Help: "Reminder outcomes by terminal status.",
			},
			[]string{"status"},
		),
		sendAttempts: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "comply_send_attempts_total",
				Help: "Outbound send attempts by result.",
			},
			[]string{"result"},
		),
		sendDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "comply_send_duration_seconds",
				Help:    "Duration of a single outbound send attempt.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"result"},
		),
		lookups: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "comply_responsible_party_lookups_total",
				Help: "Responsible-party resolution results.",
			},
			[]string{"result"},
		),
	}
}

func (m *Metrics) outcome(status string) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(statusClass(status)).Inc()
}

func (m *Metrics) attempt(result string, seconds float64) {
	if m == nil {
		return
	}
	m.sendAttempts.WithLabelValues(result).Inc()
	m.sendDuration.WithLabelValues(result).Observe(seconds)
}

func (m *Metrics) lookup(result string) {
	if m == nil {
		return
	}
	m.lookups.WithLabelValues(result).Inc()
}

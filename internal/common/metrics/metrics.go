package metrics

import "github.com/prometheus/client_golang/prometheus"

// Payment instruments the confirmation engine. The registerer is injected so
// library consumers decide which registry the collectors land in.
type Payment struct {
	Attempts  prometheus.Counter
	Outcomes  *prometheus.CounterVec
	LatencyMS prometheus.Histogram
}

func NewPayment(reg prometheus.Registerer) *Payment {
	m := &Payment{
		Attempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "soko",
			Subsystem: "payment",
			Name:      "status_queries_total",
			Help:      "Total number of payment status queries issued.",
		}),
		Outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "soko",
			Subsystem: "payment",
			Name:      "session_outcomes_total",
			Help:      "Terminal payment session outcomes.",
		}, []string{"outcome"}),
		LatencyMS: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "soko",
			Subsystem: "payment",
			Name:      "status_query_duration_ms",
			Help:      "Payment status query latency in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Attempts, m.Outcomes, m.LatencyMS)
	}
	return m
}

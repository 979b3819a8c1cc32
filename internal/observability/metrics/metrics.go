package metrics

import "github.com/prometheus/client_golang/prometheus"

// BookingMetrics exposes counters/histograms for booking flows.
type BookingMetrics struct {
	transitionsTotal  *prometheus.CounterVec
	transitionLatency *prometheus.HistogramVec
	conflictsTotal    *prometheus.CounterVec
	realtimeTotal     *prometheus.CounterVec
	connections       prometheus.Gauge
	webhooksTotal     *prometheus.CounterVec
	payoutsTotal      *prometheus.CounterVec
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		transitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "booking",
			Subsystem: "requests",
			Name:      "operations_total",
			Help:      "Total lifecycle operations by outcome",
		}, []string{"operation", "outcome"}),
		transitionLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "booking",
			Subsystem: "requests",
			Name:      "operation_latency_seconds",
			Help:      "Latency of lifecycle operations",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		conflictsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "booking",
			Subsystem: "requests",
			Name:      "conflicts_total",
			Help:      "Rejected operations by conflict code",
		}, []string{"code"}),
		realtimeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "booking",
			Subsystem: "realtime",
			Name:      "events_total",
			Help:      "Real-time events by delivery status",
		}, []string{"status"}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "booking",
			Subsystem: "realtime",
			Name:      "connections",
			Help:      "Open WebSocket connections",
		}),
		webhooksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "booking",
			Subsystem: "payments",
			Name:      "webhook_events_total",
			Help:      "Stripe webhook events by type and status",
		}, []string{"event_type", "status"}),
		payoutsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "booking",
			Subsystem: "payments",
			Name:      "payouts_total",
			Help:      "Payout release attempts by outcome",
		}, []string{"outcome"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.transitionsTotal, m.transitionLatency, m.conflictsTotal,
		m.realtimeTotal, m.connections, m.webhooksTotal, m.payoutsTotal)
	return m
}

func (m *BookingMetrics) ObserveOperation(operation, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(operation, outcome).Inc()
	m.transitionLatency.WithLabelValues(operation).Observe(seconds)
}

func (m *BookingMetrics) ObserveConflict(code string) {
	if m == nil {
		return
	}
	m.conflictsTotal.WithLabelValues(code).Inc()
}

// ObserveRealtime counts published, delivered and dropped events.
func (m *BookingMetrics) ObserveRealtime(status string) {
	if m == nil {
		return
	}
	m.realtimeTotal.WithLabelValues(status).Inc()
}

func (m *BookingMetrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.connections.Inc()
}

func (m *BookingMetrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.connections.Dec()
}

func (m *BookingMetrics) ObserveWebhook(eventType, status string) {
	if m == nil {
		return
	}
	m.webhooksTotal.WithLabelValues(eventType, status).Inc()
}

func (m *BookingMetrics) ObservePayout(outcome string) {
	if m == nil {
		return
	}
	m.payoutsTotal.WithLabelValues(outcome).Inc()
}

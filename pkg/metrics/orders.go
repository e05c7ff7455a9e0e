package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "storefront"

// OrderMetrics counts order lifecycle and reconciliation outcomes.
type OrderMetrics struct {
	created         *prometheus.CounterVec
	cancelled       *prometheus.CounterVec
	expired         prometheus.Counter
	reserveFailures *prometheus.CounterVec
	reconciliations *prometheus.CounterVec
}

// NewOrderMetrics registers the order metrics on the provided registerer.
// A nil registerer yields a no-op recorder.
func NewOrderMetrics(reg prometheus.Registerer) *OrderMetrics {
	if reg == nil {
		return &OrderMetrics{}
	}
	m := &OrderMetrics{
		created: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_created_total",
			Help:      "Orders placed, by payment method.",
		}, []string{"payment_method"}),
		cancelled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_cancelled_total",
			Help:      "Orders cancelled, by initiator.",
		}, []string{"initiator"}),
		expired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_expired_total",
			Help:      "Unpaid orders cancelled by the expiration sweep.",
		}),
		reserveFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inventory_reservation_failures_total",
			Help:      "Stock reservations refused, by reason.",
		}, []string{"reason"}),
		reconciliations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_reconciliations_total",
			Help:      "Gateway notifications processed, by source and outcome.",
		}, []string{"source", "outcome"}),
	}
	reg.MustRegister(m.created, m.cancelled, m.expired, m.reserveFailures, m.reconciliations)
	return m
}

func (m *OrderMetrics) OrderCreated(paymentMethod string) {
	if m == nil || m.created == nil {
		return
	}
	m.created.WithLabelValues(normalizeLabel(paymentMethod)).Inc()
}

func (m *OrderMetrics) OrderCancelled(initiator string) {
	if m == nil || m.cancelled == nil {
		return
	}
	m.cancelled.WithLabelValues(normalizeLabel(initiator)).Inc()
}

func (m *OrderMetrics) OrdersExpired(n int) {
	if m == nil || m.expired == nil || n <= 0 {
		return
	}
	m.expired.Add(float64(n))
}

// ReservationFailed satisfies the inventory ledger's failure observer.
func (m *OrderMetrics) ReservationFailed(reason string) {
	if m == nil || m.reserveFailures == nil {
		return
	}
	m.reserveFailures.WithLabelValues(normalizeLabel(reason)).Inc()
}

func (m *OrderMetrics) Reconciled(source, outcome string) {
	if m == nil || m.reconciliations == nil {
		return
	}
	m.reconciliations.WithLabelValues(normalizeLabel(source), normalizeLabel(outcome)).Inc()
}

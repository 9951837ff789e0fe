package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/notifyhub/dispatch/internal/domain"
)

// Metrics groups all Prometheus instruments used across the application.
// Registered once at startup via New(); passed by pointer wherever needed.
type Metrics struct {
	NotificationsSent    *prometheus.CounterVec
	NotificationsRetried *prometheus.CounterVec
	NotificationsDead    *prometheus.CounterVec
	DeliveryLatency      *prometheus.HistogramVec
	QueueWaiting         *prometheus.GaugeVec
	QueueActive          *prometheus.GaugeVec
}

// New registers all instruments with the given Prometheus registerer and
// returns the populated Metrics struct.
// Using a custom registry (instead of prometheus.DefaultRegisterer) keeps
// tests isolated and avoids global state.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		NotificationsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notifications_sent_total",
			Help: "Total number of successfully delivered notifications.",
		}, []string{"channel"}),

		NotificationsRetried: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notifications_retried_total",
			Help: "Total number of delivery attempts that were rescheduled for retry.",
		}, []string{"channel"}),

		NotificationsDead: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notifications_dead_lettered_total",
			Help: "Total number of transactions moved to the dead letter state.",
		}, []string{"channel"}),

		DeliveryLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "notification_delivery_seconds",
			Help:    "End-to-end processing latency from dequeue to provider ack.",
			Buckets: prometheus.DefBuckets,
		}, []string{"channel"}),

		QueueWaiting: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "queue_waiting_jobs",
			Help: "Current number of jobs waiting (including delayed) per queue.",
		}, []string{"queue"}),

		QueueActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "queue_active_jobs",
			Help: "Current number of jobs held by workers per queue.",
		}, []string{"queue"}),
	}

	reg.MustRegister(
		m.NotificationsSent,
		m.NotificationsRetried,
		m.NotificationsDead,
		m.DeliveryLatency,
		m.QueueWaiting,
		m.QueueActive,
	)

	return m
}

// WorkerHooks returns the metric callbacks expected by worker.MetricHooks.
// Centralises the prometheus observation calls so worker.go stays import-free.
func (m *Metrics) WorkerHooks() (
	onSent func(domain.Channel, time.Duration),
	onRetry func(domain.Channel),
	onDeadLetter func(domain.Channel),
) {
	onSent = func(ch domain.Channel, latency time.Duration) {
		m.NotificationsSent.WithLabelValues(string(ch)).Inc()
		m.DeliveryLatency.WithLabelValues(string(ch)).Observe(latency.Seconds())
	}
	onRetry = func(ch domain.Channel) {
		m.NotificationsRetried.WithLabelValues(string(ch)).Inc()
	}
	onDeadLetter = func(ch domain.Channel) {
		m.NotificationsDead.WithLabelValues(string(ch)).Inc()
	}
	return
}

// ObserveQueue records a broker stats snapshot on the queue gauges.
func (m *Metrics) ObserveQueue(queue string, waiting, active int) {
	m.QueueWaiting.WithLabelValues(queue).Set(float64(waiting))
	m.QueueActive.WithLabelValues(queue).Set(float64(active))
}

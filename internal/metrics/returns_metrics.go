package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ReturnsMetrics содержит метрики жизненного цикла возвратов.
type ReturnsMetrics struct {
	// Счётчик созданных заявок на возврат.
	created prometheus.Counter

	// Счётчик переходов статусов с разбивкой по целевому статусу.
	transitions *prometheus.CounterVec

	// Счётчик записей журнала возврата.
	timelineEntries prometheus.Counter

	// Гистограмма времени перехода (включая синхронизацию заказа).
	transitionDuration prometheus.Histogram

	// Gauge активных (нетерминальных) возвратов.
	activeReturns prometheus.Gauge
}

// NewReturnsMetrics создаёт метрики сервиса возвратов в default registry.
func NewReturnsMetrics() *ReturnsMetrics {
	return newReturnsMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

func newReturnsMetricsWithRegisterer(registerer prometheus.Registerer) *ReturnsMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &ReturnsMetrics{
		created: registerCounter(registerer, prometheus.CounterOpts{
			Name: "storefront_returns_created_total",
			Help: "Total number of return requests accepted.",
		}),
		transitions: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "storefront_return_transitions_total",
			Help: "Total number of return status transitions grouped by target status.",
		}, []string{"status"}),
		timelineEntries: registerCounter(registerer, prometheus.CounterOpts{
			Name: "storefront_return_timeline_entries_total",
			Help: "Total number of return timeline entries recorded.",
		}),
		transitionDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "storefront_return_transition_duration_seconds",
			Help:    "Duration of return transitions including order synchronization.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}),
		activeReturns: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "storefront_active_returns",
			Help: "Number of returns currently in a non-terminal status.",
		}),
	}
}

// RecordCreated учитывает принятую заявку на возврат.
func (m *ReturnsMetrics) RecordCreated() {
	m.created.Inc()
	m.activeReturns.Inc()
}

// RecordTransition учитывает переход в целевой статус.
func (m *ReturnsMetrics) RecordTransition(status string) {
	m.transitions.WithLabelValues(status).Inc()
}

// RecordTimelineEntry увеличивает счётчик записей журнала.
func (m *ReturnsMetrics) RecordTimelineEntry() {
	m.timelineEntries.Inc()
}

// RecordTransitionDuration записывает длительность перехода.
func (m *ReturnsMetrics) RecordTransitionDuration(duration time.Duration) {
	m.transitionDuration.Observe(duration.Seconds())
}

// RecordFinished уменьшает gauge активных возвратов при входе в терминальный статус.
func (m *ReturnsMetrics) RecordFinished() {
	m.activeReturns.Dec()
}

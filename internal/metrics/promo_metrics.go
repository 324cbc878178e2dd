package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PromoMetrics содержит метрики для проверки и погашения купонов.
type PromoMetrics struct {
	// Счётчики операций с разбивкой по результату.
	validations *prometheus.CounterVec
	redemptions *prometheus.CounterVec

	// Гистограмма времени погашения.
	redemptionDuration prometheus.Histogram

	// Счётчик компенсаций (откат ценообразования после проигранной гонки за квоту).
	compensations prometheus.Counter

	// Счётчик событий outbox.
	outboxEvents prometheus.Counter
}

// NewPromoMetrics создаёт метрики промо-сервиса в default registry.
func NewPromoMetrics() *PromoMetrics {
	return newPromoMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

func newPromoMetricsWithRegisterer(registerer prometheus.Registerer) *PromoMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &PromoMetrics{
		validations: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "storefront_coupon_validations_total",
			Help: "Total number of coupon validation calls grouped by result.",
		}, []string{"result"}),
		redemptions: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "storefront_coupon_redemptions_total",
			Help: "Total number of coupon redemption attempts grouped by result.",
		}, []string{"result"}),
		redemptionDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "storefront_coupon_redemption_duration_seconds",
			Help:    "Duration of coupon redemption operations in seconds.",
			Buckets: prometheus.DefBuckets,
		}),
		compensations: registerCounter(registerer, prometheus.CounterOpts{
			Name: "storefront_coupon_pricing_compensations_total",
			Help: "Total number of pricing snapshots reverted after a lost quota race.",
		}),
		outboxEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "storefront_promo_outbox_events_total",
			Help: "Total number of promo events enqueued to the outbox.",
		}),
	}
}

// RecordValidation увеличивает счётчик проверок купона.
func (m *PromoMetrics) RecordValidation(result string) {
	m.validations.WithLabelValues(result).Inc()
}

// RecordRedemption увеличивает счётчик попыток погашения.
func (m *PromoMetrics) RecordRedemption(result string) {
	m.redemptions.WithLabelValues(result).Inc()
}

// RecordRedemptionDuration записывает длительность погашения.
func (m *PromoMetrics) RecordRedemptionDuration(duration time.Duration) {
	m.redemptionDuration.Observe(duration.Seconds())
}

// RecordCompensation увеличивает счётчик откатов ценообразования.
func (m *PromoMetrics) RecordCompensation() {
	m.compensations.Inc()
}

// RecordOutboxEvent увеличивает счётчик promo-событий outbox.
func (m *PromoMetrics) RecordOutboxEvent() {
	m.outboxEvents.Inc()
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	collector := prometheus.NewGauge(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Gauge)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogram(registerer prometheus.Registerer, opts prometheus.HistogramOpts) prometheus.Histogram {
	collector := prometheus.NewHistogram(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Histogram)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram %q: %v", opts.Name, err))
	}
	return collector
}

// internal/metrics/metrics.go
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricType identifies one of the collector's metric families.
type MetricType string

const (
	TradeCounterType      MetricType = "trade_counter"
	TradeDurationType     MetricType = "trade_duration"
	QuoteCounterType      MetricType = "quote_counter"
	GraduationCounterType MetricType = "graduation_counter"
	LockWaitType          MetricType = "lock_wait"
	ReconcileSweepType    MetricType = "reconcile_sweep"
	InconsistentGaugeType MetricType = "inconsistent_tokens"
	PaymentCounterType    MetricType = "payment_counter"
	EventCounterType      MetricType = "event_counter"
	NotifyCounterType     MetricType = "notify_counter"
)

var registerOnce sync.Once

// Collector owns the engine's Prometheus metrics. All families share the
// "launchpad" namespace and register against the default registry, so a
// promhttp handler exposes them without extra wiring.
type Collector struct {
	metrics sync.Map
}

// NewCollector builds the collector and registers the metric families.
// Registration happens once per process no matter how many collectors tests
// create.
func NewCollector() *Collector {
	c := &Collector{}
	c.initializeMetrics()
	return c
}

func (c *Collector) initializeMetrics() {
	metricsMap := map[MetricType]prometheus.Collector{
		TradeCounterType:      tradeCounter,
		TradeDurationType:     tradeDuration,
		QuoteCounterType:      quoteCounter,
		GraduationCounterType: graduationCounter,
		LockWaitType:          lockWait,
		ReconcileSweepType:    reconcileSweep,
		InconsistentGaugeType: inconsistentTokens,
		PaymentCounterType:    paymentCounter,
		EventCounterType:      eventCounter,
		NotifyCounterType:     notifyCounter,
	}

	for metricType, metric := range metricsMap {
		c.metrics.Store(metricType, metric)
	}

	registerOnce.Do(func() {
		for _, metric := range metricsMap {
			prometheus.MustRegister(metric)
		}
	})
}

// Reset clears all metric families (useful in tests).
func (c *Collector) Reset() {
	c.metrics.Range(func(_, value interface{}) bool {
		switch m := value.(type) {
		case *prometheus.CounterVec:
			m.Reset()
		case *prometheus.GaugeVec:
			m.Reset()
		case *prometheus.HistogramVec:
			m.Reset()
		}
		return true
	})
}

// RecordTrade records one trade execution attempt.
func (c *Collector) RecordTrade(side string, duration time.Duration, success bool) {
	status := "success"
	if !success {
		status = "failure"
	}
	tradeCounter.WithLabelValues(status, side).Inc()
	tradeDuration.WithLabelValues(side).Observe(duration.Seconds())
}

// RecordQuote records one quote request.
func (c *Collector) RecordQuote(side string, success bool) {
	status := "success"
	if !success {
		status = "failure"
	}
	quoteCounter.WithLabelValues(status, side).Inc()
}

// RecordGraduation records a token crossing its graduation threshold.
func (c *Collector) RecordGraduation() {
	graduationCounter.Inc()
}

// RecordLockWait records how long a trade waited for its per-token lock.
func (c *Collector) RecordLockWait(wait time.Duration, acquired bool) {
	status := "acquired"
	if !acquired {
		status = "timeout"
	}
	lockWait.WithLabelValues(status).Observe(wait.Seconds())
}

// RecordReconcileSweep records one full reconciliation pass.
func (c *Collector) RecordReconcileSweep(duration time.Duration, checked, mismatched int) {
	reconcileSweep.Observe(duration.Seconds())
	if mismatched >= 0 && checked >= 0 {
		inconsistentTokens.WithLabelValues().Set(float64(mismatched))
	}
}

// RecordPayment records an x402 payment by status.
func (c *Collector) RecordPayment(status string) {
	paymentCounter.WithLabelValues(status).Inc()
}

// RecordEvent records an event published on the bus.
func (c *Collector) RecordEvent(eventType string) {
	eventCounter.WithLabelValues(eventType).Inc()
}

// RecordNotifyDelivery records one notification sink delivery attempt.
func (c *Collector) RecordNotifyDelivery(sink string, success bool) {
	status := "success"
	if !success {
		status = "failure"
	}
	notifyCounter.WithLabelValues(sink, status).Inc()
}

var (
	tradeCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "launchpad",
			Name:      "trades_total",
			Help:      "Total number of curve trades executed",
		},
		[]string{"status", "side"},
	)

	tradeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "launchpad",
			Name:      "trade_duration_seconds",
			Help:      "Trade execution duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"side"},
	)

	quoteCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "launchpad",
			Name:      "quotes_total",
			Help:      "Total number of quote requests served",
		},
		[]string{"status", "side"},
	)

	graduationCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "launchpad",
			Name:      "graduations_total",
			Help:      "Total number of tokens graduated to DEX trading",
		},
	)

	lockWait = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "launchpad",
			Name:      "lock_wait_seconds",
			Help:      "Time spent waiting for per-token trade locks",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		},
		[]string{"status"},
	)

	reconcileSweep = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "launchpad",
			Name:      "reconcile_sweep_seconds",
			Help:      "Duration of full chain reconciliation sweeps",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		},
	)

	inconsistentTokens = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "launchpad",
			Name:      "inconsistent_tokens",
			Help:      "Tokens currently marked inconsistent with chain state",
		},
		[]string{},
	)

	paymentCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "launchpad",
			Name:      "payments_total",
			Help:      "Total number of x402 service payments by status",
		},
		[]string{"status"},
	)

	eventCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "launchpad",
			Name:      "events_total",
			Help:      "Total number of events published on the bus",
		},
		[]string{"type"},
	)

	notifyCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "launchpad",
			Name:      "notify_deliveries_total",
			Help:      "Total number of notification sink deliveries by outcome",
		},
		[]string{"sink", "status"},
	)
)

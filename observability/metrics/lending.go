package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type LendingMetrics struct {
	quotes          *prometheus.CounterVec
	quotedRate      *prometheus.HistogramVec
	transitions     *prometheus.CounterVec
	payments        *prometheus.CounterVec
	healthChecks    *prometheus.CounterVec
	partialReports  prometheus.Counter
	overdueLoans    prometheus.Gauge
	activeLoans     prometheus.Gauge
	sweepDuration   prometheus.Histogram
	sweepDefaults   prometheus.Counter
	stalePriceReads *prometheus.CounterVec
}

var (
	lendingOnce     sync.Once
	lendingRegistry *LendingMetrics
)

// Lending returns the lazily registered collectors for the loan pricing and
// risk service.
func Lending() *LendingMetrics {
	lendingOnce.Do(func() {
		lendingRegistry = &LendingMetrics{
			quotes: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lendrisk",
				Name:      "quotes_total",
				Help:      "Count of rate quotes produced by asset class and outcome.",
			}, []string{"asset_class", "outcome"}),
			quotedRate: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "lendrisk",
				Name:      "quoted_rate_percent",
				Help:      "Distribution of final quoted APR in percent.",
				Buckets:   []float64{2, 4, 6, 8, 10, 12, 15, 20, 30, 40, 50},
			}, []string{"asset_class"}),
			transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lendrisk",
				Name:      "loan_transitions_total",
				Help:      "Loan lifecycle transitions by target state.",
			}, []string{"state"}),
			payments: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lendrisk",
				Name:      "payments_total",
				Help:      "Payments applied by outcome.",
			}, []string{"outcome"}),
			healthChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lendrisk",
				Name:      "health_evaluations_total",
				Help:      "Collateral health evaluations by resulting band.",
			}, []string{"status"}),
			partialReports: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "lendrisk",
				Name:      "health_partial_reports_total",
				Help:      "Health reports computed with at least one unpriced asset.",
			}),
			overdueLoans: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "lendrisk",
				Name:      "overdue_loans",
				Help:      "Active loans past their next due date at the last sweep.",
			}),
			activeLoans: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "lendrisk",
				Name:      "active_loans",
				Help:      "Funded loans with an active repayment account at the last sweep.",
			}),
			sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "lendrisk",
				Name:      "sweep_duration_seconds",
				Help:      "Duration of overdue sweeps.",
				Buckets:   prometheus.DefBuckets,
			}),
			sweepDefaults: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "lendrisk",
				Name:      "sweep_defaults_total",
				Help:      "Loans marked defaulted by the overdue sweeper.",
			}),
			stalePriceReads: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lendrisk",
				Name:      "stale_price_reads_total",
				Help:      "Price lookups rejected because the quote exceeded its max age.",
			}, []string{"asset"}),
		}
		prometheus.MustRegister(
			lendingRegistry.quotes,
			lendingRegistry.quotedRate,
			lendingRegistry.transitions,
			lendingRegistry.payments,
			lendingRegistry.healthChecks,
			lendingRegistry.partialReports,
			lendingRegistry.overdueLoans,
			lendingRegistry.activeLoans,
			lendingRegistry.sweepDuration,
			lendingRegistry.sweepDefaults,
			lendingRegistry.stalePriceReads,
		)
	})
	return lendingRegistry
}

func (m *LendingMetrics) ObserveQuote(class string, rate float64, err error) {
	if m == nil {
		return
	}
	if class == "" {
		class = "unknown"
	}
	if err != nil {
		m.quotes.WithLabelValues(class, "rejected").Inc()
		return
	}
	m.quotes.WithLabelValues(class, "ok").Inc()
	m.quotedRate.WithLabelValues(class).Observe(rate)
}

func (m *LendingMetrics) ObserveTransition(state string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(state).Inc()
}

func (m *LendingMetrics) ObservePayment(outcome string) {
	if m == nil {
		return
	}
	if outcome == "" {
		outcome = "unknown"
	}
	m.payments.WithLabelValues(outcome).Inc()
}

func (m *LendingMetrics) ObserveHealth(status string, partial bool) {
	if m == nil {
		return
	}
	m.healthChecks.WithLabelValues(status).Inc()
	if partial {
		m.partialReports.Inc()
	}
}

func (m *LendingMetrics) ObserveSweep(active, overdue, defaulted int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.activeLoans.Set(float64(active))
	m.overdueLoans.Set(float64(overdue))
	m.sweepDefaults.Add(float64(defaulted))
	m.sweepDuration.Observe(elapsed.Seconds())
}

func (m *LendingMetrics) IncStalePrice(asset string) {
	if m == nil {
		return
	}
	if asset == "" {
		asset = "unknown"
	}
	m.stalePriceReads.WithLabelValues(asset).Inc()
}

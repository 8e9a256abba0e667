package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "msr_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "code", "method"},
	)

	HoldsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "msr_holds_total",
			Help: "Hold attempts by outcome",
		},
		[]string{"result"},
	)

	ActiveHolds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "msr_active_holds",
			Help: "Pending holds currently armed in this process",
		},
	)

	HoldExpiriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "msr_hold_expiries_total",
			Help: "Holds released by timer expiry",
		},
	)

	StoreCASFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "msr_store_cas_failures_total",
			Help: "Compare-and-set attempts that lost to a concurrent writer",
		},
	)

	StoreOpDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "msr_store_op_seconds",
			Help:    "Duration of seat store round-trips",
			Buckets: prometheus.DefBuckets,
		},
	)

	RateLimitExceeded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "msr_rate_limit_exceeded_total",
			Help: "Total rate limit exceeded",
		},
	)
)

func InitMetrics() {
	prometheus.MustRegister(RequestsTotal, HoldsTotal, ActiveHolds, HoldExpiriesTotal, StoreCASFailures, StoreOpDuration, RateLimitExceeded)
}

package ebay

import "github.com/prometheus/client_golang/prometheus"

// Metric label values for call outcomes.
const (
	outcomeOK       = "ok"
	outcomeNotFound = "not_found"
	outcomeError    = "error"
)

var (
	lookupDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "calcops_ebay_lookup_duration_seconds",
			Help:    "Duration of eBay Browse item lookups, in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	tokenRefreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "calcops_ebay_token_refreshes_total",
			Help: "Total number of OAuth application token fetches.",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(lookupDuration)
	prometheus.MustRegister(tokenRefreshes)

	for _, o := range []string{outcomeOK, outcomeNotFound, outcomeError} {
		lookupDuration.WithLabelValues(o)
	}
	tokenRefreshes.WithLabelValues(outcomeOK)
	tokenRefreshes.WithLabelValues(outcomeError)
}

package refresh

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/seantiz/calcops/internal/model"
)

// Metric label values for item outcomes.
const (
	itemSucceeded = "succeeded"
	itemFailed    = "failed"
)

var (
	runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "calcops_refresh_runs_total",
			Help: "Total number of finished refresh runs.",
		},
		[]string{"trigger", "status"},
	)

	itemsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "calcops_refresh_items_total",
			Help: "Total number of watch item lookups performed by refresh runs.",
		},
		[]string{"source", "outcome"},
	)

	runDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "calcops_refresh_run_duration_seconds",
			Help:    "Duration of refresh runs from start to finish, in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"mode"},
	)

	inFlightLookups = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "calcops_refresh_inflight_lookups",
			Help: "Number of listing lookups currently in flight.",
		},
	)
)

func init() {
	prometheus.MustRegister(runsTotal)
	prometheus.MustRegister(itemsTotal)
	prometheus.MustRegister(runDuration)
	prometheus.MustRegister(inFlightLookups)

	for _, trig := range []string{model.TriggerManual, model.TriggerAsync, model.TriggerScheduled} {
		runsTotal.WithLabelValues(trig, model.RunCompleted)
		runsTotal.WithLabelValues(trig, model.RunFailed)
	}
}

package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const unmatched = "unmatched"

// SSE event kinds sent on a run's progress stream.
const (
	sseOutcome = "outcome"
	sseDone    = "done"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "calcops_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	// Progress streams live as long as their run, so they are kept out of the
	// latency histogram.
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "calcops_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds, excluding progress streams.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	progressStreams = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "calcops_progress_streams",
		Help: "Number of open refresh run progress streams.",
	})

	progressEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "calcops_progress_events_total",
			Help: "Progress stream events written, by kind.",
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal, httpRequestDuration, progressStreams, progressEventsTotal)
}

// metricsMiddleware records request count and duration for every HTTP request.
// Uses the chi route pattern (not the raw path) to avoid unbounded cardinality.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		path := routePattern(r)
		httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(status)).Inc()
		if !isEventStream(ww.Header()) {
			httpRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		}
	})
}

func isEventStream(h http.Header) bool {
	return strings.HasPrefix(h.Get("Content-Type"), "text/event-stream")
}

// routePattern extracts the matched chi route pattern, falling back to "unmatched".
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx != nil && rctx.RoutePattern() != "" {
		return rctx.RoutePattern()
	}
	return unmatched
}

func metricsHandler() http.Handler {
	return promhttp.Handler()
}

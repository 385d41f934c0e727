// metrics.go - Prometheus metrics, exposed on /metrics.
package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "medrec",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "medrec",
			Name:      "http_request_duration_seconds",
			Help:      "Request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"path"},
	)

	uploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "medrec",
			Name:      "uploads_total",
			Help:      "Total number of stored uploads",
		},
		[]string{"kind"},
	)

	downloadLinksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "medrec",
			Name:      "download_links_total",
			Help:      "Total number of presigned download links issued",
		},
		[]string{"kind"},
	)
)

func recordUpload(kind string) {
	uploadsTotal.WithLabelValues(kind).Inc()
}

func recordDownloadLink(kind string) {
	downloadLinksTotal.WithLabelValues(kind).Inc()
}

// metricsMiddleware counts and times every request.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		lrw := &loggingResponseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(lrw, r)

		httpRequestsTotal.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(lrw.status)).Inc()
		httpRequestDuration.WithLabelValues(r.URL.Path).Observe(time.Since(start).Seconds())
	})
}

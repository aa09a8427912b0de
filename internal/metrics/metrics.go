package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	MessagesPosted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_messages_posted_total",
		Help: "Total number of chat messages accepted",
	})
	MessagesDeleted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_messages_deleted_total",
		Help: "Total number of messages soft-deleted",
	})
	MembershipsProvisioned = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_memberships_provisioned_total",
		Help: "Total number of memberships auto-created on first room contact",
	})
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})
)

func init() {
	prometheus.MustRegister(
		MessagesPosted,
		MessagesDeleted,
		MembershipsProvisioned,
		HTTPRequestsTotal,
		HTTPRequestDuration,
	)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

// Middleware records request count and duration labelled by method, route
// pattern and status. pathFunc maps a request to its route pattern so that
// /api/rooms/17/send/ and /api/rooms/18/send/ share one label.
func Middleware(next http.Handler, pathFunc func(*http.Request) string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sr, r)

		path := pathFunc(r)
		if path == "" {
			path = r.URL.Path
		}
		labels := prometheus.Labels{
			"method": r.Method,
			"path":   path,
			"status": strconv.Itoa(sr.status),
		}
		HTTPRequestsTotal.With(labels).Inc()
		HTTPRequestDuration.With(labels).Observe(time.Since(start).Seconds())
	})
}

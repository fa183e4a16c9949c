package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifier_http_requests_total",
			Help: "Total HTTP requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notifier_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	sessionsOpened = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notifier_stream_sessions_opened_total",
			Help: "Stream sessions opened",
		},
	)

	sessionsClosed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifier_stream_sessions_closed_total",
			Help: "Stream sessions closed by reason",
		},
		[]string{"reason"},
	)

	eventsAppended = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notifier_events_appended_total",
			Help: "Events appended to the buffer",
		},
	)

	eventsSuppressed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notifier_events_suppressed_total",
			Help: "Duplicate event dispatches absorbed at append time",
		},
	)

	eventsDelivered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notifier_events_delivered_total",
			Help: "Real events emitted over a stream session",
		},
	)

	pingsSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notifier_pings_sent_total",
			Help: "Keepalive pings emitted over stream sessions",
		},
	)

	pollRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifier_poll_requests_total",
			Help: "Poll fallback requests by cache outcome",
		},
		[]string{"cache"},
	)

	rateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifier_rate_limit_rejections_total",
			Help: "Requests rejected by rate limiter",
		},
		[]string{"key"},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records HTTP request metrics
func RecordRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordSessionOpened counts a new stream session
func RecordSessionOpened() {
	sessionsOpened.Inc()
}

// RecordSessionClosed counts a finished stream session by close reason
func RecordSessionClosed(reason string) {
	sessionsClosed.WithLabelValues(reason).Inc()
}

// RecordEventAppended counts an event accepted into the buffer
func RecordEventAppended() {
	eventsAppended.Inc()
}

// RecordEventSuppressed counts a duplicate dispatch absorbed as a no-op
func RecordEventSuppressed() {
	eventsSuppressed.Inc()
}

// RecordEventDelivered counts a real event emitted to a client
func RecordEventDelivered() {
	eventsDelivered.Inc()
}

// RecordPingSent counts a keepalive ping
func RecordPingSent() {
	pingsSent.Inc()
}

// RecordPollRequest counts a poll request; hit marks a cache-served answer
func RecordPollRequest(hit bool) {
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	pollRequests.WithLabelValues(outcome).Inc()
}

// RecordRateLimitRejection counts a rate limited request
func RecordRateLimitRejection(key string) {
	rateLimitRejections.WithLabelValues(key).Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush passes flushes through so streaming responses keep working.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Middleware returns HTTP middleware that records request metrics
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		RecordRequest(r.Method, r.URL.Path, wrapped.status, time.Since(start))
	})
}

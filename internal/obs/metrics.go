package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP metrics.
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	serviceReady = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "userboard_ready",
		Help: "1 when the last readiness check passed.",
	})
)

// Domain metrics.
var (
	loginsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "userboard_logins_total",
			Help: "Login attempts by result.",
		},
		[]string{"result"},
	)

	refreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "userboard_token_refresh_total",
			Help: "Refresh attempts by result.",
		},
		[]string{"result"},
	)

	eventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "userboard_events_total",
			Help: "Lifecycle events by topic and delivery result.",
		},
		[]string{"topic", "result"},
	)

	transitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "userboard_transitions_total",
			Help: "User status transitions by action.",
		},
		[]string{"action"},
	)

	purgedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "userboard_refresh_tokens_purged_total",
		Help: "Refresh token records removed by housekeeping.",
	})
)

var initOnce sync.Once

// Init registers all metrics in the default registry. Safe to call repeatedly.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration, serviceReady,
			loginsTotal, refreshTotal, eventsTotal, transitionsTotal, purgedTotal,
		)
	})
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

func RecordLogin(result string)        { loginsTotal.WithLabelValues(result).Inc() }
func RecordRefresh(result string)      { refreshTotal.WithLabelValues(result).Inc() }
func RecordEvent(topic, result string) { eventsTotal.WithLabelValues(topic, result).Inc() }
func RecordTransition(action string)   { transitionsTotal.WithLabelValues(action).Inc() }
func AddPurged(n int64) {
	if n > 0 {
		purgedTotal.Add(float64(n))
	}
}

// SetReady records the outcome of a readiness probe.
func SetReady(ok bool) {
	if ok {
		serviceReady.Set(1)
		return
	}
	serviceReady.Set(0)
}

// Instrument records request count, latency and in-flight gauge.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		status := strconv.Itoa(sw.code)
		httpRequestDuration.WithLabelValues(method, path, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	})
}

// CanonicalPath collapses user identifiers so label cardinality stays bounded.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	segs := strings.Split(strings.Trim(path, "/"), "/")
	// /v1/users/{id} and /v1/admin/users/{id}/{action}
	for i := 0; i+1 < len(segs); i++ {
		if segs[i] != "users" {
			continue
		}
		next := segs[i+1]
		if next == "me" || next == "pending" {
			continue
		}
		segs[i+1] = ":id"
	}
	return "/" + strings.Join(segs, "/")
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush keeps streaming responses working through the wrapper.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

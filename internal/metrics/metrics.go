// Package metrics holds the Prometheus collectors of the API and worker.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics registers collectors on a private registry.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	submissions     *prometheus.CounterVec
	sessionsOpened  prometheus.Counter
	scanDecodes     *prometheus.CounterVec
	rosterUpdates   *prometheus.CounterVec
}

// New registers the collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "attendance_submissions_total",
			Help: "Attendance submissions by outcome code",
		}, []string{"code"}),
		sessionsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "attendance_sessions_opened_total",
			Help: "Sessions opened by teachers",
		}),
		scanDecodes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scan_decodes_total",
			Help: "Uploaded scan frames by result",
		}, []string{"result"}),
		rosterUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roster_updates_total",
			Help: "Roster updates applied by the worker",
		}, []string{"result"}),
	}

	registry.MustRegister(
		m.requestDuration, m.requestTotal, m.submissions, m.sessionsOpened, m.scanDecodes, m.rosterUpdates,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m.handler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	return m
}

// Handler exposes the registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveSubmission counts a finished attendance submission.
func (m *Metrics) ObserveSubmission(code string) {
	m.submissions.WithLabelValues(code).Inc()
}

// SessionOpened counts a teacher-issued session.
func (m *Metrics) SessionOpened() { m.sessionsOpened.Inc() }

// ObserveDecode counts an uploaded frame decode by result (ok, none, malformed, invalid_image).
func (m *Metrics) ObserveDecode(result string) {
	m.scanDecodes.WithLabelValues(result).Inc()
}

// ObserveRoster counts a worker roster update.
func (m *Metrics) ObserveRoster(ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	m.rosterUpdates.WithLabelValues(result).Inc()
}

// GinMiddleware records request count and latency by route template.
func (m *Metrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		m.requestDuration.WithLabelValues(c.Request.Method, path, status).Observe(time.Since(start).Seconds())
		m.requestTotal.WithLabelValues(c.Request.Method, path, status).Inc()
	}
}

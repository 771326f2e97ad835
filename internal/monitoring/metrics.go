// Package monitoring exposes Prometheus metrics for the session server.
package monitoring

import (
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors. It satisfies both the registry's
// and the transport layer's metrics interfaces.
type Metrics struct {
	SessionsActive  prometheus.Gauge
	SessionsTotal   prometheus.Counter
	OutputBytesRead prometheus.Counter
	ForwardRestarts prometheus.Counter

	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	Uptime    prometheus.Gauge
	startTime time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

// NewMetrics creates and registers the metric collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		startTime: time.Now(),
		stop:      make(chan struct{}),

		SessionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "terminal_sessions_active",
			Help: "Number of live terminal sessions",
		}),
		SessionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "terminal_sessions_total",
			Help: "Total number of terminal sessions created",
		}),
		OutputBytesRead: promauto.NewCounter(prometheus.CounterOpts{
			Name: "terminal_output_bytes_total",
			Help: "Total bytes of process output relayed",
		}),
		ForwardRestarts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "terminal_forward_restarts_total",
			Help: "Total forwarded-program restarts requested",
		}),

		WSConnections: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "transport_connections_active",
			Help: "Number of connected WebSocket transports",
		}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "transport_messages_total",
			Help: "Total inbound transport messages",
		}, []string{"type"}),

		RequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		RequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"method", "path"}),

		Uptime: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "process_uptime_seconds",
			Help: "Seconds since the server started",
		}),
	}

	go m.trackUptime()
	return m
}

// SessionOpened implements terminal.Metrics.
func (m *Metrics) SessionOpened() {
	m.SessionsActive.Inc()
	m.SessionsTotal.Inc()
}

// SessionClosed implements terminal.Metrics.
func (m *Metrics) SessionClosed() {
	m.SessionsActive.Dec()
}

// OutputBytes implements terminal.Metrics.
func (m *Metrics) OutputBytes(n int) {
	m.OutputBytesRead.Add(float64(n))
}

// ForwardRestarted implements terminal.Metrics.
func (m *Metrics) ForwardRestarted() {
	m.ForwardRestarts.Inc()
}

// WSConnected implements ws.Metrics.
func (m *Metrics) WSConnected() {
	m.WSConnections.Inc()
}

// WSDisconnected implements ws.Metrics.
func (m *Metrics) WSDisconnected() {
	m.WSConnections.Dec()
}

// WSMessage implements ws.Metrics.
func (m *Metrics) WSMessage(msgType string) {
	m.WSMessages.WithLabelValues(msgType).Inc()
}

func (m *Metrics) trackUptime() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.Uptime.Set(time.Since(m.startTime).Seconds())
		}
	}
}

// Close stops the uptime goroutine. Safe to call more than once.
func (m *Metrics) Close() {
	m.stopOnce.Do(func() {
		close(m.stop)
	})
}

// Handler returns the Prometheus scrape endpoint.
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}

// Middleware records request counts and latencies for the HTTP surface.
func Middleware(m *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		c.Next()

		m.RequestsTotal.WithLabelValues(c.Request.Method, path, statusLabel(c.Writer.Status())).Inc()
		m.RequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

func statusLabel(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}

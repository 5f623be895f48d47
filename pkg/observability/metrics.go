package observability

import (
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentroom_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agentroom_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Frame metrics
	framesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentroom_frames_total",
			Help: "Total number of socket frames by direction and type",
		},
		[]string{"direction", "type"},
	)

	framesDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "agentroom_frames_dropped_total",
			Help: "Outbound frames dropped because a session send buffer was full",
		},
	)

	// Lock metrics
	lockRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentroom_lock_requests_total",
			Help: "Total number of lock requests by result",
		},
		[]string{"result"},
	)

	locksHeld = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "agentroom_locks_held",
			Help: "Number of file locks currently held across all rooms",
		},
	)

	// Durable log metrics
	historyWriteFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentroom_history_write_failures_total",
			Help: "Best-effort history writes that failed",
		},
		[]string{"op"},
	)

	// System metrics
	activeConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "agentroom_active_connections",
			Help: "Number of active agent connections",
		},
	)

	activeRooms = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "agentroom_active_rooms",
			Help: "Number of live room coordinators",
		},
	)

	memoryUsage = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "agentroom_memory_usage_bytes",
			Help: "Memory usage in bytes",
		},
	)

	goroutines = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "agentroom_goroutines",
			Help: "Number of goroutines",
		},
	)

	initOnce sync.Once
)

// InitMetrics initializes Prometheus metrics
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpRequestsTotal,
			httpRequestDuration,
			framesTotal,
			framesDropped,
			lockRequestsTotal,
			locksHeld,
			historyWriteFailures,
			activeConnections,
			activeRooms,
			memoryUsage,
			goroutines,
		)

		go collectSystemMetrics()
	})
}

// MetricsHandler returns an HTTP handler for Prometheus metrics
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records HTTP request metrics
func RecordHTTPRequest(method, path, status string, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordFrame records one socket frame. Direction is "in" or "out".
func RecordFrame(direction, frameType string) {
	framesTotal.WithLabelValues(direction, frameType).Inc()
}

// RecordFrameDropped records an outbound frame dropped on a full send buffer
func RecordFrameDropped() {
	framesDropped.Inc()
}

// RecordLockRequest records a lock request outcome: "granted", "refreshed", or "denied"
func RecordLockRequest(result string) {
	lockRequestsTotal.WithLabelValues(result).Inc()
}

// LockAcquired increments the held-locks gauge
func LockAcquired() {
	locksHeld.Inc()
}

// LockReleased decrements the held-locks gauge
func LockReleased() {
	locksHeld.Dec()
}

// LocksRestored counts locks reloaded from a durable snapshot into the
// held-locks gauge, so their eventual release does not drive it negative
func LocksRestored(count int) {
	locksHeld.Add(float64(count))
}

// RecordHistoryWriteFailure records a failed best-effort history write
func RecordHistoryWriteFailure(op string) {
	historyWriteFailures.WithLabelValues(op).Inc()
}

// ConnectionOpened increments the active connections gauge
func ConnectionOpened() {
	activeConnections.Inc()
}

// ConnectionClosed decrements the active connections gauge
func ConnectionClosed() {
	activeConnections.Dec()
}

// SetActiveRooms sets the live coordinator gauge
func SetActiveRooms(count int) {
	activeRooms.Set(float64(count))
}

// collectSystemMetrics periodically refreshes process-level gauges
func collectSystemMetrics() {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		var m runtime.MemStats
		runtime.ReadMemStats(&m)
		memoryUsage.Set(float64(m.Alloc))
		goroutines.Set(float64(runtime.NumGoroutine()))
	}
}

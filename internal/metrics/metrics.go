// Package metrics provides Prometheus instrumentation for the position engine.
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
	// OperationsTotal counts completed engine operations by kind.
	OperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "posengine_operations_total",
		Help: "Total engine operations completed",
	}, []string{"kind"})

	// OperationsRejected counts operations rejected before any state change.
	OperationsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "posengine_operations_rejected_total",
		Help: "Operations rejected by validation, auth, or risk checks",
	}, []string{"kind"})

	// LoopIterations observes how many borrow-swap-supply iterations each
	// build took before terminating.
	LoopIterations = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "posengine_loop_iterations",
		Help:    "Leverage loop iterations per build",
		Buckets: []float64{0, 1, 2, 3, 4, 5, 7, 10, 15},
	})

	// HealthFactor tracks the position's health factor after each operation.
	HealthFactor = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "posengine_health_factor",
		Help: "Current position health factor",
	})

	// NetAssetValue tracks the position's net asset value.
	NetAssetValue = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "posengine_net_asset_value",
		Help: "Current net asset value in pool value units",
	})

	// TotalUnits tracks outstanding ownership units.
	TotalUnits = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "posengine_total_units",
		Help: "Outstanding ownership units",
	})

	// DebtRepaid accumulates debt repaid by rebalancing.
	DebtRepaid = promauto.NewCounter(prometheus.CounterOpts{
		Name: "posengine_rebalance_debt_repaid_total",
		Help: "Cumulative debt value repaid by the rebalancer",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "posengine_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "posengine_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "posengine_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the raw path for the label; the API surface is small enough
		// that cardinality stays bounded.
		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

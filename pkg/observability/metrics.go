package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPRequestSize     *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec
	HTTPThrottledTotal  prometheus.Counter

	// Store metrics
	StoreCommandsTotal   *prometheus.CounterVec
	StoreCommandDuration *prometheus.HistogramVec
	StoreReconnectsTotal prometheus.Counter
	StoreFallbackTotal   prometheus.Counter
	StoreState           prometheus.Gauge

	// Authorization metrics
	AuthzChecksTotal *prometheus.CounterVec
	TokenCacheHits   prometheus.Counter
	TokenCacheMisses prometheus.Counter

	// Directory metrics
	RolesCreatedTotal prometheus.Counter
	RolesTotal        prometheus.Gauge
	TenantsTotal      prometheus.Gauge
	SeedReloadsTotal  *prometheus.CounterVec
	SweepRepairsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		// HTTP metrics
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "curator_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "curator_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		HTTPRequestSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "curator_http_request_size_bytes",
				Help:    "HTTP request size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "path"},
		),
		HTTPResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "curator_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "path"},
		),
		HTTPThrottledTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "curator_http_throttled_total",
				Help: "Total number of requests rejected by the rate limiter",
			},
		),

		// Store metrics
		StoreCommandsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "curator_store_commands_total",
				Help: "Total number of store commands by backend and outcome",
			},
			[]string{"command", "backend", "status"},
		),
		StoreCommandDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "curator_store_command_duration_seconds",
				Help:    "Store command duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"command"},
		),
		StoreReconnectsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "curator_store_reconnects_total",
				Help: "Total number of successful store reconnects",
			},
		),
		StoreFallbackTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "curator_store_fallback_total",
				Help: "Total number of failovers to the in-memory engine",
			},
		),
		StoreState: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "curator_store_state",
				Help: "Store connection state (0=disconnected 1=connecting 2=connected 3=reconnecting 4=failed)",
			},
		),

		// Authorization metrics
		AuthzChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "curator_authz_checks_total",
				Help: "Total number of authorization checks by decision",
			},
			[]string{"decision"},
		),
		TokenCacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "curator_token_cache_hits_total",
				Help: "Total number of token verification cache hits",
			},
		),
		TokenCacheMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "curator_token_cache_misses_total",
				Help: "Total number of token verification cache misses",
			},
		),

		// Directory metrics
		RolesCreatedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "curator_roles_created_total",
				Help: "Total number of roles created",
			},
		),
		RolesTotal: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "curator_roles_total",
				Help: "Total number of roles in the directory",
			},
		),
		TenantsTotal: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "curator_tenants_total",
				Help: "Total number of tenants in the directory",
			},
		),
		SeedReloadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "curator_seed_reloads_total",
				Help: "Total number of seed file reloads",
			},
			[]string{"status"},
		),
		SweepRepairsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "curator_sweep_repairs_total",
				Help: "Total number of directory repairs by kind",
			},
			[]string{"kind"},
		),
	}

	// Register all metrics
	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestSize,
		m.HTTPResponseSize,
		m.HTTPThrottledTotal,
		m.StoreCommandsTotal,
		m.StoreCommandDuration,
		m.StoreReconnectsTotal,
		m.StoreFallbackTotal,
		m.StoreState,
		m.AuthzChecksTotal,
		m.TokenCacheHits,
		m.TokenCacheMisses,
		m.RolesCreatedTotal,
		m.RolesTotal,
		m.TenantsTotal,
		m.SeedReloadsTotal,
		m.SweepRepairsTotal,
	)

	return m
}

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Wrap response writer to capture status and size
			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			// Record request size
			if r.ContentLength > 0 {
				metrics.HTTPRequestSize.WithLabelValues(r.Method, r.URL.Path).Observe(float64(r.ContentLength))
			}

			// Serve the request
			next.ServeHTTP(rw, r)

			// Record metrics
			duration := time.Since(start).Seconds()
			status := strconv.Itoa(rw.statusCode)

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(duration)
			metrics.HTTPResponseSize.WithLabelValues(r.Method, r.URL.Path).Observe(float64(rw.bytesWritten))
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}

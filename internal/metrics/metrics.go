// Package metrics provides Prometheus instrumentation for the ORO reputation service.
package metrics

import (
	"context"
	"database/sql"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Scoring paths used as the "path" label on score metrics.
const (
	PathFull        = "full"
	PathHighRisk    = "high_risk"
	PathBlacklisted = "blacklisted"
	PathInvalid     = "invalid"
	PathFallback    = "fallback"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "oro",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "oro",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// ScoresTotal counts scoring outcomes by pipeline path and resulting tier.
	ScoresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "oro",
			Name:      "scores_total",
			Help:      "Total wallet scores computed by pipeline path and tier.",
		},
		[]string{"path", "tier"},
	)

	// ScoreDuration observes end-to-end scoring latency by path.
	ScoreDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "oro",
			Name:      "score_duration_seconds",
			Help:      "Wallet scoring duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25, 30},
		},
		[]string{"path"},
	)

	// RiskLevelTotal counts risk verdicts by level.
	RiskLevelTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "oro",
			Name:      "risk_level_total",
			Help:      "Total risk verdicts by level.",
		},
		[]string{"level"},
	)

	// ProviderErrorsTotal counts failed chain provider calls by RPC method.
	ProviderErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "oro",
			Name:      "provider_errors_total",
			Help:      "Total failed chain provider calls by RPC method.",
		},
		[]string{"method"},
	)

	// ProviderCallDuration observes chain provider latency by RPC method,
	// retries included.
	ProviderCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "oro",
			Name:      "provider_call_duration_seconds",
			Help:      "Chain provider call duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// BlockTimeCacheTotal counts block timestamp lookups by result (hit, miss).
	BlockTimeCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "oro",
			Name:      "block_time_cache_total",
			Help:      "Block timestamp cache lookups by result.",
		},
		[]string{"result"},
	)

	// WalletRefreshTotal counts background refreshes by result.
	WalletRefreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "oro",
			Name:      "wallet_refresh_total",
			Help:      "Total background wallet refreshes by result.",
		},
		[]string{"result"},
	)

	// TrackedWallets tracks the number of wallets in the store, sampled by the refresh worker.
	TrackedWallets = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "oro",
			Name:      "tracked_wallets",
			Help:      "Number of wallets with a stored score.",
		},
	)

	// RateLimitedTotal counts requests rejected by the rate limiter.
	RateLimitedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "oro",
			Name:      "rate_limited_requests_total",
			Help:      "Total requests rejected with 429.",
		},
	)

	// ActiveWebSocketClients tracks connected WebSocket clients.
	ActiveWebSocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "oro",
			Name:      "active_websocket_clients",
			Help:      "Number of currently connected WebSocket clients.",
		},
	)

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "oro", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBIdleConnections tracks idle database connections.
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "oro", Name: "db_idle_connections",
		Help: "Number of idle database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "oro", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// DBWaitCount tracks the total number of connections waited for.
	DBWaitCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "oro", Name: "db_wait_count_total",
		Help: "Total number of connections waited for.",
	})
	// DBWaitDuration tracks total time waited for connections.
	DBWaitDuration = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "oro", Name: "db_wait_duration_seconds_total",
		Help: "Total time waited for connections in seconds.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "oro", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		ScoresTotal,
		ScoreDuration,
		RiskLevelTotal,
		ProviderErrorsTotal,
		ProviderCallDuration,
		BlockTimeCacheTotal,
		WalletRefreshTotal,
		TrackedWallets,
		RateLimitedTotal,
		ActiveWebSocketClients,
		DBOpenConnections,
		DBIdleConnections,
		DBInUseConnections,
		DBWaitCount,
		DBWaitDuration,
		GoroutineCount,
	)
}

// ObserveScore records one scoring outcome.
func ObserveScore(path, tier string, started time.Time) {
	ScoresTotal.WithLabelValues(path, tier).Inc()
	ScoreDuration.WithLabelValues(path).Observe(time.Since(started).Seconds())
}

// ObserveProviderCall records the latency of a chain provider call and
// counts it as an error when err is non-nil.
func ObserveProviderCall(method string, started time.Time, err error) {
	ProviderCallDuration.WithLabelValues(method).Observe(time.Since(started).Seconds())
	if err != nil {
		ProviderErrorsTotal.WithLabelValues(method).Inc()
	}
}

// StartDBStatsCollector periodically samples sql.DBStats and runtime goroutine
// count into Prometheus gauges. Call in a goroutine; exits when ctx is done.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			DBOpenConnections.Set(float64(stats.OpenConnections))
			DBIdleConnections.Set(float64(stats.Idle))
			DBInUseConnections.Set(float64(stats.InUse))
			DBWaitCount.Set(float64(stats.WaitCount))
			DBWaitDuration.Set(stats.WaitDuration.Seconds())
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // route pattern keeps wallet addresses out of the label set
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
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

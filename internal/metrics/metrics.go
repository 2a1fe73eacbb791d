package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LoginsTotal counts login attempts by outcome
	LoginsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kvmd_client_logins_total",
		Help: "Total number of login attempts against kvmd devices",
	}, []string{"outcome"}) // "success" or "failure"

	// SecondFactorRetriesTotal counts operations retried after a code-window expiry
	SecondFactorRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kvmd_client_second_factor_retries_total",
		Help: "Total number of operations retried with a refreshed one-time code",
	})

	// TOTPCodesGeneratedTotal counts freshly generated one-time codes
	TOTPCodesGeneratedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kvmd_client_totp_codes_generated_total",
		Help: "Total number of one-time codes generated",
	})

	// TOTPCacheHitsTotal counts one-time codes served from cache
	TOTPCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kvmd_client_totp_cache_hits_total",
		Help: "Total number of one-time codes served from the code cache",
	})

	// PoolSize tracks the number of pooled device connections
	PoolSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kvmd_client_pool_size",
		Help: "Current number of pooled device connections",
	})

	// ConnectionsEvictedTotal counts idle connections removed by the sweep
	ConnectionsEvictedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kvmd_client_connections_evicted_total",
		Help: "Total number of idle connections evicted from the pool",
	})

	// RequestDuration tracks device API call latency
	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "kvmd_client_request_duration_seconds",
		Help:    "Device API request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method"}) // "GET" or "POST"
)

// RecordLogin records a login attempt outcome
func RecordLogin(success bool) {
	if success {
		LoginsTotal.WithLabelValues("success").Inc()
	} else {
		LoginsTotal.WithLabelValues("failure").Inc()
	}
}

// RecordRequestDuration records device API call duration
func RecordRequestDuration(method string, seconds float64) {
	RequestDuration.WithLabelValues(method).Observe(seconds)
}

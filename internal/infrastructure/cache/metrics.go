package cache

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	metricsOnce sync.Once

	cacheRequestsTotal  *prometheus.CounterVec
	cacheOpDuration     *prometheus.HistogramVec
	cacheFallbackLevel  prometheus.Gauge
	cacheGateOpen       *prometheus.GaugeVec
	cacheForceEnableTot prometheus.Counter
)

// initMetrics registers the cache collectors on the default registerer.
// Registration is idempotent so multiple services share the collectors.
func initMetrics() {
	metricsOnce.Do(func() {
		cacheRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cache_requests_total",
			Help: "Cache operations by op and outcome",
		}, []string{"op", "outcome"}) // outcome: hit|miss|ok|error

		cacheOpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cache_op_duration_seconds",
			Help:    "Latency of backing store operations",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"})

		cacheFallbackLevel = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cache_fallback_level",
			Help: "Current TTL ladder level (0 = healthy base)",
		})

		cacheGateOpen = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cache_gate_open",
			Help: "Availability gate per protected class (1 open, 0 closed)",
		}, []string{"class"})

		cacheForceEnableTot = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cache_force_enable_total",
			Help: "Administrative gate overrides",
		})

		registerCollector(cacheRequestsTotal)
		registerCollector(cacheOpDuration)
		registerCollector(cacheFallbackLevel)
		registerCollector(cacheGateOpen)
		registerCollector(cacheForceEnableTot)
	})
}

func registerCollector(collector prometheus.Collector) {
	if err := prometheus.DefaultRegisterer.Register(collector); err != nil {
		if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return
		}
		panic(err)
	}
}

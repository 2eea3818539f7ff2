package mediator

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	metricsOnce sync.Once

	mediatorRequestsTotal *prometheus.CounterVec
	mediatorDuration      *prometheus.HistogramVec
	mediatorQueryCache    *prometheus.CounterVec
)

// initMetrics registers the dispatch collectors on the default
// registerer. Registration is idempotent so tests can build as many
// mediators as they like.
func initMetrics() {
	metricsOnce.Do(func() {
		mediatorRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mediator_requests_total",
			Help: "Dispatched requests by kind, type and outcome",
		}, []string{"kind", "request", "outcome"}) // outcome: ok|error|no_handler

		mediatorDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mediator_request_duration_seconds",
			Help:    "Dispatch latency including middleware",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind", "request"})

		mediatorQueryCache = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mediator_query_cache_total",
			Help: "Read-through outcomes for cacheable queries",
		}, []string{"outcome"}) // outcome: hit|miss

		registerCollector(mediatorRequestsTotal)
		registerCollector(mediatorDuration)
		registerCollector(mediatorQueryCache)
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

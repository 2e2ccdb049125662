package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	hitCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "firelater_cache_hits_total",
		Help: "Number of cache reads served from the cache.",
	}, nil)
	missCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "firelater_cache_misses_total",
		Help: "Number of cache reads that fell through to a loader.",
	}, nil)
	degradedCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "firelater_cache_degraded_reads_total",
		Help: "Number of reads served from the source of truth because the cache was unreachable.",
	}, nil)
	invalidationCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "firelater_cache_invalidations_total",
		Help: "Number of post-commit cache invalidations.",
	}, nil)
)

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fenceapi_requests_total",
		Help: "Total number of API requests",
	}, []string{"endpoint"})
	RequestDurationMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fenceapi_request_duration_ms",
		Help:    "Request duration in milliseconds",
		Buckets: []float64{1, 5, 10, 20, 50, 100, 200, 500, 1000, 5000},
	}, []string{"endpoint"})
	LocalCacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fenceapi_local_cache_hits_total",
		Help: "Total local tier cache hits",
	})
	LocalCacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fenceapi_local_cache_misses_total",
		Help: "Total local tier cache misses",
	})
	SharedCacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fenceapi_shared_cache_hits_total",
		Help: "Total shared tier (redis) cache hits",
	})
	SharedCacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fenceapi_shared_cache_misses_total",
		Help: "Total shared tier (redis) cache misses",
	})
	CacheInvalidationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fenceapi_cache_invalidations_total",
		Help: "Total coarse cache invalidations after fence mutations",
	})
	FenceOpsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fenceapi_fence_ops_total",
		Help: "Total fence lifecycle operations by type and outcome",
	}, []string{"op", "outcome"})
	OverlapDetectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fenceapi_overlap_detections_total",
		Help: "Total overlap detection runs",
	})
	OverlapPairsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fenceapi_overlap_pairs_total",
		Help: "Total overlap pairs recorded",
	})
	SlowQueriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fenceapi_slow_queries_total",
		Help: "Queries exceeding the slow query threshold",
	}, []string{"layer"})
	GeocodeRequestsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fenceapi_geocode_requests_total",
		Help: "Total outbound geocoding requests",
	})
	GeocodeFailTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fenceapi_geocode_fail_total",
		Help: "Total geocoding failures after retries",
	})
	GeocodeDurationMs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "fenceapi_geocode_duration_ms",
		Help:    "Geocoding call duration in milliseconds",
		Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000},
	})
)

func init() {
	prometheus.MustRegister(RequestsTotal)
	prometheus.MustRegister(RequestDurationMs)
	prometheus.MustRegister(LocalCacheHitsTotal)
	prometheus.MustRegister(LocalCacheMissesTotal)
	prometheus.MustRegister(SharedCacheHitsTotal)
	prometheus.MustRegister(SharedCacheMissesTotal)
	prometheus.MustRegister(CacheInvalidationsTotal)
	prometheus.MustRegister(FenceOpsTotal)
	prometheus.MustRegister(OverlapDetectionsTotal)
	prometheus.MustRegister(OverlapPairsTotal)
	prometheus.MustRegister(SlowQueriesTotal)
	prometheus.MustRegister(GeocodeRequestsTotal)
	prometheus.MustRegister(GeocodeFailTotal)
	prometheus.MustRegister(GeocodeDurationMs)
}

// 文档注释：返回 Prometheus 指标监听器
// 背景：统一暴露注册指标到 /metrics 路径，供 Prometheus 抓取；在主入口挂载。
func Handler() http.Handler { return promhttp.Handler() }

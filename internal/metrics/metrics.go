package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var durationBuckets = []float64{1, 5, 10, 20, 50, 100, 200, 500, 1000, 5000, 30000}

var (
	RequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "latlon_requests_total",
		Help: "Total number of HTTP lookup requests",
	}, []string{"route", "status"})
	RequestDurationMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "latlon_request_duration_ms",
		Help:    "HTTP lookup request duration in milliseconds",
		Buckets: durationBuckets,
	}, []string{"route"})
	LookupsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "latlon_lookups_total",
		Help: "Total number of points looked up",
	}, []string{"kind"})
	LookupDurationMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "latlon_lookup_duration_ms",
		Help:    "Batch lookup duration in milliseconds",
		Buckets: durationBuckets,
	}, []string{"kind"})
	UnknownCountryTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "latlon_country_unknown_total",
		Help: "Total number of points outside every country polygon",
	})
	DownloadsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "latlon_downloads_total",
		Help: "Total dataset downloads by outcome",
	}, []string{"dataset", "outcome"})
	DownloadBytesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "latlon_download_bytes_total",
		Help: "Total bytes downloaded",
	}, []string{"dataset"})
	DownloadDurationMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "latlon_download_duration_ms",
		Help:    "Dataset acquisition duration in milliseconds",
		Buckets: durationBuckets,
	}, []string{"dataset"})
	CacheHitsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "latlon_cache_hits_total",
		Help: "Total cache hits by layer",
	}, []string{"layer"})
	CacheMissesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "latlon_cache_misses_total",
		Help: "Total cache misses by layer",
	}, []string{"layer"})
	RateLimitedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "latlon_rate_limited_total",
		Help: "Total requests rejected by the rate limiter",
	})
)

func init() {
	prometheus.MustRegister(RequestsTotal)
	prometheus.MustRegister(RequestDurationMs)
	prometheus.MustRegister(LookupsTotal)
	prometheus.MustRegister(LookupDurationMs)
	prometheus.MustRegister(UnknownCountryTotal)
	prometheus.MustRegister(DownloadsTotal)
	prometheus.MustRegister(DownloadBytesTotal)
	prometheus.MustRegister(DownloadDurationMs)
	prometheus.MustRegister(CacheHitsTotal)
	prometheus.MustRegister(CacheMissesTotal)
	prometheus.MustRegister(RateLimitedTotal)
}

func Handler() http.Handler { return promhttp.Handler() }

// WriteTextfile：以 node_exporter textfile 格式导出当前指标，供一次性 CLI 使用
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}

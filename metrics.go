package reproject

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	reprojections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reproject_operations_total",
		Help: "The total number of reprojections, by result",
	}, []string{"result"})
	bandsWarped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reproject_bands_warped_total",
		Help: "The total number of bands warped",
	})
	reprojectionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "reproject_duration_seconds",
		Help:    "The duration of reprojections",
		Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
	})
	tileCacheLookups = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reproject_tile_cache_lookups_total",
		Help: "The total number of lookups in GeoTIFF tile caches",
	})
	tileCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reproject_tile_cache_misses_total",
		Help: "The total number of misses on GeoTIFF tile caches",
	})
	rasterCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reproject_raster_cache_hits_total",
		Help: "The total number of hits on the sampler's raster cache",
	})
	rasterCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reproject_raster_cache_misses_total",
		Help: "The total number of misses on the sampler's raster cache",
	})
	rasterCacheEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reproject_raster_cache_evictions_total",
		Help: "The total number of evictions from the sampler's raster cache",
	})
)

// WriteMetrics writes the default registry's metrics to filename in the text
// exposition format, for collection by node_exporter's textfile collector.
func WriteMetrics(filename string) error {
	return prometheus.WriteToTextfile(filename, prometheus.DefaultGatherer)
}

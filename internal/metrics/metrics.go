// Package metrics exposes Prometheus counters for the printer caches and
// print jobs.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Cache names used as the "cache" label.
const (
	CacheDiscovery = "discovery"
	CacheDefault   = "default_printer"
	CacheStatus    = "status"
	CacheFastPath  = "fast_path"
)

// Print job results used as the "result" label.
const (
	JobPrinted  = "printed"
	JobFailed   = "failed"
	JobOffline  = "offline"
	JobRejected = "rejected"
)

var (
	cacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "printerd_cache_hits_total",
		Help: "Cache lookups answered without an OS query",
	}, []string{"cache"})

	cacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "printerd_cache_misses_total",
		Help: "Cache lookups that required an OS query",
	}, []string{"cache"})

	osQueries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "printerd_os_queries_total",
		Help: "External printer queries by kind and outcome",
	}, []string{"kind", "outcome"})

	printJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "printerd_print_jobs_total",
		Help: "Print requests by result",
	}, []string{"result"})
)

// CacheHit records a hit on the named cache.
func CacheHit(cache string) { cacheHits.WithLabelValues(cache).Inc() }

// CacheMiss records a miss on the named cache.
func CacheMiss(cache string) { cacheMisses.WithLabelValues(cache).Inc() }

// OSQuery records an external query. ok=false means the query failed.
func OSQuery(kind string, ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	osQueries.WithLabelValues(kind, outcome).Inc()
}

// PrintJob records a print request result, one of the Job* labels.
func PrintJob(result string) { printJobs.WithLabelValues(result).Inc() }

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors for the feed loader.
type Metrics struct {
	reg prometheus.Gatherer

	// Load outcomes: loaded, dropped, skipped, failed
	LoadsTotal *prometheus.CounterVec
	// Items served from the cache vs the remote source
	ItemsTotal *prometheus.CounterVec
	// Remote pages fetched, by result kind
	RemotePagesTotal *prometheus.CounterVec
	// Cache reads that failed and were treated as empty
	CacheReadErrors prometheus.Counter
	// Writes through to the cache that failed
	CacheWriteErrors prometheus.Counter
	// Daily cache resets performed
	CachePurgesTotal prometheus.Counter
	LoadDuration     prometheus.Histogram
	FeedItems        prometheus.Gauge
}

// New registers the collectors with reg.
func New(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		reg: reg,
		LoadsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "headlines_loads_total",
				Help: "Total number of feed load requests by outcome",
			},
			[]string{"direction", "outcome"},
		),
		ItemsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "headlines_items_total",
				Help: "Total number of feed items gathered by origin",
			},
			[]string{"origin"},
		),
		RemotePagesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "headlines_remote_pages_total",
				Help: "Total number of remote page fetches by result",
			},
			[]string{"result"},
		),
		CacheReadErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "headlines_cache_read_errors_total",
				Help: "Cache page reads that failed and were served from the network instead",
			},
		),
		CacheWriteErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "headlines_cache_write_errors_total",
				Help: "Write-through cache writes that failed",
			},
		),
		CachePurgesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "headlines_cache_purges_total",
				Help: "Daily cache resets performed",
			},
		),
		LoadDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "headlines_load_duration_seconds",
				Help:    "Duration of feed loads that did work",
				Buckets: prometheus.DefBuckets,
			},
		),
		FeedItems: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "headlines_feed_items",
				Help: "Number of items currently held by the loader",
			},
		),
	}
}

// NewDefault registers against a fresh registry, mostly for tests.
func NewDefault() *Metrics {
	return New(prometheus.NewRegistry())
}

// Handler serves the registered collectors.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Package metrics exposes the pipeline's hook events as Prometheus metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/unkn0wn-root/ridemap"
	"github.com/unkn0wn-root/ridemap/tile"
)

var (
	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ridemap_cache_hits_total",
		Help: "Total number of in-memory tile cache hits",
	})

	cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ridemap_cache_misses_total",
		Help: "Total number of in-memory tile cache misses",
	})

	tilesFetched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ridemap_tiles_fetched_total",
		Help: "Total number of tiles fetched from the tile server",
	})

	fetchBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ridemap_fetch_bytes_total",
		Help: "Total tile payload bytes fetched from the tile server",
	})

	fetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ridemap_fetch_duration_seconds",
		Help:    "Duration of tile server requests in seconds",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
	})

	tileFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ridemap_tile_failures_total",
		Help: "Total number of terminal tile failures",
	}, []string{"kind"})

	tileEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ridemap_tile_evictions_total",
		Help: "Total number of tiles evicted from the in-memory cache",
	})

	storeWriteErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ridemap_store_write_errors_total",
		Help: "Total number of byte store write failures",
	})

	tilesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ridemap_tiles_dropped_total",
		Help: "Total number of ready tiles dropped on a full renderer sink",
	})
)

// Hooks is a ridemap.Hooks implementation backed by the default Prometheus
// registry.
type Hooks struct{}

var _ ridemap.Hooks = Hooks{}

func (Hooks) CacheHit(tile.Key)  { cacheHits.Inc() }
func (Hooks) CacheMiss(tile.Key) { cacheMisses.Inc() }

func (Hooks) TileFetched(_ tile.Key, bytes int, took time.Duration) {
	tilesFetched.Inc()
	fetchBytes.Add(float64(bytes))
	fetchDuration.Observe(took.Seconds())
}

func (Hooks) TileFailed(_ tile.Key, kind tile.FailKind) {
	tileFailures.WithLabelValues(kind.String()).Inc()
}

func (Hooks) TileEvicted(tile.Key) { tileEvictions.Inc() }

func (Hooks) StoreWriteFailed(tile.Key, error) { storeWriteErrors.Inc() }

func (Hooks) TileDropped(tile.Key) { tilesDropped.Inc() }

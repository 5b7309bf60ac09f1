// Package ridemap implements the tile acquisition and caching pipeline of an
// interactive slippy-map viewer: an asynchronous, multi-level, deduplicated,
// speculative fetcher/cache that turns a viewport description into a stream
// of ready-to-draw tile rasters.
//
// Components:
//   - tile: keys, provider configuration, viewport geometry, demand planner.
//   - store: encoded-tile byte stores (disk by default; Redis, SQLite,
//     BigCache and Ristretto variants).
//   - fetch: bounded-concurrency HTTP client.
//   - raster: PNG decode pool and the shared raster type.
//   - memcache: single-flight in-memory cache with LRU eviction under a
//     byte budget.
//
// The Pipeline in this package drives them: the renderer publishes viewports
// via PublishViewport and consumes ReadyTile messages from Subscribe; misses
// flow disk -> network -> decode -> memory:
//
//	GetOrPend ──Hit──────────────────────────────────▶ ReadyTile
//	    └─Miss─▶ store.Load ─miss─▶ fetch ─▶ store.Store (best effort)
//	                  └────hit────────┴─▶ decode ─▶ Complete ─▶ waiters
package ridemap

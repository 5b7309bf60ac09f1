package ridemap

import (
	"time"

	"github.com/unkn0wn-root/ridemap/tile"
)

// Hooks are lightweight callbacks for high-signal pipeline events.
// Implementations MUST be cheap and non-blocking; the pipeline calls them on
// hot paths. The metrics subpackage provides a Prometheus implementation.
type Hooks interface {
	// A demanded tile was resident in memory.
	CacheHit(key tile.Key)

	// A demanded tile was absent; a fetch chain starts.
	CacheMiss(key tile.Key)

	// A tile arrived from the network.
	TileFetched(key tile.Key, bytes int, took time.Duration)

	// A tile chain ended in a terminal failure.
	TileFailed(key tile.Key, kind tile.FailKind)

	// A Ready tile was evicted to honor the byte budget.
	TileEvicted(key tile.Key)

	// A byte-store write failed; the raster was still delivered.
	StoreWriteFailed(key tile.Key, err error)

	// A ReadyTile was dropped because the renderer sink was full and the key
	// had left the demand set.
	TileDropped(key tile.Key)
}

// NopHooks is the default no-op.
type NopHooks struct{}

func (NopHooks) CacheHit(tile.Key)                        {}
func (NopHooks) CacheMiss(tile.Key)                       {}
func (NopHooks) TileFetched(tile.Key, int, time.Duration) {}
func (NopHooks) TileFailed(tile.Key, tile.FailKind)       {}
func (NopHooks) TileEvicted(tile.Key)                     {}
func (NopHooks) StoreWriteFailed(tile.Key, error)         {}
func (NopHooks) TileDropped(tile.Key)                     {}

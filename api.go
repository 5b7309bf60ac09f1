package ridemap

import (
	"net/http"
	"time"

	"github.com/unkn0wn-root/ridemap/raster"
	"github.com/unkn0wn-root/ridemap/store"
	"github.com/unkn0wn-root/ridemap/tile"
)

// ReadyTile is a decoded tile published to the renderer. The raster is
// shared with the in-memory cache; holders keep it alive past eviction.
type ReadyTile struct {
	Key    tile.Key
	Raster *raster.Raster
}

// Options tune the pipeline. Only Provider is required; everything else has
// working defaults.
type Options struct {
	// Required. The tile service to pull from.
	Provider *tile.Provider

	// Store persists encoded tiles between runs. Nil selects the disk store
	// rooted at CacheDir.
	Store store.Store
	// CacheDir roots the default disk store. Empty means the user cache
	// directory.
	CacheDir string

	Logger Logger // nil => NopLogger
	Hooks  Hooks  // nil => NopHooks

	// ParallelRequests is the HTTP semaphore width. 0 => 4.
	ParallelRequests int
	// MaxTileLevel caps the zoom. 0 => 18.
	MaxTileLevel uint32
	// MaxPixelsPerTile is the planner oversampling threshold. 0 => 256.
	MaxPixelsPerTile int
	// SpeculativeTileLoad enables priority-1 and priority-2 demand.
	SpeculativeTileLoad bool
	// LazyUIRefresh skips replanning when a published viewport equals the
	// previous one.
	LazyUIRefresh bool
	// MemBudgetBytes caps resident raster bytes. 0 => 256 MiB.
	MemBudgetBytes int64
	// FailCooldown retains memoized failures. 0 => 30s.
	FailCooldown time.Duration
	// RequestTimeout is the per-request HTTP deadline. 0 => 30s.
	RequestTimeout time.Duration
	// AllowOrphan keeps producers running for cache warmth after their last
	// waiter drops.
	AllowOrphan bool
	// SinkDepth is the renderer channel depth. When the channel is full,
	// tiles that left the demand set are dropped; demanded tiles block the
	// delivering goroutine. 0 => 64.
	SinkDepth int
	// DecodeWorkers sizes the PNG decode pool. 0 => CPU count, capped at 4.
	DecodeWorkers int

	// HTTPClient overrides the fetch transport, mainly for tests.
	HTTPClient *http.Client
}

// New builds and starts a pipeline.
func New(opts Options) (*Pipeline, error) {
	return newPipeline(opts)
}

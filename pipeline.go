package ridemap

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/unkn0wn-root/ridemap/fetch"
	"github.com/unkn0wn-root/ridemap/memcache"
	"github.com/unkn0wn-root/ridemap/raster"
	"github.com/unkn0wn-root/ridemap/store"
	"github.com/unkn0wn-root/ridemap/tile"
)

// Pipeline is the orchestrator: it accepts viewport updates, schedules tile
// work across the byte store, the HTTP client, the decode pool and the
// in-memory cache, and delivers ready tiles to the single subscriber.
type Pipeline struct {
	provider *tile.Provider
	store    store.Store
	fetcher  *fetch.Client
	decoder  *raster.Decoder
	cache    *memcache.Cache
	log      Logger
	hooks    Hooks

	planCfg     tile.PlanConfig
	lazy        bool
	allowOrphan bool
	sinkDepth   int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// wake coalesces viewport updates and chain completions into one
	// scheduling signal.
	wake chan struct{}

	mu       sync.Mutex
	vp       tile.Viewport
	hasVP    bool
	closed   bool
	sink     chan ReadyTile
	demand   map[tile.Key]int
	inflight map[tile.Key]*memcache.Waiter

	// chains bounds outstanding miss-driven chains; wider than the HTTP
	// semaphore so decodes pipeline behind fetches.
	chains *semaphore.Weighted
}

func newPipeline(opts Options) (*Pipeline, error) {
	if opts.Provider == nil {
		return nil, errors.New("ridemap: provider is required")
	}

	parallel := coalesce(opts.ParallelRequests, 4)
	st := opts.Store
	if st == nil {
		root := opts.CacheDir
		if root == "" {
			base, err := os.UserCacheDir()
			if err != nil {
				return nil, err
			}
			root = filepath.Join(base, "ridemap", "tiles")
		}
		var err error
		st, err = store.NewDisk(root, opts.Provider)
		if err != nil {
			return nil, err
		}
	}

	p := &Pipeline{
		provider: opts.Provider,
		store:    st,
		log:      coalesce[Logger](opts.Logger, NopLogger{}),
		hooks:    coalesce[Hooks](opts.Hooks, NopHooks{}),
		planCfg: tile.PlanConfig{
			MaxTileLevel:     coalesce[uint32](opts.MaxTileLevel, 18),
			MaxPixelsPerTile: coalesce(opts.MaxPixelsPerTile, 256),
			Speculative:      opts.SpeculativeTileLoad,
		},
		lazy:        opts.LazyUIRefresh,
		allowOrphan: opts.AllowOrphan,
		sinkDepth:   coalesce(opts.SinkDepth, 64),
		wake:        make(chan struct{}, 1),
		demand:      make(map[tile.Key]int),
		inflight:    make(map[tile.Key]*memcache.Waiter),
		chains:      semaphore.NewWeighted(int64(parallel) * 2),
	}
	p.fetcher = fetch.New(fetch.Config{
		Provider:   opts.Provider,
		Parallel:   int64(parallel),
		Timeout:    opts.RequestTimeout,
		HTTPClient: opts.HTTPClient,
	})
	p.decoder = raster.NewDecoder(opts.DecodeWorkers)
	p.cache = memcache.New(memcache.Config{
		BudgetBytes:  opts.MemBudgetBytes,
		FailCooldown: opts.FailCooldown,
		AllowOrphan:  opts.AllowOrphan,
	})

	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.wg.Add(1)
	go p.loop()
	return p, nil
}

// PublishViewport replaces the last-known viewport and wakes the scheduling
// loop. The viewport is never mutated by the pipeline.
func (p *Pipeline) PublishViewport(v tile.Viewport) {
	p.mu.Lock()
	if p.closed || (p.lazy && p.hasVP && v == p.vp) {
		p.mu.Unlock()
		return
	}
	p.vp = v
	p.hasVP = true
	p.mu.Unlock()
	p.wakeUp()
}

// Subscribe registers the renderer's ready-tile sink. At most one subscriber
// is active at a time.
func (p *Pipeline) Subscribe() (<-chan ReadyTile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrClosed
	}
	if p.sink != nil {
		return nil, ErrSubscribed
	}
	p.sink = make(chan ReadyTile, p.sinkDepth)
	return p.sink, nil
}

// Shutdown cancels all in-flight work, waits for it to drain, and releases
// resources. The subscriber channel is closed once drained.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	p.closed = true
	p.mu.Unlock()

	p.cancel()
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	p.decoder.Close()
	err := p.store.Close(ctx)

	p.mu.Lock()
	if p.sink != nil {
		close(p.sink)
		p.sink = nil
	}
	p.mu.Unlock()
	return err
}

func (p *Pipeline) wakeUp() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *Pipeline) loop() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-p.wake:
		}
		p.replan()
	}
}

// replan recomputes the demand set for the current viewport and walks it in
// priority order, scheduling whatever each key needs.
func (p *Pipeline) replan() {
	p.mu.Lock()
	if !p.hasVP {
		p.mu.Unlock()
		return
	}
	vp := p.vp
	p.mu.Unlock()

	demand := tile.Plan(p.provider.ID(), vp, p.planCfg)
	dm := make(map[tile.Key]int, len(demand))
	for _, d := range demand {
		dm[d.Key] = d.Priority
	}
	p.cache.SetDemand(dm)

	// Demote interest in keys that left the demand set. With orphans
	// disallowed, dropping the last waiter aborts the producer.
	p.mu.Lock()
	p.demand = dm
	var demoted []*memcache.Waiter
	for k, w := range p.inflight {
		if _, ok := dm[k]; !ok {
			demoted = append(demoted, w)
			delete(p.inflight, k)
		}
	}
	p.mu.Unlock()
	for _, w := range demoted {
		w.Drop()
	}

	if p.planCfg.Speculative {
		demand = p.deferOnDiskSpeculation(demand)
	}

	for _, d := range demand {
		select {
		case <-p.ctx.Done():
			return
		default:
		}

		p.mu.Lock()
		_, busy := p.inflight[d.Key]
		p.mu.Unlock()
		if busy {
			continue
		}

		pend := p.cache.GetOrPend(p.ctx, d.Key, d.Priority)
		switch pend.Outcome {
		case memcache.Hit:
			p.hooks.CacheHit(d.Key)
			p.deliver(d.Key, pend.Raster)
		case memcache.Failed:
			p.log.Debug("tile failure memoized", Fields{"key": d.Key.String(), "err": pend.Err})
		case memcache.Reject:
			p.log.Debug("speculative tile not admitted", Fields{"key": d.Key.String()})
		case memcache.Wait:
			p.trackWaiter(d.Key, pend.Waiter)
		case memcache.Miss:
			p.hooks.CacheMiss(d.Key)
			p.trackWaiter(d.Key, pend.Waiter)
			p.wg.Add(1)
			go p.runChain(pend.Ctx, d.Key)
		}
	}
}

// deferOnDiskSpeculation reorders speculative demand so tiles that would hit
// the network come first: a speculative tile already in the byte store is
// cheap to produce on demand and not worth prefetching ahead of one that is
// not. Required tiles keep their place.
func (p *Pipeline) deferOnDiskSpeculation(demand []tile.Demand) []tile.Demand {
	out := make([]tile.Demand, 0, len(demand))
	var onDisk []tile.Demand
	for _, d := range demand {
		if d.Priority == tile.PriorityRequired {
			out = append(out, d)
			continue
		}
		if p.store.Exists(p.ctx, d.Key) {
			onDisk = append(onDisk, d)
		} else {
			out = append(out, d)
		}
	}
	return append(out, onDisk...)
}

func (p *Pipeline) trackWaiter(key tile.Key, w *memcache.Waiter) {
	p.mu.Lock()
	p.inflight[key] = w
	p.mu.Unlock()
	p.wg.Add(1)
	go p.awaitWaiter(key, w)
}

func (p *Pipeline) untrackWaiter(key tile.Key, w *memcache.Waiter) {
	p.mu.Lock()
	if p.inflight[key] == w {
		delete(p.inflight, key)
	}
	p.mu.Unlock()
}

// awaitWaiter delivers one pending tile's outcome to the sink.
func (p *Pipeline) awaitWaiter(key tile.Key, w *memcache.Waiter) {
	defer p.wg.Done()
	select {
	case res, ok := <-w.C:
		p.untrackWaiter(key, w)
		if !ok || res.Err != nil {
			return
		}
		p.deliver(key, res.Raster)
	case <-p.ctx.Done():
		p.untrackWaiter(key, w)
		w.Drop()
	}
}

// runChain produces one missed tile: disk, then network plus best-effort
// persist, then decode, then Complete. Any terminal error lands in Fail.
func (p *Pipeline) runChain(pctx context.Context, key tile.Key) {
	defer p.wg.Done()
	defer p.wakeUp()

	if err := p.chains.Acquire(pctx, 1); err != nil {
		p.cache.Fail(key, &tile.Error{Key: key, Kind: tile.FailCancelled, Err: err})
		return
	}
	defer p.chains.Release(1)

	data, hit, err := p.store.Load(pctx, key)
	if err != nil {
		// read failure downgrades to a miss
		p.log.Warn("byte store read failed", Fields{"key": key.String(), "err": err})
		hit = false
	}
	if hit {
		p.log.Debug("tile loaded from byte store", Fields{"key": key.String(), "bytes": len(data)})
	} else {
		start := time.Now()
		data, err = p.fetcher.Fetch(pctx, key)
		if err != nil {
			p.failChain(key, err)
			return
		}
		p.hooks.TileFetched(key, len(data), time.Since(start))
		p.log.Debug("tile fetched", Fields{"key": key.String(), "bytes": len(data)})

		// best effort: the raster is still delivered when the write fails
		if serr := p.store.Store(p.ctx, key, data); serr != nil {
			p.log.Error("byte store write failed", Fields{"key": key.String(), "err": serr})
			p.hooks.StoreWriteFailed(key, serr)
		}
	}

	ras, err := p.decoder.Decode(pctx, key, data)
	if err != nil {
		p.failChain(key, err)
		return
	}

	for _, evicted := range p.cache.Complete(key, ras) {
		p.hooks.TileEvicted(evicted)
		p.log.Debug("evicted tile", Fields{"key": evicted.String()})
	}
}

func (p *Pipeline) failChain(key tile.Key, err error) {
	if kind := tile.KindOf(err); kind == tile.FailCancelled {
		p.log.Debug("tile chain cancelled", Fields{"key": key.String()})
	} else {
		p.log.Error("tile chain failed", Fields{"key": key.String(), "err": err})
		p.hooks.TileFailed(key, kind)
	}
	p.cache.Fail(key, err)
}

// deliver pushes a ready tile to the subscriber. A full sink drops tiles
// that left the demand set; demanded tiles block this goroutine, never the
// cache mutex.
func (p *Pipeline) deliver(key tile.Key, ras *raster.Raster) {
	p.mu.Lock()
	sink := p.sink
	_, demanded := p.demand[key]
	p.mu.Unlock()
	if sink == nil {
		return
	}

	rt := ReadyTile{Key: key, Raster: ras}
	select {
	case sink <- rt:
		p.cache.Touch(key)
		return
	default:
	}
	if !demanded {
		p.hooks.TileDropped(key)
		p.log.Debug("dropped ready tile on full sink", Fields{"key": key.String()})
		return
	}
	select {
	case sink <- rt:
		p.cache.Touch(key)
	case <-p.ctx.Done():
	}
}

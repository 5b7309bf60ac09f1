// Package asynchook decouples slow Hooks implementations from the pipeline's
// hot paths: events are queued and replayed on background workers, and
// dropped when the queue is full.
//
// usage:
//
//	raw := metrics.Hooks{}
//	hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
//	defer hooks.Close()
//
//	pipe, _ := ridemap.New(ridemap.Options{
//	    Provider: provider,
//	    Hooks:    hooks, // or `raw` if you don't want async
//	})
package asynchook

import (
	"sync"
	"time"

	"github.com/unkn0wn-root/ridemap"
	"github.com/unkn0wn-root/ridemap/tile"
)

type Hooks struct {
	inner ridemap.Hooks
	q     chan func()
	wg    sync.WaitGroup
	once  sync.Once
}

var _ ridemap.Hooks = (*Hooks)(nil)

func New(inner ridemap.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

func (h *Hooks) Close() {
	h.once.Do(func() {
		close(h.q)
		h.wg.Wait()
	})
}

func (h *Hooks) try(f func()) {
	select {
	case h.q <- f:
	default: // drop
	}
}

func (h *Hooks) CacheHit(k tile.Key)  { h.try(func() { h.inner.CacheHit(k) }) }
func (h *Hooks) CacheMiss(k tile.Key) { h.try(func() { h.inner.CacheMiss(k) }) }
func (h *Hooks) TileFetched(k tile.Key, bytes int, took time.Duration) {
	h.try(func() { h.inner.TileFetched(k, bytes, took) })
}
func (h *Hooks) TileFailed(k tile.Key, kind tile.FailKind) {
	h.try(func() { h.inner.TileFailed(k, kind) })
}
func (h *Hooks) TileEvicted(k tile.Key) { h.try(func() { h.inner.TileEvicted(k) }) }
func (h *Hooks) StoreWriteFailed(k tile.Key, err error) {
	h.try(func() { h.inner.StoreWriteFailed(k, err) })
}
func (h *Hooks) TileDropped(k tile.Key) { h.try(func() { h.inner.TileDropped(k) }) }

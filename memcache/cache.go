// Package memcache implements the in-memory tile cache: fast lookup,
// single-flight coordination, LRU eviction under a byte budget, and failure
// memoization.
//
// All mutations serialize under one mutex. The critical sections carry no
// I/O and next to no allocation; waiter wake-ups use one-shot buffered
// channels collected inside the critical section and signaled outside it.
package memcache

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/unkn0wn-root/ridemap/raster"
	"github.com/unkn0wn-root/ridemap/tile"
)

// Outcome of a GetOrPend call.
type Outcome uint8

const (
	// Hit: the tile is resident; the raster is returned and its recency
	// promoted.
	Hit Outcome = iota + 1
	// Wait: another caller is producing this tile; the waiter handle
	// resolves when it completes.
	Wait
	// Miss: the caller is now the unique producer and must eventually call
	// Complete or Fail. The caller is also enrolled as a waiter.
	Miss
	// Reject: speculative admission denied; producing this tile would evict
	// an entry at least as important in the current demand set.
	Reject
	// Failed: a memoized failure is still within its cooldown.
	Failed
)

// Result is the terminal outcome delivered to a waiter: exactly one of
// Raster and Err is set.
type Result struct {
	Raster *raster.Raster
	Err    error
}

// Waiter is a registered interest in a pending tile. C yields exactly one
// Result, or is closed without a value after Drop.
type Waiter struct {
	C   <-chan Result
	ch  chan Result
	key tile.Key
	c   *Cache
}

// Pend is the outcome of GetOrPend. Raster is set on Hit, Err on Failed,
// Waiter on Wait and Miss, Ctx on Miss.
type Pend struct {
	Outcome Outcome
	Raster  *raster.Raster
	Err     error
	Waiter  *Waiter
	// Ctx is the producer's working context. It is cancelled when the last
	// waiter drops and orphans are not allowed; the producer must abort at
	// its next suspension point.
	Ctx context.Context
}

type state uint8

const (
	statePending state = iota + 1
	stateReady
	stateFailed
)

type entry struct {
	st        state
	startedAt time.Time
	waiters   map[*Waiter]struct{}
	cancel    context.CancelFunc
	orphaned  bool

	ras      *raster.Raster
	size     int64
	lastUsed uint64

	err      error
	failedAt time.Time
}

type Config struct {
	// BudgetBytes caps the summed size of Ready rasters. Zero means 256 MiB.
	BudgetBytes int64
	// FailCooldown retains memoized failures. Zero means 30s.
	FailCooldown time.Duration
	// AllowOrphan keeps producers running for cache warmth after their last
	// waiter drops.
	AllowOrphan bool
}

// Cache is the keyed tile state map. Safe for concurrent use.
type Cache struct {
	mu         sync.Mutex
	entries    map[tile.Key]*entry
	gen        uint64
	readyBytes int64
	readyCount int
	demand     map[tile.Key]int

	budget      int64
	cooldown    time.Duration
	allowOrphan bool
	now         func() time.Time
}

func New(cfg Config) *Cache {
	budget := cfg.BudgetBytes
	if budget <= 0 {
		budget = 256 << 20
	}
	cooldown := cfg.FailCooldown
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Cache{
		entries:     make(map[tile.Key]*entry),
		budget:      budget,
		cooldown:    cooldown,
		allowOrphan: cfg.AllowOrphan,
		now:         time.Now,
	}
}

// GetOrPend looks the key up and transitions it as needed. prio is the key's
// rank in the current demand set; ranks above PriorityRequired are
// speculative and subject to admission gating.
//
// Between a Miss and the matching Complete or Fail, every other caller
// receives Wait, and all waiters observe exactly the producer's outcome.
func (c *Cache) GetOrPend(ctx context.Context, key tile.Key, prio int) Pend {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		switch e.st {
		case stateReady:
			e.lastUsed = c.nextGenLocked()
			ras := e.ras
			c.mu.Unlock()
			return Pend{Outcome: Hit, Raster: ras}
		case statePending:
			w := c.enrollLocked(key, e)
			c.mu.Unlock()
			return Pend{Outcome: Wait, Waiter: w}
		case stateFailed:
			if c.now().Sub(e.failedAt) < c.cooldown {
				err := e.err
				c.mu.Unlock()
				return Pend{Outcome: Failed, Err: err}
			}
			// cooldown over; the key re-enters as a miss
			delete(c.entries, key)
		}
	}

	if prio > tile.PriorityRequired && c.admissionFullLocked(prio) {
		c.mu.Unlock()
		return Pend{Outcome: Reject}
	}

	pctx, cancel := context.WithCancel(ctx)
	e := &entry{
		st:        statePending,
		startedAt: c.now(),
		waiters:   make(map[*Waiter]struct{}, 1),
		cancel:    cancel,
	}
	c.entries[key] = e
	w := c.enrollLocked(key, e)
	c.mu.Unlock()
	return Pend{Outcome: Miss, Waiter: w, Ctx: pctx}
}

// Complete installs the decoded raster, wakes all waiters with a shared
// reference, and evicts least-recently-used Ready entries down to the byte
// budget. The evicted keys are returned for the caller's bookkeeping.
//
// Completing a key that is not pending is an invariant violation and panics.
func (c *Cache) Complete(key tile.Key, ras *raster.Raster) []tile.Key {
	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok || e.st != statePending {
		c.mu.Unlock()
		panic("memcache: Complete for a key that is not pending: " + key.String())
	}
	ws := detachWaitersLocked(e)
	cancel := e.cancel
	e.cancel = nil

	e.st = stateReady
	e.ras = ras
	e.size = ras.SizeBytes()
	e.lastUsed = c.nextGenLocked()
	c.readyBytes += e.size
	c.readyCount++
	evicted := c.evictLocked()
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	for _, w := range ws {
		w.ch <- Result{Raster: ras}
	}
	return evicted
}

// Fail installs a terminal failure and wakes all waiters with it. Cancelled
// failures leave the map immediately; every other kind is memoized for the
// cooldown window.
func (c *Cache) Fail(key tile.Key, err error) {
	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok || e.st != statePending {
		c.mu.Unlock()
		panic("memcache: Fail for a key that is not pending: " + key.String())
	}
	ws := detachWaitersLocked(e)
	cancel := e.cancel
	e.cancel = nil

	if tile.KindOf(err) == tile.FailCancelled {
		delete(c.entries, key)
	} else {
		e.st = stateFailed
		e.err = err
		e.failedAt = c.now()
	}
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	for _, w := range ws {
		w.ch <- Result{Err: err}
	}
}

// Touch promotes the key's recency without changing its state.
func (c *Cache) Touch(key tile.Key) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok && e.st == stateReady {
		e.lastUsed = c.nextGenLocked()
	}
	c.mu.Unlock()
}

// SetDemand replaces the current-epoch demand priorities, consulted by
// speculative admission and by nothing else.
func (c *Cache) SetDemand(demand map[tile.Key]int) {
	c.mu.Lock()
	c.demand = demand
	c.mu.Unlock()
}

// Len counts all entries, pending and failed included.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// SizeBytes sums the Ready raster sizes.
func (c *Cache) SizeBytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readyBytes
}

// Resident reports whether the key is Ready in memory.
func (c *Cache) Resident(key tile.Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	return ok && e.st == stateReady
}

// Drop cancels this waiter's interest. If it was the pending entry's last
// waiter and orphans are not allowed, the producer's context is cancelled.
// After Drop, C is closed without a value unless the outcome was already
// collected for delivery.
func (w *Waiter) Drop() {
	c := w.c
	var cancel context.CancelFunc
	removed := false

	c.mu.Lock()
	if e, ok := c.entries[w.key]; ok && e.st == statePending {
		if _, in := e.waiters[w]; in {
			delete(e.waiters, w)
			removed = true
			if len(e.waiters) == 0 && !c.allowOrphan {
				e.orphaned = true
				cancel = e.cancel
			}
		}
	}
	c.mu.Unlock()

	if removed {
		close(w.ch)
	}
	if cancel != nil {
		cancel()
	}
}

func (c *Cache) enrollLocked(key tile.Key, e *entry) *Waiter {
	ch := make(chan Result, 1)
	w := &Waiter{C: ch, ch: ch, key: key, c: c}
	e.waiters[w] = struct{}{}
	return w
}

func detachWaitersLocked(e *entry) []*Waiter {
	ws := make([]*Waiter, 0, len(e.waiters))
	for w := range e.waiters {
		ws = append(ws, w)
	}
	e.waiters = nil
	return ws
}

func (c *Cache) nextGenLocked() uint64 {
	c.gen++
	return c.gen
}

// admissionFullLocked reports whether admitting one more tile would force an
// eviction, and no Ready entry ranks strictly weaker than prio in the
// current demand set. Entries absent from the demand set rank weakest.
func (c *Cache) admissionFullLocked(prio int) bool {
	if c.readyCount == 0 {
		return false
	}
	avg := c.readyBytes / int64(c.readyCount)
	if c.budget-c.readyBytes >= avg {
		return false
	}
	for k, e := range c.entries {
		if e.st != stateReady {
			continue
		}
		if c.demandPrioLocked(k) > prio {
			return false
		}
	}
	return true
}

func (c *Cache) demandPrioLocked(key tile.Key) int {
	if p, ok := c.demand[key]; ok {
		return p
	}
	return math.MaxInt
}

// evictLocked removes Ready entries until the byte budget holds. Victims are
// least recently used first; ties fall to the lower zoom level, then to the
// lexicographically larger (x, y). Pending entries are never evicted.
func (c *Cache) evictLocked() []tile.Key {
	var evicted []tile.Key
	for c.readyBytes > c.budget {
		var victim tile.Key
		var ve *entry
		for k, e := range c.entries {
			if e.st != stateReady {
				continue
			}
			if ve == nil || betterVictim(k, e, victim, ve) {
				victim, ve = k, e
			}
		}
		if ve == nil {
			break
		}
		delete(c.entries, victim)
		c.readyBytes -= ve.size
		c.readyCount--
		evicted = append(evicted, victim)
	}
	return evicted
}

func betterVictim(ak tile.Key, a *entry, bk tile.Key, b *entry) bool {
	if a.lastUsed != b.lastUsed {
		return a.lastUsed < b.lastUsed
	}
	if ak.Z != bk.Z {
		return ak.Z < bk.Z
	}
	if ak.X != bk.X {
		return ak.X > bk.X
	}
	return ak.Y > bk.Y
}

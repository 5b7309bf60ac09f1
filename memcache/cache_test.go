package memcache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/unkn0wn-root/ridemap/raster"
	"github.com/unkn0wn-root/ridemap/tile"
)

func key(z, x, y uint32) tile.Key {
	return tile.Key{P: "t", Z: z, X: x, Y: y}
}

func ras(size int) *raster.Raster {
	return &raster.Raster{Width: size / 4, Height: 1, Pix: make([]byte, size)}
}

func httpErr(k tile.Key, status int) error {
	return &tile.Error{Key: k, Kind: tile.FailHTTPStatus, Status: status}
}

func cancelErr(k tile.Key) error {
	return &tile.Error{Key: k, Kind: tile.FailCancelled, Err: context.Canceled}
}

// admit drives one key through the Miss -> Complete transition.
func admit(t *testing.T, c *Cache, k tile.Key, size int) {
	t.Helper()
	pend := c.GetOrPend(context.Background(), k, tile.PriorityRequired)
	if pend.Outcome != Miss {
		t.Fatalf("GetOrPend(%v) = %v, want Miss", k, pend.Outcome)
	}
	c.Complete(k, ras(size))
}

func TestStateTransitions(t *testing.T) {
	ctx := context.Background()
	c := New(Config{BudgetBytes: 1 << 20})
	k := key(3, 1, 2)

	pend := c.GetOrPend(ctx, k, tile.PriorityRequired)
	if pend.Outcome != Miss {
		t.Fatalf("first GetOrPend = %v, want Miss", pend.Outcome)
	}
	if c.Resident(k) {
		t.Fatal("pending key reported resident")
	}

	r := ras(1024)
	c.Complete(k, r)
	if !c.Resident(k) {
		t.Fatal("completed key not resident")
	}
	if got := c.SizeBytes(); got != 1024 {
		t.Fatalf("SizeBytes = %d, want 1024", got)
	}

	hit := c.GetOrPend(ctx, k, tile.PriorityRequired)
	if hit.Outcome != Hit || hit.Raster != r {
		t.Fatalf("hit = %+v, want the shared raster", hit)
	}

	// the producer's waiter observed the outcome too
	select {
	case res := <-pend.Waiter.C:
		if res.Raster != r {
			t.Fatal("waiter got a different raster")
		}
	default:
		t.Fatal("waiter channel empty after Complete")
	}
}

func TestSingleFlightSequential(t *testing.T) {
	ctx := context.Background()
	c := New(Config{BudgetBytes: 1 << 20})
	k := key(4, 2, 2)

	first := c.GetOrPend(ctx, k, tile.PriorityRequired)
	if first.Outcome != Miss {
		t.Fatalf("first = %v", first.Outcome)
	}
	waiters := []*Waiter{first.Waiter}
	for i := 0; i < 4; i++ {
		pend := c.GetOrPend(ctx, k, tile.PriorityRequired)
		if pend.Outcome != Wait {
			t.Fatalf("call %d = %v, want Wait", i, pend.Outcome)
		}
		waiters = append(waiters, pend.Waiter)
	}

	r := ras(256)
	c.Complete(k, r)
	for i, w := range waiters {
		res := <-w.C
		if res.Err != nil || res.Raster != r {
			t.Fatalf("waiter %d got %+v", i, res)
		}
	}
}

func TestSingleFlightConcurrent(t *testing.T) {
	ctx := context.Background()
	c := New(Config{BudgetBytes: 1 << 20})
	k := key(9, 100, 200)
	r := ras(512)

	const callers = 32
	var misses atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pend := c.GetOrPend(ctx, k, tile.PriorityRequired)
			switch pend.Outcome {
			case Miss:
				misses.Add(1)
				c.Complete(k, r)
			case Wait, Hit:
			default:
				t.Errorf("unexpected outcome %v", pend.Outcome)
			}
			if pend.Waiter != nil {
				if res := <-pend.Waiter.C; res.Raster != r {
					t.Errorf("waiter got %+v", res)
				}
			}
		}()
	}
	wg.Wait()

	if got := misses.Load(); got != 1 {
		t.Fatalf("misses = %d, want exactly 1", got)
	}
}

func TestEvictionOrder(t *testing.T) {
	// Budget of three tiles. Access A, B, C, touch A, admit D: B is the
	// least recently used and goes first.
	const tileSize = 1000
	c := New(Config{BudgetBytes: 3 * tileSize})
	a, b, d, e := key(5, 1, 1), key(5, 1, 2), key(5, 2, 1), key(5, 2, 2)

	admit(t, c, a, tileSize)
	admit(t, c, b, tileSize)
	admit(t, c, d, tileSize)
	c.Touch(a)
	admit(t, c, e, tileSize)

	if c.Resident(b) {
		t.Fatal("expected B evicted")
	}
	for _, k := range []tile.Key{a, d, e} {
		if !c.Resident(k) {
			t.Fatalf("expected %v resident", k)
		}
	}
	if got := c.SizeBytes(); got != 3*tileSize {
		t.Fatalf("SizeBytes = %d", got)
	}
}

func TestBudgetInvariantAfterEveryComplete(t *testing.T) {
	const budget = 4096
	c := New(Config{BudgetBytes: budget})
	for i := uint32(0); i < 16; i++ {
		admit(t, c, key(6, i, i), 1024)
		if got := c.SizeBytes(); got > budget {
			t.Fatalf("budget exceeded after complete #%d: %d > %d", i, got, budget)
		}
	}
}

func TestNeverEvictsPending(t *testing.T) {
	const tileSize = 1000
	ctx := context.Background()
	c := New(Config{BudgetBytes: tileSize})
	pending := key(2, 0, 0)

	if pend := c.GetOrPend(ctx, pending, tile.PriorityRequired); pend.Outcome != Miss {
		t.Fatal("setup: expected Miss")
	}
	// Two completions around the pending entry must only ever evict Ready
	// entries.
	admit(t, c, key(2, 1, 0), tileSize)
	admit(t, c, key(2, 1, 1), tileSize)

	c.mu.Lock()
	e := c.entries[pending]
	c.mu.Unlock()
	if e == nil || e.st != statePending {
		t.Fatal("pending entry was evicted")
	}
}

func TestFailureCooldown(t *testing.T) {
	ctx := context.Background()
	c := New(Config{BudgetBytes: 1 << 20, FailCooldown: 30 * time.Second})
	now := time.Unix(1000, 0)
	c.now = func() time.Time { return now }
	k := key(7, 3, 3)

	pend := c.GetOrPend(ctx, k, tile.PriorityRequired)
	if pend.Outcome != Miss {
		t.Fatal("setup: expected Miss")
	}
	c.Fail(k, httpErr(k, 500))
	if res := <-pend.Waiter.C; tile.KindOf(res.Err) != tile.FailHTTPStatus {
		t.Fatalf("waiter got %+v, want the http failure", res)
	}

	// Within the cooldown the memoized failure is returned; no new producer.
	now = now.Add(10 * time.Second)
	again := c.GetOrPend(ctx, k, tile.PriorityRequired)
	if again.Outcome != Failed || tile.KindOf(again.Err) != tile.FailHTTPStatus {
		t.Fatalf("within cooldown: %+v", again)
	}

	// After the cooldown the key re-enters as a miss.
	now = now.Add(25 * time.Second)
	after := c.GetOrPend(ctx, k, tile.PriorityRequired)
	if after.Outcome != Miss {
		t.Fatalf("after cooldown = %v, want Miss", after.Outcome)
	}
}

func TestCancelledIsNotMemoized(t *testing.T) {
	ctx := context.Background()
	c := New(Config{BudgetBytes: 1 << 20})
	k := key(8, 9, 9)

	if pend := c.GetOrPend(ctx, k, tile.PriorityRequired); pend.Outcome != Miss {
		t.Fatal("setup: expected Miss")
	}
	c.Fail(k, cancelErr(k))

	if pend := c.GetOrPend(ctx, k, tile.PriorityRequired); pend.Outcome != Miss {
		t.Fatalf("after cancellation = %v, want Miss", pend.Outcome)
	}
}

func TestDropLastWaiterAbortsProducer(t *testing.T) {
	ctx := context.Background()
	c := New(Config{BudgetBytes: 1 << 20, AllowOrphan: false})
	k := key(4, 4, 4)

	pend := c.GetOrPend(ctx, k, tile.PriorityRequired)
	if pend.Outcome != Miss {
		t.Fatal("setup: expected Miss")
	}
	extra := c.GetOrPend(ctx, k, tile.PriorityRequired)
	if extra.Outcome != Wait {
		t.Fatal("setup: expected Wait")
	}

	// Dropping one of two waiters leaves the producer running.
	extra.Waiter.Drop()
	select {
	case <-pend.Ctx.Done():
		t.Fatal("producer aborted while a waiter remained")
	default:
	}
	if _, ok := <-extra.Waiter.C; ok {
		t.Fatal("dropped waiter received a value")
	}

	// Dropping the last waiter signals the producer.
	pend.Waiter.Drop()
	select {
	case <-pend.Ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("producer context not cancelled after the last waiter dropped")
	}

	// The aborted producer reports Cancelled; the key leaves the map.
	c.Fail(k, cancelErr(k))
	if pend := c.GetOrPend(ctx, k, tile.PriorityRequired); pend.Outcome != Miss {
		t.Fatalf("after abort = %v, want Miss", pend.Outcome)
	}
}

func TestAllowOrphanKeepsProducer(t *testing.T) {
	ctx := context.Background()
	c := New(Config{BudgetBytes: 1 << 20, AllowOrphan: true})
	k := key(4, 5, 5)

	pend := c.GetOrPend(ctx, k, tile.PriorityRequired)
	if pend.Outcome != Miss {
		t.Fatal("setup: expected Miss")
	}
	pend.Waiter.Drop()
	select {
	case <-pend.Ctx.Done():
		t.Fatal("orphaned producer was cancelled despite AllowOrphan")
	default:
	}

	// The producer finishes for cache warmth.
	c.Complete(k, ras(64))
	if !c.Resident(k) {
		t.Fatal("orphan-completed tile not resident")
	}
}

func TestSpeculativeAdmission(t *testing.T) {
	const tileSize = 1000
	ctx := context.Background()
	c := New(Config{BudgetBytes: 2 * tileSize})
	a, b := key(5, 0, 0), key(5, 0, 1)
	probe := key(5, 9, 9)

	admit(t, c, a, tileSize)
	admit(t, c, b, tileSize)

	// Both residents are required by the current demand set: the
	// speculative tile is not worth an eviction.
	c.SetDemand(map[tile.Key]int{a: tile.PriorityRequired, b: tile.PriorityRequired})
	if pend := c.GetOrPend(ctx, probe, tile.PrioritySpeculative); pend.Outcome != Reject {
		t.Fatalf("speculative admission = %v, want Reject", pend.Outcome)
	}

	// Once a resident ranks weaker than the speculative tile, it may evict.
	c.SetDemand(map[tile.Key]int{a: tile.PriorityRequired, b: tile.PriorityFallback})
	pend := c.GetOrPend(ctx, probe, tile.PrioritySpeculative)
	if pend.Outcome != Miss {
		t.Fatalf("speculative admission = %v, want Miss", pend.Outcome)
	}
	c.Complete(probe, ras(tileSize))
	if c.SizeBytes() > 2*tileSize {
		t.Fatal("budget exceeded after speculative admit")
	}
}

func TestCompleteWithoutPendingPanics(t *testing.T) {
	c := New(Config{})
	defer func() {
		if recover() == nil {
			t.Fatal("Complete without a pending entry must panic")
		}
	}()
	c.Complete(key(1, 0, 0), ras(16))
}

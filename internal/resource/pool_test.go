package resource

import (
	"reflect"
	"testing"
	"time"
)

// fakeClock is a manually advanced clock.
type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func TestPool_EnsureLoadedAlreadyLoaded(t *testing.T) {
	p := NewPool(2)
	res, ok := p.EnsureLoaded("llama")
	if !ok || !res.Loaded || res.Evicted != "" {
		t.Fatalf("first EnsureLoaded = %+v, %v", res, ok)
	}
	res, ok = p.EnsureLoaded("llama")
	if !ok || res.Loaded {
		t.Errorf("second EnsureLoaded = %+v, %v; want no-op success", res, ok)
	}
	if p.Len() != 1 {
		t.Errorf("Len() = %d, want 1", p.Len())
	}
}

func TestPool_EvictsLeastRecentlyUsedOnContention(t *testing.T) {
	clock := newClock()
	var evicted []string
	p := NewPool(2, WithClock(clock.Now), OnEvict(func(key string, reason EvictReason) {
		if reason != EvictLRU {
			t.Errorf("reason = %q, want lru", reason)
		}
		evicted = append(evicted, key)
	}))

	p.EnsureLoaded("a")
	clock.Advance(time.Second)
	p.EnsureLoaded("b")
	clock.Advance(time.Second)
	p.Touch("a") // b is now least recently used

	res, ok := p.EnsureLoaded("c")
	if !ok {
		t.Fatal("EnsureLoaded(c) = false")
	}
	if res.Evicted != "b" {
		t.Errorf("Evicted = %q, want b", res.Evicted)
	}
	if got := p.Keys(); !reflect.DeepEqual(got, []string{"a", "c"}) {
		t.Errorf("Keys() = %v, want [a c]", got)
	}
	if !reflect.DeepEqual(evicted, []string{"b"}) {
		t.Errorf("OnEvict saw %v, want [b]", evicted)
	}
}

func TestPool_LRUOrderWithEqualTimestamps(t *testing.T) {
	clock := newClock() // never advanced
	p := NewPool(2, WithClock(clock.Now))
	p.EnsureLoaded("a")
	p.EnsureLoaded("b")
	p.Touch("a")

	key, ok := p.EvictLeastRecentlyUsed()
	if !ok || key != "b" {
		t.Errorf("EvictLeastRecentlyUsed() = %q, %v; want b", key, ok)
	}
}

func TestPool_EvictLeastRecentlyUsedEmpty(t *testing.T) {
	p := NewPool(1)
	if key, ok := p.EvictLeastRecentlyUsed(); ok {
		t.Errorf("EvictLeastRecentlyUsed on empty pool = %q, true", key)
	}
}

func TestPool_PinnedUnitsAreNotEvicted(t *testing.T) {
	p := NewPool(1)
	p.EnsureLoaded("a")
	p.Pin("a")

	if _, ok := p.EnsureLoaded("b"); ok {
		t.Fatal("EnsureLoaded(b) succeeded while the only unit is pinned")
	}
	if !p.IsLoaded("a") || p.IsLoaded("b") {
		t.Errorf("Keys() = %v, want [a]", p.Keys())
	}

	p.Unpin("a")
	res, ok := p.EnsureLoaded("b")
	if !ok || res.Evicted != "a" {
		t.Errorf("EnsureLoaded(b) after unpin = %+v, %v", res, ok)
	}
}

func TestPool_PinningDisabledEvictsInUseUnits(t *testing.T) {
	p := NewPool(1, WithPinning(false))
	p.EnsureLoaded("a")
	p.Pin("a")

	res, ok := p.EnsureLoaded("b")
	if !ok {
		t.Fatal("EnsureLoaded(b) = false with pinning disabled")
	}
	if res.Evicted != "a" {
		t.Errorf("Evicted = %q, want a", res.Evicted)
	}
}

func TestPool_SweepIdle(t *testing.T) {
	clock := newClock()
	var reasons []EvictReason
	p := NewPool(3, WithClock(clock.Now), OnEvict(func(_ string, r EvictReason) {
		reasons = append(reasons, r)
	}))

	p.EnsureLoaded("old")
	p.EnsureLoaded("pinned")
	p.Pin("pinned")
	clock.Advance(4 * time.Minute)
	p.EnsureLoaded("fresh")
	clock.Advance(2 * time.Minute)

	evicted := p.SweepIdle(clock.Now(), 5*time.Minute)
	if !reflect.DeepEqual(evicted, []string{"old"}) {
		t.Errorf("SweepIdle evicted %v, want [old]", evicted)
	}
	if got := p.Keys(); !reflect.DeepEqual(got, []string{"fresh", "pinned"}) {
		t.Errorf("Keys() = %v, want [fresh pinned]", got)
	}
	if len(reasons) != 1 || reasons[0] != EvictIdle {
		t.Errorf("reasons = %v, want [idle]", reasons)
	}
}

func TestPool_SweepIdleThresholdIsExclusive(t *testing.T) {
	clock := newClock()
	p := NewPool(1, WithClock(clock.Now))
	p.EnsureLoaded("a")
	clock.Advance(5 * time.Minute)

	if evicted := p.SweepIdle(clock.Now(), 5*time.Minute); len(evicted) != 0 {
		t.Errorf("unit idle exactly at threshold was evicted: %v", evicted)
	}
}

func TestPool_SetMaxUnitsTrims(t *testing.T) {
	p := NewPool(3)
	p.EnsureLoaded("a")
	p.EnsureLoaded("b")
	p.EnsureLoaded("c")
	p.Pin("a")

	evicted := p.SetMaxUnits(1)
	if !reflect.DeepEqual(evicted, []string{"b", "c"}) {
		t.Errorf("SetMaxUnits evicted %v, want [b c]", evicted)
	}
	if p.Max() != 1 {
		t.Errorf("Max() = %d, want 1", p.Max())
	}

	// Over the ceiling only because a is pinned; the next load must wait.
	if _, ok := p.EnsureLoaded("d"); ok {
		t.Error("EnsureLoaded(d) succeeded while a pinned unit fills the pool")
	}
}

func TestPool_ResizeEvictsPinnedUnits(t *testing.T) {
	var evicted, unloaded []string
	p := NewPool(2,
		OnEvict(func(key string, reason EvictReason) {
			if reason != EvictResize {
				t.Errorf("evict %s reason = %s, want resize", key, reason)
			}
			evicted = append(evicted, key)
		}),
		OnUnload(func(key string) { unloaded = append(unloaded, key) }),
	)
	p.EnsureLoaded("a")
	p.EnsureLoaded("b")
	p.Pin("a")
	p.Pin("b")

	if got := p.SetMaxUnits(1); !reflect.DeepEqual(got, []string{"a"}) {
		t.Fatalf("SetMaxUnits(1) evicted %v, want [a] (least recently used)", got)
	}
	if p.Len() != 1 || !p.IsLoaded("b") {
		t.Fatalf("Keys() = %v, want [b]", p.Keys())
	}
	if !reflect.DeepEqual(p.Detached(), []string{"a"}) {
		t.Errorf("Detached() = %v, want [a]", p.Detached())
	}
	if len(unloaded) != 0 {
		t.Fatalf("unloaded %v while a is still held", unloaded)
	}

	p.Unpin("a")
	if !reflect.DeepEqual(unloaded, []string{"a"}) {
		t.Errorf("unloaded = %v after last hold released, want [a]", unloaded)
	}
	if len(p.Detached()) != 0 {
		t.Errorf("Detached() = %v, want empty", p.Detached())
	}
	if !reflect.DeepEqual(evicted, []string{"a"}) {
		t.Errorf("evicted = %v, want [a]", evicted)
	}
}

func TestPool_ResizePrefersUnpinned(t *testing.T) {
	p := NewPool(3)
	p.EnsureLoaded("a")
	p.EnsureLoaded("b")
	p.EnsureLoaded("c")
	p.Pin("a")

	if got := p.SetMaxUnits(1); !reflect.DeepEqual(got, []string{"b", "c"}) {
		t.Errorf("SetMaxUnits(1) evicted %v, want [b c]", got)
	}
	if !p.IsLoaded("a") || len(p.Detached()) != 0 {
		t.Errorf("Keys() = %v, Detached() = %v", p.Keys(), p.Detached())
	}
}

func TestPool_DetachedUnitReattaches(t *testing.T) {
	var unloaded []string
	p := NewPool(2, OnUnload(func(key string) { unloaded = append(unloaded, key) }))
	p.EnsureLoaded("a")
	p.EnsureLoaded("b")
	p.Pin("a")
	p.Pin("a")
	p.Pin("b")
	p.SetMaxUnits(1)
	p.Unpin("a")

	p.SetMaxUnits(2)
	res, ok := p.EnsureLoaded("a")
	if !ok || !res.Loaded {
		t.Fatalf("EnsureLoaded(a) = %+v, %v", res, ok)
	}
	units := p.Loaded()
	if units[0].Key != "a" || units[0].Pinned != 1 {
		t.Errorf("a = %+v, want the remaining hold carried over", units[0])
	}

	p.Unpin("a")
	if len(unloaded) != 0 {
		t.Errorf("unloaded %v, want none for a reattached unit", unloaded)
	}
}

func TestPool_LoadedSnapshot(t *testing.T) {
	clock := newClock()
	p := NewPool(2, WithClock(clock.Now))
	p.EnsureLoaded("b")
	p.EnsureLoaded("a")
	p.Pin("a")

	units := p.Loaded()
	if len(units) != 2 || units[0].Key != "a" || units[1].Key != "b" {
		t.Fatalf("Loaded() = %+v", units)
	}
	if units[0].Pinned != 1 {
		t.Errorf("a.Pinned = %d, want 1", units[0].Pinned)
	}
	if !units[1].LoadedAt.Equal(clock.Now()) {
		t.Errorf("b.LoadedAt = %v, want %v", units[1].LoadedAt, clock.Now())
	}
}

func TestNewPool_MinimumCapacity(t *testing.T) {
	if got := NewPool(0).Max(); got != 1 {
		t.Errorf("NewPool(0).Max() = %d, want 1", got)
	}
}

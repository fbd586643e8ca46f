// Package resource tracks which shared resource units (models) are loaded and
// decides which one to evict when capacity is needed.
package resource

import (
	"sort"
	"sync"
	"time"

	"github.com/me/agentq/pkg/model"
)

// EvictReason says why a unit left the pool.
type EvictReason string

const (
	EvictLRU    EvictReason = "lru"    // made room for another unit
	EvictIdle   EvictReason = "idle"   // unused past the idle threshold
	EvictResize EvictReason = "resize" // ceiling lowered below the loaded count
)

// LoadResult describes what EnsureLoaded had to do.
type LoadResult struct {
	Loaded  bool   // the unit was not loaded before the call
	Evicted string // unit evicted to make room, empty if none
}

type unit struct {
	key      string
	loadedAt time.Time
	lastUsed time.Time
	seq      uint64 // bumped on load/touch; orders LRU when clock readings tie
	pinned   int
}

// Pool is the set of loaded resource units with a ceiling on its size.
// It is safe for concurrent use. Hooks run with the pool lock held and must
// not call back into the pool.
//
// A unit evicted while running tasks still hold it leaves the pool at once,
// so the ceiling is never exceeded, but it stays detached until the last
// hold is released. Only then does OnUnload fire.
type Pool struct {
	mu       sync.Mutex
	max      int
	units    map[string]*unit
	detached map[string]int // evicted units still held by running tasks
	seq      uint64
	pinning  bool
	now      func() time.Time
	onLoad   func(key string)
	onEvict  func(key string, reason EvictReason)
	onUnload func(key string)
}

// Option configures a Pool.
type Option func(*Pool)

// WithClock overrides time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(p *Pool) { p.now = now }
}

// WithPinning controls whether units held by running tasks are protected
// from eviction. Enabled by default.
func WithPinning(enabled bool) Option {
	return func(p *Pool) { p.pinning = enabled }
}

// OnLoad registers a callback fired after a unit is loaded.
func OnLoad(fn func(key string)) Option {
	return func(p *Pool) { p.onLoad = fn }
}

// OnEvict registers a callback fired after a unit is evicted.
func OnEvict(fn func(key string, reason EvictReason)) Option {
	return func(p *Pool) { p.onEvict = fn }
}

// OnUnload registers a callback fired when an evicted unit is no longer held
// by any running task and can be freed.
func OnUnload(fn func(key string)) Option {
	return func(p *Pool) { p.onUnload = fn }
}

// NewPool creates a pool holding at most maxUnits loaded units (minimum 1).
func NewPool(maxUnits int, opts ...Option) *Pool {
	if maxUnits < 1 {
		maxUnits = 1
	}
	p := &Pool{
		max:      maxUnits,
		units:    make(map[string]*unit),
		detached: make(map[string]int),
		pinning:  true,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// EnsureLoaded makes key resident, evicting the least-recently-used unit if
// the pool is full. It returns false only when nothing can be evicted, which
// happens when pinning is on and every loaded unit is in use.
func (p *Pool) EnsureLoaded(key string) (LoadResult, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var res LoadResult
	if _, ok := p.units[key]; ok {
		return res, true
	}

	for len(p.units) >= p.max {
		victim := p.lruLocked(false)
		if victim == nil {
			return res, false
		}
		p.evictLocked(victim.key, EvictLRU)
		res.Evicted = victim.key
	}

	now := p.now()
	p.seq++
	u := &unit{key: key, loadedAt: now, lastUsed: now, seq: p.seq}
	// A detached unit that is wanted again is reattached; its pending
	// unload is dropped.
	if held, ok := p.detached[key]; ok {
		u.pinned = held
		delete(p.detached, key)
	}
	p.units[key] = u
	res.Loaded = true
	if p.onLoad != nil {
		p.onLoad(key)
	}
	return res, true
}

// Touch records a use of key. Unknown keys are ignored.
func (p *Pool) Touch(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if u, ok := p.units[key]; ok {
		p.seq++
		u.seq = p.seq
		u.lastUsed = p.now()
	}
}

// EvictLeastRecentlyUsed removes the unit with the oldest use.
// Returns the evicted key, or false if nothing was evictable.
func (p *Pool) EvictLeastRecentlyUsed() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	victim := p.lruLocked(false)
	if victim == nil {
		return "", false
	}
	p.evictLocked(victim.key, EvictLRU)
	return victim.key, true
}

// SweepIdle evicts every unit whose last use is older than threshold.
// Returns the evicted keys in sorted order.
func (p *Pool) SweepIdle(now time.Time, threshold time.Duration) []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	var evicted []string
	for key, u := range p.units {
		if p.pinning && u.pinned > 0 {
			continue
		}
		if now.Sub(u.lastUsed) > threshold {
			evicted = append(evicted, key)
		}
	}
	sort.Strings(evicted)
	for _, key := range evicted {
		p.evictLocked(key, EvictIdle)
	}
	return evicted
}

// SetMaxUnits changes the ceiling and evicts LRU units until the pool fits.
// Unpinned units go first. If that is not enough, pinned units are evicted
// too: their tasks keep running and the unit is unloaded once they finish.
func (p *Pool) SetMaxUnits(n int) []string {
	if n < 1 {
		n = 1
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	p.max = n
	return p.trimLocked()
}

// Max returns the current ceiling.
func (p *Pool) Max() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.max
}

// Pin marks key as in use by a running task.
func (p *Pool) Pin(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if u, ok := p.units[key]; ok {
		u.pinned++
	}
}

// Unpin releases one hold on key. Releasing the last hold on a detached
// unit fires OnUnload.
func (p *Pool) Unpin(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if u, ok := p.units[key]; ok {
		if u.pinned > 0 {
			u.pinned--
		}
		return
	}
	held, ok := p.detached[key]
	if !ok {
		return
	}
	if held > 1 {
		p.detached[key] = held - 1
		return
	}
	delete(p.detached, key)
	if p.onUnload != nil {
		p.onUnload(key)
	}
}

// Detached returns the evicted keys still held by running tasks, sorted.
func (p *Pool) Detached() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	keys := make([]string, 0, len(p.detached))
	for k := range p.detached {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// IsLoaded reports whether key is resident.
func (p *Pool) IsLoaded(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.units[key]
	return ok
}

// Len returns the number of loaded units.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.units)
}

// Keys returns the loaded keys in sorted order.
func (p *Pool) Keys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	keys := make([]string, 0, len(p.units))
	for k := range p.units {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Loaded returns a snapshot of the loaded units sorted by key.
func (p *Pool) Loaded() []model.ResourceUnit {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]model.ResourceUnit, 0, len(p.units))
	for _, u := range p.units {
		out = append(out, model.ResourceUnit{
			Key:        u.key,
			LoadedAt:   u.loadedAt,
			LastUsedAt: u.lastUsed,
			Pinned:     u.pinned,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// lruLocked picks the evictable unit with the oldest use, or nil. Pinned
// units are candidates only when pinning is off or includePinned is set.
func (p *Pool) lruLocked(includePinned bool) *unit {
	var victim *unit
	for _, u := range p.units {
		if p.pinning && !includePinned && u.pinned > 0 {
			continue
		}
		if victim == nil || u.seq < victim.seq {
			victim = u
		}
	}
	return victim
}

func (p *Pool) trimLocked() []string {
	var evicted []string
	for len(p.units) > p.max {
		victim := p.lruLocked(false)
		if victim == nil {
			victim = p.lruLocked(true)
		}
		p.evictLocked(victim.key, EvictResize)
		evicted = append(evicted, victim.key)
	}
	return evicted
}

func (p *Pool) evictLocked(key string, reason EvictReason) {
	u := p.units[key]
	delete(p.units, key)
	if p.onEvict != nil {
		p.onEvict(key, reason)
	}
	if u.pinned > 0 {
		p.detached[key] = u.pinned
		return
	}
	if p.onUnload != nil {
		p.onUnload(key)
	}
}

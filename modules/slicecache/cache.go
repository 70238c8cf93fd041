// Package slicecache implements the LRU slice cache of spec.md §4.J: a
// bounded cache of hydrated account ranges, sized in fixed slices rather
// than individual accounts, fronting the storage engine's range reads.
//
// The LRU bookkeeping (recency order, oldest-eviction) is
// github.com/hashicorp/golang-lru/v2's Cache, the same package the rest of
// the example pack reaches for whenever it needs a bounded, access-ordered
// cache. Its own size-limited auto-eviction isn't used directly: spec.md
// §4.J's hysteresis contract ("evict when cachedCount > maxCachedSlices *
// 1.5, down to maxCachedSlices") needs to let the cache grow past its
// target before trimming back, which golang-lru's single fixed Add-time
// limit can't express — so the cache is opened with effectively no size
// cap and eviction is driven explicitly via RemoveOldest after every load,
// the same "wrap the library, drive the policy yourself" shape as
// storageengine's bitset memoization.
//
// Background loads are tracked with github.com/uplo-tech/threadgroup, the
// same goroutine-lifecycle primitive the teacher uses in modules/gateway:
// every spawned load calls threads.Add()/defer threads.Done(), and Close
// calls threads.Stop() to wait out any in-flight load before returning.
package slicecache

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/uplo-tech/threadgroup"

	"github.com/uplo-tech/graphvault/modules"
)

// DefaultSliceSize is the default fixed slice width (spec.md §4.J).
const DefaultSliceSize = 500

// DefaultMaxCachedSlices is the default LRU target slice count (spec.md
// §4.J).
const DefaultMaxCachedSlices = 20

// hysteresisFactor: eviction triggers once the cache holds more than
// maxCachedSlices*hysteresisFactor slices (spec.md §4.J).
const hysteresisFactor = 1.5

type slice struct {
	accounts []modules.Account
	loaded   bool
}

// Cache implements modules.SliceCache.
type Cache struct {
	storage         modules.StorageEngine
	sliceSize       int
	maxCachedSlices int

	mu          sync.Mutex
	fingerprint string
	accountCnt  int
	slices      *lru.Cache[int, *slice] // keyed by sliceStart
	inFlight    map[int]bool

	threads threadgroup.ThreadGroup
}

// New returns a Cache reading through to storage, with the default slice
// sizing of spec.md §4.J.
func New(storage modules.StorageEngine) *Cache {
	return NewSized(storage, DefaultSliceSize, DefaultMaxCachedSlices)
}

// NewSized returns a Cache with explicit slice sizing, for tests and for
// callers tuning memory/latency tradeoffs.
func NewSized(storage modules.StorageEngine, sliceSize, maxCachedSlices int) *Cache {
	// The backing lru.Cache is opened with a generous fixed bound (several
	// times the hysteresis ceiling) purely so golang-lru never auto-evicts
	// out from under our own explicit hysteresis pass; it still gives us
	// RemoveOldest() in true LRU order.
	backing, _ := lru.New[int, *slice](maxCachedSlices*8 + 64)
	return &Cache{
		storage:         storage,
		sliceSize:       sliceSize,
		maxCachedSlices: maxCachedSlices,
		slices:          backing,
		inFlight:        make(map[int]bool),
	}
}

// SetFingerprint switches the cache to a new fingerprint and accountCount,
// flushing every cached slice (spec.md §4.J "Fingerprint change: entire
// cache is flushed").
func (c *Cache) SetFingerprint(fingerprint string, accountCount int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fingerprint = fingerprint
	c.accountCnt = accountCount
	c.slices.Purge()
	c.inFlight = make(map[int]bool)
}

func (c *Cache) sliceStart(i int) int {
	return (i / c.sliceSize) * c.sliceSize
}

func (c *Cache) sliceEnd(start int) int {
	end := start + c.sliceSize
	if end > c.accountCnt {
		end = c.accountCnt
	}
	return end
}

// GetAccount implements modules.SliceCache.
func (c *Cache) GetAccount(i int) (modules.Account, bool) {
	c.mu.Lock()
	if i < 0 || c.fingerprint == "" || i >= c.accountCnt {
		c.mu.Unlock()
		return modules.Account{}, false
	}
	start := c.sliceStart(i)
	if s, ok := c.slices.Get(start); ok && s.loaded {
		idx := i - start
		if idx < 0 || idx >= len(s.accounts) {
			c.mu.Unlock()
			return modules.Account{}, false
		}
		a := s.accounts[idx]
		c.mu.Unlock()
		return a, true
	}
	c.mu.Unlock()
	c.triggerLoad(start)
	return modules.Account{}, false
}

// GetRange implements modules.SliceCache: synchronously returns cached
// data, triggering background loads for any uncached slice the range
// touches.
func (c *Cache) GetRange(start, end int) []modules.Account {
	c.mu.Lock()
	if c.fingerprint == "" {
		c.mu.Unlock()
		return nil
	}
	if start < 0 {
		start = 0
	}
	if end > c.accountCnt {
		end = c.accountCnt
	}
	if start >= end {
		c.mu.Unlock()
		return nil
	}

	var out []modules.Account
	complete := true
	for s := c.sliceStart(start); s < end; s += c.sliceSize {
		slc, ok := c.slices.Get(s)
		if !ok || !slc.loaded {
			complete = false
			c.mu.Unlock()
			c.triggerLoad(s)
			c.mu.Lock()
			continue
		}
		sEnd := c.sliceEnd(s)
		for i := s; i < sEnd; i++ {
			if i < start || i >= end {
				continue
			}
			out = append(out, slc.accounts[i-s])
		}
	}
	c.mu.Unlock()
	if !complete {
		return []modules.Account{}
	}
	return out
}

// GetByIndices implements modules.SliceCache: groups indices into ranges
// with a gap ≤ sliceSize/2, loads each, and preserves input order.
func (c *Cache) GetByIndices(indices []uint32) []modules.Account {
	if len(indices) == 0 {
		return nil
	}
	gap := c.sliceSize / 2
	sorted := append([]uint32(nil), indices...)
	sortUint32(sorted)

	type rng struct{ start, end int }
	var ranges []rng
	start := int(sorted[0])
	prev := start
	for _, v := range sorted[1:] {
		idx := int(v)
		if idx-prev <= gap {
			prev = idx
			continue
		}
		ranges = append(ranges, rng{start, prev + 1})
		start, prev = idx, idx
	}
	ranges = append(ranges, rng{start, prev + 1})

	byIndex := make(map[int]modules.Account, len(indices))
	for _, r := range ranges {
		// GetRange triggers a background load for any slice the range
		// touches that isn't cached yet; the per-index GetAccount calls
		// below then pick up whatever is already cached (this range's or
		// any other's) without waiting on that load.
		c.GetRange(r.start, r.end)
		for i := r.start; i < r.end; i++ {
			if a, ok := c.GetAccount(i); ok {
				byIndex[i] = a
			}
		}
	}

	out := make([]modules.Account, 0, len(indices))
	for _, idx := range indices {
		if a, ok := byIndex[int(idx)]; ok {
			out = append(out, a)
		}
	}
	return out
}

func sortUint32(s []uint32) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// PreloadAdjacent implements modules.SliceCache: schedules the next slice
// always, and the previous slice if visibleStart > 0.
func (c *Cache) PreloadAdjacent(visibleStart, visibleEnd int) {
	c.mu.Lock()
	if c.fingerprint == "" {
		c.mu.Unlock()
		return
	}
	nextStart := c.sliceStart(visibleEnd)
	var prevStart int
	loadPrev := visibleStart > 0
	if loadPrev {
		prevStart = c.sliceStart(visibleStart) - c.sliceSize
	}
	c.mu.Unlock()

	c.triggerLoad(nextStart)
	if loadPrev && prevStart >= 0 {
		c.triggerLoad(prevStart)
	}
}

// triggerLoad starts a background load of the slice beginning at start, if
// one isn't already cached or in flight. Preload/load errors are swallowed
// (spec.md §4.J "preload errors are swallowed"): a failed load just leaves
// the slice absent, to be retried on the caller's next tick.
func (c *Cache) triggerLoad(start int) {
	c.mu.Lock()
	if start < 0 || start >= c.accountCnt {
		c.mu.Unlock()
		return
	}
	if _, ok := c.slices.Get(start); ok {
		c.mu.Unlock()
		return
	}
	if c.inFlight[start] {
		c.mu.Unlock()
		return
	}
	c.inFlight[start] = true
	fingerprint := c.fingerprint
	end := c.sliceEnd(start)
	c.mu.Unlock()

	if err := c.threads.Add(); err != nil {
		c.mu.Lock()
		delete(c.inFlight, start)
		c.mu.Unlock()
		return
	}
	go func() {
		defer c.threads.Done()
		accounts, err := c.storage.GetAccountsByRange(fingerprint, start, end)

		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.inFlight, start)
		if err != nil || c.fingerprint != fingerprint {
			return
		}
		c.slices.Add(start, &slice{accounts: accounts, loaded: true})
		c.evictLocked()
	}()
}

// evictLocked applies the hysteresis eviction policy of spec.md §4.J. Must
// be called with c.mu held.
func (c *Cache) evictLocked() {
	ceiling := int(float64(c.maxCachedSlices) * hysteresisFactor)
	if c.slices.Len() <= ceiling {
		return
	}
	for c.slices.Len() > c.maxCachedSlices {
		if _, _, ok := c.slices.RemoveOldest(); !ok {
			break
		}
	}
}

// ClearCache implements modules.SliceCache.
func (c *Cache) ClearCache() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.slices.Purge()
	c.inFlight = make(map[int]bool)
}

// CacheStats implements modules.SliceCache.
func (c *Cache) CacheStats() (size, maxSize int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.slices.Len(), c.maxCachedSlices
}

// Close stops accepting new background loads and waits for in-flight ones
// to finish.
func (c *Cache) Close() error {
	return c.threads.Stop()
}

package segment

import (
	"sort"
	"sync"

	"github.com/hollowtree/segmentdb/kv"
)

// cacheItem pairs a decoded entry with the index-block offset it was
// decoded from, plus its on-disk chaining pointer to the next record, so
// the Lower fast path can check for adjacency before trusting a cached hit.
type cacheItem struct {
	entry           kv.Entry
	indexOffset     uint64
	nextIndexOffset uint64
	nextIndexSize   uint32
}

// cache is a concurrency-safe ordered key -> decoded-entry map. Go's
// standard library has no concurrent ordered map, so this is a
// mutex-guarded sorted slice with binary search, matching what the spec's
// concurrency section calls for explicitly.
type cache struct {
	ord   kv.Ordering
	mu    sync.Mutex
	items []cacheItem
	onPut func(kv.Entry)
}

func newCache(ord kv.Ordering, onPut func(kv.Entry)) *cache {
	return &cache{ord: ord, onPut: onPut}
}

func (c *cache) search(key []byte) int {
	return sort.Search(len(c.items), func(i int) bool {
		return c.ord.Compare(c.items[i].entry.Key, key) >= 0
	})
}

// Get returns the item whose key exactly equals key.
func (c *cache) Get(key []byte) (cacheItem, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.search(key)
	if i < len(c.items) && c.ord.Compare(c.items[i].entry.Key, key) == 0 {
		return c.items[i], true
	}
	return cacheItem{}, false
}

// Floor returns the item with the largest key <= target.
func (c *cache) Floor(key []byte) (cacheItem, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.search(key)
	if i < len(c.items) && c.ord.Compare(c.items[i].entry.Key, key) == 0 {
		return c.items[i], true
	}
	if i == 0 {
		return cacheItem{}, false
	}
	return c.items[i-1], true
}

// Lower returns the item with the largest key strictly less than target. A
// cached candidate is only trusted when it is verifiably adjacent to target
// in the on-disk chain: either it is the last record in the segment (no
// next pointer), or the cache also holds the record immediately at or past
// target and that record's indexOffset matches the candidate's
// nextIndexOffset. Otherwise the cache may have a gap between the
// candidate and target that hides the true answer, so this reports a miss
// and leaves the caller to fall back to an index walk.
func (c *cache) Lower(key []byte) (cacheItem, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.search(key)
	if i == 0 {
		return cacheItem{}, false
	}
	lower := c.items[i-1]
	if lower.nextIndexOffset == 0 && lower.nextIndexSize == 0 {
		return lower, true
	}
	if i < len(c.items) && c.items[i].indexOffset == lower.nextIndexOffset {
		return lower, true
	}
	return cacheItem{}, false
}

// Ceiling returns the item with the smallest key >= target.
func (c *cache) Ceiling(key []byte) (cacheItem, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.search(key)
	if i >= len(c.items) {
		return cacheItem{}, false
	}
	return c.items[i], true
}

// Put installs item, replacing any existing entry at the same key, and
// invokes the eviction limiter callback (the onCache injected interface).
func (c *cache) Put(item cacheItem) {
	c.mu.Lock()
	i := c.search(item.entry.Key)
	if i < len(c.items) && c.ord.Compare(c.items[i].entry.Key, item.entry.Key) == 0 {
		c.items[i] = item
	} else {
		c.items = append(c.items, cacheItem{})
		copy(c.items[i+1:], c.items[i:])
		c.items[i] = item
	}
	c.mu.Unlock()
	if c.onPut != nil {
		c.onPut(item.entry)
	}
}

// Evict removes the item at key, if any. The cache-size limiter calls this
// on a segment it does not own; see the spec's note on the cyclic
// ownership between a Segment and its limiter callback.
func (c *cache) Evict(key []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.search(key)
	if i < len(c.items) && c.ord.Compare(c.items[i].entry.Key, key) == 0 {
		c.items = append(c.items[:i], c.items[i+1:]...)
	}
}

func (c *cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

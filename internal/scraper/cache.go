package scraper

import (
	"container/list"
	"sync"
	"time"
)

// cacheKey identifies one per-source search result (spec.md §4.5).
type cacheKey struct {
	sourceID string
	query    string
	page     int
	pageSize int
}

type cacheEntry struct {
	key     cacheKey
	fields  Fields
	expires time.Time
}

// resultCache is a TTL-expiring, size-bounded LRU of per-source search
// results, grounded on the teacher's disk-cache LRU eviction shape
// (internal/cache) but scoped to in-memory scraper responses.
type resultCache struct {
	mu      sync.Mutex
	entries map[cacheKey]*list.Element
	order   *list.List
}

func newResultCache() *resultCache {
	return &resultCache{
		entries: make(map[cacheKey]*list.Element),
		order:   list.New(),
	}
}

func (c *resultCache) get(key cacheKey) (Fields, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[key]
	if !ok {
		return Fields{}, false
	}
	ent := el.Value.(*cacheEntry)
	if time.Now().After(ent.expires) {
		c.order.Remove(el)
		delete(c.entries, key)
		return Fields{}, false
	}
	c.order.MoveToFront(el)
	return ent.fields, true
}

func (c *resultCache) put(key cacheKey, f Fields, ttl time.Duration, maxSize int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		ent := el.Value.(*cacheEntry)
		ent.fields = f
		ent.expires = time.Now().Add(ttl)
		c.order.MoveToFront(el)
		return
	}
	ent := &cacheEntry{key: key, fields: f, expires: time.Now().Add(ttl)}
	el := c.order.PushFront(ent)
	c.entries[key] = el

	for c.order.Len() > maxSize {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).key)
	}
}

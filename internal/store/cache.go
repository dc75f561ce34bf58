package store

import (
	"container/list"
	"sync"
	"time"
)

// Cache is a small LRU keyed by string. Entries expire after ttl; a zero ttl
// keeps them until evicted by size.
type Cache[V any] struct {
	mu    sync.Mutex
	cap   int
	ttl   time.Duration
	now   func() time.Time
	ll    *list.List               // most-recent at front
	items map[string]*list.Element // key -> element
}

type cacheEntry[V any] struct {
	key string
	val V
	exp time.Time
}

func NewCache[V any](maxKeys int, ttl time.Duration) *Cache[V] {
	if maxKeys <= 0 {
		maxKeys = 10000
	}
	return &Cache[V]{cap: maxKeys, ttl: ttl, now: time.Now, ll: list.New(), items: make(map[string]*list.Element)}
}

func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var zero V
	el, ok := c.items[key]
	if !ok {
		return zero, false
	}
	en := el.Value.(cacheEntry[V])
	if c.expired(en) {
		c.ll.Remove(el)
		delete(c.items, key)
		return zero, false
	}
	c.ll.MoveToFront(el)
	return en.val, true
}

func (c *Cache[V]) Put(key string, val V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var exp time.Time
	if c.ttl > 0 {
		exp = c.now().Add(c.ttl)
	}
	if el, ok := c.items[key]; ok {
		el.Value = cacheEntry[V]{key: key, val: val, exp: exp}
		c.ll.MoveToFront(el)
		return
	}
	c.items[key] = c.ll.PushFront(cacheEntry[V]{key: key, val: val, exp: exp})
	for c.ll.Len() > c.cap {
		t := c.ll.Back()
		c.ll.Remove(t)
		delete(c.items, t.Value.(cacheEntry[V]).key)
	}
	// drop expired entries at the tail
	for t := c.ll.Back(); t != nil && c.expired(t.Value.(cacheEntry[V])); t = c.ll.Back() {
		c.ll.Remove(t)
		delete(c.items, t.Value.(cacheEntry[V]).key)
	}
}

func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

func (c *Cache[V]) expired(en cacheEntry[V]) bool {
	return !en.exp.IsZero() && !c.now().Before(en.exp)
}

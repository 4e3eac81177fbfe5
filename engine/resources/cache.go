package resources

import (
	"container/list"
	"sync"
	"sync/atomic"
)

// Cache stores the loaded resources of one type. Implementations must be safe
// for concurrent use: the worker inserts while callers look up on the fast path.
type Cache[T any] interface {
	// Get returns the entry for key with one reference already taken.
	Get(key Key) (*Handle[T], bool)
	// Insert stores h under key, replacing any previous entry.
	Insert(key Key, h *Handle[T])
	// Remove drops the entry for key. Holders keep their handles.
	Remove(key Key) bool
	// UnloadUnused evicts entries nobody references, following the cache's own
	// policy, and returns how many were dropped.
	UnloadUnused() int
	// Len returns the number of resident entries.
	Len() int
}

// LRUCache keeps every referenced entry, plus up to capacity unreferenced
// entries ordered by last use. Older unreferenced entries go on UnloadUnused.
type LRUCache[T any] struct {
	mu       sync.Mutex
	capacity int
	items    map[Key]*list.Element
	order    *list.List

	hits   atomic.Int64
	misses atomic.Int64
}

type lruEntry[T any] struct {
	key    Key
	handle *Handle[T]
}

// NewLRUCache creates a cache retaining up to capacity unused entries.
// A capacity <= 0 evicts every unused entry.
func NewLRUCache[T any](capacity int) *LRUCache[T] {
	if capacity < 0 {
		capacity = 0
	}
	return &LRUCache[T]{
		capacity: capacity,
		items:    make(map[Key]*list.Element),
		order:    list.New(),
	}
}

func (c *LRUCache[T]) Get(key Key) (*Handle[T], bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.items[key]; ok {
		c.hits.Add(1)
		c.order.MoveToFront(e)
		return e.Value.(*lruEntry[T]).handle.Retain(), true
	}
	c.misses.Add(1)
	return nil, false
}

func (c *LRUCache[T]) Insert(key Key, h *Handle[T]) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.items[key]; ok {
		e.Value.(*lruEntry[T]).handle = h
		c.order.MoveToFront(e)
		return
	}
	c.items[key] = c.order.PushFront(&lruEntry[T]{key: key, handle: h})
}

func (c *LRUCache[T]) Remove(key Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	if !ok {
		return false
	}
	c.order.Remove(e)
	delete(c.items, key)
	return true
}

func (c *LRUCache[T]) UnloadUnused() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	kept, evicted := 0, 0
	for e := c.order.Front(); e != nil; {
		next := e.Next()
		ent := e.Value.(*lruEntry[T])
		if ent.handle.Unused() {
			if kept < c.capacity {
				kept++
			} else {
				c.order.Remove(e)
				delete(c.items, ent.key)
				evicted++
			}
		}
		e = next
	}
	return evicted
}

func (c *LRUCache[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Stats returns the hit and miss counters.
func (c *LRUCache[T]) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

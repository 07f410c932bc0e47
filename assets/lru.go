package assets

import (
	"container/list"
	"sync"
)

// LRU caches asset bytes under a total byte budget. The least recently
// used entries are evicted first. It is safe for concurrent use.
type LRU struct {
	mu     sync.Mutex
	budget int
	used   int
	order  *list.List // front is most recent
	items  map[ID]*list.Element
}

type lruEntry struct {
	id   ID
	data []byte
}

// NewLRU creates a cache holding at most budget bytes.
func NewLRU(budget int) *LRU {
	if budget < 0 {
		budget = 0
	}
	return &LRU{
		budget: budget,
		order:  list.New(),
		items:  make(map[ID]*list.Element),
	}
}

// Insert stores data under id and marks it most recent. It returns the ids
// evicted to make room. An entry larger than the whole budget is not
// stored and ok is false.
func (c *LRU) Insert(id ID, data []byte) (evicted []ID, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(data) > c.budget {
		return nil, false
	}
	if el, found := c.items[id]; found {
		c.removeElement(el)
	}
	for c.used+len(data) > c.budget {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		evicted = append(evicted, oldest.Value.(*lruEntry).id)
		c.removeElement(oldest)
	}
	c.items[id] = c.order.PushFront(&lruEntry{id: id, data: data})
	c.used += len(data)
	return evicted, true
}

// Get returns the bytes for id and marks it most recent.
func (c *LRU) Get(id ID) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[id]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*lruEntry).data, true
}

// Contains reports whether id is cached without touching recency.
func (c *LRU) Contains(id ID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.items[id]
	return ok
}

// Remove drops id. It reports whether an entry was present.
func (c *LRU) Remove(id ID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[id]
	if ok {
		c.removeElement(el)
	}
	return ok
}

// Keys returns cached ids from most to least recent.
func (c *LRU) Keys() []ID {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]ID, 0, c.order.Len())
	for el := c.order.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Value.(*lruEntry).id)
	}
	return keys
}

// Len returns the number of cached entries.
func (c *LRU) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Bytes returns the bytes currently held.
func (c *LRU) Bytes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.used
}

// Budget returns the configured byte budget.
func (c *LRU) Budget() int { return c.budget }

func (c *LRU) removeElement(el *list.Element) {
	entry := c.order.Remove(el).(*lruEntry)
	delete(c.items, entry.id)
	c.used -= len(entry.data)
}

// Package dedupe provides a bounded cache of recently seen event ids.
//
// The push channel may redeliver an event after a reconnect; the client
// consults this cache before dispatching so listeners only ever see an
// event once. Eviction is strict FIFO, so memory stays O(capacity) no
// matter how long the stream runs.
package dedupe

import "sync"

// DefaultCapacity is used when New is given a non-positive capacity.
const DefaultCapacity = 512

// Cache is a fixed-capacity set of event ids with FIFO eviction.
type Cache struct {
	mu       sync.Mutex
	capacity int
	seen     map[string]struct{}
	order    []string
	head     int
}

// New creates a Cache holding at most capacity ids.
func New(capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Cache{
		capacity: capacity,
		seen:     make(map[string]struct{}, capacity),
		order:    make([]string, 0, capacity),
	}
}

// Add records an id. If the cache is full the oldest id is evicted first.
// Adding an id that is already present is a no-op; it does not refresh the
// id's position in the eviction order.
func (c *Cache) Add(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.seen[id]; ok {
		return
	}

	if len(c.seen) >= c.capacity {
		oldest := c.order[c.head]
		delete(c.seen, oldest)
		c.order[c.head] = id
		c.head = (c.head + 1) % c.capacity
	} else {
		c.order = append(c.order, id)
	}
	c.seen[id] = struct{}{}
}

// Has reports whether id is still in the cache.
func (c *Cache) Has(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.seen[id]
	return ok
}

// Len returns the number of ids currently held.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

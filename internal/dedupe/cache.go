// ABOUTME: Thread-safe TTL cache over event ids for at-least-once delivery
// ABOUTME: Lets the dispatcher discard redelivered events without a durable log

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

type entry struct {
	at   time.Time
	elem *list.Element
}

// Cache remembers recently seen event ids for a TTL window, bounded in size.
// Insertion order is kept in a linked list so eviction of the oldest id is
// O(1) when the cache is full.
type Cache struct {
	mu     sync.Mutex
	seen   map[string]*entry
	order  *list.List
	ttl    time.Duration
	max    int
	done   chan struct{}
	closed bool
}

// New creates a cache with the given TTL and maximum size. A background
// goroutine sweeps expired entries once a minute until Close is called.
func New(ttl time.Duration, max int) *Cache {
	c := &Cache{
		seen:  make(map[string]*entry),
		order: list.New(),
		ttl:   ttl,
		max:   max,
		done:  make(chan struct{}),
	}
	go c.sweep()
	return c
}

// Seen atomically checks whether id was delivered within the TTL window and
// marks it if not. Returns true for a duplicate.
func (c *Cache) Seen(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.seen[id]; ok && time.Since(e.at) < c.ttl {
		return true
	}
	c.mark(id)
	return false
}

// mark records id, evicting the oldest entry at capacity. Caller holds mu.
func (c *Cache) mark(id string) {
	now := time.Now()
	if e, ok := c.seen[id]; ok {
		e.at = now
		c.order.MoveToBack(e.elem)
		return
	}

	if len(c.seen) >= c.max {
		if front := c.order.Front(); front != nil {
			oldest, _ := front.Value.(string)
			c.order.Remove(front)
			delete(c.seen, oldest)
		}
	}

	c.seen[id] = &entry{at: now, elem: c.order.PushBack(id)}
}

func (c *Cache) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			now := time.Now()
			for id, e := range c.seen {
				if now.Sub(e.at) > c.ttl {
					c.order.Remove(e.elem)
					delete(c.seen, id)
				}
			}
			c.mu.Unlock()
		case <-c.done:
			return
		}
	}
}

// Close stops the background sweeper. Safe to call more than once.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		close(c.done)
		c.closed = true
	}
}

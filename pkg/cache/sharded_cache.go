package cache

import (
	"sort"
	"sync"
)

const numShards = 16

// Sharded is a map keyed by int64 ids split over independently locked
// shards, so readers of one ticker do not contend with updates to another.
type Sharded[V any] struct {
	shards [numShards]*shard[V]
}

type shard[V any] struct {
	mu    sync.RWMutex
	items map[int64]*V
}

// NewSharded creates an empty cache.
func NewSharded[V any]() *Sharded[V] {
	c := &Sharded[V]{}
	for i := 0; i < numShards; i++ {
		c.shards[i] = &shard[V]{items: make(map[int64]*V)}
	}
	return c
}

func (c *Sharded[V]) getShard(key int64) *shard[V] {
	return c.shards[uint64(key)%numShards]
}

// Put stores v under key, replacing any previous value.
func (c *Sharded[V]) Put(key int64, v V) {
	s := c.getShard(key)
	s.mu.Lock()
	s.items[key] = &v
	s.mu.Unlock()
}

// Get returns a copy of the value under key.
func (c *Sharded[V]) Get(key int64) (V, bool) {
	s := c.getShard(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	return *p, true
}

// Has reports whether key is present.
func (c *Sharded[V]) Has(key int64) bool {
	s := c.getShard(key)
	s.mu.RLock()
	_, ok := s.items[key]
	s.mu.RUnlock()
	return ok
}

// Update applies fn to the value under key while holding the shard lock.
// fn reports whether it changed the value; Update returns a copy of the
// value and whether both the key existed and fn changed it.
func (c *Sharded[V]) Update(key int64, fn func(v *V) bool) (V, bool) {
	s := c.getShard(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	changed := fn(p)
	return *p, changed
}

// Delete removes key and reports whether it was present.
func (c *Sharded[V]) Delete(key int64) bool {
	s := c.getShard(key)
	s.mu.Lock()
	_, ok := s.items[key]
	delete(s.items, key)
	s.mu.Unlock()
	return ok
}

// Len returns total items across all shards.
func (c *Sharded[V]) Len() int {
	total := 0
	for _, s := range c.shards {
		s.mu.RLock()
		total += len(s.items)
		s.mu.RUnlock()
	}
	return total
}

// Keys returns every key in ascending order.
func (c *Sharded[V]) Keys() []int64 {
	var keys []int64
	for _, s := range c.shards {
		s.mu.RLock()
		for k := range s.items {
			keys = append(keys, k)
		}
		s.mu.RUnlock()
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Clear removes every entry and returns how many there were.
func (c *Sharded[V]) Clear() int {
	removed := 0
	for _, s := range c.shards {
		s.mu.Lock()
		removed += len(s.items)
		s.items = make(map[int64]*V)
		s.mu.Unlock()
	}
	return removed
}

// Stats provides cache statistics.
type Stats struct {
	TotalItems  int            `json:"total_items"`
	ShardCounts [numShards]int `json:"shard_counts"`
}

// Stats returns per-shard counts.
func (c *Sharded[V]) Stats() Stats {
	var st Stats
	for i, s := range c.shards {
		s.mu.RLock()
		st.ShardCounts[i] = len(s.items)
		s.mu.RUnlock()
		st.TotalItems += st.ShardCounts[i]
	}
	return st
}

package indexsync

import (
	"hash/fnv"
	"sync"
)

const shardCount = 16

type shard struct {
	mu sync.Mutex
	m  map[string][]float32
}

// Cache holds the most recent embedding per note ID. Keys are spread over
// independently locked shards so writers for different notes rarely contend.
// Entries may be dropped or recomputed at any time; the vector index is the
// source of truth for queries.
type Cache struct {
	shards [shardCount]shard
}

// NewCache returns an empty Cache.
func NewCache() *Cache {
	c := &Cache{}
	for i := range c.shards {
		c.shards[i].m = make(map[string][]float32)
	}
	return c
}

func shardIndex(id string) int {
	h := fnv.New32a()
	h.Write([]byte(id))
	return int(h.Sum32() % shardCount)
}

func (c *Cache) shard(id string) *shard {
	return &c.shards[shardIndex(id)]
}

// Get returns the cached vector for id.
func (c *Cache) Get(id string) ([]float32, bool) {
	s := c.shard(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.m[id]
	return v, ok
}

// Set stores vec for id.
func (c *Cache) Set(id string, vec []float32) {
	s := c.shard(id)
	s.mu.Lock()
	s.m[id] = vec
	s.mu.Unlock()
}

// Delete drops id; absent keys are ignored.
func (c *Cache) Delete(id string) {
	s := c.shard(id)
	s.mu.Lock()
	delete(s.m, id)
	s.mu.Unlock()
}

// Len returns the number of cached vectors.
func (c *Cache) Len() int {
	n := 0
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.Lock()
		n += len(s.m)
		s.mu.Unlock()
	}
	return n
}

// Keys returns the cached IDs in no particular order.
func (c *Cache) Keys() []string {
	var keys []string
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.Lock()
		for k := range s.m {
			keys = append(keys, k)
		}
		s.mu.Unlock()
	}
	return keys
}

// Replace swaps the whole content for entries. All shards are locked in
// order while swapping, so readers never observe a mix of old and new maps.
func (c *Cache) Replace(entries map[string][]float32) {
	next := make([]map[string][]float32, shardCount)
	for i := range next {
		next[i] = make(map[string][]float32)
	}
	for id, v := range entries {
		next[shardIndex(id)][id] = v
	}

	for i := range c.shards {
		c.shards[i].mu.Lock()
	}
	for i := range c.shards {
		c.shards[i].m = next[i]
	}
	for i := range c.shards {
		c.shards[i].mu.Unlock()
	}
}

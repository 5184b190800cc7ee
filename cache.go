package fastbit

import (
	"sync"
	"sync/atomic"
)

// Default number of shards for the segment cache.
// Must be a power of 2 for efficient modulo operation.
const defaultSegmentCacheShards = 8

// segmentCache is a sharded LRU cache of file segments read into memory
// by FileManager.GetFileSegment (spec §4.1) for files too small, too
// numerous, or otherwise unsuited to an outright mmap. Keys combine a
// fileManager-assigned file id with a byte offset so segments from many
// open files can share one cache without collision. Sharding spreads
// lock contention the way the teacher's L2-table cache does for qcow2
// cluster tables, a directly analogous "read-mostly, offset-addressed
// fixed blob" access pattern.
type segmentCache struct {
	shards    []*segmentCacheShard
	shardMask uint64

	hits       atomic.Uint64
	misses     atomic.Uint64
	evictions  atomic.Uint64
	insertions atomic.Uint64
}

// segmentCacheShard is a single shard of the segment cache.
type segmentCacheShard struct {
	mu      sync.RWMutex
	entries map[segmentKey]*segmentCacheEntry
	head    *segmentCacheEntry // Most recently used
	tail    *segmentCacheEntry // Least recently used
	maxSize int
}

// segmentKey identifies a cached segment by owning file id and starting
// offset within that file.
type segmentKey struct {
	fileID uint64
	offset int64
}

type segmentCacheEntry struct {
	key  segmentKey
	data []byte
	prev *segmentCacheEntry
	next *segmentCacheEntry
}

// newSegmentCache creates a segment cache with maxEntries total capacity
// spread across defaultSegmentCacheShards shards.
func newSegmentCache(maxEntries int) *segmentCache {
	return newSegmentCacheWithShards(maxEntries, defaultSegmentCacheShards)
}

func newSegmentCacheWithShards(maxEntries, shardCount int) *segmentCache {
	if shardCount <= 0 {
		shardCount = defaultSegmentCacheShards
	}
	if shardCount&(shardCount-1) != 0 {
		v := shardCount
		v--
		v |= v >> 1
		v |= v >> 2
		v |= v >> 4
		v |= v >> 8
		v |= v >> 16
		shardCount = v + 1
	}

	perShard := maxEntries / shardCount
	if perShard < 1 {
		perShard = 1
	}

	shards := make([]*segmentCacheShard, shardCount)
	for i := range shards {
		shards[i] = &segmentCacheShard{
			entries: make(map[segmentKey]*segmentCacheEntry),
			maxSize: perShard,
		}
	}

	return &segmentCache{
		shards:    shards,
		shardMask: uint64(shardCount - 1),
	}
}

// getShard returns the shard responsible for key.
func (c *segmentCache) getShard(key segmentKey) *segmentCacheShard {
	h := key.fileID ^ uint64(key.offset) ^ uint64(key.offset>>32)
	return c.shards[h&c.shardMask]
}

// get retrieves a cached segment. Returns nil if not resident.
//
// The returned slice aliases cached data; callers must treat it as
// read-only. A segment that is later invalidated (file closed, range
// rewritten) must not be retained past the call that observes the
// invalidation.
func (c *segmentCache) get(key segmentKey) []byte {
	data := c.getShard(key).get(key)
	if data != nil {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return data
}

// put adds or refreshes a cached segment.
func (c *segmentCache) put(key segmentKey, data []byte) {
	inserted, evicted := c.getShard(key).put(key, data)
	if inserted {
		c.insertions.Add(1)
	}
	if evicted > 0 {
		c.evictions.Add(uint64(evicted))
	}
}

// invalidate drops a cached segment, e.g. when its owning file closes.
func (c *segmentCache) invalidate(key segmentKey) {
	c.getShard(key).invalidate(key)
}

// invalidateFile drops every cached segment belonging to fileID, used
// when FileManager fully evicts or closes that file.
func (c *segmentCache) invalidateFile(fileID uint64) {
	for _, shard := range c.shards {
		shard.invalidateFile(fileID)
	}
}

// clear removes all entries from the cache.
func (c *segmentCache) clear() {
	for _, shard := range c.shards {
		shard.clear()
	}
}

func (s *segmentCacheShard) get(key segmentKey) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return nil
	}
	s.moveToFront(entry)
	return entry.data
}

func (s *segmentCacheShard) put(key segmentKey, data []byte) (bool, int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.entries[key]; ok {
		entry.data = append(entry.data[:0], data...)
		s.moveToFront(entry)
		return false, 0
	}

	entry := &segmentCacheEntry{key: key, data: append([]byte(nil), data...)}
	s.addToFront(entry)
	s.entries[key] = entry

	evicted := 0
	for len(s.entries) > s.maxSize {
		s.evictLRU()
		evicted++
	}
	return true, evicted
}

func (s *segmentCacheShard) invalidate(key segmentKey) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return
	}
	s.removeEntry(entry)
	delete(s.entries, key)
}

func (s *segmentCacheShard) invalidateFile(fileID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, entry := range s.entries {
		if key.fileID == fileID {
			s.removeEntry(entry)
			delete(s.entries, key)
		}
	}
}

func (s *segmentCacheShard) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make(map[segmentKey]*segmentCacheEntry)
	s.head = nil
	s.tail = nil
}

// size returns the total number of entries across all shards.
func (c *segmentCache) size() int {
	total := 0
	for _, shard := range c.shards {
		total += shard.size()
	}
	return total
}

// CacheStats reports segment cache performance, surfaced by
// FileManager for diagnostics.
type CacheStats struct {
	Hits       uint64
	Misses     uint64
	HitRate    float64
	Insertions uint64
	Evictions  uint64
	Size       int
	MaxSize    int
}

func (c *segmentCache) stats() CacheStats {
	hits := c.hits.Load()
	misses := c.misses.Load()
	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	maxSize := 0
	for _, shard := range c.shards {
		maxSize += shard.maxSize
	}

	return CacheStats{
		Hits:       hits,
		Misses:     misses,
		HitRate:    hitRate,
		Insertions: c.insertions.Load(),
		Evictions:  c.evictions.Load(),
		Size:       c.size(),
		MaxSize:    maxSize,
	}
}

func (c *segmentCache) resetStats() {
	c.hits.Store(0)
	c.misses.Store(0)
	c.insertions.Store(0)
	c.evictions.Store(0)
}

func (s *segmentCacheShard) size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *segmentCacheShard) moveToFront(entry *segmentCacheEntry) {
	if entry == s.head {
		return
	}
	s.removeEntry(entry)
	s.addToFront(entry)
}

func (s *segmentCacheShard) addToFront(entry *segmentCacheEntry) {
	entry.prev = nil
	entry.next = s.head

	if s.head != nil {
		s.head.prev = entry
	}
	s.head = entry

	if s.tail == nil {
		s.tail = entry
	}
}

func (s *segmentCacheShard) removeEntry(entry *segmentCacheEntry) {
	if entry.prev != nil {
		entry.prev.next = entry.next
	} else {
		s.head = entry.next
	}

	if entry.next != nil {
		entry.next.prev = entry.prev
	} else {
		s.tail = entry.prev
	}
}

func (s *segmentCacheShard) evictLRU() {
	if s.tail == nil {
		return
	}
	entry := s.tail
	s.removeEntry(entry)
	delete(s.entries, entry.key)
}

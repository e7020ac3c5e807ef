// This module implements Store, memo's in-memory cache with per-item TTL and an optional LRU capacity.
//
// Expiration Policy:
// Entries carry an absolute deadline and are expired two ways. Single-key reads (Get / Has) discover an expired entry
// lazily, remove it and count a miss. Bulk operations (Put before admitting a key, Keys, Size, Sweep) scan all entries
// and remove every expired one, counting each removal as an eviction. Keep the two paths apart; folding them into one
// changes what Stats reports.
//
// Eviction Policy (LRU):
// When a new key is admitted into a full store, the entry with the oldest access time is evicted. Entries are kept in
// a doubly linked list ordered by access time, so the victim is always the list front.
//
// Notifications:
// OnEvict fires for every removal except an overwrite. It runs synchronously after the store's bookkeeping is done and
// its lock is released, but before the triggering operation returns.

package cache

import (
	"sync"
	"time"

	"github.com/nobletooth/memo/pkg/utils"
)

// Stats is a snapshot of a cache's counters. Hits, Misses and Evictions accumulate over the cache lifetime; Size is
// the current entry count.
type Stats struct {
	Size      int    `json:"size"`
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
}

// add sums two snapshots; used to aggregate shards.
func (s Stats) add(other Stats) Stats {
	return Stats{
		Size:      s.Size + other.Size,
		Hits:      s.Hits + other.Hits,
		Misses:    s.Misses + other.Misses,
		Evictions: s.Evictions + other.Evictions,
	}
}

// StoredItem is one cached value together with its bookkeeping timestamps.
type StoredItem[V any] struct {
	Value      V
	CreatedAt  time.Time // Set on insertion or overwrite.
	AccessedAt time.Time // Refreshed on every successful read; drives LRU.
	ExpiresAt  time.Time // Zero means the item never expires.
}

// expiredAt reports whether the item's deadline is strictly before `now`; reaching the deadline exactly is still live.
func (i StoredItem[V]) expiredAt(now time.Time) bool {
	return !i.ExpiresAt.IsZero() && now.After(i.ExpiresAt)
}

// Config holds the construction-time settings of a Store.
type Config[K comparable, V any] struct {
	// DefaultTTL applies to Put and to PutWithTTL calls with a non-positive TTL; zero means no expiry.
	DefaultTTL time.Duration
	// MaxSize bounds the number of entries; zero means unbounded.
	MaxSize int
	// OnEvict is called once per removed entry, whatever the cause, except plain overwrites.
	OnEvict func(key K, value V)
	// Clock returns the current time; defaults to time.Now.
	Clock func() time.Time
}

// storeEntry is the payload of a recency list node.
type storeEntry[K comparable, V any] struct {
	key  K
	item StoredItem[V]
}

// Store is a thread-safe in-memory cache. All operations on one Store are mutually atomic.
type Store[K comparable, V any] struct {
	defaultTTL time.Duration
	maxSize    int
	onEvict    func(K, V)
	now        func() time.Time

	mux     sync.RWMutex
	index   map[K]*linkedListNode[*storeEntry[K, V]]
	recency linkedList[*storeEntry[K, V]] // Front is the least recently accessed entry.

	hits      uint64
	misses    uint64
	evictions uint64
}

var (
	_ Layer[string, int] = (*Store[string, int])(nil)
	_ Sweeper            = (*Store[string, int])(nil)
)

// New builds a Store from the given config.
func New[K comparable, V any](cfg Config[K, V]) *Store[K, V] {
	if cfg.MaxSize < 0 {
		utils.RaiseInvariant("store", "negative_max_size",
			"Invalid max size has been given to the store, falling back to unbounded.", "maxSize", cfg.MaxSize)
		cfg.MaxSize = 0
	}
	if cfg.DefaultTTL < 0 {
		utils.RaiseInvariant("store", "negative_default_ttl",
			"Invalid default TTL has been given to the store, falling back to no expiry.", "ttl", cfg.DefaultTTL)
		cfg.DefaultTTL = 0
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Store[K, V]{
		defaultTTL: cfg.DefaultTTL,
		maxSize:    cfg.MaxSize,
		onEvict:    cfg.OnEvict,
		now:        cfg.Clock,
		index:      make(map[K]*linkedListNode[*storeEntry[K, V]]),
	}
}

// Put inserts or replaces `key` using the store's default TTL.
func (s *Store[K, V]) Put(key K, value V) {
	s.PutWithTTL(key, value, s.defaultTTL)
}

// PutWithTTL inserts or replaces `key`, expiring it `ttl` from now. A non-positive `ttl` falls back to the default
// TTL. Expired entries are swept first so they never count against capacity; then, if the key is new and the store is
// full, the least recently accessed entry is evicted.
func (s *Store[K, V]) PutWithTTL(key K, value V, ttl time.Duration) {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}

	s.mux.Lock()
	now := s.now()
	removed := s.sweepLocked(now)
	node, keyExists := s.index[key]
	if !keyExists && s.maxSize > 0 && len(s.index) >= s.maxSize {
		if victim, evicted := s.evictLocked(); evicted {
			removed = append(removed, victim)
		}
	}

	item := StoredItem[V]{Value: value, CreatedAt: now, AccessedAt: now}
	if ttl > 0 {
		item.ExpiresAt = now.Add(ttl)
	}
	if keyExists { // Overwrite in place; not a removal, so no notification.
		node.Value.item = item
		s.recency.MoveToBack(node)
	} else {
		s.index[key] = s.recency.PushBack(&storeEntry[K, V]{key: key, item: item})
	}
	s.mux.Unlock()

	s.notify(removed)
}

// Get returns the value stored for `key`. An entry found past its deadline is removed, reported to OnEvict and counted
// as a miss.
func (s *Store[K, V]) Get(key K) (V, bool /*found*/) {
	s.mux.Lock()
	node, keyExists := s.index[key]
	if !keyExists {
		s.misses++
		s.mux.Unlock()
		return *new(V), false
	}

	entry := node.Value
	now := s.now()
	if entry.item.expiredAt(now) {
		s.removeLocked(node)
		s.misses++
		s.mux.Unlock()
		s.notify([]utils.Pair[K, V]{{Key: entry.key, Value: entry.item.Value}})
		return *new(V), false
	}

	entry.item.AccessedAt = now
	s.recency.MoveToBack(node)
	s.hits++
	value := entry.item.Value
	s.mux.Unlock()
	return value, true
}

// Has reports whether Get would find `key`, with exactly the same side effects.
func (s *Store[K, V]) Has(key K) bool {
	_, found := s.Get(key)
	return found
}

// Peek returns the live item stored for `key` without touching statistics, access time or expired entries.
func (s *Store[K, V]) Peek(key K) (StoredItem[V], bool /*found*/) {
	s.mux.RLock()
	defer s.mux.RUnlock()

	node, keyExists := s.index[key]
	if !keyExists || node.Value.item.expiredAt(s.now()) {
		return StoredItem[V]{}, false
	}
	return node.Value.item, true
}

// Delete removes `key` and returns whether anything was removed.
func (s *Store[K, V]) Delete(key K) bool /*deleted*/ {
	s.mux.Lock()
	node, keyExists := s.index[key]
	if !keyExists {
		s.mux.Unlock()
		return false
	}
	entry := node.Value
	s.removeLocked(node)
	s.mux.Unlock()

	s.notify([]utils.Pair[K, V]{{Key: entry.key, Value: entry.item.Value}})
	return true
}

// Clear removes every entry. Cumulative counters are kept.
func (s *Store[K, V]) Clear() {
	s.mux.Lock()
	removed := make([]utils.Pair[K, V], 0, len(s.index))
	for node := s.recency.Front(); node != nil; node = node.Next() {
		removed = append(removed, utils.Pair[K, V]{Key: node.Value.key, Value: node.Value.item.Value})
	}
	s.index = make(map[K]*linkedListNode[*storeEntry[K, V]])
	s.recency = linkedList[*storeEntry[K, V]]{}
	s.mux.Unlock()

	s.notify(removed)
}

// Keys sweeps expired entries and returns the remaining keys in no particular order.
func (s *Store[K, V]) Keys() []K {
	s.mux.Lock()
	removed := s.sweepLocked(s.now())
	keys := make([]K, 0, len(s.index))
	for key := range s.index {
		keys = append(keys, key)
	}
	s.mux.Unlock()

	s.notify(removed)
	return keys
}

// Size sweeps expired entries and returns the number of remaining entries.
func (s *Store[K, V]) Size() int {
	s.mux.Lock()
	removed := s.sweepLocked(s.now())
	size := len(s.index)
	s.mux.Unlock()

	s.notify(removed)
	return size
}

// Sweep removes every expired entry and returns how many were removed.
func (s *Store[K, V]) Sweep() int {
	s.mux.Lock()
	removed := s.sweepLocked(s.now())
	s.mux.Unlock()

	s.notify(removed)
	return len(removed)
}

// Stats returns a snapshot of the store counters. It never sweeps.
func (s *Store[K, V]) Stats() Stats {
	s.mux.RLock()
	defer s.mux.RUnlock()
	return Stats{Size: len(s.index), Hits: s.hits, Misses: s.misses, Evictions: s.evictions}
}

// sweepLocked removes all entries expired at `now`, counting them as evictions. Caller must hold the write lock.
func (s *Store[K, V]) sweepLocked(now time.Time) []utils.Pair[K, V] {
	var removed []utils.Pair[K, V]
	for node := s.recency.Front(); node != nil; {
		next := node.Next() // Removal clears the node links.
		if entry := node.Value; entry.item.expiredAt(now) {
			s.removeLocked(node)
			removed = append(removed, utils.Pair[K, V]{Key: entry.key, Value: entry.item.Value})
		}
		node = next
	}
	s.evictions += uint64(len(removed))
	return removed
}

// evictLocked removes the least recently accessed entry. Caller must hold the write lock.
func (s *Store[K, V]) evictLocked() (utils.Pair[K, V], bool /*evicted*/) {
	victim := s.recency.Front()
	if victim == nil {
		utils.RaiseInvariant("store", "evict_from_empty_store",
			"Tried to evict from an empty store.", "maxSize", s.maxSize)
		return utils.Pair[K, V]{}, false
	}
	s.removeLocked(victim)
	s.evictions++
	return utils.Pair[K, V]{Key: victim.Value.key, Value: victim.Value.item.Value}, true
}

// removeLocked drops `node` from both the index and the recency list. Caller must hold the write lock.
func (s *Store[K, V]) removeLocked(node *linkedListNode[*storeEntry[K, V]]) {
	delete(s.index, node.Value.key)
	s.recency.Remove(node)
}

// notify reports removed entries to OnEvict. It must be called without holding the lock.
func (s *Store[K, V]) notify(removed []utils.Pair[K, V]) {
	if s.onEvict == nil {
		return
	}
	for _, pair := range removed {
		s.onEvict(pair.Key, pair.Value)
	}
}

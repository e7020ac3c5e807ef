// This module implements cache sharding which distributes keys uniformly across cache shards. Every Store guards its
// map with one mutex, so a single hot store serializes all goroutines. Sharding spreads that lock: each goroutine only
// locks the shard its key belongs to.
//
// The price is locality of policy: capacity and LRU order are enforced per shard, not across the whole cache. A
// sharded cache of N shards each holding M entries evicts the least recently used key of the key's own shard once that
// shard holds M entries, even if other shards have room.

package cache

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/nobletooth/memo/pkg/utils"
)

// Sharded is a cache that distributes keys across multiple underlying layers (shards).
type Sharded[K comparable, V any] struct { // Implements Layer and Sweeper.
	shards []Layer[K, V]
	hash   func(key K) uint64 // Helps choose the shards index.
}

var (
	_ Layer[string, int] = (*Sharded[string, int])(nil)
	_ Sweeper            = (*Sharded[string, int])(nil)
)

// NewSharded builds a sharded cache of `shardCount` layers, each created by `newShard`.
func NewSharded[K comparable, V any](newShard func() Layer[K, V], shardCount int) *Sharded[K, V] {
	// Ensure there is at least one shard.
	if shardCount <= 0 {
		utils.RaiseInvariant("shard", "non_positive_shard_count",
			"Invalid shard count has been given to sharded cache.", "shardCount", shardCount)
		shardCount = 1
	}
	sharded := &Sharded[K, V]{shards: make([]Layer[K, V], shardCount), hash: newKeyHasher[K]()}
	for i := range shardCount {
		sharded.shards[i] = newShard()
	}
	return sharded
}

// newKeyHasher picks the hash function once per key type so getShard doesn't type-switch on every call.
func newKeyHasher[K comparable]() func(key K) uint64 {
	// hashUint64 writes a fixed-size binary representation so ints hash the same on every architecture.
	hashUint64 := func(v uint64) uint64 {
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], v)
		return xxhash.Sum64(b[:])
	}
	switch any(*new(K)).(type) {
	case string:
		return func(key K) uint64 { return xxhash.Sum64String(any(key).(string)) }
	case int:
		return func(key K) uint64 { return hashUint64(uint64(any(key).(int))) }
	case uint:
		return func(key K) uint64 { return hashUint64(uint64(any(key).(uint))) }
	case int32:
		return func(key K) uint64 { return hashUint64(uint64(any(key).(int32))) }
	case uint32:
		return func(key K) uint64 { return hashUint64(uint64(any(key).(uint32))) }
	case int64:
		return func(key K) uint64 { return hashUint64(uint64(any(key).(int64))) }
	case uint64:
		return func(key K) uint64 { return hashUint64(any(key).(uint64)) }
	default:
		// Structs and other comparable types fall back to their Go-syntax representation. Slower, but works for any
		// type that can be printed.
		return func(key K) uint64 { return xxhash.Sum64String(fmt.Sprintf("%#v", key)) }
	}
}

// getShard maps `key` onto its shard by hashing it modulo the shard count.
func (c *Sharded[K, V]) getShard(key K) Layer[K, V] {
	return c.shards[c.hash(key)%uint64(len(c.shards))]
}

func (c *Sharded[K, V]) Get(key K) (V, bool /*found*/) {
	return c.getShard(key).Get(key)
}

func (c *Sharded[K, V]) Has(key K) bool {
	return c.getShard(key).Has(key)
}

func (c *Sharded[K, V]) Put(key K, value V) {
	c.getShard(key).Put(key, value)
}

func (c *Sharded[K, V]) PutWithTTL(key K, value V, ttl time.Duration) {
	c.getShard(key).PutWithTTL(key, value, ttl)
}

func (c *Sharded[K, V]) Delete(key K) bool /*deleted*/ {
	return c.getShard(key).Delete(key)
}

// Clear clears every shard. Shards are cleared one after another, so a concurrent Put may land in an already cleared
// shard.
func (c *Sharded[K, V]) Clear() {
	for _, shard := range c.shards {
		shard.Clear()
	}
}

// Keys aggregates the keys from all shards into a single slice.
func (c *Sharded[K, V]) Keys() []K {
	keys := make([]K, 0)
	for _, shard := range c.shards {
		keys = append(keys, shard.Keys()...)
	}
	return keys
}

func (c *Sharded[K, V]) Size() int {
	size := 0
	for _, shard := range c.shards {
		size += shard.Size()
	}
	return size
}

// Stats sums the shard snapshots. Each shard is read separately, so the sum is not one atomic snapshot.
func (c *Sharded[K, V]) Stats() Stats {
	var stats Stats
	for _, shard := range c.shards {
		stats = stats.add(shard.Stats())
	}
	return stats
}

// Sweep sweeps every shard that supports it.
func (c *Sharded[K, V]) Sweep() int {
	removed := 0
	for _, shard := range c.shards {
		if sweeper, ok := shard.(Sweeper); ok {
			removed += sweeper.Sweep()
		}
	}
	return removed
}

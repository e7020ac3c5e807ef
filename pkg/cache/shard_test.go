package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newShardOf returns a shard constructor building unbounded stores driven by `clock`.
func newShardOf[K comparable, V any](maxSize int, clock *fakeClock) func() Layer[K, V] {
	return func() Layer[K, V] {
		return New(Config[K, V]{MaxSize: maxSize, Clock: clock.Now})
	}
}

// TestSharded_PutAndGet verifies the basic Put and Get functionality.
func TestSharded_PutAndGet(t *testing.T) {
	sc := NewSharded(newShardOf[string, int](0, newFakeClock()), 10)
	t.Run("get existing key", func(t *testing.T) {
		sc.Put("hello", 123)
		got, found := sc.Get("hello")
		assert.True(t, found, "Expected to find key %q", "hello")
		assert.Equal(t, 123, got, "Expected value does not match")
	})
	t.Run("get non-existent key", func(t *testing.T) {
		_, found := sc.Get("non-existent")
		assert.False(t, found, "Expected not to find key")
	})
	t.Run("delete", func(t *testing.T) {
		assert.True(t, sc.Delete("hello"))
		assert.False(t, sc.Delete("hello"))
		assert.False(t, sc.Has("hello"))
	})
}

// TestSharded_KeyTypes tests that different key types are hashed and handled correctly.
func TestSharded_KeyTypes(t *testing.T) {
	type testKey struct {
		Name string
		Age  int
	}
	clock := newFakeClock()
	t.Run("string key", func(t *testing.T) {
		sc := NewSharded(newShardOf[string, string](0, clock), 8)
		sc.Put("my-string-key", "a string value")
		got, found := sc.Get("my-string-key")
		assert.True(t, found)
		assert.Equal(t, "a string value", got)
	})
	t.Run("int key", func(t *testing.T) {
		sc := NewSharded(newShardOf[int, int](0, clock), 8)
		sc.Put(-42, 999)
		got, found := sc.Get(-42)
		assert.True(t, found)
		assert.Equal(t, 999, got)
	})
	t.Run("uint64 key", func(t *testing.T) {
		sc := NewSharded(newShardOf[uint64, bool](0, clock), 8)
		sc.Put(1<<63, true)
		assert.True(t, sc.Has(1<<63))
	})
	t.Run("bool key", func(t *testing.T) {
		sc := NewSharded(newShardOf[bool, bool](0, clock), 8)
		sc.Put(true, false)
		got, found := sc.Get(true)
		assert.True(t, found)
		assert.False(t, got)
	})
	t.Run("struct key", func(t *testing.T) {
		sc := NewSharded(newShardOf[testKey, string](0, clock), 8)
		sc.Put(testKey{Name: "Go", Age: 15}, "gopher")
		got, found := sc.Get(testKey{Name: "Go", Age: 15})
		assert.True(t, found)
		assert.Equal(t, "gopher", got)
	})
}

func TestSharded_KeysAndClear(t *testing.T) {
	var evicted []string
	sc := NewSharded(func() Layer[string, int] {
		return New(Config[string, int]{OnEvict: func(key string, _ int) { evicted = append(evicted, key) }})
	}, 4 /*shardCount*/)
	expectedKeys := []string{"a", "b", "c", "d", "e", "f", "g"}
	for i, key := range expectedKeys {
		sc.Put(key, i)
	}
	assert.ElementsMatch(t, expectedKeys, sc.Keys())
	assert.Equal(t, len(expectedKeys), sc.Size())

	sc.Clear()
	assert.Empty(t, sc.Keys(), "Expected keys to be empty after clear")
	assert.Zero(t, sc.Size())
	assert.ElementsMatch(t, expectedKeys, evicted, "Every cleared key should be reported once")
}

func TestSharded_StatsAndSweep(t *testing.T) {
	clock := newFakeClock()
	sc := NewSharded(newShardOf[string, int](0, clock), 3)
	for i := range 6 {
		sc.PutWithTTL(fmt.Sprintf("key-%d", i), i, time.Second)
	}
	sc.Put("forever", 7)
	sc.Get("key-0")
	sc.Get("missing")

	stats := sc.Stats()
	assert.Equal(t, Stats{Size: 7, Hits: 1, Misses: 1}, stats)

	clock.Advance(2 * time.Second)
	assert.Equal(t, 6, sc.Sweep())
	assert.Equal(t, Stats{Size: 1, Hits: 1, Misses: 1, Evictions: 6}, sc.Stats())
}

// TestSharded_ShardingDistribution verifies that keys are distributed across multiple shards.
func TestSharded_ShardingDistribution(t *testing.T) {
	shardCount := 10
	sc := NewSharded(newShardOf[string, int](0, newFakeClock()), shardCount)
	// keyCount should be large enough compared to shardCount so it becomes virtually impossible to have a shard with
	// less than 50% of `keyCount/shardCount` keys.
	keyCount := 100_000
	for i := range keyCount {
		sc.Put(fmt.Sprintf("key-%d", i), i)
	}
	for _, shard := range sc.shards {
		assert.True(t, shard.Size() > keyCount/(2*shardCount),
			"Expected keys in each shard to be at least half the keys compared to the uniform distribution.")
	}
}

// TestSharded_ShardMapping makes sure every key lives in exactly the shard the hash points to.
func TestSharded_ShardMapping(t *testing.T) {
	sc := NewSharded(newShardOf[string, int](0, newFakeClock()), 10 /*shardCount*/)
	for i := range 100 {
		sc.Put(fmt.Sprintf("key-%d", i), i)
	}
	for i := range 100 {
		key := fmt.Sprintf("key-%d", i)
		owner := sc.getShard(key)
		for _, shard := range sc.shards {
			_, found := shard.(*Store[string, int]).Peek(key)
			assert.Equal(t, shard == owner, found, "Key %q should only live in its own shard", key)
		}
	}
}

func TestSharded_PerShardCapacity(t *testing.T) {
	sc := NewSharded(newShardOf[int, int](2 /*maxSize*/, newFakeClock()), 4)
	for i := range 100 {
		sc.Put(i, i)
	}
	for _, shard := range sc.shards {
		assert.LessOrEqual(t, shard.Size(), 2)
	}
	assert.LessOrEqual(t, sc.Size(), 8)
}

func TestSharded_NonPositiveShardCount(t *testing.T) {
	sc := NewSharded(newShardOf[string, int](0, newFakeClock()), 0)
	require.Len(t, sc.shards, 1)
	sc.Put("a", 1)
	assert.True(t, sc.Has("a"))
}

// memo keeps short-lived values in memory. This module provides an interface on caching, making a single store,
// a sharded store and a disabled cache share the same API.

package cache

import "time"

// Layer is the contract every memo cache implementation follows.
type Layer[K comparable, V any] interface {
	// Get returns the value for `key` and whether it was found. It refreshes the key's access time.
	Get(key K) (V, bool)
	// Has reports whether Get would find `key`; it has the same side effects as Get.
	Has(key K) bool
	Put(key K, value V)                           // Stores `value` with the default TTL.
	PutWithTTL(key K, value V, ttl time.Duration) // Stores `value`, expiring it after `ttl`.
	Delete(key K) bool                            // Removes `key`; returns false if it was absent.
	Clear()                                       // Removes all items from the cache.
	Keys() []K                                    // Returns the live keys in no particular order.
	Size() int                                    // Returns the number of live items.
	Stats() Stats                                 // Returns a read-only snapshot of the cache counters.
}

// Sweeper is implemented by layers that can remove their expired items on demand.
type Sweeper interface {
	// Sweep removes every expired item and returns how many were removed.
	Sweep() int
}

// StatsSource is anything that can report a Stats snapshot.
type StatsSource interface {
	Stats() Stats
}

// NoOp is a cache layer that doesn't store any items.
// It is used when cache is disabled.
type NoOp[K comparable, V any] struct { // Implements Layer.
}

var _ Layer[int, int] = (*NoOp[int, int])(nil)

// NewNoOp returns a no-operation cache layer that does not store any items.
func NewNoOp[K comparable, V any]() *NoOp[K, V] {
	return &NoOp[K, V]{}
}

// Get always returns false, indicating the key is not found.
func (n *NoOp[K, V]) Get(K) (V, bool) {
	var zero V
	return zero, false
}

// Has always returns false.
func (n *NoOp[K, V]) Has(K) bool { return false }

// Put drops the value.
func (n *NoOp[K, V]) Put(K, V) {}

// PutWithTTL drops the value.
func (n *NoOp[K, V]) PutWithTTL(K, V, time.Duration) {}

// Delete always returns false since nothing is ever stored.
func (n *NoOp[K, V]) Delete(K) bool { return false }

// Clear does nothing, as there are no items to remove.
func (n *NoOp[K, V]) Clear() {}

// Keys always returns nil, as there are no keys stored.
func (n *NoOp[K, V]) Keys() []K { return nil }

// Size is always zero.
func (n *NoOp[K, V]) Size() int { return 0 }

// Stats is always empty; a disabled cache keeps no counters.
func (n *NoOp[K, V]) Stats() Stats { return Stats{} }

package cache

import (
	"context"
	"fmt"

	"golang.org/x/sync/singleflight"
)

// LoadFunc fetches the value of `key` from wherever the cache is fronting.
type LoadFunc[K comparable, V any] func(ctx context.Context, key K) (V, error)

// Loading is a read-through cache: misses are filled by a loader. Concurrent misses on the same key share one load.
type Loading[K comparable, V any] struct {
	Layer[K, V]
	load    LoadFunc[K, V]
	flights singleflight.Group
}

// NewLoading wraps `layer` so GetOrLoad fills misses using `load`.
func NewLoading[K comparable, V any](layer Layer[K, V], load LoadFunc[K, V]) *Loading[K, V] {
	return &Loading[K, V]{Layer: layer, load: load}
}

// flightKey turns a key into a singleflight key; distinct keys of one type print differently under %#v.
func flightKey[K comparable](key K) string {
	if str, ok := any(key).(string); ok {
		return str
	}
	return fmt.Sprintf("%#v", key)
}

// GetOrLoad returns the cached value of `key`, loading and storing it on a miss. Load errors are not cached.
func (l *Loading[K, V]) GetOrLoad(ctx context.Context, key K) (V, error) {
	if err := ctx.Err(); err != nil {
		return *new(V), err
	}
	if value, found := l.Get(key); found {
		return value, nil
	}

	result, err, _ := l.flights.Do(flightKey(key), func() (any, error) {
		value, err := l.load(ctx, key)
		if err != nil {
			return nil, err
		}
		l.Put(key, value)
		return value, nil
	})
	if err != nil {
		return *new(V), fmt.Errorf("failed to load key %v: %w", key, err)
	}
	value, _ := result.(V) // A nil interface value comes back as a nil any.
	return value, nil
}

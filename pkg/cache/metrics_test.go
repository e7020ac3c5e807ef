package cache

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promclient "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gatherValues scrapes `registry` and maps each metric family name to its single sample value.
func gatherValues(t *testing.T, registry *prometheus.Registry) map[string]float64 {
	t.Helper()
	families, err := registry.Gather()
	require.NoError(t, err)
	values := make(map[string]float64, len(families))
	for _, family := range families {
		require.Len(t, family.GetMetric(), 1)
		metric := family.GetMetric()[0]
		switch family.GetType() {
		case promclient.MetricType_GAUGE:
			values[family.GetName()] = metric.GetGauge().GetValue()
		case promclient.MetricType_COUNTER:
			values[family.GetName()] = metric.GetCounter().GetValue()
		default:
			t.Fatalf("Unexpected metric type %v for %q", family.GetType(), family.GetName())
		}
	}
	return values
}

func TestStatsCollector(t *testing.T) {
	clock := newFakeClock()
	store := New(Config[string, int]{MaxSize: 2, Clock: clock.Now})
	registry := prometheus.NewRegistry()
	require.NoError(t, registry.Register(NewStatsCollector("memo", store)))

	assert.Equal(t, map[string]float64{
		"memo_cache_size":            0,
		"memo_cache_hits_total":      0,
		"memo_cache_misses_total":    0,
		"memo_cache_evictions_total": 0,
	}, gatherValues(t, registry))

	store.PutWithTTL("a", 1, time.Second)
	store.Put("b", 2)
	store.Get("b")
	store.Get("missing")
	store.Put("c", 3) // Evicts "a".
	clock.Advance(time.Hour)

	assert.Equal(t, map[string]float64{
		"memo_cache_size":            2,
		"memo_cache_hits_total":      1,
		"memo_cache_misses_total":    1,
		"memo_cache_evictions_total": 1,
	}, gatherValues(t, registry))
}

func TestStatsCollector_ScrapeDoesNotSweep(t *testing.T) {
	clock := newFakeClock()
	store := New(Config[string, int]{Clock: clock.Now})
	registry := prometheus.NewRegistry()
	require.NoError(t, registry.Register(NewStatsCollector("", store)))

	store.PutWithTTL("stale", 1, time.Second)
	clock.Advance(time.Minute)
	values := gatherValues(t, registry)
	assert.Equal(t, float64(1), values["cache_size"], "Expired but unswept items are still counted")
	assert.Equal(t, float64(0), values["cache_evictions_total"])
}

package cache

import "github.com/prometheus/client_golang/prometheus"

// StatsCollector exports a cache's Stats as Prometheus metrics. It reads a fresh snapshot on every scrape.
type StatsCollector struct {
	source    StatsSource
	size      *prometheus.Desc
	hits      *prometheus.Desc
	misses    *prometheus.Desc
	evictions *prometheus.Desc
}

var _ prometheus.Collector = (*StatsCollector)(nil)

// NewStatsCollector builds a collector for `source` whose metric names are prefixed with `namespace`.
func NewStatsCollector(namespace string, source StatsSource) *StatsCollector {
	newDesc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "cache", name), help, nil, nil)
	}
	return &StatsCollector{
		source:    source,
		size:      newDesc("size", "Number of items currently held by the cache, expired ones included."),
		hits:      newDesc("hits_total", "Number of reads that found a live item."),
		misses:    newDesc("misses_total", "Number of reads that found nothing or an expired item."),
		evictions: newDesc("evictions_total", "Number of items removed by capacity eviction or expiry sweeps."),
	}
}

func (c *StatsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.size
	ch <- c.hits
	ch <- c.misses
	ch <- c.evictions
}

func (c *StatsCollector) Collect(ch chan<- prometheus.Metric) {
	stats := c.source.Stats()
	ch <- prometheus.MustNewConstMetric(c.size, prometheus.GaugeValue, float64(stats.Size))
	ch <- prometheus.MustNewConstMetric(c.hits, prometheus.CounterValue, float64(stats.Hits))
	ch <- prometheus.MustNewConstMetric(c.misses, prometheus.CounterValue, float64(stats.Misses))
	ch <- prometheus.MustNewConstMetric(c.evictions, prometheus.CounterValue, float64(stats.Evictions))
}

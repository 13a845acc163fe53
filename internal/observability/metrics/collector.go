package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"pewsched/internal/eventbus"
)

// collector reads Stats on every scrape so the values never go stale.
type collector struct {
	src StatsSource
	bus eventbus.Counter

	queued    *prometheus.Desc
	pooled    *prometheus.Desc
	poolCap   *prometheus.Desc
	issued    *prometheus.Desc
	fired     *prometheus.Desc
	retired   *prometheus.Desc
	deleted   *prometheus.Desc
	panics    *prometheus.Desc
	published *prometheus.Desc
	dropped   *prometheus.Desc
}

func newCollector(src StatsSource, bus eventbus.Bus) *collector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, nil, nil)
	}
	c := &collector{
		src:       src,
		queued:    desc("queue_entries", "Entries waiting to fire."),
		pooled:    desc("pool_entries", "Retired entry shells kept for reuse."),
		poolCap:   desc("pool_capacity", "Maximum retained entry shells."),
		issued:    desc("entries_added_total", "Entries accepted by Add."),
		fired:     desc("entries_fired_total", "Task executions."),
		retired:   desc("entries_retired_total", "Entries that left the queue after firing or on shutdown."),
		deleted:   desc("entries_deleted_total", "Entries cancelled before firing."),
		panics:    desc("task_panics_total", "Task executions that panicked."),
		published: desc("events_published_total", "Lifecycle events published."),
		dropped:   desc("events_dropped_total", "Lifecycle events dropped by slow subscribers."),
	}
	if cnt, ok := bus.(eventbus.Counter); ok {
		c.bus = cnt
	}
	return c
}

func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.queued
	ch <- c.pooled
	ch <- c.poolCap
	ch <- c.issued
	ch <- c.fired
	ch <- c.retired
	ch <- c.deleted
	ch <- c.panics
	if c.bus != nil {
		ch <- c.published
		ch <- c.dropped
	}
}

func (c *collector) Collect(ch chan<- prometheus.Metric) {
	st := c.src.Stats()
	gauge := func(d *prometheus.Desc, v float64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v)
	}
	counter := func(d *prometheus.Desc, v uint64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v))
	}
	gauge(c.queued, float64(st.Queued))
	gauge(c.pooled, float64(st.Pooled))
	gauge(c.poolCap, float64(st.PoolCap))
	counter(c.issued, st.Issued)
	counter(c.fired, st.Fired)
	counter(c.retired, st.Retired)
	counter(c.deleted, st.Deleted)
	counter(c.panics, st.Panics)
	if c.bus != nil {
		counter(c.published, c.bus.Published())
		counter(c.dropped, c.bus.Dropped())
	}
}

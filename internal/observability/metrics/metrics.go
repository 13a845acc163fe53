// Package metrics exports scheduler state in the Prometheus format.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pewsched/internal/eventbus"
	"pewsched/internal/task/scheduler"
)

const namespace = "schedd"

// StatsSource is satisfied by *scheduler.Scheduler.
type StatsSource interface {
	Stats() scheduler.Stats
}

// Metrics owns a private registry with the scheduler collector, a task
// duration histogram and the Go runtime collectors.
type Metrics struct {
	reg      *prometheus.Registry
	duration *prometheus.HistogramVec
}

// New registers a collector for src. bus may be nil; when it implements
// eventbus.Counter its delivery counters are exported too.
func New(src StatsSource, bus eventbus.Bus) *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		reg: reg,
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Time spent executing a task, by outcome.",
			Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5},
		}, []string{"outcome"}),
	}
	reg.MustRegister(
		newCollector(src, bus),
		m.duration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// ObserveFire records one entry.fired event.
func (m *Metrics) ObserveFire(e scheduler.EntryEvent) {
	outcome := "done"
	switch {
	case e.Panicked:
		outcome = "panicked"
	case e.Continue:
		outcome = "continue"
	}
	m.duration.WithLabelValues(outcome).Observe(e.Took.Seconds())
}

// Run feeds entry.fired events from events into the histogram until ctx ends
// or events is closed.
func (m *Metrics) Run(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Type != scheduler.EventEntryFired {
				continue
			}
			if e, ok := ev.Data.(scheduler.EntryEvent); ok {
				m.ObserveFire(e)
			}
		}
	}
}

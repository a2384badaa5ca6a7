// Package metrics collects pod-internal counters and gauges (spec
// §11 domain stack). The tracked quantities mirror the donor repo's
// SupervisorStats/SupervisorMetrics shape (ready-queue depth,
// switch/fire counters, a boost counter, a heap occupancy gauge),
// backed by prometheus/client_golang collectors registered into a
// private registry — nothing in this module serves them over HTTP,
// since no wire protocol is in scope.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Set is a private collector registry for one pod instance.
type Set struct {
	Registry *prometheus.Registry

	ReadyQueueDepth    prometheus.Gauge
	ContextSwitches    prometheus.Counter
	TimerFires         prometheus.Counter
	PriorityBoosts     prometheus.Counter
	HeapBucketOccupied prometheus.Gauge
}

// New builds and registers a fresh collector set, namespaced by
// instance so multiple pods in one process do not collide.
func New(instance string) *Set {
	reg := prometheus.NewRegistry()
	constLabels := prometheus.Labels{"pod": instance}

	s := &Set{
		Registry: reg,
		ReadyQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "nanokernel",
			Name:        "ready_queue_depth",
			Help:        "Number of threads currently linked in the ready queue.",
			ConstLabels: constLabels,
		}),
		ContextSwitches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "nanokernel",
			Name:        "context_switches_total",
			Help:        "Number of times schedule() picked a different thread.",
			ConstLabels: constLabels,
		}),
		TimerFires: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "nanokernel",
			Name:        "timer_fires_total",
			Help:        "Number of timer-wheel callbacks fired.",
			ConstLabels: constLabels,
		}),
		PriorityBoosts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "nanokernel",
			Name:        "priority_boosts_total",
			Help:        "Number of times a thread was boosted by priority inheritance.",
			ConstLabels: constLabels,
		}),
		HeapBucketOccupied: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "nanokernel",
			Name:        "heap_bucket_pages_occupied",
			Help:        "Number of heap pages currently committed to a bucket or a page-range allocation.",
			ConstLabels: constLabels,
		}),
	}

	reg.MustRegister(s.ReadyQueueDepth, s.ContextSwitches, s.TimerFires, s.PriorityBoosts, s.HeapBucketOccupied)
	return s
}

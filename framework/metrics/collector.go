// Package metrics exports kernel activity as Prometheus metrics.
//
//	c := metrics.NewCollector("orders", true)
//	if err := c.Attach(k); err != nil { ... }
//	http.Handle("/metrics", c.Handler())
package metrics

import (
	"errors"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/km-arc/go-microkernel/framework/kernel"
)

// ErrAlreadyAttached is returned when a Collector is attached twice.
var ErrAlreadyAttached = errors.New("metrics: collector already attached to a kernel")

// Collector holds the kernel metrics in a private registry, so several
// collectors (one per test, say) never clash on global registration.
type Collector struct {
	registry *prometheus.Registry

	Registrations prometheus.Counter
	Removals      prometheus.Counter
	Created       *prometheus.CounterVec
	Destroyed     *prometheus.CounterVec
	Transitions   *prometheus.CounterVec
	Failures      *prometheus.CounterVec

	handlers *handlerCollector

	mu       sync.Mutex
	attached bool
}

// NewCollector builds the collector. withRuntime adds the Go runtime and
// process collectors to the registry.
func NewCollector(namespace string, withRuntime bool) *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		Registrations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "kernel",
			Name:      "registrations_total",
			Help:      "Total number of components registered",
		}),
		Removals: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "kernel",
			Name:      "removals_total",
			Help:      "Total number of components removed",
		}),
		Created: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "kernel",
			Name:      "instances_created_total",
			Help:      "Instances commissioned, by component and lifestyle",
		}, []string{"component", "lifestyle"}),
		Destroyed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "kernel",
			Name:      "instances_destroyed_total",
			Help:      "Instances decommissioned, by component",
		}, []string{"component"}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "kernel",
			Name:      "handler_transitions_total",
			Help:      "Handler state transitions",
		}, []string{"from", "to"}),
		Failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "kernel",
			Name:      "activation_failures_total",
			Help:      "Handlers that became invalid after a failed activation",
		}, []string{"component"}),
		handlers: newHandlerCollector(namespace),
	}

	registry.MustRegister(
		c.Registrations, c.Removals,
		c.Created, c.Destroyed, c.Transitions, c.Failures,
		c.handlers,
	)
	if withRuntime {
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return c
}

// Attach subscribes the collector to k's events and starts reporting its
// handler states and pool occupancy.
func (c *Collector) Attach(k *kernel.Kernel) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.attached {
		return ErrAlreadyAttached
	}
	c.attached = true
	c.handlers.source.Store(k)

	k.OnComponentRegistered(func(*kernel.Handler) { c.Registrations.Inc() })
	k.OnComponentRemoved(func(*kernel.Handler) { c.Removals.Inc() })
	k.OnComponentCreated(func(h *kernel.Handler, _ any) {
		c.Created.WithLabelValues(h.Name(), string(h.Lifestyle())).Inc()
	})
	k.OnComponentDestroyed(func(h *kernel.Handler, _ any) {
		c.Destroyed.WithLabelValues(h.Name()).Inc()
	})
	k.OnHandlerStateChanged(func(sc kernel.StateChange) {
		c.Transitions.WithLabelValues(sc.From.String(), sc.To.String()).Inc()
		if sc.To == kernel.Invalid {
			c.Failures.WithLabelValues(sc.Handler.Name()).Inc()
		}
	})
	return nil
}

// Registry exposes the private registry, e.g. for extra application metrics.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler returns the scrape endpoint for this collector.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		Registry:          c.registry,
		EnableOpenMetrics: true,
	})
}

// ── handler gauges ────────────────────────────────────────────────────────────

// handlerCollector reads handler states and pool stats at scrape time, so
// the gauges never drift from the registry.
type handlerCollector struct {
	source atomic.Pointer[kernel.Kernel]

	states *prometheus.Desc
	pool   *prometheus.Desc
}

func newHandlerCollector(namespace string) *handlerCollector {
	return &handlerCollector{
		states: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "kernel", "handlers"),
			"Registered handlers by state",
			[]string{"state"}, nil,
		),
		pool: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "kernel", "pool_instances"),
			"Pooled instances by component and occupancy",
			[]string{"component", "occupancy"}, nil,
		),
	}
}

func (hc *handlerCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- hc.states
	ch <- hc.pool
}

func (hc *handlerCollector) Collect(ch chan<- prometheus.Metric) {
	k := hc.source.Load()
	if k == nil {
		return
	}
	counts := map[kernel.HandlerState]int{}
	for _, h := range k.Handlers() {
		counts[h.State()]++
		if stats, ok := h.PoolStats(); ok {
			ch <- prometheus.MustNewConstMetric(hc.pool, prometheus.GaugeValue, float64(stats.Free), h.Name(), "free")
			ch <- prometheus.MustNewConstMetric(hc.pool, prometheus.GaugeValue, float64(stats.Borrowed), h.Name(), "borrowed")
		}
	}
	for _, s := range []kernel.HandlerState{kernel.WaitingDependency, kernel.Valid, kernel.Invalid} {
		ch <- prometheus.MustNewConstMetric(hc.states, prometheus.GaugeValue, float64(counts[s]), s.String())
	}
}

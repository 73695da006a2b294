// Package metrics exposes placement metrics to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/limiquantix/placement/internal/notify"
	"github.com/limiquantix/placement/internal/placement"
)

// Ensure Collector implements placement.Recorder
var _ placement.Recorder = (*Collector)(nil)

// Collector records allocation outcomes and notification drops.
type Collector struct {
	registry *prometheus.Registry

	allocationsTotal     *prometheus.CounterVec
	allocationDuration   *prometheus.HistogramVec
	hostSelectionsTotal  *prometheus.CounterVec
	notificationsDropped *prometheus.CounterVec
}

// NewCollector creates a collector backed by its own registry, which also
// carries the Go runtime and process collectors.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		allocationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "placement_allocations_total",
				Help: "Total number of allocation requests by policy and result",
			},
			[]string{"policy", "result"},
		),
		allocationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "placement_allocation_duration_seconds",
				Help:    "Time taken to place a VM",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"policy"},
		),
		hostSelectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "placement_host_selections_total",
				Help: "Number of VMs placed on each host by policy",
			},
			[]string{"policy", "host"},
		),
		notificationsDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "placement_notifications_dropped_total",
				Help: "Number of allocation events that did not reach a subscriber, by reason",
			},
			[]string{"reason"},
		),
	}

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.allocationsTotal,
		c.allocationDuration,
		c.hostSelectionsTotal,
		c.notificationsDropped,
	)

	return c
}

// ObserveAllocation implements placement.Recorder.
func (c *Collector) ObserveAllocation(policy, result string, elapsed time.Duration) {
	c.allocationsTotal.WithLabelValues(policy, result).Inc()
	c.allocationDuration.WithLabelValues(policy).Observe(elapsed.Seconds())
}

// ObserveSelection implements placement.Recorder.
func (c *Collector) ObserveSelection(policy, hostID string) {
	c.hostSelectionsTotal.WithLabelValues(policy, hostID).Inc()
}

// NotificationDropped counts an event the notification bus failed to deliver.
// Its signature matches notify.WithDropHandler.
func (c *Collector) NotificationDropped(_ string, reason notify.DropReason) {
	c.notificationsDropped.WithLabelValues(string(reason)).Inc()
}

// Registry returns the underlying Prometheus registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

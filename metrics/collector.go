// Package metrics implements the optional collector a sink exposing
// the requests_completed{rpcMethod=...} counter that both the client and
// server multiplexers report into.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collector wraps a dedicated prometheus registry so that multiple Clients
// or Servers in the same process (as in tests) never collide on the global
// default registry.
type Collector struct {
	registry          *prometheus.Registry
	requestsCompleted *prometheus.CounterVec
}

// NewCollector builds a Collector with its own registry.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	c := &Collector{
		registry: reg,
		requestsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "requests_completed",
			Help: "Count of Fast RPC requests that reached a terminal outcome.",
		}, []string{"rpcMethod", "outcome"}),
	}
	reg.MustRegister(c.requestsCompleted)
	return c
}

// RecordCompleted increments requests_completed for method/outcome. Safe to
// call on a nil *Collector, so callers can treat the option as optional.
func (c *Collector) RecordCompleted(method, outcome string) {
	if c == nil {
		return
	}
	c.requestsCompleted.WithLabelValues(method, outcome).Inc()
}

// Registry exposes the underlying registry so a caller can wire it into an
// HTTP /metrics endpoint.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Package metrics collects and exposes Prometheus metrics for the gateway.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector records per-operation outcomes and agent latency.
type Collector struct {
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	authRejections  *prometheus.CounterVec
	agentLatency    *prometheus.HistogramVec
}

// NewCollector creates a Collector and registers it with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Gateway operations by envelope status.",
		}, []string{"operation", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_request_duration_seconds",
			Help:    "Gateway operation latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		authRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_auth_rejections_total",
			Help: "Requests rejected for a missing, invalid or expired bearer token.",
		}, []string{"operation"}),
		agentLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_agent_latency_seconds",
			Help:    "Agent runtime round trip latency in seconds, by reply outcome.",
			Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		c.requests,
		c.requestDuration,
		c.authRejections,
		c.agentLatency,
	)
	return c
}

// RecordRequest records one completed operation.
func (c *Collector) RecordRequest(operation, status string, d time.Duration) {
	c.requests.WithLabelValues(operation, status).Inc()
	c.requestDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// RecordAuthRejection records a request turned away before domain logic.
func (c *Collector) RecordAuthRejection(operation string) {
	c.authRejections.WithLabelValues(operation).Inc()
}

// ObserveAgentLatency records one agent round trip.
func (c *Collector) ObserveAgentLatency(outcome string, d time.Duration) {
	c.agentLatency.WithLabelValues(outcome).Observe(d.Seconds())
}

// Handler returns the Prometheus scrape handler for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

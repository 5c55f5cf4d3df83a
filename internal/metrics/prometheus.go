// Package metrics exposes the API's Prometheus instruments.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ticketing"

// Prometheus holds the counters and histograms recorded by the API. Each
// instance owns its registry so tests can create as many as they like.
type Prometheus struct {
	registry *prometheus.Registry

	requestDuration *prometheus.HistogramVec
	webhookEvents   *prometheus.CounterVec
	signatures      *prometheus.CounterVec
}

// NewPrometheus registers the instruments plus the Go and process collectors
// on a fresh registry.
func NewPrometheus() *Prometheus {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Prometheus{
		registry: reg,
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency by route and status",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route", "status"},
		),
		webhookEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "webhook_events_total",
				Help:      "Payment webhook deliveries by event kind and reconciliation outcome",
			},
			[]string{"kind", "outcome"},
		),
		signatures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "webhook_signature_total",
				Help:      "Webhook signature checks by scheme and result",
			},
			[]string{"scheme", "valid"},
		),
	}
}

// RecordRequest observes one HTTP request.
func (p *Prometheus) RecordRequest(method, route, status string, duration time.Duration) {
	p.requestDuration.WithLabelValues(method, route, status).Observe(duration.Seconds())
}

// RecordWebhookEvent counts one dispatched delivery.
func (p *Prometheus) RecordWebhookEvent(kind, outcome string) {
	p.webhookEvents.WithLabelValues(kind, outcome).Inc()
}

// RecordSignature counts one signature verification.
func (p *Prometheus) RecordSignature(scheme string, valid bool) {
	p.signatures.WithLabelValues(scheme, strconv.FormatBool(valid)).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}

// Registry returns the underlying registry.
func (p *Prometheus) Registry() *prometheus.Registry {
	return p.registry
}

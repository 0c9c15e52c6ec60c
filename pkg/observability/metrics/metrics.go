package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// One increment per committed status change.
	StatusTransitionsTotal *prometheus.CounterVec

	// Rejected workflow calls by error kind (InvalidID, ValidationError, Forbidden).
	WorkflowRejectionsTotal *prometheus.CounterVec

	EventsPublishedTotal *prometheus.CounterVec
	NotificationsTotal   prometheus.Counter

	// Identifier types masked out of outbound events.
	PHIMaskedTotal *prometheus.CounterVec
)

func init() {
	registry = prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstac_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status_code"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstac_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	StatusTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstac_status_transitions_total",
			Help: "Test request status transitions",
		},
		[]string{"from", "to"},
	)
	WorkflowRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstac_workflow_rejections_total",
			Help: "Workflow operations rejected, by error kind",
		},
		[]string{"operation", "kind"},
	)
	EventsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstac_events_published_total",
			Help: "Status events handed to the event bus",
		},
		[]string{"result"},
	)
	NotificationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "upstac_notifications_total",
			Help: "Patient notifications written to inboxes",
		},
	)
	PHIMaskedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstac_phi_masked_total",
			Help: "Patient identifiers masked in outbound events, by type",
		},
		[]string{"type"},
	)

	registry.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		StatusTransitionsTotal,
		WorkflowRejectionsTotal,
		EventsPublishedTotal,
		NotificationsTotal,
		PHIMaskedTotal,
	)
}

func Registry() *prometheus.Registry {
	return registry
}

func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

func ObserveTransition(from, to string) {
	if from == "" {
		from = "NONE"
	}
	StatusTransitionsTotal.WithLabelValues(from, to).Inc()
}

func ObserveRejection(operation, kind string) {
	WorkflowRejectionsTotal.WithLabelValues(operation, kind).Inc()
}

func ObservePublish(err error) {
	if err != nil {
		EventsPublishedTotal.WithLabelValues("error").Inc()
		return
	}
	EventsPublishedTotal.WithLabelValues("ok").Inc()
}

func ObservePHIMasked(phiType string) {
	PHIMaskedTotal.WithLabelValues(phiType).Inc()
}

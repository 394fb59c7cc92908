package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var namespace = "easyqueue"

var (
	// MessagesPublished counts successful publishes partitioned by topic
	MessagesPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "queue",
		Name:      "messages_published_total",
		Help:      "Number of messages appended to a topic log",
	}, []string{"topic"})

	// BytesPublished counts payload bytes (without the length prefix)
	BytesPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "queue",
		Name:      "bytes_published_total",
		Help:      "Payload bytes appended to a topic log",
	}, []string{"topic"})

	MessagesDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "queue",
		Name:      "messages_delivered_total",
		Help:      "Number of messages handed to a consumer",
	}, []string{"topic"})

	// EmptyGets counts gets that found the consumer caught up with the head
	EmptyGets = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "queue",
		Name:      "empty_gets_total",
		Help:      "Number of gets that returned no message",
	}, []string{"topic"})

	GCDeletedChunks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "gc",
		Name:      "deleted_chunks_total",
		Help:      "Number of chunk files removed by garbage collection",
	}, []string{"topic"})

	GCFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "gc",
		Name:      "failures_total",
		Help:      "Number of garbage collection passes that reported an error",
	}, []string{"topic"})

	// Topics is the number of topics currently open in the registry
	Topics = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "registry",
		Name:      "topics",
		Help:      "Number of open topics",
	})

	// HTTPRequestsTotal stores the number of requests partitioned by route and status code
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Number of HTTP requests partitioned by route and status code",
	}, []string{"route", "code"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request processing time partitioned by route",
	}, []string{"route"})
)

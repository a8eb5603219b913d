package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// InferenceDuration is labelled by pipeline contract: detect, embed,
	// embed_batch, liveness.
	InferenceDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "facelogix",
		Name:      "inference_duration_seconds",
		Help:      "Duration of vision pipeline stages",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	}, []string{"stage"})

	FacesDetected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "facelogix",
		Name:      "faces_detected_total",
		Help:      "Total number of faces returned by the detector",
	})

	EmbedRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "facelogix",
		Name:      "embed_requests_total",
		Help:      "Total embed requests by outcome",
	}, []string{"outcome"})

	LivenessRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "facelogix",
		Name:      "liveness_requests_total",
		Help:      "Total liveness requests by verdict reason",
	}, []string{"reason"})

	AttendanceEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "facelogix",
		Name:      "attendance_events_total",
		Help:      "Total attendance events recorded by status",
	}, []string{"type", "status"})

	GallerySearchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "facelogix",
		Name:      "gallery_search_duration_seconds",
		Help:      "Duration of pgvector gallery searches",
		Buckets:   prometheus.DefBuckets,
	})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "facelogix",
		Name:      "queue_depth",
		Help:      "Number of pending messages in the attendance event stream",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "facelogix",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "facelogix",
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})

	ModelsLoaded = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "facelogix",
		Name:      "models_loaded",
		Help:      "1 once the Model Registry has warmed up both inference graphs",
	})
)

package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FramesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "verid",
		Name:      "frames_processed_total",
		Help:      "Total number of frames processed",
	}, []string{"stream_id"})

	FacesDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "verid",
		Name:      "faces_detected_total",
		Help:      "Total number of faces detected",
	}, []string{"stream_id"})

	QualityRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "verid",
		Name:      "quality_rejected_total",
		Help:      "Face crops rejected by the quality gate",
	}, []string{"stream_id"})

	LivenessVerdicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "verid",
		Name:      "liveness_verdicts_total",
		Help:      "Liveness session verdicts by outcome",
	}, []string{"outcome"})

	FacesMatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "verid",
		Name:      "faces_matched_total",
		Help:      "Verified faces matched to an enrolled identity",
	}, []string{"stream_id"})

	UnknownFaces = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "verid",
		Name:      "unknown_faces_total",
		Help:      "Verified faces with no identity within tolerance",
	}, []string{"stream_id"})

	AttendanceMarked = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "verid",
		Name:      "attendance_marked_total",
		Help:      "Attendance records created, by status",
	}, []string{"status"})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "verid",
		Name:      "stage_duration_seconds",
		Help:      "Duration of pipeline stages",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	}, []string{"stage"})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "verid",
		Name:      "queue_depth",
		Help:      "Number of pending frame tasks in queue",
	})

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "verid",
		Name:      "active_liveness_sessions",
		Help:      "Number of liveness sessions currently pending",
	})

	ActiveStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "verid",
		Name:      "active_streams",
		Help:      "Number of currently active camera streams",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "verid",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "verid",
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})
)

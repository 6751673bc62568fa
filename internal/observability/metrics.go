package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "faceguard"

var (
	Verifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "verifications_total",
		Help:      "Verification attempts by type, result and tier",
	}, []string{"type", "result", "tier"})

	VerificationDistance = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "verification_distance",
		Help:      "Distance between probe and template for face verifications",
		Buckets:   []float64{0.05, 0.1, 0.15, 0.2, 0.25, 0.3, 0.4, 0.5, 0.6, 0.8, 1.0, 1.4},
	})

	CaptureRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "capture_rejections_total",
		Help:      "Capture quality rejections by gate",
	}, []string{"gate"})

	RateLimitBlocks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rate_limit_blocks_total",
		Help:      "Subjects blocked after exceeding a limit",
	}, []string{"type"})

	SuspiciousActivity = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "suspicious_activity_total",
		Help:      "Suspicious device or location activity flagged during verification",
	}, []string{"kind", "severity"})

	AuditWriteFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "audit_write_failures_total",
		Help:      "Audit records that could not be written on the first attempt",
	})

	AuditRetryDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "audit_retry_queue_depth",
		Help:      "Pending audit records waiting for a retry",
	})

	AnomalyFindings = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "anomaly_findings_total",
		Help:      "Anomaly findings produced by scans",
	}, []string{"type", "severity"})

	AnomalyScanDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "anomaly_scan_duration_seconds",
		Help:      "Duration of anomaly detectors",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	}, []string{"detector"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})
)

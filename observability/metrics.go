package observability

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type moduleMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics

	approverMetricsOnce sync.Once
	approverRegistry    *ApproverMetrics
)

// ModuleMetrics returns the lazily-initialised registry recording JSON-RPC
// activity.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "evl",
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "Total JSON-RPC requests segmented by method and outcome.",
			}, []string{"method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "evl",
				Subsystem: "rpc",
				Name:      "errors_total",
				Help:      "Total JSON-RPC errors segmented by method and error code.",
			}, []string{"method", "code"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "evl",
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "evl",
				Subsystem: "rpc",
				Name:      "throttles_total",
				Help:      "Count of requests rejected by rate limiting.",
			}, []string{"method", "reason"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.errors,
			moduleRegistry.latency,
			moduleRegistry.throttles,
		)
	})
	return moduleRegistry
}

// Observe records the outcome of a JSON-RPC call. code is zero on success.
func (m *moduleMetrics) Observe(method string, code int, duration time.Duration) {
	if m == nil {
		return
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if code != 0 {
		outcome = "error"
		m.errors.WithLabelValues(method, fmt.Sprintf("%d", code)).Inc()
	}
	m.requests.WithLabelValues(method, outcome).Inc()
	m.latency.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter. Reasons should be stable
// strings such as "rate_limit".
func (m *moduleMetrics) RecordThrottle(method, reason string) {
	if m == nil {
		return
	}
	if method == "" {
		method = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(method, reason).Inc()
}

// ApproverMetrics wraps collectors for the registration signing service.
type ApproverMetrics struct {
	signatures *prometheus.CounterVec
	latency    prometheus.Histogram
	rejections *prometheus.CounterVec
}

// Approverd exposes the metrics registry for the approver daemon.
func Approverd() *ApproverMetrics {
	approverMetricsOnce.Do(func() {
		approverRegistry = &ApproverMetrics{
			signatures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "evl",
				Subsystem: "approverd",
				Name:      "signatures_total",
				Help:      "Count of issued registration signatures by verification type.",
			}, []string{"verification"}),
			latency: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "evl",
				Subsystem: "approverd",
				Name:      "sign_duration_seconds",
				Help:      "Latency distribution for signing requests.",
				Buckets:   prometheus.DefBuckets,
			}),
			rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "evl",
				Subsystem: "approverd",
				Name:      "rejections_total",
				Help:      "Count of refused signing requests by reason.",
			}, []string{"reason"}),
		}
		prometheus.MustRegister(
			approverRegistry.signatures,
			approverRegistry.latency,
			approverRegistry.rejections,
		)
	})
	return approverRegistry
}

// RecordSignature counts an issued signature and its latency.
func (m *ApproverMetrics) RecordSignature(verification string, d time.Duration) {
	if m == nil {
		return
	}
	m.signatures.WithLabelValues(label(verification)).Inc()
	m.latency.Observe(d.Seconds())
}

// RecordRejection increments the refusal counter for reason.
func (m *ApproverMetrics) RecordRejection(reason string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(label(reason)).Inc()
}

func label(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return strings.ToLower(trimmed)
}

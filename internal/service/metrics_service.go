package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/lms-enrollment-api/internal/dto"
)

// MetricsService encapsulates Prometheus instrumentation for HTTP traffic,
// the course cache, enrollment workflow runs and notification fan-out.
type MetricsService struct {
	registry             *prometheus.Registry
	handler              http.Handler
	requestDuration      *prometheus.HistogramVec
	requestTotal         *prometheus.CounterVec
	cacheLatency         prometheus.Observer
	cacheWrite           prometheus.Observer
	cacheHitRatio        prometheus.Gauge
	cacheHits            prometheus.Counter
	cacheMisses          prometheus.Counter
	workflowRuns         *prometheus.CounterVec
	workflowStepDuration *prometheus.HistogramVec
	notifications        *prometheus.CounterVec
	courseTransitions    *prometheus.CounterVec
	queueJobs            *prometheus.CounterVec

	cacheHitCount         uint64
	cacheMissCount        uint64
	requestCount          uint64
	requestDurationTotal  uint64
	workflowRunCount      uint64
	workflowFailureCount  uint64
	notificationDelivered uint64
	notificationFailed    uint64
}

// NewMetricsService registers the Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_latency_seconds",
		Help:    "Latency for cache operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheWrite := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_write_seconds",
		Help:    "Latency for cache set operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheHitRatio := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cache_hit_ratio",
		Help: "Ratio of cache hits to total cache lookups",
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	workflowRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "enrollment_workflow_runs_total",
		Help: "Enrollment workflow runs by outcome",
	}, []string{"outcome"})

	workflowStepDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "enrollment_workflow_step_duration_seconds",
		Help:    "Duration of enrollment workflow steps",
		Buckets: prometheus.DefBuckets,
	}, []string{"step", "outcome"})

	notifications := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_dispatched_total",
		Help: "Per-recipient notification deliveries by event type and result",
	}, []string{"event", "result"})

	courseTransitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "course_transitions_total",
		Help: "Course lifecycle actions by result",
	}, []string{"action", "result"})

	queueJobs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "job_queue_attempts_total",
		Help: "Background job attempts by queue and result",
	}, []string{"queue", "result"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheLatency, cacheWrite, cacheHitRatio, cacheHits, cacheMisses,
		workflowRuns, workflowStepDuration, notifications, courseTransitions, queueJobs, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:             registry,
		handler:              handler,
		requestDuration:      requestDuration,
		requestTotal:         requestTotal,
		cacheLatency:         cacheLatency,
		cacheWrite:           cacheWrite,
		cacheHitRatio:        cacheHitRatio,
		cacheHits:            cacheHits,
		cacheMisses:          cacheMisses,
		workflowRuns:         workflowRuns,
		workflowStepDuration: workflowStepDuration,
		notifications:        notifications,
		courseTransitions:    courseTransitions,
		queueJobs:            queueJobs,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics and aggregates simple stats for snapshots.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
	atomic.AddUint64(&m.requestCount, 1)
	atomic.AddUint64(&m.requestDurationTotal, uint64(duration.Nanoseconds()))
}

// RecordCacheOperation records cache hit/miss metrics and updates hit ratio.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	if m.cacheLatency != nil {
		m.cacheLatency.Observe(duration.Seconds())
	}
	if hit {
		m.cacheHits.Inc()
		atomic.AddUint64(&m.cacheHitCount, 1)
	} else {
		m.cacheMisses.Inc()
		atomic.AddUint64(&m.cacheMissCount, 1)
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	total := hits + misses
	if total > 0 {
		m.cacheHitRatio.Set(float64(hits) / float64(total))
	}
}

// ObserveCacheWrite tracks the duration for cache write operations.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil || m.cacheWrite == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// ObserveWorkflowStep records the duration and outcome of one workflow step.
func (m *MetricsService) ObserveWorkflowStep(step string, success bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.workflowStepDuration.WithLabelValues(step, outcomeLabel(success)).Observe(duration.Seconds())
}

// RecordWorkflowRun counts a completed workflow run.
func (m *MetricsService) RecordWorkflowRun(success bool) {
	if m == nil {
		return
	}
	m.workflowRuns.WithLabelValues(outcomeLabel(success)).Inc()
	atomic.AddUint64(&m.workflowRunCount, 1)
	if !success {
		atomic.AddUint64(&m.workflowFailureCount, 1)
	}
}

// RecordNotification counts one per-recipient delivery attempt.
func (m *MetricsService) RecordNotification(event string, delivered bool) {
	if m == nil {
		return
	}
	result := "delivered"
	if !delivered {
		result = "failed"
		atomic.AddUint64(&m.notificationFailed, 1)
	} else {
		atomic.AddUint64(&m.notificationDelivered, 1)
	}
	m.notifications.WithLabelValues(event, result).Inc()
}

// RecordCourseTransition counts a lifecycle action; result is applied, noop or rejected.
func (m *MetricsService) RecordCourseTransition(action, result string) {
	if m == nil {
		return
	}
	m.courseTransitions.WithLabelValues(action, result).Inc()
}

// RecordJobAttempt counts a background job attempt.
func (m *MetricsService) RecordJobAttempt(queue string, success bool) {
	if m == nil {
		return
	}
	m.queueJobs.WithLabelValues(queue, outcomeLabel(success)).Inc()
}

// Snapshot returns aggregated counters for the health endpoint.
func (m *MetricsService) Snapshot() dto.MetricsSnapshot {
	if m == nil {
		return dto.MetricsSnapshot{}
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	requests := atomic.LoadUint64(&m.requestCount)
	reqDuration := atomic.LoadUint64(&m.requestDurationTotal)

	var cacheRatio float64
	if totalLookups := hits + misses; totalLookups > 0 {
		cacheRatio = float64(hits) / float64(totalLookups)
	}

	var avgRequestMs float64
	if requests > 0 {
		avgRequestMs = float64(reqDuration) / float64(requests) / float64(time.Millisecond)
	}

	return dto.MetricsSnapshot{
		RequestsTotal:            requests,
		AverageRequestDurationMs: avgRequestMs,
		CacheHitRatio:            cacheRatio,
		WorkflowRuns:             atomic.LoadUint64(&m.workflowRunCount),
		WorkflowFailures:         atomic.LoadUint64(&m.workflowFailureCount),
		NotificationsDelivered:   atomic.LoadUint64(&m.notificationDelivered),
		NotificationsFailed:      atomic.LoadUint64(&m.notificationFailed),
		Goroutines:               runtime.NumGoroutine(),
		GeneratedAt:              time.Now().UTC(),
	}
}

func outcomeLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

package service

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsServiceSnapshot(t *testing.T) {
	m := NewMetricsService()
	m.ObserveHTTPRequest(http.MethodPost, "/enrollments", http.StatusCreated, 20*time.Millisecond)
	m.ObserveHTTPRequest(http.MethodPost, "/enrollments", http.StatusUnprocessableEntity, 40*time.Millisecond)
	m.RecordCacheOperation(true, time.Millisecond)
	m.RecordCacheOperation(false, time.Millisecond)
	m.RecordWorkflowRun(true)
	m.RecordWorkflowRun(false)
	m.RecordNotification("STUDENT_ENROLLED", true)
	m.RecordNotification("STUDENT_ENROLLED", false)
	m.ObserveWorkflowStep("validation", true, time.Millisecond)
	m.RecordCourseTransition("publish", "applied")
	m.RecordJobAttempt("notifications", true)

	snap := m.Snapshot()
	assert.Equal(t, uint64(2), snap.RequestsTotal)
	assert.InDelta(t, 30.0, snap.AverageRequestDurationMs, 0.001)
	assert.InDelta(t, 0.5, snap.CacheHitRatio, 0.001)
	assert.Equal(t, uint64(2), snap.WorkflowRuns)
	assert.Equal(t, uint64(1), snap.WorkflowFailures)
	assert.Equal(t, uint64(1), snap.NotificationsDelivered)
	assert.Equal(t, uint64(1), snap.NotificationsFailed)

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, err := io.ReadAll(w.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `enrollment_workflow_runs_total{outcome="failure"} 1`)
	assert.Contains(t, string(body), `course_transitions_total{action="publish",result="applied"} 1`)
}

func TestMetricsServiceNilSafe(t *testing.T) {
	var m *MetricsService
	assert.NotPanics(t, func() {
		m.RecordWorkflowRun(true)
		m.RecordNotification("COURSE_CREATED", true)
		m.ObserveWorkflowStep("notification", false, time.Millisecond)
		m.RecordCourseTransition("archive", "noop")
		m.RecordJobAttempt("notifications", false)
	})
	assert.Zero(t, m.Snapshot().WorkflowRuns)
}

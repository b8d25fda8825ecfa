package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lms-enrollment-api/internal/dto"
	"github.com/noah-isme/lms-enrollment-api/internal/models"
	"github.com/noah-isme/lms-enrollment-api/pkg/config"
)

func TestEnrollmentGateCheckOrder(t *testing.T) {
	capacity := 2
	students := &fakeStudents{students: map[string]*models.Student{"7": {ID: "7", FullName: "Ana Souza", Active: true}}}
	courses := &fakeCourses{courses: map[string]*models.Course{
		"open":   {ID: "open", Name: "Open", Status: models.CourseStatusActive, Capacity: &capacity},
		"draft":  {ID: "draft", Name: "Draft", Status: models.CourseStatusDraft},
		"closed": {ID: "closed", Name: "Closed", Status: models.CourseStatusFinished},
		"free":   {ID: "free", Name: "Unlimited", Status: models.CourseStatusActive},
	}}
	store := newFakeEnrollmentStore()
	gate := NewEnrollmentGate(students, courses, store)

	tests := []struct {
		name    string
		student string
		course  string
		setup   func()
		check   string
		message string
	}{
		{name: "missing student wins over missing course", student: "8", course: "nope", check: GateCheckStudent, message: "student 8 not found"},
		{name: "missing course", student: "7", course: "nope", check: GateCheckCourse, message: "course nope not found"},
		{name: "draft course", student: "7", course: "draft", check: GateCheckAvailable, message: "course Draft is not available for enrollment (status DRAFT)"},
		{name: "finished course", student: "7", course: "closed", check: GateCheckAvailable, message: "course Closed is not available for enrollment (status FINISHED)"},
		{
			name: "duplicate checked before capacity", student: "7", course: "open",
			setup: func() {
				store.preActive["open"] = 2
				store.records["x"] = &models.Enrollment{ID: "x", StudentID: "7", CourseID: "open", Status: models.EnrollmentStatusActive}
			},
			check: GateCheckDuplicate, message: "student 7 is already enrolled in course Open",
		},
		{
			name: "full course", student: "7", course: "open",
			setup: func() {
				delete(store.records, "x")
				store.preActive["open"] = 2
			},
			check: GateCheckCapacity, message: "course Open is full (2/2)",
		},
		{
			name: "one seat left", student: "7", course: "open",
			setup: func() { store.preActive["open"] = 1 },
		},
		{name: "no capacity limit", student: "7", course: "free"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.setup != nil {
				tc.setup()
			}
			outcome, err := gate.Validate(context.Background(), tc.student, tc.course)
			require.NoError(t, err)
			assert.Equal(t, tc.check, outcome.FailedCheck)
			assert.Equal(t, tc.message, outcome.Message)
			assert.Equal(t, tc.check == "", outcome.Passed())
		})
	}
}

func TestEnrollmentGateReportsLookupFailures(t *testing.T) {
	students := &fakeStudents{err: errors.New("connection reset")}
	gate := NewEnrollmentGate(students, &fakeCourses{}, newFakeEnrollmentStore())

	_, err := gate.Validate(context.Background(), "7", "42")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestEnrollmentProcessorCategories(t *testing.T) {
	amount := 199.9
	tests := []struct {
		name       string
		req        dto.EnrollmentWorkflowRequest
		success    bool
		status     models.EnrollmentStatus
		message    string
		branchStep string
	}{
		{
			name:       "free",
			req:        dto.EnrollmentWorkflowRequest{StudentID: "7", CourseID: "42", Category: models.EnrollmentCategoryFree},
			success:    true,
			status:     models.EnrollmentStatusActive,
			message:    "gratuita enrollment activated",
			branchStep: "process_free",
		},
		{
			name:       "paid",
			req:        dto.EnrollmentWorkflowRequest{StudentID: "7", CourseID: "42", Category: models.EnrollmentCategoryPaid, PaymentMethod: "pix", Amount: &amount, DiscountCode: "EARLY"},
			success:    true,
			status:     models.EnrollmentStatusActive,
			message:    "paga enrollment activated",
			branchStep: "process_payment",
		},
		{
			name:    "paid without amount",
			req:     dto.EnrollmentWorkflowRequest{StudentID: "7", CourseID: "42", Category: models.EnrollmentCategoryPaid, PaymentMethod: "pix"},
			status:  models.EnrollmentStatusFailed,
			message: "paid enrollment requires amount",
		},
		{
			name:       "scholarship",
			req:        dto.EnrollmentWorkflowRequest{StudentID: "7", CourseID: "42", Category: models.EnrollmentCategoryScholarship, ScholarshipType: "merit", ScholarshipCode: "M-2024"},
			success:    true,
			status:     models.EnrollmentStatusActive,
			message:    "beca enrollment activated",
			branchStep: "process_scholarship",
		},
		{
			name:    "scholarship without fields",
			req:     dto.EnrollmentWorkflowRequest{StudentID: "7", CourseID: "42", Category: models.EnrollmentCategoryScholarship},
			status:  models.EnrollmentStatusFailed,
			message: "scholarship enrollment requires scholarship type and scholarship code",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			store := newFakeEnrollmentStore()
			processor := NewEnrollmentProcessor(store, nil)

			outcome, err := processor.Process(context.Background(), tc.req)
			require.NoError(t, err)
			assert.Equal(t, tc.success, outcome.Success)
			assert.Equal(t, tc.message, outcome.Message)
			require.NotNil(t, outcome.Enrollment)
			assert.Equal(t, tc.status, outcome.Enrollment.Status)

			records := store.all()
			require.Len(t, records, 1)
			assert.Equal(t, tc.status, records[0].Status)
			if tc.success {
				assert.Nil(t, records[0].FailureReason)
			} else {
				require.NotNil(t, records[0].FailureReason)
				assert.Equal(t, tc.message, *records[0].FailureReason)
			}

			names := make([]string, 0, len(outcome.Steps))
			for i, step := range outcome.Steps {
				assert.Equal(t, i+1, step.Order)
				names = append(names, step.Name)
			}
			expected := []string{"validate_category_fields", "persist_enrollment"}
			if tc.branchStep != "" {
				expected = append(expected, tc.branchStep)
			}
			expected = append(expected, "finalize_status")
			assert.Equal(t, expected, names)
		})
	}
}

func TestEnrollmentProcessorPaidDetails(t *testing.T) {
	amount := 50.0
	store := newFakeEnrollmentStore()
	processor := NewEnrollmentProcessor(store, nil)

	outcome, err := processor.Process(context.Background(), dto.EnrollmentWorkflowRequest{
		StudentID: "7", CourseID: "42", Category: models.EnrollmentCategoryPaid, PaymentMethod: " card ", Amount: &amount,
	})
	require.NoError(t, err)
	require.True(t, outcome.Success)
	require.NotNil(t, outcome.Enrollment.PaymentMethod)
	assert.Equal(t, "card", *outcome.Enrollment.PaymentMethod)
	assert.Nil(t, outcome.Enrollment.DiscountCode)
	assert.Equal(t, "50.00", outcome.Steps[2].Details["amount"])
}

func TestEnrollmentProcessorUnknownCategoryWritesNothing(t *testing.T) {
	store := newFakeEnrollmentStore()
	processor := NewEnrollmentProcessor(store, nil)

	outcome, err := processor.Process(context.Background(), dto.EnrollmentWorkflowRequest{StudentID: "7", CourseID: "42", Category: "VIP"})
	require.NoError(t, err)
	assert.False(t, outcome.Success)
	assert.Nil(t, outcome.Enrollment)
	assert.Contains(t, outcome.Message, "unsupported enrollment category")
	assert.Empty(t, store.all())
}

type rejectingBranch struct{ freeBranch }

func (rejectingBranch) Process(context.Context, *models.Enrollment) (map[string]interface{}, error) {
	return nil, errors.New("card declined")
}

func TestEnrollmentProcessorBranchFailureFinalizesFailed(t *testing.T) {
	store := newFakeEnrollmentStore()
	processor := NewEnrollmentProcessor(store, nil, rejectingBranch{})

	outcome, err := processor.Process(context.Background(), dto.EnrollmentWorkflowRequest{StudentID: "7", CourseID: "42", Category: models.EnrollmentCategoryFree})
	require.NoError(t, err)
	assert.False(t, outcome.Success)
	assert.Equal(t, "card declined", outcome.Message)
	assert.Equal(t, models.EnrollmentStatusFailed, store.all()[0].Status)
}

func TestContentProvisioner(t *testing.T) {
	provisioner := NewContentProvisioner(&fakeMaterials{counts: map[string]int{"42": 4}})

	result, err := provisioner.Provision(context.Background(), &models.Enrollment{CourseID: "42"})
	require.NoError(t, err)
	assert.True(t, result.Ready)
	assert.Equal(t, 4, result.Count)

	result, err = provisioner.Provision(context.Background(), &models.Enrollment{CourseID: "empty"})
	require.NoError(t, err)
	assert.False(t, result.Ready)
	assert.Equal(t, "course has no active materials yet", result.Message)
}

func TestAssessmentProvisioner(t *testing.T) {
	provisioner := NewAssessmentProvisioner(&fakeEvaluations{summaries: map[string]models.EvaluationSummary{"42": {Count: 3, MaxPoints: 250}}})

	result, err := provisioner.Provision(context.Background(), &models.Enrollment{CourseID: "42"})
	require.NoError(t, err)
	assert.True(t, result.Ready)
	assert.Equal(t, 3, result.Count)
	assert.Equal(t, 250.0, result.MaxPoints)

	result, err = provisioner.Provision(context.Background(), &models.Enrollment{CourseID: "empty"})
	require.NoError(t, err)
	assert.False(t, result.Ready)
	assert.Equal(t, "course has no active assessments yet", result.Message)
}

func TestNotificationPlannerSchedules(t *testing.T) {
	planner, err := NewNotificationPlanner(config.TrackingConfig{
		WelcomeDelay:          5 * time.Minute,
		ReminderSchedule:      "0 9 * * MON",
		ReminderCount:         2,
		DeadlineAlertSchedule: "0 18 * * FRI",
		DeadlineAlertCount:    1,
	})
	require.NoError(t, err)

	start := time.Date(2024, time.January, 1, 8, 0, 0, 0, time.UTC)
	plan := planner.Plan(start)
	assert.Equal(t, time.Date(2024, time.January, 1, 8, 5, 0, 0, time.UTC), plan.WelcomeAt)
	assert.Equal(t, []time.Time{
		time.Date(2024, time.January, 1, 9, 0, 0, 0, time.UTC),
		time.Date(2024, time.January, 8, 9, 0, 0, 0, time.UTC),
	}, plan.Reminders)
	assert.Equal(t, []time.Time{time.Date(2024, time.January, 5, 18, 0, 0, 0, time.UTC)}, plan.DeadlineAlerts)

	_, err = NewNotificationPlanner(config.TrackingConfig{ReminderSchedule: "every tuesday"})
	assert.Error(t, err)
}

func TestTrackingActivatorStoresZeroedRecord(t *testing.T) {
	progress := &fakeProgress{}
	planner, err := NewNotificationPlanner(config.TrackingConfig{ReminderSchedule: "0 9 * * MON", ReminderCount: 1})
	require.NoError(t, err)
	activator := NewTrackingActivator(progress, planner)
	activator.now = func() time.Time { return time.Date(2024, time.January, 1, 8, 0, 0, 0, time.UTC) }

	tracking, err := activator.Activate(context.Background(), &models.Enrollment{ID: "enr-1", StudentID: "7", CourseID: "42"})
	require.NoError(t, err)
	assert.Equal(t, "enr-1", tracking.EnrollmentID)
	assert.Zero(t, tracking.MaterialsProgress)
	assert.Zero(t, tracking.AssessmentsCompleted)
	assert.Zero(t, tracking.TimeSpentMinutes)

	var plan models.NotificationPlan
	require.NoError(t, json.Unmarshal(tracking.NotificationPlan, &plan))
	require.Len(t, plan.Reminders, 1)
	assert.True(t, plan.Reminders[0].Equal(time.Date(2024, time.January, 1, 9, 0, 0, 0, time.UTC)))
	require.Len(t, progress.records, 1)
}

func TestRunBounded(t *testing.T) {
	value, err := runBounded(context.Background(), time.Second, func(context.Context) (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, value)

	_, err = runBounded(context.Background(), 10*time.Millisecond, func(ctx context.Context) (int, error) {
		<-ctx.Done()
		time.Sleep(20 * time.Millisecond)
		return 1, nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "step timed out after 10ms")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	_, err = runBounded(context.Background(), 0, func(context.Context) (int, error) { panic("kaboom") })
	require.Error(t, err)
	assert.Equal(t, "step panicked: kaboom", err.Error())
}

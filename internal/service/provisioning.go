package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/noah-isme/lms-enrollment-api/internal/models"
	"github.com/noah-isme/lms-enrollment-api/pkg/config"
)

type materialCounter interface {
	CountActiveByCourse(ctx context.Context, courseID string) (int, error)
}

type evaluationSummarizer interface {
	SummarizeActiveByCourse(ctx context.Context, courseID string) (*models.EvaluationSummary, error)
}

type progressWriter interface {
	Upsert(ctx context.Context, tracking *models.ProgressTracking) error
}

// ProvisionResult reports what a provisioning step found for an enrollment.
// Ready is false when the course has nothing to provision; that is a warning,
// not an error.
type ProvisionResult struct {
	Ready     bool
	Count     int
	MaxPoints float64
	Message   string
}

// ContentProvisioner makes course materials available to a new enrollment.
type ContentProvisioner struct {
	materials materialCounter
}

// NewContentProvisioner constructs the content step.
func NewContentProvisioner(materials materialCounter) *ContentProvisioner {
	return &ContentProvisioner{materials: materials}
}

// Provision counts the active materials of the enrollment's course.
func (p *ContentProvisioner) Provision(ctx context.Context, enrollment *models.Enrollment) (ProvisionResult, error) {
	count, err := p.materials.CountActiveByCourse(ctx, enrollment.CourseID)
	if err != nil {
		return ProvisionResult{}, err
	}
	if count == 0 {
		return ProvisionResult{Message: "course has no active materials yet"}, nil
	}
	return ProvisionResult{Ready: true, Count: count, Message: fmt.Sprintf("%d materials assigned", count)}, nil
}

// AssessmentProvisioner prepares course evaluations for a new enrollment.
type AssessmentProvisioner struct {
	evaluations evaluationSummarizer
}

// NewAssessmentProvisioner constructs the assessment step.
func NewAssessmentProvisioner(evaluations evaluationSummarizer) *AssessmentProvisioner {
	return &AssessmentProvisioner{evaluations: evaluations}
}

// Provision counts active evaluations and sums their maximum points.
func (p *AssessmentProvisioner) Provision(ctx context.Context, enrollment *models.Enrollment) (ProvisionResult, error) {
	summary, err := p.evaluations.SummarizeActiveByCourse(ctx, enrollment.CourseID)
	if err != nil {
		return ProvisionResult{}, err
	}
	if summary == nil || summary.Count == 0 {
		return ProvisionResult{Message: "course has no active assessments yet"}, nil
	}
	return ProvisionResult{
		Ready:     true,
		Count:     summary.Count,
		MaxPoints: summary.MaxPoints,
		Message:   fmt.Sprintf("%d assessments ready (%.2f points)", summary.Count, summary.MaxPoints),
	}, nil
}

// NotificationPlanner computes the welcome, reminder and deadline alert times
// of a tracked enrollment from cron expressions.
type NotificationPlanner struct {
	welcomeDelay  time.Duration
	reminders     cron.Schedule
	reminderCount int
	deadlines     cron.Schedule
	deadlineCount int
}

// NewNotificationPlanner parses the tracking schedules.
func NewNotificationPlanner(cfg config.TrackingConfig) (*NotificationPlanner, error) {
	planner := &NotificationPlanner{
		welcomeDelay:  cfg.WelcomeDelay,
		reminderCount: cfg.ReminderCount,
		deadlineCount: cfg.DeadlineAlertCount,
	}
	if cfg.ReminderSchedule != "" {
		schedule, err := cron.ParseStandard(cfg.ReminderSchedule)
		if err != nil {
			return nil, fmt.Errorf("parse reminder schedule: %w", err)
		}
		planner.reminders = schedule
	}
	if cfg.DeadlineAlertSchedule != "" {
		schedule, err := cron.ParseStandard(cfg.DeadlineAlertSchedule)
		if err != nil {
			return nil, fmt.Errorf("parse deadline alert schedule: %w", err)
		}
		planner.deadlines = schedule
	}
	return planner, nil
}

// Plan lists the planned notification times after start.
func (p *NotificationPlanner) Plan(start time.Time) models.NotificationPlan {
	return models.NotificationPlan{
		WelcomeAt:      start.Add(p.welcomeDelay),
		Reminders:      nextRuns(p.reminders, start, p.reminderCount),
		DeadlineAlerts: nextRuns(p.deadlines, start, p.deadlineCount),
	}
}

func nextRuns(schedule cron.Schedule, from time.Time, count int) []time.Time {
	runs := make([]time.Time, 0, count)
	if schedule == nil {
		return runs
	}
	next := from
	for i := 0; i < count; i++ {
		next = schedule.Next(next)
		if next.IsZero() {
			break
		}
		runs = append(runs, next)
	}
	return runs
}

// TrackingActivator opens the progress tracking record of an enrollment.
type TrackingActivator struct {
	progress progressWriter
	planner  *NotificationPlanner
	now      func() time.Time
}

// NewTrackingActivator constructs the tracking step.
func NewTrackingActivator(progress progressWriter, planner *NotificationPlanner) *TrackingActivator {
	if planner == nil {
		planner = &NotificationPlanner{}
	}
	return &TrackingActivator{progress: progress, planner: planner, now: time.Now}
}

// Activate stores a zeroed tracking record with its notification plan. No
// timers are started here.
func (a *TrackingActivator) Activate(ctx context.Context, enrollment *models.Enrollment) (*models.ProgressTracking, error) {
	started := a.now().UTC()
	plan, err := json.Marshal(a.planner.Plan(started))
	if err != nil {
		return nil, fmt.Errorf("marshal notification plan: %w", err)
	}
	tracking := &models.ProgressTracking{
		StudentID:        enrollment.StudentID,
		CourseID:         enrollment.CourseID,
		EnrollmentID:     enrollment.ID,
		StartedAt:        started,
		NotificationPlan: plan,
	}
	if err := a.progress.Upsert(ctx, tracking); err != nil {
		return nil, err
	}
	return tracking, nil
}

// runBounded runs fn with a deadline. When the deadline passes first the
// result is abandoned and a timeout error returned.
func runBounded[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return callSafely(ctx, fn)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)
	go func() {
		value, err := callSafely(ctx, fn)
		done <- result{value: value, err: err}
	}()

	select {
	case res := <-done:
		return res.value, res.err
	case <-ctx.Done():
		var zero T
		return zero, fmt.Errorf("step timed out after %s: %w", timeout, ctx.Err())
	}
}

func callSafely[T any](ctx context.Context, fn func(context.Context) (T, error)) (value T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("step panicked: %v", r)
		}
	}()
	return fn(ctx)
}

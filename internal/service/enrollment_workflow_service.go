package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/lms-enrollment-api/internal/dto"
	"github.com/noah-isme/lms-enrollment-api/internal/models"
	"github.com/noah-isme/lms-enrollment-api/pkg/logger"
)

// Workflow step names as reported in results and metrics.
const (
	StepValidation  = "validation"
	StepEnrollment  = "enrollment"
	StepContent     = "content_provisioning"
	StepAssessments = "assessment_provisioning"
	StepTracking    = "tracking_activation"
	StepNotify      = "notification"
)

var errNoTrackingRecord = errors.New("tracking activator returned no record")

type enrollmentGate interface {
	Validate(ctx context.Context, studentID, courseID string) (GateOutcome, error)
}

type enrollmentProcessor interface {
	Process(ctx context.Context, req dto.EnrollmentWorkflowRequest) (*ProcessOutcome, error)
}

type provisioner interface {
	Provision(ctx context.Context, enrollment *models.Enrollment) (ProvisionResult, error)
}

type trackingActivator interface {
	Activate(ctx context.Context, enrollment *models.Enrollment) (*models.ProgressTracking, error)
}

type courseFollower interface {
	FollowCourse(userID string, role models.UserRole, courseID string)
}

// EnrollmentWorkflowDeps groups the collaborators of the workflow.
type EnrollmentWorkflowDeps struct {
	Gate        enrollmentGate
	Processor   enrollmentProcessor
	Content     provisioner
	Assessments provisioner
	Tracking    trackingActivator
	Events      EventPublisher
	Followers   courseFollower
}

// EnrollmentWorkflowOptions tunes the workflow.
type EnrollmentWorkflowOptions struct {
	StepTimeout time.Duration
	CourseLock  bool
}

// EnrollmentWorkflowService drives one enrollment request through validation,
// processing, provisioning and notification and reports every step.
type EnrollmentWorkflowService struct {
	deps        EnrollmentWorkflowDeps
	stepTimeout time.Duration
	locks       *courseLocks
	validator   *validator.Validate
	metrics     *MetricsService
	tracer      trace.Tracer
	logger      *zap.Logger
	now         func() time.Time
}

// NewEnrollmentWorkflowService constructs the workflow.
func NewEnrollmentWorkflowService(deps EnrollmentWorkflowDeps, opts EnrollmentWorkflowOptions, validate *validator.Validate, metrics *MetricsService, logger *zap.Logger) *EnrollmentWorkflowService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &EnrollmentWorkflowService{
		deps:        deps,
		stepTimeout: opts.StepTimeout,
		validator:   validate,
		metrics:     metrics,
		tracer:      otel.Tracer("github.com/noah-isme/lms-enrollment-api/internal/service"),
		logger:      logger,
		now:         time.Now,
	}
	if opts.CourseLock {
		svc.locks = newCourseLocks()
	}
	return svc
}

// Enroll runs the workflow. It always returns a result; failures, including
// panics in collaborators, are reported through Success, Message and Errors.
func (s *EnrollmentWorkflowService) Enroll(ctx context.Context, req dto.EnrollmentWorkflowRequest) (result *dto.EnrollmentWorkflowResult) {
	result = &dto.EnrollmentWorkflowResult{
		RunID:   uuid.NewString(),
		Steps:   []dto.WorkflowStep{},
		Details: []string{},
		Errors:  []string{},
	}
	ctx, span := s.tracer.Start(ctx, "enrollment.workflow", trace.WithAttributes(
		attribute.String("enrollment.run_id", result.RunID),
		attribute.String("enrollment.student_id", req.StudentID),
		attribute.String("enrollment.course_id", req.CourseID),
		attribute.String("enrollment.category", string(req.Category)),
	))
	log := logger.WithContext(ctx, s.logger).With(
		zap.String("run_id", result.RunID),
		zap.String("student_id", req.StudentID),
		zap.String("course_id", req.CourseID),
	)

	defer func() {
		if r := recover(); r != nil {
			result.Success = false
			result.Message = "enrollment workflow failed unexpectedly"
			result.Errors = append(result.Errors, fmt.Sprintf("unexpected error: %v", r))
			log.Error("enrollment workflow panicked", zap.Any("panic", r))
		}
		if result.Success {
			span.SetStatus(codes.Ok, result.Message)
		} else {
			span.SetStatus(codes.Error, result.Message)
		}
		span.SetAttributes(attribute.Bool("enrollment.success", result.Success))
		span.End()
		s.metrics.RecordWorkflowRun(result.Success)
		log.Info("enrollment workflow finished",
			zap.Bool("success", result.Success),
			zap.String("enrollment_id", result.EnrollmentID),
			zap.Int("errors", len(result.Errors)),
		)
	}()

	release := s.locks.acquire(req.CourseID)
	defer release()

	outcome, ok := s.validate(ctx, req, result)
	if !ok {
		return result
	}

	processed, ok := s.process(ctx, req, result)
	release()
	if !ok {
		return result
	}
	enrollment := processed.Enrollment

	s.provision(ctx, enrollment, result, log)

	if outcome.Student != nil && outcome.Student.UserID != nil && s.deps.Followers != nil {
		s.deps.Followers.FollowCourse(*outcome.Student.UserID, models.RoleStudent, enrollment.CourseID)
	}

	s.notify(ctx, outcome, enrollment, result, log)

	result.Success = true
	result.Message = fmt.Sprintf("student %s enrolled in %s", studentLabel(outcome.Student, req.StudentID), result.CourseName)
	return result
}

func (s *EnrollmentWorkflowService) validate(ctx context.Context, req dto.EnrollmentWorkflowRequest, result *dto.EnrollmentWorkflowResult) (GateOutcome, bool) {
	step := s.begin(ctx, StepValidation, 1)

	if err := s.validator.Struct(req); err != nil {
		return GateOutcome{}, s.abort(result, step, "invalid enrollment request: "+err.Error(), nil, err)
	}
	if !req.AcceptsTerms {
		return GateOutcome{}, s.abort(result, step, "terms and conditions must be accepted", nil, nil)
	}

	outcome, err := runBounded(step.ctx, s.stepTimeout, func(ctx context.Context) (GateOutcome, error) {
		return s.deps.Gate.Validate(ctx, req.StudentID, req.CourseID)
	})
	if outcome.Course != nil {
		result.CourseName = outcome.Course.Name
	}
	if err != nil {
		return outcome, s.abort(result, step, "enrollment validation could not be completed", nil, err)
	}
	if !outcome.Passed() {
		return outcome, s.abort(result, step, outcome.Message, map[string]interface{}{"failed_check": outcome.FailedCheck}, nil)
	}

	details := map[string]interface{}{"course_status": string(outcome.Course.Status)}
	if outcome.Course.HasCapacityLimit() {
		details["active_enrollments"] = outcome.ActiveCount
		details["capacity"] = *outcome.Course.Capacity
	}
	result.ValidationDone = true
	result.Steps = append(result.Steps, s.finish(step, true, "all enrollment preconditions met", details, nil))
	result.Details = append(result.Details, "validation: all enrollment preconditions met")
	return outcome, true
}

func (s *EnrollmentWorkflowService) process(ctx context.Context, req dto.EnrollmentWorkflowRequest, result *dto.EnrollmentWorkflowResult) (*ProcessOutcome, bool) {
	step := s.begin(ctx, StepEnrollment, 2)

	processed, err := s.deps.Processor.Process(step.ctx, req)
	details := map[string]interface{}{"category": string(req.Category)}
	if processed != nil {
		subSteps := make([]string, 0, len(processed.Steps))
		for _, sub := range processed.Steps {
			subSteps = append(subSteps, sub.Name)
			result.Details = append(result.Details, fmt.Sprintf("enrollment.%s: %s", sub.Name, sub.Message))
		}
		details["sub_steps"] = subSteps
		if processed.Enrollment != nil {
			status := processed.Enrollment.Status
			result.EnrollmentID = processed.Enrollment.ID
			result.EnrollmentStatus = &status
			details["enrollment_id"] = processed.Enrollment.ID
		}
	}
	if err != nil {
		return processed, s.abort(result, step, "enrollment could not be recorded", details, err)
	}
	if !processed.Success {
		return processed, s.abort(result, step, processed.Message, details, nil)
	}
	result.Steps = append(result.Steps, s.finish(step, true, processed.Message, details, nil))
	return processed, true
}

// provision runs content, assessment and tracking steps concurrently. Their
// failures are recorded and never abort the workflow.
func (s *EnrollmentWorkflowService) provision(ctx context.Context, enrollment *models.Enrollment, result *dto.EnrollmentWorkflowResult, log *zap.Logger) {
	var (
		g          errgroup.Group
		steps      [3]dto.WorkflowStep
		content    ProvisionResult
		assessment ProvisionResult
		tracking   *models.ProgressTracking
		errs       [3]error
	)

	g.Go(func() error {
		step := s.begin(ctx, StepContent, 3)
		content, errs[0] = runBounded(step.ctx, s.stepTimeout, func(ctx context.Context) (ProvisionResult, error) {
			return s.deps.Content.Provision(ctx, enrollment)
		})
		steps[0] = s.finishProvision(step, content, errs[0])
		return nil
	})
	g.Go(func() error {
		step := s.begin(ctx, StepAssessments, 4)
		assessment, errs[1] = runBounded(step.ctx, s.stepTimeout, func(ctx context.Context) (ProvisionResult, error) {
			return s.deps.Assessments.Provision(ctx, enrollment)
		})
		steps[1] = s.finishProvision(step, assessment, errs[1])
		if errs[1] == nil && assessment.Ready {
			steps[1].Details["max_points"] = assessment.MaxPoints
		}
		return nil
	})
	g.Go(func() error {
		step := s.begin(ctx, StepTracking, 5)
		tracking, errs[2] = runBounded(step.ctx, s.stepTimeout, func(ctx context.Context) (*models.ProgressTracking, error) {
			return s.deps.Tracking.Activate(ctx, enrollment)
		})
		if errs[2] == nil && tracking == nil {
			errs[2] = errNoTrackingRecord
		}
		if errs[2] != nil {
			steps[2] = s.finish(step, false, errs[2].Error(), nil, errs[2])
			return nil
		}
		steps[2] = s.finish(step, true, "progress tracking started", map[string]interface{}{
			"tracking_id": tracking.ID,
			"started_at":  tracking.StartedAt,
		}, nil)
		return nil
	})
	_ = g.Wait()

	result.Steps = append(result.Steps, steps[:]...)
	labels := [3]string{"content provisioning", "assessment provisioning", "tracking activation"}
	for i, err := range errs {
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", labels[i], err))
			result.Details = append(result.Details, fmt.Sprintf("%s degraded: %v", labels[i], err))
			log.Warn("non-critical workflow step failed", zap.String("step", steps[i].Name), zap.Error(err))
		}
	}

	if errs[0] == nil {
		result.MaterialsAssigned = content.Ready
		result.MaterialsTotal = content.Count
		result.Details = append(result.Details, provisionDetail(labels[0], content))
	}
	if errs[1] == nil {
		result.AssessmentsReady = assessment.Ready
		result.AssessmentsTotal = assessment.Count
		result.AssessmentsMaxPoints = assessment.MaxPoints
		result.Details = append(result.Details, provisionDetail(labels[1], assessment))
	}
	if errs[2] == nil {
		result.TrackingStarted = true
		result.Details = append(result.Details, "tracking activation: progress tracking started")
	}
}

func (s *EnrollmentWorkflowService) notify(ctx context.Context, outcome GateOutcome, enrollment *models.Enrollment, result *dto.EnrollmentWorkflowResult, log *zap.Logger) {
	step := s.begin(ctx, StepNotify, 6)
	if s.deps.Events == nil {
		result.Steps = append(result.Steps, s.finish(step, false, "no event publisher configured", nil, nil))
		result.Details = append(result.Details, "notification: skipped, no publisher configured")
		return
	}

	name := studentLabel(outcome.Student, enrollment.StudentID)
	event := models.NotificationEvent{
		Type:       models.EventStudentEnrolled,
		Title:      "New enrollment",
		Message:    fmt.Sprintf("%s enrolled in %s", name, result.CourseName),
		SourceID:   enrollment.StudentID,
		TargetID:   enrollment.CourseID,
		TargetType: models.TargetTypeCourse,
		Timestamp:  s.now().UTC(),
		Metadata: map[string]string{
			"enrollment_id": enrollment.ID,
			"student_id":    enrollment.StudentID,
			"student_name":  name,
			"course_id":     enrollment.CourseID,
			"category":      string(enrollment.Category),
		},
	}
	_, err := runBounded(step.ctx, s.stepTimeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.deps.Events.Publish(ctx, event)
	})
	if err != nil {
		result.Steps = append(result.Steps, s.finish(step, false, err.Error(), nil, err))
		result.Errors = append(result.Errors, fmt.Sprintf("notification: %v", err))
		result.Details = append(result.Details, fmt.Sprintf("notification degraded: %v", err))
		log.Warn("enrollment notification failed", zap.Error(err))
		return
	}
	result.NotificationSent = true
	result.Steps = append(result.Steps, s.finish(step, true, "student enrolled event published", map[string]interface{}{
		"event": string(event.Type),
	}, nil))
	result.Details = append(result.Details, "notification: student enrolled event published")
}

type stepRun struct {
	ctx   context.Context
	span  trace.Span
	name  string
	order int
	start time.Time
}

func (s *EnrollmentWorkflowService) begin(ctx context.Context, name string, order int) *stepRun {
	ctx, span := s.tracer.Start(ctx, "enrollment."+name, trace.WithAttributes(attribute.Int("enrollment.step_order", order)))
	return &stepRun{ctx: ctx, span: span, name: name, order: order, start: s.now()}
}

func (s *EnrollmentWorkflowService) finish(run *stepRun, success bool, message string, details map[string]interface{}, err error) dto.WorkflowStep {
	duration := s.now().Sub(run.start)
	if err != nil {
		run.span.RecordError(err)
	}
	if !success {
		run.span.SetStatus(codes.Error, message)
	}
	run.span.End()
	s.metrics.ObserveWorkflowStep(run.name, success, duration)
	if details == nil {
		details = map[string]interface{}{}
	}
	return dto.WorkflowStep{
		Name:     run.name,
		Success:  success,
		Message:  message,
		Details:  details,
		Duration: duration,
		Order:    run.order,
	}
}

func (s *EnrollmentWorkflowService) finishProvision(run *stepRun, res ProvisionResult, err error) dto.WorkflowStep {
	if err != nil {
		return s.finish(run, false, err.Error(), nil, err)
	}
	return s.finish(run, true, res.Message, map[string]interface{}{
		"ready": res.Ready,
		"count": res.Count,
	}, nil)
}

// abort records a failed critical step and marks the workflow failed.
func (s *EnrollmentWorkflowService) abort(result *dto.EnrollmentWorkflowResult, run *stepRun, message string, details map[string]interface{}, err error) bool {
	result.Steps = append(result.Steps, s.finish(run, false, message, details, err))
	result.Success = false
	result.Message = message
	result.Errors = append(result.Errors, message)
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
	}
	return false
}

func provisionDetail(label string, res ProvisionResult) string {
	if !res.Ready {
		return fmt.Sprintf("%s warning: %s", label, res.Message)
	}
	return fmt.Sprintf("%s: %s", label, res.Message)
}

func studentLabel(student *models.Student, fallback string) string {
	if student != nil && student.FullName != "" {
		return student.FullName
	}
	return fallback
}

// courseLocks serialises the check-then-write section per course.
type courseLocks struct {
	mu    sync.Mutex
	locks map[string]*courseLock
}

type courseLock struct {
	mu   sync.Mutex
	refs int
}

func newCourseLocks() *courseLocks {
	return &courseLocks{locks: make(map[string]*courseLock)}
}

// acquire locks courseID and returns an idempotent release func. A nil
// receiver returns a no-op.
func (l *courseLocks) acquire(courseID string) func() {
	if l == nil {
		return func() {}
	}
	l.mu.Lock()
	lock, ok := l.locks[courseID]
	if !ok {
		lock = &courseLock{}
		l.locks[courseID] = lock
	}
	lock.refs++
	l.mu.Unlock()

	lock.mu.Lock()
	var once sync.Once
	return func() {
		once.Do(func() {
			lock.mu.Unlock()
			l.mu.Lock()
			lock.refs--
			if lock.refs == 0 {
				delete(l.locks, courseID)
			}
			l.mu.Unlock()
		})
	}
}

package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/lms-enrollment-api/internal/dto"
	"github.com/noah-isme/lms-enrollment-api/internal/models"
	appErrors "github.com/noah-isme/lms-enrollment-api/pkg/errors"
)

type courseRepository interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
	Create(ctx context.Context, course *models.Course) error
	UpdateStatus(ctx context.Context, id string, from, to models.CourseStatus) error
	Delete(ctx context.Context, id string) error
}

type courseFollowRegistry interface {
	FollowCourse(userID string, role models.UserRole, courseID string)
	UnfollowCourse(courseID string)
}

// CourseService manages courses and their lifecycle.
type CourseService struct {
	repo      courseRepository
	cache     *CourseCache
	events    EventPublisher
	follows   courseFollowRegistry
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewCourseService constructs CourseService. cache, events and follows may be nil.
func NewCourseService(repo courseRepository, cache *CourseCache, events EventPublisher, follows courseFollowRegistry, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *CourseService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CourseService{repo: repo, cache: cache, events: events, follows: follows, metrics: metrics, validator: validate, logger: logger}
}

// Create stores a new DRAFT course.
func (s *CourseService) Create(ctx context.Context, req dto.CreateCourseRequest) (*models.Course, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid course payload")
	}
	course := &models.Course{
		Code:         req.Code,
		Name:         req.Name,
		Description:  req.Description,
		Status:       models.CourseStatusDraft,
		Capacity:     req.Capacity,
		InstructorID: req.InstructorID,
	}
	if err := s.repo.Create(ctx, course); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create course")
	}
	if s.follows != nil {
		s.follows.FollowCourse(course.InstructorID, models.RoleTeacher, course.ID)
	}
	s.publish(ctx, course, models.EventCourseCreated, "Course created", fmt.Sprintf("Course %s was created", course.Name), nil)
	return course, nil
}

// Get returns a course, served from cache when enabled.
func (s *CourseService) Get(ctx context.Context, id string) (*models.Course, error) {
	if cached, ok := s.cache.Course(ctx, id); ok {
		return cached, nil
	}
	course, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache.Store(ctx, course)
	return course, nil
}

// Publish moves a DRAFT course to ACTIVE.
func (s *CourseService) Publish(ctx context.Context, id string) (*dto.CourseTransitionResponse, error) {
	return s.Transition(ctx, id, models.CourseActionPublish)
}

// Activate confirms an ACTIVE course.
func (s *CourseService) Activate(ctx context.Context, id string) (*dto.CourseTransitionResponse, error) {
	return s.Transition(ctx, id, models.CourseActionActivate)
}

// Finish closes an ACTIVE course.
func (s *CourseService) Finish(ctx context.Context, id string) (*dto.CourseTransitionResponse, error) {
	return s.Transition(ctx, id, models.CourseActionFinish)
}

// Archive retires a course.
func (s *CourseService) Archive(ctx context.Context, id string) (*dto.CourseTransitionResponse, error) {
	return s.Transition(ctx, id, models.CourseActionArchive)
}

// Transition applies a lifecycle action. Actions whose target is the current
// state succeed without writing; impossible actions fail with STATE_CONFLICT.
func (s *CourseService) Transition(ctx context.Context, id string, action models.CourseAction) (*dto.CourseTransitionResponse, error) {
	course, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	previous := course.Status
	target, noop, err := previous.Apply(action)
	if err != nil {
		s.metrics.RecordCourseTransition(string(action), "rejected")
		return nil, appErrors.Wrap(err, appErrors.ErrStateConflict.Code, appErrors.ErrStateConflict.Status,
			fmt.Sprintf("cannot %s course in %s state", action, previous))
	}
	resp := &dto.CourseTransitionResponse{Action: action, Previous: previous}
	if noop {
		s.metrics.RecordCourseTransition(string(action), "noop")
		resp.Course = *course
		resp.Capabilities = course.Status.Capabilities()
		return resp, nil
	}

	if err := s.repo.UpdateStatus(ctx, id, previous, target); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.metrics.RecordCourseTransition(string(action), "rejected")
			return nil, appErrors.Clone(appErrors.ErrStateConflict, "course status changed concurrently, retry the action")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update course status")
	}
	s.metrics.RecordCourseTransition(string(action), "applied")
	course.Status = target
	course.UpdatedAt = time.Now().UTC()
	s.invalidate(ctx, id)

	s.publish(ctx, course, models.EventCourseUpdated, "Course updated",
		fmt.Sprintf("Course %s is now %s", course.Name, target),
		map[string]string{"action": string(action), "previous_status": string(previous), "status": string(target)})
	if target == models.CourseStatusArchived && s.follows != nil {
		s.follows.UnfollowCourse(id)
	}

	resp.Course = *course
	resp.Changed = true
	resp.Capabilities = target.Capabilities()
	return resp, nil
}

// Delete removes a course when its state allows deletion.
func (s *CourseService) Delete(ctx context.Context, id string) error {
	course, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if !course.Status.CanBeDeleted() {
		return appErrors.Clone(appErrors.ErrStateConflict, fmt.Sprintf("course in %s state cannot be deleted", course.Status))
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete course")
	}
	s.invalidate(ctx, id)
	s.publish(ctx, course, models.EventCourseDeleted, "Course deleted", fmt.Sprintf("Course %s was deleted", course.Name), nil)
	if s.follows != nil {
		s.follows.UnfollowCourse(id)
	}
	return nil
}

func (s *CourseService) load(ctx context.Context, id string) (*models.Course, error) {
	course, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	return course, nil
}

func (s *CourseService) invalidate(ctx context.Context, id string) {
	if err := s.cache.Evict(ctx, id); err != nil {
		s.logger.Warn("course cache invalidation failed", zap.String("course_id", id), zap.Error(err))
	}
}

func (s *CourseService) publish(ctx context.Context, course *models.Course, eventType models.EventType, title, message string, metadata map[string]string) {
	if s.events == nil {
		return
	}
	if metadata == nil {
		metadata = map[string]string{}
	}
	metadata["course_id"] = course.ID
	event := models.NotificationEvent{
		Type:       eventType,
		Title:      title,
		Message:    message,
		SourceID:   course.InstructorID,
		TargetID:   course.ID,
		TargetType: models.TargetTypeCourse,
		Timestamp:  time.Now().UTC(),
		Metadata:   metadata,
	}
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger.Warn("course event not published", zap.String("course_id", course.ID), zap.String("event", string(eventType)), zap.Error(err))
	}
}

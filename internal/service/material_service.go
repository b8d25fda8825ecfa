package service

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/lms-enrollment-api/internal/dto"
	"github.com/noah-isme/lms-enrollment-api/internal/models"
	appErrors "github.com/noah-isme/lms-enrollment-api/pkg/errors"
)

type materialRepository interface {
	Create(ctx context.Context, material *models.Material) error
}

// MaterialService adds content to courses whose state allows it.
type MaterialService struct {
	courses   *CourseService
	repo      materialRepository
	events    EventPublisher
	validator *validator.Validate
	logger    *zap.Logger
}

// NewMaterialService constructs MaterialService.
func NewMaterialService(courses *CourseService, repo materialRepository, events EventPublisher, validate *validator.Validate, logger *zap.Logger) *MaterialService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MaterialService{courses: courses, repo: repo, events: events, validator: validate, logger: logger}
}

// Create adds a material to the course and notifies its students.
func (s *MaterialService) Create(ctx context.Context, courseID string, req dto.CreateMaterialRequest) (*models.Material, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid material payload")
	}
	course, err := s.courses.load(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if !course.Status.CanModifyContent() {
		return nil, appErrors.Clone(appErrors.ErrStateConflict, fmt.Sprintf("course in %s state does not accept content changes", course.Status))
	}
	material := &models.Material{CourseID: courseID, Title: req.Title, Kind: req.Kind, URL: req.URL}
	if err := s.repo.Create(ctx, material); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create material")
	}

	if s.events != nil {
		event := models.NotificationEvent{
			Type:       models.EventMaterialAdded,
			Title:      "New material",
			Message:    fmt.Sprintf("%s was added to %s", material.Title, course.Name),
			SourceID:   course.InstructorID,
			TargetID:   material.ID,
			TargetType: models.TargetTypeMaterial,
			Timestamp:  time.Now().UTC(),
			Metadata:   map[string]string{"course_id": courseID, "kind": material.Kind},
		}
		if err := s.events.Publish(ctx, event); err != nil {
			s.logger.Warn("material event not published", zap.String("material_id", material.ID), zap.Error(err))
		}
	}
	return material, nil
}

package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/lms-enrollment-api/internal/dto"
	"github.com/noah-isme/lms-enrollment-api/internal/models"
	appErrors "github.com/noah-isme/lms-enrollment-api/pkg/errors"
	"github.com/noah-isme/lms-enrollment-api/pkg/export"
)

type enrollmentRepository interface {
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
	FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error)
	UpdateStatus(ctx context.Context, id string, status models.EnrollmentStatus, reason *string) error
	ListByStudent(ctx context.Context, studentID string) ([]models.EnrollmentDetail, error)
	ListByCourse(ctx context.Context, courseID string) ([]models.EnrollmentDetail, error)
}

type courseLeaver interface {
	LeaveCourse(userID, courseID string) bool
}

// EnrollmentService exposes enrollment records created by the workflow.
type EnrollmentService struct {
	repo     enrollmentRepository
	students studentLookup
	courses  *CourseService
	follows  courseLeaver
	csv      export.Exporter
	pdf      export.Exporter
	logger   *zap.Logger
	now      func() time.Time
}

// NewEnrollmentService constructs EnrollmentService.
func NewEnrollmentService(repo enrollmentRepository, students studentLookup, courses *CourseService, follows courseLeaver, logger *zap.Logger) *EnrollmentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnrollmentService{
		repo:     repo,
		students: students,
		courses:  courses,
		follows:  follows,
		csv:      export.NewCSVExporter(),
		pdf:      export.NewPDFExporter(),
		logger:   logger,
		now:      time.Now,
	}
}

// Get returns an enrollment with student and course names.
func (s *EnrollmentService) Get(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	detail, err := s.repo.FindDetailByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	return detail, nil
}

// ListByStudent returns every enrollment of a student.
func (s *EnrollmentService) ListByStudent(ctx context.Context, studentID string) ([]models.EnrollmentDetail, error) {
	if _, err := s.students.FindByID(ctx, studentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	enrollments, err := s.repo.ListByStudent(ctx, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
	}
	return enrollments, nil
}

// ListByCourse returns every enrollment of a course.
func (s *EnrollmentService) ListByCourse(ctx context.Context, courseID string) ([]models.EnrollmentDetail, error) {
	if _, err := s.courses.Get(ctx, courseID); err != nil {
		return nil, err
	}
	enrollments, err := s.repo.ListByCourse(ctx, courseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
	}
	return enrollments, nil
}

// Unenroll cancels an active enrollment, freeing its seat.
func (s *EnrollmentService) Unenroll(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	enrollment, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	if enrollment.Status != models.EnrollmentStatusActive {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, fmt.Sprintf("enrollment is %s, only ACTIVE enrollments can be cancelled", enrollment.Status))
	}
	if err := s.repo.UpdateStatus(ctx, id, models.EnrollmentStatusCancelled, nil); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update enrollment status")
	}
	s.logger.Info("enrollment cancelled", zap.String("enrollment_id", id), zap.String("course_id", enrollment.CourseID))
	s.leaveCourse(ctx, enrollment)
	return s.Get(ctx, id)
}

// leaveCourse drops the student's course follow so course events stop
// reaching them. Lookup failures are logged; the cancellation stands.
func (s *EnrollmentService) leaveCourse(ctx context.Context, enrollment *models.Enrollment) {
	if s.follows == nil {
		return
	}
	student, err := s.students.FindByID(ctx, enrollment.StudentID)
	if err != nil {
		s.logger.Warn("failed to load student for course unfollow",
			zap.String("enrollment_id", enrollment.ID),
			zap.String("student_id", enrollment.StudentID),
			zap.Error(err),
		)
		return
	}
	if student == nil || student.UserID == nil {
		return
	}
	if s.follows.LeaveCourse(*student.UserID, enrollment.CourseID) {
		s.logger.Debug("student stopped following course",
			zap.String("user_id", *student.UserID),
			zap.String("course_id", enrollment.CourseID),
		)
	}
}

// ExportRoster renders the course roster as CSV or PDF.
func (s *EnrollmentService) ExportRoster(ctx context.Context, courseID string, format dto.RosterFormat) (*dto.RosterExport, error) {
	var exporter export.Exporter
	switch format {
	case "", dto.RosterFormatCSV:
		exporter = s.csv
	case dto.RosterFormatPDF:
		exporter = s.pdf
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported roster format %q", format))
	}
	course, err := s.courses.Get(ctx, courseID)
	if err != nil {
		return nil, err
	}
	enrollments, err := s.repo.ListByCourse(ctx, courseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
	}

	dataset := export.Dataset{
		Title:   fmt.Sprintf("%s (%s) roster", course.Name, course.Code),
		Headers: []string{"student_code", "student_name", "category", "status", "enrolled_at"},
		Rows:    make([]map[string]string, 0, len(enrollments)),
	}
	for _, e := range enrollments {
		dataset.Rows = append(dataset.Rows, map[string]string{
			"student_code": e.StudentCode,
			"student_name": e.StudentName,
			"category":     string(e.Category),
			"status":       string(e.Status),
			"enrolled_at":  e.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	content, err := exporter.Render(dataset)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render roster")
	}
	filename := fmt.Sprintf("roster-%s-%s.%s", course.Code, strconv.FormatInt(s.now().Unix(), 10), exporter.Extension())
	return &dto.RosterExport{Filename: filename, ContentType: exporter.ContentType(), Content: content}, nil
}

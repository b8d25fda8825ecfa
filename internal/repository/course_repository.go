package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/lms-enrollment-api/internal/models"
)

// CourseFollow links a user to a course whose events they follow.
type CourseFollow struct {
	UserID   string `db:"user_id"`
	CourseID string `db:"course_id"`
}

// CourseRepository handles persistence of courses.
type CourseRepository struct {
	db *sqlx.DB
}

// NewCourseRepository constructs the repository.
func NewCourseRepository(db *sqlx.DB) *CourseRepository {
	return &CourseRepository{db: db}
}

const courseColumns = `id, code, name, description, status, capacity, instructor_id, created_at, updated_at`

// FindByID returns a course or sql.ErrNoRows.
func (r *CourseRepository) FindByID(ctx context.Context, id string) (*models.Course, error) {
	query := `SELECT ` + courseColumns + ` FROM courses WHERE id = $1`
	var course models.Course
	if err := r.db.GetContext(ctx, &course, query, id); err != nil {
		return nil, err
	}
	return &course, nil
}

// Create inserts a course in DRAFT state unless a status is set.
func (r *CourseRepository) Create(ctx context.Context, course *models.Course) error {
	if course.ID == "" {
		course.ID = uuid.NewString()
	}
	if course.Status == "" {
		course.Status = models.CourseStatusDraft
	}
	now := time.Now().UTC()
	course.CreatedAt = now
	course.UpdatedAt = now
	const query = `INSERT INTO courses (id, code, name, description, status, capacity, instructor_id, created_at, updated_at)
        VALUES (:id, :code, :name, :description, :status, :capacity, :instructor_id, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, course); err != nil {
		return fmt.Errorf("create course: %w", err)
	}
	return nil
}

// UpdateStatus moves a course from one status to another. It returns
// sql.ErrNoRows when the course is no longer in the expected state.
func (r *CourseRepository) UpdateStatus(ctx context.Context, id string, from, to models.CourseStatus) error {
	const query = `UPDATE courses SET status = $3, updated_at = $4 WHERE id = $1 AND status = $2`
	res, err := r.db.ExecContext(ctx, query, id, from, to, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update course status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update course status rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Delete removes a course.
func (r *CourseRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM courses WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete course: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ListInstructorFollows returns (instructor user, course) pairs for courses not archived.
func (r *CourseRepository) ListInstructorFollows(ctx context.Context) ([]CourseFollow, error) {
	const query = `SELECT instructor_id AS user_id, id AS course_id FROM courses WHERE status <> $1`
	var follows []CourseFollow
	if err := r.db.SelectContext(ctx, &follows, query, models.CourseStatusArchived); err != nil {
		return nil, fmt.Errorf("list instructor follows: %w", err)
	}
	return follows, nil
}

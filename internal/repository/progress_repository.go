package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/lms-enrollment-api/internal/models"
)

// ProgressRepository persists per-enrollment progress tracking records.
type ProgressRepository struct {
	db *sqlx.DB
}

// NewProgressRepository constructs the repository.
func NewProgressRepository(db *sqlx.DB) *ProgressRepository {
	return &ProgressRepository{db: db}
}

// Upsert opens or resets the tracking record for a (student, course) pair.
func (r *ProgressRepository) Upsert(ctx context.Context, tracking *models.ProgressTracking) error {
	if tracking.ID == "" {
		tracking.ID = uuid.NewString()
	}
	const query = `INSERT INTO progress_tracking (id, student_id, course_id, enrollment_id, started_at, materials_progress,
        assessments_completed, time_spent_minutes, notification_plan)
        VALUES (:id, :student_id, :course_id, :enrollment_id, :started_at, :materials_progress,
        :assessments_completed, :time_spent_minutes, :notification_plan)
        ON CONFLICT (student_id, course_id) DO UPDATE SET
        enrollment_id = EXCLUDED.enrollment_id,
        started_at = EXCLUDED.started_at,
        materials_progress = EXCLUDED.materials_progress,
        assessments_completed = EXCLUDED.assessments_completed,
        time_spent_minutes = EXCLUDED.time_spent_minutes,
        notification_plan = EXCLUDED.notification_plan`
	if _, err := r.db.NamedExecContext(ctx, query, tracking); err != nil {
		return fmt.Errorf("upsert progress tracking: %w", err)
	}
	return nil
}

// FindByStudentCourse loads the tracking record of an enrollment.
func (r *ProgressRepository) FindByStudentCourse(ctx context.Context, studentID, courseID string) (*models.ProgressTracking, error) {
	const query = `SELECT id, student_id, course_id, enrollment_id, started_at, materials_progress, assessments_completed,
        time_spent_minutes, notification_plan FROM progress_tracking WHERE student_id = $1 AND course_id = $2`
	var tracking models.ProgressTracking
	if err := r.db.GetContext(ctx, &tracking, query, studentID, courseID); err != nil {
		return nil, err
	}
	return &tracking, nil
}

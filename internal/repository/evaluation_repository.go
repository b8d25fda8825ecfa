package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/lms-enrollment-api/internal/models"
)

// EvaluationRepository reads course assessments.
type EvaluationRepository struct {
	db *sqlx.DB
}

// NewEvaluationRepository constructs the repository.
func NewEvaluationRepository(db *sqlx.DB) *EvaluationRepository {
	return &EvaluationRepository{db: db}
}

// SummarizeActiveByCourse counts active evaluations and sums their maximum points.
func (r *EvaluationRepository) SummarizeActiveByCourse(ctx context.Context, courseID string) (*models.EvaluationSummary, error) {
	const query = `SELECT COUNT(*) AS count, COALESCE(SUM(max_points), 0) AS max_points
        FROM evaluations WHERE course_id = $1 AND active = TRUE`
	var summary models.EvaluationSummary
	if err := r.db.GetContext(ctx, &summary, query, courseID); err != nil {
		return nil, fmt.Errorf("summarize course evaluations: %w", err)
	}
	return &summary, nil
}

// ListUpcomingDeadlines returns due dates of active evaluations, soonest first.
func (r *EvaluationRepository) ListUpcomingDeadlines(ctx context.Context, courseID string, limit int) ([]models.Evaluation, error) {
	if limit <= 0 {
		limit = 10
	}
	const query = `SELECT id, course_id, title, max_points, due_at, active, created_at
        FROM evaluations WHERE course_id = $1 AND active = TRUE AND due_at IS NOT NULL AND due_at > NOW()
        ORDER BY due_at ASC LIMIT $2`
	var evaluations []models.Evaluation
	if err := r.db.SelectContext(ctx, &evaluations, query, courseID, limit); err != nil {
		return nil, fmt.Errorf("list evaluation deadlines: %w", err)
	}
	return evaluations, nil
}

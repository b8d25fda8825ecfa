package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lms-enrollment-api/internal/models"
)

func TestEvaluationRepositorySummarize(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewEvaluationRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) AS count, COALESCE(SUM(max_points), 0) AS max_points")).
		WithArgs("42").
		WillReturnRows(sqlmock.NewRows([]string{"count", "max_points"}).AddRow(3, 250.5))

	summary, err := repo.SummarizeActiveByCourse(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Count)
	assert.InDelta(t, 250.5, summary.MaxPoints, 0.001)
}

func TestMaterialRepositoryCountActive(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewMaterialRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM materials WHERE course_id = $1 AND active = TRUE")).
		WithArgs("42").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(12))

	total, err := repo.CountActiveByCourse(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, 12, total)
}

func TestProgressRepositoryUpsert(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewProgressRepository(db)

	mock.ExpectExec("INSERT INTO progress_tracking").WillReturnResult(sqlmock.NewResult(1, 1))

	tracking := &models.ProgressTracking{StudentID: "7", CourseID: "42", EnrollmentID: "enr-1", StartedAt: time.Now(), NotificationPlan: []byte(`{}`)}
	require.NoError(t, repo.Upsert(context.Background(), tracking))
	assert.NotEmpty(t, tracking.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

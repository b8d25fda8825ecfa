package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lms-enrollment-api/internal/models"
)

func newMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	sqlxdb := sqlx.NewDb(db, "sqlmock")
	return sqlxdb, mock, func() {
		db.Close()
	}
}

func TestCourseRepositoryFindByID(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewCourseRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "code", "name", "description", "status", "capacity", "instructor_id", "created_at", "updated_at"}).
		AddRow("42", "GO-101", "Go 101", "", "ACTIVE", 30, "teacher-1", now, now)
	mock.ExpectQuery(regexp.QuoteMeta("FROM courses WHERE id = $1")).
		WithArgs("42").
		WillReturnRows(rows)

	course, err := repo.FindByID(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, models.CourseStatusActive, course.Status)
	require.NotNil(t, course.Capacity)
	assert.Equal(t, 30, *course.Capacity)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCourseRepositoryCreateDefaultsDraft(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewCourseRepository(db)

	mock.ExpectExec("INSERT INTO courses").WillReturnResult(sqlmock.NewResult(1, 1))

	course := &models.Course{Code: "GO-101", Name: "Go 101", InstructorID: "teacher-1"}
	require.NoError(t, repo.Create(context.Background(), course))
	assert.NotEmpty(t, course.ID)
	assert.Equal(t, models.CourseStatusDraft, course.Status)
}

func TestCourseRepositoryUpdateStatusStale(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewCourseRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE courses SET status = $3, updated_at = $4 WHERE id = $1 AND status = $2")).
		WithArgs("42", models.CourseStatusActive, models.CourseStatusFinished, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateStatus(context.Background(), "42", models.CourseStatusActive, models.CourseStatusFinished)
	assert.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCourseRepositoryListInstructorFollows(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewCourseRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT instructor_id AS user_id, id AS course_id FROM courses WHERE status <> $1")).
		WithArgs(models.CourseStatusArchived).
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "course_id"}).AddRow("teacher-1", "42"))

	follows, err := repo.ListInstructorFollows(context.Background())
	require.NoError(t, err)
	require.Len(t, follows, 1)
	assert.Equal(t, "teacher-1", follows[0].UserID)
}

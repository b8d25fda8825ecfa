package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lms-enrollment-api/internal/models"
)

func TestNotificationRepositoryCreateDefaultsUnread(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewNotificationRepository(db)

	mock.ExpectExec("INSERT INTO notifications").WillReturnResult(sqlmock.NewResult(1, 1))

	n := &models.Notification{Type: models.EventStudentEnrolled, RecipientID: "teacher-1", Subject: "New enrollment"}
	require.NoError(t, repo.Create(context.Background(), n))
	assert.Equal(t, models.NotificationStatusUnread, n.Status)
	assert.NotEmpty(t, n.ID)
}

func TestNotificationRepositoryListWithStatus(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewNotificationRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM notifications WHERE recipient_id = $1 AND status = $2")).
		WithArgs("teacher-1", models.NotificationStatusUnread).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY created_at DESC LIMIT $3 OFFSET $4")).
		WithArgs("teacher-1", models.NotificationStatusUnread, 20, 0).
		WillReturnRows(sqlmock.NewRows([]string{"id", "type", "recipient_id", "subject", "message", "status", "metadata", "created_at", "read_at"}).
			AddRow("n-1", "STUDENT_ENROLLED", "teacher-1", "New enrollment", "Ana joined", "UNREAD", []byte(`{}`), now, nil))

	items, total, err := repo.List(context.Background(), models.NotificationFilter{RecipientID: "teacher-1", Status: models.NotificationStatusUnread})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, items, 1)
	assert.Equal(t, models.EventStudentEnrolled, items[0].Type)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationRepositoryMarkReadMissing(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewNotificationRepository(db)

	mock.ExpectExec("UPDATE notifications SET status").WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.MarkRead(context.Background(), "teacher-1", "n-404", time.Now())
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

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

// NotificationRepository stores per-recipient notification records.
type NotificationRepository struct {
	db *sqlx.DB
}

// NewNotificationRepository constructs the repository.
func NewNotificationRepository(db *sqlx.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// Create persists a notification. New records default to UNREAD.
func (r *NotificationRepository) Create(ctx context.Context, notification *models.Notification) error {
	if notification.ID == "" {
		notification.ID = uuid.NewString()
	}
	if notification.CreatedAt.IsZero() {
		notification.CreatedAt = time.Now().UTC()
	}
	if notification.Status == "" {
		notification.Status = models.NotificationStatusUnread
	}
	const query = `INSERT INTO notifications (id, type, recipient_id, subject, message, status, metadata, created_at, read_at)
        VALUES (:id, :type, :recipient_id, :subject, :message, :status, :metadata, :created_at, :read_at)`
	if _, err := r.db.NamedExecContext(ctx, query, notification); err != nil {
		return fmt.Errorf("create notification: %w", err)
	}
	return nil
}

// List returns a recipient's notifications along with the total count.
func (r *NotificationRepository) List(ctx context.Context, filter models.NotificationFilter) ([]models.Notification, int, error) {
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}

	where := "WHERE recipient_id = $1"
	args := []interface{}{filter.RecipientID}
	if filter.Status != "" {
		where += " AND status = $2"
		args = append(args, filter.Status)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM notifications "+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count notifications: %w", err)
	}

	limitPos := len(args) + 1
	query := fmt.Sprintf(`SELECT id, type, recipient_id, subject, message, status, metadata, created_at, read_at
        FROM notifications %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, where, limitPos, limitPos+1)
	args = append(args, size, (page-1)*size)

	var notifications []models.Notification
	if err := r.db.SelectContext(ctx, &notifications, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list notifications: %w", err)
	}
	return notifications, total, nil
}

// MarkRead flags a notification as read. sql.ErrNoRows is returned when the
// notification does not belong to the recipient.
func (r *NotificationRepository) MarkRead(ctx context.Context, recipientID, id string, at time.Time) error {
	const query = `UPDATE notifications SET status = $3, read_at = COALESCE(read_at, $4) WHERE id = $1 AND recipient_id = $2`
	res, err := r.db.ExecContext(ctx, query, id, recipientID, models.NotificationStatusRead, at)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark notification read rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/lms-enrollment-api/internal/dto"
	"github.com/noah-isme/lms-enrollment-api/internal/models"
	appErrors "github.com/noah-isme/lms-enrollment-api/pkg/errors"
)

type notificationRepository interface {
	List(ctx context.Context, filter models.NotificationFilter) ([]models.Notification, int, error)
	MarkRead(ctx context.Context, recipientID, id string, at time.Time) error
}

type userReader interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

// NotificationService serves user inboxes and interest subscriptions.
type NotificationService struct {
	repo     notificationRepository
	users    userReader
	registry *SubscriberRegistry
	logger   *zap.Logger
	now      func() time.Time
}

// NewNotificationService constructs NotificationService.
func NewNotificationService(repo notificationRepository, users userReader, registry *SubscriberRegistry, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{repo: repo, users: users, registry: registry, logger: logger, now: time.Now}
}

// List returns a page of the user's notifications.
func (s *NotificationService) List(ctx context.Context, filter models.NotificationFilter) ([]models.Notification, *models.Pagination, error) {
	if filter.Status != "" && filter.Status != models.NotificationStatusUnread && filter.Status != models.NotificationStatusRead {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "status must be UNREAD or READ")
	}
	items, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list notifications")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	return items, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// MarkRead flags one of the user's notifications as read.
func (s *NotificationService) MarkRead(ctx context.Context, userID, notificationID string) error {
	if err := s.repo.MarkRead(ctx, userID, notificationID, s.now().UTC()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "notification not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update notification")
	}
	return nil
}

// Subscriptions returns the user's current interest set.
func (s *NotificationService) Subscriptions(ctx context.Context, userID string) (*dto.SubscriptionResponse, error) {
	sub, err := s.ensureRegistered(ctx, userID)
	if err != nil {
		return nil, err
	}
	return subscriptionResponse(sub), nil
}

// Subscribe adds an event type to the user's interests.
func (s *NotificationService) Subscribe(ctx context.Context, userID string, eventType models.EventType) (*dto.SubscriptionResponse, error) {
	if _, err := s.ensureRegistered(ctx, userID); err != nil {
		return nil, err
	}
	sub, err := s.registry.Subscribe(userID, eventType)
	if err != nil {
		return nil, err
	}
	return subscriptionResponse(sub), nil
}

// Unsubscribe removes an event type from the user's interests.
func (s *NotificationService) Unsubscribe(ctx context.Context, userID string, eventType models.EventType) (*dto.SubscriptionResponse, error) {
	if _, err := s.ensureRegistered(ctx, userID); err != nil {
		return nil, err
	}
	sub, err := s.registry.Unsubscribe(userID, eventType)
	if err != nil {
		return nil, err
	}
	return subscriptionResponse(sub), nil
}

// ensureRegistered attaches users created after startup with their role defaults.
func (s *NotificationService) ensureRegistered(ctx context.Context, userID string) (Subscriber, error) {
	if sub, ok := s.registry.Get(userID); ok {
		return sub, nil
	}
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Subscriber{}, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return Subscriber{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	if !user.Active {
		return Subscriber{}, appErrors.Clone(appErrors.ErrPreconditionFailed, "user inactive")
	}
	sub, inserted, err := s.registry.AttachIfAbsent(Subscriber{ID: user.ID, Role: user.Role})
	if err != nil {
		return Subscriber{}, err
	}
	if inserted {
		s.logger.Debug("subscriber registered on demand", zap.String("user_id", user.ID))
	}
	return sub, nil
}

func subscriptionResponse(sub Subscriber) *dto.SubscriptionResponse {
	return &dto.SubscriptionResponse{UserID: sub.ID, Role: sub.Role, Interests: sub.Interests, Courses: sub.Courses}
}

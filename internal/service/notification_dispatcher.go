package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/lms-enrollment-api/internal/dto"
	"github.com/noah-isme/lms-enrollment-api/internal/models"
	appErrors "github.com/noah-isme/lms-enrollment-api/pkg/errors"
	"github.com/noah-isme/lms-enrollment-api/pkg/jobs"
)

type notificationStore interface {
	Create(ctx context.Context, notification *models.Notification) error
}

// EventPublisher hands a domain event to the notification pipeline.
type EventPublisher interface {
	Publish(ctx context.Context, event models.NotificationEvent) error
}

// NotificationDispatcher fans events out to interested subscribers and keeps a
// per-recipient delivery record.
type NotificationDispatcher struct {
	registry *SubscriberRegistry
	store    notificationStore
	metrics  *MetricsService
	logger   *zap.Logger
	now      func() time.Time
}

// NewNotificationDispatcher constructs the dispatcher.
func NewNotificationDispatcher(registry *SubscriberRegistry, store notificationStore, metrics *MetricsService, logger *zap.Logger) *NotificationDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if registry == nil {
		registry = NewSubscriberRegistry(nil, logger)
	}
	return &NotificationDispatcher{registry: registry, store: store, metrics: metrics, logger: logger, now: time.Now}
}

// Registry exposes the subscriber registry backing the dispatcher.
func (d *NotificationDispatcher) Registry() *SubscriberRegistry {
	return d.registry
}

// Attach registers a subscriber.
func (d *NotificationDispatcher) Attach(sub Subscriber) error {
	return d.registry.Attach(sub)
}

// Detach removes a subscriber.
func (d *NotificationDispatcher) Detach(id string) bool {
	return d.registry.Detach(id)
}

// Notify delivers the event to every subscriber interested in its type.
func (d *NotificationDispatcher) Notify(ctx context.Context, event models.NotificationEvent) (dto.DispatchReport, error) {
	if err := d.prepare(&event); err != nil {
		return dto.DispatchReport{Event: event.Type}, err
	}
	report := dto.DispatchReport{Event: event.Type}
	courseID := eventCourseID(event)
	for _, entry := range d.registry.entries() {
		if !entry.interestedIn(event.Type) || !entry.follows(courseID) {
			continue
		}
		report.Matched++
		if d.deliver(ctx, entry, event) {
			report.Delivered++
		} else {
			report.Failed++
		}
	}
	d.logger.Debug("event dispatched",
		zap.String("event", string(event.Type)),
		zap.String("target_id", event.TargetID),
		zap.Int("matched", report.Matched),
		zap.Int("delivered", report.Delivered),
		zap.Int("failed", report.Failed),
	)
	return report, nil
}

// NotifySpecific delivers the event to one subscriber regardless of its interests.
func (d *NotificationDispatcher) NotifySpecific(ctx context.Context, subscriberID string, event models.NotificationEvent) (dto.DispatchReport, error) {
	if err := d.prepare(&event); err != nil {
		return dto.DispatchReport{Event: event.Type}, err
	}
	report := dto.DispatchReport{Event: event.Type}
	for _, entry := range d.registry.entries() {
		if entry.id != subscriberID {
			continue
		}
		report.Matched = 1
		if d.deliver(ctx, entry, event) {
			report.Delivered = 1
		} else {
			report.Failed = 1
		}
		return report, nil
	}
	return report, appErrors.Clone(appErrors.ErrNotFound, "subscriber not found")
}

// Publish implements EventPublisher synchronously.
func (d *NotificationDispatcher) Publish(ctx context.Context, event models.NotificationEvent) error {
	_, err := d.Notify(ctx, event)
	return err
}

func (d *NotificationDispatcher) prepare(event *models.NotificationEvent) error {
	if !event.Type.Valid() {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown event type %q", event.Type))
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = d.now().UTC()
	}
	return nil
}

// deliver runs the observer callback and persists the record. Failures are
// logged and contained to this subscriber.
func (d *NotificationDispatcher) deliver(ctx context.Context, entry *subscriberEntry, event models.NotificationEvent) bool {
	logger := d.logger.With(zap.String("subscriber_id", entry.id), zap.String("event", string(event.Type)))
	if entry.observer != nil {
		if err := safeUpdate(ctx, entry.observer, event); err != nil {
			logger.Warn("subscriber update failed", zap.Error(err))
			d.metrics.RecordNotification(string(event.Type), false)
			return false
		}
	}
	if d.store != nil {
		record, err := notificationRecord(entry.id, event)
		if err == nil {
			err = d.store.Create(ctx, record)
		}
		if err != nil {
			logger.Warn("persist notification failed", zap.Error(err))
			d.metrics.RecordNotification(string(event.Type), false)
			return false
		}
	}
	d.metrics.RecordNotification(string(event.Type), true)
	return true
}

func safeUpdate(ctx context.Context, observer Observer, event models.NotificationEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("observer panicked: %v", r)
		}
	}()
	return observer.Update(ctx, event)
}

func notificationRecord(recipientID string, event models.NotificationEvent) (*models.Notification, error) {
	metadata := map[string]string{
		"source_id":   event.SourceID,
		"target_id":   event.TargetID,
		"target_type": event.TargetType,
	}
	for k, v := range event.Metadata {
		metadata[k] = v
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal notification metadata: %w", err)
	}
	return &models.Notification{
		ID:          uuid.NewString(),
		Type:        event.Type,
		RecipientID: recipientID,
		Subject:     event.Title,
		Message:     event.Message,
		Status:      models.NotificationStatusUnread,
		Metadata:    raw,
		CreatedAt:   event.Timestamp,
	}, nil
}

// eventCourseID returns the course an event is scoped to, if any.
func eventCourseID(event models.NotificationEvent) string {
	if event.TargetType == models.TargetTypeCourse {
		return event.TargetID
	}
	return event.Metadata["course_id"]
}

const notificationJobType = "notification.dispatch"

// AsyncEventPublisher submits events to a background queue. A successful
// Publish means the event was accepted, not delivered.
type AsyncEventPublisher struct {
	queue  *jobs.Queue
	logger *zap.Logger
}

// NewAsyncEventPublisher builds the queue-backed publisher. The returned queue
// must be started by the caller.
func NewAsyncEventPublisher(dispatcher *NotificationDispatcher, cfg jobs.QueueConfig) (*AsyncEventPublisher, *jobs.Queue) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	queue := jobs.NewQueue("notifications", func(ctx context.Context, job jobs.Job) error {
		event, ok := job.Payload.(models.NotificationEvent)
		if !ok {
			return fmt.Errorf("unexpected payload %T", job.Payload)
		}
		_, err := dispatcher.Notify(ctx, event)
		return err
	}, cfg)
	return &AsyncEventPublisher{queue: queue, logger: logger}, queue
}

// Publish enqueues the event for dispatch.
func (p *AsyncEventPublisher) Publish(ctx context.Context, event models.NotificationEvent) error {
	if !event.Type.Valid() {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown event type %q", event.Type))
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	job := jobs.Job{ID: uuid.NewString(), Type: notificationJobType, Payload: event}
	if err := p.queue.Enqueue(job); err != nil {
		return fmt.Errorf("enqueue notification: %w", err)
	}
	p.logger.Debug("notification queued", zap.String("job_id", job.ID), zap.String("event", string(event.Type)))
	return nil
}

// LogObserver returns an observer that logs each delivery for the subscriber.
func LogObserver(logger *zap.Logger, subscriberID string, role models.UserRole) Observer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return ObserverFunc(func(_ context.Context, event models.NotificationEvent) error {
		logger.Debug("notification delivered",
			zap.String("subscriber_id", subscriberID),
			zap.String("role", string(role)),
			zap.String("event", string(event.Type)),
			zap.String("target_id", event.TargetID),
		)
		return nil
	})
}

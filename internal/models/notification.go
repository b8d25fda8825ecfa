package models

import (
	"encoding/json"
	"time"
)

// EventType enumerates the domain events routed through the dispatcher.
type EventType string

// Known event types.
const (
	EventStudentEnrolled     EventType = "STUDENT_ENROLLED"
	EventAssignmentCreated   EventType = "ASSIGNMENT_CREATED"
	EventAssignmentUpdated   EventType = "ASSIGNMENT_UPDATED"
	EventAssignmentSubmitted EventType = "ASSIGNMENT_SUBMITTED"
	EventAssignmentGraded    EventType = "ASSIGNMENT_GRADED"
	EventMaterialAdded       EventType = "MATERIAL_ADDED"
	EventMaterialUploaded    EventType = "MATERIAL_UPLOADED"
	EventCourseCreated       EventType = "COURSE_CREATED"
	EventCourseUpdated       EventType = "COURSE_UPDATED"
	EventCourseDeleted       EventType = "COURSE_DELETED"
)

var knownEventTypes = map[EventType]struct{}{
	EventStudentEnrolled:     {},
	EventAssignmentCreated:   {},
	EventAssignmentUpdated:   {},
	EventAssignmentSubmitted: {},
	EventAssignmentGraded:    {},
	EventMaterialAdded:       {},
	EventMaterialUploaded:    {},
	EventCourseCreated:       {},
	EventCourseUpdated:       {},
	EventCourseDeleted:       {},
}

// Valid reports whether the event type is known.
func (t EventType) Valid() bool {
	_, ok := knownEventTypes[t]
	return ok
}

// Target entity types carried by events.
const (
	TargetTypeCourse     = "course"
	TargetTypeEnrollment = "enrollment"
	TargetTypeMaterial   = "material"
)

// NotificationEvent is an immutable domain event fanned out to subscribers.
type NotificationEvent struct {
	Type       EventType         `json:"type"`
	Title      string            `json:"title"`
	Message    string            `json:"message"`
	SourceID   string            `json:"source_id"`
	TargetID   string            `json:"target_id"`
	TargetType string            `json:"target_type"`
	Timestamp  time.Time         `json:"timestamp"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// NotificationStatus tracks whether a recipient has seen a notification.
type NotificationStatus string

const (
	NotificationStatusUnread NotificationStatus = "UNREAD"
	NotificationStatusRead   NotificationStatus = "READ"
)

// Notification is the per-recipient delivery record of an event.
type Notification struct {
	ID          string             `db:"id" json:"id"`
	Type        EventType          `db:"type" json:"type"`
	RecipientID string             `db:"recipient_id" json:"recipient_id"`
	Subject     string             `db:"subject" json:"subject"`
	Message     string             `db:"message" json:"message"`
	Status      NotificationStatus `db:"status" json:"status"`
	Metadata    json.RawMessage    `db:"metadata" json:"metadata,omitempty"`
	CreatedAt   time.Time          `db:"created_at" json:"created_at"`
	ReadAt      *time.Time         `db:"read_at" json:"read_at,omitempty"`
}

// NotificationFilter constrains inbox listings.
type NotificationFilter struct {
	RecipientID string
	Status      NotificationStatus
	Page        int
	PageSize    int
}

package dto

import "github.com/noah-isme/lms-enrollment-api/internal/models"

// SubscriptionResponse lists the event types a user currently receives.
type SubscriptionResponse struct {
	UserID    string             `json:"user_id"`
	Role      models.UserRole    `json:"role"`
	Interests []models.EventType `json:"interests"`
	Courses   []string           `json:"courses,omitempty"`
}

// DispatchReport summarises one fan-out of an event.
type DispatchReport struct {
	Event     models.EventType `json:"event"`
	Matched   int              `json:"matched"`
	Delivered int              `json:"delivered"`
	Failed    int              `json:"failed"`
}

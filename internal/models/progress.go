package models

import (
	"encoding/json"
	"time"
)

// ProgressTracking is the per (student, course) progress record opened on enrollment.
type ProgressTracking struct {
	ID                   string          `db:"id" json:"id"`
	StudentID            string          `db:"student_id" json:"student_id"`
	CourseID             string          `db:"course_id" json:"course_id"`
	EnrollmentID         string          `db:"enrollment_id" json:"enrollment_id"`
	StartedAt            time.Time       `db:"started_at" json:"started_at"`
	MaterialsProgress    float64         `db:"materials_progress" json:"materials_progress"`
	AssessmentsCompleted int             `db:"assessments_completed" json:"assessments_completed"`
	TimeSpentMinutes     int             `db:"time_spent_minutes" json:"time_spent_minutes"`
	NotificationPlan     json.RawMessage `db:"notification_plan" json:"notification_plan"`
}

// NotificationPlan lists the notifications scheduled for a tracked enrollment.
// It is stored as metadata; nothing in the tracking subsystem fires timers.
type NotificationPlan struct {
	WelcomeAt      time.Time   `json:"welcome_at"`
	Reminders      []time.Time `json:"reminders"`
	DeadlineAlerts []time.Time `json:"deadline_alerts"`
}

package models

import "time"

// CourseStatus is the lifecycle phase of a course.
type CourseStatus string

// Course lifecycle states.
const (
	CourseStatusDraft    CourseStatus = "DRAFT"
	CourseStatusActive   CourseStatus = "ACTIVE"
	CourseStatusFinished CourseStatus = "FINISHED"
	CourseStatusArchived CourseStatus = "ARCHIVED"
)

// Course represents a catalog course that students enroll into.
type Course struct {
	ID           string       `db:"id" json:"id"`
	Code         string       `db:"code" json:"code"`
	Name         string       `db:"name" json:"name"`
	Description  string       `db:"description" json:"description"`
	Status       CourseStatus `db:"status" json:"status"`
	Capacity     *int         `db:"capacity" json:"capacity,omitempty"`
	InstructorID string       `db:"instructor_id" json:"instructor_id"`
	CreatedAt    time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time    `db:"updated_at" json:"updated_at"`
}

// HasCapacityLimit reports whether the course caps concurrent active enrollments.
func (c *Course) HasCapacityLimit() bool {
	return c != nil && c.Capacity != nil && *c.Capacity > 0
}

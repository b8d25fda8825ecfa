package models

import "time"

// Material is a piece of course content (document, video link, reading).
type Material struct {
	ID        string    `db:"id" json:"id"`
	CourseID  string    `db:"course_id" json:"course_id"`
	Title     string    `db:"title" json:"title"`
	Kind      string    `db:"kind" json:"kind"`
	URL       string    `db:"url" json:"url"`
	Active    bool      `db:"active" json:"active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Evaluation is a graded assessment attached to a course.
type Evaluation struct {
	ID        string     `db:"id" json:"id"`
	CourseID  string     `db:"course_id" json:"course_id"`
	Title     string     `db:"title" json:"title"`
	MaxPoints float64    `db:"max_points" json:"max_points"`
	DueAt     *time.Time `db:"due_at" json:"due_at,omitempty"`
	Active    bool       `db:"active" json:"active"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
}

// EvaluationSummary aggregates active evaluations of a course.
type EvaluationSummary struct {
	Count     int     `db:"count" json:"count"`
	MaxPoints float64 `db:"max_points" json:"max_points"`
}

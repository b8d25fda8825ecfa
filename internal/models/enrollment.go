package models

import "time"

// EnrollmentStatus represents the lifecycle of an enrollment.
type EnrollmentStatus string

// Possible enrollment statuses.
const (
	EnrollmentStatusPending   EnrollmentStatus = "PENDING"
	EnrollmentStatusActive    EnrollmentStatus = "ACTIVE"
	EnrollmentStatusFailed    EnrollmentStatus = "FAILED"
	EnrollmentStatusCancelled EnrollmentStatus = "CANCELLED"
)

// EnrollmentCategory selects the variant branch used to process an enrollment.
type EnrollmentCategory string

// Enrollment categories.
const (
	EnrollmentCategoryFree        EnrollmentCategory = "GRATUITA"
	EnrollmentCategoryPaid        EnrollmentCategory = "PAGA"
	EnrollmentCategoryScholarship EnrollmentCategory = "BECA"
)

// Enrollment captures a student's registration to a course.
type Enrollment struct {
	ID              string             `db:"id" json:"id"`
	StudentID       string             `db:"student_id" json:"student_id"`
	CourseID        string             `db:"course_id" json:"course_id"`
	Category        EnrollmentCategory `db:"category" json:"category"`
	Status          EnrollmentStatus   `db:"status" json:"status"`
	PaymentMethod   *string            `db:"payment_method" json:"payment_method,omitempty"`
	Amount          *float64           `db:"amount" json:"amount,omitempty"`
	DiscountCode    *string            `db:"discount_code" json:"discount_code,omitempty"`
	ScholarshipType *string            `db:"scholarship_type" json:"scholarship_type,omitempty"`
	ScholarshipCode *string            `db:"scholarship_code" json:"scholarship_code,omitempty"`
	FailureReason   *string            `db:"failure_reason" json:"failure_reason,omitempty"`
	CreatedAt       time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time          `db:"updated_at" json:"updated_at"`
}

// EnrollmentDetail enriches Enrollment with student and course info.
type EnrollmentDetail struct {
	Enrollment
	StudentName string `db:"student_name" json:"student_name"`
	StudentCode string `db:"student_code" json:"student_code"`
	CourseName  string `db:"course_name" json:"course_name"`
}

package dto

import (
	"time"

	"github.com/noah-isme/lms-enrollment-api/internal/models"
)

// EnrollmentWorkflowRequest is the input of the enrollment workflow.
type EnrollmentWorkflowRequest struct {
	StudentID       string                    `json:"student_id" validate:"required"`
	CourseID        string                    `json:"course_id" validate:"required"`
	Category        models.EnrollmentCategory `json:"category" validate:"required,oneof=GRATUITA PAGA BECA"`
	PaymentMethod   string                    `json:"payment_method,omitempty"`
	Amount          *float64                  `json:"amount,omitempty"`
	DiscountCode    string                    `json:"discount_code,omitempty"`
	ScholarshipType string                    `json:"scholarship_type,omitempty"`
	ScholarshipCode string                    `json:"scholarship_code,omitempty"`
	AcceptsTerms    bool                      `json:"accepts_terms"`
}

// WorkflowStep is the recorded outcome of one workflow step.
type WorkflowStep struct {
	Name     string                 `json:"name"`
	Success  bool                   `json:"success"`
	Message  string                 `json:"message"`
	Details  map[string]interface{} `json:"details,omitempty"`
	Duration time.Duration          `json:"duration_ns"`
	Order    int                    `json:"order"`
}

// EnrollmentWorkflowResult aggregates every step of one workflow run.
type EnrollmentWorkflowResult struct {
	Success              bool                     `json:"success"`
	Message              string                   `json:"message"`
	RunID                string                   `json:"run_id"`
	EnrollmentID         string                   `json:"enrollment_id,omitempty"`
	EnrollmentStatus     *models.EnrollmentStatus `json:"enrollment_status,omitempty"`
	ValidationDone       bool                     `json:"validation_done"`
	MaterialsAssigned    bool                     `json:"materials_assigned"`
	MaterialsTotal       int                      `json:"materials_total"`
	AssessmentsReady     bool                     `json:"assessments_ready"`
	AssessmentsTotal     int                      `json:"assessments_total"`
	AssessmentsMaxPoints float64                  `json:"assessments_max_points"`
	TrackingStarted      bool                     `json:"tracking_started"`
	NotificationSent     bool                     `json:"notification_sent"`
	CourseName           string                   `json:"course_name,omitempty"`
	Steps                []WorkflowStep           `json:"steps"`
	Details              []string                 `json:"details"`
	Errors               []string                 `json:"errors"`
}

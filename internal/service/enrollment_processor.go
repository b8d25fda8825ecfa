package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/lms-enrollment-api/internal/dto"
	"github.com/noah-isme/lms-enrollment-api/internal/models"
)

type enrollmentWriter interface {
	Create(ctx context.Context, enrollment *models.Enrollment) error
	UpdateStatus(ctx context.Context, id string, status models.EnrollmentStatus, reason *string) error
}

// CategoryBranch supplies the category specific parts of enrollment processing.
type CategoryBranch interface {
	Category() models.EnrollmentCategory
	// ValidateFields returns a failure message when required fields are missing.
	ValidateFields(req dto.EnrollmentWorkflowRequest) string
	// Populate copies category fields onto the record before it is persisted.
	Populate(enrollment *models.Enrollment, req dto.EnrollmentWorkflowRequest)
	StepName() string
	Process(ctx context.Context, enrollment *models.Enrollment) (map[string]interface{}, error)
}

// ProcessOutcome is the result of running the processor for one request.
type ProcessOutcome struct {
	Enrollment *models.Enrollment
	Success    bool
	Message    string
	Steps      []dto.WorkflowStep
}

// EnrollmentProcessor runs the fixed enrollment skeleton: validate category
// fields, persist as PENDING, run the category branch, finalize the status.
type EnrollmentProcessor struct {
	repo     enrollmentWriter
	branches map[models.EnrollmentCategory]CategoryBranch
	logger   *zap.Logger
	now      func() time.Time
}

// NewEnrollmentProcessor constructs the processor. With no branches the free,
// paid and scholarship branches are registered.
func NewEnrollmentProcessor(repo enrollmentWriter, logger *zap.Logger, branches ...CategoryBranch) *EnrollmentProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(branches) == 0 {
		branches = []CategoryBranch{freeBranch{}, paidBranch{}, scholarshipBranch{}}
	}
	registry := make(map[models.EnrollmentCategory]CategoryBranch, len(branches))
	for _, b := range branches {
		registry[b.Category()] = b
	}
	return &EnrollmentProcessor{repo: repo, branches: registry, logger: logger, now: time.Now}
}

// Process runs the skeleton. A failed category branch still leaves a FAILED
// record; the error return means the record could not be written at all.
func (p *EnrollmentProcessor) Process(ctx context.Context, req dto.EnrollmentWorkflowRequest) (*ProcessOutcome, error) {
	outcome := &ProcessOutcome{}
	branch, ok := p.branches[req.Category]
	if !ok {
		outcome.Message = fmt.Sprintf("unsupported enrollment category %q", req.Category)
		return outcome, nil
	}

	start := p.now()
	fieldFailure := branch.ValidateFields(req)
	p.record(outcome, "validate_category_fields", fieldFailure == "", orDefault(fieldFailure, "category fields present"), start, map[string]interface{}{
		"category": string(req.Category),
	})

	start = p.now()
	enrollment := &models.Enrollment{
		StudentID: req.StudentID,
		CourseID:  req.CourseID,
		Category:  req.Category,
		Status:    models.EnrollmentStatusPending,
		CreatedAt: start.UTC(),
	}
	branch.Populate(enrollment, req)
	if err := p.repo.Create(ctx, enrollment); err != nil {
		p.record(outcome, "persist_enrollment", false, err.Error(), start, nil)
		return outcome, fmt.Errorf("persist enrollment: %w", err)
	}
	outcome.Enrollment = enrollment
	p.record(outcome, "persist_enrollment", true, "enrollment recorded as PENDING", start, map[string]interface{}{
		"enrollment_id": enrollment.ID,
	})

	failure := fieldFailure
	if failure == "" {
		start = p.now()
		details, err := branch.Process(ctx, enrollment)
		if err != nil {
			failure = err.Error()
			p.record(outcome, branch.StepName(), false, failure, start, details)
		} else {
			p.record(outcome, branch.StepName(), true, "category processing completed", start, details)
		}
	}

	start = p.now()
	status := models.EnrollmentStatusActive
	var reason *string
	if failure != "" {
		status = models.EnrollmentStatusFailed
		reason = &failure
	}
	if err := p.repo.UpdateStatus(ctx, enrollment.ID, status, reason); err != nil {
		p.record(outcome, "finalize_status", false, err.Error(), start, nil)
		return outcome, fmt.Errorf("finalize enrollment: %w", err)
	}
	enrollment.Status = status
	enrollment.FailureReason = reason
	p.record(outcome, "finalize_status", true, "enrollment marked "+string(status), start, map[string]interface{}{
		"status": string(status),
	})

	outcome.Success = failure == ""
	if outcome.Success {
		outcome.Message = fmt.Sprintf("%s enrollment activated", strings.ToLower(string(req.Category)))
	} else {
		outcome.Message = failure
		p.logger.Info("enrollment failed in category branch",
			zap.String("enrollment_id", enrollment.ID),
			zap.String("category", string(req.Category)),
			zap.String("reason", failure),
		)
	}
	return outcome, nil
}

func (p *EnrollmentProcessor) record(outcome *ProcessOutcome, name string, success bool, message string, start time.Time, details map[string]interface{}) {
	outcome.Steps = append(outcome.Steps, dto.WorkflowStep{
		Name:     name,
		Success:  success,
		Message:  message,
		Details:  details,
		Duration: p.now().Sub(start),
		Order:    len(outcome.Steps) + 1,
	})
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func optional(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}

type freeBranch struct{}

func (freeBranch) Category() models.EnrollmentCategory { return models.EnrollmentCategoryFree }

func (freeBranch) ValidateFields(dto.EnrollmentWorkflowRequest) string { return "" }

func (freeBranch) Populate(*models.Enrollment, dto.EnrollmentWorkflowRequest) {}

func (freeBranch) StepName() string { return "process_free" }

func (freeBranch) Process(context.Context, *models.Enrollment) (map[string]interface{}, error) {
	return map[string]interface{}{"charge": "none"}, nil
}

// paidBranch requires a payment method and an amount. Amount values are not
// checked beyond presence.
type paidBranch struct{}

func (paidBranch) Category() models.EnrollmentCategory { return models.EnrollmentCategoryPaid }

func (paidBranch) ValidateFields(req dto.EnrollmentWorkflowRequest) string {
	var missing []string
	if strings.TrimSpace(req.PaymentMethod) == "" {
		missing = append(missing, "payment method")
	}
	if req.Amount == nil {
		missing = append(missing, "amount")
	}
	if len(missing) > 0 {
		return "paid enrollment requires " + strings.Join(missing, " and ")
	}
	return ""
}

func (paidBranch) Populate(enrollment *models.Enrollment, req dto.EnrollmentWorkflowRequest) {
	enrollment.PaymentMethod = optional(req.PaymentMethod)
	enrollment.Amount = req.Amount
	enrollment.DiscountCode = optional(req.DiscountCode)
}

func (paidBranch) StepName() string { return "process_payment" }

func (paidBranch) Process(_ context.Context, enrollment *models.Enrollment) (map[string]interface{}, error) {
	details := map[string]interface{}{
		"payment_method": *enrollment.PaymentMethod,
		"amount":         strconv.FormatFloat(*enrollment.Amount, 'f', 2, 64),
	}
	if enrollment.DiscountCode != nil {
		details["discount_code"] = *enrollment.DiscountCode
	}
	return details, nil
}

type scholarshipBranch struct{}

func (scholarshipBranch) Category() models.EnrollmentCategory {
	return models.EnrollmentCategoryScholarship
}

func (scholarshipBranch) ValidateFields(req dto.EnrollmentWorkflowRequest) string {
	var missing []string
	if strings.TrimSpace(req.ScholarshipType) == "" {
		missing = append(missing, "scholarship type")
	}
	if strings.TrimSpace(req.ScholarshipCode) == "" {
		missing = append(missing, "scholarship code")
	}
	if len(missing) > 0 {
		return "scholarship enrollment requires " + strings.Join(missing, " and ")
	}
	return ""
}

func (scholarshipBranch) Populate(enrollment *models.Enrollment, req dto.EnrollmentWorkflowRequest) {
	enrollment.ScholarshipType = optional(req.ScholarshipType)
	enrollment.ScholarshipCode = optional(req.ScholarshipCode)
}

func (scholarshipBranch) StepName() string { return "process_scholarship" }

func (scholarshipBranch) Process(_ context.Context, enrollment *models.Enrollment) (map[string]interface{}, error) {
	return map[string]interface{}{
		"scholarship_type": *enrollment.ScholarshipType,
		"scholarship_code": *enrollment.ScholarshipCode,
	}, nil
}

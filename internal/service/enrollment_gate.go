package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/noah-isme/lms-enrollment-api/internal/models"
)

type studentLookup interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
}

type courseLookup interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
}

type enrollmentCounter interface {
	ExistsActive(ctx context.Context, studentID, courseID string) (bool, error)
	CountActiveByCourse(ctx context.Context, courseID string) (int, error)
}

// Gate check names, in evaluation order.
const (
	GateCheckStudent   = "student_exists"
	GateCheckCourse    = "course_exists"
	GateCheckAvailable = "course_available"
	GateCheckDuplicate = "not_enrolled"
	GateCheckCapacity  = "capacity"
)

// GateOutcome is the verdict of the enrollment gate. An empty Message means
// every check passed.
type GateOutcome struct {
	Student     *models.Student
	Course      *models.Course
	FailedCheck string
	Message     string
	ActiveCount int
}

// Passed reports whether every precondition held.
func (o GateOutcome) Passed() bool {
	return o.Message == ""
}

// EnrollmentGate checks enrollment preconditions before anything is written.
type EnrollmentGate struct {
	students    studentLookup
	courses     courseLookup
	enrollments enrollmentCounter
}

// NewEnrollmentGate constructs the gate.
func NewEnrollmentGate(students studentLookup, courses courseLookup, enrollments enrollmentCounter) *EnrollmentGate {
	return &EnrollmentGate{students: students, courses: courses, enrollments: enrollments}
}

// Validate evaluates the checks in order and stops at the first failure. The
// error return is reserved for lookups that could not be completed.
func (g *EnrollmentGate) Validate(ctx context.Context, studentID, courseID string) (GateOutcome, error) {
	var outcome GateOutcome

	student, err := g.students.FindByID(ctx, studentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fail(outcome, GateCheckStudent, fmt.Sprintf("student %s not found", studentID)), nil
		}
		return outcome, fmt.Errorf("load student: %w", err)
	}
	outcome.Student = student

	course, err := g.courses.FindByID(ctx, courseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fail(outcome, GateCheckCourse, fmt.Sprintf("course %s not found", courseID)), nil
		}
		return outcome, fmt.Errorf("load course: %w", err)
	}
	outcome.Course = course

	if !course.Status.CanAcceptEnrollments() {
		return fail(outcome, GateCheckAvailable, fmt.Sprintf("course %s is not available for enrollment (status %s)", course.Name, course.Status)), nil
	}

	exists, err := g.enrollments.ExistsActive(ctx, studentID, courseID)
	if err != nil {
		return outcome, err
	}
	if exists {
		return fail(outcome, GateCheckDuplicate, fmt.Sprintf("student %s is already enrolled in course %s", studentID, course.Name)), nil
	}

	if course.HasCapacityLimit() {
		active, err := g.enrollments.CountActiveByCourse(ctx, courseID)
		if err != nil {
			return outcome, err
		}
		outcome.ActiveCount = active
		if active >= *course.Capacity {
			return fail(outcome, GateCheckCapacity, fmt.Sprintf("course %s is full (%d/%d)", course.Name, active, *course.Capacity)), nil
		}
	}

	return outcome, nil
}

func fail(outcome GateOutcome, check, message string) GateOutcome {
	outcome.FailedCheck = check
	outcome.Message = message
	return outcome
}

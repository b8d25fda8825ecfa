package models

import (
	"errors"
	"fmt"
)

// CourseAction names a lifecycle transition request.
type CourseAction string

// Supported lifecycle actions.
const (
	CourseActionPublish  CourseAction = "publish"
	CourseActionActivate CourseAction = "activate"
	CourseActionFinish   CourseAction = "finish"
	CourseActionArchive  CourseAction = "archive"
)

// ErrIllegalTransition is returned when an action cannot be applied from the current state.
var ErrIllegalTransition = errors.New("illegal course transition")

// CourseCapabilities lists what a lifecycle state permits.
type CourseCapabilities struct {
	AcceptEnrollments bool `json:"accept_enrollments"`
	ModifyContent     bool `json:"modify_content"`
	Delete            bool `json:"delete"`
}

var courseCapabilities = map[CourseStatus]CourseCapabilities{
	CourseStatusDraft:    {AcceptEnrollments: false, ModifyContent: true, Delete: true},
	CourseStatusActive:   {AcceptEnrollments: true, ModifyContent: true, Delete: false},
	CourseStatusFinished: {AcceptEnrollments: false, ModifyContent: false, Delete: false},
	CourseStatusArchived: {AcceptEnrollments: false, ModifyContent: false, Delete: true},
}

// courseTransitions maps state -> action -> target. A target equal to the
// source state is a no-op success; a missing entry is illegal.
var courseTransitions = map[CourseStatus]map[CourseAction]CourseStatus{
	CourseStatusDraft: {
		CourseActionPublish: CourseStatusActive,
		CourseActionArchive: CourseStatusArchived,
	},
	CourseStatusActive: {
		CourseActionPublish:  CourseStatusActive,
		CourseActionActivate: CourseStatusActive,
		CourseActionFinish:   CourseStatusFinished,
		CourseActionArchive:  CourseStatusArchived,
	},
	CourseStatusFinished: {
		CourseActionFinish:  CourseStatusFinished,
		CourseActionArchive: CourseStatusArchived,
	},
	CourseStatusArchived: {
		CourseActionArchive: CourseStatusArchived,
	},
}

// CourseStatuses returns every lifecycle state in declaration order.
func CourseStatuses() []CourseStatus {
	return []CourseStatus{CourseStatusDraft, CourseStatusActive, CourseStatusFinished, CourseStatusArchived}
}

// CourseActions returns every lifecycle action.
func CourseActions() []CourseAction {
	return []CourseAction{CourseActionPublish, CourseActionActivate, CourseActionFinish, CourseActionArchive}
}

// Valid reports whether the status is a known lifecycle state.
func (s CourseStatus) Valid() bool {
	_, ok := courseCapabilities[s]
	return ok
}

// Capabilities returns the permissions granted by the state. Unknown states grant nothing.
func (s CourseStatus) Capabilities() CourseCapabilities {
	return courseCapabilities[s]
}

// CanAcceptEnrollments reports whether new enrollments are allowed.
func (s CourseStatus) CanAcceptEnrollments() bool { return s.Capabilities().AcceptEnrollments }

// CanModifyContent reports whether materials and evaluations may change.
func (s CourseStatus) CanModifyContent() bool { return s.Capabilities().ModifyContent }

// CanBeDeleted reports whether the course may be removed.
func (s CourseStatus) CanBeDeleted() bool { return s.Capabilities().Delete }

// Apply resolves the state reached by performing action. The boolean is true
// when the course is already in the target state and nothing must change.
func (s CourseStatus) Apply(action CourseAction) (CourseStatus, bool, error) {
	target, ok := courseTransitions[s][action]
	if !ok {
		return s, false, fmt.Errorf("%w: cannot %s a %s course", ErrIllegalTransition, action, s)
	}
	return target, target == s, nil
}

package dto

import "github.com/noah-isme/lms-enrollment-api/internal/models"

// CreateCourseRequest payload for creating a draft course.
type CreateCourseRequest struct {
	Code         string `json:"code" validate:"required,max=32"`
	Name         string `json:"name" validate:"required"`
	Description  string `json:"description"`
	Capacity     *int   `json:"capacity,omitempty" validate:"omitempty,gt=0"`
	InstructorID string `json:"instructor_id" validate:"required"`
}

// CourseTransitionResponse reports the outcome of a lifecycle action.
type CourseTransitionResponse struct {
	Course       models.Course             `json:"course"`
	Action       models.CourseAction       `json:"action"`
	Previous     models.CourseStatus       `json:"previous_status"`
	Changed      bool                      `json:"changed"`
	Capabilities models.CourseCapabilities `json:"capabilities"`
}

// CreateMaterialRequest payload for adding course content.
type CreateMaterialRequest struct {
	Title string `json:"title" validate:"required"`
	Kind  string `json:"kind" validate:"required,oneof=DOCUMENT VIDEO LINK READING"`
	URL   string `json:"url" validate:"omitempty,url"`
}

// RosterFormat selects the roster export encoding.
type RosterFormat string

const (
	RosterFormatCSV RosterFormat = "csv"
	RosterFormatPDF RosterFormat = "pdf"
)

// RosterExport is a rendered course roster.
type RosterExport struct {
	Filename    string
	ContentType string
	Content     []byte
}

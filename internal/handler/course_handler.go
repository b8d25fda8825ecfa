package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lms-enrollment-api/internal/dto"
	"github.com/noah-isme/lms-enrollment-api/internal/models"
	appErrors "github.com/noah-isme/lms-enrollment-api/pkg/errors"
	"github.com/noah-isme/lms-enrollment-api/pkg/response"
)

type courseService interface {
	Create(ctx context.Context, req dto.CreateCourseRequest) (*models.Course, error)
	Get(ctx context.Context, id string) (*models.Course, error)
	Transition(ctx context.Context, id string, action models.CourseAction) (*dto.CourseTransitionResponse, error)
	Delete(ctx context.Context, id string) error
}

type materialService interface {
	Create(ctx context.Context, courseID string, req dto.CreateMaterialRequest) (*models.Material, error)
}

// CourseHandler exposes course and lifecycle endpoints.
type CourseHandler struct {
	courses   courseService
	materials materialService
}

// NewCourseHandler constructs CourseHandler.
func NewCourseHandler(courses courseService, materials materialService) *CourseHandler {
	return &CourseHandler{courses: courses, materials: materials}
}

// Create godoc
// @Summary Create a draft course
// @Tags Courses
// @Accept json
// @Produce json
// @Param payload body dto.CreateCourseRequest true "Course payload"
// @Success 201 {object} response.Envelope
// @Router /courses [post]
func (h *CourseHandler) Create(c *gin.Context) {
	var req dto.CreateCourseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	course, err := h.courses.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, course)
}

// Get godoc
// @Summary Get course
// @Tags Courses
// @Produce json
// @Param id path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Router /courses/{id} [get]
func (h *CourseHandler) Get(c *gin.Context) {
	course, err := h.courses.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, course, nil, map[string]interface{}{
		"capabilities": course.Status.Capabilities(),
	})
}

// Transition returns the handler applying action to the course in the path.
// @Summary Apply a lifecycle action
// @Tags Courses
// @Produce json
// @Param id path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /courses/{id}/publish [post]
// @Router /courses/{id}/activate [post]
// @Router /courses/{id}/finish [post]
// @Router /courses/{id}/archive [post]
func (h *CourseHandler) Transition(action models.CourseAction) gin.HandlerFunc {
	return func(c *gin.Context) {
		resp, err := h.courses.Transition(c.Request.Context(), c.Param("id"), action)
		if err != nil {
			response.Error(c, err)
			return
		}
		response.JSON(c, http.StatusOK, resp, nil)
	}
}

// Delete godoc
// @Summary Delete a course
// @Tags Courses
// @Param id path string true "Course ID"
// @Success 204
// @Failure 409 {object} response.Envelope
// @Router /courses/{id} [delete]
func (h *CourseHandler) Delete(c *gin.Context) {
	if err := h.courses.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// AddMaterial godoc
// @Summary Add course material
// @Tags Courses
// @Accept json
// @Produce json
// @Param id path string true "Course ID"
// @Param payload body dto.CreateMaterialRequest true "Material payload"
// @Success 201 {object} response.Envelope
// @Router /courses/{id}/materials [post]
func (h *CourseHandler) AddMaterial(c *gin.Context) {
	var req dto.CreateMaterialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	material, err := h.materials.Create(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, material)
}

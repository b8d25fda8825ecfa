package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lms-enrollment-api/internal/dto"
	"github.com/noah-isme/lms-enrollment-api/internal/models"
	"github.com/noah-isme/lms-enrollment-api/pkg/response"
)

type notificationService interface {
	List(ctx context.Context, filter models.NotificationFilter) ([]models.Notification, *models.Pagination, error)
	MarkRead(ctx context.Context, userID, notificationID string) error
	Subscriptions(ctx context.Context, userID string) (*dto.SubscriptionResponse, error)
	Subscribe(ctx context.Context, userID string, eventType models.EventType) (*dto.SubscriptionResponse, error)
	Unsubscribe(ctx context.Context, userID string, eventType models.EventType) (*dto.SubscriptionResponse, error)
}

// NotificationHandler serves user inboxes and subscriptions.
type NotificationHandler struct {
	notifications notificationService
}

// NewNotificationHandler constructs NotificationHandler.
func NewNotificationHandler(notifications notificationService) *NotificationHandler {
	return &NotificationHandler{notifications: notifications}
}

// List godoc
// @Summary List a user's notifications
// @Tags Notifications
// @Produce json
// @Param userId path string true "User ID"
// @Param status query string false "UNREAD or READ"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /users/{userId}/notifications [get]
func (h *NotificationHandler) List(c *gin.Context) {
	filter := models.NotificationFilter{
		RecipientID: c.Param("userId"),
		Status:      models.NotificationStatus(strings.ToUpper(c.Query("status"))),
	}
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}
	items, pagination, err := h.notifications.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, pagination)
}

// MarkRead godoc
// @Summary Mark a notification as read
// @Tags Notifications
// @Param userId path string true "User ID"
// @Param id path string true "Notification ID"
// @Success 204
// @Router /users/{userId}/notifications/{id}/read [patch]
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	if err := h.notifications.MarkRead(c.Request.Context(), c.Param("userId"), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Subscriptions godoc
// @Summary Get a user's event interests
// @Tags Notifications
// @Produce json
// @Param userId path string true "User ID"
// @Success 200 {object} response.Envelope
// @Router /users/{userId}/subscriptions [get]
func (h *NotificationHandler) Subscriptions(c *gin.Context) {
	subs, err := h.notifications.Subscriptions(c.Request.Context(), c.Param("userId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, subs, nil)
}

// Subscribe godoc
// @Summary Add an event type to a user's interests
// @Tags Notifications
// @Produce json
// @Param userId path string true "User ID"
// @Param event path string true "Event type"
// @Success 200 {object} response.Envelope
// @Router /users/{userId}/subscriptions/{event} [put]
func (h *NotificationHandler) Subscribe(c *gin.Context) {
	subs, err := h.notifications.Subscribe(c.Request.Context(), c.Param("userId"), eventParam(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, subs, nil)
}

// Unsubscribe godoc
// @Summary Remove an event type from a user's interests
// @Tags Notifications
// @Produce json
// @Param userId path string true "User ID"
// @Param event path string true "Event type"
// @Success 200 {object} response.Envelope
// @Router /users/{userId}/subscriptions/{event} [delete]
func (h *NotificationHandler) Unsubscribe(c *gin.Context) {
	subs, err := h.notifications.Unsubscribe(c.Request.Context(), c.Param("userId"), eventParam(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, subs, nil)
}

func eventParam(c *gin.Context) models.EventType {
	return models.EventType(strings.ToUpper(c.Param("event")))
}

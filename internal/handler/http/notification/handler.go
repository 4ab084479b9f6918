package notification

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/vishalthakur2004/Trendly-sub000/internal/service/notification"
	"github.com/vishalthakur2004/Trendly-sub000/pkg/pagination"
	"github.com/vishalthakur2004/Trendly-sub000/pkg/response"
)

// Handler handles call notification HTTP requests
type Handler struct {
	notificationService *notification.Service
}

// NewHandler creates a new notification handler
func NewHandler(notificationService *notification.Service) *Handler {
	return &Handler{
		notificationService: notificationService,
	}
}

// List returns the authenticated user's call notifications, newest first
// GET /v1/notifications
func (h *Handler) List(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	params, err := pagination.ParseParams(c.Query("page"), c.Query("limit"))
	if err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	notifications, total, err := h.notificationService.List(c.Request.Context(), userID, params.Limit, params.Offset)
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, pagination.BuildResponse(params, total, notifications))
}

// MarkRead marks one notification as read
// POST /v1/notifications/:id/read
func (h *Handler) MarkRead(c *gin.Context) {
	notificationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ValidationError(c, "Invalid notification ID")
		return
	}

	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	if err := h.notificationService.MarkRead(c.Request.Context(), notificationID, userID); err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"message": "Notification marked as read",
	})
}

func currentUserID(c *gin.Context) (uuid.UUID, bool) {
	userIDVal, exists := c.Get("user_id")
	if !exists {
		response.Unauthorized(c, "Not authenticated")
		return uuid.Nil, false
	}

	userID, ok := userIDVal.(uuid.UUID)
	if !ok {
		response.InternalError(c, "Invalid user ID")
		return uuid.Nil, false
	}
	return userID, true
}

package push

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vishalthakur2004/Trendly-sub000/pkg/logger"
	"github.com/vishalthakur2004/Trendly-sub000/pkg/push"
	"github.com/vishalthakur2004/Trendly-sub000/pkg/response"
)

// Handler handles push token HTTP requests
type Handler struct {
	tokens push.TokenRepository
}

// NewHandler creates a new push token handler
func NewHandler(tokens push.TokenRepository) *Handler {
	return &Handler{
		tokens: tokens,
	}
}

// RegisterTokenRequest represents a request to register a push token
type RegisterTokenRequest struct {
	Token    string         `json:"token" binding:"required"`
	Type     push.TokenType `json:"type" binding:"required,oneof=fcm apns"`
	Platform string         `json:"platform" binding:"omitempty,oneof=ios android"`
}

// RegisterToken registers a device token for call push notifications
// POST /v1/push/tokens
func (h *Handler) RegisterToken(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req RegisterTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	token := &push.Token{
		ID:        uuid.New(),
		UserID:    userID,
		Token:     req.Token,
		Type:      req.Type,
		Platform:  req.Platform,
		Active:    true,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	if err := h.tokens.Store(c.Request.Context(), token); err != nil {
		logger.Error("Failed to register push token",
			zap.String("user_id", userID.String()),
			zap.Error(err))
		response.InternalError(c, "Failed to register token")
		return
	}

	logger.Info("Push token registered",
		zap.String("user_id", userID.String()),
		zap.String("token_type", string(req.Type)),
		zap.String("platform", req.Platform))

	response.Success(c, http.StatusOK, gin.H{
		"token_id": token.ID,
	})
}

// UnregisterTokenRequest represents a request to remove a push token
type UnregisterTokenRequest struct {
	Token string `json:"token" binding:"required"`
}

// UnregisterToken removes a device token
// DELETE /v1/push/tokens
func (h *Handler) UnregisterToken(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req UnregisterTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	if err := h.tokens.Delete(c.Request.Context(), userID, req.Token); err != nil {
		logger.Error("Failed to unregister push token",
			zap.String("user_id", userID.String()),
			zap.Error(err))
		response.InternalError(c, "Failed to unregister token")
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"message": "Token unregistered",
	})
}

// GetTokens returns the authenticated user's registered device tokens
// GET /v1/push/tokens
func (h *Handler) GetTokens(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	tokens, err := h.tokens.GetByUserID(c.Request.Context(), userID)
	if err != nil {
		logger.Error("Failed to get push tokens",
			zap.String("user_id", userID.String()),
			zap.Error(err))
		response.InternalError(c, "Failed to get tokens")
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"tokens": tokens,
		"count":  len(tokens),
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

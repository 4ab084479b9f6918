package call

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/vishalthakur2004/Trendly-sub000/internal/domain"
	callservice "github.com/vishalthakur2004/Trendly-sub000/internal/service/call"
	"github.com/vishalthakur2004/Trendly-sub000/pkg/pagination"
	"github.com/vishalthakur2004/Trendly-sub000/pkg/response"
)

// Handler handles call lifecycle HTTP requests
type Handler struct {
	callService *callservice.Service
}

// NewHandler creates a new call handler
func NewHandler(callService *callservice.Service) *Handler {
	return &Handler{
		callService: callService,
	}
}

// InitiateCallRequest represents a call initiation request
type InitiateCallRequest struct {
	CallType       string             `json:"call_type" binding:"required,oneof=audio video"`
	TargetID       *string            `json:"target_id" binding:"omitempty,uuid"`
	GroupID        *string            `json:"group_id" binding:"omitempty,uuid"`
	ParticipantIDs []string           `json:"participant_ids" binding:"omitempty,dive,uuid"`
	Caller         domain.UserProfile `json:"caller"`
}

// InitiateCall starts a new call and returns the created record
// POST /v1/calls/initiate
func (h *Handler) InitiateCall(c *gin.Context) {
	var req InitiateCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	payload := &domain.InitiateCallPayload{
		CallType: domain.CallType(req.CallType),
		Caller:   req.Caller,
	}
	// The caller profile is a client-supplied snapshot, but the identity
	// always comes from the token
	payload.Caller.ID = userID

	if req.TargetID != nil {
		targetID, err := uuid.Parse(*req.TargetID)
		if err != nil {
			response.ValidationError(c, "Invalid target ID")
			return
		}
		payload.TargetID = &targetID
	}
	if req.GroupID != nil {
		groupID, err := uuid.Parse(*req.GroupID)
		if err != nil {
			response.ValidationError(c, "Invalid group ID")
			return
		}
		payload.GroupID = &groupID
	}
	for _, idStr := range req.ParticipantIDs {
		id, err := uuid.Parse(idStr)
		if err != nil {
			response.ValidationError(c, "Invalid participant ID: "+idStr)
			return
		}
		payload.ParticipantIDs = append(payload.ParticipantIDs, id)
	}

	call, err := h.callService.Initiate(c.Request.Context(), userID, payload)
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, call)
}

// UpdateStatusRequest represents a lifecycle transition request
type UpdateStatusRequest struct {
	Status   string `json:"status" binding:"required,oneof=initiated ringing active ended missed declined"`
	Duration *int64 `json:"duration" binding:"omitempty,min=0"`
}

// UpdateStatus applies a lifecycle transition to a call
// POST /v1/calls/:id/status
func (h *Handler) UpdateStatus(c *gin.Context) {
	callID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ValidationError(c, "Invalid call ID")
		return
	}

	var req UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	call, err := h.callService.UpdateStatus(c.Request.Context(), userID, callID, domain.CallStatus(req.Status), req.Duration)
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, call)
}

// AddParticipantRequest represents a request to pull a user into a call
type AddParticipantRequest struct {
	UserID  string             `json:"user_id" binding:"required,uuid"`
	Profile domain.UserProfile `json:"profile"`
}

// AddParticipant adds a user to a live call
// POST /v1/calls/:id/participants
func (h *Handler) AddParticipant(c *gin.Context) {
	callID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ValidationError(c, "Invalid call ID")
		return
	}

	var req AddParticipantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	newUserID, err := uuid.Parse(req.UserID)
	if err != nil {
		response.ValidationError(c, "Invalid user ID")
		return
	}

	actorID, ok := currentUserID(c)
	if !ok {
		return
	}

	call, err := h.callService.AddParticipant(c.Request.Context(), actorID, &domain.AddParticipantPayload{
		CallID:  callID,
		UserID:  newUserID,
		Profile: req.Profile,
	})
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, call)
}

// EndCallRequest carries the optional client-reported duration
type EndCallRequest struct {
	Duration *int64 `json:"duration" binding:"omitempty,min=0"`
}

// EndCall terminates a call for everyone
// POST /v1/calls/:id/end
func (h *Handler) EndCall(c *gin.Context) {
	callID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ValidationError(c, "Invalid call ID")
		return
	}

	// Body is optional; an empty body means server-computed duration
	var req EndCallRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.ValidationError(c, err.Error())
			return
		}
	}

	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	call, err := h.callService.End(c.Request.Context(), userID, callID, req.Duration)
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, call)
}

// GetCall retrieves a call record with its participants
// GET /v1/calls/:id
func (h *Handler) GetCall(c *gin.Context) {
	callID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ValidationError(c, "Invalid call ID")
		return
	}

	call, err := h.callService.Get(c.Request.Context(), callID)
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, call)
}

// GetHistory returns the authenticated user's paginated call history
// GET /v1/calls/history
func (h *Handler) GetHistory(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	params, err := pagination.ParseParams(c.Query("page"), c.Query("limit"))
	if err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	calls, total, err := h.callService.History(c.Request.Context(), userID, params.Limit, params.Offset)
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, pagination.BuildResponse(params, total, calls))
}

// GetActiveCalls returns the records backing every live session
// GET /v1/calls/active
func (h *Handler) GetActiveCalls(c *gin.Context) {
	calls := h.callService.ActiveCalls(c.Request.Context())

	response.Success(c, http.StatusOK, gin.H{
		"calls": calls,
		"count": len(calls),
	})
}

// currentUserID pulls the authenticated user from the gin context. Writes
// the error response itself when missing.
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

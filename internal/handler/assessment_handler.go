package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/validator"
)

// AssessmentHandler serves the user-facing REST endpoints: the lobby and the
// current session.
type AssessmentHandler struct {
	sessions  *service.SessionService
	publisher *service.ProctorLogPublisher
}

// NewAssessmentHandler creates a new AssessmentHandler.
func NewAssessmentHandler(sessions *service.SessionService, publisher *service.ProctorLogPublisher) *AssessmentHandler {
	return &AssessmentHandler{sessions: sessions, publisher: publisher}
}

// GetLobby godoc
// GET /api/v1/assessments
// Lists the assessments assigned to the user.
func (h *AssessmentHandler) GetLobby(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	lobby, err := h.sessions.Lobby(c.Request.Context(), claims.UserID(), middleware.GetToken(c))
	if err != nil {
		response.FailError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"assessments": lobby})
}

// GetCurrentSession godoc
// GET /api/v1/sessions/current
// Returns a snapshot of the user's live session.
func (h *AssessmentHandler) GetCurrentSession(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	ctrl, ok := h.sessions.Current(claims.UserID())
	if !ok {
		response.Fail(c, http.StatusNotFound, response.ErrNoActiveSession)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"assessment": ctrl.Definition(),
		"session":    ctrl.Snapshot(),
	})
}

type submitCurrentRequest struct {
	Reason string `json:"reason" binding:"omitempty,submit_reason"`
}

// SubmitCurrentSession godoc
// POST /api/v1/sessions/current/submit
// Submits the live session. Used when the stream cannot deliver the
// request, and to retry a submission that was not delivered.
func (h *AssessmentHandler) SubmitCurrentSession(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req submitCurrentRequest
	if c.Request.ContentLength != 0 {
		if fields := validator.Bind(c, &req); fields != nil {
			response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
			return
		}
	}
	reason := model.SubmitReason(req.Reason)
	if reason == "" {
		reason = model.SubmitReasonManual
	}

	ctrl, ok := h.sessions.Current(claims.UserID())
	if !ok {
		response.Fail(c, http.StatusNotFound, response.ErrNoActiveSession)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), time.Minute)
	defer cancel()

	result, err := ctrl.Submit(ctx, reason)
	if err != nil {
		response.FailError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"result": result})
}

// GetSessionLog godoc
// GET /api/v1/assessments/:assessment_id/log
// Returns the warnings and violations recorded in the user's session.
func (h *AssessmentHandler) GetSessionLog(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	assessmentID, ok := assessmentParam(c)
	if !ok {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	events, err := h.publisher.SessionLog(c.Request.Context(), assessmentID, claims.UserID())
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"events": events})
}

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/inkwell-hq/inkwell/internal/middleware"
	"github.com/inkwell-hq/inkwell/internal/services"
	apperrors "github.com/inkwell-hq/inkwell/pkg/errors"
	"github.com/inkwell-hq/inkwell/pkg/response"
)

// SessionHandler exposes the session lifecycle over REST.
type SessionHandler struct {
	sessions *services.SessionService
}

// NewSessionHandler constructs a SessionHandler.
func NewSessionHandler(sessions *services.SessionService) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

type createSessionRequest struct {
	ManuscriptID string `json:"manuscript_id" binding:"required"`
	Title        string `json:"title" binding:"required"`
}

// Create starts a new collaborative session owned by the caller.
func (h *SessionHandler) Create(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperrors.NewValidation(err.Error()))
		return
	}

	session, err := h.sessions.CreateSession(c.Request.Context(), services.CreateSessionParams{
		ManuscriptID: req.ManuscriptID,
		Title:        req.Title,
		OwnerUserID:  c.GetString(middleware.CtxUserIDKey),
	})
	if err != nil {
		response.Error(c, mapServiceError(err))
		return
	}
	response.Success(c, http.StatusCreated, session)
}

// List returns the live session set.
func (h *SessionHandler) List(c *gin.Context) {
	response.Success(c, http.StatusOK, h.sessions.ListActiveSessions(c.Request.Context()))
}

// Get returns one session with its participants.
func (h *SessionHandler) Get(c *gin.Context) {
	session, err := h.sessions.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, mapServiceError(err))
		return
	}
	response.Success(c, http.StatusOK, session)
}

type joinSessionRequest struct {
	Role string `json:"role"`
}

// Join enrols the caller in the session. Re-joining returns the existing
// membership.
func (h *SessionHandler) Join(c *gin.Context) {
	var req joinSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		response.Error(c, apperrors.NewValidation(err.Error()))
		return
	}

	participant, err := h.sessions.JoinSession(c.Request.Context(), services.JoinSessionParams{
		SessionID: c.Param("id"),
		UserID:    c.GetString(middleware.CtxUserIDKey),
		Role:      req.Role,
	})
	if err != nil {
		response.Error(c, mapServiceError(err))
		return
	}
	response.Success(c, http.StatusOK, participant)
}

// End terminates the session. Owner only.
func (h *SessionHandler) End(c *gin.Context) {
	err := h.sessions.EndSession(c.Request.Context(), services.EndSessionParams{
		SessionID: c.Param("id"),
		UserID:    c.GetString(middleware.CtxUserIDKey),
	})
	if err != nil {
		response.Error(c, mapServiceError(err))
		return
	}
	response.Success(c, http.StatusOK, gin.H{"ended": true})
}

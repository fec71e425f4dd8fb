package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/inkwell-hq/inkwell/internal/middleware"
	"github.com/inkwell-hq/inkwell/internal/services"
	apperrors "github.com/inkwell-hq/inkwell/pkg/errors"
	"github.com/inkwell-hq/inkwell/pkg/response"
)

// CommentHandler exposes comment threads over REST.
type CommentHandler struct {
	comments *services.CommentService
}

// NewCommentHandler constructs a CommentHandler.
func NewCommentHandler(comments *services.CommentService) *CommentHandler {
	return &CommentHandler{comments: comments}
}

// List returns the session's comment threads, resolved ones included.
// ?unresolved_only=true narrows the listing to open threads.
func (h *CommentHandler) List(c *gin.Context) {
	comments, err := h.comments.ListComments(c.Request.Context(), services.ListCommentsParams{
		SessionID:      c.Param("id"),
		UnresolvedOnly: c.Query("unresolved_only") == "true",
	})
	if err != nil {
		response.Error(c, mapServiceError(err))
		return
	}
	response.Success(c, http.StatusOK, comments)
}

type addCommentRequest struct {
	Content   string          `json:"content" binding:"required"`
	Position  json.RawMessage `json:"position" binding:"required"`
	Selection json.RawMessage `json:"selection"`
}

// Create anchors a new comment thread.
func (h *CommentHandler) Create(c *gin.Context) {
	var req addCommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperrors.NewValidation(err.Error()))
		return
	}

	comment, err := h.comments.AddComment(c.Request.Context(), services.AddCommentParams{
		SessionID: c.Param("id"),
		UserID:    c.GetString(middleware.CtxUserIDKey),
		Content:   req.Content,
		Position:  req.Position,
		Selection: req.Selection,
	})
	if err != nil {
		response.Error(c, mapServiceError(err))
		return
	}
	response.Success(c, http.StatusCreated, comment)
}

type replyCommentRequest struct {
	Content string `json:"content" binding:"required"`
}

// Reply appends a reply to a thread.
func (h *CommentHandler) Reply(c *gin.Context) {
	var req replyCommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperrors.NewValidation(err.Error()))
		return
	}

	reply, err := h.comments.ReplyComment(c.Request.Context(), services.ReplyCommentParams{
		SessionID: c.Param("id"),
		CommentID: c.Param("commentId"),
		UserID:    c.GetString(middleware.CtxUserIDKey),
		Content:   req.Content,
	})
	if err != nil {
		response.Error(c, mapServiceError(err))
		return
	}
	response.Success(c, http.StatusCreated, reply)
}

// Resolve marks a thread resolved.
func (h *CommentHandler) Resolve(c *gin.Context) {
	comment, err := h.comments.ResolveComment(c.Request.Context(), services.ResolveCommentParams{
		SessionID: c.Param("id"),
		CommentID: c.Param("commentId"),
		UserID:    c.GetString(middleware.CtxUserIDKey),
	})
	if err != nil {
		response.Error(c, mapServiceError(err))
		return
	}
	response.Success(c, http.StatusOK, comment)
}

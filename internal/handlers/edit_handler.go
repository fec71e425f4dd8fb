package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/inkwell-hq/inkwell/internal/middleware"
	"github.com/inkwell-hq/inkwell/internal/services"
	apperrors "github.com/inkwell-hq/inkwell/pkg/errors"
	"github.com/inkwell-hq/inkwell/pkg/response"
)

// EditHandler exposes the edit log over REST. Edits are submitted over the
// websocket; REST covers catch-up reads and reverts.
type EditHandler struct {
	edits *services.EditService
}

// NewEditHandler constructs an EditHandler.
func NewEditHandler(edits *services.EditService) *EditHandler {
	return &EditHandler{edits: edits}
}

// List returns the session's edit log in applied order. Supports ?since
// (RFC 3339) and ?limit for incremental catch-up.
func (h *EditHandler) List(c *gin.Context) {
	params := services.ListEditsParams{SessionID: c.Param("id")}

	if raw := c.Query("since"); raw != "" {
		since, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			response.Error(c, apperrors.NewValidation("since must be an RFC 3339 timestamp"))
			return
		}
		params.Since = &since
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			response.Error(c, apperrors.NewValidation("limit must be a non-negative integer"))
			return
		}
		params.Limit = limit
	}

	edits, err := h.edits.ListEdits(c.Request.Context(), params)
	if err != nil {
		response.Error(c, mapServiceError(err))
		return
	}
	response.Success(c, http.StatusOK, edits)
}

// Revert marks an edit reverted. Author or session owner only.
func (h *EditHandler) Revert(c *gin.Context) {
	edit, err := h.edits.RevertEdit(c.Request.Context(), services.RevertEditParams{
		SessionID: c.Param("id"),
		EditID:    c.Param("editId"),
		UserID:    c.GetString(middleware.CtxUserIDKey),
	})
	if err != nil {
		response.Error(c, mapServiceError(err))
		return
	}
	response.Success(c, http.StatusOK, edit)
}

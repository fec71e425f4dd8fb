package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/inkwell-hq/inkwell/internal/middleware"
	"github.com/inkwell-hq/inkwell/internal/services"
	apperrors "github.com/inkwell-hq/inkwell/pkg/errors"
	"github.com/inkwell-hq/inkwell/pkg/response"
)

// SnapshotHandler exposes version snapshots over REST.
type SnapshotHandler struct {
	snapshots *services.SnapshotService
}

// NewSnapshotHandler constructs a SnapshotHandler.
func NewSnapshotHandler(snapshots *services.SnapshotService) *SnapshotHandler {
	return &SnapshotHandler{snapshots: snapshots}
}

type createSnapshotRequest struct {
	Content        string `json:"content" binding:"required"`
	Title          string `json:"title" binding:"required"`
	Abstract       string `json:"abstract"`
	ChangesSummary string `json:"changes_summary"`
}

// Create checkpoints the document under the next version number.
func (h *SnapshotHandler) Create(c *gin.Context) {
	var req createSnapshotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperrors.NewValidation(err.Error()))
		return
	}

	snapshot, err := h.snapshots.CreateSnapshot(c.Request.Context(), services.CreateSnapshotParams{
		SessionID:      c.Param("id"),
		UserID:         c.GetString(middleware.CtxUserIDKey),
		Content:        req.Content,
		Title:          req.Title,
		Abstract:       req.Abstract,
		ChangesSummary: req.ChangesSummary,
	})
	if err != nil {
		response.Error(c, mapServiceError(err))
		return
	}
	response.Success(c, http.StatusCreated, snapshot)
}

// History lists the session's versions newest first, without contents.
func (h *SnapshotHandler) History(c *gin.Context) {
	snapshots, err := h.snapshots.GetVersionHistory(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, mapServiceError(err))
		return
	}
	response.Success(c, http.StatusOK, snapshots)
}

// Get returns one full snapshot by version.
func (h *SnapshotHandler) Get(c *gin.Context) {
	version, err := strconv.Atoi(c.Param("version"))
	if err != nil || version < 1 {
		response.Error(c, apperrors.NewValidation("version must be a positive integer"))
		return
	}

	snapshot, err := h.snapshots.GetSnapshot(c.Request.Context(), c.Param("id"), version)
	if err != nil {
		response.Error(c, mapServiceError(err))
		return
	}
	response.Success(c, http.StatusOK, snapshot)
}

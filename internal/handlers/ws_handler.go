package handlers

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	iauth "github.com/inkwell-hq/inkwell/internal/auth"
	"github.com/inkwell-hq/inkwell/internal/realtime"
	"github.com/inkwell-hq/inkwell/internal/services"
	apperrors "github.com/inkwell-hq/inkwell/pkg/errors"
	"github.com/inkwell-hq/inkwell/pkg/logger"
	"github.com/inkwell-hq/inkwell/pkg/response"
)

// CollabSocketHandler owns the websocket surface: it authenticates upgrades,
// decodes the inbound event envelope, and routes each action to the matching
// service. The hub carries bytes; this type carries meaning.
type CollabSocketHandler struct {
	hub       *realtime.Hub
	jwt       *iauth.JWTService
	sessions  *services.SessionService
	presence  *services.PresenceService
	edits     *services.EditService
	comments  *services.CommentService
	snapshots *services.SnapshotService
	log       *zap.Logger
}

// NewCollabSocketHandler constructs a CollabSocketHandler.
func NewCollabSocketHandler(
	hub *realtime.Hub,
	jwt *iauth.JWTService,
	sessions *services.SessionService,
	presence *services.PresenceService,
	edits *services.EditService,
	comments *services.CommentService,
	snapshots *services.SnapshotService,
) *CollabSocketHandler {
	return &CollabSocketHandler{
		hub:       hub,
		jwt:       jwt,
		sessions:  sessions,
		presence:  presence,
		edits:     edits,
		comments:  comments,
		snapshots: snapshots,
		log:       logger.WithModule("collab-ws"),
	}
}

// Serve upgrades the request to a websocket. The token comes from the
// ?token query parameter or a Bearer header; browsers cannot set headers on
// websocket upgrades, hence the query fallback.
func (h *CollabSocketHandler) Serve(c *gin.Context) {
	token := strings.TrimSpace(c.Query("token"))
	if token == "" {
		header := c.GetHeader("Authorization")
		if strings.HasPrefix(header, "Bearer ") {
			token = strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		}
	}

	claims, err := h.jwt.ValidateAccessToken(token)
	if err != nil {
		response.Error(c, apperrors.ErrUnauthorized.WithInternal(err))
		return
	}

	h.hub.Serve(claims.UserID, h, c.Writer, c.Request)
}

// inboundMessage is the envelope clients send; Data stays raw until the
// action is known.
type inboundMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type authenticatePayload struct {
	SessionID string `json:"session_id"`
	Role      string `json:"role"`
}

type editPayload struct {
	ClientTimestamp time.Time       `json:"client_timestamp"`
	Operation       json.RawMessage `json:"operation"`
}

type addCommentPayload struct {
	Content   string          `json:"content"`
	Position  json.RawMessage `json:"position"`
	Selection json.RawMessage `json:"selection"`
}

type replyCommentPayload struct {
	CommentID string `json:"comment_id"`
	Content   string `json:"content"`
}

type resolveCommentPayload struct {
	CommentID string `json:"comment_id"`
}

type snapshotPayload struct {
	Content        string `json:"content"`
	Title          string `json:"title"`
	Abstract       string `json:"abstract"`
	ChangesSummary string `json:"changes_summary"`
}

// HandleMessage routes one inbound payload. Every action except
// authenticate requires the connection to have joined a session first.
// Failures go back to the sender only; they are never broadcast.
func (h *CollabSocketHandler) HandleMessage(ctx context.Context, conn *realtime.Conn, payload []byte) {
	var msg inboundMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		h.sendError(conn, "malformed message envelope")
		return
	}

	if msg.Event == realtime.ActionAuthenticate {
		h.handleAuthenticate(ctx, conn, msg.Data)
		return
	}

	sessionID := conn.SessionID()
	if sessionID == "" {
		h.sendError(conn, "authenticate before sending session events")
		return
	}

	switch msg.Event {
	case realtime.ActionEditOperation:
		h.handleEdit(ctx, conn, sessionID, msg.Data)
	case realtime.ActionCursorMove:
		err := h.presence.UpdateCursor(ctx, services.CursorParams{
			SessionID: sessionID,
			UserID:    conn.UserID(),
			ConnID:    conn.ID(),
			Payload:   msg.Data,
		})
		h.reportError(conn, err)
	case realtime.ActionTextSelect:
		err := h.presence.UpdateSelection(ctx, services.CursorParams{
			SessionID: sessionID,
			UserID:    conn.UserID(),
			ConnID:    conn.ID(),
			Payload:   msg.Data,
		})
		h.reportError(conn, err)
	case realtime.ActionAddComment:
		h.handleAddComment(ctx, conn, sessionID, msg.Data)
	case realtime.ActionReplyComment:
		h.handleReplyComment(ctx, conn, sessionID, msg.Data)
	case realtime.ActionResolveComment:
		h.handleResolveComment(ctx, conn, sessionID, msg.Data)
	case realtime.ActionCreateSnapshot:
		h.handleSnapshot(ctx, conn, sessionID, msg.Data)
	case realtime.ActionDisconnect:
		conn.Close()
	default:
		h.sendError(conn, "unknown event "+msg.Event)
	}
}

// HandleDisconnect releases the presence slot held by the connection.
func (h *CollabSocketHandler) HandleDisconnect(ctx context.Context, conn *realtime.Conn) {
	sessionID := conn.SessionID()
	if sessionID == "" {
		return
	}
	if err := h.presence.Disconnect(ctx, sessionID, conn.UserID()); err != nil {
		h.log.Warn("presence disconnect failed",
			zap.String("session_id", sessionID),
			zap.String("user_id", conn.UserID()),
			zap.Error(err))
	}
}

// handleAuthenticate binds the connection to a session room. Membership is
// established on the fly: a first-time user joins with the requested role
// (viewer when omitted), a returning user keeps their role unless the
// payload names a new one.
func (h *CollabSocketHandler) handleAuthenticate(ctx context.Context, conn *realtime.Conn, data json.RawMessage) {
	var payload authenticatePayload
	if err := json.Unmarshal(data, &payload); err != nil || strings.TrimSpace(payload.SessionID) == "" {
		h.sendError(conn, "authenticate requires a session_id")
		return
	}
	if conn.SessionID() != "" {
		h.sendError(conn, "connection already bound to a session")
		return
	}

	participant, err := h.sessions.JoinSession(ctx, services.JoinSessionParams{
		SessionID: payload.SessionID,
		UserID:    conn.UserID(),
		Role:      payload.Role,
	})
	if err != nil {
		h.reportError(conn, err)
		return
	}

	conn.JoinSession(payload.SessionID)
	if _, err := h.presence.Connect(ctx, payload.SessionID, conn.UserID()); err != nil {
		h.reportError(conn, err)
		return
	}

	session, err := h.sessions.GetSession(ctx, payload.SessionID)
	if err != nil {
		h.reportError(conn, err)
		return
	}
	conn.Send(realtime.EventAuthenticated, map[string]any{
		"conn_id":     conn.ID(),
		"session":     session,
		"participant": participant,
	})
}

func (h *CollabSocketHandler) handleEdit(ctx context.Context, conn *realtime.Conn, sessionID string, data json.RawMessage) {
	var payload editPayload
	if err := json.Unmarshal(data, &payload); err != nil || len(payload.Operation) == 0 {
		h.sendError(conn, "edit_operation requires an operation payload")
		return
	}

	result, err := h.edits.SubmitEdit(ctx, services.SubmitEditParams{
		SessionID:       sessionID,
		UserID:          conn.UserID(),
		ConnID:          conn.ID(),
		ClientTimestamp: payload.ClientTimestamp,
		Operation:       payload.Operation,
	})
	if err != nil {
		h.reportError(conn, err)
		return
	}
	// The service broadcast skipped the originator; acknowledge with the
	// stamped edit so the sender learns its id and server timestamp.
	conn.Send(realtime.EventEditApplied, result.Edit)
}

func (h *CollabSocketHandler) handleAddComment(ctx context.Context, conn *realtime.Conn, sessionID string, data json.RawMessage) {
	var payload addCommentPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		h.sendError(conn, "malformed add_comment payload")
		return
	}

	_, err := h.comments.AddComment(ctx, services.AddCommentParams{
		SessionID: sessionID,
		UserID:    conn.UserID(),
		Content:   payload.Content,
		Position:  payload.Position,
		Selection: payload.Selection,
	})
	h.reportError(conn, err)
}

func (h *CollabSocketHandler) handleReplyComment(ctx context.Context, conn *realtime.Conn, sessionID string, data json.RawMessage) {
	var payload replyCommentPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		h.sendError(conn, "malformed reply_comment payload")
		return
	}

	_, err := h.comments.ReplyComment(ctx, services.ReplyCommentParams{
		SessionID: sessionID,
		CommentID: payload.CommentID,
		UserID:    conn.UserID(),
		Content:   payload.Content,
	})
	h.reportError(conn, err)
}

func (h *CollabSocketHandler) handleResolveComment(ctx context.Context, conn *realtime.Conn, sessionID string, data json.RawMessage) {
	var payload resolveCommentPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		h.sendError(conn, "malformed resolve_comment payload")
		return
	}

	_, err := h.comments.ResolveComment(ctx, services.ResolveCommentParams{
		SessionID: sessionID,
		CommentID: payload.CommentID,
		UserID:    conn.UserID(),
	})
	h.reportError(conn, err)
}

func (h *CollabSocketHandler) handleSnapshot(ctx context.Context, conn *realtime.Conn, sessionID string, data json.RawMessage) {
	var payload snapshotPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		h.sendError(conn, "malformed create_snapshot payload")
		return
	}

	_, err := h.snapshots.CreateSnapshot(ctx, services.CreateSnapshotParams{
		SessionID:      sessionID,
		UserID:         conn.UserID(),
		Content:        payload.Content,
		Title:          payload.Title,
		Abstract:       payload.Abstract,
		ChangesSummary: payload.ChangesSummary,
	})
	h.reportError(conn, err)
}

// reportError sends a service failure back to the sender, carrying the API
// error code when one applies.
func (h *CollabSocketHandler) reportError(conn *realtime.Conn, err error) {
	if err == nil {
		return
	}
	appErr := apperrors.FromError(mapServiceError(err))
	message := appErr.Message
	if appErr.Code == apperrors.ErrInternalServer.Code {
		// Surface service validation text; internals stay generic.
		if msg := err.Error(); len(msg) < 200 {
			message = msg
		}
	}
	conn.Send(realtime.EventError, map[string]any{
		"code":    appErr.Code,
		"message": message,
	})
}

func (h *CollabSocketHandler) sendError(conn *realtime.Conn, message string) {
	conn.Send(realtime.EventError, map[string]any{
		"code":    apperrors.ErrBadRequest.Code,
		"message": message,
	})
}

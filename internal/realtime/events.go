package realtime

// Outbound event names broadcast to session members.
const (
	EventUserJoined        = "user_joined"
	EventUserLeft          = "user_left"
	EventCursorUpdate      = "cursor_update"
	EventSelectionUpdate   = "selection_update"
	EventEditApplied       = "edit_applied"
	EventEditReverted      = "edit_reverted"
	EventConflictDetected  = "conflict_detected"
	EventCommentAdded      = "comment_added"
	EventCommentReplyAdded = "comment_reply_added"
	EventCommentResolved   = "comment_resolved"
	EventSnapshotCreated   = "snapshot_created"
	EventSessionEnded      = "session_ended"
	EventAuthenticated     = "authenticated"
	EventError             = "error"
)

// Inbound event names accepted from clients.
const (
	ActionAuthenticate   = "authenticate"
	ActionEditOperation  = "edit_operation"
	ActionCursorMove     = "cursor_move"
	ActionTextSelect     = "text_select"
	ActionAddComment     = "add_comment"
	ActionReplyComment   = "reply_comment"
	ActionResolveComment = "resolve_comment"
	ActionCreateSnapshot = "create_snapshot"
	ActionDisconnect     = "disconnect"
)

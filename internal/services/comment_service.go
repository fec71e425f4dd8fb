package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/inkwell-hq/inkwell/internal/models"
	"github.com/inkwell-hq/inkwell/internal/realtime"
)

const defaultMaxCommentLength = 4000

// CommentService manages threaded comments anchored to manuscript positions.
// Comments live outside the edit pipeline: they are never conflict checked
// and resolution is monotonic.
type CommentService struct {
	db          *gorm.DB
	registry    *SessionRegistry
	broadcaster Broadcaster
	maxLength   int
}

// CommentServiceOption customises service construction.
type CommentServiceOption func(*CommentService)

// WithMaxCommentLength caps comment and reply body length in bytes.
func WithMaxCommentLength(n int) CommentServiceOption {
	return func(s *CommentService) {
		if n > 0 {
			s.maxLength = n
		}
	}
}

// NewCommentService constructs a CommentService.
func NewCommentService(db *gorm.DB, registry *SessionRegistry, broadcaster Broadcaster, opts ...CommentServiceOption) (*CommentService, error) {
	if db == nil {
		return nil, fmt.Errorf("comment service: database handle is required")
	}
	if registry == nil {
		return nil, fmt.Errorf("comment service: registry is required")
	}
	if broadcaster == nil {
		broadcaster = NopBroadcaster{}
	}

	svc := &CommentService{
		db:          db,
		registry:    registry,
		broadcaster: broadcaster,
		maxLength:   defaultMaxCommentLength,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// AddCommentParams captures the input for AddComment.
type AddCommentParams struct {
	SessionID string
	UserID    string
	Content   string
	Position  json.RawMessage
	Selection json.RawMessage
}

// AddComment anchors a new comment thread and announces it to the session.
// Any participant may comment, including viewers.
func (s *CommentService) AddComment(ctx context.Context, params AddCommentParams) (*models.Comment, error) {
	ctx = ensureContext(ctx)

	sessionID := strings.TrimSpace(params.SessionID)
	userID := strings.TrimSpace(params.UserID)
	if sessionID == "" || userID == "" {
		return nil, fmt.Errorf("add comment: session id and user id are required")
	}
	content, err := s.commentBody(params.Content)
	if err != nil {
		return nil, fmt.Errorf("add comment: %w", err)
	}
	if len(params.Position) == 0 || !json.Valid(params.Position) {
		return nil, fmt.Errorf("add comment: a valid position is required")
	}
	if len(params.Selection) > 0 && !json.Valid(params.Selection) {
		return nil, fmt.Errorf("add comment: selection is not valid json")
	}

	session, err := requireActiveSession(ctx, s.db, sessionID)
	if err != nil {
		return nil, err
	}
	if _, err := findParticipant(ctx, s.db, sessionID, userID); err != nil {
		return nil, err
	}

	comment := &models.Comment{
		SessionID:    sessionID,
		ManuscriptID: session.ManuscriptID,
		UserID:       userID,
		Content:      content,
		Position:     datatypes.JSON(params.Position),
	}
	if len(params.Selection) > 0 {
		comment.Selection = datatypes.JSON(params.Selection)
	}
	if err := s.db.WithContext(ctx).Create(comment).Error; err != nil {
		return nil, fmt.Errorf("add comment: %w", err)
	}

	s.registry.Touch(sessionID)
	s.broadcaster.Publish(sessionID, realtime.EventCommentAdded, comment)
	return comment, nil
}

// ReplyCommentParams captures the input for ReplyComment.
type ReplyCommentParams struct {
	SessionID string
	CommentID string
	UserID    string
	Content   string
}

// ReplyComment appends a reply to an existing thread. Replying to a resolved
// thread is allowed; it does not reopen the thread.
func (s *CommentService) ReplyComment(ctx context.Context, params ReplyCommentParams) (*models.CommentReply, error) {
	ctx = ensureContext(ctx)

	sessionID := strings.TrimSpace(params.SessionID)
	commentID := strings.TrimSpace(params.CommentID)
	userID := strings.TrimSpace(params.UserID)
	if sessionID == "" || commentID == "" || userID == "" {
		return nil, fmt.Errorf("reply comment: session id, comment id, and user id are required")
	}
	content, err := s.commentBody(params.Content)
	if err != nil {
		return nil, fmt.Errorf("reply comment: %w", err)
	}

	if _, err := requireActiveSession(ctx, s.db, sessionID); err != nil {
		return nil, err
	}
	if _, err := findParticipant(ctx, s.db, sessionID, userID); err != nil {
		return nil, err
	}
	if _, err := s.findComment(ctx, sessionID, commentID); err != nil {
		return nil, err
	}

	reply := &models.CommentReply{
		CommentID: commentID,
		UserID:    userID,
		Content:   content,
	}
	if err := s.db.WithContext(ctx).Create(reply).Error; err != nil {
		return nil, fmt.Errorf("reply comment: %w", err)
	}

	s.registry.Touch(sessionID)
	s.broadcaster.Publish(sessionID, realtime.EventCommentReplyAdded, reply)
	return reply, nil
}

// ResolveCommentParams captures the input for ResolveComment.
type ResolveCommentParams struct {
	SessionID string
	CommentID string
	UserID    string
}

// ResolveComment marks a thread resolved. Resolution is idempotent and
// monotonic: resolving an already resolved thread changes nothing, and the
// first resolver is the one recorded.
func (s *CommentService) ResolveComment(ctx context.Context, params ResolveCommentParams) (*models.Comment, error) {
	ctx = ensureContext(ctx)

	sessionID := strings.TrimSpace(params.SessionID)
	commentID := strings.TrimSpace(params.CommentID)
	userID := strings.TrimSpace(params.UserID)
	if sessionID == "" || commentID == "" || userID == "" {
		return nil, fmt.Errorf("resolve comment: session id, comment id, and user id are required")
	}

	if _, err := requireActiveSession(ctx, s.db, sessionID); err != nil {
		return nil, err
	}
	if _, err := findParticipant(ctx, s.db, sessionID, userID); err != nil {
		return nil, err
	}

	comment, err := s.findComment(ctx, sessionID, commentID)
	if err != nil {
		return nil, err
	}
	if comment.IsResolved {
		return comment, nil
	}

	res := s.db.WithContext(ctx).Model(&models.Comment{}).
		Where("id = ? AND is_resolved = ?", commentID, false).
		Updates(map[string]any{"is_resolved": true, "resolved_by_user_id": &userID})
	if res.Error != nil {
		return nil, fmt.Errorf("resolve comment: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		// Lost the race to another resolver; return their outcome.
		return s.findComment(ctx, sessionID, commentID)
	}
	comment.IsResolved = true
	comment.ResolvedByUserID = &userID

	s.registry.Touch(sessionID)
	s.broadcaster.Publish(sessionID, realtime.EventCommentResolved, map[string]any{
		"session_id":  sessionID,
		"comment_id":  commentID,
		"resolved_by": userID,
	})
	return comment, nil
}

// ListCommentsParams filters the comment listing.
type ListCommentsParams struct {
	SessionID string
	// UnresolvedOnly hides resolved threads. Resolution is a state flag, so
	// the full listing includes resolved threads unless the caller opts out.
	UnresolvedOnly bool
}

// ListComments returns comment threads in creation order with replies nested
// in arrival order.
func (s *CommentService) ListComments(ctx context.Context, params ListCommentsParams) ([]models.Comment, error) {
	ctx = ensureContext(ctx)

	sessionID := strings.TrimSpace(params.SessionID)
	if sessionID == "" {
		return nil, fmt.Errorf("list comments: session id is required")
	}

	query := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Preload("Author").
		Preload("Replies", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC")
		}).
		Preload("Replies.Author").
		Order("created_at ASC")
	if params.UnresolvedOnly {
		query = query.Where("is_resolved = ?", false)
	}

	var comments []models.Comment
	if err := query.Find(&comments).Error; err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	return comments, nil
}

func (s *CommentService) findComment(ctx context.Context, sessionID, commentID string) (*models.Comment, error) {
	var comment models.Comment
	err := s.db.WithContext(ctx).
		First(&comment, "id = ? AND session_id = ?", commentID, sessionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCommentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load comment: %w", err)
	}
	return &comment, nil
}

func (s *CommentService) commentBody(content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", fmt.Errorf("content is required")
	}
	if len(content) > s.maxLength {
		return "", fmt.Errorf("content exceeds %d bytes", s.maxLength)
	}
	return content, nil
}

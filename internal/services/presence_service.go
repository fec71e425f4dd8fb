package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/inkwell-hq/inkwell/internal/cache"
	"github.com/inkwell-hq/inkwell/internal/models"
	"github.com/inkwell-hq/inkwell/internal/realtime"
	"github.com/inkwell-hq/inkwell/pkg/logger"
)

// PresenceService tracks who is online in a session and relays cursor and
// selection movement. Online state is reference counted per (session, user):
// a user with two tabs open goes offline only when the last tab closes.
type PresenceService struct {
	db          *gorm.DB
	registry    *SessionRegistry
	broadcaster Broadcaster
	cursors     cache.PresenceCache
	log         *zap.Logger
	timeNow     func() time.Time
}

// PresenceServiceOption customises service construction.
type PresenceServiceOption func(*PresenceService)

// WithPresenceCache attaches an ephemeral cursor cache. Without one, late
// joiners only see cursors from the next movement onward.
func WithPresenceCache(c cache.PresenceCache) PresenceServiceOption {
	return func(s *PresenceService) { s.cursors = c }
}

// WithPresenceClock overrides the service clock, primarily for tests.
func WithPresenceClock(now func() time.Time) PresenceServiceOption {
	return func(s *PresenceService) {
		if now != nil {
			s.timeNow = now
		}
	}
}

// NewPresenceService constructs a PresenceService.
func NewPresenceService(db *gorm.DB, registry *SessionRegistry, broadcaster Broadcaster, opts ...PresenceServiceOption) (*PresenceService, error) {
	if db == nil {
		return nil, fmt.Errorf("presence service: database handle is required")
	}
	if registry == nil {
		return nil, fmt.Errorf("presence service: registry is required")
	}
	if broadcaster == nil {
		broadcaster = NopBroadcaster{}
	}

	svc := &PresenceService{
		db:          db,
		registry:    registry,
		broadcaster: broadcaster,
		log:         logger.WithModule("presence"),
		timeNow:     time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Connect records a new connection for a participant. The first connection
// flips the participant online and announces the arrival to the session.
func (s *PresenceService) Connect(ctx context.Context, sessionID, userID string) (*models.SessionParticipant, error) {
	ctx = ensureContext(ctx)

	sessionID = strings.TrimSpace(sessionID)
	userID = strings.TrimSpace(userID)
	if sessionID == "" || userID == "" {
		return nil, fmt.Errorf("presence connect: session id and user id are required")
	}

	participant, err := findParticipant(ctx, s.db, sessionID, userID)
	if err != nil {
		return nil, err
	}

	count := s.registry.AddConnection(sessionID, userID)
	s.registry.Touch(sessionID)

	now := s.timeNow()
	if err := s.db.WithContext(ctx).Model(&models.SessionParticipant{}).
		Where("session_id = ? AND user_id = ?", sessionID, userID).
		Updates(map[string]any{"online": true, "last_activity_at": now}).Error; err != nil {
		s.registry.RemoveConnection(sessionID, userID)
		return nil, fmt.Errorf("presence connect: %w", err)
	}
	participant.Online = true
	participant.LastActivityAt = now

	if count == 1 {
		s.broadcaster.Publish(sessionID, realtime.EventUserJoined, map[string]any{
			"session_id":   sessionID,
			"user_id":      userID,
			"role":         participant.Role,
			"online_users": s.registry.OnlineUsers(sessionID),
		})
	}
	return participant, nil
}

// Disconnect records a closed connection. When the last connection for the
// user goes away the participant flips offline and the departure is
// announced.
func (s *PresenceService) Disconnect(ctx context.Context, sessionID, userID string) error {
	ctx = ensureContext(ctx)

	sessionID = strings.TrimSpace(sessionID)
	userID = strings.TrimSpace(userID)
	if sessionID == "" || userID == "" {
		return fmt.Errorf("presence disconnect: session id and user id are required")
	}

	remaining := s.registry.RemoveConnection(sessionID, userID)
	if remaining > 0 {
		return nil
	}

	if err := s.db.WithContext(ctx).Model(&models.SessionParticipant{}).
		Where("session_id = ? AND user_id = ?", sessionID, userID).
		Updates(map[string]any{"online": false, "last_activity_at": s.timeNow()}).Error; err != nil {
		return fmt.Errorf("presence disconnect: %w", err)
	}

	s.broadcaster.Publish(sessionID, realtime.EventUserLeft, map[string]any{
		"session_id":   sessionID,
		"user_id":      userID,
		"online_users": s.registry.OnlineUsers(sessionID),
	})
	return nil
}

// CursorParams captures one cursor or selection movement.
type CursorParams struct {
	SessionID string
	UserID    string
	// ConnID identifies the originating connection; the update is relayed
	// to everyone else in the session.
	ConnID  string
	Payload json.RawMessage
}

// UpdateCursor relays a cursor movement to the rest of the session and
// remembers the latest position for late joiners.
func (s *PresenceService) UpdateCursor(ctx context.Context, params CursorParams) error {
	return s.relayMovement(ctx, params, "cursor", realtime.EventCursorUpdate)
}

// UpdateSelection relays a text selection to the rest of the session.
func (s *PresenceService) UpdateSelection(ctx context.Context, params CursorParams) error {
	return s.relayMovement(ctx, params, "selection", realtime.EventSelectionUpdate)
}

func (s *PresenceService) relayMovement(ctx context.Context, params CursorParams, column, event string) error {
	ctx = ensureContext(ctx)

	sessionID := strings.TrimSpace(params.SessionID)
	userID := strings.TrimSpace(params.UserID)
	if sessionID == "" || userID == "" {
		return fmt.Errorf("presence update: session id and user id are required")
	}
	if len(params.Payload) == 0 {
		return fmt.Errorf("presence update: payload is required")
	}
	if !json.Valid(params.Payload) {
		return fmt.Errorf("presence update: payload is not valid json")
	}

	if _, err := findParticipant(ctx, s.db, sessionID, userID); err != nil {
		return err
	}

	now := s.timeNow()
	if err := s.db.WithContext(ctx).Model(&models.SessionParticipant{}).
		Where("session_id = ? AND user_id = ?", sessionID, userID).
		Updates(map[string]any{column: datatypes.JSON(params.Payload), "last_activity_at": now}).Error; err != nil {
		return fmt.Errorf("presence update: %w", err)
	}
	s.registry.Touch(sessionID)

	if s.cursors != nil && column == "cursor" {
		if err := s.cursors.SetCursor(ctx, sessionID, userID, params.Payload); err != nil {
			// Cache loss only degrades late-joiner catch-up.
			s.log.Warn("cursor cache write failed",
				zap.String("session_id", sessionID),
				zap.String("user_id", userID),
				zap.Error(err))
		}
	}

	s.broadcaster.PublishExcept(sessionID, params.ConnID, event, map[string]any{
		"session_id": sessionID,
		"user_id":    userID,
		column:       json.RawMessage(params.Payload),
		"updated_at": now,
	})
	return nil
}

// LatestCursor returns the cached cursor for a participant, falling back to
// the persisted row when no cache is configured.
func (s *PresenceService) LatestCursor(ctx context.Context, sessionID, userID string) (json.RawMessage, bool, error) {
	ctx = ensureContext(ctx)

	if s.cursors != nil {
		payload, ok, err := s.cursors.GetCursor(ctx, sessionID, userID)
		if err == nil {
			return payload, ok, nil
		}
		s.log.Warn("cursor cache read failed",
			zap.String("session_id", sessionID),
			zap.String("user_id", userID),
			zap.Error(err))
	}

	participant, err := findParticipant(ctx, s.db, sessionID, userID)
	if err != nil {
		return nil, false, err
	}
	if len(participant.Cursor) == 0 {
		return nil, false, nil
	}
	return json.RawMessage(participant.Cursor), true, nil
}

// DropSessionCursors clears cached cursors after a session ends.
func (s *PresenceService) DropSessionCursors(ctx context.Context, sessionID string) {
	if s.cursors == nil {
		return
	}
	if err := s.cursors.DropSession(ensureContext(ctx), sessionID); err != nil {
		s.log.Warn("cursor cache cleanup failed",
			zap.String("session_id", sessionID),
			zap.Error(err))
	}
}

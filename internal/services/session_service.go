package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/inkwell-hq/inkwell/internal/models"
	"github.com/inkwell-hq/inkwell/internal/realtime"
)

// SessionService owns the collaborative session lifecycle: creation, joining,
// ending, and rebuilding the in-memory registry after a restart. The database
// is the durable source of truth; the registry mirrors the active subset.
type SessionService struct {
	db          *gorm.DB
	registry    *SessionRegistry
	broadcaster Broadcaster
	timeNow     func() time.Time
}

// SessionServiceOption customises service construction.
type SessionServiceOption func(*SessionService)

// WithSessionClock overrides the service clock, primarily for tests.
func WithSessionClock(now func() time.Time) SessionServiceOption {
	return func(s *SessionService) {
		if now != nil {
			s.timeNow = now
		}
	}
}

// NewSessionService constructs a SessionService.
func NewSessionService(db *gorm.DB, registry *SessionRegistry, broadcaster Broadcaster, opts ...SessionServiceOption) (*SessionService, error) {
	if db == nil {
		return nil, fmt.Errorf("session service: database handle is required")
	}
	if registry == nil {
		return nil, fmt.Errorf("session service: registry is required")
	}
	if broadcaster == nil {
		broadcaster = NopBroadcaster{}
	}

	svc := &SessionService{
		db:          db,
		registry:    registry,
		broadcaster: broadcaster,
		timeNow:     time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// CreateSessionParams captures the input for CreateSession.
type CreateSessionParams struct {
	ManuscriptID string
	Title        string
	OwnerUserID  string
}

// CreateSession starts a collaborative session for a manuscript and enrols
// the owner as its first participant. At most one active session may exist
// per manuscript; a second attempt fails with ErrManuscriptSessionExists.
func (s *SessionService) CreateSession(ctx context.Context, params CreateSessionParams) (*models.CollabSession, error) {
	ctx = ensureContext(ctx)

	manuscriptID := strings.TrimSpace(params.ManuscriptID)
	title := strings.TrimSpace(params.Title)
	ownerID := strings.TrimSpace(params.OwnerUserID)
	if manuscriptID == "" {
		return nil, fmt.Errorf("create session: manuscript id is required")
	}
	if title == "" {
		return nil, fmt.Errorf("create session: title is required")
	}
	if ownerID == "" {
		return nil, fmt.Errorf("create session: owner user id is required")
	}

	now := s.timeNow()
	session := &models.CollabSession{
		ManuscriptID: manuscriptID,
		Title:        title,
		OwnerUserID:  ownerID,
		Active:       true,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(session).Error; err != nil {
			return fmt.Errorf("create session: %w", err)
		}
		owner := &models.SessionParticipant{
			SessionID:      session.ID,
			UserID:         ownerID,
			Role:           models.RoleOwner,
			JoinedAt:       now,
			LastActivityAt: now,
		}
		if err := tx.Create(owner).Error; err != nil {
			return fmt.Errorf("create session: enrol owner: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// The registry reservation is taken after the row exists so a failed
	// insert never leaves a phantom reservation. A racing creator loses
	// here and its row is retired immediately.
	regErr := s.registry.Register(&ActiveSession{
		ID:           session.ID,
		ManuscriptID: manuscriptID,
		Title:        title,
		OwnerUserID:  ownerID,
		StartedAt:    now,
	})
	if regErr != nil {
		ended := now
		s.db.WithContext(ctx).Model(&models.CollabSession{}).
			Where("id = ?", session.ID).
			Updates(map[string]any{"active": false, "ended_at": &ended, "ended_by_user_id": &ownerID})
		return nil, regErr
	}

	return s.GetSession(ctx, session.ID)
}

// JoinSessionParams captures the input for JoinSession.
type JoinSessionParams struct {
	SessionID string
	UserID    string
	Role      string
}

// JoinSession enrols a user in an active session, or refreshes an existing
// membership. A first join without an explicit role enrols as viewer. On a
// rejoin the activity timestamp is refreshed and the role is updated only
// when the caller named one, so a bare reconnect never demotes a member.
func (s *SessionService) JoinSession(ctx context.Context, params JoinSessionParams) (*models.SessionParticipant, error) {
	ctx = ensureContext(ctx)

	sessionID := strings.TrimSpace(params.SessionID)
	userID := strings.TrimSpace(params.UserID)
	if sessionID == "" || userID == "" {
		return nil, fmt.Errorf("join session: session id and user id are required")
	}

	role := strings.TrimSpace(params.Role)
	if role != "" && !models.ValidRole(role) {
		return nil, fmt.Errorf("join session: unknown role %q", role)
	}

	if _, err := requireActiveSession(ctx, s.db, sessionID); err != nil {
		return nil, err
	}

	now := s.timeNow()
	insertRole := role
	if insertRole == "" {
		insertRole = models.RoleViewer
	}
	participant := &models.SessionParticipant{
		SessionID:      sessionID,
		UserID:         userID,
		Role:           insertRole,
		JoinedAt:       now,
		LastActivityAt: now,
	}
	assignments := map[string]any{"last_activity_at": now}
	if role != "" {
		assignments["role"] = role
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "session_id"}, {Name: "user_id"}},
			DoUpdates: clause.Assignments(assignments),
		}).
		Create(participant).Error
	if err != nil {
		return nil, fmt.Errorf("join session: %w", err)
	}

	return findParticipant(ctx, s.db, sessionID, userID)
}

// GetSession loads a session with its owner and participants.
func (s *SessionService) GetSession(ctx context.Context, sessionID string) (*models.CollabSession, error) {
	ctx = ensureContext(ctx)

	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, fmt.Errorf("get session: session id is required")
	}

	var session models.CollabSession
	err := s.db.WithContext(ctx).
		Preload("Owner").
		Preload("Participants", func(db *gorm.DB) *gorm.DB {
			return db.Order("joined_at ASC")
		}).
		Preload("Participants.User").
		First(&session, "id = ?", sessionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &session, nil
}

// ListActiveSessions returns the registry's view of live sessions.
func (s *SessionService) ListActiveSessions(ctx context.Context) []ActiveSession {
	_ = ensureContext(ctx)
	return s.registry.List()
}

// EndSessionParams captures the input for EndSession.
type EndSessionParams struct {
	SessionID string
	UserID    string
}

// EndSession terminates an active session. Only the session owner may end
// it. Members are notified before the transport room is torn down, so the
// terminal event reaches every open connection.
func (s *SessionService) EndSession(ctx context.Context, params EndSessionParams) error {
	ctx = ensureContext(ctx)

	sessionID := strings.TrimSpace(params.SessionID)
	userID := strings.TrimSpace(params.UserID)
	if sessionID == "" || userID == "" {
		return fmt.Errorf("end session: session id and user id are required")
	}

	session, err := requireActiveSession(ctx, s.db, sessionID)
	if err != nil {
		return err
	}
	if session.OwnerUserID != userID {
		return ErrNotSessionOwner
	}

	now := s.timeNow()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.CollabSession{}).
			Where("id = ? AND active = ?", sessionID, true).
			Updates(map[string]any{"active": false, "ended_at": &now, "ended_by_user_id": &userID})
		if res.Error != nil {
			return fmt.Errorf("end session: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrSessionNotFound
		}
		if err := tx.Model(&models.SessionParticipant{}).
			Where("session_id = ?", sessionID).
			Update("online", false).Error; err != nil {
			return fmt.Errorf("end session: mark participants offline: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.broadcaster.Publish(sessionID, realtime.EventSessionEnded, map[string]any{
		"session_id": sessionID,
		"ended_by":   userID,
		"ended_at":   now,
	})
	s.registry.Unregister(sessionID)
	s.broadcaster.CloseRoom(sessionID)
	return nil
}

// ExpireSession ends a session on the system's behalf, bypassing the owner
// check. Used by the idle sweeper; the terminal broadcast still precedes
// room teardown.
func (s *SessionService) ExpireSession(ctx context.Context, sessionID string) error {
	ctx = ensureContext(ctx)

	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return fmt.Errorf("expire session: session id is required")
	}

	now := s.timeNow()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.CollabSession{}).
			Where("id = ? AND active = ?", sessionID, true).
			Updates(map[string]any{"active": false, "ended_at": &now})
		if res.Error != nil {
			return fmt.Errorf("expire session: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrSessionNotFound
		}
		if err := tx.Model(&models.SessionParticipant{}).
			Where("session_id = ?", sessionID).
			Update("online", false).Error; err != nil {
			return fmt.Errorf("expire session: mark participants offline: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.broadcaster.Publish(sessionID, realtime.EventSessionEnded, map[string]any{
		"session_id": sessionID,
		"ended_at":   now,
		"reason":     "idle_timeout",
	})
	s.registry.Unregister(sessionID)
	s.broadcaster.CloseRoom(sessionID)
	return nil
}

// RestoreRegistry rebuilds the in-memory registry from sessions that were
// active when the process last stopped. Every participant is reset offline
// since no connection survives a restart.
func (s *SessionService) RestoreRegistry(ctx context.Context) error {
	ctx = ensureContext(ctx)

	var sessions []models.CollabSession
	if err := s.db.WithContext(ctx).
		Where("active = ?", true).
		Order("created_at ASC").
		Find(&sessions).Error; err != nil {
		return fmt.Errorf("restore registry: %w", err)
	}

	for i := range sessions {
		session := &sessions[i]
		err := s.registry.Register(&ActiveSession{
			ID:           session.ID,
			ManuscriptID: session.ManuscriptID,
			Title:        session.Title,
			OwnerUserID:  session.OwnerUserID,
			StartedAt:    session.CreatedAt,
		})
		if err != nil {
			return fmt.Errorf("restore registry: session %s: %w", session.ID, err)
		}
	}

	if len(sessions) > 0 {
		ids := make([]string, 0, len(sessions))
		for i := range sessions {
			ids = append(ids, sessions[i].ID)
		}
		if err := s.db.WithContext(ctx).Model(&models.SessionParticipant{}).
			Where("session_id IN ?", ids).
			Update("online", false).Error; err != nil {
			return fmt.Errorf("restore registry: reset presence: %w", err)
		}
	}
	return nil
}

// requireActiveSession loads a session and fails with ErrSessionNotFound
// unless it exists and is still active.
func requireActiveSession(ctx context.Context, db *gorm.DB, sessionID string) (*models.CollabSession, error) {
	var session models.CollabSession
	err := db.WithContext(ctx).First(&session, "id = ?", sessionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if !session.Active {
		return nil, ErrSessionNotFound
	}
	return &session, nil
}

// findParticipant loads a session membership row.
func findParticipant(ctx context.Context, db *gorm.DB, sessionID, userID string) (*models.SessionParticipant, error) {
	var participant models.SessionParticipant
	err := db.WithContext(ctx).
		First(&participant, "session_id = ? AND user_id = ?", sessionID, userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotParticipant
	}
	if err != nil {
		return nil, fmt.Errorf("load participant: %w", err)
	}
	return &participant, nil
}

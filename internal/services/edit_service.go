package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/inkwell-hq/inkwell/internal/collab"
	"github.com/inkwell-hq/inkwell/internal/models"
	"github.com/inkwell-hq/inkwell/internal/realtime"
	"github.com/inkwell-hq/inkwell/pkg/metrics"
)

// EditService ingests document edits. Ingest is serialised per session so
// that server timestamps form a total order and broadcast order matches
// timestamp order. Conflicting edits are still applied; detection records a
// last-writer-wins resolution and notifies the originator.
type EditService struct {
	db          *gorm.DB
	registry    *SessionRegistry
	broadcaster Broadcaster
	ingest      *keyedMutex
	timeNow     func() time.Time
}

// EditServiceOption customises service construction.
type EditServiceOption func(*EditService)

// WithEditClock overrides the service clock, primarily for tests.
func WithEditClock(now func() time.Time) EditServiceOption {
	return func(s *EditService) {
		if now != nil {
			s.timeNow = now
		}
	}
}

// NewEditService constructs an EditService.
func NewEditService(db *gorm.DB, registry *SessionRegistry, broadcaster Broadcaster, opts ...EditServiceOption) (*EditService, error) {
	if db == nil {
		return nil, fmt.Errorf("edit service: database handle is required")
	}
	if registry == nil {
		return nil, fmt.Errorf("edit service: registry is required")
	}
	if broadcaster == nil {
		broadcaster = NopBroadcaster{}
	}

	svc := &EditService{
		db:          db,
		registry:    registry,
		broadcaster: broadcaster,
		ingest:      newKeyedMutex(),
		timeNow:     time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// SubmitEditParams captures one inbound edit operation.
type SubmitEditParams struct {
	SessionID string
	UserID    string
	// ConnID identifies the originating connection; the applied edit is
	// relayed to everyone else and conflict notices go back to it.
	ConnID string
	// ClientTimestamp is the sender's local clock when the edit was made.
	// It bounds the concurrency window for conflict detection and is never
	// used for ordering.
	ClientTimestamp time.Time
	Operation       json.RawMessage
}

// EditResult reports the outcome of a submitted edit.
type EditResult struct {
	Edit       *models.CollaborativeEdit  `json:"edit"`
	Conflicts  []models.CollaborativeEdit `json:"conflicts,omitempty"`
	Resolution *models.ConflictResolution `json:"resolution,omitempty"`
}

// SubmitEdit validates, timestamps, persists, and broadcasts an edit. When
// the edit overlaps concurrent edits from other users it additionally
// records an accept_all resolution and sends a conflict notice to the
// originating connection.
func (s *EditService) SubmitEdit(ctx context.Context, params SubmitEditParams) (*EditResult, error) {
	ctx = ensureContext(ctx)

	sessionID := strings.TrimSpace(params.SessionID)
	userID := strings.TrimSpace(params.UserID)
	if sessionID == "" || userID == "" {
		return nil, fmt.Errorf("submit edit: session id and user id are required")
	}

	op, err := collab.Decode(params.Operation)
	if err != nil {
		return nil, fmt.Errorf("submit edit: %w", err)
	}

	if _, err := requireActiveSession(ctx, s.db, sessionID); err != nil {
		return nil, err
	}
	participant, err := findParticipant(ctx, s.db, sessionID, userID)
	if err != nil {
		return nil, err
	}
	if !canEdit(participant.Role) {
		return nil, ErrRoleForbidden
	}

	// Per-session serialisation: the server timestamp is taken inside the
	// critical section, so timestamp order and broadcast order agree.
	unlock := s.ingest.Lock(sessionID)
	defer unlock()

	now := s.timeNow()
	edit := editFromOperation(op, sessionID, userID, now)

	// A zero client clock means the sender claims no knowledge of prior
	// edits, so the whole history is eligible for conflict checks. Only a
	// clock ahead of the server is clamped.
	clientTS := params.ClientTimestamp
	if clientTS.After(now) {
		clientTS = now
	}

	conflicts, err := s.findConflicts(ctx, op, sessionID, userID, clientTS)
	if err != nil {
		return nil, err
	}

	result := &EditResult{Edit: edit, Conflicts: conflicts}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(edit).Error; err != nil {
			return fmt.Errorf("submit edit: %w", err)
		}
		if len(conflicts) == 0 {
			return nil
		}

		ids := make([]string, 0, len(conflicts)+1)
		ids = append(ids, edit.ID)
		for i := range conflicts {
			ids = append(ids, conflicts[i].ID)
		}
		encoded, err := json.Marshal(ids)
		if err != nil {
			return fmt.Errorf("submit edit: encode conflict set: %w", err)
		}

		resolution := &models.ConflictResolution{
			SessionID:        sessionID,
			EditIDs:          datatypes.JSON(encoded),
			ResolvedByUserID: userID,
			Strategy:         models.StrategyAcceptAll,
			ResolvedContent:  edit.Content,
		}
		if err := tx.Create(resolution).Error; err != nil {
			return fmt.Errorf("submit edit: record resolution: %w", err)
		}
		result.Resolution = resolution
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.registry.Touch(sessionID)
	s.db.WithContext(ctx).Model(&models.SessionParticipant{}).
		Where("session_id = ? AND user_id = ?", sessionID, userID).
		Update("last_activity_at", now)

	metrics.EditsApplied.WithLabelValues(edit.Type).Inc()

	s.broadcaster.PublishExcept(sessionID, params.ConnID, realtime.EventEditApplied, edit)
	if len(conflicts) > 0 {
		metrics.ConflictsDetected.WithLabelValues(models.StrategyAcceptAll).Inc()
		s.broadcaster.SendTo(sessionID, params.ConnID, realtime.EventConflictDetected, result)
	}
	return result, nil
}

// findConflicts loads non-reverted edits by other users stamped after the
// sender's clock on the same section and line, then keeps those whose column
// ranges overlap the new operation.
func (s *EditService) findConflicts(ctx context.Context, op collab.Operation, sessionID, userID string, clientTS time.Time) ([]models.CollaborativeEdit, error) {
	pos := op.Pos()

	var candidates []models.CollaborativeEdit
	err := s.db.WithContext(ctx).
		Where("session_id = ? AND user_id <> ? AND reverted = ?", sessionID, userID, false).
		Where("section_id = ? AND line = ?", pos.SectionID, pos.Line).
		Where("server_timestamp > ?", clientTS).
		Order("server_timestamp ASC").
		Find(&candidates).Error
	if err != nil {
		return nil, fmt.Errorf("submit edit: conflict scan: %w", err)
	}

	var conflicts []models.CollaborativeEdit
	for i := range candidates {
		other, err := collab.FromEdit(&candidates[i])
		if err != nil {
			return nil, fmt.Errorf("submit edit: conflict scan: %w", err)
		}
		if collab.Overlaps(op, other) {
			conflicts = append(conflicts, candidates[i])
		}
	}
	return conflicts, nil
}

// RevertEditParams captures the input for RevertEdit.
type RevertEditParams struct {
	SessionID string
	EditID    string
	UserID    string
}

// RevertEdit marks an edit reverted. Only the edit's author or the session
// owner may revert; reverted edits no longer participate in conflict
// detection.
func (s *EditService) RevertEdit(ctx context.Context, params RevertEditParams) (*models.CollaborativeEdit, error) {
	ctx = ensureContext(ctx)

	sessionID := strings.TrimSpace(params.SessionID)
	editID := strings.TrimSpace(params.EditID)
	userID := strings.TrimSpace(params.UserID)
	if sessionID == "" || editID == "" || userID == "" {
		return nil, fmt.Errorf("revert edit: session id, edit id, and user id are required")
	}

	session, err := requireActiveSession(ctx, s.db, sessionID)
	if err != nil {
		return nil, err
	}

	var edit models.CollaborativeEdit
	err = s.db.WithContext(ctx).
		First(&edit, "id = ? AND session_id = ?", editID, sessionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrEditNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("revert edit: %w", err)
	}

	if edit.UserID != userID && session.OwnerUserID != userID {
		return nil, ErrRevertForbidden
	}
	if edit.Reverted {
		return &edit, nil
	}

	if err := s.db.WithContext(ctx).Model(&edit).Update("reverted", true).Error; err != nil {
		return nil, fmt.Errorf("revert edit: %w", err)
	}
	edit.Reverted = true

	s.registry.Touch(sessionID)
	s.broadcaster.Publish(sessionID, realtime.EventEditReverted, map[string]any{
		"session_id":  sessionID,
		"edit_id":     edit.ID,
		"reverted_by": userID,
	})
	return &edit, nil
}

// ListEditsParams filters the edit log.
type ListEditsParams struct {
	SessionID string
	// Since restricts results to edits stamped strictly after this instant.
	Since *time.Time
	// Limit caps the number of rows; zero means no cap.
	Limit int
}

// ListEdits returns a session's edit log in server-timestamp order, the same
// order members saw the edits broadcast.
func (s *EditService) ListEdits(ctx context.Context, params ListEditsParams) ([]models.CollaborativeEdit, error) {
	ctx = ensureContext(ctx)

	sessionID := strings.TrimSpace(params.SessionID)
	if sessionID == "" {
		return nil, fmt.Errorf("list edits: session id is required")
	}

	query := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("server_timestamp ASC")
	if params.Since != nil {
		query = query.Where("server_timestamp > ?", *params.Since)
	}
	if params.Limit > 0 {
		query = query.Limit(params.Limit)
	}

	var edits []models.CollaborativeEdit
	if err := query.Find(&edits).Error; err != nil {
		return nil, fmt.Errorf("list edits: %w", err)
	}
	return edits, nil
}

func editFromOperation(op collab.Operation, sessionID, userID string, now time.Time) *models.CollaborativeEdit {
	pos := op.Pos()
	applied := now
	edit := &models.CollaborativeEdit{
		SessionID:        sessionID,
		UserID:           userID,
		Type:             op.Kind(),
		SectionID:        pos.SectionID,
		Line:             pos.Line,
		Column:           pos.Column,
		ServerTimestamp:  now,
		AppliedTimestamp: &applied,
	}

	switch v := op.(type) {
	case collab.Insert:
		edit.Content = v.Content
		edit.Length = len(v.Content)
	case collab.Delete:
		edit.Length = v.Length
	case collab.Replace:
		edit.Content = v.Content
		_, end := v.Span()
		edit.Length = end - pos.Column
	case collab.Format:
		edit.Length = v.Length
		if len(v.Attributes) > 0 {
			if encoded, err := json.Marshal(v.Attributes); err == nil {
				edit.Attributes = datatypes.JSON(encoded)
			}
		}
	}
	return edit
}

// canEdit reports whether the role may mutate the document. Reviewers and
// viewers are read-only with respect to content.
func canEdit(role string) bool {
	return role == models.RoleOwner || role == models.RoleEditor
}

package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/inkwell-hq/inkwell/internal/models"
	"github.com/inkwell-hq/inkwell/internal/realtime"
)

// snapshotRetries bounds the version race retry loop. Two creators can pick
// the same next version; the unique index rejects the loser, who re-reads
// and tries again.
const snapshotRetries = 3

// SnapshotService creates immutable full-document checkpoints with strictly
// increasing per-session version numbers.
type SnapshotService struct {
	db          *gorm.DB
	registry    *SessionRegistry
	broadcaster Broadcaster
}

// NewSnapshotService constructs a SnapshotService.
func NewSnapshotService(db *gorm.DB, registry *SessionRegistry, broadcaster Broadcaster) (*SnapshotService, error) {
	if db == nil {
		return nil, fmt.Errorf("snapshot service: database handle is required")
	}
	if registry == nil {
		return nil, fmt.Errorf("snapshot service: registry is required")
	}
	if broadcaster == nil {
		broadcaster = NopBroadcaster{}
	}
	return &SnapshotService{db: db, registry: registry, broadcaster: broadcaster}, nil
}

// CreateSnapshotParams captures the input for CreateSnapshot.
type CreateSnapshotParams struct {
	SessionID      string
	UserID         string
	Content        string
	Title          string
	Abstract       string
	ChangesSummary string
}

// CreateSnapshot checkpoints the document under the next version number.
// Versions start at 1 and never repeat within a session.
func (s *SnapshotService) CreateSnapshot(ctx context.Context, params CreateSnapshotParams) (*models.VersionSnapshot, error) {
	ctx = ensureContext(ctx)

	sessionID := strings.TrimSpace(params.SessionID)
	userID := strings.TrimSpace(params.UserID)
	if sessionID == "" || userID == "" {
		return nil, fmt.Errorf("create snapshot: session id and user id are required")
	}
	title := strings.TrimSpace(params.Title)
	if title == "" {
		return nil, fmt.Errorf("create snapshot: title is required")
	}
	if params.Content == "" {
		return nil, fmt.Errorf("create snapshot: content is required")
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

	var snapshot *models.VersionSnapshot
	for attempt := 0; attempt < snapshotRetries; attempt++ {
		snapshot = &models.VersionSnapshot{
			SessionID:       sessionID,
			Content:         params.Content,
			Title:           title,
			Abstract:        strings.TrimSpace(params.Abstract),
			ChangesSummary:  strings.TrimSpace(params.ChangesSummary),
			CreatedByUserID: userID,
		}

		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var maxVersion int
			if err := tx.Model(&models.VersionSnapshot{}).
				Where("session_id = ?", sessionID).
				Select("COALESCE(MAX(version), 0)").
				Scan(&maxVersion).Error; err != nil {
				return fmt.Errorf("create snapshot: read versions: %w", err)
			}
			snapshot.Version = maxVersion + 1
			if err := tx.Create(snapshot).Error; err != nil {
				return fmt.Errorf("create snapshot: %w", err)
			}
			return nil
		})
		if err == nil {
			break
		}
		if !isUniqueConstraintError(err) {
			return nil, err
		}
	}
	if err != nil {
		return nil, err
	}

	s.registry.Touch(sessionID)
	s.broadcaster.Publish(sessionID, realtime.EventSnapshotCreated, map[string]any{
		"session_id": sessionID,
		"version":    snapshot.Version,
		"title":      snapshot.Title,
		"created_by": userID,
	})
	return snapshot, nil
}

// GetVersionHistory returns a session's snapshots newest first. Contents are
// omitted; fetch a single version for the full document.
func (s *SnapshotService) GetVersionHistory(ctx context.Context, sessionID string) ([]models.VersionSnapshot, error) {
	ctx = ensureContext(ctx)

	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, fmt.Errorf("version history: session id is required")
	}

	var snapshots []models.VersionSnapshot
	err := s.db.WithContext(ctx).
		Select("id", "created_at", "updated_at", "session_id", "version",
			"title", "abstract", "changes_summary", "created_by_user_id").
		Where("session_id = ?", sessionID).
		Order("version DESC").
		Find(&snapshots).Error
	if err != nil {
		return nil, fmt.Errorf("version history: %w", err)
	}
	return snapshots, nil
}

// GetSnapshot loads one full snapshot by version.
func (s *SnapshotService) GetSnapshot(ctx context.Context, sessionID string, version int) (*models.VersionSnapshot, error) {
	ctx = ensureContext(ctx)

	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, fmt.Errorf("get snapshot: session id is required")
	}
	if version < 1 {
		return nil, fmt.Errorf("get snapshot: version must be at least 1")
	}

	var snapshot models.VersionSnapshot
	err := s.db.WithContext(ctx).
		First(&snapshot, "session_id = ? AND version = ?", sessionID, version).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get snapshot: %w", err)
	}
	return &snapshot, nil
}

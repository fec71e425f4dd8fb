package models

import (
	"time"

	"gorm.io/datatypes"
)

// Edit operation types. Each type carries a different payload shape; see
// collab.Operation for the tagged-union view used by the pipeline.
const (
	EditTypeInsert  = "insert"
	EditTypeDelete  = "delete"
	EditTypeReplace = "replace"
	EditTypeFormat  = "format"
)

// Conflict resolution strategies. The baseline pipeline only ever applies
// accept_all; merge and manual exist in the data model for richer policies.
const (
	StrategyAcceptAll = "accept_all"
	StrategyRejectAll = "reject_all"
	StrategyMerge     = "merge"
	StrategyManual    = "manual"
)

// CollaborativeEdit is the persisted, server-timestamped envelope around a
// single document mutation. Edits within a session are totally ordered by
// ServerTimestamp; that order is also the broadcast order.
type CollaborativeEdit struct {
	BaseModel

	SessionID string `gorm:"type:uuid;not null;index:idx_edits_session_ts,priority:1" json:"session_id"`
	UserID    string `gorm:"type:uuid;not null;index" json:"user_id"`

	Type       string         `gorm:"type:varchar(16);not null" json:"type"`
	SectionID  string         `gorm:"type:varchar(128);not null;index" json:"section_id"`
	Line       int            `gorm:"not null" json:"line"`
	Column     int            `gorm:"not null" json:"column"`
	Length     int            `gorm:"not null;default:0" json:"length"`
	Content    string         `gorm:"type:text" json:"content,omitempty"`
	Attributes datatypes.JSON `gorm:"type:json" json:"attributes,omitempty"`

	ServerTimestamp  time.Time  `gorm:"not null;index:idx_edits_session_ts,priority:2" json:"server_timestamp"`
	AppliedTimestamp *time.Time `json:"applied_timestamp,omitempty"`
	Reverted         bool       `gorm:"not null;default:false;index" json:"reverted"`

	Session *CollabSession `gorm:"foreignKey:SessionID" json:"session,omitempty"`
	User    *User          `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

// ConflictResolution records one resolution decision over a set of
// conflicting edits. EditIDs holds the full conflicting set including the
// edit that triggered detection.
type ConflictResolution struct {
	BaseModel

	SessionID        string         `gorm:"type:uuid;not null;index" json:"session_id"`
	EditIDs          datatypes.JSON `gorm:"type:json;not null" json:"edit_ids"`
	ResolvedByUserID string         `gorm:"type:uuid;not null" json:"resolved_by_user_id"`
	Strategy         string         `gorm:"type:varchar(20);not null" json:"strategy"`
	ResolvedContent  string         `gorm:"type:text" json:"resolved_content,omitempty"`

	Session *CollabSession `gorm:"foreignKey:SessionID" json:"session,omitempty"`
}

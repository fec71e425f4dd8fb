package models

// VersionSnapshot is an immutable full-document checkpoint. Versions are
// strictly increasing per session starting at 1. Snapshots are never mutated
// or deleted through this subsystem.
type VersionSnapshot struct {
	BaseModel

	SessionID       string `gorm:"type:uuid;not null;uniqueIndex:idx_snapshots_session_version,priority:1" json:"session_id"`
	Version         int    `gorm:"not null;uniqueIndex:idx_snapshots_session_version,priority:2" json:"version"`
	Content         string `gorm:"type:text;not null" json:"content"`
	Title           string `gorm:"not null" json:"title"`
	Abstract        string `gorm:"type:text" json:"abstract,omitempty"`
	ChangesSummary  string `gorm:"type:text" json:"changes_summary,omitempty"`
	CreatedByUserID string `gorm:"type:uuid;not null;index" json:"created_by_user_id"`

	Creator *User `gorm:"foreignKey:CreatedByUserID" json:"creator,omitempty"`
}

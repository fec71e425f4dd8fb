package models

import (
	"gorm.io/datatypes"
)

// Comment anchors threaded discussion to a manuscript position. Comments are
// independent of the edit stream: they never participate in conflict
// detection and cannot be reverted.
type Comment struct {
	BaseModel

	SessionID    string         `gorm:"type:uuid;not null;index" json:"session_id"`
	ManuscriptID string         `gorm:"type:uuid;not null;index" json:"manuscript_id"`
	UserID       string         `gorm:"type:uuid;not null;index" json:"user_id"`
	Content      string         `gorm:"type:text;not null" json:"content"`
	Position     datatypes.JSON `gorm:"type:json;not null" json:"position"`
	Selection    datatypes.JSON `gorm:"type:json" json:"selection,omitempty"`

	// Resolution is monotonic: any participant may resolve, nothing
	// un-resolves.
	IsResolved       bool    `gorm:"not null;default:false;index" json:"is_resolved"`
	ResolvedByUserID *string `gorm:"type:uuid" json:"resolved_by_user_id,omitempty"`

	Author  *User          `gorm:"foreignKey:UserID" json:"author,omitempty"`
	Replies []CommentReply `gorm:"foreignKey:CommentID" json:"replies,omitempty"`
}

// CommentReply is an append-only reply within a comment thread, kept in
// arrival order.
type CommentReply struct {
	BaseModel

	CommentID string `gorm:"type:uuid;not null;index" json:"comment_id"`
	UserID    string `gorm:"type:uuid;not null;index" json:"user_id"`
	Content   string `gorm:"type:text;not null" json:"content"`

	Author *User `gorm:"foreignKey:UserID" json:"author,omitempty"`
}

package models

import (
	"time"

	"gorm.io/datatypes"
)

// Participant roles within a collaborative session.
const (
	RoleOwner    = "owner"
	RoleEditor   = "editor"
	RoleReviewer = "reviewer"
	RoleViewer   = "viewer"
)

// CollabSession represents one collaborative editing context bound to a
// single manuscript. While active it is mirrored by the in-memory registry;
// the database row is the durable source of truth.
type CollabSession struct {
	BaseModel

	ManuscriptID  string     `gorm:"type:uuid;not null;index" json:"manuscript_id"`
	Title         string     `gorm:"not null" json:"title"`
	OwnerUserID   string     `gorm:"type:uuid;not null;index" json:"owner_user_id"`
	Active        bool       `gorm:"not null;default:true;index" json:"active"`
	EndedAt       *time.Time `gorm:"index" json:"ended_at,omitempty"`
	EndedByUserID *string    `gorm:"type:uuid" json:"ended_by_user_id,omitempty"`

	Owner        *User                `gorm:"foreignKey:OwnerUserID" json:"owner,omitempty"`
	Participants []SessionParticipant `gorm:"foreignKey:SessionID" json:"participants,omitempty"`
}

// SessionParticipant stores a (session, user) membership. The row is
// upserted on join, so repeated joins never duplicate it. Cursor and
// Selection hold only the latest ephemeral value for late joiners; the
// history of presence updates is never persisted.
type SessionParticipant struct {
	SessionID      string         `gorm:"type:uuid;primaryKey" json:"session_id"`
	UserID         string         `gorm:"type:uuid;primaryKey" json:"user_id"`
	Role           string         `gorm:"type:varchar(20);not null;index" json:"role"`
	Online         bool           `gorm:"not null;default:false;index" json:"online"`
	JoinedAt       time.Time      `gorm:"not null" json:"joined_at"`
	LastActivityAt time.Time      `gorm:"index" json:"last_activity_at"`
	Cursor         datatypes.JSON `gorm:"type:json" json:"cursor,omitempty"`
	Selection      datatypes.JSON `gorm:"type:json" json:"selection,omitempty"`
	CreatedAt      time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"autoUpdateTime" json:"updated_at"`

	User *User `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

// ValidRole reports whether the supplied role is one of the defined
// participant roles.
func ValidRole(role string) bool {
	switch role {
	case RoleOwner, RoleEditor, RoleReviewer, RoleViewer:
		return true
	}
	return false
}

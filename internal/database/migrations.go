package database

import (
	"gorm.io/gorm"

	"github.com/inkwell-hq/inkwell/internal/models"
)

// AutoMigrate creates or updates the database schema for all models owned by
// the collaboration subsystem.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.CollabSession{},
		&models.SessionParticipant{},
		&models.CollaborativeEdit{},
		&models.ConflictResolution{},
		&models.Comment{},
		&models.CommentReply{},
		&models.VersionSnapshot{},
	)
}

package models

// User mirrors the identity record owned by the external user directory.
// Only the fields needed for participant display joins are kept here; the
// directory service remains the system of record.
type User struct {
	BaseModel

	Username    string `gorm:"uniqueIndex;not null" json:"username"`
	Email       string `gorm:"uniqueIndex;not null" json:"email"`
	DisplayName string `json:"display_name,omitempty"`
}

package models

import "time"

// APIKey authenticates relay calls on behalf of a user.
type APIKey struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	UserID uint64 `gorm:"not null;index"`    // Owning user ID.
	User   *User  `gorm:"foreignKey:UserID"` // Owning user record.

	Key  string `gorm:"type:varchar(255);not null;uniqueIndex"` // Bearer key value.
	Name string `gorm:"type:text"`                              // Display name.

	Enabled bool `gorm:"not null;default:true"` // Whether the key is active.

	LastUsedAt *time.Time // Last successful use.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

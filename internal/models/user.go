package models

import "time"

// User represents an end-user account stored in the database. Session and
// subscription management live outside the gateway; only the fields the
// relay needs are modeled here.
type User struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Username string `gorm:"type:text;not null;uniqueIndex"` // Unique login name.
	Email    string `gorm:"type:text;uniqueIndex"`          // Email address.

	Tier Tier `gorm:"type:varchar(32);not null;default:'free'"` // Subscription tier.

	MaxCompletions int `gorm:"not null;default:1"` // Allowed `n` per chat request.

	Active   bool `gorm:"not null;default:true"`  // Whether the user can call the relay.
	Disabled bool `gorm:"not null;default:false"` // Explicit disable flag.

	APIKeys []APIKey `gorm:"foreignKey:UserID"` // Related API keys.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

package models

import (
	"time"

	"gorm.io/datatypes"
)

// Model is a catalog entry exposing one upstream model to callers.
type Model struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	ModelID    string `gorm:"type:varchar(255);not null;index;uniqueIndex:idx_models_provider_model,priority:2"` // Caller-facing model identifier.
	UpstreamID string `gorm:"type:varchar(255);not null"`                                                        // Provider-native model identifier.

	ProviderID uint64    `gorm:"not null;index;uniqueIndex:idx_models_provider_model,priority:1"` // Owning provider ID.
	Provider   *Provider `gorm:"foreignKey:ProviderID"`                                           // Owning provider record.

	DisplayName string `gorm:"type:varchar(255)"`                    // Human-readable name.
	Enabled     bool   `gorm:"not null;default:true"`                // Whether the model is exposed.
	MinTier     Tier   `gorm:"type:varchar(32);not null;default:''"` // Minimum tier required to call.

	InputPricePerMTok  float64  `gorm:"type:decimal(20,10);not null;default:0"` // Dollar price per million input tokens.
	OutputPricePerMTok float64  `gorm:"type:decimal(20,10);not null;default:0"` // Dollar price per million output tokens.
	ImagePrice         *float64 `gorm:"type:decimal(20,10)"`                    // Dollar price per generated image.

	MaxContextTokens int `gorm:"not null;default:0"` // Max context length.
	MaxOutputTokens  int `gorm:"not null;default:0"` // Max output tokens.

	Capabilities datatypes.JSON `gorm:"type:jsonb;not null;default:'{}'"` // Serialized reasoning profile.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

package models

import "time"

// ProviderType identifies the upstream API family a provider speaks.
type ProviderType string

// ProviderType constants define the supported upstream families.
const (
	// ProviderTypeOpenAI is any OpenAI-compatible chat-completions API.
	ProviderTypeOpenAI ProviderType = "openai"
	// ProviderTypeAnthropic is the Anthropic Messages API.
	ProviderTypeAnthropic ProviderType = "anthropic"
	// ProviderTypeGemini is the Google Gemini API.
	ProviderTypeGemini ProviderType = "gemini"
	// ProviderTypeOpenRouter is the OpenRouter aggregator API.
	ProviderTypeOpenRouter ProviderType = "openrouter"
)

// Provider stores upstream provider credentials and routing options.
type Provider struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Name string       `gorm:"type:varchar(255);not null"`      // Display name.
	Type ProviderType `gorm:"type:varchar(64);not null;index"` // Upstream API family.

	APIKey  string `gorm:"type:text;not null"` // Provider API key.
	BaseURL string `gorm:"type:text"`          // Base URL override.

	Enabled   bool `gorm:"not null;default:true"` // Whether the provider is active.
	SortOrder int  `gorm:"not null;default:0"`    // Display ordering weight.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

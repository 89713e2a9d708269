package models

import "time"

// Usage records one completed relay call for auditing and reconciliation.
type Usage struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	UserID   *uint64 `gorm:"index"` // Calling user ID, if resolved.
	APIKeyID *uint64 `gorm:"index"` // Calling API key ID, if resolved.

	Provider string `gorm:"type:varchar(64);not null;index"`  // Upstream provider family.
	Model    string `gorm:"type:varchar(255);not null;index"` // Caller-facing model identifier.

	RequestedAt time.Time `gorm:"not null;index"`         // Request start time.
	Streamed    bool      `gorm:"not null;default:false"` // Whether the response streamed.
	Failed      bool      `gorm:"not null;default:false"` // Whether the call failed upstream.

	InputTokens     int `gorm:"not null;default:0"` // Prompt tokens billed.
	OutputTokens    int `gorm:"not null;default:0"` // Completion tokens billed.
	ReasoningTokens int `gorm:"not null;default:0"` // Reasoning tokens billed.
	TotalTokens     int `gorm:"not null;default:0"` // Total tokens billed.

	Credits      int64 `gorm:"not null;default:0"` // Credits charged.
	DebtIncurred int64 `gorm:"not null;default:0"` // Credits booked as new debt.
	CostMicros   int64 `gorm:"not null;default:0"` // Upstream dollar cost in micros.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
}

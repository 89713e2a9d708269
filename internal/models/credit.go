package models

import "time"

// SubscriptionCredit holds one user's credits for the current plan period.
// Granting a new period replaces the row rather than stacking credits.
type SubscriptionCredit struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	UserID uint64 `gorm:"not null;uniqueIndex"` // Owning user ID.

	CreditsTotal     int64 `gorm:"not null;default:0"` // Credits granted for the period.
	CreditsRemaining int64 `gorm:"not null;default:0"` // Credits left in the period.

	PeriodStart time.Time `gorm:"not null"` // Period start time.
	PeriodEnd   time.Time `gorm:"not null"` // Period end time.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// CreditLot is one discrete purchased-credit grant consumed oldest-expiring
// first. Lots are immutable except for the remaining balance.
type CreditLot struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	UserID uint64 `gorm:"not null;index"` // Owning user ID.

	Amount    int64 `gorm:"not null;default:0"` // Credits originally granted.
	Remaining int64 `gorm:"not null;default:0"` // Credits left in the lot.

	OrderID *string `gorm:"type:varchar(255);index"` // Originating purchase order, if any.

	PurchasedAt time.Time  `gorm:"not null"` // Purchase timestamp.
	ExpiresAt   *time.Time `gorm:"index"`    // Optional expiry timestamp.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// CreditDebt carries a user's negative balance forward. At most one row per
// user; the amount never goes below zero.
type CreditDebt struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	UserID uint64 `gorm:"not null;uniqueIndex"` // Owning user ID.

	Amount int64 `gorm:"not null;default:0"` // Outstanding debt in credits.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// DailyCredit tracks free-tier consumption per user per calendar day. The
// day key rolling over is the implicit reset; no cleanup job is required.
type DailyCredit struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	UserID uint64 `gorm:"not null;uniqueIndex:idx_daily_credits_user_day,priority:1"`           // Owning user ID.
	Day    string `gorm:"type:varchar(10);not null;uniqueIndex:idx_daily_credits_user_day,priority:2"` // Calendar day key (YYYY-MM-DD).

	Used int64 `gorm:"not null;default:0"` // Credits consumed today.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// CreditGrant records a fulfilled purchase order so webhook retries do not
// grant the same credits twice.
type CreditGrant struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	OrderID string `gorm:"type:varchar(255);not null;uniqueIndex"` // Purchase order identifier.
	UserID  uint64 `gorm:"not null;index"`                         // Granted user ID.
	Amount  int64  `gorm:"not null;default:0"`                     // Credits granted.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
}

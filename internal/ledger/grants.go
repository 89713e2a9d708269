package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/modelrelay/modelrelay/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNonPositiveGrant rejects grants with a non-positive amount.
var ErrNonPositiveGrant = errors.New("ledger: grant amount must be positive")

// GrantSubscriptionCredits offsets any outstanding debt first, then replaces
// the user's period row with the remainder. Prior periods never stack.
func (l *Ledger) GrantSubscriptionCredits(ctx context.Context, userID uint64, amount int64, periodStart, periodEnd time.Time) error {
	if l == nil || l.db == nil {
		return errors.New("ledger: not initialized")
	}
	if amount <= 0 {
		return ErrNonPositiveGrant
	}
	if !periodEnd.After(periodStart) {
		return fmt.Errorf("ledger: period end %s not after start %s", periodEnd, periodStart)
	}

	errTx := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		remainder, errOffset := offsetDebt(tx, userID, amount)
		if errOffset != nil {
			return errOffset
		}

		row := models.SubscriptionCredit{
			UserID:           userID,
			CreditsTotal:     amount,
			CreditsRemaining: remainder,
			PeriodStart:      periodStart.UTC(),
			PeriodEnd:        periodEnd.UTC(),
		}
		return tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"credits_total",
				"credits_remaining",
				"period_start",
				"period_end",
				"updated_at",
			}),
		}).Create(&row).Error
	})
	if errTx != nil {
		return fmt.Errorf("ledger: grant subscription credits: %w", errTx)
	}
	return nil
}

// GrantPurchasedCredits offsets any outstanding debt first, then creates a
// new immutable lot with the remainder. Idempotency is the caller's duty
// via HasCreditsBeenGranted before calling.
func (l *Ledger) GrantPurchasedCredits(ctx context.Context, userID uint64, amount int64, orderID string, expiresAt *time.Time) error {
	if l == nil || l.db == nil {
		return errors.New("ledger: not initialized")
	}
	if amount <= 0 {
		return ErrNonPositiveGrant
	}

	now := l.now()
	errTx := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		remainder, errOffset := offsetDebt(tx, userID, amount)
		if errOffset != nil {
			return errOffset
		}

		lot := models.CreditLot{
			UserID:      userID,
			Amount:      amount,
			Remaining:   remainder,
			PurchasedAt: now,
			ExpiresAt:   expiresAt,
		}
		if trimmed := strings.TrimSpace(orderID); trimmed != "" {
			lot.OrderID = &trimmed
			grant := models.CreditGrant{OrderID: trimmed, UserID: userID, Amount: amount}
			if errGrant := tx.Create(&grant).Error; errGrant != nil {
				return errGrant
			}
		}
		return tx.Create(&lot).Error
	})
	if errTx != nil {
		return fmt.Errorf("ledger: grant purchased credits: %w", errTx)
	}
	return nil
}

// HasCreditsBeenGranted reports whether a purchase order was already
// fulfilled, so payment webhook retries stay idempotent.
func (l *Ledger) HasCreditsBeenGranted(ctx context.Context, orderID string) (bool, error) {
	if l == nil || l.db == nil {
		return false, errors.New("ledger: not initialized")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return false, nil
	}
	var count int64
	if errCount := l.db.WithContext(ctx).Model(&models.CreditGrant{}).
		Where("order_id = ?", orderID).
		Count(&count).Error; errCount != nil {
		return false, errCount
	}
	return count > 0, nil
}

// offsetDebt reduces outstanding debt by min(debt, amount) under a row lock
// and returns the credits left to grant.
func offsetDebt(tx *gorm.DB, userID uint64, amount int64) (int64, error) {
	var debt models.CreditDebt
	errFind := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).
		Take(&debt).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		return amount, nil
	}
	if errFind != nil {
		return 0, errFind
	}
	if debt.Amount <= 0 {
		return amount, nil
	}

	offset := debt.Amount
	if offset > amount {
		offset = amount
	}
	if errUpdate := tx.Model(&models.CreditDebt{}).
		Where("id = ?", debt.ID).
		Update("amount", gorm.Expr("amount - ?", offset)).Error; errUpdate != nil {
		return 0, errUpdate
	}
	return amount - offset, nil
}

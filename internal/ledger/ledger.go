// Package ledger meters inference consumption against a multi-tier prepaid
// credit balance with debt tracking. Consumption drains tiers in a fixed
// priority order; every tier decrement is a locked conditional update so
// concurrent requests from one user never double-spend.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/modelrelay/modelrelay/internal/apierr"
	"github.com/modelrelay/modelrelay/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Balance is the derived multi-tier credit position for one user.
type Balance struct {
	Daily        int64 `json:"daily"`
	Subscription int64 `json:"subscription"`
	Purchased    int64 `json:"purchased"`
	Total        int64 `json:"total"`
	Debt         int64 `json:"debt"`
	Available    int64 `json:"available"`
}

// ConsumeResult reports how a consumption request was satisfied.
type ConsumeResult struct {
	Consumed     int64
	DebtIncurred int64
}

// Ledger owns all credit mutations. Catalog and user rows are read-only to
// it; nothing else writes credit rows.
type Ledger struct {
	db       *gorm.DB
	daily    DailyCounter
	dailyCap int64
	now      func() time.Time
}

// New constructs a Ledger with the given daily counter and free allowance.
func New(db *gorm.DB, daily DailyCounter, dailyCap int64) *Ledger {
	return &Ledger{db: db, daily: daily, dailyCap: dailyCap, now: func() time.Time { return time.Now().UTC() }}
}

// Balance computes the derived credit position. Read-only; each underlying
// read is individually atomic, no cross-row locking.
func (l *Ledger) Balance(ctx context.Context, userID uint64) (Balance, error) {
	if l == nil || l.db == nil {
		return Balance{}, errors.New("ledger: not initialized")
	}
	now := l.now()

	var out Balance

	if l.daily != nil && l.dailyCap > 0 {
		used, errUsed := l.daily.Used(ctx, userID, DayKey(now))
		if errUsed != nil {
			return Balance{}, fmt.Errorf("ledger: read daily counter: %w", errUsed)
		}
		if remaining := l.dailyCap - used; remaining > 0 {
			out.Daily = remaining
		}
	}

	var sub models.SubscriptionCredit
	errSub := l.db.WithContext(ctx).Where("user_id = ?", userID).Take(&sub).Error
	if errSub != nil && !errors.Is(errSub, gorm.ErrRecordNotFound) {
		return Balance{}, fmt.Errorf("ledger: read subscription credits: %w", errSub)
	}
	if errSub == nil && withinPeriod(now, sub.PeriodStart, sub.PeriodEnd) && sub.CreditsRemaining > 0 {
		out.Subscription = sub.CreditsRemaining
	}

	var purchased int64
	if errSum := l.db.WithContext(ctx).Model(&models.CreditLot{}).
		Where("user_id = ? AND remaining > 0", userID).
		Where("(expires_at IS NULL OR expires_at > ?)", now).
		Select("COALESCE(SUM(remaining), 0)").
		Scan(&purchased).Error; errSum != nil {
		return Balance{}, fmt.Errorf("ledger: sum credit lots: %w", errSum)
	}
	out.Purchased = purchased

	var debt models.CreditDebt
	errDebt := l.db.WithContext(ctx).Where("user_id = ?", userID).Take(&debt).Error
	if errDebt != nil && !errors.Is(errDebt, gorm.ErrRecordNotFound) {
		return Balance{}, fmt.Errorf("ledger: read debt: %w", errDebt)
	}
	if errDebt == nil && debt.Amount > 0 {
		out.Debt = debt.Amount
	}

	out.Total = out.Daily + out.Subscription + out.Purchased
	if available := out.Total - out.Debt; available > 0 {
		out.Available = available
	}
	return out, nil
}

// Precheck is the cheap guard run before any paid upstream call. It blocks
// accounts that are already underwater; mid-call overage is still allowed
// and lands in debt during metering.
func (l *Ledger) Precheck(ctx context.Context, userID uint64) error {
	balance, errBalance := l.Balance(ctx, userID)
	if errBalance != nil {
		return apierr.Wrap(apierr.KindUpstream, "balance check failed", errBalance)
	}
	if balance.Debt > 0 {
		return apierr.Newf(apierr.KindOutstandingDebt, "outstanding debt of %d credits", balance.Debt)
	}
	if balance.Total <= 0 {
		return apierr.New(apierr.KindInsufficientCredits, "no credits available")
	}
	return nil
}

// ConsumeWithDebt draws down credits in strict priority order: daily, then
// subscription, then purchased lots oldest-expiring first. Whatever the
// prepaid tiers cannot cover is booked as new debt. consumed + debtIncurred
// always equals amount.
func (l *Ledger) ConsumeWithDebt(ctx context.Context, userID uint64, amount int64) (ConsumeResult, error) {
	if l == nil || l.db == nil {
		return ConsumeResult{}, errors.New("ledger: not initialized")
	}
	if amount <= 0 {
		return ConsumeResult{}, fmt.Errorf("ledger: consume amount must be positive, got %d", amount)
	}

	now := l.now()
	remaining := amount

	if l.daily != nil && l.dailyCap > 0 {
		take, errDaily := l.daily.Consume(ctx, userID, DayKey(now), l.dailyCap, remaining)
		if errDaily != nil {
			return ConsumeResult{}, fmt.Errorf("ledger: consume daily: %w", errDaily)
		}
		remaining -= take
	}

	if remaining > 0 {
		take, errSub := l.consumeSubscription(ctx, userID, remaining, now)
		if errSub != nil {
			return ConsumeResult{}, errSub
		}
		remaining -= take
	}

	if remaining > 0 {
		take, errLots := l.consumeLots(ctx, userID, remaining, now)
		if errLots != nil {
			return ConsumeResult{}, errLots
		}
		remaining -= take
	}

	var debtIncurred int64
	if remaining > 0 {
		if errDebt := l.addDebt(ctx, userID, remaining); errDebt != nil {
			return ConsumeResult{}, errDebt
		}
		debtIncurred = remaining
	}

	return ConsumeResult{Consumed: amount - debtIncurred, DebtIncurred: debtIncurred}, nil
}

// consumeSubscription decrements the active period row under a row lock.
func (l *Ledger) consumeSubscription(ctx context.Context, userID uint64, amount int64, now time.Time) (int64, error) {
	var take int64
	errTx := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var sub models.SubscriptionCredit
		errFind := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ? AND credits_remaining > 0", userID).
			Where("period_start <= ? AND period_end >= ?", now, now).
			Take(&sub).Error
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil
		}
		if errFind != nil {
			return errFind
		}

		take = amount
		if take > sub.CreditsRemaining {
			take = sub.CreditsRemaining
		}
		return tx.Model(&models.SubscriptionCredit{}).
			Where("id = ?", sub.ID).
			Update("credits_remaining", gorm.Expr("credits_remaining - ?", take)).Error
	})
	if errTx != nil {
		return 0, fmt.Errorf("ledger: consume subscription: %w", errTx)
	}
	return take, nil
}

// consumeLots drains purchased lots oldest-expiring first under row locks.
func (l *Ledger) consumeLots(ctx context.Context, userID uint64, amount int64, now time.Time) (int64, error) {
	var taken int64
	errTx := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var lots []models.CreditLot
		if errFind := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ? AND remaining > 0", userID).
			Where("(expires_at IS NULL OR expires_at > ?)", now).
			Order("expires_at ASC NULLS LAST, purchased_at ASC, id ASC").
			Find(&lots).Error; errFind != nil {
			return errFind
		}

		remaining := amount
		for _, lot := range lots {
			if remaining <= 0 {
				break
			}
			take := lot.Remaining
			if take > remaining {
				take = remaining
			}
			if errUpdate := tx.Model(&models.CreditLot{}).
				Where("id = ?", lot.ID).
				Update("remaining", gorm.Expr("remaining - ?", take)).Error; errUpdate != nil {
				return errUpdate
			}
			remaining -= take
			taken += take
		}
		return nil
	})
	if errTx != nil {
		return 0, fmt.Errorf("ledger: consume lots: %w", errTx)
	}
	return taken, nil
}

// addDebt books a shortfall against the user's debt row.
func (l *Ledger) addDebt(ctx context.Context, userID uint64, amount int64) error {
	errTx := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var debt models.CreditDebt
		errFind := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ?", userID).
			Take(&debt).Error
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return tx.Create(&models.CreditDebt{UserID: userID, Amount: amount}).Error
		}
		if errFind != nil {
			return errFind
		}
		return tx.Model(&models.CreditDebt{}).
			Where("id = ?", debt.ID).
			Update("amount", gorm.Expr("amount + ?", amount)).Error
	})
	if errTx != nil {
		return fmt.Errorf("ledger: book debt: %w", errTx)
	}
	return nil
}

// withinPeriod reports whether now falls inside [start, end].
func withinPeriod(now, start, end time.Time) bool {
	return !now.Before(start) && !now.After(end)
}

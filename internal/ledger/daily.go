package ledger

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/modelrelay/modelrelay/internal/models"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DayKey formats the calendar-day key for a point in time. The key rolling
// over is the implicit daily reset; no cleanup job exists.
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// DailyCounter tracks per-user per-day free credit consumption. Consume must
// be atomic with respect to concurrent calls for the same key.
type DailyCounter interface {
	// Used returns the credits already consumed for the day.
	Used(ctx context.Context, userID uint64, day string) (int64, error)
	// Consume draws up to amount from the remaining daily allowance under
	// the cap and returns how much was actually taken.
	Consume(ctx context.Context, userID uint64, day string, limit, amount int64) (int64, error)
}

// dailyCounterTTL keeps stale day keys from accumulating in Redis.
const dailyCounterTTL = 48 * time.Hour

// redisConsumeScript takes min(amount, cap-current) atomically.
var redisConsumeScript = redis.NewScript(`
local current = tonumber(redis.call("GET", KEYS[1]) or "0")
local cap = tonumber(ARGV[1])
local amount = tonumber(ARGV[2])
local room = cap - current
if room <= 0 then
  return 0
end
local take = amount
if take > room then
  take = room
end
redis.call("INCRBY", KEYS[1], take)
redis.call("EXPIRE", KEYS[1], ARGV[3])
return take
`)

// RedisDailyCounter implements DailyCounter on a shared Redis instance so
// concurrent gateway replicas never double-grant the daily allowance.
type RedisDailyCounter struct {
	client *redis.Client
	prefix string
}

// NewRedisDailyCounter constructs a RedisDailyCounter.
func NewRedisDailyCounter(client *redis.Client, prefix string) *RedisDailyCounter {
	return &RedisDailyCounter{client: client, prefix: strings.TrimSpace(prefix)}
}

// Used returns the credits already consumed for the day.
func (c *RedisDailyCounter) Used(ctx context.Context, userID uint64, day string) (int64, error) {
	if c == nil || c.client == nil {
		return 0, errors.New("daily counter: redis not configured")
	}
	raw, errGet := c.client.Get(ctx, c.buildKey(userID, day)).Result()
	if errors.Is(errGet, redis.Nil) {
		return 0, nil
	}
	if errGet != nil {
		return 0, errGet
	}
	used, errParse := strconv.ParseInt(raw, 10, 64)
	if errParse != nil {
		return 0, errParse
	}
	return used, nil
}

// Consume atomically draws from the daily allowance.
func (c *RedisDailyCounter) Consume(ctx context.Context, userID uint64, day string, limit, amount int64) (int64, error) {
	if c == nil || c.client == nil {
		return 0, errors.New("daily counter: redis not configured")
	}
	if limit <= 0 || amount <= 0 {
		return 0, nil
	}
	res, errEval := redisConsumeScript.Run(ctx, c.client,
		[]string{c.buildKey(userID, day)},
		limit, amount, int(dailyCounterTTL.Seconds()),
	).Result()
	if errEval != nil {
		return 0, errEval
	}
	take, ok := res.(int64)
	if !ok {
		return 0, errors.New("daily counter: unexpected redis response type")
	}
	return take, nil
}

func (c *RedisDailyCounter) buildKey(userID uint64, day string) string {
	key := strconv.FormatUint(userID, 10) + ":" + day
	if c.prefix == "" {
		return key
	}
	return c.prefix + ":" + key
}

// GormDailyCounter implements DailyCounter on the primary database for
// single-instance deployments without Redis.
type GormDailyCounter struct {
	db *gorm.DB
}

// NewGormDailyCounter constructs a GormDailyCounter.
func NewGormDailyCounter(db *gorm.DB) *GormDailyCounter { return &GormDailyCounter{db: db} }

// Used returns the credits already consumed for the day.
func (c *GormDailyCounter) Used(ctx context.Context, userID uint64, day string) (int64, error) {
	if c == nil || c.db == nil {
		return 0, errors.New("daily counter: nil db")
	}
	var row models.DailyCredit
	errFind := c.db.WithContext(ctx).
		Where("user_id = ? AND day = ?", userID, day).
		Take(&row).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if errFind != nil {
		return 0, errFind
	}
	return row.Used, nil
}

// Consume draws from the daily allowance under a row lock.
func (c *GormDailyCounter) Consume(ctx context.Context, userID uint64, day string, limit, amount int64) (int64, error) {
	if c == nil || c.db == nil {
		return 0, errors.New("daily counter: nil db")
	}
	if limit <= 0 || amount <= 0 {
		return 0, nil
	}

	var take int64
	errTx := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row models.DailyCredit
		errFind := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ? AND day = ?", userID, day).
			Take(&row).Error
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			row = models.DailyCredit{UserID: userID, Day: day}
			if errCreate := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "user_id"}, {Name: "day"}},
				DoNothing: true,
			}).Create(&row).Error; errCreate != nil {
				return errCreate
			}
			if errRetry := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("user_id = ? AND day = ?", userID, day).
				Take(&row).Error; errRetry != nil {
				return errRetry
			}
		} else if errFind != nil {
			return errFind
		}

		room := limit - row.Used
		if room <= 0 {
			take = 0
			return nil
		}
		take = amount
		if take > room {
			take = room
		}
		return tx.Model(&models.DailyCredit{}).
			Where("id = ?", row.ID).
			Update("used", gorm.Expr("used + ?", take)).Error
	})
	if errTx != nil {
		return 0, errTx
	}
	return take, nil
}

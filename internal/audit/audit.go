package audit

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/modelrelay/modelrelay/internal/models"
)

// Event is one completed (or failed) inference request.
type Event struct {
	UserID          uint64
	APIKeyID        *uint64
	Provider        string
	Model           string
	RequestedAt     time.Time
	Streamed        bool
	Failed          bool
	InputTokens     int
	OutputTokens    int
	ReasoningTokens int
	Credits         int64
	DebtIncurred    int64
	CostMicros      int64
}

// Recorder persists usage events for billing audit.
type Recorder struct {
	db *gorm.DB
}

// NewRecorder constructs a Recorder backed by GORM.
func NewRecorder(db *gorm.DB) *Recorder { return &Recorder{db: db} }

// Record writes the event. Failures are logged, never surfaced; the audit
// trail must not break a request that already completed. The write uses a
// detached context so client disconnects cannot cancel it.
func (r *Recorder) Record(event Event) {
	if r == nil || r.db == nil {
		return
	}

	dbCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	totalTokens := event.InputTokens + event.OutputTokens + event.ReasoningTokens
	userID := event.UserID
	row := models.Usage{
		UserID:          &userID,
		APIKeyID:        event.APIKeyID,
		Provider:        event.Provider,
		Model:           event.Model,
		RequestedAt:     normalizeTime(event.RequestedAt),
		Streamed:        event.Streamed,
		Failed:          event.Failed,
		InputTokens:     event.InputTokens,
		OutputTokens:    event.OutputTokens,
		ReasoningTokens: event.ReasoningTokens,
		TotalTokens:     totalTokens,
		Credits:         event.Credits,
		DebtIncurred:    event.DebtIncurred,
		CostMicros:      event.CostMicros,
	}

	if errCreate := r.db.WithContext(dbCtx).Create(&row).Error; errCreate != nil {
		log.WithError(errCreate).Warn("audit: failed to persist usage record")
		return
	}

	log.WithFields(log.Fields{
		"user_id":       event.UserID,
		"provider":      event.Provider,
		"model":         event.Model,
		"streamed":      event.Streamed,
		"failed":        event.Failed,
		"total_tokens":  totalTokens,
		"credits":       event.Credits,
		"debt_incurred": event.DebtIncurred,
	}).Info("usage recorded")
}

func normalizeTime(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}

package models

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/tabshare/tabshare_backend/config"
	"github.com/tabshare/tabshare_backend/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DebtEvent is one outbox row: a debt mutation recorded in the same
// transaction as the mutation itself, published after commit by the
// dispatcher. Publish is at-least-once; consumers dedupe on the row id.
type DebtEvent struct {
	ID               int             `gorm:"primary_key;index:idx_debt_event_dispatch,priority:2" json:"id"`
	DebtId           int             `gorm:"not null;index" json:"debt_id"`
	OwnerAccountId   int             `gorm:"not null;index" json:"owner_account_id"`
	Action           DebtEventAction `gorm:"size:20;not null" json:"action"`
	Payload          []byte          `gorm:"type:blob" json:"payload"`
	PublishStatus    string          `gorm:"size:20;index;not null;default:'Pending';index:idx_debt_event_dispatch,priority:1" json:"publish_status"`
	PublishedAt      *time.Time      `gorm:"index" json:"published_at"`
	PubSubMessageId  *string         `gorm:"size:255" json:"pubsub_message_id"`
	PublishAttempts  int             `gorm:"not null;default:0" json:"publish_attempts"`
	LockedAt         *time.Time      `gorm:"index" json:"locked_at"`
	LockedBy         *string         `gorm:"size:100" json:"locked_by"`
	LastPublishError *string         `gorm:"type:text" json:"last_publish_error"`
	CorrelationId    string          `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt        time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func correlationIdFromContextOrNew(ctx context.Context) string {
	if id, ok := utils.GetCorrelationIdFromContext(ctx); ok && id != "" {
		return id
	}
	return uuid.NewString()
}

// queueDebtEvent records the mutation in the outbox inside the caller's
// transaction, so an event exists exactly when the mutation committed.
func queueDebtEvent(ctx context.Context, tx *gorm.DB, debt *Debt, action DebtEventAction) error {
	payload, err := json.Marshal(debt)
	if err != nil {
		return err
	}
	event := DebtEvent{
		DebtId:         debt.ID,
		OwnerAccountId: debt.OwnerAccountId,
		Action:         action,
		Payload:        payload,
		PublishStatus:  string(OutboxPublishStatusPending),
		CorrelationId:  correlationIdFromContextOrNew(ctx),
	}
	return tx.Create(&event).Error
}

// DebtEventDispatcher drains pending outbox rows to Pub/Sub. Multiple
// replicas may run it; row claims use SKIP LOCKED so they never contend.
type DebtEventDispatcher struct {
	DB        *gorm.DB
	Logger    *logrus.Logger
	WorkerID  string
	BatchSize int
	Interval  time.Duration
	LockTTL   time.Duration
}

func NewDebtEventDispatcher(db *gorm.DB, logger *logrus.Logger) *DebtEventDispatcher {
	return &DebtEventDispatcher{
		DB:        db,
		Logger:    logger,
		WorkerID:  "dispatch-" + time.Now().Format("20060102-150405.000"),
		BatchSize: 50,
		Interval:  2 * time.Second,
		LockTTL:   30 * time.Second,
	}
}

// ShouldRunDebtEventDispatcher defaults to on; set DEBT_EVENT_DISPATCHER=false
// to disable on replicas that only serve traffic.
func ShouldRunDebtEventDispatcher() bool {
	val := strings.ToLower(strings.TrimSpace(os.Getenv("DEBT_EVENT_DISPATCHER")))
	return val != "false"
}

func (p *DebtEventDispatcher) Run(ctx context.Context) {
	if p == nil || p.DB == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		p.processOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(p.Interval):
		}
	}
}

func (p *DebtEventDispatcher) processOnce(ctx context.Context) {
	now := time.Now().UTC()
	staleBefore := now.Add(-p.LockTTL)

	var claimed []DebtEvent
	err := p.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.
			Where("publish_status IN ?", []string{
				string(OutboxPublishStatusPending),
				string(OutboxPublishStatusFailed),
			}).
			Where("(locked_at IS NULL OR locked_at <= ?)", staleBefore).
			Order("id ASC").
			Limit(p.BatchSize).
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		if err := q.Find(&claimed).Error; err != nil {
			return err
		}
		for i := range claimed {
			claimed[i].LockedAt = &now
			claimed[i].LockedBy = &p.WorkerID
			if err := tx.Model(&DebtEvent{}).
				Where("id = ?", claimed[i].ID).
				Updates(map[string]interface{}{
					"locked_at": claimed[i].LockedAt,
					"locked_by": claimed[i].LockedBy,
				}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil || len(claimed) == 0 {
		return
	}

	for _, event := range claimed {
		p.publishOne(ctx, event)
	}
}

func (p *DebtEventDispatcher) publishOne(ctx context.Context, event DebtEvent) {
	now := time.Now().UTC()

	if !config.PubSubConfigured() {
		// Local/dev fallback: log the event and mark it sent so the
		// outbox does not grow without bound.
		if p.Logger != nil {
			p.Logger.WithFields(logrus.Fields{
				"event_id":       event.ID,
				"debt_id":        event.DebtId,
				"action":         event.Action,
				"correlation_id": event.CorrelationId,
			}).Info("pubsub not configured, dropping debt event after log")
		}
		p.markSent(ctx, event.ID, now, nil)
		return
	}

	msgId, err := config.PublishDebtEvent(ctx, config.DebtEventMessage{
		ID:             event.ID,
		DebtId:         event.DebtId,
		OwnerAccountId: event.OwnerAccountId,
		Action:         string(event.Action),
		Payload:        event.Payload,
		OccurredAt:     event.CreatedAt,
		CorrelationId:  event.CorrelationId,
	})
	if err != nil {
		errMsg := err.Error()
		_ = p.DB.WithContext(ctx).Model(&DebtEvent{}).
			Where("id = ?", event.ID).
			Updates(map[string]interface{}{
				"publish_status":     string(OutboxPublishStatusFailed),
				"publish_attempts":   gorm.Expr("publish_attempts + 1"),
				"last_publish_error": &errMsg,
				"locked_at":          nil,
				"locked_by":          nil,
			}).Error
		if p.Logger != nil {
			p.Logger.WithFields(logrus.Fields{
				"event_id": event.ID,
				"debt_id":  event.DebtId,
			}).Error("debt event publish failed: " + errMsg)
		}
		return
	}
	p.markSent(ctx, event.ID, now, &msgId)
}

func (p *DebtEventDispatcher) markSent(ctx context.Context, eventId int, at time.Time, msgId *string) {
	_ = p.DB.WithContext(ctx).Model(&DebtEvent{}).
		Where("id = ?", eventId).
		Updates(map[string]interface{}{
			"publish_status":    string(OutboxPublishStatusSent),
			"published_at":      &at,
			"publish_attempts":  gorm.Expr("publish_attempts + 1"),
			"pubsub_message_id": msgId,
			"locked_at":         nil,
			"locked_by":         nil,
		}).Error
}

// Package audit records referral decisions in an append-only log.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/revaspay/referrals/internal/apperrors"
	"github.com/revaspay/referrals/internal/retry"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// EventType represents the type of referral event
type EventType string

const (
	EventReferralCreated       EventType = "referral_created"
	EventReferralRejected      EventType = "referral_rejected"
	EventReferralValidated     EventType = "referral_validated"
	EventInvalidTripDetected   EventType = "invalid_trip_detected"
	EventTripCounted           EventType = "trip_counted"
	EventRewardIssued          EventType = "reward_issued"
	EventRewardStatusChanged   EventType = "reward_status_changed"
	EventRewardThresholdMissed EventType = "reward_threshold_missed"
)

// Sink is the append-only audit log collaborator
type Sink interface {
	Append(ctx context.Context, eventType EventType, payload map[string]interface{}) error
}

// AuditLog represents a referral audit log entry
type AuditLog struct {
	ID        uuid.UUID `gorm:"type:uuid;primary_key" json:"id"`
	EventType EventType `gorm:"type:varchar(50);index" json:"event_type"`
	Payload   string    `gorm:"type:text" json:"payload"` // JSON string of the event details
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

// TableName overrides the gorm default
func (AuditLog) TableName() string { return "referral_audit_logs" }

// GormSink stores audit events in postgres
type GormSink struct {
	db *gorm.DB
}

// NewGormSink creates a new gorm-backed sink
func NewGormSink(db *gorm.DB) *GormSink {
	return &GormSink{db: db}
}

// Append inserts one audit row
func (s *GormSink) Append(ctx context.Context, eventType EventType, payload map[string]interface{}) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal audit payload: %w", err)
	}

	entry := AuditLog{
		ID:        uuid.New(),
		EventType: eventType,
		Payload:   string(payloadJSON),
		CreatedAt: time.Now().UTC(),
	}

	if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
		if apperrors.IsTransientIO(err) {
			return apperrors.Transient("audit append", err)
		}
		return fmt.Errorf("failed to create audit log: %w", err)
	}
	return nil
}

// Logger writes audit events on a best-effort basis. A failed write is
// retried per the policy and then dropped with a warning; it never fails the
// operation that produced it.
type Logger struct {
	sink   Sink
	policy retry.Policy
	log    *zap.Logger
}

// NewLogger creates a new audit logger
func NewLogger(sink Sink, policy retry.Policy, log *zap.Logger) *Logger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Logger{sink: sink, policy: policy, log: log}
}

// Log records an event
func (l *Logger) Log(ctx context.Context, eventType EventType, payload map[string]interface{}) {
	err := retry.Do(ctx, l.policy, l.log, "audit."+string(eventType), func(ctx context.Context) error {
		return l.sink.Append(ctx, eventType, payload)
	})
	if err != nil {
		l.log.Warn("audit event dropped",
			zap.String("event_type", string(eventType)),
			zap.Any("payload", payload),
			zap.Error(err))
	}
}

package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/payintents-backend/pkg/enums"
)

// PaymentIntent is a merchant request to collect a fixed amount from a customer.
type PaymentIntent struct {
	ID             uuid.UUID          `gorm:"column:id;type:uuid;primaryKey"`
	ScopeID        string             `gorm:"column:scope_id;not null"`
	Amount         int64              `gorm:"column:amount;not null"`
	Currency       enums.Currency     `gorm:"column:currency;type:char(3);not null"`
	Method         enums.IntentMethod `gorm:"column:method;type:text;not null"`
	Status         enums.IntentStatus `gorm:"column:status;type:text;not null"`
	FailureReason  *string            `gorm:"column:failure_reason"`
	ExpiresAt      time.Time          `gorm:"column:expires_at;not null"`
	IdempotencyKey *string            `gorm:"column:idempotency_key"`
	CreatedAt      time.Time          `gorm:"column:created_at;not null"`
	UpdatedAt      time.Time          `gorm:"column:updated_at;not null"`
}

// TableName pins the gorm table.
func (PaymentIntent) TableName() string {
	return "payment_intents"
}

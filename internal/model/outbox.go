package model

import (
	"time"
)

const (
	OutboxStatusPending = "PENDING"
	OutboxStatusSent    = "SENT"
	OutboxStatusFailed  = "FAILED"
)

const (
	EventConsumeSucceeded = "CONSUME_SUCCEEDED"
	EventRefundSucceeded  = "REFUND_SUCCEEDED"
	EventRecharged        = "RECHARGED"
	EventAccountFrozen    = "ACCOUNT_FROZEN"
	EventAccountUnfrozen  = "ACCOUNT_UNFROZEN"
	EventAccountClosed    = "ACCOUNT_CLOSED"
	EventHoldAdjusted     = "HOLD_ADJUSTED"
)

// OutboxMessage 本地消息表，与账务变更同事务写入，由 OutboxSender 异步投递
type OutboxMessage struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	MessageKey string    `gorm:"type:varchar(64);not null" json:"message_key"`
	EventType  string    `gorm:"type:varchar(32);not null" json:"event_type"`
	Topic      string    `gorm:"type:varchar(64);not null" json:"topic"`
	Payload    string    `gorm:"type:text;not null" json:"payload"`
	Status     string    `gorm:"type:varchar(20);index;not null;default:PENDING" json:"status"`
	RetryCount int       `gorm:"not null;default:0" json:"retry_count"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (OutboxMessage) TableName() string {
	return "outbox_message"
}

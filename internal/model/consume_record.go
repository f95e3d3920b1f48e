package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	ConsumeStatusPending   = "PENDING"
	ConsumeStatusSuccess   = "SUCCESS"
	ConsumeStatusFailed    = "FAILED"
	ConsumeStatusCancelled = "CANCELLED"
)

const (
	RefundStatusNone       = "NONE"
	RefundStatusProcessing = "REFUND_PROCESSING"
	RefundStatusPartial    = "PARTIAL_REFUND"
	RefundStatusFull       = "FULL_REFUND"
)

// ValidRefundTransitions 退款状态机，FULL_REFUND 为终态
var ValidRefundTransitions = map[string][]string{
	RefundStatusNone:       {RefundStatusProcessing},
	RefundStatusPartial:    {RefundStatusProcessing},
	RefundStatusProcessing: {RefundStatusPartial, RefundStatusFull},
}

func CanRefundTransitionTo(currentStatus, targetStatus string) bool {
	allowedStatuses, exists := ValidRefundTransitions[currentStatus]
	if !exists {
		return false
	}
	for _, s := range allowedStatuses {
		if s == targetStatus {
			return true
		}
	}
	return false
}

// ConsumeRecord 消费记录表
// 每次消费尝试一条；SUCCESS 记录与一条 DEDUCT 流水一一对应，
// 退款流水通过 consume_record_no 关联回本记录
type ConsumeRecord struct {
	ID             int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	RecordNo       string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"record_no"`
	OrderNo        string          `gorm:"type:varchar(64);index;not null" json:"order_no"` // 失败记录可重复，非 FAILED 至多一条
	AccountID      int64           `gorm:"index;not null" json:"account_id"`
	UserID         int64           `gorm:"index;not null" json:"user_id"`
	DeviceID       string          `gorm:"type:varchar(64);index" json:"device_id"`
	ConsumeMode    string          `gorm:"type:varchar(32)" json:"consume_mode"`
	OriginalAmount decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"original_amount"`
	FinalAmount    decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"final_amount"`
	DiscountAmount decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"discount_amount"`
	RefundedAmount decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"refunded_amount"`
	ConsumeStatus  string          `gorm:"type:varchar(16);index;not null" json:"consume_status"`
	RefundStatus   string          `gorm:"type:varchar(20);not null;default:NONE" json:"refund_status"`
	TransactionNo  string          `gorm:"type:varchar(64)" json:"transaction_no"`
	FailReason     string          `gorm:"type:varchar(256)" json:"fail_reason,omitempty"`
	CreatedAt      time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (ConsumeRecord) TableName() string {
	return "consume_record"
}

// Refundable 剩余可退金额
func (r *ConsumeRecord) Refundable() decimal.Decimal {
	return r.FinalAmount.Sub(r.RefundedAmount)
}

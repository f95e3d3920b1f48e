package service

import (
	"time"

	"github.com/shopspring/decimal"
)

// LedgerEvent 出箱消息体，所有账务事件共用
type LedgerEvent struct {
	EventType     string           `json:"event_type"`
	AccountID     int64            `json:"account_id"`
	UserID        int64            `json:"user_id"`
	OrderNo       string           `json:"order_no,omitempty"`
	RecordNo      string           `json:"record_no,omitempty"`
	TransactionNo string           `json:"transaction_no,omitempty"`
	Amount        decimal.Decimal  `json:"amount"`
	BalanceAfter  decimal.Decimal  `json:"balance_after"`
	FrozenAfter   *decimal.Decimal `json:"frozen_after,omitempty"`
	Status        string           `json:"status,omitempty"`
	Reason        string           `json:"reason,omitempty"`
	OccurredAt    time.Time        `json:"occurred_at"`
}

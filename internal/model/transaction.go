package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================================
// 交易类型常量
// ============================================================================

const (
	TransactionTypeRecharge     = "RECHARGE"      // 充值
	TransactionTypeDeduct       = "DEDUCT"        // 消费扣款
	TransactionTypeRefund       = "REFUND"        // 退款
	TransactionTypeFreezeAdjust = "FREEZE_ADJUST" // 冻结金额调整，余额不变
)

const (
	TransactionStatusSuccess = "SUCCESS"
	TransactionStatusFailed  = "FAILED"
)

// ============================================================================
// 账务流水实体
// ============================================================================

// TransactionRecord 账务流水表
// 记录账户的每一笔资金变动，是对账的核心依据
//
// 【重要】流水表设计原则：
// 1. 只追加，不修改，不删除
// 2. 每笔流水必须关联业务单号，且一个单号至多一条流水
// 3. 记录交易前后余额：balance_after = balance_before + amount
type TransactionRecord struct {
	ID              int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	TransactionNo   string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"transaction_no"`
	AccountID       int64           `gorm:"index:idx_txn_account_time,priority:1;not null" json:"account_id"`
	UserID          int64           `gorm:"index;not null" json:"user_id"`
	Type            string          `gorm:"type:varchar(20);not null" json:"type"`
	Amount          decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"amount"` // 带符号：正数入账，负数出账
	BalanceBefore   decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"balance_before"`
	BalanceAfter    decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"balance_after"`
	FrozenDelta     decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"frozen_delta"`
	FrozenAfter     decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"frozen_after"`
	OrderNo         string          `gorm:"type:varchar(64);uniqueIndex:uk_txn_order_no;not null" json:"order_no"` // 只写成功流水，单号全局唯一
	ConsumeRecordNo string          `gorm:"type:varchar(64);index" json:"consume_record_no"`
	DeviceID        string          `gorm:"type:varchar(64);index" json:"device_id"`
	Status          string          `gorm:"type:varchar(16);not null" json:"status"`
	Remark          string          `gorm:"type:varchar(256)" json:"remark"`
	OccurredAt      time.Time       `gorm:"index:idx_txn_account_time,priority:2;not null" json:"occurred_at"`
}

func (TransactionRecord) TableName() string {
	return "transaction_record"
}

// ErrLedgerImbalance 流水自身算术不一致
var ErrLedgerImbalance = errors.New("流水校验失败")

// Verify 校验流水自身的算术一致性
func (t *TransactionRecord) Verify() error {
	if !t.BalanceBefore.Add(t.Amount).Equal(t.BalanceAfter) {
		return fmt.Errorf("%w: 流水 %s 余额不平: %s + %s != %s",
			ErrLedgerImbalance, t.TransactionNo, t.BalanceBefore, t.Amount, t.BalanceAfter)
	}
	if t.BalanceAfter.IsNegative() {
		return fmt.Errorf("%w: 流水 %s 交易后余额为负: %s", ErrLedgerImbalance, t.TransactionNo, t.BalanceAfter)
	}
	if t.FrozenAfter.IsNegative() || t.FrozenAfter.GreaterThan(t.BalanceAfter) {
		return fmt.Errorf("%w: 流水 %s 冻结金额越界: %s / %s", ErrLedgerImbalance, t.TransactionNo, t.FrozenAfter, t.BalanceAfter)
	}
	if t.Type == TransactionTypeFreezeAdjust && !t.Amount.IsZero() {
		return fmt.Errorf("%w: 流水 %s 冻结调整不应改变余额", ErrLedgerImbalance, t.TransactionNo)
	}
	return nil
}

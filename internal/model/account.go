package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	AccountStatusActive = "ACTIVE"
	AccountStatusFrozen = "FROZEN"
	AccountStatusClosed = "CLOSED"
)

// Account 用户账户表
// 记录账户余额、冻结金额与限额，是整个账务引擎的核心数据
//
// 【不变量】
//   - balance >= 0
//   - 0 <= frozen_amount <= balance
//   - total_recharged / total_consumed 只增不减
//
// 账户只通过 AccountRepository.Apply 修改，永不物理删除（关闭时状态置为 CLOSED）
type Account struct {
	ID             int64               `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID         int64               `gorm:"uniqueIndex;not null" json:"user_id"`
	Status         string              `gorm:"type:varchar(16);not null;default:ACTIVE" json:"status"`
	Balance        decimal.Decimal     `gorm:"type:decimal(20,2);not null;default:0" json:"balance"`
	FrozenAmount   decimal.Decimal     `gorm:"type:decimal(20,2);not null;default:0" json:"frozen_amount"` // 预授权等占用的金额
	DailyLimit     decimal.NullDecimal `gorm:"type:decimal(20,2)" json:"daily_limit"`
	MonthlyLimit   decimal.NullDecimal `gorm:"type:decimal(20,2)" json:"monthly_limit"`
	TotalRecharged decimal.Decimal     `gorm:"type:decimal(20,2);not null;default:0" json:"total_recharged"`
	TotalConsumed  decimal.Decimal     `gorm:"type:decimal(20,2);not null;default:0" json:"total_consumed"`
	FreezeReason   string              `gorm:"type:varchar(256)" json:"freeze_reason"`
	Version        int                 `gorm:"not null;default:0" json:"version"` // 乐观锁版本号
	CreatedAt      time.Time           `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time           `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Account) TableName() string {
	return "account"
}

// Available 可用余额 = 余额 - 冻结金额
func (a *Account) Available() decimal.Decimal {
	return a.Balance.Sub(a.FrozenAmount)
}

// CanDebit 冻结和关闭的账户不允许扣款
func (a *Account) CanDebit() bool {
	return a.Status == AccountStatusActive
}

// CanCredit 冻结账户仍可入账（充值、退款），关闭账户不允许
func (a *Account) CanCredit() bool {
	return a.Status == AccountStatusActive || a.Status == AccountStatusFrozen
}

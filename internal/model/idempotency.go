package model

import "time"

// ClaimScopeOrder 所有写账务流水的业务共用一个单号空间：
// 消费单号、充值单号、退款单号、预留单号都落在 transaction_record.order_no 上，不能互相重复
const ClaimScopeOrder = "ORDER"

const (
	ClaimStatusProcessing = "PROCESSING"
	ClaimStatusSuccess    = "SUCCESS"
)

// IdempotencyClaim 幂等占位表
// (scope, biz_no) 唯一索引保证跨进程只有一个请求能占位成功
type IdempotencyClaim struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Scope     string    `gorm:"type:varchar(16);not null;uniqueIndex:uk_claim_scope_biz,priority:1" json:"scope"`
	BizNo     string    `gorm:"type:varchar(64);not null;uniqueIndex:uk_claim_scope_biz,priority:2" json:"biz_no"`
	Status    string    `gorm:"type:varchar(16);index;not null" json:"status"`
	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (IdempotencyClaim) TableName() string {
	return "idempotency_claim"
}

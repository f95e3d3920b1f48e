package repository

import (
	"context"
	"errors"

	"consumeledger/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrAccountNotFound   = errors.New("账户不存在")
	ErrBalanceNotEnough  = errors.New("余额不足")
	ErrFrozenOutOfRange  = errors.New("冻结金额越界")
	ErrOptimisticLock    = errors.New("乐观锁冲突，请重试")
	ErrStatusTransition  = errors.New("账户状态不允许变更")
	ErrNegativeRunTotals = errors.New("累计金额不能减少")
)

// AccountChange 一次原子变更的增量
type AccountChange struct {
	BalanceDelta decimal.Decimal
	FrozenDelta  decimal.Decimal
	Consumed     decimal.Decimal
	Recharged    decimal.Decimal
}

type AccountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

func (r *AccountRepository) conn(tx *gorm.DB) *gorm.DB {
	if tx == nil {
		return r.db
	}
	return tx
}

func (r *AccountRepository) Create(ctx context.Context, account *model.Account) error {
	return r.db.WithContext(ctx).Create(account).Error
}

func (r *AccountRepository) GetByID(ctx context.Context, tx *gorm.DB, id int64) (*model.Account, error) {
	var account model.Account
	err := r.conn(tx).WithContext(ctx).Where("id = ?", id).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

func (r *AccountRepository) GetByUserID(ctx context.Context, userID int64) (*model.Account, error) {
	var account model.Account
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// GetOrCreate 每个用户只有一个账户，并发创建依赖 user_id 唯一索引
func (r *AccountRepository) GetOrCreate(ctx context.Context, userID int64, dailyLimit, monthlyLimit decimal.NullDecimal) (*model.Account, error) {
	account, err := r.GetByUserID(ctx, userID)
	if err == nil {
		return account, nil
	}

	if !errors.Is(err, ErrAccountNotFound) {
		return nil, err
	}

	newAccount := &model.Account{
		UserID:         userID,
		Status:         model.AccountStatusActive,
		Balance:        decimal.Zero,
		FrozenAmount:   decimal.Zero,
		TotalRecharged: decimal.Zero,
		TotalConsumed:  decimal.Zero,
		DailyLimit:     dailyLimit,
		MonthlyLimit:   monthlyLimit,
	}

	err = r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoNothing: true,
		}).
		Create(newAccount).Error

	if err != nil {
		return nil, err
	}

	return r.GetByUserID(ctx, userID)
}

// Apply 单行读-改-写：在内存中计算新值并校验不变量，再以版本号为条件写回
//
// acc 必须是当前事务内读到的快照；版本号不匹配说明有并发写入绕过了账户锁，
// 返回 ErrOptimisticLock，由上层映射为可重试错误
func (r *AccountRepository) Apply(ctx context.Context, tx *gorm.DB, acc *model.Account, change AccountChange) (*model.Account, error) {
	if change.Consumed.IsNegative() || change.Recharged.IsNegative() {
		return nil, ErrNegativeRunTotals
	}

	next := *acc
	next.Balance = acc.Balance.Add(change.BalanceDelta)
	next.FrozenAmount = acc.FrozenAmount.Add(change.FrozenDelta)
	next.TotalConsumed = acc.TotalConsumed.Add(change.Consumed)
	next.TotalRecharged = acc.TotalRecharged.Add(change.Recharged)

	if next.Balance.IsNegative() {
		return nil, ErrBalanceNotEnough
	}
	if next.FrozenAmount.IsNegative() || next.FrozenAmount.GreaterThan(next.Balance) {
		return nil, ErrFrozenOutOfRange
	}

	result := r.conn(tx).WithContext(ctx).
		Model(&model.Account{}).
		Where("id = ? AND version = ?", acc.ID, acc.Version).
		Updates(map[string]interface{}{
			"balance":         next.Balance,
			"frozen_amount":   next.FrozenAmount,
			"total_consumed":  next.TotalConsumed,
			"total_recharged": next.TotalRecharged,
			"version":         gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, ErrOptimisticLock
	}

	next.Version = acc.Version + 1
	return &next, nil
}

// UpdateStatus 条件更新账户状态
func (r *AccountRepository) UpdateStatus(ctx context.Context, tx *gorm.DB, acc *model.Account, toStatus, reason string) (*model.Account, error) {
	result := r.conn(tx).WithContext(ctx).
		Model(&model.Account{}).
		Where("id = ? AND version = ? AND status = ?", acc.ID, acc.Version, acc.Status).
		Updates(map[string]interface{}{
			"status":        toStatus,
			"freeze_reason": reason,
			"version":       gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, ErrOptimisticLock
	}

	next := *acc
	next.Status = toStatus
	next.FreezeReason = reason
	next.Version = acc.Version + 1
	return &next, nil
}

// UpdateLimits 修改日/月限额，null 表示不限
func (r *AccountRepository) UpdateLimits(ctx context.Context, tx *gorm.DB, acc *model.Account, dailyLimit, monthlyLimit decimal.NullDecimal) (*model.Account, error) {
	result := r.conn(tx).WithContext(ctx).
		Model(&model.Account{}).
		Where("id = ? AND version = ?", acc.ID, acc.Version).
		Updates(map[string]interface{}{
			"daily_limit":   dailyLimit,
			"monthly_limit": monthlyLimit,
			"version":       gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, ErrOptimisticLock
	}

	next := *acc
	next.DailyLimit = dailyLimit
	next.MonthlyLimit = monthlyLimit
	next.Version = acc.Version + 1
	return &next, nil
}

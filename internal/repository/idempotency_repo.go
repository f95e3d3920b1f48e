package repository

import (
	"context"
	"errors"
	"time"

	"consumeledger/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrClaimNotFound = errors.New("幂等占位不存在")
	ErrClaimNotHeld  = errors.New("幂等占位已不在处理中")
)

type IdempotencyRepository struct {
	db *gorm.DB
}

func NewIdempotencyRepository(db *gorm.DB) *IdempotencyRepository {
	return &IdempotencyRepository{db: db}
}

// TryClaim 插入 PROCESSING 占位，返回 false 表示 (scope, bizNo) 已被占用
func (r *IdempotencyRepository) TryClaim(ctx context.Context, scope, bizNo string) (bool, error) {
	claim := &model.IdempotencyClaim{
		Scope:  scope,
		BizNo:  bizNo,
		Status: model.ClaimStatusProcessing,
	}

	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "scope"}, {Name: "biz_no"}},
			DoNothing: true,
		}).
		Create(claim)

	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *IdempotencyRepository) Get(ctx context.Context, scope, bizNo string) (*model.IdempotencyClaim, error) {
	var claim model.IdempotencyClaim
	err := r.db.WithContext(ctx).
		Where("scope = ? AND biz_no = ?", scope, bizNo).
		First(&claim).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrClaimNotFound
		}
		return nil, err
	}
	return &claim, nil
}

// MarkSuccess 在业务事务内把占位置为 SUCCESS
func (r *IdempotencyRepository) MarkSuccess(ctx context.Context, tx *gorm.DB, scope, bizNo string) error {
	if tx == nil {
		tx = r.db
	}

	result := tx.WithContext(ctx).
		Model(&model.IdempotencyClaim{}).
		Where("scope = ? AND biz_no = ? AND status = ?", scope, bizNo, model.ClaimStatusProcessing).
		Update("status", model.ClaimStatusSuccess)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrClaimNotHeld
	}
	return nil
}

// Release 删除 PROCESSING 占位，SUCCESS 占位永不释放
func (r *IdempotencyRepository) Release(ctx context.Context, scope, bizNo string) error {
	return r.db.WithContext(ctx).
		Where("scope = ? AND biz_no = ? AND status = ?", scope, bizNo, model.ClaimStatusProcessing).
		Delete(&model.IdempotencyClaim{}).Error
}

// GetStaleClaims 查询早于 beforeTime 仍在处理中的占位
func (r *IdempotencyRepository) GetStaleClaims(ctx context.Context, beforeTime time.Time, limit int) ([]*model.IdempotencyClaim, error) {
	var claims []*model.IdempotencyClaim
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", model.ClaimStatusProcessing, beforeTime).
		Order("created_at ASC").
		Limit(limit).
		Find(&claims).Error
	return claims, err
}

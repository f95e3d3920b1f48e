package repository

import (
	"context"
	"errors"
	"time"

	"consumeledger/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	ErrConsumeRecordNotFound = errors.New("消费记录不存在")
	ErrConsumeStatusInvalid  = errors.New("消费记录状态不合法")
	ErrRefundStatusInvalid   = errors.New("退款状态不合法")
)

// ConsumeFilter 消费记录查询条件
type ConsumeFilter struct {
	UserID    int64
	AccountID int64
	DeviceID  string
	Status    string
	From      time.Time
	To        time.Time
	Page      int
	PageSize  int
}

type ConsumeRecordRepository struct {
	db *gorm.DB
}

func NewConsumeRecordRepository(db *gorm.DB) *ConsumeRecordRepository {
	return &ConsumeRecordRepository{db: db}
}

func (r *ConsumeRecordRepository) conn(tx *gorm.DB) *gorm.DB {
	if tx == nil {
		return r.db
	}
	return tx
}

func (r *ConsumeRecordRepository) Create(ctx context.Context, tx *gorm.DB, record *model.ConsumeRecord) error {
	return r.conn(tx).WithContext(ctx).Create(record).Error
}

func (r *ConsumeRecordRepository) GetByRecordNo(ctx context.Context, tx *gorm.DB, recordNo string) (*model.ConsumeRecord, error) {
	var record model.ConsumeRecord
	err := r.conn(tx).WithContext(ctx).Where("record_no = ?", recordNo).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrConsumeRecordNotFound
		}
		return nil, err
	}
	return &record, nil
}

// GetByOrderNo 同一订单号可能有多条失败记录，优先返回非 FAILED 的那条
func (r *ConsumeRecordRepository) GetByOrderNo(ctx context.Context, orderNo string) (*model.ConsumeRecord, error) {
	var records []*model.ConsumeRecord
	err := r.db.WithContext(ctx).
		Where("order_no = ?", orderNo).
		Order("id DESC").
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, ErrConsumeRecordNotFound
	}
	for _, rec := range records {
		if rec.ConsumeStatus != model.ConsumeStatusFailed {
			return rec, nil
		}
	}
	return records[0], nil
}

// MarkSuccess PENDING -> SUCCESS，关联扣款流水号
func (r *ConsumeRecordRepository) MarkSuccess(ctx context.Context, tx *gorm.DB, recordNo, transactionNo string) error {
	result := r.conn(tx).WithContext(ctx).
		Model(&model.ConsumeRecord{}).
		Where("record_no = ? AND consume_status = ?", recordNo, model.ConsumeStatusPending).
		Updates(map[string]interface{}{
			"consume_status": model.ConsumeStatusSuccess,
			"transaction_no": transactionNo,
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrConsumeStatusInvalid
	}
	return nil
}

// UpdateRefundStatus 按退款状态机条件更新，refundedAmount 非 nil 时同步写入累计退款额
func (r *ConsumeRecordRepository) UpdateRefundStatus(ctx context.Context, tx *gorm.DB, recordNo, fromStatus, toStatus string, refundedAmount *decimal.Decimal) error {
	if !model.CanRefundTransitionTo(fromStatus, toStatus) {
		return ErrRefundStatusInvalid
	}

	updates := map[string]interface{}{
		"refund_status": toStatus,
	}
	if refundedAmount != nil {
		updates["refunded_amount"] = *refundedAmount
	}

	result := r.conn(tx).WithContext(ctx).
		Model(&model.ConsumeRecord{}).
		Where("record_no = ? AND refund_status = ?", recordNo, fromStatus).
		Updates(updates)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrRefundStatusInvalid
	}
	return nil
}

func (r *ConsumeRecordRepository) List(ctx context.Context, filter ConsumeFilter) ([]*model.ConsumeRecord, int64, error) {
	var records []*model.ConsumeRecord
	var total int64

	query := r.db.WithContext(ctx).Model(&model.ConsumeRecord{})
	if filter.UserID > 0 {
		query = query.Where("user_id = ?", filter.UserID)
	}
	if filter.AccountID > 0 {
		query = query.Where("account_id = ?", filter.AccountID)
	}
	if filter.DeviceID != "" {
		query = query.Where("device_id = ?", filter.DeviceID)
	}
	if filter.Status != "" {
		query = query.Where("consume_status = ?", filter.Status)
	}
	if !filter.From.IsZero() {
		query = query.Where("created_at >= ?", filter.From)
	}
	if !filter.To.IsZero() {
		query = query.Where("created_at < ?", filter.To)
	}

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	page, pageSize := NormalizePage(filter.Page, filter.PageSize)
	err = query.
		Order("id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&records).Error

	return records, total, err
}

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
	ErrTransactionNotFound = errors.New("流水不存在")
	ErrDuplicateOrderNo    = errors.New("业务单号已存在流水")
)

// TransactionFilter 流水查询条件，零值字段不参与过滤
type TransactionFilter struct {
	AccountID int64
	DeviceID  string
	Type      string
	From      time.Time
	To        time.Time
	Page      int
	PageSize  int
}

type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) conn(tx *gorm.DB) *gorm.DB {
	if tx == nil {
		return r.db
	}
	return tx
}

// Append 追加一条流水，写入前做算术校验
func (r *TransactionRepository) Append(ctx context.Context, tx *gorm.DB, trans *model.TransactionRecord) error {
	if err := trans.Verify(); err != nil {
		return err
	}
	if trans.OccurredAt.IsZero() {
		trans.OccurredAt = time.Now()
	}
	err := r.conn(tx).WithContext(ctx).Create(trans).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateOrderNo
	}
	return err
}

func (r *TransactionRepository) GetByTransactionNo(ctx context.Context, transactionNo string) (*model.TransactionRecord, error) {
	var trans model.TransactionRecord
	err := r.db.WithContext(ctx).Where("transaction_no = ?", transactionNo).First(&trans).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return &trans, nil
}

// GetSuccessByOrderNo 按业务单号查询成功流水，不存在返回 nil
func (r *TransactionRepository) GetSuccessByOrderNo(ctx context.Context, orderNo string) (*model.TransactionRecord, error) {
	var trans model.TransactionRecord
	err := r.db.WithContext(ctx).
		Where("order_no = ? AND status = ?", orderNo, model.TransactionStatusSuccess).
		First(&trans).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &trans, nil
}

// SumDebits 统计 [from, to) 内成功扣款总额（正数）
func (r *TransactionRepository) SumDebits(ctx context.Context, tx *gorm.DB, accountID int64, from, to time.Time) (decimal.Decimal, error) {
	var amounts []decimal.Decimal
	err := r.conn(tx).WithContext(ctx).
		Model(&model.TransactionRecord{}).
		Where("account_id = ? AND type = ? AND status = ? AND occurred_at >= ? AND occurred_at < ?",
			accountID, model.TransactionTypeDeduct, model.TransactionStatusSuccess, from, to).
		Pluck("amount", &amounts).Error
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.Sum(decimal.Zero, amounts...).Neg(), nil
}

// SumRefunds 统计某条消费记录的成功退款总额
func (r *TransactionRepository) SumRefunds(ctx context.Context, tx *gorm.DB, consumeRecordNo string) (decimal.Decimal, error) {
	var amounts []decimal.Decimal
	err := r.conn(tx).WithContext(ctx).
		Model(&model.TransactionRecord{}).
		Where("consume_record_no = ? AND type = ? AND status = ?",
			consumeRecordNo, model.TransactionTypeRefund, model.TransactionStatusSuccess).
		Pluck("amount", &amounts).Error
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.Sum(decimal.Zero, amounts...), nil
}

func (r *TransactionRepository) List(ctx context.Context, filter TransactionFilter) ([]*model.TransactionRecord, int64, error) {
	var transactions []*model.TransactionRecord
	var total int64

	query := r.db.WithContext(ctx).Model(&model.TransactionRecord{})
	if filter.AccountID > 0 {
		query = query.Where("account_id = ?", filter.AccountID)
	}
	if filter.DeviceID != "" {
		query = query.Where("device_id = ?", filter.DeviceID)
	}
	if filter.Type != "" {
		query = query.Where("type = ?", filter.Type)
	}
	if !filter.From.IsZero() {
		query = query.Where("occurred_at >= ?", filter.From)
	}
	if !filter.To.IsZero() {
		query = query.Where("occurred_at < ?", filter.To)
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
		Find(&transactions).Error

	return transactions, total, err
}

// ListByAccount 按提交顺序返回账户全部流水，用于对账
func (r *TransactionRepository) ListByAccount(ctx context.Context, accountID int64) ([]*model.TransactionRecord, error) {
	var transactions []*model.TransactionRecord
	err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("id ASC").
		Find(&transactions).Error
	return transactions, err
}

// NormalizePage 页码从 1 开始，每页默认 20 条，最多 200 条
func NormalizePage(page, pageSize int) (int, int) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 200 {
		pageSize = 20
	}
	return page, pageSize
}

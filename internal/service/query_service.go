package service

import (
	"context"

	"consumeledger/internal/bizerr"
	"consumeledger/internal/config"
	"consumeledger/internal/model"
	"consumeledger/internal/repository"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// QueryService 报表查询，不加锁，读到的是已提交的快照
type QueryService struct {
	cfg             *config.Config
	accountRepo     *repository.AccountRepository
	transactionRepo *repository.TransactionRepository
	consumeRepo     *repository.ConsumeRecordRepository
}

func NewQueryService(db *gorm.DB, cfg *config.Config) *QueryService {
	return &QueryService{
		cfg:             cfg,
		accountRepo:     repository.NewAccountRepository(db),
		transactionRepo: repository.NewTransactionRepository(db),
		consumeRepo:     repository.NewConsumeRecordRepository(db),
	}
}

type BalanceView struct {
	AccountID    int64           `json:"account_id"`
	UserID       int64           `json:"user_id"`
	Status       string          `json:"status"`
	Balance      decimal.Decimal `json:"balance"`
	FrozenAmount decimal.Decimal `json:"frozen_amount"`
	Available    decimal.Decimal `json:"available"`
}

type RefundStatusView struct {
	RecordNo       string          `json:"record_no"`
	OrderNo        string          `json:"order_no"`
	FinalAmount    decimal.Decimal `json:"final_amount"`
	RefundedAmount decimal.Decimal `json:"refunded_amount"`
	Refundable     decimal.Decimal `json:"refundable"`
	RefundStatus   string          `json:"refund_status"`
}

type PageResult[T any] struct {
	Items    []T   `json:"items"`
	Total    int64 `json:"total"`
	Page     int   `json:"page"`
	PageSize int   `json:"page_size"`
}

func (s *QueryService) storageCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.Business.StorageTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.cfg.Business.StorageTimeout)
}

func (s *QueryService) GetAccount(ctx context.Context, userID, accountID int64) (*model.Account, error) {
	sctx, cancel := s.storageCtx(ctx)
	defer cancel()

	var (
		account *model.Account
		err     error
	)
	switch {
	case accountID > 0:
		account, err = s.accountRepo.GetByID(sctx, nil, accountID)
	case userID > 0:
		account, err = s.accountRepo.GetByUserID(sctx, userID)
	default:
		return nil, bizerr.InvalidParam("user_id")
	}
	if err != nil {
		return nil, translate(err)
	}
	return account, nil
}

func (s *QueryService) GetBalance(ctx context.Context, userID, accountID int64) (*BalanceView, error) {
	account, err := s.GetAccount(ctx, userID, accountID)
	if err != nil {
		return nil, err
	}
	return &BalanceView{
		AccountID:    account.ID,
		UserID:       account.UserID,
		Status:       account.Status,
		Balance:      account.Balance,
		FrozenAmount: account.FrozenAmount,
		Available:    account.Available(),
	}, nil
}

// ListTransactions 按账户/设备/时间范围/类型查询流水
func (s *QueryService) ListTransactions(ctx context.Context, filter repository.TransactionFilter) (*PageResult[*model.TransactionRecord], error) {
	if filter.AccountID <= 0 && filter.DeviceID == "" {
		return nil, bizerr.InvalidParam("account_id")
	}

	sctx, cancel := s.storageCtx(ctx)
	defer cancel()

	items, total, err := s.transactionRepo.List(sctx, filter)
	if err != nil {
		return nil, translate(err)
	}
	page, pageSize := repository.NormalizePage(filter.Page, filter.PageSize)
	return &PageResult[*model.TransactionRecord]{Items: items, Total: total, Page: page, PageSize: pageSize}, nil
}

func (s *QueryService) ListConsumeRecords(ctx context.Context, filter repository.ConsumeFilter) (*PageResult[*model.ConsumeRecord], error) {
	if filter.UserID <= 0 && filter.AccountID <= 0 && filter.DeviceID == "" {
		return nil, bizerr.InvalidParam("user_id")
	}

	sctx, cancel := s.storageCtx(ctx)
	defer cancel()

	items, total, err := s.consumeRepo.List(sctx, filter)
	if err != nil {
		return nil, translate(err)
	}
	page, pageSize := repository.NormalizePage(filter.Page, filter.PageSize)
	return &PageResult[*model.ConsumeRecord]{Items: items, Total: total, Page: page, PageSize: pageSize}, nil
}

// GetConsumeRecord recordNo 优先，否则按订单号查找
func (s *QueryService) GetConsumeRecord(ctx context.Context, recordNo, orderNo string) (*model.ConsumeRecord, error) {
	sctx, cancel := s.storageCtx(ctx)
	defer cancel()

	var (
		record *model.ConsumeRecord
		err    error
	)
	switch {
	case recordNo != "":
		record, err = s.consumeRepo.GetByRecordNo(sctx, nil, recordNo)
	case orderNo != "":
		record, err = s.consumeRepo.GetByOrderNo(sctx, orderNo)
	default:
		return nil, bizerr.InvalidParam("record_no")
	}
	if err != nil {
		return nil, translate(err)
	}
	return record, nil
}

func (s *QueryService) GetRefundStatus(ctx context.Context, recordNo string) (*RefundStatusView, error) {
	if recordNo == "" {
		return nil, bizerr.InvalidParam("record_no")
	}
	record, err := s.GetConsumeRecord(ctx, recordNo, "")
	if err != nil {
		return nil, err
	}
	return &RefundStatusView{
		RecordNo:       record.RecordNo,
		OrderNo:        record.OrderNo,
		FinalAmount:    record.FinalAmount,
		RefundedAmount: record.RefundedAmount,
		Refundable:     record.Refundable(),
		RefundStatus:   record.RefundStatus,
	}, nil
}

package service

import (
	"context"
	"fmt"
	"time"

	"consumeledger/internal/bizerr"
	"consumeledger/internal/config"
	"consumeledger/internal/infrastructure/lock"
	"consumeledger/internal/model"
	"consumeledger/internal/repository"
	"consumeledger/pkg/idgen"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type RefundService struct {
	ledgerBase
}

func NewRefundService(db *gorm.DB, locks *lock.AccountLockManager, cfg *config.Config, log *zap.Logger) *RefundService {
	return &RefundService{
		ledgerBase: newLedgerBase(db, locks, cfg, log.Named("RefundService")),
	}
}

type RefundRequest struct {
	RecordNo string          `json:"record_no"`
	RefundNo string          `json:"refund_no"` // 退款幂等号，重试时必须保持不变
	Amount   decimal.Decimal `json:"amount"`
	Reason   string          `json:"reason"`
}

func (r *RefundRequest) Validate() error {
	if r.RecordNo == "" {
		return bizerr.InvalidParam("record_no")
	}
	if r.RefundNo == "" {
		return bizerr.InvalidParam("refund_no")
	}
	if !validAmount(r.Amount) {
		return bizerr.InvalidParam("amount")
	}
	return nil
}

type RefundResult struct {
	RefundNo       string          `json:"refund_no"`
	RecordNo       string          `json:"record_no"`
	TransactionNo  string          `json:"transaction_no"`
	Amount         decimal.Decimal `json:"amount"`
	RefundedAmount decimal.Decimal `json:"refunded_amount"`
	RefundStatus   string          `json:"refund_status"`
	BalanceAfter   decimal.Decimal `json:"balance_after"`
}

// ProcessRefund 对一条成功的消费记录退款，支持多次部分退款
func (s *RefundService) ProcessRefund(ctx context.Context, req *RefundRequest) (result *RefundResult, err error) {
	start := time.Now()
	defer func() { observe("refund", start, err) }()

	if err = req.Validate(); err != nil {
		return nil, err
	}

	record, err := s.loadRecord(ctx, req.RecordNo)
	if err != nil {
		return nil, err
	}
	// 已全额退款的记录直接拒绝，无需占位
	if record.RefundStatus == model.RefundStatusFull {
		return nil, bizerr.Wrap(bizerr.ErrAlreadyRefunded, record.RecordNo)
	}

	err = s.runClaimed(ctx, model.ClaimScopeOrder, req.RefundNo, record.AccountID, func() error {
		var lockedErr error
		result, lockedErr = s.refundLocked(ctx, req)
		return lockedErr
	})
	if err != nil {
		s.log.Info("退款失败",
			zap.String("refund_no", req.RefundNo),
			zap.String("record_no", req.RecordNo),
			zap.String("code", bizerr.CodeOf(err)),
			zap.Error(err))
		return nil, err
	}

	s.log.Info("退款成功",
		zap.String("refund_no", req.RefundNo),
		zap.String("record_no", req.RecordNo),
		zap.String("amount", money(req.Amount)),
		zap.String("refund_status", result.RefundStatus))
	return result, nil
}

func (s *RefundService) loadRecord(ctx context.Context, recordNo string) (*model.ConsumeRecord, error) {
	sctx, cancel := s.storageCtx(ctx)
	defer cancel()

	record, err := s.consumeRepo.GetByRecordNo(sctx, nil, recordNo)
	if err != nil {
		return nil, translate(err)
	}
	return record, nil
}

func (s *RefundService) refundLocked(ctx context.Context, req *RefundRequest) (*RefundResult, error) {
	record, err := s.loadRecord(ctx, req.RecordNo)
	if err != nil {
		return nil, err
	}

	switch {
	case record.RefundStatus == model.RefundStatusFull:
		return nil, bizerr.Wrap(bizerr.ErrAlreadyRefunded, record.RecordNo)
	case record.ConsumeStatus != model.ConsumeStatusSuccess:
		return nil, bizerr.Wrap(bizerr.ErrRefundNotAllowed, "消费状态 "+record.ConsumeStatus)
	case !model.CanRefundTransitionTo(record.RefundStatus, model.RefundStatusProcessing):
		return nil, bizerr.Wrap(bizerr.ErrRefundNotAllowed, "退款状态 "+record.RefundStatus)
	}

	// 以流水汇总为准核对累计退款额
	sctx, cancel := s.storageCtx(ctx)
	refunded, err := s.transactionRepo.SumRefunds(sctx, nil, record.RecordNo)
	cancel()
	if err != nil {
		return nil, translate(err)
	}
	if !refunded.Equal(record.RefundedAmount) {
		return nil, bizerr.Wrap(bizerr.ErrInvariantViolation,
			fmt.Sprintf("累计退款 %s 与流水汇总 %s 不一致", money(record.RefundedAmount), money(refunded)))
	}

	remaining := record.FinalAmount.Sub(refunded)
	if req.Amount.GreaterThan(remaining) {
		return nil, bizerr.Wrap(bizerr.ErrRefundExceedsCharge,
			fmt.Sprintf("可退 %s，申请 %s", money(remaining), money(req.Amount)))
	}

	account, err := s.loadAccount(ctx, record.AccountID)
	if err != nil {
		return nil, err
	}
	if !account.CanCredit() {
		return nil, bizerr.Wrap(bizerr.ErrAccountUnavailable, account.Status)
	}

	newRefunded := refunded.Add(req.Amount)
	targetStatus := model.RefundStatusPartial
	if newRefunded.Equal(record.FinalAmount) {
		targetStatus = model.RefundStatusFull
	}

	trans := &model.TransactionRecord{
		TransactionNo:   idgen.GenerateTransactionNo(),
		AccountID:       account.ID,
		UserID:          account.UserID,
		Type:            model.TransactionTypeRefund,
		Amount:          req.Amount,
		BalanceBefore:   account.Balance,
		BalanceAfter:    account.Balance.Add(req.Amount),
		FrozenDelta:     decimal.Zero,
		FrozenAfter:     account.FrozenAmount,
		OrderNo:         req.RefundNo,
		ConsumeRecordNo: record.RecordNo,
		DeviceID:        record.DeviceID,
		Status:          model.TransactionStatusSuccess,
		Remark:          truncate(fmt.Sprintf("退款-%s-%s", record.OrderNo, req.Reason), 256),
	}

	err = s.inTx(ctx, func(ctx context.Context, tx *gorm.DB) error {
		if err := s.consumeRepo.UpdateRefundStatus(ctx, tx, record.RecordNo,
			record.RefundStatus, model.RefundStatusProcessing, nil); err != nil {
			return fmt.Errorf("更新退款状态失败: %w", err)
		}

		if err := s.transactionRepo.Append(ctx, tx, trans); err != nil {
			return fmt.Errorf("记录流水失败: %w", err)
		}

		if _, err := s.accountRepo.Apply(ctx, tx, account, repository.AccountChange{
			BalanceDelta: req.Amount,
		}); err != nil {
			return fmt.Errorf("退款到账失败: %w", err)
		}

		if err := s.consumeRepo.UpdateRefundStatus(ctx, tx, record.RecordNo,
			model.RefundStatusProcessing, targetStatus, &newRefunded); err != nil {
			return fmt.Errorf("更新退款状态失败: %w", err)
		}

		if err := s.guard.Commit(ctx, tx, model.ClaimScopeOrder, req.RefundNo); err != nil {
			return fmt.Errorf("确认幂等占位失败: %w", err)
		}

		return s.publish(ctx, tx, model.EventRefundSucceeded, &LedgerEvent{
			AccountID:     account.ID,
			UserID:        account.UserID,
			OrderNo:       req.RefundNo,
			RecordNo:      record.RecordNo,
			TransactionNo: trans.TransactionNo,
			Amount:        req.Amount,
			BalanceAfter:  trans.BalanceAfter,
			Status:        targetStatus,
			Reason:        req.Reason,
			OccurredAt:    trans.OccurredAt,
		})
	})
	if err != nil {
		return nil, translate(err)
	}

	return &RefundResult{
		RefundNo:       req.RefundNo,
		RecordNo:       record.RecordNo,
		TransactionNo:  trans.TransactionNo,
		Amount:         req.Amount,
		RefundedAmount: newRefunded,
		RefundStatus:   targetStatus,
		BalanceAfter:   trans.BalanceAfter,
	}, nil
}

package service

import (
	"context"
	"fmt"
	"time"

	"consumeledger/internal/bizerr"
	"consumeledger/internal/config"
	"consumeledger/internal/infrastructure/lock"
	"consumeledger/internal/model"
	"consumeledger/internal/pricing"
	"consumeledger/internal/repository"
	"consumeledger/pkg/idgen"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ConsumeService 消费扣款编排
type ConsumeService struct {
	ledgerBase
	policy pricing.Policy
}

func NewConsumeService(db *gorm.DB, locks *lock.AccountLockManager, policy pricing.Policy, cfg *config.Config, log *zap.Logger) *ConsumeService {
	return &ConsumeService{
		ledgerBase: newLedgerBase(db, locks, cfg, log.Named("ConsumeService")),
		policy:     policy,
	}
}

type ConsumeRequest struct {
	UserID      int64           `json:"user_id"`
	AccountID   int64           `json:"account_id"` // 为 0 时按 user_id 查找
	DeviceID    string          `json:"device_id"`
	Amount      decimal.Decimal `json:"amount"`
	OrderNo     string          `json:"order_no"`
	ConsumeMode string          `json:"consume_mode"`
}

// Validate 加锁前的参数校验
func (r *ConsumeRequest) Validate() error {
	if r.UserID <= 0 {
		return bizerr.InvalidParam("user_id")
	}
	if r.OrderNo == "" {
		return bizerr.InvalidParam("order_no")
	}
	if len(r.OrderNo) > 64 {
		return bizerr.Wrap(bizerr.ErrInvalidParameter, "order_no 过长")
	}
	if !validAmount(r.Amount) {
		return bizerr.InvalidParam("amount")
	}
	return nil
}

// ProcessConsume 执行一次消费扣款
//
// 成功时返回已提交的消费记录；任何失败都不会留下余额变动，幂等占位会被释放。
func (s *ConsumeService) ProcessConsume(ctx context.Context, req *ConsumeRequest) (record *model.ConsumeRecord, err error) {
	start := time.Now()
	defer func() { observe("consume", start, err) }()

	if err = req.Validate(); err != nil {
		return nil, err
	}

	account, err := s.resolveAccount(ctx, req.UserID, req.AccountID)
	if err != nil {
		return nil, err
	}

	err = s.runClaimed(ctx, model.ClaimScopeOrder, req.OrderNo, account.ID, func() error {
		var lockedErr error
		record, lockedErr = s.consumeLocked(ctx, req, account.ID)
		return lockedErr
	})
	if err != nil {
		s.log.Info("消费失败",
			zap.String("order_no", req.OrderNo),
			zap.Int64("account_id", account.ID),
			zap.String("code", bizerr.CodeOf(err)),
			zap.Error(err))
		return nil, err
	}

	s.log.Info("消费成功",
		zap.String("order_no", req.OrderNo),
		zap.String("record_no", record.RecordNo),
		zap.Int64("account_id", record.AccountID),
		zap.String("final_amount", money(record.FinalAmount)))
	return record, nil
}

func (s *ConsumeService) consumeLocked(ctx context.Context, req *ConsumeRequest, accountID int64) (*model.ConsumeRecord, error) {
	// 持锁后重新读取，拿到最新余额和版本号
	account, err := s.loadAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if !account.CanDebit() {
		return nil, bizerr.Wrap(bizerr.ErrAccountUnavailable, account.Status)
	}

	priced, err := s.evaluate(ctx, pricing.Request{
		AccountID:   account.ID,
		UserID:      req.UserID,
		DeviceID:    req.DeviceID,
		ConsumeMode: req.ConsumeMode,
		Amount:      req.Amount,
	})
	if err != nil {
		return nil, err
	}
	finalAmount := priced.FinalAmount

	if account.Available().LessThan(finalAmount) {
		return nil, bizerr.Wrap(bizerr.ErrInsufficientBalance,
			fmt.Sprintf("可用余额 %s，需要 %s", money(account.Available()), money(finalAmount)))
	}

	if err := s.checkLimits(ctx, account, finalAmount); err != nil {
		return nil, err
	}

	record := &model.ConsumeRecord{
		RecordNo:       idgen.GenerateRecordNo(),
		OrderNo:        req.OrderNo,
		AccountID:      account.ID,
		UserID:         account.UserID,
		DeviceID:       req.DeviceID,
		ConsumeMode:    req.ConsumeMode,
		OriginalAmount: req.Amount,
		FinalAmount:    finalAmount,
		DiscountAmount: priced.DiscountAmount,
		RefundedAmount: decimal.Zero,
		ConsumeStatus:  model.ConsumeStatusPending,
		RefundStatus:   model.RefundStatusNone,
	}

	var updated *model.Account
	err = s.inTx(ctx, func(ctx context.Context, tx *gorm.DB) error {
		if err := s.consumeRepo.Create(ctx, tx, record); err != nil {
			return fmt.Errorf("写入消费记录失败: %w", err)
		}

		trans := &model.TransactionRecord{
			TransactionNo:   idgen.GenerateTransactionNo(),
			AccountID:       account.ID,
			UserID:          account.UserID,
			Type:            model.TransactionTypeDeduct,
			Amount:          finalAmount.Neg(),
			BalanceBefore:   account.Balance,
			BalanceAfter:    account.Balance.Sub(finalAmount),
			FrozenDelta:     decimal.Zero,
			FrozenAfter:     account.FrozenAmount,
			OrderNo:         req.OrderNo,
			ConsumeRecordNo: record.RecordNo,
			DeviceID:        req.DeviceID,
			Status:          model.TransactionStatusSuccess,
			Remark:          fmt.Sprintf("消费-%s", req.ConsumeMode),
		}
		if err := s.transactionRepo.Append(ctx, tx, trans); err != nil {
			return fmt.Errorf("记录流水失败: %w", err)
		}

		var err error
		updated, err = s.accountRepo.Apply(ctx, tx, account, repository.AccountChange{
			BalanceDelta: finalAmount.Neg(),
			Consumed:     finalAmount,
		})
		if err != nil {
			return fmt.Errorf("扣款失败: %w", err)
		}

		if err := s.consumeRepo.MarkSuccess(ctx, tx, record.RecordNo, trans.TransactionNo); err != nil {
			return fmt.Errorf("更新消费记录失败: %w", err)
		}
		record.ConsumeStatus = model.ConsumeStatusSuccess
		record.TransactionNo = trans.TransactionNo

		if err := s.guard.Commit(ctx, tx, model.ClaimScopeOrder, req.OrderNo); err != nil {
			return fmt.Errorf("确认幂等占位失败: %w", err)
		}

		return s.publish(ctx, tx, model.EventConsumeSucceeded, &LedgerEvent{
			AccountID:     account.ID,
			UserID:        account.UserID,
			OrderNo:       req.OrderNo,
			RecordNo:      record.RecordNo,
			TransactionNo: trans.TransactionNo,
			Amount:        finalAmount,
			BalanceAfter:  trans.BalanceAfter,
			Status:        model.ConsumeStatusSuccess,
			OccurredAt:    trans.OccurredAt,
		})
	})

	if err != nil {
		record.ConsumeStatus = model.ConsumeStatusFailed
		record.TransactionNo = ""
		s.recordFailure(ctx, record, err)
		return nil, translate(err)
	}

	s.log.Debug("账户余额已更新",
		zap.Int64("account_id", updated.ID),
		zap.String("balance", money(updated.Balance)),
		zap.Int("version", updated.Version))
	return record, nil
}

// evaluate 调用定价策略，超时或异常都映射为 ErrPricingFailed
// 超时后 pctx 被取消，策略 goroutine 自行退出；ch 带缓冲，写入不会阻塞
func (s *ConsumeService) evaluate(ctx context.Context, req pricing.Request) (pricing.Result, error) {
	timeout := s.cfg.Business.PricingTimeout
	if timeout <= 0 {
		timeout = time.Second
	}
	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		res pricing.Result
		err error
	}
	ch := make(chan outcome, 1)
	go func() {
		res, err := s.policy.Evaluate(pctx, req)
		ch <- outcome{res: res, err: err}
	}()

	var out outcome
	select {
	case out = <-ch:
	case <-pctx.Done():
		return pricing.Result{}, bizerr.WithCause(bizerr.ErrPricingFailed, pctx.Err())
	}

	if out.err != nil {
		return pricing.Result{}, bizerr.WithCause(bizerr.ErrPricingFailed, out.err)
	}
	res := out.res
	if res.FinalAmount.IsNegative() {
		return pricing.Result{}, bizerr.Wrap(bizerr.ErrPricingFailed, "最终金额为负")
	}
	if !res.FinalAmount.Equal(res.FinalAmount.Truncate(2)) {
		return pricing.Result{}, bizerr.Wrap(bizerr.ErrPricingFailed, "最终金额精度超过分")
	}
	if !req.Amount.Sub(res.FinalAmount).Equal(res.DiscountAmount) {
		return pricing.Result{}, bizerr.Wrap(bizerr.ErrPricingFailed, "折扣金额与原价不一致")
	}
	return res, nil
}

// checkLimits 当日/当月已成功扣款（不扣除退款）加本次金额不得超过限额
func (s *ConsumeService) checkLimits(ctx context.Context, account *model.Account, amount decimal.Decimal) error {
	if !account.DailyLimit.Valid && !account.MonthlyLimit.Valid {
		return nil
	}

	sctx, cancel := s.storageCtx(ctx)
	defer cancel()

	now := time.Now()
	if account.DailyLimit.Valid {
		dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
		used, err := s.transactionRepo.SumDebits(sctx, nil, account.ID, dayStart, dayStart.AddDate(0, 0, 1))
		if err != nil {
			return translate(err)
		}
		if used.Add(amount).GreaterThan(account.DailyLimit.Decimal) {
			return bizerr.Wrap(bizerr.ErrLimitExceeded, limitDetail("日", account.DailyLimit.Decimal, used, amount))
		}
	}

	if account.MonthlyLimit.Valid {
		monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
		used, err := s.transactionRepo.SumDebits(sctx, nil, account.ID, monthStart, monthStart.AddDate(0, 1, 0))
		if err != nil {
			return translate(err)
		}
		if used.Add(amount).GreaterThan(account.MonthlyLimit.Decimal) {
			return bizerr.Wrap(bizerr.ErrLimitExceeded, limitDetail("月", account.MonthlyLimit.Decimal, used, amount))
		}
	}
	return nil
}

// recordFailure 事务回滚后补写一条 FAILED 消费记录，仅用于审计
func (s *ConsumeService) recordFailure(ctx context.Context, record *model.ConsumeRecord, cause error) {
	record.ID = 0
	record.FailReason = truncate(cause.Error(), 256)

	sctx, cancel := s.storageCtx(context.WithoutCancel(ctx))
	defer cancel()

	if err := s.consumeRepo.Create(sctx, nil, record); err != nil {
		s.log.Error("写入失败消费记录失败",
			zap.String("record_no", record.RecordNo), zap.Error(err))
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

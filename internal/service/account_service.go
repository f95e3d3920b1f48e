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

// AccountService 账户生命周期、充值、状态冻结与金额预留
type AccountService struct {
	ledgerBase
}

func NewAccountService(db *gorm.DB, locks *lock.AccountLockManager, cfg *config.Config, log *zap.Logger) *AccountService {
	return &AccountService{
		ledgerBase: newLedgerBase(db, locks, cfg, log.Named("AccountService")),
	}
}

func nullLimit(v *decimal.Decimal) (decimal.NullDecimal, error) {
	if v == nil {
		return decimal.NullDecimal{}, nil
	}
	if v.IsNegative() || !v.Equal(v.Truncate(2)) {
		return decimal.NullDecimal{}, bizerr.InvalidParam("limit")
	}
	return decimal.NullDecimal{Decimal: *v, Valid: true}, nil
}

// OpenAccount 为用户开户，已存在时直接返回
func (s *AccountService) OpenAccount(ctx context.Context, userID int64, dailyLimit, monthlyLimit *decimal.Decimal) (account *model.Account, err error) {
	start := time.Now()
	defer func() { observe("open_account", start, err) }()

	if userID <= 0 {
		return nil, bizerr.InvalidParam("user_id")
	}
	daily, err := nullLimit(dailyLimit)
	if err != nil {
		return nil, err
	}
	monthly, err := nullLimit(monthlyLimit)
	if err != nil {
		return nil, err
	}

	sctx, cancel := s.storageCtx(ctx)
	defer cancel()

	account, err = s.accountRepo.GetOrCreate(sctx, userID, daily, monthly)
	if err != nil {
		return nil, translate(err)
	}
	return account, nil
}

type RechargeRequest struct {
	UserID    int64           `json:"user_id"`
	AccountID int64           `json:"account_id"`
	Amount    decimal.Decimal `json:"amount"`
	OrderNo   string          `json:"order_no"`
	Remark    string          `json:"remark"`
}

func (r *RechargeRequest) Validate() error {
	if r.UserID <= 0 && r.AccountID <= 0 {
		return bizerr.InvalidParam("user_id")
	}
	if r.OrderNo == "" {
		return bizerr.InvalidParam("order_no")
	}
	if !validAmount(r.Amount) {
		return bizerr.InvalidParam("amount")
	}
	return nil
}

// Recharge 入账，冻结状态的账户允许充值
func (s *AccountService) Recharge(ctx context.Context, req *RechargeRequest) (trans *model.TransactionRecord, err error) {
	start := time.Now()
	defer func() { observe("recharge", start, err) }()

	if err = req.Validate(); err != nil {
		return nil, err
	}

	account, err := s.resolveAccount(ctx, req.UserID, req.AccountID)
	if err != nil {
		return nil, err
	}

	err = s.runClaimed(ctx, model.ClaimScopeOrder, req.OrderNo, account.ID, func() error {
		current, err := s.loadAccount(ctx, account.ID)
		if err != nil {
			return err
		}
		if !current.CanCredit() {
			return bizerr.Wrap(bizerr.ErrAccountUnavailable, current.Status)
		}

		trans = &model.TransactionRecord{
			TransactionNo: idgen.GenerateTransactionNo(),
			AccountID:     current.ID,
			UserID:        current.UserID,
			Type:          model.TransactionTypeRecharge,
			Amount:        req.Amount,
			BalanceBefore: current.Balance,
			BalanceAfter:  current.Balance.Add(req.Amount),
			FrozenDelta:   decimal.Zero,
			FrozenAfter:   current.FrozenAmount,
			OrderNo:       req.OrderNo,
			Status:        model.TransactionStatusSuccess,
			Remark:        truncate(req.Remark, 256),
		}

		return translate(s.inTx(ctx, func(ctx context.Context, tx *gorm.DB) error {
			if err := s.transactionRepo.Append(ctx, tx, trans); err != nil {
				return fmt.Errorf("记录流水失败: %w", err)
			}
			if _, err := s.accountRepo.Apply(ctx, tx, current, repository.AccountChange{
				BalanceDelta: req.Amount,
				Recharged:    req.Amount,
			}); err != nil {
				return fmt.Errorf("充值入账失败: %w", err)
			}
			if err := s.guard.Commit(ctx, tx, model.ClaimScopeOrder, req.OrderNo); err != nil {
				return fmt.Errorf("确认幂等占位失败: %w", err)
			}
			return s.publish(ctx, tx, model.EventRecharged, &LedgerEvent{
				AccountID:     current.ID,
				UserID:        current.UserID,
				OrderNo:       req.OrderNo,
				TransactionNo: trans.TransactionNo,
				Amount:        req.Amount,
				BalanceAfter:  trans.BalanceAfter,
				OccurredAt:    trans.OccurredAt,
			})
		}))
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("充值成功",
		zap.String("order_no", req.OrderNo),
		zap.Int64("account_id", trans.AccountID),
		zap.String("amount", money(req.Amount)))
	return trans, nil
}

// changeStatus 加锁修改账户状态并写出箱事件，apply 返回目标状态，
// 返回空字符串表示无需变更
func (s *AccountService) changeStatus(ctx context.Context, accountID int64, reason, eventType string,
	apply func(acc *model.Account) (string, error)) (*model.Account, error) {

	var result *model.Account
	err := s.locks.WithAccountLock(ctx, accountID, func() error {
		account, err := s.loadAccount(ctx, accountID)
		if err != nil {
			return err
		}

		target, err := apply(account)
		if err != nil {
			return err
		}
		if target == "" {
			result = account
			return nil
		}

		return translate(s.inTx(ctx, func(ctx context.Context, tx *gorm.DB) error {
			updated, err := s.accountRepo.UpdateStatus(ctx, tx, account, target, reason)
			if err != nil {
				return err
			}
			result = updated
			return s.publish(ctx, tx, eventType, &LedgerEvent{
				AccountID:    updated.ID,
				UserID:       updated.UserID,
				Amount:       decimal.Zero,
				BalanceAfter: updated.Balance,
				Status:       target,
				Reason:       reason,
			})
		}))
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// FreezeAccount ACTIVE -> FROZEN，已冻结时不做变更
func (s *AccountService) FreezeAccount(ctx context.Context, accountID int64, reason string) (account *model.Account, err error) {
	start := time.Now()
	defer func() { observe("freeze", start, err) }()

	if accountID <= 0 {
		return nil, bizerr.InvalidParam("account_id")
	}

	account, err = s.changeStatus(ctx, accountID, reason, model.EventAccountFrozen, func(acc *model.Account) (string, error) {
		switch acc.Status {
		case model.AccountStatusActive:
			return model.AccountStatusFrozen, nil
		case model.AccountStatusFrozen:
			return "", nil
		default:
			return "", bizerr.Wrap(bizerr.ErrAccountUnavailable, acc.Status)
		}
	})
	if err == nil {
		s.log.Info("账户已冻结", zap.Int64("account_id", accountID), zap.String("reason", reason))
	}
	return account, err
}

// UnfreezeAccount FROZEN -> ACTIVE，已是 ACTIVE 时不做变更
func (s *AccountService) UnfreezeAccount(ctx context.Context, accountID int64) (account *model.Account, err error) {
	start := time.Now()
	defer func() { observe("unfreeze", start, err) }()

	if accountID <= 0 {
		return nil, bizerr.InvalidParam("account_id")
	}

	account, err = s.changeStatus(ctx, accountID, "", model.EventAccountUnfrozen, func(acc *model.Account) (string, error) {
		switch acc.Status {
		case model.AccountStatusFrozen:
			return model.AccountStatusActive, nil
		case model.AccountStatusActive:
			return "", nil
		default:
			return "", bizerr.Wrap(bizerr.ErrAccountUnavailable, acc.Status)
		}
	})
	if err == nil {
		s.log.Info("账户已解冻", zap.Int64("account_id", accountID))
	}
	return account, err
}

// CloseAccount 关户，存在预留金额时不允许
func (s *AccountService) CloseAccount(ctx context.Context, accountID int64, reason string) (account *model.Account, err error) {
	start := time.Now()
	defer func() { observe("close", start, err) }()

	if accountID <= 0 {
		return nil, bizerr.InvalidParam("account_id")
	}

	return s.changeStatus(ctx, accountID, reason, model.EventAccountClosed, func(acc *model.Account) (string, error) {
		if acc.Status == model.AccountStatusClosed {
			return "", nil
		}
		if !acc.FrozenAmount.IsZero() {
			return "", bizerr.Wrap(bizerr.ErrAccountUnavailable,
				fmt.Sprintf("仍有预留金额 %s", money(acc.FrozenAmount)))
		}
		return model.AccountStatusClosed, nil
	})
}

// SetLimits 设置日/月限额，nil 表示不限
func (s *AccountService) SetLimits(ctx context.Context, accountID int64, dailyLimit, monthlyLimit *decimal.Decimal) (account *model.Account, err error) {
	start := time.Now()
	defer func() { observe("set_limits", start, err) }()

	if accountID <= 0 {
		return nil, bizerr.InvalidParam("account_id")
	}
	daily, err := nullLimit(dailyLimit)
	if err != nil {
		return nil, err
	}
	monthly, err := nullLimit(monthlyLimit)
	if err != nil {
		return nil, err
	}

	err = s.locks.WithAccountLock(ctx, accountID, func() error {
		current, err := s.loadAccount(ctx, accountID)
		if err != nil {
			return err
		}
		if current.Status == model.AccountStatusClosed {
			return bizerr.Wrap(bizerr.ErrAccountUnavailable, current.Status)
		}

		sctx, cancel := s.storageCtx(ctx)
		defer cancel()
		account, err = s.accountRepo.UpdateLimits(sctx, nil, current, daily, monthly)
		return translate(err)
	})
	if err != nil {
		return nil, err
	}
	return account, nil
}

type HoldRequest struct {
	AccountID int64           `json:"account_id"`
	Amount    decimal.Decimal `json:"amount"`
	RefNo     string          `json:"ref_no"` // 每次预留/释放使用独立的单号
	Remark    string          `json:"remark"`
}

func (r *HoldRequest) Validate() error {
	if r.AccountID <= 0 {
		return bizerr.InvalidParam("account_id")
	}
	if r.RefNo == "" {
		return bizerr.InvalidParam("ref_no")
	}
	if !validAmount(r.Amount) {
		return bizerr.InvalidParam("amount")
	}
	return nil
}

// HoldAmount 预留金额，增加 frozen_amount，余额不变
func (s *AccountService) HoldAmount(ctx context.Context, req *HoldRequest) (account *model.Account, err error) {
	start := time.Now()
	defer func() { observe("hold", start, err) }()

	if err = req.Validate(); err != nil {
		return nil, err
	}
	return s.adjustHold(ctx, req, req.Amount)
}

// ReleaseHold 释放预留金额
func (s *AccountService) ReleaseHold(ctx context.Context, req *HoldRequest) (account *model.Account, err error) {
	start := time.Now()
	defer func() { observe("release_hold", start, err) }()

	if err = req.Validate(); err != nil {
		return nil, err
	}
	return s.adjustHold(ctx, req, req.Amount.Neg())
}

func (s *AccountService) adjustHold(ctx context.Context, req *HoldRequest, delta decimal.Decimal) (*model.Account, error) {
	var result *model.Account
	err := s.runClaimed(ctx, model.ClaimScopeOrder, req.RefNo, req.AccountID, func() error {
		current, err := s.loadAccount(ctx, req.AccountID)
		if err != nil {
			return err
		}

		if delta.IsPositive() {
			if !current.CanDebit() {
				return bizerr.Wrap(bizerr.ErrAccountUnavailable, current.Status)
			}
			if current.Available().LessThan(delta) {
				return bizerr.Wrap(bizerr.ErrInsufficientBalance,
					fmt.Sprintf("可用余额 %s，预留 %s", money(current.Available()), money(delta)))
			}
		} else {
			if current.Status == model.AccountStatusClosed {
				return bizerr.Wrap(bizerr.ErrAccountUnavailable, current.Status)
			}
			if current.FrozenAmount.LessThan(delta.Neg()) {
				return bizerr.Wrap(bizerr.ErrInvalidParameter,
					fmt.Sprintf("预留金额 %s，释放 %s", money(current.FrozenAmount), money(delta.Neg())))
			}
		}

		trans := &model.TransactionRecord{
			TransactionNo: idgen.GenerateTransactionNo(),
			AccountID:     current.ID,
			UserID:        current.UserID,
			Type:          model.TransactionTypeFreezeAdjust,
			Amount:        decimal.Zero,
			BalanceBefore: current.Balance,
			BalanceAfter:  current.Balance,
			FrozenDelta:   delta,
			FrozenAfter:   current.FrozenAmount.Add(delta),
			OrderNo:       req.RefNo,
			Status:        model.TransactionStatusSuccess,
			Remark:        truncate(req.Remark, 256),
		}

		return translate(s.inTx(ctx, func(ctx context.Context, tx *gorm.DB) error {
			if err := s.transactionRepo.Append(ctx, tx, trans); err != nil {
				return fmt.Errorf("记录流水失败: %w", err)
			}
			updated, err := s.accountRepo.Apply(ctx, tx, current, repository.AccountChange{FrozenDelta: delta})
			if err != nil {
				return fmt.Errorf("调整预留金额失败: %w", err)
			}
			result = updated
			if err := s.guard.Commit(ctx, tx, model.ClaimScopeOrder, req.RefNo); err != nil {
				return fmt.Errorf("确认幂等占位失败: %w", err)
			}
			frozenAfter := trans.FrozenAfter
			return s.publish(ctx, tx, model.EventHoldAdjusted, &LedgerEvent{
				AccountID:     current.ID,
				UserID:        current.UserID,
				OrderNo:       req.RefNo,
				TransactionNo: trans.TransactionNo,
				Amount:        delta,
				BalanceAfter:  trans.BalanceAfter,
				FrozenAfter:   &frozenAfter,
				OccurredAt:    trans.OccurredAt,
			})
		}))
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

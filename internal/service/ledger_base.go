package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"consumeledger/internal/bizerr"
	"consumeledger/internal/config"
	"consumeledger/internal/infrastructure/lock"
	"consumeledger/internal/metrics"
	"consumeledger/internal/model"
	"consumeledger/internal/repository"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ledgerBase 各账务服务共享的依赖与工具方法
type ledgerBase struct {
	db              *gorm.DB
	cfg             *config.Config
	locks           *lock.AccountLockManager
	guard           *IdempotencyGuard
	log             *zap.Logger
	accountRepo     *repository.AccountRepository
	transactionRepo *repository.TransactionRepository
	consumeRepo     *repository.ConsumeRecordRepository
	outboxRepo      *repository.OutboxRepository
}

func newLedgerBase(db *gorm.DB, locks *lock.AccountLockManager, cfg *config.Config, log *zap.Logger) ledgerBase {
	return ledgerBase{
		db:              db,
		cfg:             cfg,
		locks:           locks,
		guard:           NewIdempotencyGuard(db, cfg.Business.StorageTimeout, log),
		log:             log,
		accountRepo:     repository.NewAccountRepository(db),
		transactionRepo: repository.NewTransactionRepository(db),
		consumeRepo:     repository.NewConsumeRecordRepository(db),
		outboxRepo:      repository.NewOutboxRepository(db),
	}
}

// storageCtx 单次存储调用的超时
func (b *ledgerBase) storageCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if b.cfg.Business.StorageTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, b.cfg.Business.StorageTimeout)
}

// inTx 在一个存储事务内执行 fn，fn 返回错误时整体回滚
func (b *ledgerBase) inTx(ctx context.Context, fn func(ctx context.Context, tx *gorm.DB) error) error {
	sctx, cancel := b.storageCtx(ctx)
	defer cancel()

	return b.db.WithContext(sctx).Transaction(func(tx *gorm.DB) error {
		return fn(sctx, tx)
	})
}

func (b *ledgerBase) loadAccount(ctx context.Context, accountID int64) (*model.Account, error) {
	sctx, cancel := b.storageCtx(ctx)
	defer cancel()

	account, err := b.accountRepo.GetByID(sctx, nil, accountID)
	if err != nil {
		return nil, translate(err)
	}
	return account, nil
}

// resolveAccount accountID 为 0 时按 userID 查找；两者都给出时必须一致
func (b *ledgerBase) resolveAccount(ctx context.Context, userID, accountID int64) (*model.Account, error) {
	if accountID > 0 {
		account, err := b.loadAccount(ctx, accountID)
		if err != nil {
			return nil, err
		}
		if userID > 0 && account.UserID != userID {
			return nil, bizerr.Wrap(bizerr.ErrInvalidParameter, "account_id 与 user_id 不匹配")
		}
		return account, nil
	}

	sctx, cancel := b.storageCtx(ctx)
	defer cancel()

	account, err := b.accountRepo.GetByUserID(sctx, userID)
	if err != nil {
		return nil, translate(err)
	}
	return account, nil
}

// publish 同事务写入账务事件，按账户分区保证顺序
func (b *ledgerBase) publish(ctx context.Context, tx *gorm.DB, eventType string, event *LedgerEvent) error {
	event.EventType = eventType
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}
	key := strconv.FormatInt(event.AccountID, 10)
	return b.outboxRepo.Enqueue(ctx, tx, b.cfg.Kafka.Topic.LedgerEvent, eventType, key, event)
}

func observe(operation string, start time.Time, err error) {
	metrics.RecordOperation(operation, bizerr.CodeOf(err), time.Since(start).Seconds())
}

// validAmount 金额必须为正且最多两位小数
func validAmount(amount decimal.Decimal) bool {
	return amount.IsPositive() && amount.Equal(amount.Truncate(2))
}

// translate 把仓储层错误映射为带类别的业务错误
func translate(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := bizerr.As(err); ok {
		return err
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return bizerr.WithCause(bizerr.ErrStorageUnavailable, err)
	case errors.Is(err, repository.ErrAccountNotFound):
		return bizerr.ErrAccountNotFound
	case errors.Is(err, repository.ErrConsumeRecordNotFound):
		return bizerr.ErrRecordNotFound
	case errors.Is(err, repository.ErrOptimisticLock):
		return bizerr.WithCause(bizerr.ErrAccountBusy, err)
	case errors.Is(err, repository.ErrBalanceNotEnough):
		return bizerr.ErrInsufficientBalance
	case errors.Is(err, repository.ErrDuplicateOrderNo):
		return bizerr.WithCause(bizerr.ErrDuplicateOrder, err)
	case errors.Is(err, repository.ErrRefundStatusInvalid):
		return bizerr.WithCause(bizerr.ErrRefundNotAllowed, err)
	case errors.Is(err, repository.ErrFrozenOutOfRange),
		errors.Is(err, repository.ErrNegativeRunTotals),
		errors.Is(err, repository.ErrConsumeStatusInvalid),
		errors.Is(err, model.ErrLedgerImbalance):
		return bizerr.WithCause(bizerr.ErrInvariantViolation, err)
	default:
		return bizerr.WithCause(bizerr.ErrStorageUnavailable, err)
	}
}

func money(v decimal.Decimal) string {
	return v.StringFixed(2)
}

func limitDetail(kind string, limit, used, amount decimal.Decimal) string {
	return fmt.Sprintf("%s限额 %s，已用 %s，本次 %s", kind, money(limit), money(used), money(amount))
}

// runClaimed 占位 -> 加锁执行 fn；fn 失败时释放占位
func (b *ledgerBase) runClaimed(ctx context.Context, scope, bizNo string, accountID int64, fn func() error) error {
	if err := b.guard.Reserve(ctx, scope, bizNo); err != nil {
		return err
	}

	err := b.locks.WithAccountLock(ctx, accountID, fn)
	if err != nil {
		b.guard.Release(ctx, scope, bizNo)
	}
	return err
}

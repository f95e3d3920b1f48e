package service

import (
	"context"
	"time"

	"consumeledger/internal/bizerr"
	"consumeledger/internal/repository"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// IdempotencyGuard 基于唯一索引的幂等占位
//
// 占位在拿账户锁之前进行，跨进程安全。失败的尝试会释放占位，
// 同一业务单号可以重新提交；成功的占位与业务变更同事务提交，永久保留。
type IdempotencyGuard struct {
	repo    *repository.IdempotencyRepository
	timeout time.Duration
	log     *zap.Logger
}

func NewIdempotencyGuard(db *gorm.DB, timeout time.Duration, log *zap.Logger) *IdempotencyGuard {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &IdempotencyGuard{
		repo:    repository.NewIdempotencyRepository(db),
		timeout: timeout,
		log:     log.Named("IdempotencyGuard"),
	}
}

func (g *IdempotencyGuard) tryClaim(ctx context.Context, scope, bizNo string) (bool, error) {
	cctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	return g.repo.TryClaim(cctx, scope, bizNo)
}

// Reserve 占位成功返回 nil，已被占用返回 ErrDuplicateOrder
func (g *IdempotencyGuard) Reserve(ctx context.Context, scope, bizNo string) error {
	ok, err := g.tryClaim(ctx, scope, bizNo)
	if err != nil {
		// 存储抖动只重试一次
		g.log.Warn("幂等占位失败，重试一次",
			zap.String("scope", scope), zap.String("biz_no", bizNo), zap.Error(err))
		ok, err = g.tryClaim(ctx, scope, bizNo)
		if err != nil {
			return bizerr.WithCause(bizerr.ErrStorageUnavailable, err)
		}
	}

	if !ok {
		return bizerr.Wrap(bizerr.ErrDuplicateOrder, bizNo)
	}
	return nil
}

// Commit 在业务事务内确认占位
func (g *IdempotencyGuard) Commit(ctx context.Context, tx *gorm.DB, scope, bizNo string) error {
	return g.repo.MarkSuccess(ctx, tx, scope, bizNo)
}

// Release 尽力释放占位，调用方 ctx 取消时仍会执行
func (g *IdempotencyGuard) Release(ctx context.Context, scope, bizNo string) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.timeout)
	defer cancel()

	if err := g.repo.Release(rctx, scope, bizNo); err != nil {
		// 释放失败由 ClaimRecoveryJob 兜底
		g.log.Error("释放幂等占位失败",
			zap.String("scope", scope), zap.String("biz_no", bizNo), zap.Error(err))
	}
}

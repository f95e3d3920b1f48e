package job

import (
	"context"
	"time"

	"consumeledger/internal/config"
	"consumeledger/internal/metrics"
	"consumeledger/internal/model"
	"consumeledger/internal/repository"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ClaimRecoveryJob 处理进程崩溃后遗留的 PROCESSING 占位
//
// 有成功流水说明业务已提交，补标 SUCCESS；否则删除占位，允许业务单号重新提交。
type ClaimRecoveryJob struct {
	claimRepo       *repository.IdempotencyRepository
	transactionRepo *repository.TransactionRepository
	log             *zap.Logger
	stopCh          chan struct{}
	interval        time.Duration
	staleAfter      time.Duration
	batchSize       int
}

func NewClaimRecoveryJob(db *gorm.DB, cfg *config.Config, log *zap.Logger) *ClaimRecoveryJob {
	interval := cfg.Business.RecoveryInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	staleAfter := cfg.Business.ClaimStaleAfter
	if staleAfter <= 0 {
		staleAfter = 5 * time.Minute
	}
	return &ClaimRecoveryJob{
		claimRepo:       repository.NewIdempotencyRepository(db),
		transactionRepo: repository.NewTransactionRepository(db),
		log:             log.Named("ClaimRecoveryJob"),
		stopCh:          make(chan struct{}),
		interval:        interval,
		staleAfter:      staleAfter,
		batchSize:       50,
	}
}

func (j *ClaimRecoveryJob) Start(ctx context.Context) {
	j.log.Info("幂等占位补偿任务启动", zap.Duration("stale_after", j.staleAfter))

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.log.Info("收到停止信号，任务退出")
			return
		case <-j.stopCh:
			j.log.Info("任务停止")
			return
		case <-ticker.C:
			j.recoverStaleClaims(ctx, time.Now())
		}
	}
}

func (j *ClaimRecoveryJob) Stop() {
	close(j.stopCh)
}

func (j *ClaimRecoveryJob) recoverStaleClaims(ctx context.Context, now time.Time) {
	claims, err := j.claimRepo.GetStaleClaims(ctx, now.Add(-j.staleAfter), j.batchSize)
	if err != nil {
		j.log.Error("查询遗留占位失败", zap.Error(err))
		return
	}
	if len(claims) == 0 {
		return
	}

	j.log.Info("发现遗留占位", zap.Int("count", len(claims)))
	for _, claim := range claims {
		j.recoverClaim(ctx, claim)
	}
}

func (j *ClaimRecoveryJob) recoverClaim(ctx context.Context, claim *model.IdempotencyClaim) {
	fields := []zap.Field{zap.String("scope", claim.Scope), zap.String("biz_no", claim.BizNo)}

	if claim.Scope != model.ClaimScopeOrder {
		j.log.Warn("未知的占位作用域，跳过", fields...)
		return
	}

	trans, err := j.transactionRepo.GetSuccessByOrderNo(ctx, claim.BizNo)
	if err != nil {
		j.log.Error("查询流水失败", append(fields, zap.Error(err))...)
		return
	}

	if trans != nil {
		if err := j.claimRepo.MarkSuccess(ctx, nil, claim.Scope, claim.BizNo); err != nil {
			j.log.Error("补标占位成功失败", append(fields, zap.Error(err))...)
			return
		}
		metrics.RecordRecoveredClaim("confirmed")
		j.log.Info("业务已提交，占位补标为成功", append(fields, zap.String("transaction_no", trans.TransactionNo))...)
		return
	}

	if err := j.claimRepo.Release(ctx, claim.Scope, claim.BizNo); err != nil {
		j.log.Error("释放遗留占位失败", append(fields, zap.Error(err))...)
		return
	}
	metrics.RecordRecoveredClaim("released")
	j.log.Info("无成功流水，占位已释放", fields...)
}

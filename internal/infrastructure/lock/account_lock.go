package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"consumeledger/internal/bizerr"
	"consumeledger/internal/metrics"
)

// AccountLockManager 账户维度互斥
//
// 同一账户严格串行，不同账户互不影响；等待超过 waitTimeout 返回 ErrAccountBusy。
type AccountLockManager struct {
	locker      Locker
	waitTimeout time.Duration
}

func NewAccountLockManager(locker Locker, waitTimeout time.Duration) *AccountLockManager {
	return &AccountLockManager{locker: locker, waitTimeout: waitTimeout}
}

func accountKey(accountID int64) string {
	return fmt.Sprintf("ledger:lock:account:%d", accountID)
}

// WithAccountLock 持有账户锁执行 fn，fn 返回后释放（包括 panic）
func (m *AccountLockManager) WithAccountLock(ctx context.Context, accountID int64, fn func() error) error {
	start := time.Now()

	waitCtx, cancel := context.WithTimeout(ctx, m.waitTimeout)
	release, err := m.locker.Acquire(waitCtx, accountKey(accountID))
	cancel()

	if err != nil {
		metrics.RecordLockWait(time.Since(start).Seconds(), true)
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return bizerr.WithCause(bizerr.ErrAccountBusy, err)
		}
		return bizerr.WithCause(bizerr.ErrStorageUnavailable, err)
	}
	metrics.RecordLockWait(time.Since(start).Seconds(), false)

	defer release()
	return fn()
}

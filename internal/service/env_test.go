package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"consumeledger/internal/config"
	"consumeledger/internal/infrastructure/lock"
	"consumeledger/internal/model"
	"consumeledger/internal/pricing"
	"consumeledger/internal/testutil"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type testEnv struct {
	db      *gorm.DB
	cfg     *config.Config
	locker  *lock.LocalLocker
	locks   *lock.AccountLockManager
	consume *ConsumeService
	refund  *RefundService
	account *AccountService
	query   *QueryService
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Kafka.Topic.LedgerEvent = "ledger_event"
	cfg.Lock.WaitTimeout = 5 * time.Second
	cfg.Business.StorageTimeout = 5 * time.Second
	cfg.Business.PricingTimeout = 200 * time.Millisecond
	cfg.Business.MaxRetryCount = 3
	cfg.Business.ClaimStaleAfter = time.Minute
	return cfg
}

func newTestEnv(t *testing.T, policy pricing.Policy) *testEnv {
	t.Helper()
	if policy == nil {
		policy = pricing.PassThrough{}
	}

	db := testutil.NewDB(t)
	cfg := testConfig()
	locker := lock.NewLocalLocker()
	locks := lock.NewAccountLockManager(locker, cfg.Lock.WaitTimeout)
	log := zap.NewNop()

	return &testEnv{
		db:      db,
		cfg:     cfg,
		locker:  locker,
		locks:   locks,
		consume: NewConsumeService(db, locks, policy, cfg, log),
		refund:  NewRefundService(db, locks, cfg, log),
		account: NewAccountService(db, locks, cfg, log),
		query:   NewQueryService(db, cfg),
	}
}

func d(s string) decimal.Decimal { return testutil.D(s) }

func consumeReq(userID int64, amount, orderNo string) *ConsumeRequest {
	return &ConsumeRequest{
		UserID:   userID,
		DeviceID: "POS-1",
		Amount:   d(amount),
		OrderNo:  orderNo,
	}
}

func (e *testEnv) balance(t *testing.T, accountID int64) decimal.Decimal {
	t.Helper()
	return testutil.ReloadAccount(t, e.db, accountID).Balance
}

func (e *testEnv) ledger(t *testing.T, accountID int64) []*model.TransactionRecord {
	t.Helper()
	var records []*model.TransactionRecord
	require.NoError(t, e.db.Where("account_id = ?", accountID).Order("id ASC").Find(&records).Error)
	return records
}

// assertConserved 校验每条流水的算术以及账户余额等于初始余额加全部成功流水
func (e *testEnv) assertConserved(t *testing.T, accountID int64, initial string) {
	t.Helper()

	sum := d(initial)
	for _, rec := range e.ledger(t, accountID) {
		require.NoError(t, rec.Verify())
		if rec.Status == model.TransactionStatusSuccess {
			sum = sum.Add(rec.Amount)
		}
	}
	require.True(t, e.balance(t, accountID).Equal(sum),
		fmt.Sprintf("balance %s != initial + ledger %s", e.balance(t, accountID), sum))
}

func (e *testEnv) claim(t *testing.T, scope, bizNo string) *model.IdempotencyClaim {
	t.Helper()
	var claims []*model.IdempotencyClaim
	require.NoError(t, e.db.Where("scope = ? AND biz_no = ?", scope, bizNo).Find(&claims).Error)
	if len(claims) == 0 {
		return nil
	}
	return claims[0]
}

func (e *testEnv) recordsByOrder(t *testing.T, orderNo string) []*model.ConsumeRecord {
	t.Helper()
	var records []*model.ConsumeRecord
	require.NoError(t, e.db.Where("order_no = ?", orderNo).Order("id ASC").Find(&records).Error)
	return records
}

var bg = context.Background()

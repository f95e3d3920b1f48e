package job

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"consumeledger/internal/config"
	"consumeledger/internal/infrastructure/mq"
	"consumeledger/internal/model"
	"consumeledger/internal/repository"
	"consumeledger/internal/testutil"

	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type sentMessage struct {
	topic, key, payload string
}

// fakePublisher 记录投递内容，failKeys 中的 key 一律失败
type fakePublisher struct {
	mu       sync.Mutex
	sent     []sentMessage
	failKeys map[string]bool
}

func (p *fakePublisher) Publish(_ context.Context, topic, key string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failKeys[key] {
		return errors.New("broker unavailable")
	}
	p.sent = append(p.sent, sentMessage{topic: topic, key: key, payload: string(payload)})
	return nil
}

func (p *fakePublisher) Close() error { return nil }

func jobConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Business.MaxRetryCount = 2
	cfg.Business.StorageTimeout = time.Second
	cfg.Business.OutboxInterval = 10 * time.Millisecond
	cfg.Business.ClaimStaleAfter = time.Minute
	cfg.Business.RecoveryInterval = 10 * time.Millisecond
	return cfg
}

func enqueue(t *testing.T, db *gorm.DB, key, body string) {
	t.Helper()
	repo := repository.NewOutboxRepository(db)
	require.NoError(t, repo.Enqueue(context.Background(), db, "ledger_event", model.EventConsumeSucceeded, key,
		map[string]string{"body": body}))
}

func outboxStatuses(t *testing.T, db *gorm.DB) []*model.OutboxMessage {
	t.Helper()
	var msgs []*model.OutboxMessage
	require.NoError(t, db.Order("id ASC").Find(&msgs).Error)
	return msgs
}

func TestOutboxSenderDeliversInOrder(t *testing.T) {
	db := testutil.NewDB(t)
	pub := &fakePublisher{}
	sender := NewOutboxSender(db, pub, jobConfig(), zap.NewNop())

	enqueue(t, db, "1", "a")
	enqueue(t, db, "2", "b")
	enqueue(t, db, "1", "c")

	assert.Equal(t, 3, sender.processPendingMessages(context.Background()))
	require.Len(t, pub.sent, 3)
	assert.Equal(t, "1", pub.sent[0].key)
	assert.Contains(t, pub.sent[2].payload, `"c"`)

	for _, msg := range outboxStatuses(t, db) {
		assert.Equal(t, model.OutboxStatusSent, msg.Status)
	}
	assert.Zero(t, sender.processPendingMessages(context.Background()))
}

func TestOutboxSenderHoldsBackKeyAfterFailure(t *testing.T) {
	db := testutil.NewDB(t)
	pub := &fakePublisher{failKeys: map[string]bool{"1": true}}
	sender := NewOutboxSender(db, pub, jobConfig(), zap.NewNop())

	enqueue(t, db, "1", "a")
	enqueue(t, db, "1", "b")
	enqueue(t, db, "2", "c")

	assert.Equal(t, 1, sender.processPendingMessages(context.Background()))
	msgs := outboxStatuses(t, db)
	assert.Equal(t, 1, msgs[0].RetryCount)
	assert.Equal(t, model.OutboxStatusPending, msgs[0].Status)
	assert.Zero(t, msgs[1].RetryCount, "同 key 的后续消息本轮不发送")
	assert.Equal(t, model.OutboxStatusSent, msgs[2].Status)

	// 第二次失败达到上限
	sender.processPendingMessages(context.Background())
	msgs = outboxStatuses(t, db)
	assert.Equal(t, model.OutboxStatusFailed, msgs[0].Status)

	// 放开后剩余消息继续投递
	pub.failKeys = nil
	sender.processPendingMessages(context.Background())
	msgs = outboxStatuses(t, db)
	assert.Equal(t, model.OutboxStatusSent, msgs[1].Status)
}

func TestOutboxSenderWithKafkaProducer(t *testing.T) {
	db := testutil.NewDB(t)
	producer := mocks.NewSyncProducer(t, mq.NewKafkaConfig())
	producer.ExpectSendMessageAndSucceed()
	producer.ExpectSendMessageAndSucceed()

	pub := mq.NewKafkaPublisher(producer)
	defer func() { require.NoError(t, pub.Close()) }()

	sender := NewOutboxSender(db, pub, jobConfig(), zap.NewNop())
	enqueue(t, db, "7", "x")
	enqueue(t, db, "8", "y")

	assert.Equal(t, 2, sender.processPendingMessages(context.Background()))
}

func TestOutboxSenderStops(t *testing.T) {
	db := testutil.NewDB(t)
	pub := &fakePublisher{}
	sender := NewOutboxSender(db, pub, jobConfig(), zap.NewNop())
	enqueue(t, db, "1", "a")

	done := make(chan struct{})
	go func() {
		sender.Start(context.Background())
		close(done)
	}()

	require.Eventually(t, func() bool {
		pub.mu.Lock()
		defer pub.mu.Unlock()
		return len(pub.sent) == 1
	}, 2*time.Second, 10*time.Millisecond)

	sender.Stop()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sender did not stop")
	}
}

func seedClaim(t *testing.T, db *gorm.DB, scope, bizNo string, age time.Duration) {
	t.Helper()
	claim := &model.IdempotencyClaim{
		Scope:     scope,
		BizNo:     bizNo,
		Status:    model.ClaimStatusProcessing,
		CreatedAt: time.Now().Add(-age),
	}
	require.NoError(t, db.Create(claim).Error)
}

func TestClaimRecoveryResolvesStaleClaims(t *testing.T) {
	db := testutil.NewDB(t)
	acc := testutil.SeedAccount(t, db, 1, "100.00")

	// 已提交扣款但占位未确认
	require.NoError(t, db.Create(&model.TransactionRecord{
		TransactionNo: "TXN-1", AccountID: acc.ID, UserID: 1,
		Type: model.TransactionTypeDeduct, Amount: testutil.D("-10"),
		BalanceBefore: testutil.D("100"), BalanceAfter: testutil.D("90"),
		OrderNo: "DONE", Status: model.TransactionStatusSuccess, OccurredAt: time.Now(),
	}).Error)

	seedClaim(t, db, model.ClaimScopeOrder, "DONE", time.Hour)
	seedClaim(t, db, model.ClaimScopeOrder, "LOST", time.Hour)
	seedClaim(t, db, "LEGACY", "LOST", time.Hour) // 未知作用域不处理
	seedClaim(t, db, model.ClaimScopeOrder, "FRESH", time.Second)

	job := NewClaimRecoveryJob(db, jobConfig(), zap.NewNop())
	job.recoverStaleClaims(context.Background(), time.Now())

	repo := repository.NewIdempotencyRepository(db)
	done, err := repo.Get(context.Background(), model.ClaimScopeOrder, "DONE")
	require.NoError(t, err)
	assert.Equal(t, model.ClaimStatusSuccess, done.Status)

	_, err = repo.Get(context.Background(), model.ClaimScopeOrder, "LOST")
	assert.ErrorIs(t, err, repository.ErrClaimNotFound)
	legacy, err := repo.Get(context.Background(), "LEGACY", "LOST")
	require.NoError(t, err)
	assert.Equal(t, model.ClaimStatusProcessing, legacy.Status)

	fresh, err := repo.Get(context.Background(), model.ClaimScopeOrder, "FRESH")
	require.NoError(t, err)
	assert.Equal(t, model.ClaimStatusProcessing, fresh.Status)
}

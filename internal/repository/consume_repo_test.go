package repository

import (
	"context"
	"testing"

	"consumeledger/internal/model"
	"consumeledger/internal/testutil"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRecord(recordNo, orderNo, status string) *model.ConsumeRecord {
	return &model.ConsumeRecord{
		RecordNo:       recordNo,
		OrderNo:        orderNo,
		AccountID:      1,
		UserID:         1,
		DeviceID:       "POS-1",
		OriginalAmount: testutil.D("30"),
		FinalAmount:    testutil.D("30"),
		DiscountAmount: decimal.Zero,
		RefundedAmount: decimal.Zero,
		ConsumeStatus:  status,
		RefundStatus:   model.RefundStatusNone,
	}
}

func TestConsumeRecordLifecycle(t *testing.T) {
	db := testutil.NewDB(t)
	repo := NewConsumeRecordRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, nil, newRecord("C1", "A1", model.ConsumeStatusPending)))
	require.NoError(t, repo.MarkSuccess(ctx, nil, "C1", "T1"))
	assert.ErrorIs(t, repo.MarkSuccess(ctx, nil, "C1", "T1"), ErrConsumeStatusInvalid)

	refunded := testutil.D("10")
	require.NoError(t, repo.UpdateRefundStatus(ctx, nil, "C1", model.RefundStatusNone, model.RefundStatusProcessing, nil))
	require.NoError(t, repo.UpdateRefundStatus(ctx, nil, "C1", model.RefundStatusProcessing, model.RefundStatusPartial, &refunded))

	rec, err := repo.GetByRecordNo(ctx, nil, "C1")
	require.NoError(t, err)
	assert.Equal(t, model.ConsumeStatusSuccess, rec.ConsumeStatus)
	assert.Equal(t, "T1", rec.TransactionNo)
	assert.Equal(t, model.RefundStatusPartial, rec.RefundStatus)
	assert.True(t, rec.RefundedAmount.Equal(refunded))

	// 非法迁移与过期的起始状态都被拒绝
	assert.ErrorIs(t, repo.UpdateRefundStatus(ctx, nil, "C1", model.RefundStatusNone, model.RefundStatusFull, nil), ErrRefundStatusInvalid)
	assert.ErrorIs(t, repo.UpdateRefundStatus(ctx, nil, "C1", model.RefundStatusNone, model.RefundStatusProcessing, nil), ErrRefundStatusInvalid)
}

func TestGetByOrderNoPrefersLiveRecord(t *testing.T) {
	db := testutil.NewDB(t)
	repo := NewConsumeRecordRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, nil, newRecord("C1", "A1", model.ConsumeStatusFailed)))
	require.NoError(t, repo.Create(ctx, nil, newRecord("C2", "A1", model.ConsumeStatusSuccess)))
	require.NoError(t, repo.Create(ctx, nil, newRecord("C3", "A1", model.ConsumeStatusFailed)))

	rec, err := repo.GetByOrderNo(ctx, "A1")
	require.NoError(t, err)
	assert.Equal(t, "C2", rec.RecordNo)

	_, err = repo.GetByOrderNo(ctx, "missing")
	assert.ErrorIs(t, err, ErrConsumeRecordNotFound)

	items, total, err := repo.List(ctx, ConsumeFilter{UserID: 1, Status: model.ConsumeStatusFailed})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	assert.Len(t, items, 2)
}

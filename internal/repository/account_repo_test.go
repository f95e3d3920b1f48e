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

func TestGetOrCreateIsIdempotentPerUser(t *testing.T) {
	db := testutil.NewDB(t)
	repo := NewAccountRepository(db)
	ctx := context.Background()

	limit := decimal.NullDecimal{Decimal: testutil.D("50"), Valid: true}
	first, err := repo.GetOrCreate(ctx, 1001, limit, decimal.NullDecimal{})
	require.NoError(t, err)
	second, err := repo.GetOrCreate(ctx, 1001, decimal.NullDecimal{}, decimal.NullDecimal{})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, model.AccountStatusActive, second.Status)
	assert.True(t, second.Balance.IsZero())
	assert.True(t, second.DailyLimit.Valid)
	assert.False(t, second.MonthlyLimit.Valid)
}

func TestApplyUpdatesWithVersionGuard(t *testing.T) {
	db := testutil.NewDB(t)
	repo := NewAccountRepository(db)
	ctx := context.Background()
	acc := testutil.SeedAccount(t, db, 1, "100.00")

	updated, err := repo.Apply(ctx, nil, acc, AccountChange{
		BalanceDelta: testutil.D("-30.00"),
		Consumed:     testutil.D("30.00"),
	})
	require.NoError(t, err)
	assert.Equal(t, acc.Version+1, updated.Version)

	stored := testutil.ReloadAccount(t, db, acc.ID)
	assert.True(t, stored.Balance.Equal(testutil.D("70")))
	assert.True(t, stored.TotalConsumed.Equal(testutil.D("30")))
	assert.Equal(t, updated.Version, stored.Version)

	// 旧快照再次写入会被版本号拒绝
	_, err = repo.Apply(ctx, nil, acc, AccountChange{BalanceDelta: testutil.D("-1")})
	assert.ErrorIs(t, err, ErrOptimisticLock)
}

func TestApplyRejectsInvariantBreaks(t *testing.T) {
	db := testutil.NewDB(t)
	repo := NewAccountRepository(db)
	ctx := context.Background()
	acc := testutil.SeedAccount(t, db, 1, "10.00")

	_, err := repo.Apply(ctx, nil, acc, AccountChange{BalanceDelta: testutil.D("-10.01")})
	assert.ErrorIs(t, err, ErrBalanceNotEnough)

	_, err = repo.Apply(ctx, nil, acc, AccountChange{FrozenDelta: testutil.D("10.01")})
	assert.ErrorIs(t, err, ErrFrozenOutOfRange)

	_, err = repo.Apply(ctx, nil, acc, AccountChange{FrozenDelta: testutil.D("-1")})
	assert.ErrorIs(t, err, ErrFrozenOutOfRange)

	_, err = repo.Apply(ctx, nil, acc, AccountChange{Consumed: testutil.D("-1")})
	assert.ErrorIs(t, err, ErrNegativeRunTotals)

	stored := testutil.ReloadAccount(t, db, acc.ID)
	assert.True(t, stored.Balance.Equal(testutil.D("10")))
	assert.Equal(t, acc.Version, stored.Version)
}

func TestUpdateStatusAndLimits(t *testing.T) {
	db := testutil.NewDB(t)
	repo := NewAccountRepository(db)
	ctx := context.Background()
	acc := testutil.SeedAccount(t, db, 1, "10.00")

	frozen, err := repo.UpdateStatus(ctx, nil, acc, model.AccountStatusFrozen, "风控")
	require.NoError(t, err)
	assert.Equal(t, model.AccountStatusFrozen, frozen.Status)

	limited, err := repo.UpdateLimits(ctx, nil, frozen,
		decimal.NullDecimal{Decimal: testutil.D("20"), Valid: true}, decimal.NullDecimal{})
	require.NoError(t, err)

	stored := testutil.ReloadAccount(t, db, acc.ID)
	assert.Equal(t, model.AccountStatusFrozen, stored.Status)
	assert.Equal(t, "风控", stored.FreezeReason)
	assert.True(t, stored.DailyLimit.Decimal.Equal(testutil.D("20")))
	assert.Equal(t, limited.Version, stored.Version)

	_, err = repo.UpdateStatus(ctx, nil, acc, model.AccountStatusClosed, "")
	assert.ErrorIs(t, err, ErrOptimisticLock)
}

func TestGetMissingAccount(t *testing.T) {
	db := testutil.NewDB(t)
	repo := NewAccountRepository(db)

	_, err := repo.GetByID(context.Background(), nil, 404)
	assert.ErrorIs(t, err, ErrAccountNotFound)
	_, err = repo.GetByUserID(context.Background(), 404)
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

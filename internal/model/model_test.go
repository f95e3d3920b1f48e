package model

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestTransactionRecordVerify(t *testing.T) {
	ok := &TransactionRecord{
		TransactionNo: "T1",
		Type:          TransactionTypeDeduct,
		Amount:        d("-30.00"),
		BalanceBefore: d("100.00"),
		BalanceAfter:  d("70.00"),
	}
	assert.NoError(t, ok.Verify())

	mismatch := *ok
	mismatch.BalanceAfter = d("71.00")
	assert.ErrorIs(t, mismatch.Verify(), ErrLedgerImbalance)

	negative := &TransactionRecord{Amount: d("-10"), BalanceBefore: d("5"), BalanceAfter: d("-5")}
	assert.Error(t, negative.Verify())

	frozenOver := *ok
	frozenOver.FrozenAfter = d("80.00")
	assert.Error(t, frozenOver.Verify())

	holdWithDelta := &TransactionRecord{
		Type:          TransactionTypeFreezeAdjust,
		Amount:        d("1"),
		BalanceBefore: d("10"),
		BalanceAfter:  d("11"),
	}
	assert.Error(t, holdWithDelta.Verify())
}

func TestRefundTransitions(t *testing.T) {
	assert.True(t, CanRefundTransitionTo(RefundStatusNone, RefundStatusProcessing))
	assert.True(t, CanRefundTransitionTo(RefundStatusPartial, RefundStatusProcessing))
	assert.True(t, CanRefundTransitionTo(RefundStatusProcessing, RefundStatusFull))
	assert.False(t, CanRefundTransitionTo(RefundStatusFull, RefundStatusProcessing))
	assert.False(t, CanRefundTransitionTo(RefundStatusNone, RefundStatusFull))
}

func TestAccountAvailabilityRules(t *testing.T) {
	acc := &Account{Status: AccountStatusActive, Balance: d("100"), FrozenAmount: d("25")}
	assert.True(t, acc.Available().Equal(d("75")))
	assert.True(t, acc.CanDebit())
	assert.True(t, acc.CanCredit())

	acc.Status = AccountStatusFrozen
	assert.False(t, acc.CanDebit())
	assert.True(t, acc.CanCredit())

	acc.Status = AccountStatusClosed
	assert.False(t, acc.CanDebit())
	assert.False(t, acc.CanCredit())
}

func TestConsumeRecordRefundable(t *testing.T) {
	r := &ConsumeRecord{FinalAmount: d("30.00"), RefundedAmount: d("12.50")}
	assert.True(t, r.Refundable().Equal(d("17.50")))
}

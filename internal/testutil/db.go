// Package testutil 测试用的内存数据库与数据构造
package testutil

import (
	"fmt"
	"sync/atomic"
	"testing"

	"consumeledger/internal/infrastructure/database"
	"consumeledger/internal/model"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var dbSeq int64

// NewDB 每次返回独立的内存 SQLite 库，已完成迁移
//
// 连接池限制为 1：事务内只能使用传入的 tx，否则会自锁。
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:ledger_%d?mode=memory&cache=shared&_time_format=sqlite", atomic.AddInt64(&dbSeq, 1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, database.Migrate(db))

	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

// D 测试中构造金额
func D(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// SeedAccount 直接写入一个 ACTIVE 账户
func SeedAccount(t testing.TB, db *gorm.DB, userID int64, balance string) *model.Account {
	t.Helper()

	acc := &model.Account{
		UserID:         userID,
		Status:         model.AccountStatusActive,
		Balance:        D(balance),
		FrozenAmount:   decimal.Zero,
		TotalRecharged: D(balance),
		TotalConsumed:  decimal.Zero,
	}
	require.NoError(t, db.Create(acc).Error)
	return acc
}

// ReloadAccount 重新读取账户最新状态
func ReloadAccount(t testing.TB, db *gorm.DB, id int64) *model.Account {
	t.Helper()

	var acc model.Account
	require.NoError(t, db.First(&acc, id).Error)
	return &acc
}

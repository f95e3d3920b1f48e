package lock

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// ============================================================================
// Redis 分布式锁
// ============================================================================
//
// 加锁：SET key value NX PX ttl
//   - NX: 只有 key 不存在时才设置（保证互斥）
//   - PX: 租期，持有者崩溃后自动释放
//   - value: 持有者 token，释放时校验，防止误删别人的锁
//
// 释放锁：Lua 脚本原子地 "比较 + 删除"
//
// 租期过期后锁可能被别人拿走，此时账户行上的 version 条件更新会失败，
// 不会出现丢失更新。
// ============================================================================

var ErrLockNotHeld = errors.New("锁已不属于当前持有者")

const unlockScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`

// DistributedLock 单次加锁的句柄
type DistributedLock struct {
	client     *redis.Client
	key        string
	value      string
	expiration time.Duration
}

func NewDistributedLock(client *redis.Client, key, value string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		value:      value,
		expiration: expiration,
	}
}

// TryLock 非阻塞尝试一次
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	return l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
}

// Lock 按 retryInterval 轮询直到成功或 ctx 结束
func (l *DistributedLock) Lock(ctx context.Context, retryInterval time.Duration) error {
	for {
		success, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if success {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
		}
	}
}

// Unlock 只删除自己持有的锁
func (l *DistributedLock) Unlock(ctx context.Context) error {
	n, err := l.client.Eval(ctx, unlockScript, []string{l.key}, l.value).Int64()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLockNotHeld
	}
	return nil
}

// RedisLocker 多实例部署时的账户锁
type RedisLocker struct {
	client        *redis.Client
	prefix        string
	leaseTTL      time.Duration
	retryInterval time.Duration
	tokenFn       func() string
	onUnlockErr   func(key string, err error)
}

type RedisLockerOption func(*RedisLocker)

// WithTokenFunc 替换持有者 token 生成方式，默认 uuid
func WithTokenFunc(fn func() string) RedisLockerOption {
	return func(l *RedisLocker) { l.tokenFn = fn }
}

// WithUnlockErrorHandler 释放失败回调（租期已过等）
func WithUnlockErrorHandler(fn func(key string, err error)) RedisLockerOption {
	return func(l *RedisLocker) { l.onUnlockErr = fn }
}

func NewRedisLocker(client *redis.Client, prefix string, leaseTTL, retryInterval time.Duration, opts ...RedisLockerOption) *RedisLocker {
	l := &RedisLocker{
		client:        client,
		prefix:        prefix,
		leaseTTL:      leaseTTL,
		retryInterval: retryInterval,
		tokenFn:       func() string { return uuid.NewString() },
		onUnlockErr:   func(string, error) {},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	dl := NewDistributedLock(l.client, l.prefix+key, l.tokenFn(), l.leaseTTL)
	if err := dl.Lock(ctx, l.retryInterval); err != nil {
		return nil, err
	}

	released := false
	return func() {
		if released {
			return
		}
		released = true
		// 调用方 ctx 可能已取消，释放锁使用独立超时
		unlockCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := dl.Unlock(unlockCtx); err != nil {
			l.onUnlockErr(dl.key, err)
		}
	}, nil
}

package lock

import "context"

// Locker 按 key 互斥的锁
//
// Acquire 阻塞直到拿到锁或 ctx 结束，成功时返回的 release 必须调用且只生效一次。
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

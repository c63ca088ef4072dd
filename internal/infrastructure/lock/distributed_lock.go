package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// ============================================================================
// 分布式锁
// ============================================================================
//
// 加锁：SET key value NX EX timeout
//   - NX 保证互斥，EX 防止持有者崩溃后死锁
//   - value 是持有者标识，释放时校验，避免误删别人的锁
//
// 释放：Lua 脚本中先比较 value 再 DEL
//
// 锁只用来降低同一订单回调并发时的数据库争用；
// 结算正确性由事务内的行锁和状态 CAS 保证，锁过期不会导致重复入账。
// ============================================================================

var ErrLockFailed = errors.New("获取分布式锁失败")

var unlockScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`)

// DistributedLock 分布式锁
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

// TryLock 非阻塞获取锁
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	return l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
}

// Lock 阻塞获取锁，最多重试 maxRetries 次
func (l *DistributedLock) Lock(ctx context.Context, retryInterval time.Duration, maxRetries int) error {
	for i := 0; i < maxRetries; i++ {
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
	return ErrLockFailed
}

// Unlock 释放锁，锁已过期或已被他人持有时什么都不做
func (l *DistributedLock) Unlock(ctx context.Context) error {
	return unlockScript.Run(ctx, l.client, []string{l.key}, l.value).Err()
}

// NewSettleLock 按订单号加锁，同一订单的重复回调串行处理，不同订单互不影响
func NewSettleLock(client *redis.Client, orderNo, owner string) *DistributedLock {
	key := fmt.Sprintf("pay:lock:order:%s", orderNo)
	return NewDistributedLock(client, key, owner, 30*time.Second)
}

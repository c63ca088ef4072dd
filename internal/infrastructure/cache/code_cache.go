package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// redeemScript 比较并删除验证码
// GET 和 DEL 在同一个 Lua 脚本中执行，并发核销同一个 key 时最多只有一个请求返回 1
var redeemScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`)

// ErrInvalidTTL 验证码必须有过期时间
var ErrInvalidTTL = errors.New("验证码过期时间必须大于 0")

// CodeCache 基于 Redis 的验证码存储，过期由 Redis TTL 保证
type CodeCache struct {
	client *redis.Client
}

func NewCodeCache(client *redis.Client) *CodeCache {
	return &CodeCache{client: client}
}

func codeKey(purpose, identifier string) string {
	return fmt.Sprintf("verify_code:%s:%s", purpose, identifier)
}

func cooldownKey(purpose, identifier string) string {
	return fmt.Sprintf("verify_code:cooldown:%s:%s", purpose, identifier)
}

// Put 写入验证码，覆盖已有的值并重置过期时间
func (c *CodeCache) Put(ctx context.Context, purpose, identifier, code string, ttl time.Duration) error {
	// SET 的过期时间为 0 表示永不过期
	if ttl <= 0 {
		return ErrInvalidTTL
	}
	return c.client.Set(ctx, codeKey(purpose, identifier), code, ttl).Err()
}

// Redeem 核销验证码
// 不存在、已过期、不匹配都返回 false，调用方无法区分
func (c *CodeCache) Redeem(ctx context.Context, purpose, identifier, candidate string) (bool, error) {
	if candidate == "" {
		return false, nil
	}
	n, err := redeemScript.Run(ctx, c.client, []string{codeKey(purpose, identifier)}, candidate).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// AcquireCooldown 发送频率限制，窗口内第二次调用返回 false
func (c *CodeCache) AcquireCooldown(ctx context.Context, purpose, identifier string, window time.Duration) (bool, error) {
	if window <= 0 {
		return true, nil
	}
	return c.client.SetNX(ctx, cooldownKey(purpose, identifier), 1, window).Result()
}

// ReleaseCooldown 投递失败时释放频率限制，允许用户立即重试
func (c *CodeCache) ReleaseCooldown(ctx context.Context, purpose, identifier string) error {
	return c.client.Del(ctx, cooldownKey(purpose, identifier)).Err()
}

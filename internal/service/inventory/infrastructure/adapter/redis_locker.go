package adapter

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"nexus-inventory/internal/pkg/redis"
)

const unlockScriptName = "inventory_unlock"

// 只删除自己持有的锁
const unlockLua = `
if redis.call('get', KEYS[1]) == ARGV[1] then
    return redis.call('del', KEYS[1])
end
return 0
`

// RedisLocker 在没有配置 ZooKeeper 时为 Sweeper 提供任务锁（SET NX PX）。
type RedisLocker struct {
	redisClient *redis.Client
}

func NewRedisLocker(redisClient *redis.Client) (*RedisLocker, error) {
	if err := redisClient.LoadScriptFromContent(unlockScriptName, unlockLua); err != nil {
		return nil, fmt.Errorf("failed to load unlock script: %w", err)
	}
	return &RedisLocker{redisClient: redisClient}, nil
}

// TryAcquire 尝试获取锁，ttl 到期后锁自动失效，防止持有者崩溃后永远拿不到锁
func (l *RedisLocker) TryAcquire(ctx context.Context, name string, ttl time.Duration) (func(context.Context) error, bool, error) {
	key := "lock:inventory:" + name
	token := uuid.NewString()
	ok, err := l.redisClient.GetClient().SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire lock %s: %w", name, err)
	}
	if !ok {
		return nil, false, nil
	}
	release := func(ctx context.Context) error {
		if _, err := l.redisClient.RunScript(ctx, unlockScriptName, []string{key}, token); err != nil {
			return fmt.Errorf("failed to release lock %s: %w", name, err)
		}
		return nil
	}
	return release, true, nil
}

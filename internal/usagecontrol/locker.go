package usagecontrol

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DeviceLocker 设备级互斥（切换 / 绑定更新）
type DeviceLocker interface {
	Acquire(ctx context.Context, deviceID int64) (release func(), err error)
}

// 只有持有者才能释放
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisDeviceLocker 基于 SET NX 的设备锁，TTL 防止持有者崩溃后死锁
type RedisDeviceLocker struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisDeviceLocker 创建设备锁
func NewRedisDeviceLocker(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisDeviceLocker {
	if ttl <= 0 {
		ttl = 20 * time.Second
	}
	return &RedisDeviceLocker{
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

func lockKey(deviceID int64) string {
	return fmt.Sprintf("fleet:usage-control:lock:%d", deviceID)
}

// Acquire 获取设备锁，已被占用时返回 ErrToggleInProgress
func (l *RedisDeviceLocker) Acquire(ctx context.Context, deviceID int64) (func(), error) {
	key := lockKey(deviceID)
	token := uuid.New().String()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire device lock: %w", err)
	}
	if !ok {
		return nil, ErrToggleInProgress
	}

	release := func() {
		// 调用方的 ctx 可能已取消，释放使用独立的 ctx
		rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(rctx, l.client, []string{key}, token).Err(); err != nil {
			l.logger.Warn("Failed to release device lock",
				zap.Int64("device_id", deviceID),
				zap.Error(err),
			)
		}
	}
	return release, nil
}

package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"fleetguard/internal/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// DefaultIdentityTTL 身份缓存默认 TTL
const DefaultIdentityTTL = 10 * time.Minute

// IdentityCache 设备身份缓存（按网关设备 ID）
// 缓存读写失败不影响调用方，只当作未命中处理
type IdentityCache interface {
	Get(ctx context.Context, gatewayID int64) (*models.DeviceIdentity, bool)
	Set(ctx context.Context, identity *models.DeviceIdentity)
	Invalidate(ctx context.Context, gatewayID int64)
}

// RedisIdentityCache 基于 Redis 的身份缓存，每个键带 TTL
type RedisIdentityCache struct {
	client    *redis.Client
	ttl       time.Duration
	keyPrefix string
	logger    *zap.Logger
}

// NewRedisIdentityCache 创建身份缓存，ttl <= 0 时使用默认值
func NewRedisIdentityCache(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisIdentityCache {
	if ttl <= 0 {
		ttl = DefaultIdentityTTL
	}
	return &RedisIdentityCache{
		client:    client,
		ttl:       ttl,
		keyPrefix: "fleet:identity:",
		logger:    logger,
	}
}

func (c *RedisIdentityCache) key(gatewayID int64) string {
	return fmt.Sprintf("%s%d", c.keyPrefix, gatewayID)
}

// Get 读取缓存
func (c *RedisIdentityCache) Get(ctx context.Context, gatewayID int64) (*models.DeviceIdentity, bool) {
	val, err := c.client.Get(ctx, c.key(gatewayID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("Failed to read identity cache",
				zap.Int64("device_id", gatewayID),
				zap.Error(err),
			)
		}
		return nil, false
	}

	var identity models.DeviceIdentity
	if err := json.Unmarshal(val, &identity); err != nil {
		c.logger.Warn("Corrupted identity cache entry",
			zap.Int64("device_id", gatewayID),
			zap.Error(err),
		)
		return nil, false
	}
	return &identity, true
}

// Set 写入缓存
func (c *RedisIdentityCache) Set(ctx context.Context, identity *models.DeviceIdentity) {
	if identity == nil {
		return
	}
	data, err := json.Marshal(identity)
	if err != nil {
		c.logger.Warn("Failed to marshal identity", zap.Error(err))
		return
	}
	if err := c.client.Set(ctx, c.key(identity.GatewayID), data, c.ttl).Err(); err != nil {
		c.logger.Warn("Failed to write identity cache",
			zap.Int64("device_id", identity.GatewayID),
			zap.Error(err),
		)
	}
}

// Invalidate 删除缓存
func (c *RedisIdentityCache) Invalidate(ctx context.Context, gatewayID int64) {
	if err := c.client.Del(ctx, c.key(gatewayID)).Err(); err != nil {
		c.logger.Warn("Failed to invalidate identity cache",
			zap.Int64("device_id", gatewayID),
			zap.Error(err),
		)
	}
}

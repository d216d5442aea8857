package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"fleetguard/internal/geofence"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// LiveStateStore 设备实时状态（I/O、位置）
type LiveStateStore interface {
	Update(ctx context.Context, gatewayID int64, fields map[string]interface{}) error
}

// RedisLiveState 每台设备一个 Redis hash：fleet:device:{id}:live
type RedisLiveState struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisLiveState 创建实时状态存储
func NewRedisLiveState(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisLiveState {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisLiveState{
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

// LiveStateKey 实时状态键
func LiveStateKey(gatewayID int64) string {
	return fmt.Sprintf("fleet:device:%d:live", gatewayID)
}

// Update 写入字段并刷新 TTL
// 非字符串值按 JSON 编码保存
func (s *RedisLiveState) Update(ctx context.Context, gatewayID int64, fields map[string]interface{}) error {
	values := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		switch val := v.(type) {
		case string:
			values[k] = val
		default:
			b, err := json.Marshal(val)
			if err != nil {
				return fmt.Errorf("failed to encode field %s: %w", k, err)
			}
			values[k] = string(b)
		}
	}
	values["updated_at"] = time.Now().UTC().Format(time.RFC3339)

	key := LiveStateKey(gatewayID)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, values)
		pipe.Expire(ctx, key, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to update live state: %w", err)
	}
	return nil
}

// LastPosition 最近上报的位置，没有位置时返回 nil
func (s *RedisLiveState) LastPosition(ctx context.Context, gatewayID int64) (*geofence.Point, error) {
	values, err := s.client.HMGet(ctx, LiveStateKey(gatewayID), "latitude", "longitude").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read position: %w", err)
	}
	latStr, ok1 := values[0].(string)
	lonStr, ok2 := values[1].(string)
	if !ok1 || !ok2 {
		return nil, nil
	}
	lat, err := strconv.ParseFloat(latStr, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid latitude %q: %w", latStr, err)
	}
	lon, err := strconv.ParseFloat(lonStr, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid longitude %q: %w", lonStr, err)
	}
	return &geofence.Point{Latitude: lat, Longitude: lon}, nil
}

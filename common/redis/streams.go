package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// DefaultStreamMaxLen 流的近似最大长度（超出后由 Redis 裁剪旧消息）
const DefaultStreamMaxLen = 10000

// StreamPublisher 发布消息到 Redis Streams
type StreamPublisher struct {
	client *redis.Client
	maxLen int64
}

// NewStreamPublisher 创建发布器，maxLen <= 0 时使用默认值
func NewStreamPublisher(client *redis.Client, maxLen int64) *StreamPublisher {
	if maxLen <= 0 {
		maxLen = DefaultStreamMaxLen
	}
	return &StreamPublisher{client: client, maxLen: maxLen}
}

// PublishJSON 发布 JSON 消息到指定流
func (p *StreamPublisher) PublishJSON(ctx context.Context, stream string, data interface{}) (string, error) {
	return PublishJSONToStream(ctx, p.client, stream, p.maxLen, data)
}

// PublishToStream 发布消息到 Redis Streams
func PublishToStream(ctx context.Context, client *redis.Client, stream string, maxLen int64, values map[string]interface{}) (string, error) {
	// 将 values 转换为 Redis Streams 格式
	streamValues := make(map[string]interface{}, len(values))
	for k, v := range values {
		var strValue string
		switch val := v.(type) {
		case string:
			strValue = val
		case []byte:
			strValue = string(val)
		case int:
			strValue = fmt.Sprintf("%d", val)
		case int64:
			strValue = fmt.Sprintf("%d", val)
		case float64:
			strValue = fmt.Sprintf("%f", val)
		case bool:
			if val {
				strValue = "true"
			} else {
				strValue = "false"
			}
		default:
			jsonBytes, err := json.Marshal(v)
			if err != nil {
				return "", err
			}
			strValue = string(jsonBytes)
		}
		streamValues[k] = strValue
	}

	return client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: maxLen,
		Approx: true,
		Values: streamValues,
	}).Result()
}

// PublishJSONToStream 发布 JSON 消息到 Redis Streams
func PublishJSONToStream(ctx context.Context, client *redis.Client, stream string, maxLen int64, data interface{}) (string, error) {
	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return "", err
	}

	return PublishToStream(ctx, client, stream, maxLen, map[string]interface{}{
		"data":      string(jsonBytes),
		"timestamp": time.Now().Unix(),
	})
}

package fanout

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
)

// StreamPublisher 消息流发布（common/redis.StreamPublisher）
type StreamPublisher interface {
	PublishJSON(ctx context.Context, stream string, data interface{}) (string, error)
}

// Notification 推送到通知流的报警 / 事件
type Notification struct {
	Kind        string          `json:"kind"`
	RecordID    string          `json:"record_id"`
	DeviceID    int64           `json:"device_id"`
	DeviceName  string          `json:"device_name"`
	Code        string          `json:"code"`
	AudioAsset  string          `json:"audio_asset,omitempty"`
	OwnerUserID int64           `json:"owner_user_id"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	Recipients  []Recipient     `json:"recipients"`
}

// Notifier 解析接收人并发布通知
type Notifier struct {
	resolver  *Resolver
	publisher StreamPublisher
	stream    string
	logger    *zap.Logger
}

// NewNotifier 创建通知发布器
func NewNotifier(resolver *Resolver, publisher StreamPublisher, stream string, logger *zap.Logger) *Notifier {
	return &Notifier{
		resolver:  resolver,
		publisher: publisher,
		stream:    stream,
		logger:    logger,
	}
}

// Notify 解析接收人并发布到通知流，没有接收人时不发布
// 解析失败只记录日志，不发布
func (n *Notifier) Notify(ctx context.Context, notification Notification) ([]Recipient, error) {
	recipients, err := n.resolver.Resolve(ctx, notification.OwnerUserID, notification.DeviceID)
	if err != nil {
		n.logger.Warn("Failed to resolve notification recipients",
			zap.Int64("device_id", notification.DeviceID),
			zap.Int64("owner_user_id", notification.OwnerUserID),
			zap.Error(err),
		)
		return nil, err
	}
	if len(recipients) == 0 {
		return recipients, nil
	}

	notification.Recipients = recipients
	streamID, err := n.publisher.PublishJSON(ctx, n.stream, notification)
	if err != nil {
		n.logger.Error("Failed to publish notification",
			zap.String("stream", n.stream),
			zap.Int64("device_id", notification.DeviceID),
			zap.Error(err),
		)
		return recipients, err
	}

	n.logger.Info("Published notification",
		zap.String("kind", notification.Kind),
		zap.Int64("device_id", notification.DeviceID),
		zap.String("code", notification.Code),
		zap.String("stream_id", streamID),
		zap.Int("recipients", len(recipients)),
	)
	return recipients, nil
}

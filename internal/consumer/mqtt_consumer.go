package consumer

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	mqttcommon "fleetguard/common/mqtt"

	"go.uber.org/zap"
)

// Subscriber MQTT 订阅（common/mqtt.Client）
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqttcommon.MessageHandler) error
	Unsubscribe(topics ...string) error
}

// MQTTConsumer 遥测网关 MQTT 消费者
type MQTTConsumer struct {
	subscriber Subscriber
	pipeline   *Pipeline
	topics     []string
	qos        byte
	timeout    time.Duration
	logger     *zap.Logger

	processed atomic.Int64
	skipped   atomic.Int64
	failed    atomic.Int64
}

// NewMQTTConsumer 创建 MQTT 消费者
func NewMQTTConsumer(subscriber Subscriber, pipeline *Pipeline, topics []string, qos byte, logger *zap.Logger) *MQTTConsumer {
	return &MQTTConsumer{
		subscriber: subscriber,
		pipeline:   pipeline,
		topics:     topics,
		qos:        qos,
		timeout:    10 * time.Second,
		logger:     logger,
	}
}

// Start 订阅所有主题并阻塞到 ctx 取消
func (c *MQTTConsumer) Start(ctx context.Context) error {
	if len(c.topics) == 0 {
		return fmt.Errorf("no MQTT topics configured")
	}
	for _, topic := range c.topics {
		if err := c.subscriber.Subscribe(topic, c.qos, c.handleMessage); err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
		}
	}

	c.logger.Info("MQTT consumer started",
		zap.Strings("topics", c.topics),
		zap.Uint8("qos", c.qos),
	)

	<-ctx.Done()
	return nil
}

// Stop 取消订阅
func (c *MQTTConsumer) Stop(ctx context.Context) error {
	if err := c.subscriber.Unsubscribe(c.topics...); err != nil {
		c.logger.Error("Failed to unsubscribe", zap.Error(err))
		return err
	}
	processed, skipped, failed := c.Counts()
	c.logger.Info("MQTT consumer stopped",
		zap.Int64("processed", processed),
		zap.Int64("skipped", skipped),
		zap.Int64("failed", failed),
	)
	return nil
}

// Counts 已处理 / 已丢弃 / 写入失败的消息数
func (c *MQTTConsumer) Counts() (processed, skipped, failed int64) {
	return c.processed.Load(), c.skipped.Load(), c.failed.Load()
}

// handleMessage 每条消息独立超时，错误由 MQTT 客户端记录后继续处理下一条
func (c *MQTTConsumer) handleMessage(topic string, payload []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	outcome, err := c.pipeline.Dispatch(ctx, topic, payload)
	switch {
	case err != nil:
		c.failed.Add(1)
	case outcome.Processed():
		c.processed.Add(1)
	default:
		c.skipped.Add(1)
	}
	if err != nil {
		return fmt.Errorf("failed to handle %s message for device %d: %w", outcome.Kind, outcome.DeviceID, err)
	}
	return nil
}

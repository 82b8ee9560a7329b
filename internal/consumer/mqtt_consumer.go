package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqttcommon "wisefido-surgical/common/mqtt"
	"wisefido-surgical/internal/models"

	"go.uber.org/zap"
)

// Subscriber MQTT 订阅接口（common/mqtt.Client 实现）
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqttcommon.MessageHandler) error
	Unsubscribe(topics ...string) error
}

// MQTTConsumer 订阅机器人遥测主题，解析后写入遥测队列
type MQTTConsumer struct {
	subscriber Subscriber
	topic      string
	qos        byte
	queue      *TelemetryQueue
	metrics    *Metrics
	logger     *zap.Logger
}

// NewMQTTConsumer 创建MQTT消费者
func NewMQTTConsumer(
	subscriber Subscriber,
	topic string,
	qos byte,
	queue *TelemetryQueue,
	metrics *Metrics,
	logger *zap.Logger,
) *MQTTConsumer {
	return &MQTTConsumer{
		subscriber: subscriber,
		topic:      topic,
		qos:        qos,
		queue:      queue,
		metrics:    metrics,
		logger:     logger,
	}
}

// Start 订阅并阻塞直到 ctx 取消
func (c *MQTTConsumer) Start(ctx context.Context) error {
	if err := c.subscriber.Subscribe(c.topic, c.qos, c.handleMessage); err != nil {
		return fmt.Errorf("failed to subscribe to telemetry topic: %w", err)
	}

	c.logger.Info("MQTT consumer started",
		zap.String("topic", c.topic),
	)

	<-ctx.Done()
	return nil
}

// Stop 取消订阅
func (c *MQTTConsumer) Stop() error {
	if err := c.subscriber.Unsubscribe(c.topic); err != nil {
		c.logger.Error("Failed to unsubscribe", zap.Error(err))
		return err
	}
	c.logger.Info("MQTT consumer stopped")
	return nil
}

// handleMessage 处理遥测消息
// 主题格式: robot/{robot_id}/telemetry
func (c *MQTTConsumer) handleMessage(topic string, payload []byte) error {
	c.metrics.IncrementReceived()

	robotID, err := robotIDFromTopic(topic)
	if err != nil {
		c.metrics.IncrementFailed(errorParse)
		return err
	}

	var sample models.TelemetrySample
	if err := json.Unmarshal(payload, &sample); err != nil {
		c.metrics.IncrementFailed(errorParse)
		return fmt.Errorf("failed to unmarshal telemetry: %w", err)
	}

	if sample.RobotID == "" {
		sample.RobotID = robotID
	}
	if sample.Timestamp.IsZero() {
		sample.Timestamp = time.Now()
	}

	if dropped := c.queue.Push(&sample); dropped {
		c.metrics.IncrementDropped()
		c.logger.Warn("Telemetry queue full, dropped oldest sample",
			zap.String("robot_id", sample.RobotID),
			zap.Int("capacity", c.queue.Capacity()),
		)
	}
	return nil
}

func robotIDFromTopic(topic string) (string, error) {
	parts := strings.Split(topic, "/")
	if len(parts) < 3 || parts[1] == "" {
		return "", fmt.Errorf("invalid topic format: %s", topic)
	}
	return parts[1], nil
}

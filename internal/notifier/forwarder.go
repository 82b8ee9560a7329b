package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	rediscommon "wisefido-surgical/common/redis"
	"wisefido-surgical/internal/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// Sender 报警推送接口
type Sender interface {
	Send(ctx context.Context, alert models.SafetyAlert) error
}

// StreamForwarder 消费报警流，把达到级别的报警推送到 Webhook
// 推送失败的消息不确认，保留在消费者组的 pending 列表中
type StreamForwarder struct {
	redisClient *redis.Client
	stream      string
	group       string
	consumer    string
	sender      Sender
	minSeverity models.Severity
	batchSize   int64
	block       time.Duration
	logger      *zap.Logger
}

// NewStreamForwarder 创建转发器
func NewStreamForwarder(
	redisClient *redis.Client,
	stream, group, consumer string,
	sender Sender,
	minSeverity models.Severity,
	logger *zap.Logger,
) *StreamForwarder {
	if minSeverity.Rank() == 0 {
		minSeverity = models.SeverityHigh
	}
	return &StreamForwarder{
		redisClient: redisClient,
		stream:      stream,
		group:       group,
		consumer:    consumer,
		sender:      sender,
		minSeverity: minSeverity,
		batchSize:   20,
		block:       time.Second,
		logger:      logger,
	}
}

// Start 启动转发循环
func (f *StreamForwarder) Start(ctx context.Context) error {
	if err := rediscommon.CreateConsumerGroup(ctx, f.redisClient, f.stream, f.group); err != nil {
		return fmt.Errorf("failed to create consumer group for %s: %w", f.stream, err)
	}

	f.logger.Info("Alert forwarder started",
		zap.String("stream", f.stream),
		zap.String("consumer_group", f.group),
		zap.String("min_severity", string(f.minSeverity)),
	)

	backoffDuration := time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			f.logger.Info("Alert forwarder stopped")
			return nil
		default:
		}

		if _, err := f.consumeOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			f.logger.Error("Failed to consume alert stream",
				zap.Error(err),
				zap.Duration("backoff", backoffDuration),
			)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoffDuration):
				backoffDuration *= 2
				if backoffDuration > maxBackoff {
					backoffDuration = maxBackoff
				}
			}
			continue
		}
		backoffDuration = time.Second
	}
}

// consumeOnce 读取一批消息，返回成功推送的条数
func (f *StreamForwarder) consumeOnce(ctx context.Context) (int, error) {
	messages, err := rediscommon.ReadFromStream(ctx, f.redisClient, f.stream, f.group, f.consumer, f.batchSize, f.block)
	if err != nil {
		return 0, err
	}

	sent := 0
	var ack []string
	for _, msg := range messages {
		alert, err := decodeAlert(msg)
		if err != nil {
			// 无法解析的消息直接确认，避免反复重试
			f.logger.Warn("Dropping malformed alert message",
				zap.String("message_id", msg.ID),
				zap.Error(err),
			)
			ack = append(ack, msg.ID)
			continue
		}

		if alert.Severity.Rank() < f.minSeverity.Rank() {
			ack = append(ack, msg.ID)
			continue
		}

		if err := f.sender.Send(ctx, alert); err != nil {
			f.logger.Error("Failed to forward alert",
				zap.String("event_id", alert.EventID),
				zap.Error(err),
			)
			continue
		}
		sent++
		ack = append(ack, msg.ID)
	}

	if err := rediscommon.AckMessages(ctx, f.redisClient, f.stream, f.group, ack...); err != nil {
		return sent, err
	}
	return sent, nil
}

func decodeAlert(msg rediscommon.StreamMessage) (models.SafetyAlert, error) {
	var alert models.SafetyAlert
	raw, ok := msg.Values["data"].(string)
	if !ok {
		return alert, fmt.Errorf("message has no data field")
	}
	if err := json.Unmarshal([]byte(raw), &alert); err != nil {
		return alert, fmt.Errorf("failed to unmarshal alert: %w", err)
	}
	return alert, nil
}

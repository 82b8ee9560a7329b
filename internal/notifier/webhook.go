package notifier

import (
	"context"
	"fmt"
	"time"

	"wisefido-surgical/internal/models"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// AlertNotification 推送给外部系统的报警消息
type AlertNotification struct {
	Source string             `json:"source"`
	SentAt time.Time          `json:"sent_at"`
	Alert  models.SafetyAlert `json:"alert"`
}

// WebhookClient 报警 Webhook 客户端
type WebhookClient struct {
	httpClient *resty.Client
	url        string
	logger     *zap.Logger
}

// NewWebhookClient 创建 Webhook 客户端
func NewWebhookClient(url string, timeout time.Duration, logger *zap.Logger) *WebhookClient {
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &WebhookClient{
		httpClient: client,
		url:        url,
		logger:     logger,
	}
}

// Send 推送单条报警
func (c *WebhookClient) Send(ctx context.Context, alert models.SafetyAlert) error {
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(AlertNotification{
			Source: "wisefido-surgical",
			SentAt: time.Now(),
			Alert:  alert,
		}).
		Post(c.url)
	if err != nil {
		return fmt.Errorf("failed to call alert webhook: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("alert webhook returned status %d", resp.StatusCode())
	}

	c.logger.Debug("Alert delivered to webhook",
		zap.String("event_id", alert.EventID),
		zap.String("severity", string(alert.Severity)),
		zap.Int("status_code", resp.StatusCode()),
	)
	return nil
}

package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	rediscommon "wisefido-surgical/common/redis"
	"wisefido-surgical/internal/config"
	"wisefido-surgical/internal/evaluator"
	"wisefido-surgical/internal/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// maxCachedAlerts 每台机器人缓存的最近报警数
const maxCachedAlerts = 100

// ErrReportNotFound 报告缓存不存在或已过期
var ErrReportNotFound = errors.New("report not found")

// CacheManager Redis 缓存管理器（报警 / 报告数据推送给展示层）
type CacheManager struct {
	config      *config.Config
	redisClient *redis.Client
	logger      *zap.Logger
}

// NewCacheManager 创建缓存管理器
func NewCacheManager(
	cfg *config.Config,
	redisClient *redis.Client,
	logger *zap.Logger,
) *CacheManager {
	return &CacheManager{
		config:      cfg,
		redisClient: redisClient,
		logger:      logger,
	}
}

func (c *CacheManager) alertsKey(robotID string) string {
	return fmt.Sprintf("%s%s%s", c.config.Cache.KeyPrefix, robotID, c.config.Cache.AlertsSuffix)
}

func (c *CacheManager) reportKey(robotID string) string {
	return fmt.Sprintf("%s%s%s", c.config.Cache.KeyPrefix, robotID, c.config.Cache.ReportSuffix)
}

// AppendAlert 追加报警到机器人报警缓存（保留最近 100 条，刷新 TTL）
func (c *CacheManager) AppendAlert(ctx context.Context, alert models.SafetyAlert) error {
	if alert.RobotID == "" {
		return nil
	}
	jsonData, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	key := c.alertsKey(alert.RobotID)
	pipe := c.redisClient.TxPipeline()
	pipe.RPush(ctx, key, jsonData)
	pipe.LTrim(ctx, key, -maxCachedAlerts, -1)
	pipe.Expire(ctx, key, c.config.Cache.AlertTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to update alert cache: %w", err)
	}
	return nil
}

// GetAlerts 读取机器人报警缓存（按创建顺序）
func (c *CacheManager) GetAlerts(ctx context.Context, robotID string) ([]models.SafetyAlert, error) {
	values, err := c.redisClient.LRange(ctx, c.alertsKey(robotID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get alert cache: %w", err)
	}

	alerts := make([]models.SafetyAlert, 0, len(values))
	for _, v := range values {
		var a models.SafetyAlert
		if err := json.Unmarshal([]byte(v), &a); err != nil {
			c.logger.Warn("Skipping malformed cached alert", zap.String("robot_id", robotID), zap.Error(err))
			continue
		}
		alerts = append(alerts, a)
	}
	return alerts, nil
}

// PublishAlert 发布报警到报警流
func (c *CacheManager) PublishAlert(ctx context.Context, alert models.SafetyAlert) (string, error) {
	id, err := rediscommon.PublishJSONToStream(ctx, c.redisClient, c.config.Cache.AlertStream, c.config.Cache.StreamMaxLen, alert)
	if err != nil {
		return "", fmt.Errorf("failed to publish alert to stream: %w", err)
	}
	return id, nil
}

// HandleAlert AlertStore 追加回调：写入缓存并发布到报警流
func (c *CacheManager) HandleAlert(alert models.SafetyAlert) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := c.AppendAlert(ctx, alert); err != nil {
		c.logger.Error("Failed to cache alert",
			zap.String("event_id", alert.EventID),
			zap.Error(err),
		)
	}
	if _, err := c.PublishAlert(ctx, alert); err != nil {
		c.logger.Error("Failed to publish alert",
			zap.String("event_id", alert.EventID),
			zap.String("stream", c.config.Cache.AlertStream),
			zap.Error(err),
		)
	}
}

// UpdateReportCache 更新机器人最新分析报告
func (c *CacheManager) UpdateReportCache(ctx context.Context, robotID string, report models.PerformanceReport) error {
	jsonData, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	key := c.reportKey(robotID)
	if err := c.redisClient.Set(ctx, key, jsonData, c.config.Cache.AlertTTL).Err(); err != nil {
		return fmt.Errorf("failed to set report cache: %w", err)
	}

	c.logger.Debug("Updated report cache",
		zap.String("robot_id", robotID),
		zap.String("key", key),
		zap.String("risk", report.RiskAssessment),
	)
	return nil
}

// GetReport 读取机器人最新分析报告
func (c *CacheManager) GetReport(ctx context.Context, robotID string) (*models.PerformanceReport, error) {
	val, err := c.redisClient.Get(ctx, c.reportKey(robotID)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, fmt.Errorf("%w for robot: %s", ErrReportNotFound, robotID)
		}
		return nil, fmt.Errorf("failed to get report cache: %w", err)
	}

	var report models.PerformanceReport
	if err := json.Unmarshal([]byte(val), &report); err != nil {
		return nil, fmt.Errorf("failed to unmarshal report: %w", err)
	}
	return &report, nil
}

// HandleOutcome 实现 OutcomeSink
func (c *CacheManager) HandleOutcome(ctx context.Context, sample *models.TelemetrySample, out evaluator.Outcome) error {
	if sample == nil || sample.RobotID == "" {
		return nil
	}
	return c.UpdateReportCache(ctx, sample.RobotID, out.Report)
}

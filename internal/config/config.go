package config

import (
	"os"
	"strconv"
	"time"

	"wisefido-surgical/common/config"
)

// Config 手术机器人安全分析服务配置
type Config struct {
	Database config.DatabaseConfig
	Redis    config.RedisConfig
	MQTT     config.MQTTConfig

	HTTP struct {
		Addr string // 例如 ":8090"
	}

	// 分析引擎配置
	Safety struct {
		ThresholdsFile    string  // YAML 阈值文件路径，为空时使用默认阈值
		TelemetryTopic    string  // MQTT 遥测主题，默认 "robot/+/telemetry"
		QueueCapacity     int     // 遥测队列容量，默认 256
		SpikeMinSamples   int     // 突变检测最少读数，默认 6
		Contamination     float64 // 异常模型预期异常比例，默认 0.1
		MetricsHistoryMax int     // 内存中保留的指标条数，默认 10000
		HistoryWindow     int     // 训练使用的历史记录条数，默认 500
		NotifyWebhookURL  string  // 为空时不推送
		NotifyMinSeverity string  // 推送的最低级别，默认 HIGH

		RetrainInterval time.Duration
	}

	// Redis 缓存配置
	Cache struct {
		KeyPrefix    string        // 例如 "surgical:robot:"
		AlertsSuffix string        // ":alerts"
		ReportSuffix string        // ":report"
		AlertTTL     time.Duration // 报警缓存 TTL，默认 30 秒
		AlertStream  string        // 报警流，默认 "surgical:alerts:stream"
		StreamMaxLen int64         // 报警流近似长度上限
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置
func Load() (*Config, error) {
	cfg := &Config{}

	// 默认值，再由环境变量覆盖（DB_* / REDIS_* / MQTT_*）
	cfg.Database = config.DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Password: "postgres",
		Database: "surgical",
		SSLMode:  "disable",
		MaxConns: 10,
		MaxIdle:  5,
	}
	cfg.Database.LoadFromEnv("DB")

	cfg.Redis = config.RedisConfig{Addr: "localhost:6379"}
	cfg.Redis.LoadFromEnv("REDIS")

	cfg.MQTT = config.MQTTConfig{
		Broker:         "tcp://localhost:1883",
		ClientID:       "wisefido-surgical",
		QoS:            1,
		ConnectTimeout: 10 * time.Second,
	}
	cfg.MQTT.LoadFromEnv("MQTT")

	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8090")

	cfg.Safety.ThresholdsFile = getEnv("THRESHOLDS_FILE", "")
	cfg.Safety.TelemetryTopic = getEnv("TELEMETRY_TOPIC", "robot/+/telemetry")
	cfg.Safety.QueueCapacity = getEnvInt("QUEUE_CAPACITY", 256)
	cfg.Safety.SpikeMinSamples = getEnvInt("SPIKE_MIN_SAMPLES", 6)
	cfg.Safety.Contamination = getEnvFloat("MODEL_CONTAMINATION", 0.1)
	cfg.Safety.MetricsHistoryMax = getEnvInt("METRICS_HISTORY_MAX", 10000)
	cfg.Safety.RetrainInterval = getEnvDuration("RETRAIN_INTERVAL", time.Hour)
	cfg.Safety.HistoryWindow = getEnvInt("HISTORY_WINDOW", 500)
	cfg.Safety.NotifyWebhookURL = getEnv("NOTIFY_WEBHOOK_URL", "")
	cfg.Safety.NotifyMinSeverity = getEnv("NOTIFY_MIN_SEVERITY", "HIGH")

	cfg.Cache.KeyPrefix = getEnv("CACHE_KEY_PREFIX", "surgical:robot:")
	cfg.Cache.AlertsSuffix = ":alerts"
	cfg.Cache.ReportSuffix = ":report"
	cfg.Cache.AlertTTL = getEnvDuration("ALERT_TTL", 30*time.Second)
	cfg.Cache.AlertStream = getEnv("ALERT_STREAM", "surgical:alerts:stream")
	cfg.Cache.StreamMaxLen = 10000

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return v
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil && v > 0 {
		return v
	}
	return defaultValue
}

package service

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"wisefido-surgical/common/database"
	mqttcommon "wisefido-surgical/common/mqtt"
	rediscommon "wisefido-surgical/common/redis"
	"wisefido-surgical/internal/analytics"
	"wisefido-surgical/internal/anomaly"
	"wisefido-surgical/internal/config"
	"wisefido-surgical/internal/consumer"
	"wisefido-surgical/internal/evaluator"
	"wisefido-surgical/internal/httpapi"
	"wisefido-surgical/internal/metrics"
	"wisefido-surgical/internal/models"
	"wisefido-surgical/internal/notifier"
	"wisefido-surgical/internal/repository"
	"wisefido-surgical/internal/store"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	forwarderGroup    = "surgical-notifier"
	shutdownTimeout   = 5 * time.Second
	webhookTimeout    = 5 * time.Second
	procedureCapacity = 500
)

// Dependencies 外部连接；DB 为空时不做持久化，Redis 为空时不写缓存也不推送通知
type Dependencies struct {
	DB         *sql.DB
	Redis      *redis.Client
	Subscriber consumer.Subscriber
	Registry   *prometheus.Registry
}

// dispatchWorker 异步投递 worker（报警回调与分析结果下游）
type dispatchWorker interface {
	Run(ctx context.Context) error
	Dropped() uint64
}

// SafetyService 手术机器人安全分析服务（整合各层）
type SafetyService struct {
	config      *config.Config
	db          *sql.DB
	redisClient *redis.Client
	mqttClient  *mqttcommon.Client
	logger      *zap.Logger

	thresholds models.SafetyThresholds

	// 引擎
	alerts    *store.AlertStore
	history   *store.MetricsHistory
	model     *anomaly.MLAnomalyModel
	evaluator *evaluator.Evaluator

	// 流水线
	queue        *consumer.TelemetryQueue
	metrics      *consumer.Metrics
	monitor      *consumer.Monitor
	mqttConsumer *consumer.MQTTConsumer
	cacheManager *consumer.CacheManager
	recorder     *ProcedureRecorder
	trainer      *Trainer
	forwarder    *notifier.StreamForwarder
	dispatchers  []dispatchWorker

	// 展示层
	collectors *metrics.Collectors
	hub        *httpapi.AlertHub
	router     *httpapi.Router
	server     *Server
}

// NewSafetyService 连接 PostgreSQL / Redis / MQTT 并创建服务
func NewSafetyService(cfg *config.Config, logger *zap.Logger) (*SafetyService, error) {
	ctx := context.Background()

	// 1. 连接数据库并确保表结构
	db, err := database.NewPostgresDB(ctx, &cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := repository.EnsureSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	// 2. 连接 Redis
	redisClient, err := rediscommon.NewRedisClient(ctx, &cfg.Redis)
	if err != nil {
		db.Close()
		return nil, err
	}

	// 3. 连接 MQTT
	mqttClient, err := mqttcommon.NewClient(&cfg.MQTT, logger)
	if err != nil {
		db.Close()
		redisClient.Close()
		return nil, err
	}

	s, err := New(cfg, Dependencies{
		DB:         db,
		Redis:      redisClient,
		Subscriber: mqttClient,
	}, logger)
	if err != nil {
		db.Close()
		redisClient.Close()
		mqttClient.Disconnect()
		return nil, err
	}
	s.mqttClient = mqttClient
	return s, nil
}

// New 用已建立的连接组装服务
func New(cfg *config.Config, deps Dependencies, logger *zap.Logger) (*SafetyService, error) {
	if deps.Subscriber == nil {
		return nil, fmt.Errorf("telemetry subscriber is required")
	}
	registry := deps.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	s := &SafetyService{
		config:      cfg,
		db:          deps.DB,
		redisClient: deps.Redis,
		logger:      logger,
		thresholds:  config.LoadThresholds(cfg.Safety.ThresholdsFile, logger),
		collectors:  metrics.NewCollectors(registry),
		hub:         httpapi.NewAlertHub(logger),
	}

	// 1. 引擎
	s.alerts = store.NewAlertStore(store.DefaultAlertCapacity)
	s.history = store.NewMetricsHistory(cfg.Safety.MetricsHistoryMax)
	s.model = anomaly.NewMLAnomalyModel(cfg.Safety.Contamination, nil, logger)
	comparator := analytics.NewBaselineComparator(analytics.DefaultBaseline())
	scorer := analytics.NewSafetyScorer(s.alerts, logger)
	detector := analytics.NewStatisticalAnomalyDetector(cfg.Safety.SpikeMinSamples)
	detector.RegisterRule(analytics.ExcessiveForceRule{MaxForce: s.thresholds.MaxForce})
	detector.RegisterRule(analytics.CollisionProximityRule{MinSafeDistance: s.thresholds.MinSafeDistance})
	s.evaluator = evaluator.NewEvaluator(s.thresholds, scorer, detector, s.model, s.alerts, s.history, comparator, logger)

	// 2. 流水线
	s.queue = consumer.NewTelemetryQueue(cfg.Safety.QueueCapacity)
	s.metrics = consumer.NewMetrics()
	s.monitor = consumer.NewMonitor(s.queue, s.evaluator, s.metrics, logger)
	s.monitor.SetObserver(s.collectors)
	s.mqttConsumer = consumer.NewMQTTConsumer(deps.Subscriber, cfg.Safety.TelemetryTopic, cfg.MQTT.QoS, s.queue, s.metrics, logger)

	// 3. 报警回调（只做内存操作或入队；外部 I/O 在各自的投递 worker 中执行）
	s.alerts.OnAppend(s.collectors.ObserveAlert)
	s.alerts.OnAppend(s.hub.Broadcast)

	var (
		procedures    ProcedureSaver
		history       HistorySource
		states        StateStore
		alertArchive  httpapi.AlertArchive
		metricArchive httpapi.MetricsArchive
		reports       httpapi.ReportSource
		modelSaver    httpapi.ModelStateSaver
	)

	if deps.DB != nil {
		alertsRepo := repository.NewSafetyAlertsRepository(deps.DB, logger)
		metricsRepo := repository.NewSurgicalMetricsRepository(deps.DB, logger)
		proceduresRepo := repository.NewProcedureRecordsRepository(deps.DB, logger)
		stateRepo := repository.NewModelStateRepository(deps.DB, logger)

		s.dispatchAlerts("alert_archive", alertsRepo.HandleAlert)
		s.dispatchOutcomes("metrics_archive", metricsRepo)
		procedures, history, states = proceduresRepo, proceduresRepo, stateRepo
		alertArchive, metricArchive, modelSaver = alertsRepo, metricsRepo, stateRepo
	} else {
		mem := NewMemoryProcedureStore(procedureCapacity)
		procedures, history = mem, mem
	}

	if deps.Redis != nil {
		s.cacheManager = consumer.NewCacheManager(cfg, deps.Redis, logger)
		s.dispatchAlerts("alert_cache", s.cacheManager.HandleAlert)
		s.dispatchOutcomes("report_cache", s.cacheManager)
		reports = s.cacheManager

		if cfg.Safety.NotifyWebhookURL != "" {
			webhook := notifier.NewWebhookClient(cfg.Safety.NotifyWebhookURL, webhookTimeout, logger)
			s.forwarder = notifier.NewStreamForwarder(
				deps.Redis,
				cfg.Cache.AlertStream,
				forwarderGroup,
				cfg.MQTT.ClientID,
				webhook,
				models.Severity(cfg.Safety.NotifyMinSeverity),
				logger,
			)
		}
	}

	// 4. 训练数据与重训
	s.recorder = NewProcedureRecorder(procedures, logger)
	s.dispatchOutcomes("procedure_recorder", s.recorder)
	s.trainer = NewTrainer(s.model, history, states, cfg.Safety.HistoryWindow, cfg.Safety.RetrainInterval, logger)
	s.trainer.SetObserver(s.collectors)

	// 5. HTTP
	s.router = httpapi.NewRouter(logger)
	s.router.RegisterSafetyRoutes(httpapi.NewSafetyHandler(httpapi.SafetyHandlerDeps{
		Alerts:         s.alerts,
		AlertArchive:   alertArchive,
		Metrics:        s.history,
		MetricsArchive: metricArchive,
		Reports:        reports,
		Comparator:     comparator,
		Thresholds:     s.thresholds,
		Model:          s.model,
		ModelSaver:     modelSaver,
	}, logger))
	s.router.RegisterAlertStream(s.hub)
	s.router.RegisterHealth()
	s.router.HandleHandler("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	if cfg.HTTP.Addr != "" {
		s.server = NewServer(cfg.HTTP.Addr, s.router, logger)
	}

	return s, nil
}

func (s *SafetyService) dispatchAlerts(name string, handle func(models.SafetyAlert)) {
	d := consumer.NewAlertDispatcher(name, consumer.DefaultDispatchBuffer, handle, s.logger)
	s.alerts.OnAppend(d.Submit)
	s.dispatchers = append(s.dispatchers, d)
}

func (s *SafetyService) dispatchOutcomes(name string, sink consumer.OutcomeSink) {
	d := consumer.NewAsyncSink(name, sink, consumer.DefaultDispatchBuffer, s.logger)
	s.monitor.AddSink(d)
	s.dispatchers = append(s.dispatchers, d)
}

// Handler HTTP 路由
func (s *SafetyService) Handler() http.Handler {
	return s.router
}

// Submit 直接投递采样（进程内模拟器使用）；返回是否挤掉了最旧的采样
func (s *SafetyService) Submit(sample *models.TelemetrySample) bool {
	return s.queue.Push(sample)
}

// Alerts 报警窗口
func (s *SafetyService) Alerts() *store.AlertStore {
	return s.alerts
}

// History 指标历史
func (s *SafetyService) History() *store.MetricsHistory {
	return s.history
}

// Thresholds 生效的安全阈值
func (s *SafetyService) Thresholds() models.SafetyThresholds {
	return s.thresholds
}

// Start 启动服务，阻塞直到 ctx 取消或某个组件失败
func (s *SafetyService) Start(ctx context.Context) error {
	s.logger.Info("Starting surgical safety service",
		zap.String("telemetry_topic", s.config.Safety.TelemetryTopic),
		zap.Float64("max_force", s.thresholds.MaxForce),
		zap.Float64("safety_score_threshold", s.thresholds.SafetyScoreThreshold),
		zap.Bool("notifier_enabled", s.forwarder != nil),
	)

	if err := s.trainer.Restore(ctx); err != nil {
		s.logger.Warn("Failed to restore anomaly model", zap.Error(err))
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.monitor.Run(gCtx)
	})
	for _, d := range s.dispatchers {
		d := d
		g.Go(func() error {
			return d.Run(gCtx)
		})
	}
	g.Go(func() error {
		return s.mqttConsumer.Start(gCtx)
	})
	g.Go(func() error {
		return s.trainer.Run(gCtx)
	})
	if s.forwarder != nil {
		g.Go(func() error {
			return s.forwarder.Start(gCtx)
		})
	}
	if s.server != nil {
		g.Go(func() error {
			if err := s.server.Start(); err != nil {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return s.server.Stop(shutdownCtx)
		})
	}

	err := g.Wait()

	s.monitor.Stop()
	if stopErr := s.mqttConsumer.Stop(); stopErr != nil {
		s.logger.Warn("Failed to stop MQTT consumer", zap.Error(stopErr))
	}
	flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if flushErr := s.recorder.Flush(flushCtx); flushErr != nil {
		s.logger.Warn("Failed to flush procedure records", zap.Error(flushErr))
	}

	var dispatchDropped uint64
	for _, d := range s.dispatchers {
		dispatchDropped += d.Dropped()
	}

	snapshot := s.metrics.GetSnapshot()
	s.logger.Info("Surgical safety service stopped",
		zap.Uint64("dispatch_dropped", dispatchDropped),
		zap.Int64("samples_processed", snapshot.SamplesProcessed),
		zap.Int64("samples_dropped", snapshot.SamplesDropped),
		zap.Uint64("alerts_total", s.alerts.Total()),
	)
	return err
}

// Stop 关闭外部连接
func (s *SafetyService) Stop() error {
	s.logger.Info("Stopping surgical safety service")

	if s.mqttClient != nil {
		s.mqttClient.Disconnect()
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("Failed to close database", zap.Error(err))
		}
	}
	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			s.logger.Error("Failed to close redis", zap.Error(err))
		}
	}
	return nil
}

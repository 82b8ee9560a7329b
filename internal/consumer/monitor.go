package consumer

import (
	"context"
	"sync/atomic"
	"time"

	"wisefido-surgical/internal/evaluator"
	"wisefido-surgical/internal/models"

	"go.uber.org/zap"
)

// Analyzer 单采样分析接口（evaluator.Evaluator 实现）
type Analyzer interface {
	Evaluate(sample *models.TelemetrySample) evaluator.Outcome
}

// OutcomeSink 分析结果的下游（Redis 缓存、PostgreSQL 归档等）
type OutcomeSink interface {
	HandleOutcome(ctx context.Context, sample *models.TelemetrySample, out evaluator.Outcome) error
}

// Observer 流水线指标观察者（Prometheus）
type Observer interface {
	ObserveSample(out evaluator.Outcome, elapsed time.Duration)
	ObserveQueue(depth int, dropped uint64)
}

// Monitor 监控循环：从遥测队列取采样并同步分析
type Monitor struct {
	queue    *TelemetryQueue
	analyzer Analyzer
	sinks    []OutcomeSink
	observer Observer
	metrics  *Metrics
	logger   *zap.Logger

	pollInterval   time.Duration
	reportInterval time.Duration

	stopped atomic.Bool
}

// NewMonitor 创建监控循环
func NewMonitor(queue *TelemetryQueue, analyzer Analyzer, metrics *Metrics, logger *zap.Logger) *Monitor {
	return &Monitor{
		queue:          queue,
		analyzer:       analyzer,
		metrics:        metrics,
		logger:         logger,
		pollInterval:   100 * time.Millisecond,
		reportInterval: 60 * time.Second,
	}
}

// AddSink 添加下游
func (m *Monitor) AddSink(sink OutcomeSink) {
	m.sinks = append(m.sinks, sink)
}

// SetObserver 设置指标观察者
func (m *Monitor) SetObserver(o Observer) {
	m.observer = o
}

// Run 运行监控循环，直到 Stop 被调用或 ctx 取消
// 每个周期检查一次停止标志；分析失败不会终止循环
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.Info("Safety monitor started",
		zap.Int("queue_capacity", m.queue.Capacity()),
	)

	reportCtx, reportCancel := context.WithCancel(ctx)
	defer reportCancel()
	go m.reportMetrics(reportCtx)

	for {
		if m.stopped.Load() {
			m.logger.Info("Safety monitor stopped")
			return nil
		}
		select {
		case <-ctx.Done():
			m.logger.Info("Safety monitor stopped", zap.Error(ctx.Err()))
			return nil
		default:
		}

		sample, ok := m.queue.PopWait(ctx, m.pollInterval)
		if !ok {
			continue
		}
		m.process(ctx, sample)
	}
}

// Stop 设置停止标志，循环在当前周期结束后退出
func (m *Monitor) Stop() {
	m.stopped.Store(true)
	m.queue.Wake()
}

func (m *Monitor) process(ctx context.Context, sample *models.TelemetrySample) {
	start := time.Now()
	out := m.analyzer.Evaluate(sample)
	elapsed := time.Since(start)

	if out.Failed {
		m.metrics.IncrementFailed(errorAnalyze)
	}
	m.metrics.IncrementProcessed(elapsed)

	if m.observer != nil {
		m.observer.ObserveSample(out, elapsed)
		m.observer.ObserveQueue(m.queue.Len(), m.queue.Dropped())
	}

	for _, sink := range m.sinks {
		if err := sink.HandleOutcome(ctx, sample, out); err != nil {
			m.metrics.IncrementFailed(errorSink)
			m.logger.Warn("Failed to deliver analysis outcome",
				zap.String("robot_id", sample.RobotID),
				zap.Error(err),
			)
		}
	}

	if out.Report.RiskAssessment == models.RiskCritical {
		m.logger.Warn("Critical safety risk",
			zap.String("robot_id", sample.RobotID),
			zap.Float64("safety_score", out.Score),
			zap.Int("anomalies", len(out.Report.AnomaliesDetected)),
		)
	}
}

// reportMetrics 定期输出监控指标
func (m *Monitor) reportMetrics(ctx context.Context) {
	ticker := time.NewTicker(m.reportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snapshot := m.metrics.GetSnapshot()
			m.logger.Info("Safety monitor metrics",
				zap.Duration("uptime", time.Since(snapshot.StartTime)),
				zap.Int64("messages_received", snapshot.MessagesReceived),
				zap.Int64("samples_processed", snapshot.SamplesProcessed),
				zap.Int64("samples_dropped", snapshot.SamplesDropped),
				zap.Int64("messages_failed", snapshot.MessagesFailed),
				zap.Int64("errors_parse", snapshot.ErrorsParse),
				zap.Int64("errors_analyze", snapshot.ErrorsAnalyze),
				zap.Int64("errors_sink", snapshot.ErrorsSink),
				zap.Duration("avg_processing_time", snapshot.AverageProcessingTime()),
				zap.Int("queue_depth", m.queue.Len()),
			)
		}
	}
}

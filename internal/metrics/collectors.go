package metrics

import (
	"time"

	"wisefido-surgical/internal/evaluator"
	"wisefido-surgical/internal/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "surgical_safety"

// Collectors Prometheus 流水线指标
type Collectors struct {
	SamplesTotal      *prometheus.CounterVec
	AlertsTotal       *prometheus.CounterVec
	SafetyScore       prometheus.Gauge
	ProcessingSeconds prometheus.Histogram
	QueueDepth        prometheus.Gauge
	QueueDropped      prometheus.Gauge
	ModelTrained      prometheus.Gauge
	TrainingsTotal    *prometheus.CounterVec
}

// NewCollectors 在给定注册表上注册指标
func NewCollectors(reg prometheus.Registerer) *Collectors {
	factory := promauto.With(reg)
	return &Collectors{
		SamplesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_total",
			Help:      "Telemetry samples analyzed, by risk assessment",
		}, []string{"risk"}),
		AlertsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Safety alerts raised, by type and severity",
		}, []string{"type", "severity"}),
		SafetyScore: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "score",
			Help:      "Most recent safety compliance score (0-100)",
		}),
		ProcessingSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "processing_seconds",
			Help:      "Time spent analyzing one telemetry sample",
			Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1},
		}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Samples waiting in the telemetry queue",
		}),
		QueueDropped: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_dropped_total",
			Help:      "Samples discarded because the telemetry queue was full",
		}),
		ModelTrained: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "model_trained",
			Help:      "1 when the anomaly model holds a trained snapshot",
		}),
		TrainingsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_trainings_total",
			Help:      "Anomaly model training attempts, by result",
		}, []string{"result"}),
	}
}

// ObserveSample 记录单个采样的分析结果
func (c *Collectors) ObserveSample(out evaluator.Outcome, elapsed time.Duration) {
	c.SamplesTotal.WithLabelValues(out.Report.RiskAssessment).Inc()
	c.ProcessingSeconds.Observe(elapsed.Seconds())
	if !out.Failed {
		c.SafetyScore.Set(out.Score)
	}
}

// ObserveQueue 记录队列状态
func (c *Collectors) ObserveQueue(depth int, dropped uint64) {
	c.QueueDepth.Set(float64(depth))
	c.QueueDropped.Set(float64(dropped))
}

// ObserveAlert AlertStore 追加回调
func (c *Collectors) ObserveAlert(alert models.SafetyAlert) {
	c.AlertsTotal.WithLabelValues(alert.Type, string(alert.Severity)).Inc()
}

// ObserveTraining 记录一次训练结果
func (c *Collectors) ObserveTraining(trained bool, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.TrainingsTotal.WithLabelValues(result).Inc()
	if trained {
		c.ModelTrained.Set(1)
	} else {
		c.ModelTrained.Set(0)
	}
}

package analytics

import (
	"fmt"
	"math"
	"sync"
	"time"

	"wisefido-surgical/internal/models"
)

const (
	// DefaultSpikeThreshold 相邻力读数差值阈值（N）
	DefaultSpikeThreshold = 5.0
	// DefaultSpikeMinSamples 检测所需的最少读数
	DefaultSpikeMinSamples = 6
)

// AnomalyRule 可扩展的异常规则（运动模式、手术时序等）
type AnomalyRule interface {
	Name() string
	Evaluate(sample *models.TelemetrySample) []models.SafetyAlert
}

// StatisticalAnomalyDetector 一阶差分突变检测 + 可注册的附加规则
type StatisticalAnomalyDetector struct {
	Threshold  float64
	MinSamples int

	mu    sync.RWMutex
	rules []AnomalyRule
}

// NewStatisticalAnomalyDetector 创建检测器；minSamples <= 0 时使用默认值
func NewStatisticalAnomalyDetector(minSamples int) *StatisticalAnomalyDetector {
	if minSamples <= 0 {
		minSamples = DefaultSpikeMinSamples
	}
	return &StatisticalAnomalyDetector{
		Threshold:  DefaultSpikeThreshold,
		MinSamples: minSamples,
	}
}

// DetectForceSpikes 检测力读数突变
// 读数少于 MinSamples 时返回空列表（不是错误）
func (d *StatisticalAnomalyDetector) DetectForceSpikes(readings []float64) []models.SafetyAlert {
	alerts := []models.SafetyAlert{}
	if len(readings) < d.MinSamples {
		return alerts
	}

	for i, delta := range Diff(readings) {
		if math.Abs(delta) <= d.Threshold {
			continue
		}
		n := len(alerts) + 1
		alerts = append(alerts, models.NewSafetyAlert(
			models.AlertTypeForceSpike,
			fmt.Sprintf("%s_%d", models.AlertTypeForceSpike, n),
			models.SeverityMedium,
			models.ComponentForceSensors,
			fmt.Sprintf("Sudden force change detected: %+.2fN at reading %d", delta, i+1),
			"Check instrument contact and tissue interaction",
			time.Time{},
		))
	}
	return alerts
}

// RegisterRule 注册附加规则
func (d *StatisticalAnomalyDetector) RegisterRule(rule AnomalyRule) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rules = append(d.rules, rule)
}

// Rules 已注册规则名称
func (d *StatisticalAnomalyDetector) Rules() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.rules))
	for _, r := range d.rules {
		names = append(names, r.Name())
	}
	return names
}

// EvaluateRules 依次执行已注册规则，合并结果
func (d *StatisticalAnomalyDetector) EvaluateRules(sample *models.TelemetrySample) []models.SafetyAlert {
	d.mu.RLock()
	rules := make([]AnomalyRule, len(d.rules))
	copy(rules, d.rules)
	d.mu.RUnlock()

	alerts := []models.SafetyAlert{}
	for _, r := range rules {
		alerts = append(alerts, r.Evaluate(sample)...)
	}
	return alerts
}

// ExcessiveForceRule 峰值力超过 max_force 时报警
type ExcessiveForceRule struct {
	MaxForce float64
}

func (r ExcessiveForceRule) Name() string { return "excessive_force" }

func (r ExcessiveForceRule) Evaluate(sample *models.TelemetrySample) []models.SafetyAlert {
	if sample == nil || len(sample.ForceReadings) == 0 {
		return nil
	}
	_, peak := MinMax(sample.ForceReadings)
	if peak <= r.MaxForce {
		return nil
	}
	return []models.SafetyAlert{models.NewSafetyAlert(
		models.AlertTypeExcessiveForce,
		models.AlertTypeExcessiveForce,
		models.SeverityHigh,
		models.ComponentForceSensors,
		fmt.Sprintf("Peak force %.2fN exceeds limit %.2fN", peak, r.MaxForce),
		"Reduce applied force immediately",
		sample.Timestamp,
	)}
}

// CollisionWarningFactor 预警距离 = min_safe_distance × 该系数
const CollisionWarningFactor = 2.5

// CollisionProximityRule 最近障碍物距离检查
// 小于 MinSafeDistance 为 HIGH，小于预警距离为 LOW
type CollisionProximityRule struct {
	MinSafeDistance float64
}

func (r CollisionProximityRule) Name() string { return "collision_proximity" }

func (r CollisionProximityRule) Evaluate(sample *models.TelemetrySample) []models.SafetyAlert {
	if sample == nil || len(sample.ObstacleDistances) == 0 {
		return nil
	}
	nearest, _ := MinMax(sample.ObstacleDistances)

	switch {
	case nearest < r.MinSafeDistance:
		return []models.SafetyAlert{models.NewSafetyAlert(
			models.AlertTypeCollisionRisk,
			models.AlertTypeCollisionRisk,
			models.SeverityHigh,
			models.ComponentCollision,
			fmt.Sprintf("Obstacle at %.2fmm, below safe distance %.2fmm", nearest, r.MinSafeDistance),
			"Stop motion and retract instrument",
			sample.Timestamp,
		)}
	case nearest < r.MinSafeDistance*CollisionWarningFactor:
		return []models.SafetyAlert{models.NewSafetyAlert(
			models.AlertTypeCollisionWarning,
			models.AlertTypeCollisionWarning,
			models.SeverityLow,
			models.ComponentCollision,
			fmt.Sprintf("Obstacle approaching at %.2fmm", nearest),
			"Reduce speed near obstacle",
			sample.Timestamp,
		)}
	}
	return nil
}

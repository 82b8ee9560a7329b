package analytics

import (
	"fmt"
	"math"

	"wisefido-surgical/internal/models"

	"go.uber.org/zap"
)

// 合规因子权重（总和为 1.0）
const (
	WeightForce         = 0.30
	WeightVelocity      = 0.25
	WeightBoundary      = 0.20
	WeightCollision     = 0.15
	WeightEmergencyStop = 0.10
)

// SystemAlerter 系统级报警通道（AlertStore 实现）
type SystemAlerter interface {
	TriggerSystemAlert(kind, message string) models.SafetyAlert
}

// ComplianceFactors 五个合规因子，均在 [0,1]
type ComplianceFactors struct {
	Force         float64 `json:"force_compliance"`
	Velocity      float64 `json:"velocity_compliance"`
	Boundary      float64 `json:"boundary_compliance"`
	Collision     float64 `json:"collision_avoidance"`
	EmergencyStop float64 `json:"emergency_stop_status"`
}

// Weighted 加权求和，结果在 [0,1]
func (f ComplianceFactors) Weighted() float64 {
	return f.Force*WeightForce +
		f.Velocity*WeightVelocity +
		f.Boundary*WeightBoundary +
		f.Collision*WeightCollision +
		f.EmergencyStop*WeightEmergencyStop
}

// ComputeFactors 计算合规因子（纯函数）
// 障碍物距离为空时 collision=1.0，其余三个信号为空时为 0.0
func ComputeFactors(sample *models.TelemetrySample, th models.SafetyThresholds) ComplianceFactors {
	f := ComplianceFactors{
		Force:     ForceCompliance(sample.ForceReadings, th.MaxForce),
		Velocity:  ratio(sample.JointVelocities, func(v float64) bool { return math.Abs(v) <= th.MaxVelocity }),
		Boundary:  ratio(sample.Positions, func(p float64) bool { return math.Abs(p) <= th.MaxJointAngle }),
		Collision: CollisionAvoidance(sample.ObstacleDistances, th.MinSafeDistance),
	}
	if sample.EmergencyStop {
		f.EmergencyStop = 0.0
	} else {
		f.EmergencyStop = 1.0
	}
	return f
}

// ForceCompliance 力读数 ≤ maxForce 的比例，空序列为 0.0
func ForceCompliance(readings []float64, maxForce float64) float64 {
	return ratio(readings, func(f float64) bool { return f <= maxForce })
}

// CollisionAvoidance 距离 ≥ minSafe 的比例，空序列为 1.0
func CollisionAvoidance(distances []float64, minSafe float64) float64 {
	if len(distances) == 0 {
		return 1.0
	}
	return ratio(distances, func(d float64) bool { return d >= minSafe })
}

func ratio(xs []float64, ok func(float64) bool) float64 {
	if len(xs) == 0 {
		return 0.0
	}
	n := 0
	for _, x := range xs {
		if ok(x) {
			n++
		}
	}
	return float64(n) / float64(len(xs))
}

// Violations 统计本次采样中超出阈值的读数个数（急停计 1 次）
func Violations(sample *models.TelemetrySample, th models.SafetyThresholds) int {
	count := 0
	for _, f := range sample.ForceReadings {
		if !(f <= th.MaxForce) {
			count++
		}
	}
	for _, v := range sample.JointVelocities {
		if !(math.Abs(v) <= th.MaxVelocity) {
			count++
		}
	}
	for _, p := range sample.Positions {
		if !(math.Abs(p) <= th.MaxJointAngle) {
			count++
		}
	}
	for _, d := range sample.ObstacleDistances {
		if !(d >= th.MinSafeDistance) {
			count++
		}
	}
	if sample.EmergencyStop {
		count++
	}
	return count
}

// SafetyScorer 基于规则的加权安全合规评分器（无内部状态）
type SafetyScorer struct {
	alerter SystemAlerter
	logger  *zap.Logger
}

// NewSafetyScorer 创建评分器；alerter 用于上报计算故障
func NewSafetyScorer(alerter SystemAlerter, logger *zap.Logger) *SafetyScorer {
	return &SafetyScorer{
		alerter: alerter,
		logger:  logger,
	}
}

// Score 计算安全评分 ∈ [0,100]，保留两位小数
// 任何内部计算故障都返回 0.0，并通过 alerter 发出一条 ANALYTICS_ERROR 报警
func (s *SafetyScorer) Score(sample *models.TelemetrySample, th models.SafetyThresholds) (score float64) {
	defer func() {
		if r := recover(); r != nil {
			score = 0.0
			s.fault(fmt.Sprintf("safety scoring panicked: %v", r))
		}
	}()

	if sample == nil {
		s.fault("safety scoring received nil telemetry sample")
		return 0.0
	}

	raw := 100 * ComputeFactors(sample, th).Weighted()
	if math.IsNaN(raw) || math.IsInf(raw, 0) {
		s.fault(fmt.Sprintf("safety score is not finite: %v", raw))
		return 0.0
	}

	return Round2(math.Max(0, math.Min(100, raw)))
}

func (s *SafetyScorer) fault(message string) {
	s.logger.Error("Safety scoring failed", zap.String("reason", message))
	if s.alerter != nil {
		s.alerter.TriggerSystemAlert(models.AlertTypeAnalyticsError, message)
	}
}

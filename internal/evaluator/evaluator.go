package evaluator

import (
	"fmt"
	"math"
	"sync"
	"time"

	"wisefido-surgical/internal/analytics"
	"wisefido-surgical/internal/anomaly"
	"wisefido-surgical/internal/models"
	"wisefido-surgical/internal/store"

	"go.uber.org/zap"
)

// ContactForceLevel 器械接触判定力（N）
const ContactForceLevel = 0.5

// CriticalScore 低于该分数直接判为 CRITICAL
const CriticalScore = 50.0

// Outcome 单个采样的完整分析结果
type Outcome struct {
	Report  models.PerformanceReport
	Metrics *models.SurgicalMetrics // 分析失败时为 nil
	Score   float64
	Failed  bool
}

// Evaluator 单采样分析流水线
// 评分 → 突变检测 / 附加规则 / 模型检测 → 写入报警 → 写入指标 → 基线对比
type Evaluator struct {
	thresholds models.SafetyThresholds
	scorer     *analytics.SafetyScorer
	detector   *analytics.StatisticalAnomalyDetector
	model      *anomaly.MLAnomalyModel
	alerts     *store.AlertStore
	history    *store.MetricsHistory
	comparator *analytics.BaselineComparator
	logger     *zap.Logger

	procedures *procedureTracker
	estops     *estopTracker
}

// NewEvaluator 创建评估器
func NewEvaluator(
	thresholds models.SafetyThresholds,
	scorer *analytics.SafetyScorer,
	detector *analytics.StatisticalAnomalyDetector,
	model *anomaly.MLAnomalyModel,
	alerts *store.AlertStore,
	history *store.MetricsHistory,
	comparator *analytics.BaselineComparator,
	logger *zap.Logger,
) *Evaluator {
	return &Evaluator{
		thresholds: thresholds,
		scorer:     scorer,
		detector:   detector,
		model:      model,
		alerts:     alerts,
		history:    history,
		comparator: comparator,
		logger:     logger,
		procedures: newProcedureTracker(),
		estops:     newEstopTracker(),
	}
}

// Thresholds 当前安全阈值
func (e *Evaluator) Thresholds() models.SafetyThresholds {
	return e.thresholds
}

// Analyze 分析单个采样，任何内部故障都返回默认报告
func (e *Evaluator) Analyze(sample *models.TelemetrySample) models.PerformanceReport {
	return e.Evaluate(sample).Report
}

// Evaluate 分析单个采样并返回报告与指标
func (e *Evaluator) Evaluate(sample *models.TelemetrySample) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = e.fail(fmt.Sprintf("analysis panicked: %v", r))
		}
	}()

	if sample == nil {
		return e.fail("received nil telemetry sample")
	}

	ts := sample.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	score := e.scorer.Score(sample, e.thresholds)

	anomalies := e.detectAnomalies(sample, score, ts)
	for _, a := range anomalies {
		e.alerts.Append(a)
	}

	metrics := e.buildMetrics(sample, score, ts)
	e.history.Record(metrics)

	gap := e.comparator.CompareToBaseline(&metrics)
	report := models.PerformanceReport{
		ProcedureTime:      metrics.ProcedureDuration,
		MovementEfficiency: metrics.MovementEconomy,
		SafetyCompliance:   score,
		InstrumentUsage:    metrics.InstrumentEfficiency,
		RiskAssessment:     e.assessRisk(score, sample.EmergencyStop),
		AnomaliesDetected:  anomalies,
		PerformanceGap:     gap,
		Recommendations:    e.comparator.Recommend(gap),
	}

	if len(anomalies) > 0 {
		e.logger.Debug("Anomalies detected",
			zap.String("robot_id", sample.RobotID),
			zap.Int("count", len(anomalies)),
			zap.Float64("safety_score", score),
		)
	}

	return Outcome{Report: report, Metrics: &metrics, Score: score}
}

func (e *Evaluator) fail(message string) Outcome {
	e.logger.Error("Analysis failed, returning default report", zap.String("reason", message))
	e.alerts.TriggerSystemAlert(models.AlertTypeAnalyticsError, message)
	return Outcome{Report: models.DefaultPerformanceReport(), Failed: true}
}

func (e *Evaluator) detectAnomalies(sample *models.TelemetrySample, score float64, ts time.Time) []models.SafetyAlert {
	anomalies := []models.SafetyAlert{}

	// 急停只在状态切换时报警
	switch e.estops.update(sample.RobotID, sample.EmergencyStop) {
	case estopEngaged:
		anomalies = append(anomalies, models.NewSafetyAlert(
			models.AlertTypeEmergencyStop,
			models.AlertTypeEmergencyStop,
			models.SeverityCritical,
			models.ComponentSafetySystem,
			"Emergency stop engaged",
			"Halt procedure and verify patient and robot state before resuming",
			ts,
		))
	case estopCleared:
		anomalies = append(anomalies, models.NewSafetyAlert(
			models.AlertTypeOperationResumed,
			models.AlertTypeOperationResumed,
			models.SeverityLow,
			models.ComponentSafetySystem,
			"Emergency stop released, normal operation resumed",
			"Confirm instrument positions before continuing the procedure",
			ts,
		))
	}
	if score < e.thresholds.SafetyScoreThreshold {
		anomalies = append(anomalies, models.NewSafetyAlert(
			models.AlertTypeLowSafetyScore,
			models.AlertTypeLowSafetyScore,
			models.SeverityHigh,
			models.ComponentSafetySystem,
			fmt.Sprintf("Safety score %.2f below threshold %.2f", score, e.thresholds.SafetyScoreThreshold),
			"Review safety parameters and reduce operating speed",
			ts,
		))
	}

	anomalies = append(anomalies, e.detector.DetectForceSpikes(sample.ForceReadings)...)
	anomalies = append(anomalies, e.detector.EvaluateRules(sample)...)
	anomalies = append(anomalies, e.model.Detect(analytics.DomainForce, sample)...)
	anomalies = append(anomalies, e.model.Detect(analytics.DomainMovement, sample)...)

	for i := range anomalies {
		anomalies[i].RobotID = sample.RobotID
	}
	return anomalies
}

func (e *Evaluator) buildMetrics(sample *models.TelemetrySample, score float64, ts time.Time) models.SurgicalMetrics {
	completion := 0.0
	if idx := models.PhaseIndex(sample.ProcedurePhase); idx >= 0 {
		completion = float64(idx) / float64(len(models.ProcedurePhases)-1)
	}

	return models.SurgicalMetrics{
		RobotID:              sample.RobotID,
		ProcedureDuration:    analytics.Round2(e.procedures.elapsed(sample.RobotID, sample.ProcedurePhase, ts).Minutes()),
		InstrumentEfficiency: instrumentUsage(sample.ForceReadings),
		MovementEconomy:      e.movementEfficiency(sample.JointVelocities),
		ForceVariability:     analytics.StdDev(sample.ForceReadings),
		CompletionRate:       completion,
		SafetyScore:          score,
		SafetyViolations:     analytics.Violations(sample, e.thresholds),
		Timestamp:            ts,
	}
}

// movementEfficiency = clamp(1 - mean|v| / max_velocity, 0, 1)
func (e *Evaluator) movementEfficiency(velocities []float64) float64 {
	if len(velocities) == 0 || e.thresholds.MaxVelocity <= 0 {
		return 0
	}
	sum := 0.0
	for _, v := range velocities {
		sum += math.Abs(v)
	}
	eff := 1 - (sum/float64(len(velocities)))/e.thresholds.MaxVelocity
	return math.Max(0, math.Min(1, eff))
}

func instrumentUsage(forces []float64) float64 {
	if len(forces) == 0 {
		return 0
	}
	contact := 0
	for _, f := range forces {
		if f > ContactForceLevel {
			contact++
		}
	}
	return float64(contact) / float64(len(forces))
}

func (e *Evaluator) assessRisk(score float64, emergencyStop bool) string {
	switch {
	case emergencyStop || score < CriticalScore:
		return models.RiskCritical
	case score < e.thresholds.SafetyScoreThreshold-10:
		return models.RiskHigh
	case score < e.thresholds.SafetyScoreThreshold:
		return models.RiskMedium
	default:
		return models.RiskLow
	}
}

// procedureTracker 记录每台机器人当前手术的开始时间
type procedureTracker struct {
	mu     sync.Mutex
	starts map[string]time.Time
	phases map[string]string
}

func newProcedureTracker() *procedureTracker {
	return &procedureTracker{
		starts: make(map[string]time.Time),
		phases: make(map[string]string),
	}
}

// elapsed 首个采样开始计时；阶段回到 INITIALIZATION 时重新计时
func (t *procedureTracker) elapsed(robotID, phase string, ts time.Time) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	start, ok := t.starts[robotID]
	restarted := phase == models.PhaseInitialization && t.phases[robotID] != models.PhaseInitialization
	if !ok || restarted {
		start = ts
		t.starts[robotID] = ts
	}
	t.phases[robotID] = phase

	if d := ts.Sub(start); d > 0 {
		return d
	}
	return 0
}

type estopTransition int

const (
	estopUnchanged estopTransition = iota
	estopEngaged
	estopCleared
)

// estopTracker 每台机器人的急停状态
type estopTracker struct {
	mu      sync.Mutex
	engaged map[string]bool
}

func newEstopTracker() *estopTracker {
	return &estopTracker{engaged: make(map[string]bool)}
}

func (t *estopTracker) update(robotID string, engaged bool) estopTransition {
	t.mu.Lock()
	defer t.mu.Unlock()

	was := t.engaged[robotID]
	t.engaged[robotID] = engaged
	switch {
	case engaged && !was:
		return estopEngaged
	case !engaged && was:
		return estopCleared
	default:
		return estopUnchanged
	}
}

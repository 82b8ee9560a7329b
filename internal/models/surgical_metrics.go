package models

import "time"

// SurgicalMetrics 单周期手术表现指标（追加写入历史）
type SurgicalMetrics struct {
	RobotID              string    `json:"robot_id,omitempty"`
	ProcedureDuration    float64   `json:"procedure_duration"` // 分钟
	InstrumentEfficiency float64   `json:"instrument_efficiency"`
	MovementEconomy      float64   `json:"movement_economy"`
	ForceVariability     float64   `json:"force_variability"`
	CompletionRate       float64   `json:"completion_rate"`
	SafetyScore          float64   `json:"safety_score"`
	SafetyViolations     int       `json:"safety_violations"`
	Timestamp            time.Time `json:"timestamp"`
}

// 风险评估等级
const (
	RiskLow      = "LOW"
	RiskMedium   = "MEDIUM"
	RiskHigh     = "HIGH"
	RiskCritical = "CRITICAL"
	RiskUnknown  = "UNKNOWN"
)

// MaintenanceRecommendation 无数据或分析失败时的唯一建议
const MaintenanceRecommendation = "System under maintenance"

// PerformanceReport 单个采样的分析结果（对外 8 个字段）
type PerformanceReport struct {
	ProcedureTime      float64            `json:"procedure_time"`
	MovementEfficiency float64            `json:"movement_efficiency"`
	SafetyCompliance   float64            `json:"safety_compliance"`
	InstrumentUsage    float64            `json:"instrument_usage"`
	RiskAssessment     string             `json:"risk_assessment"`
	AnomaliesDetected  []SafetyAlert      `json:"anomalies_detected"`
	PerformanceGap     map[string]float64 `json:"performance_gap"`
	Recommendations    []string           `json:"recommendations"`
}

// DefaultPerformanceReport 分析失败时返回的默认结果
func DefaultPerformanceReport() PerformanceReport {
	return PerformanceReport{
		ProcedureTime:      0,
		MovementEfficiency: 0,
		SafetyCompliance:   0,
		InstrumentUsage:    0,
		RiskAssessment:     RiskUnknown,
		AnomaliesDetected:  []SafetyAlert{},
		PerformanceGap:     map[string]float64{},
		Recommendations:    []string{MaintenanceRecommendation},
	}
}

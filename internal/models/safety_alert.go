package models

import (
	"time"

	"github.com/google/uuid"
)

// Severity 报警级别
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Rank 级别排序值，越大越严重
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

// 报警类型
const (
	AlertTypeForceSpike       = "FORCE_SPIKE"
	AlertTypeForceAnomaly     = "FORCE_ANOMALY"
	AlertTypeMovementAnomaly  = "MOVEMENT_ANOMALY"
	AlertTypeAnalyticsError   = "ANALYTICS_ERROR"
	AlertTypeEmergencyStop    = "EMERGENCY_STOP"
	AlertTypeOperationResumed = "NORMAL_OPERATION_RESUMED"
	AlertTypeLowSafetyScore   = "LOW_SAFETY_SCORE"
	AlertTypeExcessiveForce   = "EXCESSIVE_FORCE"
	AlertTypeCollisionRisk    = "COLLISION_RISK"
	AlertTypeCollisionWarning = "COLLISION_WARNING"
)

// 报警来源子系统
const (
	ComponentForceSensors  = "Force_Sensors"
	ComponentMotionControl = "Motion_Control"
	ComponentSafetySystem  = "Safety_System"
	ComponentCollision     = "Collision_Detection"
)

// SafetyAlert 安全报警（创建后不可变）
// ID 为规则内标识（如 FORCE_SPIKE_1），EventID 为全局唯一的持久化主键
type SafetyAlert struct {
	ID                string    `json:"id"`
	EventID           string    `json:"event_id"`
	Type              string    `json:"type"`
	RobotID           string    `json:"robot_id,omitempty"`
	Severity          Severity  `json:"severity"`
	Message           string    `json:"message"`
	Timestamp         time.Time `json:"timestamp"`
	RecommendedAction string    `json:"recommended_action"`
	Component         string    `json:"component"`
	Score             *float64  `json:"score,omitempty"`
}

// NewSafetyAlert 构建报警并分配全局唯一 EventID
func NewSafetyAlert(alertType, id string, severity Severity, component, message, action string, ts time.Time) SafetyAlert {
	if ts.IsZero() {
		ts = time.Now()
	}
	return SafetyAlert{
		ID:                id,
		EventID:           uuid.New().String(),
		Type:              alertType,
		Severity:          severity,
		Message:           message,
		Timestamp:         ts,
		RecommendedAction: action,
		Component:         component,
	}
}

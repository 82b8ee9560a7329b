package models

import "time"

// TelemetrySample 手术机器人遥测采样（生产者创建后只读）
type TelemetrySample struct {
	RobotID           string      `json:"robot_id"`
	ForceReadings     []float64   `json:"force_readings"`     // 力传感器读数（N）
	JointVelocities   []float64   `json:"joint_velocities"`   // 关节速度（mm/s）
	Positions         []float64   `json:"positions"`          // 关节角度（度）
	ObstacleDistances []float64   `json:"obstacle_distances"` // 障碍物距离（mm）
	EmergencyStop     bool        `json:"emergency_stop"`
	ProcedurePhase    string      `json:"procedure_phase"`
	MovementPatterns  [][]float64 `json:"movement_patterns,omitempty"` // 行=时间步，列=关节
	Timestamp         time.Time   `json:"timestamp"`
}

// SafetyThresholds 安全阈值（启动时加载，运行期间不可变）
type SafetyThresholds struct {
	MaxForce             float64 `json:"max_force" yaml:"max_force"`
	MaxVelocity          float64 `json:"max_velocity" yaml:"max_velocity"`
	MinSafeDistance      float64 `json:"min_safe_distance" yaml:"min_safe_distance"`
	MaxJointAngle        float64 `json:"max_joint_angle" yaml:"max_joint_angle"`
	SafetyScoreThreshold float64 `json:"safety_score_threshold" yaml:"safety_score_threshold"`
}

// DefaultSafetyThresholds 默认安全阈值
func DefaultSafetyThresholds() SafetyThresholds {
	return SafetyThresholds{
		MaxForce:             15.0,
		MaxVelocity:          50.0,
		MinSafeDistance:      2.0,
		MaxJointAngle:        180.0,
		SafetyScoreThreshold: 75.0,
	}
}

// 手术阶段（按流程顺序）
const (
	PhaseInitialization = "INITIALIZATION"
	PhasePreparation    = "PREPARATION"
	PhaseIncision       = "INCISION"
	PhaseDissection     = "DISSECTION"
	PhaseSuturing       = "SUTURING"
	PhaseClosing        = "CLOSING"
	PhaseComplete       = "COMPLETE"
)

// ProcedurePhases 手术阶段顺序，用于计算完成率
var ProcedurePhases = []string{
	PhaseInitialization,
	PhasePreparation,
	PhaseIncision,
	PhaseDissection,
	PhaseSuturing,
	PhaseClosing,
	PhaseComplete,
}

// PhaseIndex 返回阶段在流程中的位置，未知阶段返回 -1
func PhaseIndex(phase string) int {
	for i, p := range ProcedurePhases {
		if p == phase {
			return i
		}
	}
	return -1
}

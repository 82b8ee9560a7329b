package models

import "time"

// ProcedureRecord 历史手术记录（用于训练异常检测模型）
// ForceWindow / MovementWindow 为单个采样的读数个数 / 运动行数，训练时按该长度切分，
// 与单采样检测的输入粒度一致；为 0 时整条记录作为一个训练样本
type ProcedureRecord struct {
	ProcedureID      string      `json:"procedure_id"`
	RobotID          string      `json:"robot_id"`
	ForceReadings    []float64   `json:"force_readings"`
	MovementPatterns [][]float64 `json:"movement_patterns"`
	ForceWindow      int         `json:"force_window"`
	MovementWindow   int         `json:"movement_window"`
	RecordedAt       time.Time   `json:"recorded_at"`
}

package analytics

import "wisefido-surgical/internal/models"

// 基线对比的指标键
const (
	GapProcedureTime      = "procedure_time"
	GapMovementEfficiency = "movement_efficiency"
	GapSafetyScore        = "safety_score"
	GapForceVariability   = "force_variability"
)

// Baseline 基线指标
type Baseline struct {
	ProcedureTime      float64 `json:"procedure_time"`
	MovementEfficiency float64 `json:"movement_efficiency"`
	SafetyScore        float64 `json:"safety_score"`
	ForceVariability   float64 `json:"force_variability"`
}

// DefaultBaseline 默认基线
func DefaultBaseline() Baseline {
	return Baseline{
		ProcedureTime:      45.0,
		MovementEfficiency: 0.85,
		SafetyScore:        95.0,
		ForceVariability:   2.5,
	}
}

// 建议触发容差
const (
	ProcedureTimeTolerance      = 10.0
	MovementEfficiencyTolerance = -0.10
	SafetyScoreTolerance        = -5.0
	ForceVariabilityTolerance   = 1.0
)

// BaselineComparator 与基线比较并生成建议（无状态）
type BaselineComparator struct {
	baseline Baseline
}

func NewBaselineComparator(baseline Baseline) *BaselineComparator {
	return &BaselineComparator{baseline: baseline}
}

// Baseline 当前基线
func (c *BaselineComparator) Baseline() Baseline {
	return c.baseline
}

// CompareToBaseline 当前值 - 基线值；metrics 为 nil 时返回空 map
func (c *BaselineComparator) CompareToBaseline(m *models.SurgicalMetrics) map[string]float64 {
	gap := map[string]float64{}
	if m == nil {
		return gap
	}
	gap[GapProcedureTime] = Round2(m.ProcedureDuration - c.baseline.ProcedureTime)
	gap[GapMovementEfficiency] = m.MovementEconomy - c.baseline.MovementEfficiency
	gap[GapSafetyScore] = Round2(m.SafetyScore - c.baseline.SafetyScore)
	gap[GapForceVariability] = m.ForceVariability - c.baseline.ForceVariability
	return gap
}

// Recommend 根据差距生成建议；差距为空返回维护提示，全部在容差内返回空列表
func (c *BaselineComparator) Recommend(gap map[string]float64) []string {
	if len(gap) == 0 {
		return []string{models.MaintenanceRecommendation}
	}

	recs := []string{}
	if v, ok := gap[GapProcedureTime]; ok && v > ProcedureTimeTolerance {
		recs = append(recs, "Procedure time exceeds baseline: review workflow efficiency")
	}
	if v, ok := gap[GapMovementEfficiency]; ok && v < MovementEfficiencyTolerance {
		recs = append(recs, "Movement efficiency below baseline: recalibrate motion control")
	}
	if v, ok := gap[GapSafetyScore]; ok && v < SafetyScoreTolerance {
		recs = append(recs, "Safety score below baseline: inspect safety systems")
	}
	if v, ok := gap[GapForceVariability]; ok && v > ForceVariabilityTolerance {
		recs = append(recs, "Force variability above baseline: check force sensor calibration")
	}
	return recs
}

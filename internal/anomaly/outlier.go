package anomaly

import "errors"

// DefaultContamination 训练集中预期的异常比例
const DefaultContamination = 0.1

var (
	// ErrNotFitted 模型尚未训练
	ErrNotFitted = errors.New("outlier model not fitted")
	// ErrDimensionMismatch 输入维度与训练维度不一致
	ErrDimensionMismatch = errors.New("feature dimension mismatch")
)

// Prediction 单点推断结果
// Score 为决策函数值：负值表示异常，绝对值越大越确定
type Prediction struct {
	Outlier bool    `json:"outlier"`
	Score   float64 `json:"score"`
}

// OutlierModel 可注入的离群检测模型
// Fit 使约 contamination 比例的训练样本被标记为异常；Predict 不会重新训练
type OutlierModel interface {
	Fit(vectors [][]float64, contamination float64) error
	Predict(vector []float64) (Prediction, error)
}

// validator 导入时可选的结构校验
type validator interface {
	Validate() error
}

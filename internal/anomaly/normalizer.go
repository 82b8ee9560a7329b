package anomaly

import (
	"fmt"
	"math"
)

// StandardScaler 按维度做零均值、单位方差缩放
type StandardScaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

// Fit 计算每一维的均值与总体标准差；标准差为 0 的维度缩放系数为 1
func (s *StandardScaler) Fit(vectors [][]float64) error {
	if len(vectors) == 0 {
		return fmt.Errorf("fit scaler: empty training set")
	}
	dims := len(vectors[0])
	mean := make([]float64, dims)
	scale := make([]float64, dims)

	for _, v := range vectors {
		if len(v) != dims {
			return fmt.Errorf("fit scaler: %w", ErrDimensionMismatch)
		}
		for j, x := range v {
			mean[j] += x
		}
	}
	n := float64(len(vectors))
	for j := range mean {
		mean[j] /= n
	}
	for _, v := range vectors {
		for j, x := range v {
			d := x - mean[j]
			scale[j] += d * d
		}
	}
	for j := range scale {
		scale[j] = math.Sqrt(scale[j] / n)
		if scale[j] == 0 {
			scale[j] = 1
		}
	}

	s.Mean = mean
	s.Scale = scale
	return nil
}

// Transform 返回缩放后的新切片
func (s *StandardScaler) Transform(v []float64) ([]float64, error) {
	if len(s.Mean) == 0 {
		return nil, ErrNotFitted
	}
	if len(v) != len(s.Mean) {
		return nil, fmt.Errorf("transform: %w: got %d, want %d", ErrDimensionMismatch, len(v), len(s.Mean))
	}
	out := make([]float64, len(v))
	for j, x := range v {
		out[j] = (x - s.Mean[j]) / s.Scale[j]
	}
	return out, nil
}

// TransformAll 批量缩放
func (s *StandardScaler) TransformAll(vectors [][]float64) ([][]float64, error) {
	out := make([][]float64, len(vectors))
	for i, v := range vectors {
		t, err := s.Transform(v)
		if err != nil {
			return nil, err
		}
		out[i] = t
	}
	return out, nil
}

// Validate 导入校验
func (s *StandardScaler) Validate(dims int) error {
	if len(s.Mean) != dims || len(s.Scale) != dims {
		return fmt.Errorf("scaler has %d/%d dimensions, want %d", len(s.Mean), len(s.Scale), dims)
	}
	for j, sc := range s.Scale {
		if sc <= 0 || math.IsNaN(sc) || math.IsInf(sc, 0) {
			return fmt.Errorf("scaler dimension %d has invalid scale %v", j, sc)
		}
	}
	return nil
}

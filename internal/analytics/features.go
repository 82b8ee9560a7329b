package analytics

import (
	"errors"
	"math"
	"sort"
)

// Domain 特征所属信号域
type Domain string

const (
	DomainForce    Domain = "FORCE"
	DomainMovement Domain = "MOVEMENT"
)

// FeatureWidth 特征向量固定维度
const FeatureWidth = 7

// HighForceLevel 高力读数判定值（N）
const HighForceLevel = 10.0

// ErrInsufficientReadings 力读数为空
var ErrInsufficientReadings = errors.New("insufficient readings for feature extraction")

// FeatureVector 固定 7 维统计特征
type FeatureVector struct {
	Domain Domain                `json:"domain"`
	Values [FeatureWidth]float64 `json:"values"`
}

// Slice 返回特征值切片副本
func (v FeatureVector) Slice() []float64 {
	out := make([]float64, FeatureWidth)
	copy(out, v.Values[:])
	return out
}

// ExtractForce 力特征：[mean, std, max, min, median, IQR, frac(>10N)]
func ExtractForce(readings []float64) (FeatureVector, error) {
	if len(readings) == 0 {
		return FeatureVector{Domain: DomainForce}, ErrInsufficientReadings
	}

	sorted := make([]float64, len(readings))
	copy(sorted, readings)
	sort.Float64s(sorted)

	high := 0
	for _, r := range readings {
		if r > HighForceLevel {
			high++
		}
	}

	return FeatureVector{
		Domain: DomainForce,
		Values: [FeatureWidth]float64{
			Mean(readings),
			StdDev(readings),
			sorted[len(sorted)-1],
			sorted[0],
			percentileSorted(sorted, 50),
			percentileSorted(sorted, 75) - percentileSorted(sorted, 25),
			float64(high) / float64(len(readings)),
		},
	}, nil
}

// ExtractMovement 运动特征：[mean, std, max, min, median, mean(diff), std(diff)]
// 行为时间步，列为关节；不等长的行按最短行截断；空输入返回全零向量
func ExtractMovement(rows [][]float64) FeatureVector {
	vec := FeatureVector{Domain: DomainMovement}

	width := narrowest(rows)
	if width == 0 {
		return vec
	}

	flat := make([]float64, 0, len(rows)*width)
	for _, row := range rows {
		flat = append(flat, row[:width]...)
	}

	diffs := make([]float64, 0, (len(rows)-1)*width)
	for i := 1; i < len(rows); i++ {
		for j := 0; j < width; j++ {
			diffs = append(diffs, rows[i][j]-rows[i-1][j])
		}
	}

	lo, hi := MinMax(flat)
	vec.Values = [FeatureWidth]float64{
		Mean(flat),
		StdDev(flat),
		hi,
		lo,
		Median(flat),
		Mean(diffs),
		StdDev(diffs),
	}
	return vec
}

func narrowest(rows [][]float64) int {
	if len(rows) == 0 {
		return 0
	}
	width := math.MaxInt
	for _, row := range rows {
		if len(row) < width {
			width = len(row)
		}
	}
	return width
}

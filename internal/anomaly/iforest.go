package anomaly

import (
	"fmt"
	"math"
	"math/rand"

	"wisefido-surgical/internal/analytics"
)

// 孤立森林默认参数
const (
	DefaultNumTrees   = 100
	DefaultMaxSamples = 256
	DefaultSeed       = 42
)

// IsolationForest 孤立森林
// 决策函数 = -s(x) - Offset，s(x) = 2^(-E[h(x)]/c(ψ))；决策值 < 0 判为异常
type IsolationForest struct {
	Trees       []*iTree `json:"trees"`
	NumTrees    int      `json:"num_trees"`
	MaxSamples  int      `json:"max_samples"`
	SampleSize  int      `json:"sample_size"`
	HeightLimit int      `json:"height_limit"`
	Dims        int      `json:"dims"`
	Offset      float64  `json:"offset"`
	Seed        int64    `json:"seed"`
}

type iTree struct {
	Root *iNode `json:"root"`
}

type iNode struct {
	Leaf     bool    `json:"leaf"`
	Size     int     `json:"size,omitempty"`
	Dim      int     `json:"dim,omitempty"`
	SplitVal float64 `json:"split_val,omitempty"`
	Left     *iNode  `json:"left,omitempty"`
	Right    *iNode  `json:"right,omitempty"`
}

// NewIsolationForest 创建孤立森林；参数 <= 0 时使用默认值
func NewIsolationForest(numTrees, maxSamples int, seed int64) *IsolationForest {
	if numTrees <= 0 {
		numTrees = DefaultNumTrees
	}
	if maxSamples <= 0 {
		maxSamples = DefaultMaxSamples
	}
	return &IsolationForest{
		NumTrees:   numTrees,
		MaxSamples: maxSamples,
		Seed:       seed,
	}
}

// Fit 训练森林并根据 contamination 计算决策阈值
func (f *IsolationForest) Fit(X [][]float64, contamination float64) error {
	if len(X) == 0 {
		return fmt.Errorf("fit isolation forest: empty training set")
	}
	if contamination <= 0 || contamination > 0.5 {
		return fmt.Errorf("fit isolation forest: contamination %v out of range (0, 0.5]", contamination)
	}
	dims := len(X[0])
	for _, row := range X {
		if len(row) != dims {
			return fmt.Errorf("fit isolation forest: %w", ErrDimensionMismatch)
		}
	}

	rng := rand.New(rand.NewSource(f.Seed))
	n := len(X)
	psi := f.MaxSamples
	if psi > n {
		psi = n
	}
	hlim := 0
	if psi > 1 {
		hlim = int(math.Ceil(math.Log2(float64(psi))))
	}

	trees := make([]*iTree, f.NumTrees)
	for i := range trees {
		// 无放回抽样
		idxs := rng.Perm(n)[:psi]
		sample := make([][]float64, psi)
		for j, idx := range idxs {
			sample[j] = X[idx]
		}
		trees[i] = &iTree{Root: buildTree(rng, sample, 0, hlim)}
	}

	f.Trees = trees
	f.SampleSize = psi
	f.HeightLimit = hlim
	f.Dims = dims

	negScores := make([]float64, n)
	for i, row := range X {
		negScores[i] = -f.score(row)
	}
	f.Offset = analytics.Percentile(negScores, 100*contamination)
	return nil
}

// Predict 计算决策值并判定是否异常
func (f *IsolationForest) Predict(x []float64) (Prediction, error) {
	if len(f.Trees) == 0 {
		return Prediction{}, ErrNotFitted
	}
	if len(x) != f.Dims {
		return Prediction{}, fmt.Errorf("predict: %w: got %d, want %d", ErrDimensionMismatch, len(x), f.Dims)
	}
	decision := -f.score(x) - f.Offset
	return Prediction{Outlier: decision < 0, Score: decision}, nil
}

// Validate 校验导入的森林结构
func (f *IsolationForest) Validate() error {
	if len(f.Trees) == 0 || len(f.Trees) != f.NumTrees {
		return fmt.Errorf("forest has %d trees, want %d", len(f.Trees), f.NumTrees)
	}
	if f.Dims <= 0 || f.SampleSize <= 0 {
		return fmt.Errorf("forest has invalid shape dims=%d sample_size=%d", f.Dims, f.SampleSize)
	}
	for i, t := range f.Trees {
		if t == nil || !validNode(t.Root, f.Dims) {
			return fmt.Errorf("tree %d is malformed", i)
		}
	}
	return nil
}

func validNode(n *iNode, dims int) bool {
	if n == nil {
		return false
	}
	if n.Leaf {
		return n.Size >= 0
	}
	if n.Dim < 0 || n.Dim >= dims {
		return false
	}
	return validNode(n.Left, dims) && validNode(n.Right, dims)
}

// score 异常分数 ∈ (0,1]，越大越异常
func (f *IsolationForest) score(x []float64) float64 {
	sum := 0.0
	for _, t := range f.Trees {
		sum += pathLength(t.Root, x, 0)
	}
	eh := sum / float64(len(f.Trees))
	c := cFactor(f.SampleSize)
	if c <= 0 {
		c = 1
	}
	return math.Pow(2, -eh/c)
}

func buildTree(rng *rand.Rand, X [][]float64, h, hlim int) *iNode {
	if len(X) <= 1 || h >= hlim {
		return &iNode{Leaf: true, Size: len(X)}
	}

	// 只在取值不恒定的维度上切分
	dims := len(X[0])
	candidates := make([]int, 0, dims)
	lows := make([]float64, dims)
	highs := make([]float64, dims)
	for d := 0; d < dims; d++ {
		lo, hi := X[0][d], X[0][d]
		for _, row := range X[1:] {
			if row[d] < lo {
				lo = row[d]
			}
			if row[d] > hi {
				hi = row[d]
			}
		}
		lows[d], highs[d] = lo, hi
		if lo < hi {
			candidates = append(candidates, d)
		}
	}
	if len(candidates) == 0 {
		return &iNode{Leaf: true, Size: len(X)}
	}

	dim := candidates[rng.Intn(len(candidates))]
	split := lows[dim] + rng.Float64()*(highs[dim]-lows[dim])

	left := make([][]float64, 0, len(X))
	right := make([][]float64, 0, len(X))
	for _, row := range X {
		if row[dim] < split {
			left = append(left, row)
		} else {
			right = append(right, row)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return &iNode{Leaf: true, Size: len(X)}
	}
	return &iNode{
		Dim:      dim,
		SplitVal: split,
		Left:     buildTree(rng, left, h+1, hlim),
		Right:    buildTree(rng, right, h+1, hlim),
	}
}

// cFactor 二叉搜索树不成功查找的平均路径长度
func cFactor(n int) float64 {
	if n <= 1 {
		return 0
	}
	if n == 2 {
		return 1
	}
	return 2.0*(math.Log(float64(n-1))+0.5772156649) - 2.0*float64(n-1)/float64(n)
}

func pathLength(node *iNode, x []float64, h int) float64 {
	if node.Leaf {
		return float64(h) + cFactor(node.Size)
	}
	if x[node.Dim] < node.SplitVal {
		return pathLength(node.Left, x, h+1)
	}
	return pathLength(node.Right, x, h+1)
}

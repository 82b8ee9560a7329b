package anomaly

import (
	"encoding/json"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gaussianCluster(n, dims int, seed int64) [][]float64 {
	rng := rand.New(rand.NewSource(seed))
	X := make([][]float64, n)
	for i := range X {
		X[i] = make([]float64, dims)
		for j := range X[i] {
			X[i][j] = rng.NormFloat64()
		}
	}
	return X
}

func TestIsolationForest_ContaminationFraction(t *testing.T) {
	X := gaussianCluster(200, 7, 1)
	f := NewIsolationForest(0, 0, DefaultSeed)
	require.NoError(t, f.Fit(X, 0.1))

	assert.Equal(t, 200, f.SampleSize)
	assert.Equal(t, 8, f.HeightLimit)

	outliers := 0
	for _, x := range X {
		p, err := f.Predict(x)
		require.NoError(t, err)
		if p.Outlier {
			outliers++
		}
	}
	assert.InDelta(t, 0.1, float64(outliers)/float64(len(X)), 0.02)
}

func TestIsolationForest_FarPointIsOutlier(t *testing.T) {
	f := NewIsolationForest(0, 0, DefaultSeed)
	require.NoError(t, f.Fit(gaussianCluster(300, 7, 2), 0.1))

	far, err := f.Predict([]float64{25, 25, 25, 25, 25, 25, 25})
	require.NoError(t, err)
	assert.True(t, far.Outlier)
	assert.Less(t, far.Score, 0.0)

	center, err := f.Predict(make([]float64, 7))
	require.NoError(t, err)
	assert.False(t, center.Outlier)
	assert.Greater(t, center.Score, far.Score)
}

func TestIsolationForest_Deterministic(t *testing.T) {
	X := gaussianCluster(100, 7, 3)
	a := NewIsolationForest(0, 0, DefaultSeed)
	b := NewIsolationForest(0, 0, DefaultSeed)
	require.NoError(t, a.Fit(X, 0.1))
	require.NoError(t, b.Fit(X, 0.1))

	assert.Equal(t, a.Offset, b.Offset)
}

func TestIsolationForest_Errors(t *testing.T) {
	f := NewIsolationForest(10, 16, DefaultSeed)

	_, err := f.Predict([]float64{1})
	assert.ErrorIs(t, err, ErrNotFitted)

	assert.Error(t, f.Fit(nil, 0.1))
	assert.Error(t, f.Fit([][]float64{{1, 2}}, 0.9))
	assert.ErrorIs(t, f.Fit([][]float64{{1, 2}, {1}}, 0.1), ErrDimensionMismatch)

	require.NoError(t, f.Fit(gaussianCluster(20, 3, 4), 0.1))
	_, err = f.Predict([]float64{1, 2})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestIsolationForest_SingleSample(t *testing.T) {
	f := NewIsolationForest(5, 0, DefaultSeed)
	require.NoError(t, f.Fit([][]float64{{1, 2, 3}}, 0.1))

	p, err := f.Predict([]float64{1, 2, 3})
	require.NoError(t, err)
	assert.False(t, p.Outlier)
}

func TestIsolationForest_JSONRoundTrip(t *testing.T) {
	f := NewIsolationForest(20, 64, DefaultSeed)
	require.NoError(t, f.Fit(gaussianCluster(80, 7, 5), 0.1))

	raw, err := json.Marshal(f)
	require.NoError(t, err)

	restored := &IsolationForest{}
	require.NoError(t, json.Unmarshal(raw, restored))
	require.NoError(t, restored.Validate())

	probe := []float64{0.5, -1, 2, 0, 3, -2, 1}
	want, err := f.Predict(probe)
	require.NoError(t, err)
	got, err := restored.Predict(probe)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestStandardScaler(t *testing.T) {
	s := &StandardScaler{}
	require.NoError(t, s.Fit([][]float64{{1, 5}, {3, 5}}))

	assert.Equal(t, []float64{2, 5}, s.Mean)
	assert.Equal(t, []float64{1, 1}, s.Scale)

	out, err := s.Transform([]float64{4, 7})
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 2}, out)

	_, err = s.Transform([]float64{1})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
	assert.Error(t, s.Validate(7))
}

package anomaly

import (
	"math/rand"
	"sync"
	"testing"

	"wisefido-surgical/internal/analytics"
	"wisefido-surgical/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func normalHistory(n int, seed int64) []models.ProcedureRecord {
	rng := rand.New(rand.NewSource(seed))
	history := make([]models.ProcedureRecord, n)
	for i := range history {
		force := make([]float64, 20)
		for j := range force {
			force[j] = 5 + rng.NormFloat64()*0.5
		}
		rows := make([][]float64, 12)
		for r := range rows {
			rows[r] = []float64{rng.NormFloat64(), rng.NormFloat64(), rng.NormFloat64()}
		}
		history[i] = models.ProcedureRecord{ForceReadings: force, MovementPatterns: rows}
	}
	return history
}

func constantForce(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestMLAnomalyModel_UntrainedReturnsEmpty(t *testing.T) {
	m := NewMLAnomalyModel(0, nil, zap.NewNop())

	assert.False(t, m.Trained())
	assert.Empty(t, m.DetectForce(constantForce(100, 50)))
	assert.Empty(t, m.DetectMovement([][]float64{{1}, {2}, {3}, {4}, {5}, {6}, {7}, {8}, {9}, {10}}))
	assert.Empty(t, m.Detect(analytics.DomainForce, &models.TelemetrySample{ForceReadings: constantForce(100, 50)}))
}

func TestMLAnomalyModel_TrainAndDetectForce(t *testing.T) {
	m := NewMLAnomalyModel(0.1, nil, zap.NewNop())
	require.NoError(t, m.Train(normalHistory(60, 1)))

	status := m.Status()
	assert.True(t, status.Trained)
	assert.True(t, status.ForceTrained)
	assert.True(t, status.MovementTrained)
	assert.Equal(t, 60, status.ForceSamples)

	alerts := m.DetectForce(constantForce(40, 20))
	require.Len(t, alerts, 1)
	assert.Equal(t, models.AlertTypeForceAnomaly, alerts[0].Type)
	assert.Equal(t, models.ComponentForceSensors, alerts[0].Component)
	assert.Contains(t, []models.Severity{models.SeverityHigh, models.SeverityMedium}, alerts[0].Severity)
	require.NotNil(t, alerts[0].Score)
	assert.Less(t, *alerts[0].Score, 0.0)

	// 少于 10 个读数不检测
	assert.Empty(t, m.DetectForce(constantForce(40, 9)))
}

func TestMLAnomalyModel_ShortRecordsSkipped(t *testing.T) {
	m := NewMLAnomalyModel(0.1, nil, zap.NewNop())

	err := m.Train([]models.ProcedureRecord{{ForceReadings: constantForce(5, 9)}})
	assert.ErrorIs(t, err, ErrNoTrainingData)
	assert.False(t, m.Trained())

	// 只有力数据时仍标记为已训练
	require.NoError(t, m.Train([]models.ProcedureRecord{
		{ForceReadings: constantForce(5, 12)},
		{ForceReadings: constantForce(6, 12)},
	}))
	assert.True(t, m.Trained())
	assert.False(t, m.Status().MovementTrained)
	assert.Empty(t, m.DetectMovement(make([][]float64, 15)))
}

type fixedModel struct {
	Result Prediction `json:"result"`
	Fitted bool       `json:"fitted"`
}

func (f *fixedModel) Fit([][]float64, float64) error { f.Fitted = true; return nil }

func (f *fixedModel) Predict([]float64) (Prediction, error) { return f.Result, nil }

func TestMLAnomalyModel_InjectedModelSeverity(t *testing.T) {
	cases := []struct {
		score float64
		want  models.Severity
	}{
		{-0.7, models.SeverityHigh},
		{-0.2, models.SeverityMedium},
	}
	for _, tc := range cases {
		factory := func() OutlierModel {
			return &fixedModel{Result: Prediction{Outlier: true, Score: tc.score}}
		}
		m := NewMLAnomalyModel(0.1, factory, zap.NewNop())
		require.NoError(t, m.Train(normalHistory(5, 2)))

		alerts := m.DetectMovement(normalHistory(1, 3)[0].MovementPatterns)
		require.Len(t, alerts, 1)
		assert.Equal(t, tc.want, alerts[0].Severity)
		assert.Equal(t, models.AlertTypeMovementAnomaly, alerts[0].Type)
		assert.Equal(t, models.ComponentMotionControl, alerts[0].Component)
	}
}

func TestMLAnomalyModel_ExportImportRoundTrip(t *testing.T) {
	src := NewMLAnomalyModel(0.1, nil, zap.NewNop())
	require.NoError(t, src.Train(normalHistory(40, 4)))

	blob, err := src.Export()
	require.NoError(t, err)

	dst := NewMLAnomalyModel(0.1, nil, zap.NewNop())
	require.NoError(t, dst.Import(blob))
	assert.True(t, dst.Trained())

	probes := normalHistory(5, 5)
	probes = append(probes, models.ProcedureRecord{ForceReadings: constantForce(40, 20)})
	for _, p := range probes {
		a := src.DetectForce(p.ForceReadings)
		b := dst.DetectForce(p.ForceReadings)
		require.Equal(t, len(a), len(b))
		for i := range a {
			assert.Equal(t, *a[i].Score, *b[i].Score)
			assert.Equal(t, a[i].Severity, b[i].Severity)
		}
	}
}

func TestMLAnomalyModel_ImportInvalidKeepsState(t *testing.T) {
	m := NewMLAnomalyModel(0.1, nil, zap.NewNop())
	require.NoError(t, m.Train(normalHistory(30, 6)))

	for _, blob := range []string{
		`not json`,
		`{"version":2,"trained":false}`,
		`{"version":1,"trained":true}`,
		`{"version":1,"trained":true,"force":{"scaler":{"mean":[1],"scale":[1]},"model":{}}}`,
		`{"version":1,"trained":true,"force":{"scaler":{"mean":[0,0,0,0,0,0,0],"scale":[1,1,1,1,1,1,1]},"model":{"trees":[]}}}`,
	} {
		err := m.Import([]byte(blob))
		assert.ErrorIs(t, err, ErrInvalidModelState, blob)
	}
	assert.True(t, m.Trained())
	assert.True(t, m.Status().ForceTrained)
}

func TestMLAnomalyModel_ExportUntrained(t *testing.T) {
	m := NewMLAnomalyModel(0, nil, zap.NewNop())
	blob, err := m.Export()
	require.NoError(t, err)

	other := NewMLAnomalyModel(0, nil, zap.NewNop())
	require.NoError(t, other.Import(blob))
	assert.False(t, other.Trained())
}

// sizedModel 以训练向量数作为决策值，用于识别结果来自哪一次训练
type sizedModel struct {
	N int `json:"n"`
}

func (s *sizedModel) Fit(vectors [][]float64, _ float64) error {
	s.N = len(vectors)
	return nil
}

func (s *sizedModel) Predict([]float64) (Prediction, error) {
	return Prediction{Outlier: true, Score: -1 - float64(s.N)}, nil
}

func newSizedModel() OutlierModel { return &sizedModel{} }

func TestMLAnomalyModel_TrainSplitsRecordsIntoSampleWindows(t *testing.T) {
	m := NewMLAnomalyModel(0.1, newSizedModel, zap.NewNop())

	rows := make([][]float64, 12*4+5)
	for i := range rows {
		rows[i] = []float64{float64(i), 1, 2}
	}
	rec := models.ProcedureRecord{
		ForceReadings:    constantForce(5, 20*15+7),
		ForceWindow:      20,
		MovementPatterns: rows,
		MovementWindow:   12,
	}
	require.NoError(t, m.Train([]models.ProcedureRecord{rec}))

	status := m.Status()
	assert.Equal(t, 15, status.ForceSamples)
	assert.Equal(t, 4, status.MovementSamples)

	// 窗口小于最少读数时不参与训练
	err := m.Train([]models.ProcedureRecord{{ForceReadings: constantForce(5, 50), ForceWindow: 5}})
	assert.ErrorIs(t, err, ErrNoTrainingData)
	assert.Equal(t, 15, m.Status().ForceSamples)
}

func TestMLAnomalyModel_TrainThinsLargeHistory(t *testing.T) {
	m := NewMLAnomalyModel(0.1, newSizedModel, zap.NewNop())

	rec := models.ProcedureRecord{
		ForceReadings: constantForce(5, MinReadings*(MaxTrainingVectors+50)),
		ForceWindow:   MinReadings,
	}
	require.NoError(t, m.Train([]models.ProcedureRecord{rec}))
	assert.Equal(t, MaxTrainingVectors, m.Status().ForceSamples)
}

func TestMLAnomalyModel_ConcurrentTrainAndDetect(t *testing.T) {
	m := NewMLAnomalyModel(0.1, newSizedModel, zap.NewNop())
	sizes := []int{10, 20, 30, 40}
	require.NoError(t, m.Train(normalHistory(sizes[0], 1)))

	valid := map[float64]bool{}
	for _, n := range sizes {
		valid[-1-float64(n)] = true
	}
	sample := normalHistory(1, 99)[0]

	done := make(chan struct{})
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(done)
		for round := 0; round < 25; round++ {
			for _, n := range sizes {
				if err := m.Train(normalHistory(n, int64(round*100+n))); err != nil {
					t.Errorf("train: %v", err)
					return
				}
			}
		}
	}()

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}

				for _, alerts := range [][]models.SafetyAlert{
					m.DetectForce(sample.ForceReadings),
					m.DetectMovement(sample.MovementPatterns),
				} {
					if assert.Len(t, alerts, 1) {
						assert.True(t, valid[*alerts[0].Score], "score %v", *alerts[0].Score)
					}
				}

				// 同一快照中两个域来自同一次训练
				status := m.Status()
				assert.True(t, status.Trained)
				assert.Equal(t, status.ForceSamples, status.MovementSamples)
			}
		}()
	}

	wg.Wait()
	assert.Equal(t, 40, m.Status().ForceSamples)
}

func TestMLAnomalyModel_ImportKeepsFittedContamination(t *testing.T) {
	src := NewMLAnomalyModel(0.2, nil, zap.NewNop())
	require.NoError(t, src.Train(normalHistory(40, 4)))
	blob, err := src.Export()
	require.NoError(t, err)

	dst := NewMLAnomalyModel(0.05, nil, zap.NewNop())
	assert.Equal(t, 0.05, dst.Status().Contamination)
	require.NoError(t, dst.Import(blob))
	assert.Equal(t, 0.2, dst.Status().Contamination)

	// 导入未训练状态时沿用本地设置
	empty, err := NewMLAnomalyModel(0.3, nil, zap.NewNop()).Export()
	require.NoError(t, err)
	require.NoError(t, dst.Import(empty))
	assert.Equal(t, 0.05, dst.Status().Contamination)
}

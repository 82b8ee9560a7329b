package evaluator

import (
	"testing"
	"time"

	"wisefido-surgical/internal/analytics"
	"wisefido-surgical/internal/anomaly"
	"wisefido-surgical/internal/models"
	"wisefido-surgical/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixture struct {
	evaluator *Evaluator
	detector  *analytics.StatisticalAnomalyDetector
	alerts    *store.AlertStore
	history   *store.MetricsHistory
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zap.NewNop()
	alerts := store.NewAlertStore(0)
	history := store.NewMetricsHistory(0)
	detector := analytics.NewStatisticalAnomalyDetector(0)
	e := NewEvaluator(
		models.DefaultSafetyThresholds(),
		analytics.NewSafetyScorer(alerts, logger),
		detector,
		anomaly.NewMLAnomalyModel(0, nil, logger),
		alerts,
		history,
		analytics.NewBaselineComparator(analytics.DefaultBaseline()),
		logger,
	)
	return &fixture{evaluator: e, detector: detector, alerts: alerts, history: history}
}

func healthySample(ts time.Time) *models.TelemetrySample {
	return &models.TelemetrySample{
		RobotID:           "robot-1",
		ForceReadings:     []float64{5.0, 6.0, 4.5},
		JointVelocities:   []float64{10, -10, 10},
		Positions:         []float64{30, 20, 15},
		ObstacleDistances: []float64{10, 15, 20},
		ProcedurePhase:    models.PhaseIncision,
		Timestamp:         ts,
	}
}

func TestAnalyze_HealthySample(t *testing.T) {
	f := newFixture(t)

	report := f.evaluator.Analyze(healthySample(time.Now()))

	assert.Equal(t, 100.0, report.SafetyCompliance)
	assert.Equal(t, models.RiskLow, report.RiskAssessment)
	assert.InDelta(t, 0.8, report.MovementEfficiency, 1e-9)
	assert.Equal(t, 1.0, report.InstrumentUsage)
	assert.Empty(t, report.AnomaliesDetected)
	assert.Len(t, report.PerformanceGap, 4)
	assert.NotNil(t, report.Recommendations)
	assert.Equal(t, 1, f.history.Len())
	assert.Equal(t, 0, f.alerts.Len())

	latest, ok := f.history.Latest()
	require.True(t, ok)
	assert.InDelta(t, 2.0/6.0, latest.CompletionRate, 1e-9)
	assert.Equal(t, 0, latest.SafetyViolations)
}

func TestAnalyze_EmergencyStopAndSpikes(t *testing.T) {
	f := newFixture(t)
	sample := healthySample(time.Now())
	sample.EmergencyStop = true
	sample.ForceReadings = []float64{5.0, 5.2, 5.1, 15.5, 5.3, 5.2}

	report := f.evaluator.Analyze(sample)

	assert.Equal(t, models.RiskCritical, report.RiskAssessment)
	types := map[string]int{}
	for _, a := range report.AnomaliesDetected {
		types[a.Type]++
		assert.Equal(t, "robot-1", a.RobotID)
	}
	assert.Equal(t, 1, types[models.AlertTypeEmergencyStop])
	assert.Equal(t, 2, types[models.AlertTypeForceSpike])
	assert.Equal(t, len(report.AnomaliesDetected), f.alerts.Len())
}

func TestAnalyze_EmergencyStopAlertsOnTransitions(t *testing.T) {
	f := newFixture(t)
	start := time.Now()

	count := func(alertType string) int {
		n := 0
		for _, a := range f.alerts.Snapshot() {
			if a.Type == alertType {
				n++
			}
		}
		return n
	}

	for i := 0; i < 50; i++ {
		sample := healthySample(start.Add(time.Duration(i) * 100 * time.Millisecond))
		sample.EmergencyStop = true
		report := f.evaluator.Analyze(sample)
		assert.Equal(t, models.RiskCritical, report.RiskAssessment)
	}
	assert.Equal(t, 1, count(models.AlertTypeEmergencyStop))
	assert.Equal(t, 0, count(models.AlertTypeOperationResumed))

	report := f.evaluator.Analyze(healthySample(start.Add(6 * time.Second)))
	require.Len(t, report.AnomaliesDetected, 1)
	assert.Equal(t, models.AlertTypeOperationResumed, report.AnomaliesDetected[0].Type)
	assert.Equal(t, models.SeverityLow, report.AnomaliesDetected[0].Severity)

	f.evaluator.Analyze(healthySample(start.Add(7 * time.Second)))
	assert.Equal(t, 1, count(models.AlertTypeOperationResumed))

	// 再次急停重新报警；各机器人状态独立
	again := healthySample(start.Add(8 * time.Second))
	again.EmergencyStop = true
	f.evaluator.Analyze(again)
	other := healthySample(start.Add(8 * time.Second))
	other.RobotID = "robot-2"
	other.EmergencyStop = true
	f.evaluator.Analyze(other)
	assert.Equal(t, 3, count(models.AlertTypeEmergencyStop))
}

func TestAnalyze_LowScoreAlert(t *testing.T) {
	f := newFixture(t)
	sample := healthySample(time.Now())
	sample.JointVelocities = []float64{80, 90}
	sample.Positions = []float64{200}

	report := f.evaluator.Analyze(sample)

	// 100 * (0.30 + 0 + 0 + 0.15 + 0.10)
	assert.Equal(t, 55.0, report.SafetyCompliance)
	assert.Equal(t, models.RiskHigh, report.RiskAssessment)
	require.NotEmpty(t, report.AnomaliesDetected)
	assert.Equal(t, models.AlertTypeLowSafetyScore, report.AnomaliesDetected[0].Type)
	assert.Equal(t, 0.0, report.MovementEfficiency)
}

type panickingRule struct{}

func (panickingRule) Name() string { return "broken" }

func (panickingRule) Evaluate(*models.TelemetrySample) []models.SafetyAlert {
	panic("rule exploded")
}

func TestAnalyze_FaultReturnsDefaultReport(t *testing.T) {
	f := newFixture(t)
	f.detector.RegisterRule(panickingRule{})

	out := f.evaluator.Evaluate(healthySample(time.Now()))

	assert.True(t, out.Failed)
	assert.Nil(t, out.Metrics)
	assert.Equal(t, models.DefaultPerformanceReport(), out.Report)

	snap := f.alerts.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, models.AlertTypeAnalyticsError, snap[0].Type)
	assert.Equal(t, models.SeverityHigh, snap[0].Severity)
}

func TestAnalyze_NilSample(t *testing.T) {
	f := newFixture(t)

	report := f.evaluator.Analyze(nil)

	assert.Equal(t, models.RiskUnknown, report.RiskAssessment)
	assert.Equal(t, []string{models.MaintenanceRecommendation}, report.Recommendations)
	assert.Equal(t, 1, f.alerts.Len())
}

func TestAnalyze_ProcedureTime(t *testing.T) {
	f := newFixture(t)
	start := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)

	first := healthySample(start)
	first.ProcedurePhase = models.PhaseInitialization
	assert.Equal(t, 0.0, f.evaluator.Analyze(first).ProcedureTime)

	later := healthySample(start.Add(30 * time.Minute))
	assert.Equal(t, 30.0, f.evaluator.Analyze(later).ProcedureTime)

	restart := healthySample(start.Add(40 * time.Minute))
	restart.ProcedurePhase = models.PhaseInitialization
	assert.Equal(t, 0.0, f.evaluator.Analyze(restart).ProcedureTime)

	other := healthySample(start.Add(45 * time.Minute))
	other.RobotID = "robot-2"
	assert.Equal(t, 0.0, f.evaluator.Analyze(other).ProcedureTime)
}

func TestAssessRisk(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, models.RiskCritical, f.evaluator.assessRisk(49.9, false))
	assert.Equal(t, models.RiskCritical, f.evaluator.assessRisk(100, true))
	assert.Equal(t, models.RiskHigh, f.evaluator.assessRisk(64.9, false))
	assert.Equal(t, models.RiskMedium, f.evaluator.assessRisk(70, false))
	assert.Equal(t, models.RiskLow, f.evaluator.assessRisk(75, false))
}

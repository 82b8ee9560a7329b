package analytics

import (
	"strings"
	"testing"

	"wisefido-surgical/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectForceSpikes_SpikeProducesMediumAlert(t *testing.T) {
	d := NewStatisticalAnomalyDetector(0)

	alerts := d.DetectForceSpikes([]float64{5.0, 5.2, 5.1, 15.5, 5.3, 5.2})

	require.NotEmpty(t, alerts)
	// 5.1 -> 15.5 和 15.5 -> 5.3 两次突变
	require.Len(t, alerts, 2)
	assert.Equal(t, "FORCE_SPIKE_1", alerts[0].ID)
	assert.Equal(t, "FORCE_SPIKE_2", alerts[1].ID)
	for _, a := range alerts {
		assert.Equal(t, models.SeverityMedium, a.Severity)
		assert.Equal(t, models.ComponentForceSensors, a.Component)
		assert.Equal(t, models.AlertTypeForceSpike, a.Type)
	}
	assert.True(t, strings.Contains(alerts[0].Message, "+10.40"))
	assert.True(t, strings.Contains(alerts[1].Message, "-10.20"))
}

func TestDetectForceSpikes_BelowMinimumLength(t *testing.T) {
	d := NewStatisticalAnomalyDetector(0)

	assert.Empty(t, d.DetectForceSpikes([]float64{5.0, 5.0, 5.0, 5.0, 5.0}))
	assert.Empty(t, d.DetectForceSpikes([]float64{0, 50, 0, 50, 0}))
	assert.NotNil(t, d.DetectForceSpikes(nil))
}

func TestDetectForceSpikes_CustomMinimum(t *testing.T) {
	d := NewStatisticalAnomalyDetector(10)

	assert.Empty(t, d.DetectForceSpikes([]float64{5.0, 5.2, 5.1, 15.5, 5.3, 5.2}))
}

func TestDetectForceSpikes_ThresholdIsExclusive(t *testing.T) {
	d := NewStatisticalAnomalyDetector(0)

	assert.Empty(t, d.DetectForceSpikes([]float64{0, 5, 10, 15, 20, 25}))
}

type staticRule struct {
	name   string
	alerts []models.SafetyAlert
}

func (r staticRule) Name() string { return r.name }

func (r staticRule) Evaluate(*models.TelemetrySample) []models.SafetyAlert { return r.alerts }

func TestEvaluateRules(t *testing.T) {
	d := NewStatisticalAnomalyDetector(0)
	assert.Empty(t, d.EvaluateRules(&models.TelemetrySample{}))

	d.RegisterRule(staticRule{name: "movement"})
	d.RegisterRule(staticRule{name: "timing", alerts: []models.SafetyAlert{{ID: "T1"}}})

	assert.Equal(t, []string{"movement", "timing"}, d.Rules())
	alerts := d.EvaluateRules(&models.TelemetrySample{})
	require.Len(t, alerts, 1)
	assert.Equal(t, "T1", alerts[0].ID)
}

func TestExcessiveForceRule(t *testing.T) {
	rule := ExcessiveForceRule{MaxForce: 15.0}

	assert.Empty(t, rule.Evaluate(&models.TelemetrySample{ForceReadings: []float64{5, 15}}))
	alerts := rule.Evaluate(&models.TelemetrySample{ForceReadings: []float64{5, 22.5}})
	require.Len(t, alerts, 1)
	assert.Equal(t, models.SeverityHigh, alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "22.50")
}

func TestCollisionProximityRule(t *testing.T) {
	rule := CollisionProximityRule{MinSafeDistance: 2.0}

	assert.Empty(t, rule.Evaluate(&models.TelemetrySample{}))
	assert.Empty(t, rule.Evaluate(&models.TelemetrySample{ObstacleDistances: []float64{10}}))

	warn := rule.Evaluate(&models.TelemetrySample{ObstacleDistances: []float64{10, 4.0}})
	require.Len(t, warn, 1)
	assert.Equal(t, models.AlertTypeCollisionWarning, warn[0].Type)
	assert.Equal(t, models.SeverityLow, warn[0].Severity)

	risk := rule.Evaluate(&models.TelemetrySample{ObstacleDistances: []float64{1.5, 4.0}})
	require.Len(t, risk, 1)
	assert.Equal(t, models.AlertTypeCollisionRisk, risk[0].Type)
	assert.Equal(t, models.SeverityHigh, risk[0].Severity)
}

package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPerformanceReport_HasAllKeys(t *testing.T) {
	raw, err := json.Marshal(DefaultPerformanceReport())
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &decoded))

	for _, key := range []string{
		"procedure_time", "movement_efficiency", "safety_compliance",
		"instrument_usage", "risk_assessment", "anomalies_detected",
		"performance_gap", "recommendations",
	} {
		assert.Contains(t, decoded, key)
	}
	assert.Equal(t, "UNKNOWN", decoded["risk_assessment"])
	assert.Equal(t, []interface{}{"System under maintenance"}, decoded["recommendations"])
	assert.Equal(t, []interface{}{}, decoded["anomalies_detected"])
}

func TestPhaseIndex(t *testing.T) {
	assert.Equal(t, 0, PhaseIndex(PhaseInitialization))
	assert.Equal(t, 4, PhaseIndex(PhaseSuturing))
	assert.Equal(t, -1, PhaseIndex("UNKNOWN_PHASE"))
}

func TestSeverityRank(t *testing.T) {
	assert.Less(t, SeverityMedium.Rank(), SeverityHigh.Rank())
	assert.Less(t, SeverityHigh.Rank(), SeverityCritical.Rank())
	assert.Equal(t, 0, Severity("bogus").Rank())
}

func TestNewSafetyAlert_UniqueEventIDs(t *testing.T) {
	a := NewSafetyAlert(AlertTypeForceSpike, "FORCE_SPIKE_1", SeverityMedium, ComponentForceSensors, "spike", "reduce force", time.Time{})
	b := NewSafetyAlert(AlertTypeForceSpike, "FORCE_SPIKE_1", SeverityMedium, ComponentForceSensors, "spike", "reduce force", time.Time{})

	assert.Equal(t, a.ID, b.ID)
	assert.NotEqual(t, a.EventID, b.EventID)
	assert.False(t, a.Timestamp.IsZero())
}

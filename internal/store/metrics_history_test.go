package store

import (
	"testing"

	"wisefido-surgical/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsHistory_Unbounded(t *testing.T) {
	h := NewMetricsHistory(0)
	_, ok := h.Latest()
	assert.False(t, ok)

	for i := 0; i < 50; i++ {
		h.Record(models.SurgicalMetrics{SafetyViolations: i})
	}

	assert.Equal(t, 50, h.Len())
	latest, ok := h.Latest()
	require.True(t, ok)
	assert.Equal(t, 49, latest.SafetyViolations)
}

func TestMetricsHistory_Capped(t *testing.T) {
	h := NewMetricsHistory(10)
	for i := 0; i < 37; i++ {
		h.Record(models.SurgicalMetrics{SafetyViolations: i})
		require.LessOrEqual(t, h.Len(), 10)
	}

	snap := h.Snapshot()
	require.Len(t, snap, 10)
	assert.Equal(t, 27, snap[0].SafetyViolations)
	assert.Equal(t, 36, snap[9].SafetyViolations)

	recent := h.Recent(3)
	assert.Equal(t, []int{34, 35, 36}, []int{recent[0].SafetyViolations, recent[1].SafetyViolations, recent[2].SafetyViolations})
}

package service

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	mqttcommon "wisefido-surgical/common/mqtt"
	"wisefido-surgical/internal/config"
	"wisefido-surgical/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeSubscriber struct {
	mu      sync.Mutex
	handler mqttcommon.MessageHandler
}

func (f *fakeSubscriber) Subscribe(_ string, _ byte, handler mqttcommon.MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = handler
	return nil
}

func (f *fakeSubscriber) Unsubscribe(...string) error { return nil }

func (f *fakeSubscriber) current() mqttcommon.MessageHandler {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handler
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load()
	require.NoError(t, err)
	cfg.HTTP.Addr = ""
	cfg.Safety.ThresholdsFile = ""
	cfg.Safety.RetrainInterval = time.Hour
	return cfg
}

func TestSafetyService_EndToEnd(t *testing.T) {
	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	sub := &fakeSubscriber{}

	s, err := New(testConfig(t), Dependencies{
		Redis:      redisClient,
		Subscriber: sub,
		Registry:   prometheus.NewRegistry(),
	}, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	require.Eventually(t, func() bool { return sub.current() != nil }, 2*time.Second, 5*time.Millisecond)
	payload := []byte(`{"force_readings":[5,5,5,5,5,5],"joint_velocities":[1,2],"positions":[10,20],` +
		`"obstacle_distances":[20],"emergency_stop":true,"procedure_phase":"INCISION"}`)
	require.NoError(t, sub.current()("robot/arm-1/telemetry", payload))

	require.Eventually(t, func() bool { return s.History().Len() == 1 }, 2*time.Second, 5*time.Millisecond)

	var estop *models.SafetyAlert
	for _, a := range s.Alerts().Snapshot() {
		if a.Type == models.AlertTypeEmergencyStop {
			a := a
			estop = &a
		}
	}
	require.NotNil(t, estop)
	assert.Equal(t, models.SeverityCritical, estop.Severity)
	assert.Equal(t, "arm-1", estop.RobotID)

	// Redis 报警缓存与报告缓存
	require.Eventually(t, func() bool { return mr.Exists("surgical:robot:arm-1:report") }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return mr.Exists("surgical:robot:arm-1:alerts") }, 2*time.Second, 5*time.Millisecond)

	// HTTP 只读接口
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/safety/alerts?robot_id=arm-1")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), "EMERGENCY_STOP")

	resp, err = http.Get(srv.URL + "/api/v1/safety/reports/arm-1")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), `"risk_assessment":"CRITICAL"`)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), `surgical_safety_alerts_total{severity="CRITICAL",type="EMERGENCY_STOP"} 1`)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("service did not stop")
	}
}

func TestSafetyService_SubmitWithoutExternalStores(t *testing.T) {
	s, err := New(testConfig(t), Dependencies{Subscriber: &fakeSubscriber{}}, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	for i := 0; i < 3; i++ {
		s.Submit(&models.TelemetrySample{
			RobotID:           "arm-2",
			ForceReadings:     []float64{4, 4.5, 5, 4.5, 4, 4.2},
			JointVelocities:   []float64{5, 5},
			Positions:         []float64{10, 20},
			ObstacleDistances: []float64{30},
			ProcedurePhase:    models.PhaseDissection,
			Timestamp:         time.Now(),
		})
	}
	require.Eventually(t, func() bool { return s.History().Len() == 3 }, 2*time.Second, 5*time.Millisecond)

	latest, ok := s.History().Latest()
	require.True(t, ok)
	assert.Equal(t, 100.0, latest.SafetyScore)

	cancel()
	require.NoError(t, <-done)
}

func TestSafetyService_AnalysisDoesNotWaitForArchive(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	mock.MatchExpectationsInOrder(false)
	for i := 0; i < 3; i++ {
		mock.ExpectExec(`INSERT INTO safety_alerts`).
			WillDelayFor(300 * time.Millisecond).
			WillReturnResult(sqlmock.NewResult(0, 1))
	}

	s, err := New(testConfig(t), Dependencies{DB: db, Subscriber: &fakeSubscriber{}}, zap.NewNop())
	require.NoError(t, err)

	sample := &models.TelemetrySample{
		RobotID:         "arm-3",
		ForceReadings:   []float64{5.0, 5.2, 5.1, 15.5, 5.3, 5.2},
		JointVelocities: []float64{1, 2},
		Positions:       []float64{10, 20},
		EmergencyStop:   true,
		ProcedurePhase:  models.PhaseIncision,
		Timestamp:       time.Now(),
	}

	start := time.Now()
	out := s.evaluator.Evaluate(sample)
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, len(out.Report.AnomaliesDetected), 3)
	assert.Less(t, elapsed, 100*time.Millisecond)
	// 报警已入队，尚未写库
	assert.Error(t, mock.ExpectationsWereMet())
}

func TestNew_RequiresSubscriber(t *testing.T) {
	_, err := New(testConfig(t), Dependencies{}, zap.NewNop())
	assert.Error(t, err)
}

package simulator

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"wisefido-surgical/internal/models"

	"go.uber.org/zap"
)

// 默认模拟参数（10 Hz，5% 力尖峰，1% 急停）
const (
	DefaultInterval          = 100 * time.Millisecond
	DefaultSpikeProbability  = 0.05
	DefaultEStopProbability  = 0.01
	DefaultResumeProbability = 0.02
	DefaultForceReadings     = 20
	DefaultMovementRows      = 12
	DefaultJoints            = 6
	DefaultSamplesPerPhase   = 50
)

var phases = []string{
	models.PhaseInitialization,
	models.PhasePreparation,
	models.PhaseIncision,
	models.PhaseDissection,
	models.PhaseSuturing,
	models.PhaseClosing,
	models.PhaseComplete,
}

// 关节角度摆幅（度），由基座到末端递减
var jointAmplitude = []float64{30, 20, 15, 10, 5, 2}

// Config 模拟器参数；零值字段使用默认值
type Config struct {
	RobotID           string
	Interval          time.Duration
	SpikeProbability  float64
	EStopProbability  float64
	ResumeProbability float64
	ForceReadings     int
	MovementRows      int
	Joints            int
	SamplesPerPhase   int
	Seed              int64
}

func (c *Config) applyDefaults() {
	if c.RobotID == "" {
		c.RobotID = "robot-sim-1"
	}
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.SpikeProbability <= 0 {
		c.SpikeProbability = DefaultSpikeProbability
	}
	if c.EStopProbability <= 0 {
		c.EStopProbability = DefaultEStopProbability
	}
	if c.ResumeProbability <= 0 {
		c.ResumeProbability = DefaultResumeProbability
	}
	if c.ForceReadings <= 0 {
		c.ForceReadings = DefaultForceReadings
	}
	if c.MovementRows <= 0 {
		c.MovementRows = DefaultMovementRows
	}
	if c.Joints <= 0 {
		c.Joints = DefaultJoints
	}
	if c.SamplesPerPhase <= 0 {
		c.SamplesPerPhase = DefaultSamplesPerPhase
	}
	if c.Seed == 0 {
		c.Seed = time.Now().UnixNano()
	}
}

// RobotSimulator 合成遥测生产者（非并发安全，由单个 goroutine 驱动）
type RobotSimulator struct {
	cfg    Config
	rng    *rand.Rand
	logger *zap.Logger

	tick   int
	estop  bool
	spikes int
}

// NewRobotSimulator 创建模拟器
func NewRobotSimulator(cfg Config, logger *zap.Logger) *RobotSimulator {
	cfg.applyDefaults()
	return &RobotSimulator{
		cfg:    cfg,
		rng:    rand.New(rand.NewSource(cfg.Seed)),
		logger: logger,
	}
}

// Config 生效参数
func (s *RobotSimulator) Config() Config {
	return s.cfg
}

// Next 生成下一个采样；阶段按 SamplesPerPhase 推进，COMPLETE 之后回到 INITIALIZATION
func (s *RobotSimulator) Next() models.TelemetrySample {
	phase := phases[(s.tick/s.cfg.SamplesPerPhase)%len(phases)]
	s.tick++

	if s.rng.Float64() < s.cfg.EStopProbability {
		s.estop = true
	} else if s.rng.Float64() < s.cfg.ResumeProbability {
		s.estop = false
	}

	return models.TelemetrySample{
		RobotID:           s.cfg.RobotID,
		ForceReadings:     s.forceReadings(),
		JointVelocities:   s.uniformVector(s.cfg.Joints, -20, 20),
		Positions:         s.positions(),
		ObstacleDistances: s.uniformVector(3, 4, 25),
		EmergencyStop:     s.estop,
		ProcedurePhase:    phase,
		MovementPatterns:  s.movementPatterns(),
		Timestamp:         time.Now(),
	}
}

// Spikes 已注入的力尖峰次数
func (s *RobotSimulator) Spikes() int {
	return s.spikes
}

// forceReadings 基础力 2-8N，读数在基础力 ±1N 内波动；尖峰时中段读数升至 12-18N
func (s *RobotSimulator) forceReadings() []float64 {
	base := s.uniform(2, 8)
	out := make([]float64, s.cfg.ForceReadings)
	for i := range out {
		out[i] = base + s.uniform(-1, 1)
	}
	if s.rng.Float64() < s.cfg.SpikeProbability {
		s.spikes++
		peak := s.uniform(12, 18)
		start := len(out) / 2
		for i := start; i < len(out) && i < start+3; i++ {
			out[i] = peak + s.uniform(-1, 1)
		}
	}
	return out
}

func (s *RobotSimulator) positions() []float64 {
	out := make([]float64, s.cfg.Joints)
	for i := range out {
		amp := jointAmplitude[i%len(jointAmplitude)]
		out[i] = s.uniform(-amp, amp)
	}
	return out
}

func (s *RobotSimulator) movementPatterns() [][]float64 {
	rows := make([][]float64, s.cfg.MovementRows)
	for i := range rows {
		rows[i] = s.positions()
	}
	return rows
}

func (s *RobotSimulator) uniformVector(n int, lo, hi float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = s.uniform(lo, hi)
	}
	return out
}

func (s *RobotSimulator) uniform(lo, hi float64) float64 {
	return lo + s.rng.Float64()*(hi-lo)
}

// Emit 采样输出
type Emit func(sample models.TelemetrySample) error

// Run 按 Interval 节拍生成采样直至 ctx 取消；emit 出错只记录
func (s *RobotSimulator) Run(ctx context.Context, emit Emit) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.logger.Info("Robot simulator started",
		zap.String("robot_id", s.cfg.RobotID),
		zap.Duration("interval", s.cfg.Interval),
	)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Robot simulator stopped",
				zap.String("robot_id", s.cfg.RobotID),
				zap.Int("samples", s.tick),
				zap.Int("spikes", s.spikes),
			)
			return ctx.Err()
		case <-ticker.C:
			sample := s.Next()
			if err := emit(sample); err != nil {
				s.logger.Warn("Failed to emit simulated sample",
					zap.String("robot_id", sample.RobotID),
					zap.Error(err),
				)
			}
		}
	}
}

// Publisher MQTT 发布接口
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// TelemetryTopic 机器人遥测主题
func TelemetryTopic(robotID string) string {
	return fmt.Sprintf("robot/%s/telemetry", robotID)
}

// PublishTo 返回将采样序列化为 JSON 并发布到 robot/<id>/telemetry 的 Emit
func PublishTo(pub Publisher, qos byte) Emit {
	return func(sample models.TelemetrySample) error {
		payload, err := json.Marshal(sample)
		if err != nil {
			return fmt.Errorf("failed to marshal sample: %w", err)
		}
		return pub.Publish(TelemetryTopic(sample.RobotID), qos, false, payload)
	}
}

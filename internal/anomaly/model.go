package anomaly

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"wisefido-surgical/internal/analytics"
	"wisefido-surgical/internal/models"

	"go.uber.org/zap"
)

// MinReadings 训练与检测所需的最少读数（力读数个数 / 运动行数）
const MinReadings = 10

// HighSeverityScore |决策值| 超过该值时报 HIGH
const HighSeverityScore = 0.5

// MaxTrainingVectors 单个域参与训练的特征向量上限，超出时等间隔抽样
const MaxTrainingVectors = 20000

const exportVersion = 1

var (
	// ErrNoTrainingData 历史数据中没有满足条件的记录
	ErrNoTrainingData = errors.New("no qualifying procedure records for training")
	// ErrInvalidModelState 导入的模型状态无效
	ErrInvalidModelState = errors.New("invalid model state")
)

// ModelFactory 创建一个未训练的离群模型
type ModelFactory func() OutlierModel

// DefaultModelFactory 孤立森林（100 棵树，ψ ≤ 256，seed 42）
func DefaultModelFactory() OutlierModel {
	return NewIsolationForest(DefaultNumTrees, DefaultMaxSamples, DefaultSeed)
}

type domainModel struct {
	scaler  *StandardScaler
	model   OutlierModel
	samples int
}

// snapshot 训练结果（不可变，整体原子替换）
type snapshot struct {
	trained       bool
	trainedAt     time.Time
	contamination float64
	force         *domainModel
	movement      *domainModel
}

// ModelStatus 模型状态摘要
type ModelStatus struct {
	Trained         bool      `json:"trained"`
	TrainedAt       time.Time `json:"trained_at"`
	ForceTrained    bool      `json:"force_trained"`
	MovementTrained bool      `json:"movement_trained"`
	ForceSamples    int       `json:"force_samples"`
	MovementSamples int       `json:"movement_samples"`
	Contamination   float64   `json:"contamination"`
}

// MLAnomalyModel 按信号域（力 / 运动）训练的异常检测模型
// 每个域独立的标准化器与离群模型；推断读取快照，不会重新训练
type MLAnomalyModel struct {
	contamination float64
	newModel      ModelFactory
	logger        *zap.Logger

	state atomic.Pointer[snapshot]
}

// NewMLAnomalyModel 创建模型；factory 为 nil 时使用孤立森林
func NewMLAnomalyModel(contamination float64, factory ModelFactory, logger *zap.Logger) *MLAnomalyModel {
	if contamination <= 0 || contamination > 0.5 {
		contamination = DefaultContamination
	}
	if factory == nil {
		factory = DefaultModelFactory
	}
	m := &MLAnomalyModel{
		contamination: contamination,
		newModel:      factory,
		logger:        logger,
	}
	m.state.Store(&snapshot{contamination: contamination})
	return m
}

// Train 用历史手术记录训练模型
// 记录按 ForceWindow / MovementWindow 切分为单采样粒度的窗口，每个窗口一个特征向量；
// 读数 ≥ 10 的力窗口参与力模型，行数 ≥ 10 的运动窗口参与运动模型
func (m *MLAnomalyModel) Train(history []models.ProcedureRecord) error {
	var forceSet, movementSet [][]float64
	for _, rec := range history {
		for _, w := range forceWindows(rec.ForceReadings, rec.ForceWindow) {
			vec, err := analytics.ExtractForce(w)
			if err == nil {
				forceSet = append(forceSet, vec.Slice())
			}
		}
		for _, w := range movementWindows(rec.MovementPatterns, rec.MovementWindow) {
			movementSet = append(movementSet, analytics.ExtractMovement(w).Slice())
		}
	}
	forceSet = thin(forceSet, MaxTrainingVectors)
	movementSet = thin(movementSet, MaxTrainingVectors)

	if len(forceSet) == 0 && len(movementSet) == 0 {
		return ErrNoTrainingData
	}

	next := &snapshot{trained: true, trainedAt: time.Now(), contamination: m.contamination}
	var err error
	if len(forceSet) > 0 {
		if next.force, err = m.fitDomain(forceSet); err != nil {
			return fmt.Errorf("train force model: %w", err)
		}
	}
	if len(movementSet) > 0 {
		if next.movement, err = m.fitDomain(movementSet); err != nil {
			return fmt.Errorf("train movement model: %w", err)
		}
	}

	m.state.Store(next)
	m.logger.Info("Anomaly model trained",
		zap.Int("force_samples", len(forceSet)),
		zap.Int("movement_samples", len(movementSet)),
		zap.Int("history_size", len(history)),
	)
	return nil
}

// forceWindows 按 size 切分读数；size <= 0 时整段作为一个窗口，不足 MinReadings 的窗口丢弃
func forceWindows(readings []float64, size int) [][]float64 {
	if size <= 0 || size > len(readings) {
		size = len(readings)
	}
	if size < MinReadings {
		return nil
	}
	var out [][]float64
	for start := 0; start+size <= len(readings); start += size {
		out = append(out, readings[start:start+size])
	}
	return out
}

func movementWindows(rows [][]float64, size int) [][][]float64 {
	if size <= 0 || size > len(rows) {
		size = len(rows)
	}
	if size < MinReadings {
		return nil
	}
	var out [][][]float64
	for start := 0; start+size <= len(rows); start += size {
		out = append(out, rows[start:start+size])
	}
	return out
}

// thin 等间隔抽样到最多 limit 个
func thin(vectors [][]float64, limit int) [][]float64 {
	if len(vectors) <= limit {
		return vectors
	}
	out := make([][]float64, 0, limit)
	step := float64(len(vectors)) / float64(limit)
	for i := 0; i < limit; i++ {
		out = append(out, vectors[int(float64(i)*step)])
	}
	return out
}

func (m *MLAnomalyModel) fitDomain(vectors [][]float64) (*domainModel, error) {
	scaler := &StandardScaler{}
	if err := scaler.Fit(vectors); err != nil {
		return nil, err
	}
	scaled, err := scaler.TransformAll(vectors)
	if err != nil {
		return nil, err
	}
	model := m.newModel()
	if err := model.Fit(scaled, m.contamination); err != nil {
		return nil, err
	}
	return &domainModel{scaler: scaler, model: model, samples: len(vectors)}, nil
}

// Trained 是否已训练
func (m *MLAnomalyModel) Trained() bool {
	return m.state.Load().trained
}

// Status 当前快照摘要
func (m *MLAnomalyModel) Status() ModelStatus {
	s := m.state.Load()
	status := ModelStatus{
		Trained:       s.trained,
		TrainedAt:     s.trainedAt,
		Contamination: s.contamination,
	}
	if s.force != nil {
		status.ForceTrained = true
		status.ForceSamples = s.force.samples
	}
	if s.movement != nil {
		status.MovementTrained = true
		status.MovementSamples = s.movement.samples
	}
	return status
}

// DetectForce 力读数异常检测；未训练或读数不足时返回空列表
func (m *MLAnomalyModel) DetectForce(readings []float64) []models.SafetyAlert {
	s := m.state.Load()
	if !s.trained || s.force == nil || len(readings) < MinReadings {
		return []models.SafetyAlert{}
	}
	vec, err := analytics.ExtractForce(readings)
	if err != nil {
		return []models.SafetyAlert{}
	}
	return m.evaluate(s.force, vec, models.AlertTypeForceAnomaly, models.ComponentForceSensors,
		"Abnormal force pattern detected", "Inspect force sensors and instrument-tissue contact")
}

// DetectMovement 运动模式异常检测；未训练或行数不足时返回空列表
func (m *MLAnomalyModel) DetectMovement(rows [][]float64) []models.SafetyAlert {
	s := m.state.Load()
	if !s.trained || s.movement == nil || len(rows) < MinReadings {
		return []models.SafetyAlert{}
	}
	vec := analytics.ExtractMovement(rows)
	return m.evaluate(s.movement, vec, models.AlertTypeMovementAnomaly, models.ComponentMotionControl,
		"Abnormal movement pattern detected", "Review motion control calibration")
}

// Detect 按信号域对采样做异常检测
func (m *MLAnomalyModel) Detect(domain analytics.Domain, sample *models.TelemetrySample) []models.SafetyAlert {
	if sample == nil {
		return []models.SafetyAlert{}
	}
	switch domain {
	case analytics.DomainForce:
		return m.DetectForce(sample.ForceReadings)
	case analytics.DomainMovement:
		return m.DetectMovement(sample.MovementPatterns)
	default:
		return []models.SafetyAlert{}
	}
}

func (m *MLAnomalyModel) evaluate(dm *domainModel, vec analytics.FeatureVector, alertType, component, message, action string) []models.SafetyAlert {
	scaled, err := dm.scaler.Transform(vec.Slice())
	if err != nil {
		m.logger.Warn("Failed to normalize feature vector", zap.String("domain", string(vec.Domain)), zap.Error(err))
		return []models.SafetyAlert{}
	}
	pred, err := dm.model.Predict(scaled)
	if err != nil {
		m.logger.Warn("Outlier prediction failed", zap.String("domain", string(vec.Domain)), zap.Error(err))
		return []models.SafetyAlert{}
	}
	if !pred.Outlier {
		return []models.SafetyAlert{}
	}

	severity := models.SeverityMedium
	if math.Abs(pred.Score) > HighSeverityScore {
		severity = models.SeverityHigh
	}
	alert := models.NewSafetyAlert(alertType, alertType, severity, component,
		fmt.Sprintf("%s (anomaly score: %.3f)", message, pred.Score), action, time.Time{})
	score := pred.Score
	alert.Score = &score
	return []models.SafetyAlert{alert}
}

type exportedDomain struct {
	Scaler  *StandardScaler `json:"scaler"`
	Model   json.RawMessage `json:"model"`
	Samples int             `json:"samples"`
}

type exportedState struct {
	Version       int             `json:"version"`
	Trained       bool            `json:"trained"`
	TrainedAt     time.Time       `json:"trained_at"`
	Contamination float64         `json:"contamination"`
	Force         *exportedDomain `json:"force,omitempty"`
	Movement      *exportedDomain `json:"movement,omitempty"`
}

// Export 导出当前快照为 JSON
func (m *MLAnomalyModel) Export() ([]byte, error) {
	s := m.state.Load()
	out := exportedState{
		Version:       exportVersion,
		Trained:       s.trained,
		TrainedAt:     s.trainedAt,
		Contamination: s.contamination,
	}
	var err error
	if out.Force, err = exportDomain(s.force); err != nil {
		return nil, fmt.Errorf("export force model: %w", err)
	}
	if out.Movement, err = exportDomain(s.movement); err != nil {
		return nil, fmt.Errorf("export movement model: %w", err)
	}
	return json.Marshal(out)
}

func exportDomain(dm *domainModel) (*exportedDomain, error) {
	if dm == nil {
		return nil, nil
	}
	raw, err := json.Marshal(dm.model)
	if err != nil {
		return nil, err
	}
	return &exportedDomain{Scaler: dm.scaler, Model: raw, Samples: dm.samples}, nil
}

// Import 校验并原子替换模型状态；失败时保持原状态
func (m *MLAnomalyModel) Import(blob []byte) error {
	var in exportedState
	if err := json.Unmarshal(blob, &in); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidModelState, err)
	}
	if in.Version != exportVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrInvalidModelState, in.Version)
	}
	if in.Trained != (in.Force != nil || in.Movement != nil) {
		return fmt.Errorf("%w: trained flag does not match fitted domains", ErrInvalidModelState)
	}

	contamination := in.Contamination
	if in.Trained && (contamination <= 0 || contamination > 0.5) {
		return fmt.Errorf("%w: contamination %v out of range", ErrInvalidModelState, contamination)
	}
	if !in.Trained {
		contamination = m.contamination
	}

	next := &snapshot{trained: in.Trained, trainedAt: in.TrainedAt, contamination: contamination}
	var err error
	if next.force, err = m.importDomain(in.Force); err != nil {
		return fmt.Errorf("%w: force: %v", ErrInvalidModelState, err)
	}
	if next.movement, err = m.importDomain(in.Movement); err != nil {
		return fmt.Errorf("%w: movement: %v", ErrInvalidModelState, err)
	}

	m.state.Store(next)
	m.logger.Info("Anomaly model state imported",
		zap.Bool("trained", next.trained),
		zap.Time("trained_at", next.trainedAt),
	)
	return nil
}

func (m *MLAnomalyModel) importDomain(ed *exportedDomain) (*domainModel, error) {
	if ed == nil {
		return nil, nil
	}
	if ed.Scaler == nil {
		return nil, errors.New("missing scaler")
	}
	if err := ed.Scaler.Validate(analytics.FeatureWidth); err != nil {
		return nil, err
	}
	if len(ed.Model) == 0 {
		return nil, errors.New("missing model")
	}
	model := m.newModel()
	if err := json.Unmarshal(ed.Model, model); err != nil {
		return nil, err
	}
	if v, ok := model.(validator); ok {
		if err := v.Validate(); err != nil {
			return nil, err
		}
	}
	return &domainModel{scaler: ed.Scaler, model: model, samples: ed.Samples}, nil
}

package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"wisefido-surgical/internal/anomaly"
	"wisefido-surgical/internal/evaluator"
	"wisefido-surgical/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// maxRecordedSamples 单条记录最多累积的采样数，超过后分段写出
const maxRecordedSamples = 1000

// ProcedureSaver 手术记录持久化
type ProcedureSaver interface {
	SaveProcedure(ctx context.Context, rec *models.ProcedureRecord) error
}

type activeProcedure struct {
	record    *models.ProcedureRecord
	samples   int
	lastPhase string
}

// ProcedureRecorder 按机器人累积遥测，手术结束时写入历史记录（训练数据来源）
// 阶段进入 COMPLETE 或重新回到 INITIALIZATION 时视为一次手术结束；
// 停留在 COMPLETE 的后续采样不计入，直到阶段变化
type ProcedureRecorder struct {
	mu     sync.Mutex
	robots map[string]*activeProcedure
	saver  ProcedureSaver
	logger *zap.Logger
}

func NewProcedureRecorder(saver ProcedureSaver, logger *zap.Logger) *ProcedureRecorder {
	return &ProcedureRecorder{
		robots: make(map[string]*activeProcedure),
		saver:  saver,
		logger: logger,
	}
}

// HandleOutcome 实现 consumer.OutcomeSink
func (r *ProcedureRecorder) HandleOutcome(ctx context.Context, sample *models.TelemetrySample, _ evaluator.Outcome) error {
	if sample == nil || sample.RobotID == "" {
		return nil
	}

	var finished []*models.ProcedureRecord

	r.mu.Lock()
	p := r.robots[sample.RobotID]
	if p == nil {
		p = &activeProcedure{}
		r.robots[sample.RobotID] = p
	}
	phase := sample.ProcedurePhase
	prev := p.lastPhase
	p.lastPhase = phase

	switch {
	case phase == models.PhaseComplete && prev == models.PhaseComplete:
		// 已结束，等待下一次手术
	case phase == models.PhaseComplete:
		if p.record != nil {
			p.append(sample)
			finished = append(finished, p.close())
		}
	default:
		if p.record != nil && phase == models.PhaseInitialization && prev != models.PhaseInitialization {
			finished = append(finished, p.close())
		}
		if p.record == nil {
			p.open(sample.RobotID)
		}
		p.append(sample)
		if p.samples >= maxRecordedSamples {
			finished = append(finished, p.close())
			p.open(sample.RobotID)
		}
	}
	r.mu.Unlock()

	var firstErr error
	for _, rec := range finished {
		if err := r.save(ctx, rec); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (p *activeProcedure) open(robotID string) {
	p.record = &models.ProcedureRecord{
		ProcedureID: uuid.New().String(),
		RobotID:     robotID,
	}
	p.samples = 0
}

func (p *activeProcedure) close() *models.ProcedureRecord {
	rec := p.record
	p.record = nil
	p.samples = 0
	return rec
}

// append 追加一个采样；读数个数与记录窗口不一致的域跳过
func (p *activeProcedure) append(sample *models.TelemetrySample) {
	rec := p.record
	p.samples++

	if n := len(sample.ForceReadings); n > 0 {
		if rec.ForceWindow == 0 {
			rec.ForceWindow = n
		}
		if n == rec.ForceWindow {
			rec.ForceReadings = append(rec.ForceReadings, sample.ForceReadings...)
		}
	}

	if n := len(sample.MovementPatterns); n > 0 {
		if rec.MovementWindow == 0 {
			rec.MovementWindow = n
		}
		if n == rec.MovementWindow {
			for _, row := range sample.MovementPatterns {
				rec.MovementPatterns = append(rec.MovementPatterns, append([]float64(nil), row...))
			}
		}
	}
}

// trainable 至少一个域的窗口满足最少读数要求
func trainable(rec *models.ProcedureRecord) bool {
	force := rec.ForceWindow >= anomaly.MinReadings && len(rec.ForceReadings) >= rec.ForceWindow
	movement := rec.MovementWindow >= anomaly.MinReadings && len(rec.MovementPatterns) >= rec.MovementWindow
	return force || movement
}

// save 读数不足以训练任一域的记录直接丢弃
func (r *ProcedureRecorder) save(ctx context.Context, rec *models.ProcedureRecord) error {
	if !trainable(rec) {
		r.logger.Debug("Discarding short procedure",
			zap.String("robot_id", rec.RobotID),
			zap.Int("force_readings", len(rec.ForceReadings)),
			zap.Int("force_window", rec.ForceWindow),
		)
		return nil
	}
	rec.RecordedAt = time.Now()
	if err := r.saver.SaveProcedure(ctx, rec); err != nil {
		return fmt.Errorf("failed to save procedure %s: %w", rec.ProcedureID, err)
	}
	r.logger.Info("Procedure recorded",
		zap.String("procedure_id", rec.ProcedureID),
		zap.String("robot_id", rec.RobotID),
		zap.Int("force_readings", len(rec.ForceReadings)),
		zap.Int("movement_rows", len(rec.MovementPatterns)),
		zap.Int("force_window", rec.ForceWindow),
	)
	return nil
}

// Flush 写出所有进行中的记录（关闭时调用）
func (r *ProcedureRecorder) Flush(ctx context.Context) error {
	r.mu.Lock()
	var pending []*models.ProcedureRecord
	for _, p := range r.robots {
		if p.record != nil {
			pending = append(pending, p.close())
		}
	}
	r.mu.Unlock()

	var firstErr error
	for _, rec := range pending {
		if err := r.save(ctx, rec); err != nil {
			r.logger.Error("Failed to flush procedure", zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Active 进行中的手术数
func (r *ProcedureRecorder) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, p := range r.robots {
		if p.record != nil {
			n++
		}
	}
	return n
}

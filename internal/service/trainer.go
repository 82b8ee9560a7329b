package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"wisefido-surgical/internal/anomaly"
	"wisefido-surgical/internal/models"
	"wisefido-surgical/internal/repository"

	"go.uber.org/zap"
)

// HistorySource 历史手术记录
type HistorySource interface {
	RecentProcedures(ctx context.Context, limit int) ([]models.ProcedureRecord, error)
}

// StateStore 模型状态持久化
type StateStore interface {
	SaveState(ctx context.Context, state []byte) (int64, error)
	LatestState(ctx context.Context) ([]byte, time.Time, error)
}

// TrainingObserver 训练结果观察者
type TrainingObserver interface {
	ObserveTraining(trained bool, err error)
}

// Trainer 定期用最近的手术记录重训模型，并保存导出的状态
type Trainer struct {
	model    *anomaly.MLAnomalyModel
	history  HistorySource
	states   StateStore
	window   int
	interval time.Duration
	observer TrainingObserver
	logger   *zap.Logger
}

func NewTrainer(
	model *anomaly.MLAnomalyModel,
	history HistorySource,
	states StateStore,
	window int,
	interval time.Duration,
	logger *zap.Logger,
) *Trainer {
	if window <= 0 {
		window = 500
	}
	if interval <= 0 {
		interval = time.Hour
	}
	return &Trainer{
		model:    model,
		history:  history,
		states:   states,
		window:   window,
		interval: interval,
		logger:   logger,
	}
}

func (t *Trainer) SetObserver(o TrainingObserver) {
	t.observer = o
}

// Restore 加载最近保存的模型状态；没有保存过时不报错
func (t *Trainer) Restore(ctx context.Context) error {
	if t.states == nil {
		return nil
	}
	blob, savedAt, err := t.states.LatestState(ctx)
	if err != nil {
		if errors.Is(err, repository.ErrModelStateNotFound) {
			t.logger.Info("No saved anomaly model state")
			return nil
		}
		return fmt.Errorf("failed to load model state: %w", err)
	}
	if err := t.model.Import(blob); err != nil {
		return fmt.Errorf("failed to restore model state: %w", err)
	}
	t.logger.Info("Anomaly model restored", zap.Time("saved_at", savedAt))
	return nil
}

// TrainOnce 训练一次；无可用数据时返回 anomaly.ErrNoTrainingData，模型保持原状态
func (t *Trainer) TrainOnce(ctx context.Context) (err error) {
	defer func() {
		if t.observer != nil {
			t.observer.ObserveTraining(t.model.Trained(), err)
		}
	}()

	records, err := t.history.RecentProcedures(ctx, t.window)
	if err != nil {
		return fmt.Errorf("failed to load training history: %w", err)
	}
	if err := t.model.Train(records); err != nil {
		return err
	}

	if t.states == nil {
		return nil
	}
	blob, err := t.model.Export()
	if err != nil {
		return fmt.Errorf("failed to export model state: %w", err)
	}
	id, err := t.states.SaveState(ctx, blob)
	if err != nil {
		return fmt.Errorf("failed to save model state: %w", err)
	}
	t.logger.Debug("Model state saved", zap.Int64("state_id", id))
	return nil
}

// Run 立即训练一次，之后按 interval 重训，直到 ctx 取消
func (t *Trainer) Run(ctx context.Context) error {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		if err := t.TrainOnce(ctx); err != nil {
			if errors.Is(err, anomaly.ErrNoTrainingData) {
				t.logger.Info("Not enough procedure history to train anomaly model")
			} else if ctx.Err() == nil {
				t.logger.Error("Anomaly model training failed", zap.Error(err))
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

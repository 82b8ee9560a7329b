package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ErrModelStateNotFound 尚未保存过模型状态
var ErrModelStateNotFound = errors.New("model state not found")

// ModelStateRepository 异常模型导出状态
type ModelStateRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewModelStateRepository 创建模型状态仓库
func NewModelStateRepository(db *sql.DB, logger *zap.Logger) *ModelStateRepository {
	return &ModelStateRepository{
		db:     db,
		logger: logger,
	}
}

// SaveState 保存一份模型状态，返回记录 ID
func (r *ModelStateRepository) SaveState(ctx context.Context, state []byte) (int64, error) {
	var id int64
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO anomaly_model_state (state) VALUES ($1) RETURNING id`,
		state,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to save model state: %w", err)
	}
	return id, nil
}

// LatestState 最新的模型状态
func (r *ModelStateRepository) LatestState(ctx context.Context) ([]byte, time.Time, error) {
	var state []byte
	var createdAt time.Time
	err := r.db.QueryRowContext(ctx,
		`SELECT state, created_at FROM anomaly_model_state ORDER BY id DESC LIMIT 1`,
	).Scan(&state, &createdAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, time.Time{}, ErrModelStateNotFound
		}
		return nil, time.Time{}, fmt.Errorf("failed to load model state: %w", err)
	}
	return state, createdAt, nil
}

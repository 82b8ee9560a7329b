package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"wisefido-surgical/internal/evaluator"
	"wisefido-surgical/internal/models"

	"go.uber.org/zap"
)

// SurgicalMetricsRepository 手术指标归档（内存历史有上限，全部记录写入 PostgreSQL）
type SurgicalMetricsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSurgicalMetricsRepository 创建指标仓库
func NewSurgicalMetricsRepository(db *sql.DB, logger *zap.Logger) *SurgicalMetricsRepository {
	return &SurgicalMetricsRepository{
		db:     db,
		logger: logger,
	}
}

// InsertMetrics 写入一条指标
func (r *SurgicalMetricsRepository) InsertMetrics(ctx context.Context, m *models.SurgicalMetrics) error {
	query := `
		INSERT INTO surgical_metrics (
			robot_id, procedure_duration, instrument_efficiency, movement_economy,
			force_variability, completion_rate, safety_score, safety_violations, recorded_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.db.ExecContext(ctx, query,
		m.RobotID,
		m.ProcedureDuration,
		m.InstrumentEfficiency,
		m.MovementEconomy,
		m.ForceVariability,
		m.CompletionRate,
		m.SafetyScore,
		m.SafetyViolations,
		m.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to insert surgical metrics: %w", err)
	}
	return nil
}

// ListMetrics 查询机器人指标（按时间正序）；robotID 为空时查询全部
func (r *SurgicalMetricsRepository) ListMetrics(ctx context.Context, robotID string, since time.Time, limit int) ([]models.SurgicalMetrics, error) {
	if limit <= 0 {
		limit = 1000
	}

	query := `
		SELECT * FROM (
			SELECT
				robot_id, procedure_duration, instrument_efficiency, movement_economy,
				force_variability, completion_rate, safety_score, safety_violations, recorded_at
			FROM surgical_metrics
			WHERE ($1 = '' OR robot_id = $1)
			  AND recorded_at >= $2
			ORDER BY recorded_at DESC
			LIMIT $3
		) recent
		ORDER BY recorded_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query, robotID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list surgical metrics: %w", err)
	}
	defer rows.Close()

	result := []models.SurgicalMetrics{}
	for rows.Next() {
		var m models.SurgicalMetrics
		if err := rows.Scan(
			&m.RobotID,
			&m.ProcedureDuration,
			&m.InstrumentEfficiency,
			&m.MovementEconomy,
			&m.ForceVariability,
			&m.CompletionRate,
			&m.SafetyScore,
			&m.SafetyViolations,
			&m.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan surgical metrics: %w", err)
		}
		result = append(result, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate surgical metrics: %w", err)
	}
	return result, nil
}

// HandleOutcome 实现 consumer.OutcomeSink；分析失败（无指标）时跳过
func (r *SurgicalMetricsRepository) HandleOutcome(ctx context.Context, _ *models.TelemetrySample, out evaluator.Outcome) error {
	if out.Metrics == nil {
		return nil
	}
	return r.InsertMetrics(ctx, out.Metrics)
}

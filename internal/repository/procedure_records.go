package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"wisefido-surgical/internal/models"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

// ProcedureRecordsRepository 手术历史记录（异常模型训练数据）
type ProcedureRecordsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewProcedureRecordsRepository 创建手术记录仓库
func NewProcedureRecordsRepository(db *sql.DB, logger *zap.Logger) *ProcedureRecordsRepository {
	return &ProcedureRecordsRepository{
		db:     db,
		logger: logger,
	}
}

// SaveProcedure 写入一条手术记录；ProcedureID 为空时自动生成
func (r *ProcedureRecordsRepository) SaveProcedure(ctx context.Context, rec *models.ProcedureRecord) error {
	if rec.ProcedureID == "" {
		rec.ProcedureID = uuid.New().String()
	}
	movement := rec.MovementPatterns
	if movement == nil {
		movement = [][]float64{}
	}
	movementJSON, err := json.Marshal(movement)
	if err != nil {
		return fmt.Errorf("failed to marshal movement patterns: %w", err)
	}

	query := `
		INSERT INTO procedure_records (
			procedure_id, robot_id, force_readings, movement_patterns,
			force_window, movement_window, recorded_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (procedure_id) DO NOTHING
	`
	_, err = r.db.ExecContext(ctx, query,
		rec.ProcedureID,
		rec.RobotID,
		pq.Array(rec.ForceReadings),
		movementJSON,
		rec.ForceWindow,
		rec.MovementWindow,
		rec.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save procedure record: %w", err)
	}

	r.logger.Debug("Saved procedure record",
		zap.String("procedure_id", rec.ProcedureID),
		zap.String("robot_id", rec.RobotID),
		zap.Int("force_readings", len(rec.ForceReadings)),
		zap.Int("movement_rows", len(rec.MovementPatterns)),
	)
	return nil
}

// RecentProcedures 最近 limit 条手术记录（按时间倒序）
func (r *ProcedureRecordsRepository) RecentProcedures(ctx context.Context, limit int) ([]models.ProcedureRecord, error) {
	if limit <= 0 {
		limit = 500
	}

	query := `
		SELECT procedure_id, robot_id, force_readings, movement_patterns,
		       force_window, movement_window, recorded_at
		FROM procedure_records
		ORDER BY recorded_at DESC
		LIMIT $1
	`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query procedure records: %w", err)
	}
	defer rows.Close()

	records := []models.ProcedureRecord{}
	for rows.Next() {
		var rec models.ProcedureRecord
		var force pq.Float64Array
		var movementJSON []byte
		if err := rows.Scan(
			&rec.ProcedureID, &rec.RobotID, &force, &movementJSON,
			&rec.ForceWindow, &rec.MovementWindow, &rec.RecordedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan procedure record: %w", err)
		}
		rec.ForceReadings = []float64(force)
		if len(movementJSON) > 0 {
			if err := json.Unmarshal(movementJSON, &rec.MovementPatterns); err != nil {
				r.logger.Warn("Skipping malformed movement patterns",
					zap.String("procedure_id", rec.ProcedureID),
					zap.Error(err),
				)
			}
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate procedure records: %w", err)
	}
	return records, nil
}

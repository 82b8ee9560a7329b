package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"wisefido-surgical/internal/models"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

// SafetyAlertsRepository 安全报警持久化
type SafetyAlertsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSafetyAlertsRepository 创建报警仓库
func NewSafetyAlertsRepository(db *sql.DB, logger *zap.Logger) *SafetyAlertsRepository {
	return &SafetyAlertsRepository{
		db:     db,
		logger: logger,
	}
}

// AlertFilters 报警查询条件
type AlertFilters struct {
	RobotID    *string
	Severities []string   // severity IN (...)
	StartTime  *time.Time // triggered_at >= StartTime
	EndTime    *time.Time // triggered_at <= EndTime
	Limit      int        // 默认 100
}

// CreateAlert 写入报警（event_id 冲突时忽略）
func (r *SafetyAlertsRepository) CreateAlert(ctx context.Context, alert *models.SafetyAlert) error {
	if alert.EventID == "" {
		return fmt.Errorf("event_id is required")
	}

	query := `
		INSERT INTO safety_alerts (
			event_id, alert_id, alert_type, robot_id, severity,
			message, recommended_action, component, score, triggered_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (event_id) DO NOTHING
	`

	var score sql.NullFloat64
	if alert.Score != nil {
		score = sql.NullFloat64{Float64: *alert.Score, Valid: true}
	}

	_, err := r.db.ExecContext(ctx, query,
		alert.EventID,
		alert.ID,
		alert.Type,
		alert.RobotID,
		string(alert.Severity),
		alert.Message,
		alert.RecommendedAction,
		alert.Component,
		score,
		alert.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to create safety alert: %w", err)
	}
	return nil
}

// ListAlerts 按条件查询报警（按触发时间倒序）
func (r *SafetyAlertsRepository) ListAlerts(ctx context.Context, filters AlertFilters) ([]models.SafetyAlert, error) {
	var conditions []string
	var args []interface{}
	next := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filters.RobotID != nil {
		conditions = append(conditions, "robot_id = "+next(*filters.RobotID))
	}
	if len(filters.Severities) > 0 {
		conditions = append(conditions, "severity = ANY("+next(pq.Array(filters.Severities))+")")
	}
	if filters.StartTime != nil {
		conditions = append(conditions, "triggered_at >= "+next(*filters.StartTime))
	}
	if filters.EndTime != nil {
		conditions = append(conditions, "triggered_at <= "+next(*filters.EndTime))
	}

	limit := filters.Limit
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT
			event_id, alert_id, alert_type, robot_id, severity,
			message, recommended_action, component, score, triggered_at
		FROM safety_alerts`
	if len(conditions) > 0 {
		query += "\n\t\tWHERE " + strings.Join(conditions, " AND ")
	}
	query += "\n\t\tORDER BY triggered_at DESC\n\t\tLIMIT " + next(limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list safety alerts: %w", err)
	}
	defer rows.Close()

	alerts := []models.SafetyAlert{}
	for rows.Next() {
		var a models.SafetyAlert
		var severity string
		var score sql.NullFloat64
		if err := rows.Scan(
			&a.EventID,
			&a.ID,
			&a.Type,
			&a.RobotID,
			&severity,
			&a.Message,
			&a.RecommendedAction,
			&a.Component,
			&score,
			&a.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan safety alert: %w", err)
		}
		a.Severity = models.Severity(severity)
		if score.Valid {
			v := score.Float64
			a.Score = &v
		}
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate safety alerts: %w", err)
	}
	return alerts, nil
}

// HandleAlert AlertStore 追加回调
func (r *SafetyAlertsRepository) HandleAlert(alert models.SafetyAlert) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := r.CreateAlert(ctx, &alert); err != nil {
		r.logger.Error("Failed to persist safety alert",
			zap.String("event_id", alert.EventID),
			zap.String("alert_type", alert.Type),
			zap.Error(err),
		)
	}
}

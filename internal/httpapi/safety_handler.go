package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"wisefido-surgical/internal/analytics"
	"wisefido-surgical/internal/anomaly"
	"wisefido-surgical/internal/consumer"
	"wisefido-surgical/internal/models"
	"wisefido-surgical/internal/repository"

	"go.uber.org/zap"
)

const (
	maxAlertFeed      = 1000
	defaultMetricsMax = 100
	maxModelBytes     = 32 << 20
)

// AlertSource 内存报警窗口（按创建顺序）
type AlertSource interface {
	Snapshot() []models.SafetyAlert
}

// AlertArchive 已持久化的报警
type AlertArchive interface {
	ListAlerts(ctx context.Context, filters repository.AlertFilters) ([]models.SafetyAlert, error)
}

// MetricsSource 内存指标历史
type MetricsSource interface {
	Snapshot() []models.SurgicalMetrics
}

// MetricsArchive 已持久化的指标
type MetricsArchive interface {
	ListMetrics(ctx context.Context, robotID string, since time.Time, limit int) ([]models.SurgicalMetrics, error)
}

// ReportSource 单机器人最新报告缓存
type ReportSource interface {
	GetReport(ctx context.Context, robotID string) (*models.PerformanceReport, error)
}

// ModelState 可导出 / 导入的异常检测模型
type ModelState interface {
	Status() anomaly.ModelStatus
	Export() ([]byte, error)
	Import(blob []byte) error
}

// ModelStateSaver 模型状态持久化
type ModelStateSaver interface {
	SaveState(ctx context.Context, state []byte) (int64, error)
}

// SafetyHandlerDeps 处理器依赖；Archive / Reports / ModelSaver 可为空
type SafetyHandlerDeps struct {
	Alerts         AlertSource
	AlertArchive   AlertArchive
	Metrics        MetricsSource
	MetricsArchive MetricsArchive
	Reports        ReportSource
	Comparator     *analytics.BaselineComparator
	Thresholds     models.SafetyThresholds
	Model          ModelState
	ModelSaver     ModelStateSaver
}

// SafetyHandler 安全分析只读接口 + 模型状态管理
type SafetyHandler struct {
	deps   SafetyHandlerDeps
	logger *zap.Logger
}

func NewSafetyHandler(deps SafetyHandlerDeps, logger *zap.Logger) *SafetyHandler {
	if deps.Comparator == nil {
		deps.Comparator = analytics.NewBaselineComparator(analytics.DefaultBaseline())
	}
	return &SafetyHandler{deps: deps, logger: logger}
}

// AlertFeed 报警列表响应
type AlertFeed struct {
	Items []models.SafetyAlert `json:"items"`
	Total int                  `json:"total"`
}

// GetAlerts GET /api/v1/safety/alerts
// query: robot_id, severity (逗号分隔), limit (≤1000), source=archive, start_time, end_time (RFC3339)
func (h *SafetyHandler) GetAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := parseInt(q.Get("limit"), maxAlertFeed)
	if limit <= 0 || limit > maxAlertFeed {
		limit = maxAlertFeed
	}
	robotID := strings.TrimSpace(q.Get("robot_id"))
	severities := splitList(q.Get("severity"))

	if q.Get("source") == "archive" {
		h.getArchivedAlerts(w, r, robotID, severities, limit)
		return
	}

	items := filterAlerts(h.deps.Alerts.Snapshot(), robotID, severities)
	if len(items) > limit {
		items = items[len(items)-limit:]
	}
	writeJSON(w, http.StatusOK, Ok(AlertFeed{Items: items, Total: len(items)}))
}

func (h *SafetyHandler) getArchivedAlerts(w http.ResponseWriter, r *http.Request, robotID string, severities []string, limit int) {
	if h.deps.AlertArchive == nil {
		writeJSON(w, http.StatusOK, Fail("alert archive is not configured"))
		return
	}
	start, err := parseTime(r.URL.Query().Get("start_time"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid start_time"))
		return
	}
	end, err := parseTime(r.URL.Query().Get("end_time"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid end_time"))
		return
	}

	filters := repository.AlertFilters{
		Severities: severities,
		StartTime:  start,
		EndTime:    end,
		Limit:      limit,
	}
	if robotID != "" {
		filters.RobotID = &robotID
	}
	items, err := h.deps.AlertArchive.ListAlerts(r.Context(), filters)
	if err != nil {
		h.logger.Error("ListAlerts failed", zap.Error(err))
		writeJSON(w, http.StatusOK, Fail(fmt.Sprintf("failed to list alerts: %v", err)))
		return
	}
	writeJSON(w, http.StatusOK, Ok(AlertFeed{Items: items, Total: len(items)}))
}

// MetricsFeed 指标历史 + 最新差距与建议
type MetricsFeed struct {
	History         []models.SurgicalMetrics `json:"history"`
	Latest          *models.SurgicalMetrics  `json:"latest"`
	PerformanceGap  map[string]float64       `json:"performance_gap"`
	Recommendations []string                 `json:"recommendations"`
	Baseline        analytics.Baseline       `json:"baseline"`
}

// GetMetrics GET /api/v1/safety/metrics
// query: robot_id, limit, source=archive, since (RFC3339)
func (h *SafetyHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	history, err := h.loadMetrics(r)
	if err != nil {
		writeJSON(w, http.StatusOK, Fail(err.Error()))
		return
	}

	feed := MetricsFeed{History: history, Baseline: h.deps.Comparator.Baseline()}
	if len(history) > 0 {
		latest := history[len(history)-1]
		feed.Latest = &latest
	}
	feed.PerformanceGap = h.deps.Comparator.CompareToBaseline(feed.Latest)
	feed.Recommendations = h.deps.Comparator.Recommend(feed.PerformanceGap)
	writeJSON(w, http.StatusOK, Ok(feed))
}

// ExportMetrics GET /api/v1/safety/metrics/export
func (h *SafetyHandler) ExportMetrics(w http.ResponseWriter, r *http.Request) {
	history, err := h.loadMetrics(r)
	if err != nil {
		writeJSON(w, http.StatusOK, Fail(err.Error()))
		return
	}

	excelData, err := GenerateMetricsExport(history)
	if err != nil {
		h.logger.Error("GenerateMetricsExport failed", zap.Error(err))
		writeJSON(w, http.StatusOK, Fail(fmt.Sprintf("failed to generate export: %v", err)))
		return
	}

	filename := fmt.Sprintf("surgical-metrics-%s.xlsx", time.Now().UTC().Format("20060102-150405"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", "attachment; filename="+filename)
	w.WriteHeader(http.StatusOK)
	w.Write(excelData)
}

// loadMetrics 按查询参数读取内存或归档指标（按时间顺序）
func (h *SafetyHandler) loadMetrics(r *http.Request) ([]models.SurgicalMetrics, error) {
	q := r.URL.Query()
	robotID := strings.TrimSpace(q.Get("robot_id"))
	limit := parseInt(q.Get("limit"), defaultMetricsMax)
	if limit <= 0 {
		limit = defaultMetricsMax
	}

	if q.Get("source") == "archive" {
		if h.deps.MetricsArchive == nil {
			return nil, errors.New("metrics archive is not configured")
		}
		since, err := parseTime(q.Get("since"))
		if err != nil {
			return nil, errors.New("invalid since")
		}
		var from time.Time
		if since != nil {
			from = *since
		}
		items, err := h.deps.MetricsArchive.ListMetrics(r.Context(), robotID, from, limit)
		if err != nil {
			h.logger.Error("ListMetrics failed", zap.Error(err))
			return nil, fmt.Errorf("failed to list metrics: %w", err)
		}
		return items, nil
	}

	all := h.deps.Metrics.Snapshot()
	items := make([]models.SurgicalMetrics, 0, len(all))
	for _, m := range all {
		if robotID == "" || m.RobotID == robotID {
			items = append(items, m)
		}
	}
	if len(items) > limit {
		items = items[len(items)-limit:]
	}
	return items, nil
}

// GetReport GET /api/v1/safety/reports/{robot_id}
func (h *SafetyHandler) GetReport(w http.ResponseWriter, r *http.Request) {
	robotID := strings.TrimPrefix(r.URL.Path, "/api/v1/safety/reports/")
	if robotID == "" || strings.Contains(robotID, "/") {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if h.deps.Reports == nil {
		writeJSON(w, http.StatusOK, Fail("report cache is not configured"))
		return
	}

	report, err := h.deps.Reports.GetReport(r.Context(), robotID)
	if err != nil {
		if errors.Is(err, consumer.ErrReportNotFound) {
			writeJSON(w, http.StatusNotFound, Fail("report not found"))
			return
		}
		h.logger.Error("GetReport failed", zap.String("robot_id", robotID), zap.Error(err))
		writeJSON(w, http.StatusOK, Fail(fmt.Sprintf("failed to get report: %v", err)))
		return
	}
	writeJSON(w, http.StatusOK, Ok(report))
}

// GetThresholds GET /api/v1/safety/thresholds
func (h *SafetyHandler) GetThresholds(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, Ok(h.deps.Thresholds))
}

// GetModelStatus GET /api/v1/safety/model/status
func (h *SafetyHandler) GetModelStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, Ok(h.deps.Model.Status()))
}

// GetModel GET /api/v1/safety/model：导出模型状态（原始 JSON）
func (h *SafetyHandler) GetModel(w http.ResponseWriter, _ *http.Request) {
	blob, err := h.deps.Model.Export()
	if err != nil {
		h.logger.Error("Export model state failed", zap.Error(err))
		writeJSON(w, http.StatusOK, Fail(fmt.Sprintf("failed to export model: %v", err)))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(blob)
}

// PutModel PUT /api/v1/safety/model：导入并原子替换模型状态
func (h *SafetyHandler) PutModel(w http.ResponseWriter, r *http.Request) {
	blob, err := readBody(r, maxModelBytes)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("failed to read body"))
		return
	}
	if err := h.deps.Model.Import(blob); err != nil {
		if errors.Is(err, anomaly.ErrInvalidModelState) {
			writeJSON(w, http.StatusBadRequest, Fail(err.Error()))
			return
		}
		writeJSON(w, http.StatusOK, Fail(fmt.Sprintf("failed to import model: %v", err)))
		return
	}

	if h.deps.ModelSaver != nil {
		if _, err := h.deps.ModelSaver.SaveState(r.Context(), blob); err != nil {
			// 内存已生效，持久化失败只记录
			h.logger.Warn("Failed to persist imported model state", zap.Error(err))
		}
	}
	writeJSON(w, http.StatusOK, Ok(h.deps.Model.Status()))
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.ToUpper(strings.TrimSpace(part)); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func filterAlerts(all []models.SafetyAlert, robotID string, severities []string) []models.SafetyAlert {
	if robotID == "" && len(severities) == 0 {
		return all
	}
	out := make([]models.SafetyAlert, 0, len(all))
	for _, a := range all {
		if robotID != "" && a.RobotID != robotID {
			continue
		}
		if len(severities) > 0 && !contains(severities, string(a.Severity)) {
			continue
		}
		out = append(out, a)
	}
	return out
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

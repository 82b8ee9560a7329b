package httpapi

import (
	"net/http"

	"go.uber.org/zap"
)

// Router 使用标准库 http.ServeMux
type Router struct {
	mux    *http.ServeMux
	logger *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		mux:    http.NewServeMux(),
		logger: logger,
	}
}

func (r *Router) Handle(pattern string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, h)
}

// HandleHandler 支持 http.Handler 接口（用于 /metrics 等）
func (r *Router) HandleHandler(pattern string, h http.Handler) {
	r.mux.Handle(pattern, h)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// RegisterSafetyRoutes 注册安全分析只读接口
func (r *Router) RegisterSafetyRoutes(h *SafetyHandler) {
	r.Handle("/api/v1/safety/alerts", methodOnly(http.MethodGet, h.GetAlerts))
	r.Handle("/api/v1/safety/metrics", methodOnly(http.MethodGet, h.GetMetrics))
	r.Handle("/api/v1/safety/metrics/export", methodOnly(http.MethodGet, h.ExportMetrics))
	r.Handle("/api/v1/safety/reports/", methodOnly(http.MethodGet, h.GetReport))
	r.Handle("/api/v1/safety/thresholds", methodOnly(http.MethodGet, h.GetThresholds))

	r.Handle("/api/v1/safety/model", func(w http.ResponseWriter, req *http.Request) {
		switch req.Method {
		case http.MethodGet:
			h.GetModel(w, req)
		case http.MethodPut:
			h.PutModel(w, req)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
	r.Handle("/api/v1/safety/model/status", methodOnly(http.MethodGet, h.GetModelStatus))
}

// RegisterAlertStream 注册报警 WebSocket 推送
func (r *Router) RegisterAlertStream(hub *AlertHub) {
	r.Handle("/api/v1/safety/alerts/ws", hub.ServeWS)
}

// RegisterHealth 健康检查
func (r *Router) RegisterHealth() {
	r.Handle("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, Ok(map[string]string{"status": "ok"}))
	})
}

func methodOnly(method string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if req.Method != method {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h(w, req)
	}
}

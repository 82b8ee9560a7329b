package store

import (
	"sync"

	"wisefido-surgical/internal/models"
)

// MetricsHistory 手术指标历史（追加写入）
// maxEntries > 0 时只保留最新的 maxEntries 条，0 表示不限制
type MetricsHistory struct {
	mu         sync.RWMutex
	entries    []models.SurgicalMetrics
	maxEntries int
}

func NewMetricsHistory(maxEntries int) *MetricsHistory {
	if maxEntries < 0 {
		maxEntries = 0
	}
	return &MetricsHistory{maxEntries: maxEntries}
}

// Record 追加一条指标
func (h *MetricsHistory) Record(m models.SurgicalMetrics) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.entries = append(h.entries, m)
	if h.maxEntries > 0 && len(h.entries) > h.maxEntries {
		// 超过上限一半时再整体搬移，摊还 O(1)
		if len(h.entries) >= h.maxEntries+h.maxEntries/2+1 {
			kept := make([]models.SurgicalMetrics, h.maxEntries, h.maxEntries*2)
			copy(kept, h.entries[len(h.entries)-h.maxEntries:])
			h.entries = kept
		}
	}
}

// Snapshot 按写入顺序返回副本
func (h *MetricsHistory) Snapshot() []models.SurgicalMetrics {
	return h.Recent(0)
}

// Recent 最新 n 条（n <= 0 返回全部保留条目）
func (h *MetricsHistory) Recent(n int) []models.SurgicalMetrics {
	h.mu.RLock()
	defer h.mu.RUnlock()

	visible := h.visible()
	if n <= 0 || n > len(visible) {
		n = len(visible)
	}
	out := make([]models.SurgicalMetrics, n)
	copy(out, visible[len(visible)-n:])
	return out
}

// Latest 最新一条
func (h *MetricsHistory) Latest() (models.SurgicalMetrics, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.entries) == 0 {
		return models.SurgicalMetrics{}, false
	}
	return h.entries[len(h.entries)-1], true
}

// Len 当前保留条数
func (h *MetricsHistory) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.visible())
}

func (h *MetricsHistory) visible() []models.SurgicalMetrics {
	if h.maxEntries > 0 && len(h.entries) > h.maxEntries {
		return h.entries[len(h.entries)-h.maxEntries:]
	}
	return h.entries
}

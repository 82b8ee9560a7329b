package service

import (
	"context"
	"sync"

	"wisefido-surgical/internal/models"
)

// MemoryProcedureStore 无数据库时的手术记录存储（保留最近 capacity 条）
type MemoryProcedureStore struct {
	mu       sync.Mutex
	records  []models.ProcedureRecord
	capacity int
}

func NewMemoryProcedureStore(capacity int) *MemoryProcedureStore {
	if capacity <= 0 {
		capacity = 500
	}
	return &MemoryProcedureStore{capacity: capacity}
}

func (m *MemoryProcedureStore) SaveProcedure(_ context.Context, rec *models.ProcedureRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, *rec)
	if len(m.records) > m.capacity {
		m.records = append([]models.ProcedureRecord(nil), m.records[len(m.records)-m.capacity:]...)
	}
	return nil
}

// RecentProcedures 最近 limit 条，按记录时间倒序
func (m *MemoryProcedureStore) RecentProcedures(_ context.Context, limit int) ([]models.ProcedureRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 || limit > len(m.records) {
		limit = len(m.records)
	}
	out := make([]models.ProcedureRecord, 0, limit)
	for i := len(m.records) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.records[i])
	}
	return out, nil
}

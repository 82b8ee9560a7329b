package store

import (
	"fmt"
	"sync"
	"time"

	"wisefido-surgical/internal/models"
)

// DefaultAlertCapacity 报警滑动窗口大小
const DefaultAlertCapacity = 1000

// AlertHook 报警追加后回调（在锁外同步执行，不能阻塞；I/O 需交给异步投递）
type AlertHook func(alert models.SafetyAlert)

// AlertStore 有界报警存储（环形缓冲，超出容量时丢弃最旧的报警）
type AlertStore struct {
	mu    sync.RWMutex
	buf   []models.SafetyAlert
	head  int // 最旧报警的位置
	size  int
	total uint64
	hooks []AlertHook

	// 系统报警 ID 序号（同一毫秒内递增）
	lastSystemMillis int64
	systemSeq        int
}

// NewAlertStore 创建报警存储；capacity <= 0 时使用 1000
func NewAlertStore(capacity int) *AlertStore {
	if capacity <= 0 {
		capacity = DefaultAlertCapacity
	}
	return &AlertStore{buf: make([]models.SafetyAlert, capacity)}
}

// OnAppend 注册追加回调
func (s *AlertStore) OnAppend(hook AlertHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, hook)
}

// Append 追加报警，O(1)
func (s *AlertStore) Append(alert models.SafetyAlert) {
	s.mu.Lock()
	capacity := len(s.buf)
	if s.size < capacity {
		s.buf[(s.head+s.size)%capacity] = alert
		s.size++
	} else {
		s.buf[s.head] = alert
		s.head = (s.head + 1) % capacity
	}
	s.total++
	hooks := s.hooks
	s.mu.Unlock()

	for _, h := range hooks {
		h(alert)
	}
}

// TriggerSystemAlert 生成并追加一条系统级 HIGH 报警
// ID 为 <kind>_<unix毫秒>，同一毫秒内的后续报警追加 _<序号>
func (s *AlertStore) TriggerSystemAlert(kind, message string) models.SafetyAlert {
	now := time.Now()
	alert := models.NewSafetyAlert(
		kind,
		s.systemAlertID(kind, now),
		models.SeverityHigh,
		models.ComponentSafetySystem,
		message,
		"Contact technical support and verify system status",
		now,
	)
	s.Append(alert)
	return alert
}

func (s *AlertStore) systemAlertID(kind string, now time.Time) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	millis := now.UnixMilli()
	if millis <= s.lastSystemMillis {
		s.systemSeq++
		return fmt.Sprintf("%s_%d_%d", kind, s.lastSystemMillis, s.systemSeq)
	}
	s.lastSystemMillis = millis
	s.systemSeq = 0
	return fmt.Sprintf("%s_%d", kind, millis)
}

// Snapshot 按创建顺序返回全部报警的副本
func (s *AlertStore) Snapshot() []models.SafetyAlert {
	return s.Recent(0)
}

// Recent 返回最新 n 条报警（按创建顺序）；n <= 0 返回全部
func (s *AlertStore) Recent(n int) []models.SafetyAlert {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if n <= 0 || n > s.size {
		n = s.size
	}
	out := make([]models.SafetyAlert, n)
	capacity := len(s.buf)
	start := s.head + s.size - n
	for i := 0; i < n; i++ {
		out[i] = s.buf[(start+i)%capacity]
	}
	return out
}

// Len 当前报警数
func (s *AlertStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size
}

// Capacity 容量
func (s *AlertStore) Capacity() int {
	return len(s.buf)
}

// Total 累计追加的报警数（含已淘汰）
func (s *AlertStore) Total() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.total
}

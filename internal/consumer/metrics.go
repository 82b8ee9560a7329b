package consumer

import (
	"sync"
	"time"
)

// 失败分类
const (
	errorParse   = "parse"
	errorAnalyze = "analyze"
	errorSink    = "sink"
)

// Metrics 监控指标
type Metrics struct {
	mu sync.RWMutex

	// 消息统计
	MessagesReceived int64 // 收到的遥测消息数
	SamplesProcessed int64 // 完成分析的采样数
	SamplesDropped   int64 // 队列满时丢弃的采样数
	MessagesFailed   int64 // 处理失败数

	// 错误分类统计
	ErrorsParse   int64 // 解析错误
	ErrorsAnalyze int64 // 分析失败（返回默认报告）
	ErrorsSink    int64 // 下游写入失败（Redis / PostgreSQL）

	// 性能指标
	TotalProcessingTime time.Duration
	LastProcessTime     time.Time

	StartTime time.Time
}

// NewMetrics 创建指标
func NewMetrics() *Metrics {
	return &Metrics{StartTime: time.Now()}
}

// GetSnapshot 获取指标快照（线程安全）
func (m *Metrics) GetSnapshot() Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Metrics{
		MessagesReceived:    m.MessagesReceived,
		SamplesProcessed:    m.SamplesProcessed,
		SamplesDropped:      m.SamplesDropped,
		MessagesFailed:      m.MessagesFailed,
		ErrorsParse:         m.ErrorsParse,
		ErrorsAnalyze:       m.ErrorsAnalyze,
		ErrorsSink:          m.ErrorsSink,
		TotalProcessingTime: m.TotalProcessingTime,
		LastProcessTime:     m.LastProcessTime,
		StartTime:           m.StartTime,
	}
}

// IncrementReceived 增加接收计数
func (m *Metrics) IncrementReceived() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.MessagesReceived++
}

// IncrementProcessed 增加分析计数
func (m *Metrics) IncrementProcessed(duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SamplesProcessed++
	m.TotalProcessingTime += duration
	m.LastProcessTime = time.Now()
}

// IncrementDropped 增加丢弃计数
func (m *Metrics) IncrementDropped() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SamplesDropped++
}

// IncrementFailed 增加失败计数
func (m *Metrics) IncrementFailed(errorType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.MessagesFailed++
	switch errorType {
	case errorParse:
		m.ErrorsParse++
	case errorAnalyze:
		m.ErrorsAnalyze++
	case errorSink:
		m.ErrorsSink++
	}
}

// AverageProcessingTime 平均分析耗时（在快照上调用）
func (m *Metrics) AverageProcessingTime() time.Duration {
	if m.SamplesProcessed == 0 {
		return 0
	}
	return m.TotalProcessingTime / time.Duration(m.SamplesProcessed)
}

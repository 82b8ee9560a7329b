package consumer

import (
	"context"
	"sync"
	"time"

	"wisefido-surgical/internal/models"
)

// DefaultQueueCapacity 遥测队列默认容量
const DefaultQueueCapacity = 256

// TelemetryQueue 有界遥测队列
// 队列满时丢弃最旧的采样（保证分析的是最新数据），丢弃数可查询
type TelemetryQueue struct {
	mu      sync.Mutex
	items   []*models.TelemetrySample
	head    int
	size    int
	dropped uint64
	notify  chan struct{}
}

// NewTelemetryQueue 创建队列；capacity <= 0 时使用默认容量
func NewTelemetryQueue(capacity int) *TelemetryQueue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &TelemetryQueue{
		items:  make([]*models.TelemetrySample, capacity),
		notify: make(chan struct{}, 1),
	}
}

// Push 入队；队列已满时丢弃最旧的采样并返回 true
func (q *TelemetryQueue) Push(sample *models.TelemetrySample) (dropped bool) {
	q.mu.Lock()
	capacity := len(q.items)
	if q.size == capacity {
		q.items[q.head] = nil
		q.head = (q.head + 1) % capacity
		q.size--
		q.dropped++
		dropped = true
	}
	q.items[(q.head+q.size)%capacity] = sample
	q.size++
	q.mu.Unlock()

	q.signal()
	return dropped
}

// TryPop 非阻塞出队
func (q *TelemetryQueue) TryPop() (*models.TelemetrySample, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.size == 0 {
		return nil, false
	}
	sample := q.items[q.head]
	q.items[q.head] = nil
	q.head = (q.head + 1) % len(q.items)
	q.size--
	return sample, true
}

// PopWait 出队，最多等待 wait；超时或 ctx 取消时返回 (nil, false)
func (q *TelemetryQueue) PopWait(ctx context.Context, wait time.Duration) (*models.TelemetrySample, bool) {
	if sample, ok := q.TryPop(); ok {
		return sample, true
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, false
		case <-timer.C:
			return q.TryPop()
		case <-q.notify:
			if sample, ok := q.TryPop(); ok {
				return sample, true
			}
		}
	}
}

// Wake 唤醒等待中的 PopWait
func (q *TelemetryQueue) Wake() {
	q.signal()
}

func (q *TelemetryQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Len 当前长度
func (q *TelemetryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Capacity 容量
func (q *TelemetryQueue) Capacity() int {
	return len(q.items)
}

// Dropped 累计丢弃数
func (q *TelemetryQueue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

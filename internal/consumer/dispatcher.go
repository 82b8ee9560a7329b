package consumer

import (
	"context"
	"sync/atomic"
	"time"

	"wisefido-surgical/internal/evaluator"
	"wisefido-surgical/internal/models"

	"go.uber.org/zap"
)

const (
	// DefaultDispatchBuffer 异步投递默认缓冲
	DefaultDispatchBuffer = 1024

	dispatchItemTimeout  = 3 * time.Second
	dispatchDrainTimeout = 5 * time.Second
)

// Dispatcher 单 worker 异步投递
// Submit 只做非阻塞入队，缓冲满时丢弃新条目并计数；I/O 在 Run 的 goroutine 中执行
type Dispatcher[T any] struct {
	name    string
	items   chan T
	handle  func(ctx context.Context, item T) error
	dropped atomic.Uint64
	failed  atomic.Uint64
	logger  *zap.Logger
}

// NewDispatcher 创建投递器；buffer <= 0 时使用默认缓冲
func NewDispatcher[T any](name string, buffer int, handle func(ctx context.Context, item T) error, logger *zap.Logger) *Dispatcher[T] {
	if buffer <= 0 {
		buffer = DefaultDispatchBuffer
	}
	return &Dispatcher[T]{
		name:   name,
		items:  make(chan T, buffer),
		handle: handle,
		logger: logger,
	}
}

// Submit 非阻塞入队
func (d *Dispatcher[T]) Submit(item T) {
	select {
	case d.items <- item:
	default:
		n := d.dropped.Add(1)
		if n == 1 || n%100 == 0 {
			d.logger.Warn("Dispatch buffer full, dropping item",
				zap.String("dispatcher", d.name),
				zap.Int("buffer", cap(d.items)),
				zap.Uint64("dropped", n),
			)
		}
	}
}

// Run 处理条目直到 ctx 取消；取消后在限定时间内处理完缓冲中的剩余条目
func (d *Dispatcher[T]) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			d.drain()
			return nil
		case item := <-d.items:
			d.process(ctx, item)
		}
	}
}

func (d *Dispatcher[T]) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), dispatchDrainTimeout)
	defer cancel()

	for {
		select {
		case item := <-d.items:
			d.process(ctx, item)
		default:
			return
		}
	}
}

func (d *Dispatcher[T]) process(ctx context.Context, item T) {
	itemCtx, cancel := context.WithTimeout(ctx, dispatchItemTimeout)
	defer cancel()

	if err := d.handle(itemCtx, item); err != nil {
		d.failed.Add(1)
		d.logger.Warn("Async delivery failed",
			zap.String("dispatcher", d.name),
			zap.Error(err),
		)
	}
}

// Pending 缓冲中等待处理的条目数
func (d *Dispatcher[T]) Pending() int {
	return len(d.items)
}

// Dropped 因缓冲满丢弃的条目数
func (d *Dispatcher[T]) Dropped() uint64 {
	return d.dropped.Load()
}

// Failed 处理失败的条目数
func (d *Dispatcher[T]) Failed() uint64 {
	return d.failed.Load()
}

type outcomeItem struct {
	sample *models.TelemetrySample
	out    evaluator.Outcome
}

// AsyncSink 把下游写入移出监控循环
type AsyncSink struct {
	*Dispatcher[outcomeItem]
}

// NewAsyncSink 包装下游
func NewAsyncSink(name string, sink OutcomeSink, buffer int, logger *zap.Logger) *AsyncSink {
	handle := func(ctx context.Context, item outcomeItem) error {
		return sink.HandleOutcome(ctx, item.sample, item.out)
	}
	return &AsyncSink{Dispatcher: NewDispatcher(name, buffer, handle, logger)}
}

// HandleOutcome 实现 OutcomeSink，只入队
func (a *AsyncSink) HandleOutcome(_ context.Context, sample *models.TelemetrySample, out evaluator.Outcome) error {
	a.Submit(outcomeItem{sample: sample, out: out})
	return nil
}

// NewAlertDispatcher 报警回调的异步投递；Submit 可直接注册为 store.AlertHook
func NewAlertDispatcher(name string, buffer int, handle func(alert models.SafetyAlert), logger *zap.Logger) *Dispatcher[models.SafetyAlert] {
	return NewDispatcher(name, buffer, func(_ context.Context, alert models.SafetyAlert) error {
		handle(alert)
		return nil
	}, logger)
}

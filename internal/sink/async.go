package sink

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"wisefido-assist/internal/models"

	"github.com/rcrowley/go-metrics"
	"go.uber.org/zap"
)

// ErrQueueFull 接收端队列已满，事件未写入该接收端
var ErrQueueFull = errors.New("sink queue full")

// ErrSinkClosed 接收端已关闭
var ErrSinkClosed = errors.New("sink closed")

// 网络接收端的默认队列容量与单次写入期限
const (
	DefaultAsyncQueueSize    = 32
	DefaultAsyncWriteTimeout = 3 * time.Second
)

// AsyncSink 给网络接收端配一个有界队列和独立的写入 goroutine
//
// Write 只入队，不等待网络；每次真实写入都带 writeTimeout 期限。
type AsyncSink struct {
	sink         Sink
	queue        chan models.Event
	writeTimeout time.Duration
	dropped      metrics.Counter
	writeErrors  metrics.Counter
	logger       *zap.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
	once   sync.Once
}

// NewAsyncSink 包装接收端并启动写入 goroutine；计数器可为 nil
func NewAsyncSink(s Sink, queueSize int, writeTimeout time.Duration, dropped, writeErrors metrics.Counter, logger *zap.Logger) *AsyncSink {
	if queueSize <= 0 {
		queueSize = DefaultAsyncQueueSize
	}
	if writeTimeout <= 0 {
		writeTimeout = DefaultAsyncWriteTimeout
	}
	if dropped == nil {
		dropped = metrics.NilCounter{}
	}
	if writeErrors == nil {
		writeErrors = metrics.NilCounter{}
	}

	a := &AsyncSink{
		sink:         s,
		queue:        make(chan models.Event, queueSize),
		writeTimeout: writeTimeout,
		dropped:      dropped,
		writeErrors:  writeErrors,
		logger:       logger.With(zap.String("sink", s.Name())),
	}
	a.wg.Add(1)
	go a.run()
	return a
}

// Name 被包装接收端的名称
func (a *AsyncSink) Name() string {
	return a.sink.Name()
}

// Write 入队；队列满时立即返回 ErrQueueFull
func (a *AsyncSink) Write(ctx context.Context, evt models.Event) error {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return ErrSinkClosed
	}
	select {
	case a.queue <- evt:
		return nil
	default:
		a.dropped.Inc(1)
		return fmt.Errorf("%w: event %s (%s)", ErrQueueFull, evt.ID, evt.Type)
	}
}

func (a *AsyncSink) run() {
	defer a.wg.Done()
	for evt := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), a.writeTimeout)
		err := a.sink.Write(ctx, evt)
		cancel()
		if err != nil {
			a.writeErrors.Inc(1)
			a.logger.Error("Failed to write event",
				zap.String("event", evt.Type),
				zap.String("event_id", evt.ID),
				zap.Error(err),
			)
		}
	}
}

// Close 停止接收，写完已入队事件后关闭被包装的接收端
func (a *AsyncSink) Close() error {
	var err error
	a.once.Do(func() {
		a.mu.Lock()
		a.closed = true
		close(a.queue)
		a.mu.Unlock()

		a.wg.Wait()
		err = a.sink.Close()
	})
	return err
}

// Package monitor 传感器轮询循环与事件分发
//
// 每个传感器一个 goroutine（锁定到独立的系统线程）按固定周期读取、滤波、检测，
// 产生的事件进入有界队列，由唯一的分发 goroutine 依注册顺序同步调用处理器。
// 处理器必须很快返回；涉及网络的处理器应自行排队（见 sink.AsyncSink）。
package monitor

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"wisefido-assist/internal/detector"
	"wisefido-assist/internal/filter"
	"wisefido-assist/internal/hardware"
	"wisefido-assist/internal/models"

	"go.uber.org/zap"
)

// ErrAlreadyStarted 启动后不允许再注册处理器或传感器
var ErrAlreadyStarted = errors.New("monitor already started")

// Handler 事件处理器；返回的错误只记录，不影响其他处理器
type Handler func(ctx context.Context, evt models.Event) error

// Options 轮询与分发参数
type Options struct {
	ReadBackoff    time.Duration    // 读取失败后的等待时间
	QueueSize      int              // 事件队列容量
	EnqueueTimeout time.Duration    // 队列满时最长等待，超时丢弃
	OfflineAfter   int              // 连续失败多少次后上报离线
	Now            func() time.Time // 时钟，测试可替换
}

// DefaultOptions 默认参数
func DefaultOptions() Options {
	return Options{
		ReadBackoff:    time.Second,
		QueueSize:      64,
		EnqueueTimeout: 100 * time.Millisecond,
		OfflineAfter:   5,
		Now:            time.Now,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.ReadBackoff <= 0 {
		o.ReadBackoff = def.ReadBackoff
	}
	if o.QueueSize <= 0 {
		o.QueueSize = def.QueueSize
	}
	if o.EnqueueTimeout <= 0 {
		o.EnqueueTimeout = def.EnqueueTimeout
	}
	if o.OfflineAfter <= 0 {
		o.OfflineAfter = def.OfflineAfter
	}
	if o.Now == nil {
		o.Now = def.Now
	}
	return o
}

type namedHandler struct {
	name string
	fn   Handler
}

// Monitor 传感器监测循环
type Monitor struct {
	opts   Options
	logger *zap.Logger
	stats  *Stats

	// 启动前注册，启动后只读
	handlers []namedHandler
	sensors  []sensorLoop

	started  atomic.Bool
	queue    chan models.Event
	cancel   context.CancelFunc
	sensorWG sync.WaitGroup
	dispatch sync.WaitGroup
	stopOnce sync.Once
}

// NewMonitor 创建监测循环
func NewMonitor(opts Options, logger *zap.Logger) *Monitor {
	return &Monitor{
		opts:   opts.withDefaults(),
		logger: logger,
		stats:  NewStats(),
	}
}

// Stats 统计
func (m *Monitor) Stats() *Stats {
	return m.stats
}

// Register 注册处理器（仅允许在 Start 之前）
func (m *Monitor) Register(name string, h Handler) error {
	if m.started.Load() {
		return ErrAlreadyStarted
	}
	m.handlers = append(m.handlers, namedHandler{name: name, fn: h})
	m.logger.Debug("Handler registered", zap.String("handler", name), zap.Int("position", len(m.handlers)))
	return nil
}

// AddIMU 添加 IMU 轮询
func (m *Monitor) AddIMU(imu hardware.IMU, det detector.FallDetector, interval time.Duration) error {
	if m.started.Load() {
		return ErrAlreadyStarted
	}
	m.sensors = append(m.sensors, &imuLoop{
		imu:      imu,
		detector: det,
		interval: interval,
		samples:  m.stats.IMUSamples,
		errors:   m.stats.IMUReadErrors,
	})
	return nil
}

// AddRangefinder 添加超声波轮询
func (m *Monitor) AddRangefinder(rf hardware.Rangefinder, f *filter.MedianFilter, w *detector.DistanceWatcher, interval time.Duration, maxDistanceCM float64) error {
	if m.started.Load() {
		return ErrAlreadyStarted
	}
	m.sensors = append(m.sensors, &rangeLoop{
		rf:            rf,
		filter:        f,
		watcher:       w,
		interval:      interval,
		maxDistanceCM: maxDistanceCM,
		samples:       m.stats.UltrasonicSamples,
		misses:        m.stats.UltrasonicMisses,
		errors:        m.stats.UltrasonicReadErrors,
	})
	return nil
}

// Start 启动传感器轮询与事件分发
func (m *Monitor) Start(ctx context.Context) error {
	if m.started.Swap(true) {
		return ErrAlreadyStarted
	}
	if len(m.sensors) == 0 {
		m.logger.Warn("No sensors configured, monitor will only idle")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.queue = make(chan models.Event, m.opts.QueueSize)

	// 分发使用不随 Stop 取消的 context，保证队列中剩余事件能处理完
	m.dispatch.Add(1)
	go m.dispatchLoop(context.WithoutCancel(ctx))

	for _, s := range m.sensors {
		m.sensorWG.Add(1)
		go m.runSensor(loopCtx, s)
	}

	m.logger.Info("Monitor started",
		zap.Int("sensors", len(m.sensors)),
		zap.Int("handlers", len(m.handlers)),
		zap.Int("queue_size", m.opts.QueueSize),
	)
	return nil
}

// Stop 停止轮询并等待队列处理完毕
//
// 正在进行的一次读取会先完成；总线读取卡住时 Stop 也会随之等待。
func (m *Monitor) Stop() {
	if !m.started.Load() {
		return
	}
	m.stopOnce.Do(func() {
		m.logger.Info("Stopping monitor")
		m.cancel()
		m.sensorWG.Wait()
		close(m.queue)
		m.dispatch.Wait()
		m.logger.Info("Monitor stopped", zap.Any("stats", m.stats.Snapshot()))
	})
}

// runSensor 单个传感器的轮询循环
func (m *Monitor) runSensor(ctx context.Context, s sensorLoop) {
	defer m.sensorWG.Done()

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	logger := m.logger.With(zap.String("sensor", s.Name()))
	logger.Info("Sensor loop started", zap.Duration("interval", s.Interval()))

	failures := 0
	offline := false

	for ctx.Err() == nil {
		started := time.Now()
		now := m.opts.Now()

		evt, err := s.Poll(now)
		if err != nil {
			failures++
			s.ReadErrors().Inc(1)
			if failures == 1 {
				logger.Warn("Sensor read failed, retrying", zap.Error(err), zap.Duration("backoff", m.opts.ReadBackoff))
			} else {
				logger.Debug("Sensor read failed again", zap.Error(err), zap.Int("consecutive_failures", failures))
			}

			if failures >= m.opts.OfflineAfter && !offline {
				offline = true
				logger.Warn("Sensor offline", zap.Int("consecutive_failures", failures), zap.Error(err))
				m.enqueue(models.NewSensorStatusEvent(models.SensorStatusEvent{
					DetectedAt:          now,
					Sensor:              s.Name(),
					Online:              false,
					ConsecutiveFailures: failures,
					LastError:           err.Error(),
				}))
			}

			sleepCtx(ctx, m.opts.ReadBackoff)
			continue
		}

		if offline {
			offline = false
			logger.Info("Sensor back online", zap.Int("failed_reads", failures))
			m.enqueue(models.NewSensorStatusEvent(models.SensorStatusEvent{
				DetectedAt:          now,
				Sensor:              s.Name(),
				Online:              true,
				ConsecutiveFailures: failures,
			}))
		}
		failures = 0

		if evt != nil {
			m.enqueue(*evt)
		}

		// 固定周期：扣除本次耗时
		sleepCtx(ctx, s.Interval()-time.Since(started))
	}

	logger.Info("Sensor loop stopped")
}

// enqueue 放入事件队列；队列满时最多等待 EnqueueTimeout，超时丢弃
//
// 跌倒事件从不丢弃：队列满时阻塞当前传感器循环直到有空位。
func (m *Monitor) enqueue(evt models.Event) {
	select {
	case m.queue <- evt:
		m.stats.EventsEmitted.Inc(1)
		return
	default:
	}

	if evt.Type == models.EventFallDetected {
		m.logger.Warn("Event queue full, waiting to deliver fall event", zap.String("event_id", evt.ID))
		m.queue <- evt
		m.stats.EventsEmitted.Inc(1)
		return
	}

	timer := time.NewTimer(m.opts.EnqueueTimeout)
	defer timer.Stop()

	select {
	case m.queue <- evt:
		m.stats.EventsEmitted.Inc(1)
	case <-timer.C:
		m.stats.EventsDropped.Inc(1)
		m.logger.Warn("Event queue full, dropping event",
			zap.String("event", evt.Type),
			zap.String("event_id", evt.ID),
			zap.Duration("waited", m.opts.EnqueueTimeout),
		)
	}
}

// dispatchLoop 按 FIFO 取出事件并依次调用处理器
func (m *Monitor) dispatchLoop(ctx context.Context) {
	defer m.dispatch.Done()

	for evt := range m.queue {
		for _, h := range m.handlers {
			if err := invoke(ctx, h.fn, evt); err != nil {
				m.stats.HandlerErrors.Inc(1)
				m.logger.Error("Event handler failed",
					zap.String("handler", h.name),
					zap.String("event", evt.Type),
					zap.String("event_id", evt.ID),
					zap.Error(err),
				)
			}
		}
	}
}

// invoke 调用处理器并把 panic 转为错误
func invoke(ctx context.Context, h Handler, evt models.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, evt)
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

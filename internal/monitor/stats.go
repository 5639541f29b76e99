package monitor

import (
	"sort"

	"github.com/rcrowley/go-metrics"
)

// 计数器名称
const (
	MetricIMUSamples           = "imu.samples"
	MetricIMUReadErrors        = "imu.read_errors"
	MetricUltrasonicSamples    = "ultrasonic.samples"
	MetricUltrasonicMisses     = "ultrasonic.misses"
	MetricUltrasonicReadErrors = "ultrasonic.read_errors"
	MetricEventsEmitted        = "events.emitted"
	MetricEventsDropped        = "events.dropped"
	MetricHandlerErrors        = "handlers.errors"
	MetricSinkDropped          = "sinks.dropped"
	MetricSinkWriteErrors      = "sinks.write_errors"
)

// Stats 监测循环统计
type Stats struct {
	registry metrics.Registry

	IMUSamples           metrics.Counter
	IMUReadErrors        metrics.Counter
	UltrasonicSamples    metrics.Counter
	UltrasonicMisses     metrics.Counter
	UltrasonicReadErrors metrics.Counter
	EventsEmitted        metrics.Counter
	EventsDropped        metrics.Counter
	HandlerErrors        metrics.Counter
	SinkDropped          metrics.Counter
	SinkWriteErrors      metrics.Counter
}

// NewStats 创建统计（每个 Monitor 独立的 registry）
func NewStats() *Stats {
	r := metrics.NewRegistry()
	return &Stats{
		registry:             r,
		IMUSamples:           metrics.NewRegisteredCounter(MetricIMUSamples, r),
		IMUReadErrors:        metrics.NewRegisteredCounter(MetricIMUReadErrors, r),
		UltrasonicSamples:    metrics.NewRegisteredCounter(MetricUltrasonicSamples, r),
		UltrasonicMisses:     metrics.NewRegisteredCounter(MetricUltrasonicMisses, r),
		UltrasonicReadErrors: metrics.NewRegisteredCounter(MetricUltrasonicReadErrors, r),
		EventsEmitted:        metrics.NewRegisteredCounter(MetricEventsEmitted, r),
		EventsDropped:        metrics.NewRegisteredCounter(MetricEventsDropped, r),
		HandlerErrors:        metrics.NewRegisteredCounter(MetricHandlerErrors, r),
		SinkDropped:          metrics.NewRegisteredCounter(MetricSinkDropped, r),
		SinkWriteErrors:      metrics.NewRegisteredCounter(MetricSinkWriteErrors, r),
	}
}

// Snapshot 当前所有计数器的值
func (s *Stats) Snapshot() map[string]int64 {
	out := make(map[string]int64)
	s.registry.Each(func(name string, i interface{}) {
		if c, ok := i.(metrics.Counter); ok {
			out[name] = c.Count()
		}
	})
	return out
}

// Names 已注册的计数器名称（排序后）
func (s *Stats) Names() []string {
	snap := s.Snapshot()
	names := make([]string, 0, len(snap))
	for name := range snap {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

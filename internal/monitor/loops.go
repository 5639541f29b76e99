package monitor

import (
	"time"

	"wisefido-assist/internal/detector"
	"wisefido-assist/internal/filter"
	"wisefido-assist/internal/hardware"
	"wisefido-assist/internal/models"

	"github.com/rcrowley/go-metrics"
)

// sensorLoop 单个传感器的一次轮询：读取 -> 滤波 -> 检测
type sensorLoop interface {
	Name() string
	Interval() time.Duration
	// Poll 读取失败返回 err；无事件时返回 nil, nil
	Poll(now time.Time) (*models.Event, error)
	ReadErrors() metrics.Counter
}

// imuLoop IMU 轮询：加速度 + 角速度 -> 跌倒检测
type imuLoop struct {
	imu      hardware.IMU
	detector detector.FallDetector
	interval time.Duration
	samples  metrics.Counter
	errors   metrics.Counter
}

func (l *imuLoop) Name() string                { return models.SensorIMU }
func (l *imuLoop) Interval() time.Duration     { return l.interval }
func (l *imuLoop) ReadErrors() metrics.Counter { return l.errors }

func (l *imuLoop) Poll(now time.Time) (*models.Event, error) {
	accel, err := l.imu.ReadAcceleration()
	if err != nil {
		return nil, err
	}
	gyro, err := l.imu.ReadRotation()
	if err != nil {
		return nil, err
	}
	l.samples.Inc(1)

	fall := l.detector.Update(accel, gyro, now)
	if fall == nil {
		return nil, nil
	}
	evt := models.NewFallEvent(*fall)
	return &evt, nil
}

// rangeLoop 超声波轮询：测距 -> 中值滤波 -> 距离变化检测
type rangeLoop struct {
	rf            hardware.Rangefinder
	filter        *filter.MedianFilter
	watcher       *detector.DistanceWatcher
	interval      time.Duration
	maxDistanceCM float64
	samples       metrics.Counter
	misses        metrics.Counter
	errors        metrics.Counter
}

func (l *rangeLoop) Name() string                { return models.SensorUltrasonic }
func (l *rangeLoop) Interval() time.Duration     { return l.interval }
func (l *rangeLoop) ReadErrors() metrics.Counter { return l.errors }

func (l *rangeLoop) Poll(now time.Time) (*models.Event, error) {
	cm, ok, err := l.rf.MeasureDistanceCM(l.maxDistanceCM)
	if err != nil {
		return nil, err
	}
	if !ok {
		// 未测到回波或超出量程，不进入滤波
		l.misses.Inc(1)
		return nil, nil
	}
	l.samples.Inc(1)

	reading, _ := l.filter.ApplySample(models.Sample{Timestamp: now, Value: cm, Kind: models.KindDistanceCM})
	dist := l.watcher.Observe(reading.Value, reading.Timestamp)
	if dist == nil {
		return nil, nil
	}
	evt := models.NewDistanceEvent(*dist)
	return &evt, nil
}

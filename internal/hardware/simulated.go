package hardware

import (
	"errors"
	"sync"

	"wisefido-assist/internal/models"
)

// ErrSimulatedFailure 模拟读取失败
var ErrSimulatedFailure = errors.New("simulated read failure")

// IMUReading 模拟 IMU 的一帧
type IMUReading struct {
	Accel models.Vec3
	Gyro  models.Vec3
	Err   error
}

// SimulatedIMU 按脚本回放的 IMU；脚本读完后重复最后一帧
type SimulatedIMU struct {
	mu      sync.Mutex
	script  []IMUReading
	pos     int
	current IMUReading
	closed  bool
}

// NewSimulatedIMU 创建模拟 IMU，空脚本时静止平放 (z=1g)
func NewSimulatedIMU(script ...IMUReading) *SimulatedIMU {
	if len(script) == 0 {
		script = []IMUReading{{Accel: models.Vec3{Z: 1}}}
	}
	return &SimulatedIMU{script: script}
}

// ReadAcceleration 推进脚本一帧并返回加速度
func (s *SimulatedIMU) ReadAcceleration() (models.Vec3, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.current = s.script[s.pos]
	if s.pos < len(s.script)-1 {
		s.pos++
	}
	return s.current.Accel, s.current.Err
}

// ReadRotation 返回当前帧的角速度
func (s *SimulatedIMU) ReadRotation() (models.Vec3, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.Gyro, s.current.Err
}

// Close 关闭
func (s *SimulatedIMU) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Closed 是否已关闭
func (s *SimulatedIMU) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// RangeReading 模拟测距的一次结果
type RangeReading struct {
	CM  float64
	OK  bool
	Err error
}

// SimulatedRangefinder 按脚本回放的测距传感器；脚本读完后重复最后一次
type SimulatedRangefinder struct {
	mu     sync.Mutex
	script []RangeReading
	pos    int
	closed bool
}

// NewSimulatedRangefinder 创建模拟测距传感器
func NewSimulatedRangefinder(script ...RangeReading) *SimulatedRangefinder {
	if len(script) == 0 {
		script = []RangeReading{{}}
	}
	return &SimulatedRangefinder{script: script}
}

// Distances 由一组厘米值生成脚本
func Distances(cms ...float64) []RangeReading {
	out := make([]RangeReading, len(cms))
	for i, cm := range cms {
		out[i] = RangeReading{CM: cm, OK: true}
	}
	return out
}

// MeasureDistanceCM 返回脚本中的下一次结果
func (s *SimulatedRangefinder) MeasureDistanceCM(maxDistanceCM float64) (float64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.script[s.pos]
	if s.pos < len(s.script)-1 {
		s.pos++
	}
	if r.OK && maxDistanceCM > 0 && r.CM > maxDistanceCM {
		return 0, false, r.Err
	}
	return r.CM, r.OK, r.Err
}

// Close 关闭
func (s *SimulatedRangefinder) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Closed 是否已关闭
func (s *SimulatedRangefinder) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

package hardware

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
)

// 超声波测距常量
const (
	SpeedOfSoundCMPerSec = 34300.0 // 20°C，无温度补偿
	MinValidDistanceCM   = 2.0
	MaxValidDistanceCM   = 400.0

	triggerSettle = 20 * time.Microsecond
	triggerPulse  = 10 * time.Microsecond
	echoMargin    = 5 * time.Millisecond
)

// triggerPin 触发引脚（gpio.PinOut 满足该接口）
type triggerPin interface {
	Out(l gpio.Level) error
}

// echoPin 回波引脚（gpio.PinIn 满足该接口）
type echoPin interface {
	Read() gpio.Level
}

// HCSR04 超声波测距传感器
type HCSR04 struct {
	trig   triggerPin
	echo   echoPin
	halt   func() error
	logger *zap.Logger
}

// OpenHCSR04 按名称获取引脚（如 "GPIO23"、"GPIO24"）并初始化
func OpenHCSR04(trigName, echoName string, logger *zap.Logger) (*HCSR04, error) {
	trig := gpioreg.ByName(trigName)
	if trig == nil {
		return nil, &InitError{Device: "hcsr04", Op: "lookup trigger pin", Err: fmt.Errorf("pin %q not found", trigName)}
	}
	echo := gpioreg.ByName(echoName)
	if echo == nil {
		return nil, &InitError{Device: "hcsr04", Op: "lookup echo pin", Err: fmt.Errorf("pin %q not found", echoName)}
	}

	if err := trig.Out(gpio.Low); err != nil {
		return nil, &InitError{Device: "hcsr04", Op: "claim trigger output", Err: err}
	}
	// 回波引脚必须经过电平转换（5V -> 3.3V）
	if err := echo.In(gpio.PullDown, gpio.NoEdge); err != nil {
		return nil, &InitError{Device: "hcsr04", Op: "claim echo input", Err: err}
	}

	logger.Info("Ultrasonic sensor initialized",
		zap.String("trig", trig.Name()),
		zap.String("echo", echo.Name()),
	)

	s := NewHCSR04(trig, echo, logger)
	s.halt = func() error {
		if err := trig.Halt(); err != nil {
			return err
		}
		return echo.Halt()
	}
	return s, nil
}

// NewHCSR04 使用已配置好的引脚创建传感器
func NewHCSR04(trig triggerPin, echo echoPin, logger *zap.Logger) *HCSR04 {
	return &HCSR04{
		trig:   trig,
		echo:   echo,
		logger: logger,
	}
}

// EchoTimeout 给定最大距离下等待回波的超时：往返时间 + 5ms 余量
func EchoTimeout(maxDistanceCM float64) time.Duration {
	roundTrip := maxDistanceCM * 2 / SpeedOfSoundCMPerSec
	return time.Duration(roundTrip*float64(time.Second)) + echoMargin
}

// MeasureDistanceCM 单次测距
//
// 超时和超出 [2cm, 400cm] 都是常见情况，返回 ok=false 而不是错误。
func (s *HCSR04) MeasureDistanceCM(maxDistanceCM float64) (float64, bool, error) {
	if maxDistanceCM <= 0 {
		maxDistanceCM = MaxValidDistanceCM
	}

	// 1. 发送 10µs 触发脉冲
	if err := s.trig.Out(gpio.Low); err != nil {
		return 0, false, fmt.Errorf("failed to drive trigger low: %w", err)
	}
	time.Sleep(triggerSettle)
	if err := s.trig.Out(gpio.High); err != nil {
		return 0, false, fmt.Errorf("failed to drive trigger high: %w", err)
	}
	time.Sleep(triggerPulse)
	if err := s.trig.Out(gpio.Low); err != nil {
		return 0, false, fmt.Errorf("failed to drive trigger low: %w", err)
	}

	// 2. 忙等回波上升沿，再忙等下降沿；两段共用同一个超时起点
	timeout := EchoTimeout(maxDistanceCM)
	startWait := time.Now()
	for s.echo.Read() == gpio.Low {
		if time.Since(startWait) > timeout {
			return 0, false, nil
		}
	}

	echoStart := time.Now()
	for s.echo.Read() == gpio.High {
		if time.Since(startWait) > timeout {
			return 0, false, nil
		}
	}
	pulse := time.Since(echoStart)

	// 3. 距离 = 脉宽 × 声速 / 2
	distance := pulse.Seconds() * SpeedOfSoundCMPerSec / 2
	if distance < MinValidDistanceCM || distance > MaxValidDistanceCM {
		s.logger.Debug("Distance out of valid range",
			zap.Float64("distance_cm", distance),
			zap.Duration("pulse", pulse),
		)
		return 0, false, nil
	}

	return distance, true, nil
}

// Close 释放引脚
func (s *HCSR04) Close() error {
	if s.halt == nil {
		return nil
	}
	err := s.halt()
	s.halt = nil
	s.logger.Info("Ultrasonic sensor GPIO released")
	return err
}

package hardware

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
)

// recordingTrigger 记录触发引脚电平序列
type recordingTrigger struct {
	mu     sync.Mutex
	levels []gpio.Level
	err    error
}

func (p *recordingTrigger) Out(l gpio.Level) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.levels = append(p.levels, l)
	return nil
}

// scriptedEcho 首次 Read 后延迟 delay 拉高，保持 width 后拉低
type scriptedEcho struct {
	delay time.Duration
	width time.Duration
	start time.Time
}

func (p *scriptedEcho) Read() gpio.Level {
	now := time.Now()
	if p.start.IsZero() {
		p.start = now
	}
	since := now.Sub(p.start)
	return gpio.Level(since >= p.delay && since < p.delay+p.width)
}

func TestEchoTimeout(t *testing.T) {
	// 400cm 往返约 23.3ms
	got := EchoTimeout(400)
	assert.InDelta(t, float64(23323*time.Microsecond+5*time.Millisecond), float64(got), float64(10*time.Microsecond))
}

func TestHCSR04_TriggerPulse(t *testing.T) {
	trig := &recordingTrigger{}
	s := NewHCSR04(trig, &gpiotest.Pin{N: "ECHO"}, zap.NewNop())

	_, _, err := s.MeasureDistanceCM(50)
	require.NoError(t, err)
	assert.Equal(t, []gpio.Level{gpio.Low, gpio.High, gpio.Low}, trig.levels)
}

func TestHCSR04_NoEchoTimesOut(t *testing.T) {
	echo := &gpiotest.Pin{N: "GPIO24", L: gpio.Low}
	s := NewHCSR04(&gpiotest.Pin{N: "GPIO23"}, echo, zap.NewNop())

	start := time.Now()
	cm, ok, err := s.MeasureDistanceCM(100)
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, cm)
	assert.GreaterOrEqual(t, elapsed, EchoTimeout(100))
	assert.Less(t, elapsed, EchoTimeout(100)+50*time.Millisecond)
}

func TestHCSR04_EchoStuckHighTimesOut(t *testing.T) {
	echo := &gpiotest.Pin{N: "GPIO24", L: gpio.High}
	s := NewHCSR04(&gpiotest.Pin{N: "GPIO23"}, echo, zap.NewNop())

	_, ok, err := s.MeasureDistanceCM(100)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHCSR04_PulseWidthToDistance(t *testing.T) {
	// 1166µs ≈ 20cm
	echo := &scriptedEcho{delay: 200 * time.Microsecond, width: 1166 * time.Microsecond}
	s := NewHCSR04(&recordingTrigger{}, echo, zap.NewNop())

	cm, ok, err := s.MeasureDistanceCM(MaxValidDistanceCM)
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 20.0, cm, 3.0)
}

func TestHCSR04_TooCloseIsMiss(t *testing.T) {
	// 50µs ≈ 0.86cm，低于 2cm 下限
	echo := &scriptedEcho{delay: 100 * time.Microsecond, width: 50 * time.Microsecond}
	s := NewHCSR04(&recordingTrigger{}, echo, zap.NewNop())

	cm, ok, err := s.MeasureDistanceCM(MaxValidDistanceCM)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, cm)
}

func TestHCSR04_TriggerErrorReturned(t *testing.T) {
	trig := &recordingTrigger{err: errors.New("gpio busy")}
	s := NewHCSR04(trig, &gpiotest.Pin{N: "ECHO"}, zap.NewNop())

	_, ok, err := s.MeasureDistanceCM(100)
	require.Error(t, err)
	assert.False(t, ok)
	assert.ErrorIs(t, err, trig.err)
}

func TestOpenHCSR04_UnknownPin(t *testing.T) {
	_, err := OpenHCSR04("NO_SUCH_TRIG", "NO_SUCH_ECHO", zap.NewNop())
	require.Error(t, err)

	var initErr *InitError
	require.True(t, errors.As(err, &initErr))
	assert.Equal(t, "hcsr04", initErr.Device)
	assert.Equal(t, "lookup trigger pin", initErr.Op)
}

package hardware

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"periph.io/x/conn/v3/physic"
)

// regBus 以寄存器数组模拟 I2C 设备
type regBus struct {
	regs      [256]byte
	writes    [][]byte
	addrs     []uint16
	failWrite error
	failRead  error
}

func (b *regBus) String() string                    { return "regbus" }
func (b *regBus) SetSpeed(f physic.Frequency) error { return nil }

func (b *regBus) Tx(addr uint16, w, r []byte) error {
	b.addrs = append(b.addrs, addr)
	if len(r) == 0 {
		if b.failWrite != nil {
			return b.failWrite
		}
		b.writes = append(b.writes, append([]byte(nil), w...))
		if len(w) >= 2 {
			copy(b.regs[w[0]:], w[1:])
		}
		return nil
	}
	if b.failRead != nil {
		return b.failRead
	}
	copy(r, b.regs[w[0]:])
	return nil
}

func TestNewMPU9250_InitSequence(t *testing.T) {
	bus := &regBus{}
	bus.regs[regWhoAmI] = 0x71

	core, logs := observer.New(zap.DebugLevel)
	imu, err := NewMPU9250(bus, 0, zap.New(core))
	require.NoError(t, err)
	require.NotNil(t, imu)

	// 先清 sleep 位，再选时钟源
	require.Len(t, bus.writes, 2)
	assert.Equal(t, []byte{regPwrMgmt1, pwrWake}, bus.writes[0])
	assert.Equal(t, []byte{regPwrMgmt1, pwrClockPLL}, bus.writes[1])
	for _, a := range bus.addrs {
		assert.Equal(t, uint16(MPU9250DefaultAddr), a)
	}

	assert.Equal(t, 1, logs.FilterMessage("MPU9250 initialized").Len())
	assert.Equal(t, 0, logs.FilterMessage("Unexpected WHO_AM_I value, continuing").Len())
}

func TestNewMPU9250_UnexpectedWhoAmIOnlyWarns(t *testing.T) {
	bus := &regBus{}
	bus.regs[regWhoAmI] = 0x12

	core, logs := observer.New(zap.DebugLevel)
	imu, err := NewMPU9250(bus, 0x69, zap.New(core))
	require.NoError(t, err)
	require.NotNil(t, imu)

	warned := logs.FilterMessage("Unexpected WHO_AM_I value, continuing").All()
	require.Len(t, warned, 1)
	assert.Equal(t, "0x12", warned[0].ContextMap()["who_am_i"])
	assert.Equal(t, uint16(0x69), bus.addrs[0])
}

func TestNewMPU9250_WriteFailureIsInitError(t *testing.T) {
	bus := &regBus{failWrite: errors.New("nack")}

	_, err := NewMPU9250(bus, 0, zap.NewNop())
	require.Error(t, err)

	var initErr *InitError
	require.True(t, errors.As(err, &initErr))
	assert.Equal(t, "mpu9250", initErr.Device)
	assert.Equal(t, "clear sleep bit", initErr.Op)
	assert.EqualError(t, errors.Unwrap(err), "nack")
}

func TestMPU9250_ReadScaled(t *testing.T) {
	bus := &regBus{}
	bus.regs[regWhoAmI] = 0x71
	imu, err := NewMPU9250(bus, 0, zap.NewNop())
	require.NoError(t, err)

	// +16384, -16384, +8192
	copy(bus.regs[regAccelXoutH:], []byte{0x40, 0x00, 0xC0, 0x00, 0x20, 0x00})
	// +131, -262, 0
	copy(bus.regs[regGyroXoutH:], []byte{0x00, 0x83, 0xFE, 0xFA, 0x00, 0x00})
	// 0 -> 21°C
	copy(bus.regs[regTempOutH:], []byte{0x00, 0x00})

	accel, err := imu.ReadAcceleration()
	require.NoError(t, err)
	assert.InDelta(t, 1.0, accel.X, 1e-9)
	assert.InDelta(t, -1.0, accel.Y, 1e-9)
	assert.InDelta(t, 0.5, accel.Z, 1e-9)

	gyro, err := imu.ReadRotation()
	require.NoError(t, err)
	assert.InDelta(t, 1.0, gyro.X, 1e-9)
	assert.InDelta(t, -2.0, gyro.Y, 1e-9)
	assert.InDelta(t, 0.0, gyro.Z, 1e-9)

	temp, err := imu.ReadTemperature()
	require.NoError(t, err)
	assert.InDelta(t, 21.0, temp, 1e-9)

	// 未通过 OpenMPU9250 打开的总线不归本对象关闭
	assert.NoError(t, imu.Close())
}

func TestMPU9250_ReadErrorWrapped(t *testing.T) {
	bus := &regBus{}
	imu, err := NewMPU9250(bus, 0, zap.NewNop())
	require.NoError(t, err)

	bus.failRead = errors.New("bus timeout")
	_, err = imu.ReadAcceleration()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "0x3B")
	assert.ErrorIs(t, err, bus.failRead)
}

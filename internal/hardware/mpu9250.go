package hardware

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"wisefido-assist/internal/models"

	"go.uber.org/zap"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/mmr"
)

// MPU9250 寄存器与量程
const (
	MPU9250DefaultAddr = 0x68

	regPwrMgmt1   = 0x6B
	regAccelXoutH = 0x3B
	regTempOutH   = 0x41
	regGyroXoutH  = 0x43
	regWhoAmI     = 0x75

	pwrWake     = 0x00 // 清除 sleep 位
	pwrClockPLL = 0x01 // 选择 PLL 时钟源

	accelScale = 16384.0 // LSB/g，±2g
	gyroScale  = 131.0   // LSB/(°/s)，±250°/s
	tempScale  = 333.87
	tempOffset = 21.0
)

// initSettleDelay 初始化每一步之后的等待时间（至少 100ms）
const initSettleDelay = 100 * time.Millisecond

// knownWhoAmI MPU9250/MPU9255/MPU6500 的 WHO_AM_I 值
var knownWhoAmI = map[uint8]string{
	0x71: "MPU9250",
	0x73: "MPU9255",
	0x70: "MPU6500",
}

// MPU9250 I2C 上的 9 轴 IMU（仅使用加速度计、陀螺仪与温度）
type MPU9250 struct {
	dev    mmr.Dev8
	conn   *i2c.Dev
	closer io.Closer
	logger *zap.Logger
	buf    [6]byte
}

// OpenMPU9250 打开 I2C 总线并初始化传感器；busName 为空时使用第一条总线
func OpenMPU9250(busName string, addr uint16, logger *zap.Logger) (*MPU9250, error) {
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, &InitError{Device: "mpu9250", Op: fmt.Sprintf("open i2c bus %q", busName), Err: err}
	}

	imu, err := NewMPU9250(bus, addr, logger)
	if err != nil {
		bus.Close()
		return nil, err
	}
	imu.closer = bus
	return imu, nil
}

// NewMPU9250 在已打开的总线上初始化传感器
func NewMPU9250(bus i2c.Bus, addr uint16, logger *zap.Logger) (*MPU9250, error) {
	if addr == 0 {
		addr = MPU9250DefaultAddr
	}
	conn := &i2c.Dev{Bus: bus, Addr: addr}
	m := &MPU9250{
		dev:    mmr.Dev8{Conn: conn, Order: binary.BigEndian},
		conn:   conn,
		logger: logger,
	}

	// 1. 唤醒
	if err := m.dev.WriteUint8(regPwrMgmt1, pwrWake); err != nil {
		return nil, &InitError{Device: "mpu9250", Op: "clear sleep bit", Err: err}
	}
	time.Sleep(initSettleDelay)

	// 2. 选择时钟源
	if err := m.dev.WriteUint8(regPwrMgmt1, pwrClockPLL); err != nil {
		return nil, &InitError{Device: "mpu9250", Op: "select clock source", Err: err}
	}
	time.Sleep(initSettleDelay)

	// 3. 校验芯片 ID（不一致只告警，这类模块经常是兼容芯片）
	id, err := m.dev.ReadUint8(regWhoAmI)
	if err != nil {
		m.logger.Warn("Failed to read WHO_AM_I", zap.Error(err))
	} else if model, ok := knownWhoAmI[id]; ok {
		m.logger.Info("MPU9250 initialized",
			zap.String("bus", bus.String()),
			zap.String("addr", fmt.Sprintf("0x%02X", addr)),
			zap.String("model", model),
		)
	} else {
		m.logger.Warn("Unexpected WHO_AM_I value, continuing",
			zap.String("who_am_i", fmt.Sprintf("0x%02X", id)),
			zap.String("expected", "0x71"),
		)
	}

	return m, nil
}

// ReadAcceleration 读取加速度 (g)
func (m *MPU9250) ReadAcceleration() (models.Vec3, error) {
	return m.readVec3(regAccelXoutH, accelScale)
}

// ReadRotation 读取角速度 (°/s)
func (m *MPU9250) ReadRotation() (models.Vec3, error) {
	return m.readVec3(regGyroXoutH, gyroScale)
}

// ReadTemperature 读取芯片温度 (°C)
func (m *MPU9250) ReadTemperature() (float64, error) {
	raw, err := m.dev.ReadUint16(regTempOutH)
	if err != nil {
		return 0, fmt.Errorf("failed to read temperature: %w", err)
	}
	return float64(int16(raw))/tempScale + tempOffset, nil
}

// readVec3 连续读取 3 个大端 16 位有符号寄存器并换算
func (m *MPU9250) readVec3(reg uint8, scale float64) (models.Vec3, error) {
	if err := m.conn.Tx([]byte{reg}, m.buf[:]); err != nil {
		return models.Vec3{}, fmt.Errorf("failed to read registers 0x%02X: %w", reg, err)
	}
	return models.Vec3{
		X: float64(int16(binary.BigEndian.Uint16(m.buf[0:2]))) / scale,
		Y: float64(int16(binary.BigEndian.Uint16(m.buf[2:4]))) / scale,
		Z: float64(int16(binary.BigEndian.Uint16(m.buf[4:6]))) / scale,
	}, nil
}

// Close 关闭由本对象打开的总线
func (m *MPU9250) Close() error {
	if m.closer == nil {
		return nil
	}
	err := m.closer.Close()
	m.closer = nil
	m.logger.Info("MPU9250 closed")
	return err
}

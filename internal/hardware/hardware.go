// Package hardware 读取原始传感器数据：I2C 上的 MPU9250 惯性单元与 GPIO 上的 HC-SR04 超声波测距
//
// 每个读取器独占自己的硬件句柄，且只在所属的轮询线程中使用，因此不加锁。
package hardware

import (
	"fmt"

	"wisefido-assist/internal/models"

	"periph.io/x/host/v3"
)

// IMU 惯性测量单元
type IMU interface {
	// ReadAcceleration 加速度 (g)
	ReadAcceleration() (models.Vec3, error)
	// ReadRotation 角速度 (°/s)
	ReadRotation() (models.Vec3, error)
	Close() error
}

// Rangefinder 测距传感器
type Rangefinder interface {
	// MeasureDistanceCM 单次测距；超时或超出有效量程时 ok=false 且 err=nil，
	// 只有 GPIO 本身出错时才返回 err
	MeasureDistanceCM(maxDistanceCM float64) (cm float64, ok bool, err error)
	Close() error
}

// InitError 初始化失败（总线/芯片打开失败、初始化寄存器写入失败）
// 属于致命错误，不做静默重试，由调用方决定退出或不启动该传感器
type InitError struct {
	Device string
	Op     string
	Err    error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("%s init failed: %s: %v", e.Device, e.Op, e.Err)
}

func (e *InitError) Unwrap() error {
	return e.Err
}

// InitHost 加载 periph 主机驱动（I2C、GPIO 字符设备等）
func InitHost() error {
	if _, err := host.Init(); err != nil {
		return &InitError{Device: "host", Op: "load periph drivers", Err: err}
	}
	return nil
}

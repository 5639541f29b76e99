package detector

import (
	"time"

	"wisefido-assist/internal/models"

	"go.uber.org/zap"
)

// SimpleFallCheck 单阶段跌倒检测（开销小，可靠性低）
// 加速度超过撞击阈值或角速度超过旋转阈值即触发，独立冷却
type SimpleFallCheck struct {
	th       FallThresholds
	logger   *zap.Logger
	lastFall time.Time
}

// NewSimpleFallCheck 创建简易跌倒检测
func NewSimpleFallCheck(th FallThresholds, logger *zap.Logger) *SimpleFallCheck {
	return &SimpleFallCheck{th: th, logger: logger}
}

// Mode 策略名称
func (s *SimpleFallCheck) Mode() string {
	return ModeSimple
}

// State 简易模式无状态
func (s *SimpleFallCheck) State() models.FallState {
	return models.StateNormal
}

// Update 处理一帧数据
func (s *SimpleFallCheck) Update(accel, gyro models.Vec3, now time.Time) *models.FallEvent {
	if !s.lastFall.IsZero() && now.Sub(s.lastFall) < s.th.Cooldown {
		return nil
	}

	accelMag := accel.Magnitude()
	gyroMag := gyro.Magnitude()
	if accelMag <= s.th.ImpactG && gyroMag <= s.th.SimpleRotationDPS {
		return nil
	}

	s.lastFall = now
	s.logger.Warn("FALL DETECTED",
		zap.String("mode", ModeSimple),
		zap.Float64("accel_g", accelMag),
		zap.Float64("rotation_dps", gyroMag),
	)
	return &models.FallEvent{
		DetectedAt:        now,
		Severity:          models.SeverityCritical,
		Mode:              ModeSimple,
		AccelMagnitude:    accelMag,
		RotationMagnitude: gyroMag,
	}
}

// NewFallDetector 按模式创建跌倒检测器，未知模式使用状态机
func NewFallDetector(mode string, th FallThresholds, logger *zap.Logger) FallDetector {
	if mode == ModeSimple {
		return NewSimpleFallCheck(th, logger)
	}
	return NewFallStateMachine(th, logger)
}

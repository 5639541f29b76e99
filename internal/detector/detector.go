// Package detector 实现跌倒检测状态机、简易跌倒检测与距离变化检测
package detector

import (
	"time"

	"wisefido-assist/internal/models"
)

// 跌倒检测模式
const (
	ModeStateMachine = "state_machine"
	ModeSimple       = "simple"
)

// FallDetector 跌倒检测策略接口
// 状态机与简易检测是两种可互换的实现，由配置选择其一，不做组合
type FallDetector interface {
	// Update 输入一帧加速度(g)与角速度(°/s)，确认跌倒时返回事件
	Update(accel, gyro models.Vec3, now time.Time) *models.FallEvent
	// State 当前状态
	State() models.FallState
	// Mode 策略名称
	Mode() string
}

// FallThresholds 跌倒检测阈值（可按用户调节）
type FallThresholds struct {
	FreefallG            float64       // 低于此值进入失重
	ImpactG              float64       // 高于此值视为撞击
	LyingG               float64       // 撞击后低于此值视为静止躺倒
	LyingRotationDPS     float64       // 躺倒时角速度上限
	RecoveryG            float64       // 躺倒确认前超过此值视为已起身
	RecoveryRotationDPS  float64       // 躺倒确认前角速度超过此值视为已起身
	SimpleRotationDPS    float64       // 简易模式角速度阈值
	FreefallMinDuration  time.Duration // 失重最短持续时间
	FreefallTimeout      time.Duration // 失重超时
	ImpactSettleDuration time.Duration // 撞击后进入躺倒前的最短时间
	ImpactTimeout        time.Duration // 撞击后等待躺倒的超时
	LyingConfirmDuration time.Duration // 躺倒确认时间
	Cooldown             time.Duration // 两次跌倒事件的最小间隔
}

// DefaultFallThresholds 默认阈值
func DefaultFallThresholds() FallThresholds {
	return FallThresholds{
		FreefallG:            0.5,
		ImpactG:              2.5,
		LyingG:               0.7,
		LyingRotationDPS:     50,
		RecoveryG:            1.2,
		RecoveryRotationDPS:  100,
		SimpleRotationDPS:    150,
		FreefallMinDuration:  300 * time.Millisecond,
		FreefallTimeout:      time.Second,
		ImpactSettleDuration: 500 * time.Millisecond,
		ImpactTimeout:        2 * time.Second,
		LyingConfirmDuration: time.Second,
		Cooldown:             30 * time.Second,
	}
}

// cooldownElapsed 冷却期是否已过（从未触发视为已过）
func cooldownElapsed(lastFall, now time.Time, cooldown time.Duration) bool {
	return lastFall.IsZero() || now.Sub(lastFall) > cooldown
}

package detector

import (
	"time"

	"wisefido-assist/internal/filter"
	"wisefido-assist/internal/models"

	"go.uber.org/zap"
)

// historySize 幅值历史长度（50Hz 下约 2 秒）
const historySize = 100

// FallStateMachine 多阶段跌倒检测状态机
//
// Normal -> Freefall -> Impact -> Lying -> (事件) -> Normal
// 每次转移都会重置 enteredAt，停留时间始终相对当前状态计算。
// lastFall 只在真正发出事件时更新，冷却期内被抑制的检测不会延长冷却期。
type FallStateMachine struct {
	th          FallThresholds
	logger      *zap.Logger
	state       models.FallState
	enteredAt   time.Time
	lastFall    time.Time
	transitions int

	accelHistory *filter.Ring
	gyroHistory  *filter.Ring
}

// NewFallStateMachine 创建跌倒检测状态机
func NewFallStateMachine(th FallThresholds, logger *zap.Logger) *FallStateMachine {
	return &FallStateMachine{
		th:           th,
		logger:       logger,
		state:        models.StateNormal,
		accelHistory: filter.NewRing(historySize),
		gyroHistory:  filter.NewRing(historySize),
	}
}

// Mode 策略名称
func (m *FallStateMachine) Mode() string {
	return ModeStateMachine
}

// State 当前状态
func (m *FallStateMachine) State() models.FallState {
	return m.state
}

// EnteredAt 进入当前状态的时间
func (m *FallStateMachine) EnteredAt() time.Time {
	return m.enteredAt
}

// Transitions 累计状态转移次数
func (m *FallStateMachine) Transitions() int {
	return m.transitions
}

// History 最近的加速度与角速度模长
func (m *FallStateMachine) History() (accel []float64, gyro []float64) {
	return m.accelHistory.Slice(), m.gyroHistory.Slice()
}

// Update 处理一帧数据
func (m *FallStateMachine) Update(accel, gyro models.Vec3, now time.Time) *models.FallEvent {
	accelMag := accel.Magnitude()
	gyroMag := gyro.Magnitude()

	m.accelHistory.Push(accelMag)
	m.gyroHistory.Push(gyroMag)

	if m.enteredAt.IsZero() {
		m.enteredAt = now
	}
	timeInState := now.Sub(m.enteredAt)

	switch m.state {
	case models.StateNormal:
		if accelMag < m.th.FreefallG {
			m.transition(models.StateFreefall, now, "low g")
		}

	case models.StateFreefall:
		if accelMag > m.th.ImpactG {
			if timeInState > m.th.FreefallMinDuration {
				m.transition(models.StateImpact, now, "impact after freefall")
			} else {
				m.transition(models.StateNormal, now, "freefall too short")
			}
		} else if timeInState > m.th.FreefallTimeout {
			m.transition(models.StateNormal, now, "freefall timeout")
		}

	case models.StateImpact:
		if accelMag < m.th.LyingG &&
			gyroMag < m.th.LyingRotationDPS &&
			timeInState > m.th.ImpactSettleDuration {
			m.transition(models.StateLying, now, "still after impact")
		} else if timeInState > m.th.ImpactTimeout {
			m.transition(models.StateNormal, now, "impact timeout")
		}

	case models.StateLying:
		if timeInState > m.th.LyingConfirmDuration {
			if cooldownElapsed(m.lastFall, now, m.th.Cooldown) {
				m.lastFall = now
				m.transition(models.StateNormal, now, "fall confirmed")
				m.logger.Warn("FALL DETECTED",
					zap.String("mode", ModeStateMachine),
					zap.Float64("accel_g", accelMag),
					zap.Float64("rotation_dps", gyroMag),
				)
				return &models.FallEvent{
					DetectedAt:        now,
					Severity:          models.SeverityCritical,
					Mode:              ModeStateMachine,
					AccelMagnitude:    accelMag,
					RotationMagnitude: gyroMag,
				}
			}
			m.transition(models.StateNormal, now, "fall suppressed by cooldown")
		} else if accelMag > m.th.RecoveryG || gyroMag > m.th.RecoveryRotationDPS {
			m.transition(models.StateNormal, now, "person recovered")
		}
	}

	return nil
}

// transition 切换状态并重置进入时间
func (m *FallStateMachine) transition(next models.FallState, now time.Time, reason string) {
	m.logger.Debug("Fall state transition",
		zap.String("from", m.state.String()),
		zap.String("to", next.String()),
		zap.String("reason", reason),
		zap.Duration("time_in_state", now.Sub(m.enteredAt)),
	)
	m.state = next
	m.enteredAt = now
	m.transitions++
}

package detector

import (
	"fmt"
	"math"
	"time"

	"wisefido-assist/internal/models"
)

// DefaultDistanceThresholdFeet 默认触发阈值（英尺）
const DefaultDistanceThresholdFeet = 1.0

// DistanceWatcher 距离变化检测
// 只记忆上一次发出事件时的距离；无冷却，仅按变化幅度判断
type DistanceWatcher struct {
	thresholdFeet float64
	lastEmitted   float64
	hasEmitted    bool
}

// NewDistanceWatcher 创建距离变化检测器
func NewDistanceWatcher(thresholdFeet float64) *DistanceWatcher {
	if thresholdFeet <= 0 {
		thresholdFeet = DefaultDistanceThresholdFeet
	}
	return &DistanceWatcher{thresholdFeet: thresholdFeet}
}

// Observe 输入一个滤波后的距离（厘米），变化足够大时返回事件
func (w *DistanceWatcher) Observe(distanceCM float64, now time.Time) *models.DistanceEvent {
	feet := models.CMToFeet(distanceCM)
	if w.hasEmitted && math.Abs(feet-w.lastEmitted) < w.thresholdFeet {
		return nil
	}

	w.lastEmitted = feet
	w.hasEmitted = true
	return &models.DistanceEvent{
		DetectedAt:   now,
		DistanceFeet: feet,
		Description:  Describe(feet),
	}
}

// LastEmitted 上一次发出事件时的距离（英尺）
func (w *DistanceWatcher) LastEmitted() (float64, bool) {
	return w.lastEmitted, w.hasEmitted
}

// Describe 生成适合语音播报的距离描述
func Describe(feet float64) string {
	switch {
	case feet < 1.0:
		return "Very close, less than 1 foot"
	case feet < 3.0:
		return fmt.Sprintf("Obstacle at %.1f feet", feet)
	case feet < 6.0:
		return fmt.Sprintf("Object at %.1f feet ahead", feet)
	case feet < 10.0:
		return fmt.Sprintf("Clear path, obstacle %.0f feet away", feet)
	default:
		return "Clear path ahead"
	}
}

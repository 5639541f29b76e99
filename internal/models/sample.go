package models

import (
	"math"
	"time"
)

// CMPerFoot 厘米/英尺换算系数
const CMPerFoot = 30.48

// SampleKind 原始测量类型
type SampleKind string

// KindDistanceCM 超声波距离（厘米）
const KindDistanceCM SampleKind = "distance_cm"

// Sample 带时间戳的原始物理量（只读，供滤波器消费）
type Sample struct {
	Timestamp time.Time
	Value     float64
	Kind      SampleKind
}

// FilteredReading 滤波后的读数，时间戳取自最新样本
type FilteredReading struct {
	Timestamp time.Time
	Value     float64
	Kind      SampleKind
}

// Vec3 三轴向量（加速度单位 g，角速度单位 °/s）
type Vec3 struct {
	X, Y, Z float64
}

// Magnitude 向量模长
func (v Vec3) Magnitude() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// CMToFeet 厘米转英尺
func CMToFeet(cm float64) float64 {
	return cm / CMPerFoot
}

// FeetToCM 英尺转厘米
func FeetToCM(feet float64) float64 {
	return feet * CMPerFoot
}

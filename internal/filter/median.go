// Package filter 提供原始读数的去噪滤波
package filter

import (
	"sort"

	"wisefido-assist/internal/models"
)

// DefaultWindow 默认滤波窗口
const DefaultWindow = 5

// minMedianSamples 少于该数量时直接返回最新值，不做平滑
const minMedianSamples = 3

// MedianFilter 固定窗口中值滤波器
//
// 缓冲区不足 3 个样本时返回最新样本本身；
// 达到 3 个及以上时返回排序后下标 len/2 的元素（偶数个取上中位）。
type MedianFilter struct {
	ring *Ring
}

// NewMedianFilter 创建中值滤波器
func NewMedianFilter(window int) *MedianFilter {
	if window <= 0 {
		window = DefaultWindow
	}
	return &MedianFilter{ring: NewRing(window)}
}

// Push 写入原始值
func (f *MedianFilter) Push(v float64) {
	f.ring.Push(v)
}

// Filtered 当前滤波值，缓冲区为空时返回 false
func (f *MedianFilter) Filtered() (float64, bool) {
	n := f.ring.Len()
	if n == 0 {
		return 0, false
	}
	if n < minMedianSamples {
		return f.ring.Last()
	}

	values := f.ring.Slice()
	sort.Float64s(values)
	return values[n/2], true
}

// Apply 写入并返回滤波值
func (f *MedianFilter) Apply(v float64) (float64, bool) {
	f.Push(v)
	return f.Filtered()
}

// ApplySample 写入带时间戳的样本，返回的读数沿用该样本的时间与类型
func (f *MedianFilter) ApplySample(s models.Sample) (models.FilteredReading, bool) {
	v, ok := f.Apply(s.Value)
	if !ok {
		return models.FilteredReading{}, false
	}
	return models.FilteredReading{Timestamp: s.Timestamp, Value: v, Kind: s.Kind}, true
}

// Len 缓冲区样本数
func (f *MedianFilter) Len() int {
	return f.ring.Len()
}

// Reset 清空缓冲区
func (f *MedianFilter) Reset() {
	f.ring.Reset()
}

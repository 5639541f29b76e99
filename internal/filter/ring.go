package filter

// Ring 固定容量的 float64 环形缓冲区
type Ring struct {
	data []float64
	pos  int
	full bool
}

// NewRing 创建指定容量的环形缓冲区
func NewRing(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{data: make([]float64, capacity)}
}

// Push 写入一个值，满时覆盖最旧的值
func (r *Ring) Push(v float64) {
	r.data[r.pos] = v
	r.pos++
	if r.pos >= len(r.data) {
		r.pos = 0
		r.full = true
	}
}

// Len 当前元素个数
func (r *Ring) Len() int {
	if r.full {
		return len(r.data)
	}
	return r.pos
}

// Cap 容量
func (r *Ring) Cap() int {
	return len(r.data)
}

// Last 最近写入的值
func (r *Ring) Last() (float64, bool) {
	if r.Len() == 0 {
		return 0, false
	}
	idx := r.pos - 1
	if idx < 0 {
		idx = len(r.data) - 1
	}
	return r.data[idx], true
}

// Slice 按写入顺序返回副本
func (r *Ring) Slice() []float64 {
	out := make([]float64, r.Len())
	if r.full {
		copy(out, r.data[r.pos:])
		copy(out[len(r.data)-r.pos:], r.data[:r.pos])
	} else {
		copy(out, r.data[:r.pos])
	}
	return out
}

// Reset 清空
func (r *Ring) Reset() {
	r.pos = 0
	r.full = false
}

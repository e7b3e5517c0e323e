package quoter

// smoothingWindow 定长滚动窗口：未填满时原样透传，填满后输出算术
// 平均，最旧的值被逐出。每侧各持一个，只在持锁的 tick 内使用。
type smoothingWindow struct {
	size   int
	values []float64
}

func newSmoothingWindow(size int) *smoothingWindow {
	if size < 1 {
		size = 1
	}
	return &smoothingWindow{
		size:   size,
		values: make([]float64, 0, size),
	}
}

// Push 记录一个候选价并返回平滑后的值。
func (w *smoothingWindow) Push(price float64) float64 {
	if w.size <= 1 {
		return price
	}
	if len(w.values) < w.size {
		w.values = append(w.values, price)
		return price
	}
	copy(w.values, w.values[1:])
	w.values[w.size-1] = price

	var sum float64
	for _, v := range w.values {
		sum += v
	}
	return sum / float64(w.size)
}

// Filled 窗口是否已填满。
func (w *smoothingWindow) Filled() bool {
	return len(w.values) >= w.size
}

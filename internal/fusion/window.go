package fusion

// Window is a bounded FIFO of the most recent raw scores. Pushing into a
// full window evicts the oldest entry. Not safe for concurrent use.
type Window struct {
	buf   []float64
	head  int // index of the oldest entry
	count int
}

// NewWindow creates a window holding at most size scores (minimum 1).
func NewWindow(size int) *Window {
	if size < 1 {
		size = 1
	}
	return &Window{buf: make([]float64, size)}
}

// Push appends v, evicting the oldest score when the window is full.
func (w *Window) Push(v float64) {
	if w.count < len(w.buf) {
		w.buf[(w.head+w.count)%len(w.buf)] = v
		w.count++
		return
	}
	w.buf[w.head] = v
	w.head = (w.head + 1) % len(w.buf)
}

// Mean returns the arithmetic mean of the current contents, summed afresh on
// every call. An empty window has mean 0.
func (w *Window) Mean() float64 {
	if w.count == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < w.count; i++ {
		sum += w.buf[(w.head+i)%len(w.buf)]
	}
	return sum / float64(w.count)
}

// Values returns the contents oldest first.
func (w *Window) Values() []float64 {
	out := make([]float64, w.count)
	for i := range out {
		out[i] = w.buf[(w.head+i)%len(w.buf)]
	}
	return out
}

// Len returns the number of stored scores
func (w *Window) Len() int {
	return w.count
}

// Cap returns the window size
func (w *Window) Cap() int {
	return len(w.buf)
}

// Reset empties the window
func (w *Window) Reset() {
	w.head = 0
	w.count = 0
}

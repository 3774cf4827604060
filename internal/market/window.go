package market

// Window is a fixed-capacity ring buffer holding the last Cap() values pushed.
// Pushing into a full window overwrites the oldest value.
type Window[T any] struct {
	buf   []T
	start int
	size  int
}

func NewWindow[T any](capacity int) *Window[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Window[T]{buf: make([]T, capacity)}
}

func (w *Window[T]) Push(v T) {
	if w.size < len(w.buf) {
		w.buf[(w.start+w.size)%len(w.buf)] = v
		w.size++
		return
	}
	w.buf[w.start] = v
	w.start = (w.start + 1) % len(w.buf)
}

func (w *Window[T]) Len() int   { return w.size }
func (w *Window[T]) Cap() int   { return len(w.buf) }
func (w *Window[T]) Full() bool { return w.size == len(w.buf) }

// At returns the i-th value, 0 being the oldest. It panics when i is out of
// range, like a slice index.
func (w *Window[T]) At(i int) T {
	if i < 0 || i >= w.size {
		panic("market: window index out of range")
	}
	return w.buf[(w.start+i)%len(w.buf)]
}

func (w *Window[T]) Last() (T, bool) {
	if w.size == 0 {
		var zero T
		return zero, false
	}
	return w.At(w.size - 1), true
}

func (w *Window[T]) First() (T, bool) {
	if w.size == 0 {
		var zero T
		return zero, false
	}
	return w.At(0), true
}

// Slice copies the contents oldest first.
func (w *Window[T]) Slice() []T {
	out := make([]T, w.size)
	for i := range out {
		out[i] = w.At(i)
	}
	return out
}

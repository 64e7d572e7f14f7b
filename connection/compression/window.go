package compression

// slidingWindow keeps the most recent cap(buf) bytes of inflated output
type slidingWindow struct {
	buf []byte
}

func newSlidingWindow(n int) *slidingWindow {
	return &slidingWindow{
		buf: make([]byte, 0, n),
	}
}

func (w *slidingWindow) write(p []byte) {
	if len(p) >= cap(w.buf) {
		w.buf = w.buf[:cap(w.buf)]
		copy(w.buf, p[len(p)-cap(w.buf):])
		return
	}

	if left := cap(w.buf) - len(w.buf); left < len(p) {
		// shift out the oldest bytes to make room for p
		spaceNeeded := len(p) - left
		copy(w.buf, w.buf[spaceNeeded:])
		w.buf = w.buf[:len(w.buf)-spaceNeeded]
	}

	w.buf = append(w.buf, p...)
}

func (w *slidingWindow) bytes() []byte {
	return w.buf
}

func (w *slidingWindow) reset() {
	w.buf = w.buf[:0]
}

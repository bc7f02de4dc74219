// SPDX-License-Identifier: MIT
package pipeline

// history is a fixed capacity FIFO of frames that overwrites the oldest
// entry when full. head and tail only grow; their difference is the fill.
type history struct {
	buf        []Frame
	head, tail int64
}

func newHistory(size int) *history {
	return &history{buf: make([]Frame, size)}
}

func (h *history) push(f Frame) {
	size := int64(len(h.buf))
	h.buf[h.tail%size] = f
	h.tail++
	if h.tail-h.head > size {
		h.head++
	}
}

func (h *history) len() int {
	return int(h.tail - h.head)
}

func (h *history) last() (Frame, bool) {
	if h.tail == h.head {
		return Frame{}, false
	}
	return h.buf[(h.tail-1)%int64(len(h.buf))], true
}

// each calls fn for every frame, oldest first.
func (h *history) each(fn func(Frame)) {
	size := int64(len(h.buf))
	for i := h.head; i < h.tail; i++ {
		fn(h.buf[i%size])
	}
}

func (h *history) reset() {
	clear(h.buf)
	h.head, h.tail = 0, 0
}

package grain

import "sync"

// DefaultHistorySize is the capacity used when NewHistory is given zero.
const DefaultHistorySize = 100

// History keeps the most recent command events for diagnostics.
// When full, the oldest event is overwritten.
//
// Thread Safety: All methods are safe for concurrent use.
type History struct {
	mu     sync.RWMutex
	buf    []CommandEvent
	next   int
	filled bool
}

// NewHistory creates a ring buffer holding up to capacity events.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultHistorySize
	}
	return &History{buf: make([]CommandEvent, capacity)}
}

// Add appends events, evicting the oldest when full.
func (h *History) Add(events ...CommandEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, ev := range events {
		h.buf[h.next] = ev
		h.next = (h.next + 1) % len(h.buf)
		if h.next == 0 {
			h.filled = true
		}
	}
}

// Len returns the number of stored events.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.filled {
		return len(h.buf)
	}
	return h.next
}

// Cap returns the buffer capacity.
func (h *History) Cap() int {
	return len(h.buf)
}

// Recent returns up to n events, oldest first. n <= 0 returns everything.
func (h *History) Recent(n int) []CommandEvent {
	h.mu.RLock()
	defer h.mu.RUnlock()

	size := h.next
	start := 0
	if h.filled {
		size = len(h.buf)
		start = h.next
	}
	if n <= 0 || n > size {
		n = size
	}

	out := make([]CommandEvent, 0, n)
	for i := size - n; i < size; i++ {
		out = append(out, h.buf[(start+i)%len(h.buf)])
	}
	return out
}

// Clear drops all stored events.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.buf = make([]CommandEvent, len(h.buf))
	h.next = 0
	h.filled = false
}

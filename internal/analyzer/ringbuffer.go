package analyzer

import "sync"

// DefaultHistoryLines is the output kept when Config.HistoryLines is unset.
const DefaultHistoryLines = 2000

// RingBuffer keeps the most recent analyzer output lines. When full, the
// oldest line is overwritten.
//
// Example with capacity 3:
//
//	Write("A") -> [A, _, _]  head=1, size=1
//	Write("B") -> [A, B, _]  head=2, size=2
//	Write("C") -> [A, B, C]  head=0, size=3
//	Write("D") -> [D, B, C]  head=1, size=3 (A was overwritten)
type RingBuffer struct {
	mu sync.RWMutex

	lines []string
	head  int // next write position
	size  int
	total int // lines written since the last Clear
}

// NewRingBuffer creates a buffer holding capacity lines. A capacity <= 0
// uses DefaultHistoryLines.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = DefaultHistoryLines
	}
	return &RingBuffer{lines: make([]string, capacity)}
}

// Write adds a line, overwriting the oldest when full.
func (rb *RingBuffer) Write(line string) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.lines[rb.head] = line
	rb.head = (rb.head + 1) % len(rb.lines)
	if rb.size < len(rb.lines) {
		rb.size++
	}
	rb.total++
}

// Lines returns a copy of the buffered lines, oldest first.
func (rb *RingBuffer) Lines() []string {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	result := make([]string, rb.size)
	if rb.size < len(rb.lines) {
		copy(result, rb.lines[:rb.size])
		return result
	}
	for i := range rb.size {
		result[i] = rb.lines[(rb.head+i)%len(rb.lines)]
	}
	return result
}

// Dropped reports how many lines were overwritten since the last Clear.
func (rb *RingBuffer) Dropped() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.total - rb.size
}

// Capacity returns the maximum number of lines kept.
func (rb *RingBuffer) Capacity() int {
	return len(rb.lines)
}

// Clear drops every line.
func (rb *RingBuffer) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.head = 0
	rb.size = 0
	rb.total = 0
}

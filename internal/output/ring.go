package output

import (
	"sync"
	"time"
)

// DefaultHistory is the number of output lines retained per project.
const DefaultHistory = 1000

// Line is one captured line of child output.
type Line struct {
	Stream string    `json:"stream"` // "stdout" or "stderr"
	Text   string    `json:"text"`
	At     time.Time `json:"at"`
}

// Ring is a fixed-capacity line buffer retaining the newest lines. It is
// safe for concurrent use.
type Ring struct {
	mu   sync.Mutex
	buf  []Line
	next int
	full bool
}

func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultHistory
	}
	return &Ring{buf: make([]Line, capacity)}
}

func (r *Ring) Append(l Line) {
	r.mu.Lock()
	r.buf[r.next] = l
	r.next++
	if r.next == len(r.buf) {
		r.next = 0
		r.full = true
	}
	r.mu.Unlock()
}

// Len reports how many lines are currently retained.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.full {
		return len(r.buf)
	}
	return r.next
}

// Last returns up to n retained lines, oldest first. n <= 0 returns all
// retained lines.
func (r *Ring) Last(n int) []Line {
	r.mu.Lock()
	defer r.mu.Unlock()
	size := r.next
	start := 0
	if r.full {
		size = len(r.buf)
		start = r.next
	}
	if n <= 0 || n > size {
		n = size
	}
	out := make([]Line, 0, n)
	for i := size - n; i < size; i++ {
		out = append(out, r.buf[(start+i)%len(r.buf)])
	}
	return out
}

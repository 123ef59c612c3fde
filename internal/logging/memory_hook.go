package logging

import (
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
)

// LogLine is one formatted entry captured by a MemoryHook.
type LogLine struct {
	Seq  uint64 `json:"seq"`
	Text string `json:"text"`
}

// MemoryHook is a logrus hook that keeps the most recent formatted lines in a ring
// and fans new lines out to subscribers.
type MemoryHook struct {
	mu        sync.Mutex
	formatter log.Formatter
	lines     []LogLine
	capacity  int
	next      uint64
	subs      map[chan LogLine]struct{}
}

// NewMemoryHook keeps up to capacity lines (minimum 1).
func NewMemoryHook(capacity int) *MemoryHook {
	if capacity < 1 {
		capacity = 1
	}
	return &MemoryHook{
		formatter: &LogFormatter{},
		capacity:  capacity,
		next:      1,
		subs:      make(map[chan LogLine]struct{}),
	}
}

// Levels returns every level.
func (h *MemoryHook) Levels() []log.Level {
	return log.AllLevels
}

// Fire formats and stores the entry. Slow subscribers miss lines instead of blocking logging.
func (h *MemoryHook) Fire(entry *log.Entry) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	b, err := h.formatter.Format(entry)
	text := entry.Message
	if err == nil {
		text = string(b)
	}
	line := LogLine{Seq: h.next, Text: strings.TrimRight(text, "\r\n")}
	h.next++

	if len(h.lines) == h.capacity {
		copy(h.lines, h.lines[1:])
		h.lines = h.lines[:len(h.lines)-1]
	}
	h.lines = append(h.lines, line)

	for ch := range h.subs {
		select {
		case ch <- line:
		default:
		}
	}
	return nil
}

// Since returns up to limit lines with Seq > after, oldest first. limit <= 0 means all.
func (h *MemoryHook) Since(after uint64, limit int) []LogLine {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]LogLine, 0, len(h.lines))
	for _, l := range h.lines {
		if l.Seq > after {
			out = append(out, l)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// Subscribe returns a channel receiving new lines and a cancel func that closes it.
func (h *MemoryHook) Subscribe(buffer int) (<-chan LogLine, func()) {
	ch := make(chan LogLine, buffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
			close(ch)
		})
	}
}

package tui

import (
	"github.com/router-for-me/CivitaiGallery/internal/logging"
)

// LogHook feeds lines captured in-process by a logging.MemoryHook to the Logs tab.
type LogHook struct {
	backlog    []string
	backlogSeq uint64
	ch         <-chan logging.LogLine
	cancel     func()
}

// NewLogHook subscribes to mem. Lines already captured are kept as a backlog.
func NewLogHook(mem *logging.MemoryHook, bufSize int) *LogHook {
	ch, cancel := mem.Subscribe(bufSize)
	h := &LogHook{ch: ch, cancel: cancel}
	for _, l := range mem.Since(0, 0) {
		h.backlog = append(h.backlog, l.Text)
		h.backlogSeq = l.Seq
	}
	return h
}

// Backlog returns the lines captured before the subscription.
func (h *LogHook) Backlog() []string { return h.backlog }

// Next blocks for the next line not already in the backlog. ok is false once closed.
func (h *LogHook) Next() (string, bool) {
	for line := range h.ch {
		if line.Seq > h.backlogSeq {
			return line.Text, true
		}
	}
	return "", false
}

// Close ends the subscription.
func (h *LogHook) Close() {
	if h != nil && h.cancel != nil {
		h.cancel()
	}
}

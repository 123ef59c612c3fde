package logging

import (
	"strings"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
)

func fireLine(t *testing.T, h *MemoryHook, msg string) {
	t.Helper()
	entry := &log.Entry{Logger: log.StandardLogger(), Time: time.Unix(0, 0), Level: log.InfoLevel, Message: msg, Data: log.Fields{}}
	if err := h.Fire(entry); err != nil {
		t.Fatalf("Fire: %v", err)
	}
}

func TestMemoryHookKeepsMostRecentLines(t *testing.T) {
	h := NewMemoryHook(2)
	fireLine(t, h, "one")
	fireLine(t, h, "two")
	fireLine(t, h, "three")

	lines := h.Since(0, 0)
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if lines[0].Seq != 2 || !strings.HasSuffix(lines[0].Text, "two") {
		t.Errorf("unexpected first line %+v", lines[0])
	}
	if got := h.Since(2, 0); len(got) != 1 || got[0].Seq != 3 {
		t.Errorf("unexpected Since(2) result %+v", got)
	}
	if got := h.Since(0, 1); len(got) != 1 || got[0].Seq != 3 {
		t.Errorf("expected limit to keep the newest line, got %+v", got)
	}
}

func TestMemoryHookFormatsWithLogFormatter(t *testing.T) {
	h := NewMemoryHook(4)
	entry := &log.Entry{
		Logger:  log.StandardLogger(),
		Time:    time.Date(2025, 1, 2, 3, 4, 5, 0, time.Local),
		Level:   log.WarnLevel,
		Message: "download failed\n",
		Data:    log.Fields{"version": "128713", "request_id": "abcd1234"},
	}
	if err := h.Fire(entry); err != nil {
		t.Fatal(err)
	}
	got := h.Since(0, 0)[0].Text
	want := "[2025-01-02 03:04:05] [abcd1234] [warn ] download failed version=128713"
	if got != want {
		t.Fatalf("got %q\nwant %q", got, want)
	}
}

func TestMemoryHookSubscribe(t *testing.T) {
	h := NewMemoryHook(4)
	ch, cancel := h.Subscribe(1)
	fireLine(t, h, "hello")

	select {
	case line := <-ch:
		if !strings.HasSuffix(line.Text, "hello") {
			t.Errorf("unexpected line %q", line.Text)
		}
	case <-time.After(time.Second):
		t.Fatal("expected subscriber to receive line")
	}

	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Fatal("expected channel closed after cancel")
	}
	fireLine(t, h, "after cancel")
}

package sloghooks

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func newBuf() (*bytes.Buffer, *slog.Logger) {
	var buf bytes.Buffer
	return &buf, slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func TestConflictSampling(t *testing.T) {
	buf, l := newBuf()
	h := New(l, Options{ConflictEvery: 3})
	for i := 1; i <= 6; i++ {
		h.CASConflict("listing:1", i)
	}
	if n := strings.Count(buf.String(), "listingsync.cas_conflict"); n != 2 {
		t.Fatalf("want 2 sampled lines, got %d", n)
	}
	if strings.Contains(buf.String(), "listing:1") {
		t.Fatalf("key must be redacted: %s", buf.String())
	}
}

func TestStepFailedLevel(t *testing.T) {
	buf, l := newBuf()
	h := New(l, Options{Redact: func(s string) string { return s }})
	h.StepFailed("delete", "index", true, errors.New("down"))
	out := buf.String()
	if !strings.Contains(out, "level=ERROR") || !strings.Contains(out, "step=index") {
		t.Fatalf("unexpected output: %s", out)
	}
}

func TestNilLoggerIsSilent(t *testing.T) {
	h := New(nil, Options{})
	h.CASExhausted("k", 3)
	h.PublishFailed("push", errors.New("x"))
}

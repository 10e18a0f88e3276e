package cli

import (
	"bytes"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestSpinner_PlainOutput(t *testing.T) {
	var buf bytes.Buffer
	var attempt atomic.Int32
	attempt.Store(1)

	s := NewSpinner(&buf, "awaiting result")
	s.Track(func() string { return "attempt " + string(rune('0'+attempt.Load())) })
	s.Start()
	time.Sleep(150 * time.Millisecond)
	attempt.Store(2)
	time.Sleep(150 * time.Millisecond)
	s.Success("won 500")

	out := buf.String()
	if !strings.Contains(out, "awaiting result attempt 1\n") {
		t.Errorf("missing first status line in %q", out)
	}
	if !strings.Contains(out, "awaiting result attempt 2\n") {
		t.Errorf("missing second status line in %q", out)
	}
	if strings.Count(out, "attempt 1") != 1 {
		t.Errorf("unchanged status should print once, got %q", out)
	}
	if !strings.HasSuffix(out, "✓ won 500\n") {
		t.Errorf("unexpected tail %q", out)
	}
	if strings.Contains(out, "\033[") {
		t.Errorf("color codes written to a non-terminal: %q", out)
	}
}

func TestSpinner_StopIsIdempotent(t *testing.T) {
	s := NewSpinner(&bytes.Buffer{}, "x")
	s.Stop()
	s.Start()
	s.Start()
	s.Stop()
	s.Stop()
}

func TestFormatDuration(t *testing.T) {
	tests := map[time.Duration]string{
		500 * time.Millisecond:    "< 1s",
		42 * time.Second:          "42s",
		125 * time.Second:         "2m5s",
		3*time.Hour + time.Minute: "3h1m",
	}
	for d, want := range tests {
		if got := FormatDuration(d); got != want {
			t.Errorf("FormatDuration(%v) = %q, want %q", d, got, want)
		}
	}
}

func TestPrintersWithoutTerminal(t *testing.T) {
	var buf bytes.Buffer
	Warningf(&buf, "pot is %d", 0)
	Infof(&buf, "hello")
	Errorf(&buf, "boom")

	want := "⚠ pot is 0\nℹ hello\n✗ boom\n"
	if buf.String() != want {
		t.Errorf("got %q, want %q", buf.String(), want)
	}
	if Colorize(&buf, "x", ColorRed) != "x" {
		t.Error("Colorize should not color a buffer")
	}
}

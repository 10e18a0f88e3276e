// Package cli provides terminal output helpers for the mini-app command line.
package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
)

// Color codes for terminal output
const (
	ColorReset  = "\033[0m"
	ColorRed    = "\033[31m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorBlue   = "\033[34m"
	ColorCyan   = "\033[36m"
	ColorBold   = "\033[1m"
)

const spinnerInterval = 100 * time.Millisecond

// Spinner shows that a request is in flight. Its status line can be driven
// by a callback so long waits show progress, e.g. poll attempts.
type Spinner struct {
	frames   []string
	current  int
	prefix   string
	status   func() string
	lastLine string
	mu       sync.Mutex
	writer   io.Writer
	active   bool
	colorize bool
	done     chan struct{}
	stopped  chan struct{}
}

// NewSpinner creates a spinner writing to w. Color is used only when w is a
// terminal.
func NewSpinner(w io.Writer, prefix string) *Spinner {
	return &Spinner{
		frames:   []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"},
		prefix:   prefix,
		writer:   w,
		colorize: IsTerminal(w),
	}
}

// SetPrefix replaces the text shown after the frame.
func (s *Spinner) SetPrefix(prefix string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefix = prefix
}

// Track sets a callback evaluated on every frame; its result follows the
// prefix.
func (s *Spinner) Track(status func() string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

// Start begins rendering in the background. Starting twice is a no-op.
func (s *Spinner) Start() {
	s.mu.Lock()
	if s.active {
		s.mu.Unlock()
		return
	}
	s.active = true
	s.done = make(chan struct{})
	s.stopped = make(chan struct{})
	done, stopped := s.done, s.stopped
	s.mu.Unlock()

	go func() {
		defer close(stopped)
		ticker := time.NewTicker(spinnerInterval)
		defer ticker.Stop()

		for {
			s.mu.Lock()
			s.render()
			s.current = (s.current + 1) % len(s.frames)
			s.mu.Unlock()

			select {
			case <-ticker.C:
			case <-done:
				return
			}
		}
	}()
}

// Stop halts rendering and clears the line.
func (s *Spinner) Stop() {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	s.active = false
	close(s.done)
	stopped := s.stopped
	s.mu.Unlock()

	<-stopped
	if s.colorize {
		fmt.Fprint(s.writer, "\r"+strings.Repeat(" ", 80)+"\r")
	}
}

// Success stops the spinner and prints a success line.
func (s *Spinner) Success(message string) {
	s.Stop()
	Successf(s.writer, "%s", message)
}

// Error stops the spinner and prints an error line.
func (s *Spinner) Error(message string) {
	s.Stop()
	Errorf(s.writer, "%s", message)
}

// render writes the current frame. Caller must hold s.mu.
func (s *Spinner) render() {
	line := s.prefix
	if s.status != nil {
		if st := s.status(); st != "" {
			line += " " + st
		}
	}
	if !s.colorize {
		// Plain output gets a new line only when the text changes.
		if line != s.lastLine {
			fmt.Fprintln(s.writer, line)
			s.lastLine = line
		}
		return
	}
	fmt.Fprintf(s.writer, "\r%s%s%s %s", ColorCyan, s.frames[s.current], ColorReset, line)
}

// Successf prints a success message to w.
func Successf(w io.Writer, format string, args ...any) {
	printMark(w, ColorGreen, "✓", format, args...)
}

// Errorf prints an error message to w.
func Errorf(w io.Writer, format string, args ...any) {
	printMark(w, ColorRed, "✗", format, args...)
}

// Warningf prints a warning to w.
func Warningf(w io.Writer, format string, args ...any) {
	printMark(w, ColorYellow, "⚠", format, args...)
}

// Infof prints an informational message to w.
func Infof(w io.Writer, format string, args ...any) {
	printMark(w, ColorBlue, "ℹ", format, args...)
}

// Colorize wraps text in color when w is a terminal.
func Colorize(w io.Writer, text, color string) string {
	if !IsTerminal(w) {
		return text
	}
	return color + text + ColorReset
}

func printMark(w io.Writer, color, mark, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if IsTerminal(w) {
		fmt.Fprintf(w, "%s%s%s %s\n", color, mark, ColorReset, msg)
		return
	}
	fmt.Fprintf(w, "%s %s\n", mark, msg)
}

// IsTerminal reports whether w is a terminal, including Cygwin ptys.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// FormatDuration renders d compactly for status lines.
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return "< 1s"
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}

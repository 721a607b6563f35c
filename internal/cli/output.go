// Package cli provides terminal output helpers for zkgate-client: a spinner shown while
// long operations wait on the gateway and colored status lines.
package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Color codes for terminal output
const (
	ColorReset  = "\033[0m"
	ColorRed    = "\033[31m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorCyan   = "\033[36m"
)

// Spinner shows a frame and the time waited so far until Stop is called.
type Spinner struct {
	frames   []string
	current  int
	prefix   string
	writer   io.Writer
	colorize bool
	interval time.Duration
	start    time.Time

	mu     sync.Mutex
	active bool
	done   chan struct{}
	exited chan struct{}
}

// NewSpinner creates a spinner writing to w. Color is used only when w is a terminal.
func NewSpinner(w io.Writer, prefix string) *Spinner {
	return &Spinner{
		frames:   []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"},
		prefix:   prefix,
		writer:   w,
		colorize: isTerminal(w),
		interval: 100 * time.Millisecond,
	}
}

// Start begins rendering in the background. Starting an active spinner is a no-op.
func (s *Spinner) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		return
	}
	s.active = true
	s.start = time.Now()
	s.done = make(chan struct{})
	s.exited = make(chan struct{})

	go func(done, exited chan struct{}) {
		defer close(exited)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.mu.Lock()
				s.render()
				s.current = (s.current + 1) % len(s.frames)
				s.mu.Unlock()
			case <-done:
				return
			}
		}
	}(s.done, s.exited)
}

// Stop clears the line and returns how long the spinner ran.
func (s *Spinner) Stop() time.Duration {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return 0
	}
	s.active = false
	close(s.done)
	exited := s.exited
	s.mu.Unlock()

	<-exited
	fmt.Fprint(s.writer, "\r"+strings.Repeat(" ", 80)+"\r")
	return time.Since(s.start)
}

// Success stops the spinner and prints a success line.
func (s *Spinner) Success(message string) {
	s.Stop()
	Success(s.writer, message)
}

// Error stops the spinner and prints a failure line.
func (s *Spinner) Error(message string) {
	s.Stop()
	Error(s.writer, message)
}

func (s *Spinner) render() {
	frame := s.frames[s.current]
	if s.colorize {
		frame = ColorCyan + frame + ColorReset
	}
	fmt.Fprintf(s.writer, "\r%s %s (%s)", frame, s.prefix, FormatDuration(time.Since(s.start)))
}

// Success prints a success line to w.
func Success(w io.Writer, message string) {
	status(w, ColorGreen, "✓", message)
}

// Error prints a failure line to w.
func Error(w io.Writer, message string) {
	status(w, ColorRed, "✗", message)
}

// Warning prints a warning line to w.
func Warning(w io.Writer, message string) {
	status(w, ColorYellow, "⚠", message)
}

func status(w io.Writer, color, mark, message string) {
	if isTerminal(w) {
		fmt.Fprintf(w, "%s%s%s %s\n", color, mark, ColorReset, message)
		return
	}
	fmt.Fprintf(w, "%s %s\n", mark, message)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

// FormatDuration renders a wait time for humans.
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

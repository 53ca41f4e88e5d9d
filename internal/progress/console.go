package progress

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
)

type consoleStatus struct {
	mu       sync.Mutex
	w        io.Writer
	level    Level
	last     int
	canceled atomic.Bool
}

// NewConsole returns a Status for an interactive terminal. Progress is
// printed in whole percent steps so a busy worker does not flood the
// terminal.
func NewConsole(w io.Writer, level Level) Status {
	return &consoleStatus{w: w, level: level, last: -1}
}

func (s *consoleStatus) Level() Level { return s.level }

func (s *consoleStatus) printf(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.w, format, args...)
}

func (s *consoleStatus) SetMessage(msg string) {
	if s.level < Normal {
		return
	}
	s.printf("%s\n", msg)
}

func (s *consoleStatus) SetProgress(fraction float64) {
	if s.level < Verbose {
		return
	}
	pct := int(fraction * 100)
	s.mu.Lock()
	defer s.mu.Unlock()
	if pct == s.last {
		return
	}
	s.last = pct
	fmt.Fprintf(s.w, "[%3d%%]\n", pct)
}

func (s *consoleStatus) Log(msg string) {
	if s.level < Verbose {
		return
	}
	s.printf("  %s\n", msg)
}

func (s *consoleStatus) ReportWarning(msg string) {
	if s.level < Normal {
		return
	}
	s.printf("WARNING: %s\n", msg)
}

func (s *consoleStatus) ReportError(msg string, cause error) {
	if cause != nil && s.level >= Verbose {
		s.printf("ERROR: %s\n%v\n", msg, cause)
		return
	}
	s.printf("ERROR: %s\n", msg)
}

func (s *consoleStatus) IsCanceled() bool { return s.canceled.Load() }

func (s *consoleStatus) Cancel() { s.canceled.Store(true) }

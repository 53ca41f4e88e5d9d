package progress

import (
	"bufio"
	"io"
	"sync"
	"sync/atomic"

	"github.com/addinscan/addinscan/internal/protocol"
)

// Wire is the worker side Status. Every call becomes one protocol line on
// the underlying writer, flushed immediately so the host sees it while the
// operation is still running.
type Wire struct {
	mu       sync.Mutex
	bw       *bufio.Writer
	level    Level
	err      error
	canceled atomic.Bool
}

func NewWire(w io.Writer, level Level) *Wire {
	return &Wire{bw: bufio.NewWriter(w), level: level}
}

func (s *Wire) Level() Level { return s.level }

func (s *Wire) SetMessage(msg string) { s.emit(protocol.Message(msg)) }

func (s *Wire) SetProgress(fraction float64) { s.emit(protocol.Progress(fraction)) }

func (s *Wire) Log(msg string) {
	if s.level < Normal {
		return
	}
	s.emit(protocol.LogLine(msg))
}

// ProgressLog writes a log line that the host keeps but does not forward.
func (s *Wire) ProgressLog(msg string) {
	if s.level < Verbose {
		return
	}
	s.emit(protocol.ProgressLog(msg))
}

func (s *Wire) ReportWarning(msg string) { s.emit(protocol.Warning(msg)) }

// ReportError writes the cause, when present, ahead of the error line so the
// host can attach it.
func (s *Wire) ReportError(msg string, cause error) {
	if cause != nil {
		s.emit(protocol.Exception(cause.Error()))
	}
	s.emit(protocol.Error(msg))
}

func (s *Wire) IsCanceled() bool { return s.canceled.Load() }

func (s *Wire) Cancel() {
	if s.canceled.CompareAndSwap(false, true) {
		s.emit(protocol.Cancel())
	}
}

// Done writes the terminal marker.
func (s *Wire) Done(code int) { s.emit(protocol.Done(code)) }

// Err returns the first write error. Once a write fails, later calls are
// dropped.
func (s *Wire) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Wire) emit(ev protocol.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return
	}
	if _, err := s.bw.WriteString(ev.Format() + "\n"); err != nil {
		s.err = err
		return
	}
	s.err = s.bw.Flush()
}

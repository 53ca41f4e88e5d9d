// Package monitor reads a worker's output stream, records it and relays it
// to a progress status.
package monitor

import (
	"errors"
	"io"
	"log/slog"

	"github.com/addinscan/addinscan/internal/progress"
	"github.com/addinscan/addinscan/internal/protocol"
)

// RemoteError is the failure detail a worker sent ahead of an error line.
type RemoteError struct {
	Text string
}

func (e *RemoteError) Error() string { return e.Text }

type Monitor struct {
	maxLine int
	logger  *slog.Logger
}

type Option func(*Monitor)

// WithMaxLineLength caps the length of a single recorded line.
func WithMaxLineLength(n int) Option {
	return func(m *Monitor) { m.maxLine = n }
}

func WithLogger(logger *slog.Logger) Option {
	return func(m *Monitor) { m.logger = logger }
}

func New(opts ...Option) *Monitor {
	m := &Monitor{
		maxLine: protocol.DefaultMaxLineLength,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run reads r until EOF, appending every line to log and relaying it to
// status as it arrives. It returns nil at EOF and the read error otherwise.
func (m *Monitor) Run(log *Log, r io.Reader, status progress.Status) error {
	if status == nil {
		status = progress.Discard(progress.Silent)
	}
	lr := protocol.NewLineReader(r, m.maxLine)
	f := forwarder{status: status, logger: m.logger}
	defer f.flush()

	for {
		line, err := lr.ReadLine()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		ev := protocol.ParseEvent(line)
		log.Append(ev)
		f.forward(ev)
	}
}

// Collect runs the monitor on a fresh log.
func (m *Monitor) Collect(r io.Reader, status progress.Status) (*Log, error) {
	log := NewLog()
	err := m.Run(log, r, status)
	return log, err
}

type forwarder struct {
	status  progress.Status
	logger  *slog.Logger
	pending *RemoteError
}

func (f *forwarder) forward(ev protocol.Event) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.Warn("progress status panicked", "kind", ev.Kind.String(), "panic", r)
		}
	}()

	if ev.Kind == protocol.KindText {
		ev = protocol.LogLine(ev.Text)
	}
	if !ev.Kind.IsProgressUpdate() {
		return
	}

	switch ev.Kind {
	case protocol.KindMessage:
		f.status.SetMessage(ev.Text)
	case protocol.KindProgress:
		f.status.SetProgress(ev.Fraction)
	case protocol.KindLog:
		f.status.Log(ev.Text)
	case protocol.KindWarning:
		f.status.ReportWarning(ev.Text)
	case protocol.KindException:
		f.pending = &RemoteError{Text: ev.Text}
	case protocol.KindError:
		var cause error
		if f.pending != nil {
			cause = f.pending
			f.pending = nil
		}
		f.status.ReportError(ev.Text, cause)
	case protocol.KindCancel:
		f.status.Cancel()
	}
}

// flush relays an exception that no error line claimed.
func (f *forwarder) flush() {
	if f.pending == nil {
		return
	}
	text := f.pending.Text
	f.pending = nil
	f.forward(protocol.LogLine(text))
}

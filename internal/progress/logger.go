package progress

import (
	"context"
	"log/slog"
	"sync/atomic"
)

type loggerStatus struct {
	logger   *slog.Logger
	level    Level
	canceled atomic.Bool
}

// NewLogger returns a Status that writes every call as a structured slog
// record.
func NewLogger(logger *slog.Logger, level Level) Status {
	if logger == nil {
		logger = slog.Default()
	}
	return &loggerStatus{logger: logger, level: level}
}

func (s *loggerStatus) Level() Level { return s.level }

func (s *loggerStatus) SetMessage(msg string) {
	s.logger.Info(msg)
}

func (s *loggerStatus) SetProgress(fraction float64) {
	s.logger.Debug("progress", "fraction", fraction)
}

func (s *loggerStatus) Log(msg string) {
	if s.level < Normal {
		return
	}
	lvl := slog.LevelInfo
	if s.level >= Verbose {
		lvl = slog.LevelDebug
	}
	s.logger.Log(context.Background(), lvl, msg)
}

func (s *loggerStatus) ReportWarning(msg string) {
	s.logger.Warn(msg)
}

func (s *loggerStatus) ReportError(msg string, cause error) {
	if cause != nil {
		s.logger.Error(msg, "error", cause)
		return
	}
	s.logger.Error(msg)
}

func (s *loggerStatus) IsCanceled() bool { return s.canceled.Load() }

func (s *loggerStatus) Cancel() {
	if s.canceled.CompareAndSwap(false, true) {
		s.logger.Warn("operation canceled")
	}
}

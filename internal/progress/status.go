// Package progress defines the progress sink that scan operations report to,
// and the sinks used on each side of the worker boundary.
package progress

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

// Level is the verbosity of a status. Higher levels include lower ones.
type Level int

const (
	Silent Level = iota
	Normal
	Verbose
	Debug
)

func (l Level) String() string {
	switch l {
	case Silent:
		return "silent"
	case Normal:
		return "normal"
	case Verbose:
		return "verbose"
	case Debug:
		return "debug"
	}
	return strconv.Itoa(int(l))
}

// SlogLevel maps the verbosity onto the minimum slog level it lets through.
func (l Level) SlogLevel() slog.Level {
	switch {
	case l <= Silent:
		return slog.LevelError
	case l == Normal:
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}

// ParseLevel accepts a level name or its number. Out of range numbers are
// clamped.
func ParseLevel(s string) (Level, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "silent", "quiet":
		return Silent, nil
	case "normal", "":
		return Normal, nil
	case "verbose":
		return Verbose, nil
	case "debug":
		return Debug, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return Normal, fmt.Errorf("invalid verbosity %q", s)
	}
	return Clamp(n), nil
}

func Clamp(n int) Level {
	if n < int(Silent) {
		return Silent
	}
	if n > int(Debug) {
		return Debug
	}
	return Level(n)
}

// Status receives progress from a long running operation.
type Status interface {
	Level() Level
	SetMessage(msg string)
	// SetProgress reports completion as a fraction in [0, 1].
	SetProgress(fraction float64)
	Log(msg string)
	ReportWarning(msg string)
	// ReportError reports a failure. cause may be nil.
	ReportError(msg string, cause error)
	IsCanceled() bool
	Cancel()
}

// ProgressLog records per-item detail. A status with its own channel for
// detail (the worker wire) gets it there; any other status gets it as a log
// line from Verbose up.
func ProgressLog(s Status, msg string) {
	if pl, ok := s.(interface{ ProgressLog(string) }); ok {
		pl.ProgressLog(msg)
		return
	}
	if s.Level() >= Verbose {
		s.Log(msg)
	}
}

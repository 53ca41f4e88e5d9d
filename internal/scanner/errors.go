package scanner

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/addinscan/addinscan/internal/monitor"
	"github.com/addinscan/addinscan/internal/protocol"
)

var (
	ErrWorkerFailed = errors.New("scan worker failed")
	ErrLaunchFailed = errors.New("scan worker could not be started")
	ErrTimedOut     = errors.New("scan worker timed out")
)

// ExecutionError is returned when the worker exits with a non-zero code. Log
// holds everything the worker wrote.
type ExecutionError struct {
	Command  protocol.Command
	ExitCode int
	Log      *monitor.Log
	Stderr   string
}

func (e *ExecutionError) Error() string {
	if msg := e.LastMessage(); msg != "" {
		return fmt.Sprintf("%s worker exited with code %d: %s", e.Command, e.ExitCode, msg)
	}
	return fmt.Sprintf("%s worker exited with code %d", e.Command, e.ExitCode)
}

// LastMessage is the last diagnostic the worker wrote.
func (e *ExecutionError) LastMessage() string {
	if msg := e.Log.LastMessage(); msg != "" {
		return msg
	}
	return lastLine(e.Stderr)
}

func (e *ExecutionError) Is(target error) bool { return target == ErrWorkerFailed }

type TimeoutError struct {
	Command protocol.Command
	Timeout time.Duration
	Log     *monitor.Log
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s worker did not finish within %s", e.Command, e.Timeout)
}

func (e *TimeoutError) LastMessage() string { return e.Log.LastMessage() }

func (e *TimeoutError) Is(target error) bool { return target == ErrTimedOut }

// WorkerLog returns the log carried by a worker failure, or nil.
func WorkerLog(err error) *monitor.Log {
	var execErr *ExecutionError
	if errors.As(err, &execErr) {
		return execErr.Log
	}
	var timeoutErr *TimeoutError
	if errors.As(err, &timeoutErr) {
		return timeoutErr.Log
	}
	return nil
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

// Package scanner runs registry operations in a scan worker process and
// turns the worker's outcome into results and errors for the host.
package scanner

import (
	"time"

	"github.com/addinscan/addinscan/internal/monitor"
	"github.com/addinscan/addinscan/internal/protocol"
)

// Outcome is the result of one worker invocation.
type Outcome struct {
	ID              string           `json:"id"`
	Command         protocol.Command `json:"command"`
	PrimaryArg      string           `json:"primary_arg,omitempty"`
	ExitCode        int              `json:"exit_code"`
	StartTime       time.Time        `json:"start_time"`
	EndTime         time.Time        `json:"end_time"`
	DurationSeconds float64          `json:"duration_seconds"`
	Error           string           `json:"error,omitempty"`
	Log             *monitor.Log     `json:"log"`
	Stderr          string           `json:"stderr,omitempty"`
}

func (o *Outcome) Duration() time.Duration {
	return o.EndTime.Sub(o.StartTime)
}

func (o *Outcome) Succeeded() bool {
	return o.ExitCode == 0 && o.Error == ""
}

func (o *Outcome) finish(err error) {
	o.EndTime = time.Now()
	o.DurationSeconds = o.EndTime.Sub(o.StartTime).Seconds()
	if err != nil {
		o.Error = err.Error()
	}
}

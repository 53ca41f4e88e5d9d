package output

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"

	"github.com/addinscan/addinscan/internal/launcher"
	"github.com/addinscan/addinscan/internal/monitor"
	"github.com/addinscan/addinscan/internal/protocol"
	"github.com/addinscan/addinscan/internal/scanner"
)

func PrintTable(w io.Writer, outcome *scanner.Outcome) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Add-in Scan Results")
	fmt.Fprintln(w, "===================")
	fmt.Fprintf(w, "Command:    %s\n", outcome.Command)
	if outcome.PrimaryArg != "" {
		fmt.Fprintf(w, "Target:     %s\n", outcome.PrimaryArg)
	}
	fmt.Fprintf(w, "Worker:     %s\n", outcome.ID)
	fmt.Fprintf(w, "Duration:   %.1fs\n", outcome.DurationSeconds)
	fmt.Fprintf(w, "Exit Code:  %d\n", outcome.ExitCode)

	if outcome.Error != "" {
		fmt.Fprintf(w, "Error:      %s\n", outcome.Error)
	}
	if msg := outcome.Log.LastMessage(); msg != "" {
		fmt.Fprintf(w, "Last:       %s\n", msg)
	}
	fmt.Fprintln(w)
}

// PrintLog renders every entry of a worker log in arrival order.
func PrintLog(w io.Writer, log *monitor.Log) {
	entries := log.Entries()
	if len(entries) == 0 {
		fmt.Fprintln(w, "(worker produced no output)")
		return
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Time", "Kind", "Text"})
	table.SetBorder(false)
	table.SetAutoWrapText(false)

	for _, e := range entries {
		text := e.Event.Text
		switch e.Event.Kind {
		case protocol.KindProgress:
			text = fmt.Sprintf("%3.0f%%", e.Event.Fraction*100)
		case protocol.KindDone:
			text = fmt.Sprintf("exit %d", e.Event.ExitCode)
		}
		table.Append([]string{
			e.Time.Format("15:04:05.000"),
			e.Event.Kind.String(),
			text,
		})
	}

	table.Render()
}

// PrintFailure renders a worker failure with its last message first and
// the full worker log after it.
func PrintFailure(w io.Writer, err error) {
	fmt.Fprintf(w, "Error: %v\n", err)

	var execErr *scanner.ExecutionError
	var timeoutErr *scanner.TimeoutError
	var last string
	switch {
	case errors.As(err, &execErr):
		last = execErr.LastMessage()
	case errors.As(err, &timeoutErr):
		last = timeoutErr.LastMessage()
	default:
		return
	}
	if last != "" {
		fmt.Fprintf(w, "Last message: %s\n", last)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Worker log:")
	PrintLog(w, scanner.WorkerLog(err))
	if execErr != nil && execErr.Stderr != "" {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Worker stderr:")
		fmt.Fprintln(w, execErr.Stderr)
	}
}

func PrintWorkers(w io.Writer, workers []launcher.WorkerProcess) {
	if len(workers) == 0 {
		fmt.Fprintln(w, "No running scan workers found")
		return
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"PID", "Parent", "User", "Command", "Target", "Started", "State"})
	table.SetBorder(false)
	table.SetAutoWrapText(false)

	for _, p := range workers {
		state := "running"
		if p.Orphaned {
			state = "orphaned"
		}
		started := "-"
		if !p.Started.IsZero() {
			started = p.Started.Format("2006-01-02 15:04:05")
		}
		table.Append([]string{
			strconv.Itoa(p.PID),
			strconv.Itoa(p.PPID),
			p.User,
			p.Command,
			truncateString(p.PrimaryArg, 60),
			started,
			state,
		})
	}

	table.Render()
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

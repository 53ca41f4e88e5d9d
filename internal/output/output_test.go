package output

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/addinscan/addinscan/internal/launcher"
	"github.com/addinscan/addinscan/internal/monitor"
	"github.com/addinscan/addinscan/internal/protocol"
	"github.com/addinscan/addinscan/internal/scanner"
)

func sampleLog() *monitor.Log {
	log := monitor.NewLog()
	log.Append(protocol.Message("Scanning add-ins"))
	log.Append(protocol.Progress(0.5))
	log.Append(protocol.Warning("could not parse broken.addin"))
	log.Append(protocol.Done(0))
	return log
}

func sampleOutcome() *scanner.Outcome {
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return &scanner.Outcome{
		ID:              "2f1c",
		Command:         protocol.CommandScan,
		PrimaryArg:      "/opt/addins",
		ExitCode:        0,
		StartTime:       start,
		EndTime:         start.Add(1500 * time.Millisecond),
		DurationSeconds: 1.5,
		Log:             sampleLog(),
	}
}

func TestPrintTable(t *testing.T) {
	var buf bytes.Buffer
	PrintTable(&buf, sampleOutcome())

	out := buf.String()
	assert.Contains(t, out, "Command:    scan")
	assert.Contains(t, out, "Target:     /opt/addins")
	assert.Contains(t, out, "Duration:   1.5s")
	assert.Contains(t, out, "Exit Code:  0")
	assert.Contains(t, out, "Last:       could not parse broken.addin")
	assert.NotContains(t, out, "Error:")
}

func TestPrintLog(t *testing.T) {
	var buf bytes.Buffer
	PrintLog(&buf, sampleLog())

	out := buf.String()
	assert.Contains(t, out, "KIND")
	assert.Contains(t, out, "Scanning add-ins")
	assert.Contains(t, out, "50%")
	assert.Contains(t, out, "exit 0")
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("Scanning")), bytes.Index(buf.Bytes(), []byte("broken.addin")))
}

func TestPrintLogEmpty(t *testing.T) {
	var buf bytes.Buffer
	PrintLog(&buf, nil)
	assert.Equal(t, "(worker produced no output)\n", buf.String())
}

func TestPrintFailureExecution(t *testing.T) {
	log := monitor.NewLog()
	log.Append(protocol.Message("Scanning add-ins"))
	log.Append(protocol.Error("Unexpected error in scan worker"))
	log.Append(protocol.Done(1))
	err := fmt.Errorf("scan: %w", &scanner.ExecutionError{
		Command:  protocol.CommandScan,
		ExitCode: 1,
		Log:      log,
		Stderr:   "goroutine trace",
	})

	var buf bytes.Buffer
	PrintFailure(&buf, err)

	out := buf.String()
	assert.Contains(t, out, "Last message: Unexpected error in scan worker")
	assert.Contains(t, out, "Worker log:")
	assert.Contains(t, out, "Scanning add-ins")
	assert.Contains(t, out, "Worker stderr:\ngoroutine trace")
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("Last message")), bytes.Index(buf.Bytes(), []byte("Worker log")))
}

func TestPrintFailureTimeout(t *testing.T) {
	err := &scanner.TimeoutError{Command: protocol.CommandPreScan, Timeout: time.Second, Log: sampleLog()}

	var buf bytes.Buffer
	PrintFailure(&buf, err)

	out := buf.String()
	assert.Contains(t, out, "pre-scan worker did not finish within 1s")
	assert.Contains(t, out, "Worker log:")
	assert.NotContains(t, out, "Worker stderr:")
}

func TestPrintFailurePlainError(t *testing.T) {
	var buf bytes.Buffer
	PrintFailure(&buf, errors.New("registry path is required"))
	assert.Equal(t, "Error: registry path is required\n", buf.String())
}

func TestPrintJSONSingle(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, PrintJSON(&buf, []*scanner.Outcome{sampleOutcome()}))

	var got map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "scan", got["command"])
	assert.Equal(t, 1.5, got["duration_seconds"])
	entries, ok := got["log"].([]any)
	require.True(t, ok)
	assert.Len(t, entries, 4)
}

func TestPrintJSONMany(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, PrintJSON(&buf, []*scanner.Outcome{sampleOutcome(), sampleOutcome()}))

	var got []map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Len(t, got, 2)
}

func TestPrintJSONEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, PrintJSON(&buf, nil))
	assert.Equal(t, "[]\n", buf.String())
}

func TestPrintWorkers(t *testing.T) {
	var buf bytes.Buffer
	PrintWorkers(&buf, []launcher.WorkerProcess{
		{PID: 4242, PPID: 1, User: "build", Command: "scan", PrimaryArg: "/opt/addins", Orphaned: true},
		{PID: 4343, PPID: 100, User: "build", Command: "get-desc", PrimaryArg: strings.Repeat("a", 100)},
	})

	out := buf.String()
	assert.Contains(t, out, "4242")
	assert.Contains(t, out, "orphaned")
	assert.Contains(t, out, "running")
	assert.Contains(t, out, strings.Repeat("a", 57)+"...")
	assert.NotContains(t, out, strings.Repeat("a", 58))
}

func TestPrintWorkersEmpty(t *testing.T) {
	var buf bytes.Buffer
	PrintWorkers(&buf, nil)
	assert.Equal(t, "No running scan workers found\n", buf.String())
}

package launcher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseWorkerCmdline(t *testing.T) {
	tests := []struct {
		name   string
		argv   []string
		want   WorkerProcess
		wantOK bool
	}{
		{name: "scan worker", argv: []string{"/usr/bin/addinscan", WorkerFlag, "1", "scan", "/opt/addins"}, want: WorkerProcess{Command: "scan", PrimaryArg: "/opt/addins"}, wantOK: true},
		{name: "get-desc with extra", argv: []string{"addinscan", WorkerFlag, "2", "get-desc", "a.addin", "out.yaml"}, want: WorkerProcess{Command: "get-desc", PrimaryArg: "a.addin"}, wantOK: true},
		{name: "bare flag", argv: []string{"addinscan", WorkerFlag}, wantOK: true},
		{name: "host process", argv: []string{"addinscan", "scan"}},
		{name: "flag not first", argv: []string{"addinscan", "scan", WorkerFlag}},
		{name: "empty", argv: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := parseWorkerCmdline(tt.argv)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFindWorkersSeesRunningChild(t *testing.T) {
	child := launch(t, New(), Entry{Command: "hang", PrimaryArg: "target"})
	waitReady(t, child)

	workers, err := FindWorkers(context.Background())
	require.NoError(t, err)

	var found *WorkerProcess
	for i := range workers {
		if workers[i].PID == child.Pid() {
			found = &workers[i]
		}
	}
	require.NotNil(t, found, "worker %d not listed", child.Pid())
	assert.Equal(t, "hang", found.Command)
	assert.Equal(t, "target", found.PrimaryArg)
	assert.False(t, found.Orphaned)
	assert.False(t, found.Started.IsZero())
}

func TestKillWorker(t *testing.T) {
	child := launch(t, New(), Entry{Command: "stubborn", PrimaryArg: "x"})
	waitReady(t, child)

	require.NoError(t, KillWorker(context.Background(), child.Pid()))
	select {
	case <-child.Exited():
	case <-time.After(5 * time.Second):
		t.Fatal("worker still running after KillWorker")
	}
}

package launcher

import (
	"context"
	"fmt"
	"os"
	"os/user"
	"strconv"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// WorkerProcess is a scan worker found running on this machine.
type WorkerProcess struct {
	PID        int       `json:"pid"`
	PPID       int       `json:"ppid"`
	User       string    `json:"user"`
	Command    string    `json:"command"`
	PrimaryArg string    `json:"primary_arg,omitempty"`
	Started    time.Time `json:"started"`
	// Orphaned is set when the host that launched the worker is gone.
	Orphaned bool `json:"orphaned"`
}

// FindWorkers lists running scan workers other than the calling process.
func FindWorkers(ctx context.Context) ([]WorkerProcess, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list processes: %w", err)
	}

	self := int32(os.Getpid())
	var workers []WorkerProcess
	for _, p := range procs {
		if p.Pid == self {
			continue
		}
		argv, err := p.CmdlineSliceWithContext(ctx)
		if err != nil {
			continue
		}
		w, ok := parseWorkerCmdline(argv)
		if !ok {
			continue
		}
		w.PID = int(p.Pid)

		if ppid, err := p.PpidWithContext(ctx); err == nil {
			w.PPID = int(ppid)
			if ppid <= 1 {
				w.Orphaned = true
			} else if alive, err := process.PidExistsWithContext(ctx, ppid); err == nil && !alive {
				w.Orphaned = true
			}
		}

		w.User = "unknown"
		if uids, err := p.UidsWithContext(ctx); err == nil && len(uids) > 0 {
			if u, err := user.LookupId(strconv.Itoa(int(uids[0]))); err == nil {
				w.User = u.Username
			}
		}
		if ms, err := p.CreateTimeWithContext(ctx); err == nil {
			w.Started = time.UnixMilli(ms)
		}

		workers = append(workers, w)
	}
	return workers, nil
}

func parseWorkerCmdline(argv []string) (WorkerProcess, bool) {
	if !IsWorker(argv) {
		return WorkerProcess{}, false
	}
	args := WorkerArgs(argv)
	var w WorkerProcess
	if len(args) > 1 {
		w.Command = args[1]
	}
	if len(args) > 2 {
		w.PrimaryArg = args[2]
	}
	return w, true
}

// KillWorker kills the worker with the given pid and the processes it
// started.
func KillWorker(ctx context.Context, pid int) error {
	tree := descendants(int32(pid))
	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return fmt.Errorf("failed to find worker %d: %w", pid, err)
	}
	if err := p.KillWithContext(ctx); err != nil {
		return fmt.Errorf("failed to kill worker %d: %w", pid, err)
	}
	for _, c := range tree {
		_ = c.KillWithContext(ctx)
	}
	return nil
}

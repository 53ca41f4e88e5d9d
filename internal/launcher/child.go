package launcher

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

const stderrTailSize = 64 * 1024

// Child is a running worker process.
type Child struct {
	cmd    *exec.Cmd
	image  *Image
	stdin  io.WriteCloser
	stdout *os.File
	stderr *os.File
	logger *slog.Logger

	tailMu     sync.Mutex
	tail       []byte
	stderrDone chan struct{}

	done     chan struct{}
	exitCode int
	waitErr  error

	closeOnce sync.Once
}

func newChild(cmd *exec.Cmd, img *Image, stdin io.WriteCloser, stdout, stderr *os.File, logger *slog.Logger) *Child {
	c := &Child{
		cmd:        cmd,
		image:      img,
		stdin:      stdin,
		stdout:     stdout,
		stderr:     stderr,
		logger:     logger,
		done:       make(chan struct{}),
		stderrDone: make(chan struct{}),
		exitCode:   -1,
	}
	go c.drainStderr()
	go c.wait()
	return c
}

func (c *Child) Pid() int { return c.cmd.Process.Pid }

// Stdin is closed by the caller to end the request.
func (c *Child) Stdin() io.WriteCloser { return c.stdin }

func (c *Child) Stdout() io.Reader { return c.stdout }

// Stderr returns the tail of what the worker wrote to standard error.
func (c *Child) Stderr() string {
	c.tailMu.Lock()
	defer c.tailMu.Unlock()
	return string(c.tail)
}

// StderrDone is closed once standard error reached EOF or was closed.
func (c *Child) StderrDone() <-chan struct{} { return c.stderrDone }

// Exited is closed once the process has exited and been reaped.
func (c *Child) Exited() <-chan struct{} { return c.done }

// Wait blocks until the process exits. A process that ran to completion
// reports its exit code with a nil error; a process killed by a signal
// reports -1.
func (c *Child) Wait() (int, error) {
	<-c.done
	return c.exitCode, c.waitErr
}

func (c *Child) wait() {
	err := c.cmd.Wait()
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		c.exitCode = 0
	case errors.As(err, &exitErr):
		c.exitCode = exitErr.ExitCode()
	default:
		c.waitErr = err
	}
	close(c.done)
}

func (c *Child) drainStderr() {
	defer close(c.stderrDone)
	buf := make([]byte, 4096)
	for {
		n, err := c.stderr.Read(buf)
		if n > 0 {
			c.tailMu.Lock()
			c.tail = append(c.tail, buf[:n]...)
			if over := len(c.tail) - stderrTailSize; over > 0 {
				c.tail = append(c.tail[:0], c.tail[over:]...)
			}
			c.tailMu.Unlock()
		}
		if err != nil {
			return
		}
	}
}

// Terminate stops the worker and everything it started: a polite signal to
// the process group first, then a kill of the whole tree once grace has
// elapsed. It returns once the worker has been reaped.
func (c *Child) Terminate(grace time.Duration) {
	select {
	case <-c.done:
		return
	default:
	}

	pid := c.Pid()
	tree := descendants(int32(pid))

	if err := terminateGroup(c.cmd.Process); err != nil {
		c.logger.Debug("terminate signal failed", "pid", pid, "error", err)
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-c.done:
	case <-timer.C:
		c.logger.Warn("scan worker ignored termination, killing", "pid", pid, "grace", grace)
		if err := killGroup(c.cmd.Process); err != nil {
			c.logger.Debug("kill group failed", "pid", pid, "error", err)
		}
		if err := c.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			c.logger.Debug("kill failed", "pid", pid, "error", err)
		}
	}

	for _, p := range tree {
		if running, _ := p.IsRunning(); running {
			_ = p.Kill()
		}
	}
	<-c.done
}

// CloseOutput closes the host's ends of the output pipes, unblocking any
// pending read. Descendants that inherited the pipes can otherwise keep
// them open after the worker exits.
func (c *Child) CloseOutput() {
	c.closeOnce.Do(func() {
		c.stdout.Close()
		c.stderr.Close()
	})
}

func (c *Child) Release() error {
	return c.image.Release()
}

// Image returns the image the worker runs from.
func (c *Child) Image() *Image { return c.image }

func descendants(pid int32) []*process.Process {
	root, err := process.NewProcess(pid)
	if err != nil {
		return nil
	}
	var out []*process.Process
	queue := []*process.Process{root}
	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]
		children, err := p.Children()
		if err != nil {
			continue
		}
		out = append(out, children...)
		queue = append(queue, children...)
	}
	return out
}

// Package launcher starts scan workers as child processes of the host
// executable and owns their lifetime.
package launcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
)

// WorkerFlag selects the worker role when passed as the first argument.
const WorkerFlag = "--addinscan-worker"

// IsWorker reports whether args (as in os.Args) select the worker role.
func IsWorker(args []string) bool {
	return len(args) > 1 && args[1] == WorkerFlag
}

// WorkerArgs returns the worker arguments following WorkerFlag, or nil.
func WorkerArgs(args []string) []string {
	if !IsWorker(args) {
		return nil
	}
	return args[2:]
}

// Entry describes one worker launch.
type Entry struct {
	Verbosity  int
	Command    string
	PrimaryArg string
	Extra      []string
	// Dir overrides the working directory.
	Dir string
	// Env is appended to the inherited environment.
	Env []string
}

func (e Entry) Args() []string {
	args := []string{WorkerFlag, strconv.Itoa(e.Verbosity), e.Command, e.PrimaryArg}
	return append(args, e.Extra...)
}

type LaunchError struct {
	Cause error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("failed to launch scan worker: %v", e.Cause)
}

func (e *LaunchError) Unwrap() error { return e.Cause }

type Launcher struct {
	source ImageSource
	logger *slog.Logger
	dir    string
	env    []string
}

type Option func(*Launcher)

func WithImageSource(src ImageSource) Option {
	return func(l *Launcher) { l.source = src }
}

func WithLogger(logger *slog.Logger) Option {
	return func(l *Launcher) { l.logger = logger }
}

func WithWorkingDir(dir string) Option {
	return func(l *Launcher) { l.dir = dir }
}

func WithEnv(env ...string) Option {
	return func(l *Launcher) { l.env = append(l.env, env...) }
}

func New(opts ...Option) *Launcher {
	l := &Launcher{
		source: SelfImage{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Launch starts a worker. The returned Child owns the image; callers must
// call Release once the child is done. On failure the image is already
// released.
func (l *Launcher) Launch(ctx context.Context, e Entry) (*Child, error) {
	if err := ctx.Err(); err != nil {
		return nil, &LaunchError{Cause: err}
	}

	img, err := l.source.Acquire()
	if err != nil {
		return nil, &LaunchError{Cause: err}
	}

	child, err := l.start(img, e)
	if err != nil {
		img.Release()
		return nil, &LaunchError{Cause: err}
	}

	l.logger.Debug("scan worker started",
		"pid", child.Pid(),
		"command", e.Command,
		"image", img.Path,
		"temporary", img.Temporary())
	return child, nil
}

func (l *Launcher) start(img *Image, e Entry) (*Child, error) {
	cmd := exec.Command(img.Path, e.Args()...)
	switch {
	case e.Dir != "":
		cmd.Dir = e.Dir
	case l.dir != "":
		cmd.Dir = l.dir
	default:
		cmd.Dir = img.WorkDir
	}
	cmd.Env = append(append(os.Environ(), l.env...), e.Env...)
	configureProc(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		stdin.Close()
		return nil, err
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		stdin.Close()
		stdoutR.Close()
		stdoutW.Close()
		return nil, err
	}
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdoutR.Close()
		stdoutW.Close()
		stderrR.Close()
		stderrW.Close()
		return nil, err
	}
	// The child holds its own copies of the write ends.
	stdoutW.Close()
	stderrW.Close()

	return newChild(cmd, img, stdin, stdoutR, stderrR, l.logger), nil
}

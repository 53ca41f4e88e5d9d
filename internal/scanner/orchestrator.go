package scanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/addinscan/addinscan/internal/launcher"
	"github.com/addinscan/addinscan/internal/monitor"
	"github.com/addinscan/addinscan/internal/progress"
	"github.com/addinscan/addinscan/internal/protocol"
	"github.com/addinscan/addinscan/internal/registry"
)

const tracerName = "github.com/addinscan/addinscan/internal/scanner"

const (
	DefaultKillGrace    = 5 * time.Second
	DefaultDrainTimeout = 2 * time.Second
)

// Orchestrator runs one registry operation per worker process.
type Orchestrator struct {
	launcher     *launcher.Launcher
	logger       *slog.Logger
	tracer       trace.Tracer
	metrics      *Metrics
	timeout      time.Duration
	killGrace    time.Duration
	drainTimeout time.Duration
	maxLine      int
}

type Option func(*Orchestrator)

func WithLauncher(l *launcher.Launcher) Option {
	return func(o *Orchestrator) { o.launcher = l }
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithTracer overrides the tracer taken from the global provider.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = tracer }
}

func WithMetrics(m *Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithTimeout bounds every invocation. Zero means no limit beyond the
// caller's context.
func WithTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.timeout = d }
}

// WithKillGrace sets how long a worker may take to exit after the
// termination signal before it is killed.
func WithKillGrace(d time.Duration) Option {
	return func(o *Orchestrator) { o.killGrace = d }
}

// WithDrainTimeout sets how long to keep reading output after the worker
// exited. Descendants that inherited the pipe can hold it open.
func WithDrainTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.drainTimeout = d }
}

func WithMaxLineLength(n int) Option {
	return func(o *Orchestrator) { o.maxLine = n }
}

func New(opts ...Option) *Orchestrator {
	o := &Orchestrator{
		logger:       slog.Default(),
		tracer:       otel.Tracer(tracerName),
		killGrace:    DefaultKillGrace,
		drainTimeout: DefaultDrainTimeout,
		maxLine:      protocol.DefaultMaxLineLength,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.launcher == nil {
		o.launcher = launcher.New(launcher.WithLogger(o.logger))
	}
	return o
}

// Execute runs command in a new worker and waits for it. The worker reports
// progress to status while it runs. A non-zero exit is returned as an
// *ExecutionError; the outcome is returned alongside any error once the
// worker has been started.
func (o *Orchestrator) Execute(ctx context.Context, status progress.Status, loc registry.Locations, command protocol.Command, primaryArg string, payload []string, extra ...string) (*Outcome, error) {
	if status == nil {
		status = progress.Discard(progress.Normal)
	}
	if !command.Valid() {
		return nil, fmt.Errorf("%w: %q", protocol.ErrUnknownCommand, command)
	}
	if err := loc.Validate(); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	ctx, span := o.tracer.Start(ctx, "scanner.execute",
		trace.WithAttributes(
			attribute.String("command", string(command)),
			attribute.String("worker_id", id),
		))
	defer span.End()

	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	outcome := &Outcome{
		ID:         id,
		Command:    command,
		PrimaryArg: primaryArg,
		ExitCode:   -1,
		StartTime:  time.Now(),
		Log:        monitor.NewLog(),
	}
	logger := o.logger.With("worker_id", id, "command", string(command))

	err := o.run(ctx, status, loc, outcome, payload, extra, logger)
	outcome.finish(err)

	result := resultOf(err)
	o.metrics.observe(string(command), result, outcome.Duration(), outcome.Log.Len())
	span.SetAttributes(
		attribute.Int("exit_code", outcome.ExitCode),
		attribute.Int("log_lines", outcome.Log.Len()),
		attribute.String("result", result),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Debug("scan worker failed", "exit_code", outcome.ExitCode, "result", result, "error", err)
	} else {
		logger.Debug("scan worker finished", "exit_code", outcome.ExitCode, "duration", outcome.Duration())
	}

	if errors.Is(err, ErrLaunchFailed) {
		return nil, err
	}
	return outcome, err
}

func (o *Orchestrator) run(ctx context.Context, status progress.Status, loc registry.Locations, outcome *Outcome, payload, extra []string, logger *slog.Logger) error {
	if ctx.Err() != nil {
		return o.contextError(ctx, outcome)
	}

	req := &protocol.Request{
		Verbosity:    int(status.Level()),
		Command:      outcome.Command,
		PrimaryArg:   outcome.PrimaryArg,
		RegistryPath: loc.RegistryPath,
		StartupDir:   loc.StartupDir,
		AddinsDir:    loc.AddinsDir,
		DatabaseDir:  loc.DatabaseDir,
		Payload:      payload,
	}

	child, err := o.launcher.Launch(ctx, launcher.Entry{
		Verbosity:  req.Verbosity,
		Command:    string(req.Command),
		PrimaryArg: req.PrimaryArg,
		Extra:      extra,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLaunchFailed, err)
	}
	defer func() {
		if err := child.Release(); err != nil {
			logger.Warn("failed to remove worker image", "error", err)
		}
	}()
	defer func() {
		if r := recover(); r != nil {
			child.Terminate(o.killGrace)
			child.CloseOutput()
			panic(r)
		}
	}()
	logger = logger.With("pid", child.Pid())

	mon := monitor.New(monitor.WithMaxLineLength(o.maxLine), monitor.WithLogger(logger))
	monitorDone := make(chan struct{})

	var g errgroup.Group
	g.Go(func() error {
		defer close(monitorDone)
		return mon.Run(outcome.Log, child.Stdout(), status)
	})
	g.Go(func() error {
		// A worker that exits early closes its end of the pipe; its exit
		// code is what matters.
		err := req.Encode(child.Stdin())
		if cerr := child.Stdin().Close(); err == nil {
			err = cerr
		}
		if err != nil {
			logger.Debug("failed to write worker request", "error", err)
		}
		return nil
	})

	if !waitExited(ctx, child.Exited()) {
		return o.abort(ctx, child, &g, monitorDone, outcome, logger)
	}

	o.drain(child, monitorDone, logger)
	o.waitMonitor(&g, logger)

	code, err := child.Wait()
	outcome.ExitCode = code
	outcome.Stderr = child.Stderr()
	if err != nil {
		return fmt.Errorf("failed to wait for scan worker: %w", err)
	}
	if code != 0 {
		return &ExecutionError{
			Command:  outcome.Command,
			ExitCode: code,
			Log:      outcome.Log,
			Stderr:   outcome.Stderr,
		}
	}
	return nil
}

func (o *Orchestrator) abort(ctx context.Context, child *launcher.Child, g *errgroup.Group, monitorDone <-chan struct{}, outcome *Outcome, logger *slog.Logger) error {
	logger.Warn("terminating scan worker", "reason", ctx.Err())
	child.Terminate(o.killGrace)
	o.drain(child, monitorDone, logger)
	o.waitMonitor(g, logger)

	outcome.ExitCode, _ = child.Wait()
	outcome.Stderr = child.Stderr()
	return o.contextError(ctx, outcome)
}

// waitExited blocks until the worker exits or ctx ends and reports whether
// the worker exited. An exit that is already visible when ctx ends wins.
func waitExited(ctx context.Context, exited <-chan struct{}) bool {
	select {
	case <-exited:
		return true
	case <-ctx.Done():
		select {
		case <-exited:
			return true
		default:
			return false
		}
	}
}

// contextError maps the end of ctx to a TimeoutError for deadlines and to a
// wrapped context error otherwise.
func (o *Orchestrator) contextError(ctx context.Context, outcome *Outcome) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		timeout := o.timeout
		if timeout <= 0 {
			timeout = time.Since(outcome.StartTime).Round(time.Millisecond)
		}
		return &TimeoutError{Command: outcome.Command, Timeout: timeout, Log: outcome.Log}
	}
	return fmt.Errorf("scan worker canceled: %w", ctx.Err())
}

// drain gives the monitor a bounded time to read what the worker left in
// its output pipes, then closes them.
func (o *Orchestrator) drain(child *launcher.Child, monitorDone <-chan struct{}, logger *slog.Logger) {
	timer := time.NewTimer(o.drainTimeout)
	defer timer.Stop()
	stderrDone := child.StderrDone()
	for monitorDone != nil || stderrDone != nil {
		select {
		case <-monitorDone:
			monitorDone = nil
		case <-stderrDone:
			stderrDone = nil
		case <-timer.C:
			logger.Warn("worker output still open after exit", "drain_timeout", o.drainTimeout)
			child.CloseOutput()
			return
		}
	}
	child.CloseOutput()
}

func (o *Orchestrator) waitMonitor(g *errgroup.Group, logger *slog.Logger) {
	if err := g.Wait(); err != nil && !errors.Is(err, os.ErrClosed) {
		logger.Warn("failed to read worker output", "error", err)
	}
}

func resultOf(err error) string {
	switch {
	case err == nil:
		return resultSuccess
	case errors.Is(err, ErrLaunchFailed):
		return resultLaunchFailed
	case errors.Is(err, ErrTimedOut):
		return resultTimeout
	case errors.Is(err, ErrWorkerFailed):
		return resultFailed
	case errors.Is(err, context.Canceled):
		return resultCanceled
	}
	return resultError
}

// Package worker is the entry point of the scan worker process.
package worker

import (
	"context"
	"fmt"
	"io"
	"runtime/debug"

	"github.com/addinscan/addinscan/internal/progress"
	"github.com/addinscan/addinscan/internal/protocol"
	"github.com/addinscan/addinscan/internal/registry"
)

const (
	ExitOK      = 0
	ExitFailure = 1
	ExitUsage   = 2
)

const unexpectedError = "Unexpected error in scan worker"

// Main runs one worker request and returns the process exit code. args are
// the arguments after the worker flag: verbosity, command, primary argument
// and any extra positional arguments. The request itself is read from stdin;
// stdout carries protocol lines only.
func Main(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer, open registry.Opener) (code int) {
	level := progress.Normal
	if len(args) > 0 {
		if l, err := progress.ParseLevel(args[0]); err == nil {
			level = l
		}
	}
	status := progress.NewWire(stdout, level)

	defer func() {
		if r := recover(); r != nil {
			status.ReportError(unexpectedError, fmt.Errorf("panic: %v\n%s", r, debug.Stack()))
			code = ExitFailure
		}
		status.Done(code)
	}()

	if len(args) < 3 {
		status.ReportError(fmt.Sprintf("expected verbosity, command and argument, got %d arguments", len(args)), nil)
		return ExitUsage
	}
	return run(ctx, args, stdin, status, open)
}

func run(ctx context.Context, args []string, stdin io.Reader, status *progress.Wire, open registry.Opener) int {
	cmd, err := protocol.ParseCommand(args[1])
	if err != nil {
		status.ReportError(err.Error(), nil)
		return ExitUsage
	}

	req, err := protocol.DecodeRequest(stdin)
	if err != nil {
		status.ReportError("Invalid worker request", err)
		return ExitUsage
	}
	if req.Command != cmd {
		status.ReportError(fmt.Sprintf("Command mismatch: arguments say %q, request says %q", cmd, req.Command), nil)
		return ExitUsage
	}
	if err := req.Validate(); err != nil {
		status.ReportError("Invalid worker request", err)
		return ExitUsage
	}

	// Positional arguments are authoritative.
	primary := args[2]
	if primary != req.PrimaryArg {
		debugf(status, "positional argument %q differs from request argument %q", primary, req.PrimaryArg)
	}

	loc := registry.Locations{
		RegistryPath: req.RegistryPath,
		StartupDir:   req.StartupDir,
		AddinsDir:    req.AddinsDir,
		DatabaseDir:  req.DatabaseDir,
	}
	reg, err := open(loc, registry.OpenOptions{Worker: true})
	if err != nil {
		status.ReportError(unexpectedError, err)
		return ExitFailure
	}
	defer reg.Close()

	switch cmd {
	case protocol.CommandScan:
		opts, err := registry.DecodeScanOptions(req.Payload)
		if err != nil {
			status.ReportError("Invalid worker request", err)
			return ExitUsage
		}
		err = reg.ScanFolders(ctx, status, primary, opts)
		return finish(status, err)

	case protocol.CommandPreScan:
		recursive, _ := protocol.ParseBool(req.Payload[0])
		err = reg.GenerateScanDataFiles(ctx, status, primary, recursive)
		return finish(status, err)

	case protocol.CommandGetDescription:
		// The output file travels twice. The positional argument wins.
		if len(args) < 4 || args[3] == "" {
			status.ReportError("Missing output file argument for get-desc", nil)
			return ExitFailure
		}
		outFile := args[3]
		if req.Payload[0] != outFile {
			debugf(status, "output file argument %q differs from request payload %q", outFile, req.Payload[0])
		}
		err = reg.ParseAddin(ctx, status, primary, outFile)
		return finish(status, err)
	}
	return ExitUsage
}

func finish(status progress.Status, err error) int {
	if err != nil {
		status.ReportError(unexpectedError, err)
		return ExitFailure
	}
	return ExitOK
}

func debugf(status progress.Status, format string, args ...any) {
	if status.Level() >= progress.Debug {
		status.Log(fmt.Sprintf(format, args...))
	}
}

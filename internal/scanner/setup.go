package scanner

import (
	"context"
	"fmt"

	"github.com/addinscan/addinscan/internal/progress"
	"github.com/addinscan/addinscan/internal/protocol"
	"github.com/addinscan/addinscan/internal/registry"
)

// The facades resolve every path against the host's working directory
// before it is sent: the worker runs from the executable's directory.

// Scan scans folder for add-ins in a worker. An empty folder scans the
// registry's add-ins directory.
func (o *Orchestrator) Scan(ctx context.Context, status progress.Status, loc registry.Locations, folder string, opts registry.ScanOptions) (*Outcome, error) {
	loc, err := loc.Abs()
	if err != nil {
		return nil, err
	}
	if folder, err = registry.AbsPath(folder); err != nil {
		return nil, err
	}
	if opts, err = opts.Abs(); err != nil {
		return nil, err
	}
	return o.Execute(ctx, status, loc, protocol.CommandScan, folder, opts.Encode())
}

// GenerateScanDataFiles pre-generates scan data for the add-ins in folder.
func (o *Orchestrator) GenerateScanDataFiles(ctx context.Context, status progress.Status, loc registry.Locations, folder string, recursive bool) (*Outcome, error) {
	if folder == "" {
		return nil, fmt.Errorf("%w: pre-scan needs a folder", protocol.ErrInvalidPayload)
	}
	loc, err := loc.Abs()
	if err != nil {
		return nil, err
	}
	if folder, err = registry.AbsPath(folder); err != nil {
		return nil, err
	}
	return o.Execute(ctx, status, loc, protocol.CommandPreScan, folder, []string{protocol.FormatBool(recursive)})
}

// GetAddinDescription parses the add-in at file and writes its description
// to outFile. The output path is sent both in the request payload and as a
// positional argument; the worker reads the positional one.
func (o *Orchestrator) GetAddinDescription(ctx context.Context, status progress.Status, loc registry.Locations, file, outFile string) (*Outcome, error) {
	if file == "" || outFile == "" {
		return nil, fmt.Errorf("%w: get-desc needs an input and an output file", protocol.ErrInvalidPayload)
	}
	loc, err := loc.Abs()
	if err != nil {
		return nil, err
	}
	if file, err = registry.AbsPath(file); err != nil {
		return nil, err
	}
	if outFile, err = registry.AbsPath(outFile); err != nil {
		return nil, err
	}
	return o.Execute(ctx, status, loc, protocol.CommandGetDescription, file, []string{outFile}, outFile)
}

// Package registry declares the add-in registry operations a scan worker
// performs and the data they exchange with the host.
package registry

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/addinscan/addinscan/internal/progress"
	"github.com/addinscan/addinscan/internal/protocol"
)

var ErrInvalidLocations = errors.New("invalid registry locations")

// Locations identifies one registry instance. The worker opens the same
// instance the host uses.
type Locations struct {
	RegistryPath string `json:"registry_path" yaml:"registry_path"`
	StartupDir   string `json:"startup_dir" yaml:"startup_dir"`
	AddinsDir    string `json:"addins_dir" yaml:"addins_dir"`
	DatabaseDir  string `json:"database_dir" yaml:"database_dir"`
}

func (l Locations) Validate() error {
	var missing []string
	if l.RegistryPath == "" {
		missing = append(missing, "registry path")
	}
	if l.StartupDir == "" {
		missing = append(missing, "startup dir")
	}
	if l.AddinsDir == "" {
		missing = append(missing, "add-ins dir")
	}
	if l.DatabaseDir == "" {
		missing = append(missing, "database dir")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidLocations, strings.Join(missing, ", "))
	}
	return nil
}

// Abs resolves every set location against the current working directory.
// Workers run from the executable's directory, so locations must be
// absolute before they are sent.
func (l Locations) Abs() (Locations, error) {
	for _, p := range []*string{&l.RegistryPath, &l.StartupDir, &l.AddinsDir, &l.DatabaseDir} {
		abs, err := AbsPath(*p)
		if err != nil {
			return l, err
		}
		*p = abs
	}
	return l, nil
}

// AbsPath is filepath.Abs that leaves an empty path empty.
func AbsPath(p string) (string, error) {
	if p == "" {
		return "", nil
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", p, err)
	}
	return abs, nil
}

type OpenOptions struct {
	// Worker is set when the registry is opened inside a scan worker. Host
	// only setup is skipped.
	Worker bool
}

type Registry interface {
	// ScanFolders scans folder, or the add-ins directory when folder is
	// empty, and updates the registry.
	ScanFolders(ctx context.Context, status progress.Status, folder string, opts ScanOptions) error
	GenerateScanDataFiles(ctx context.Context, status progress.Status, folder string, recursive bool) error
	// ParseAddin reads the add-in at file and writes its description to
	// outFile.
	ParseAddin(ctx context.Context, status progress.Status, file, outFile string) error
	Close() error
}

type Opener func(loc Locations, opts OpenOptions) (Registry, error)

// ScanOptions is the scan command payload.
type ScanOptions struct {
	CleanGeneratedScanData bool     `json:"clean_generated_scan_data"`
	FilesToIgnore          []string `json:"files_to_ignore,omitempty"`
}

func (o ScanOptions) Encode() []string {
	lines := make([]string, 0, 2+len(o.FilesToIgnore))
	lines = append(lines, protocol.FormatBool(o.CleanGeneratedScanData), strconv.Itoa(len(o.FilesToIgnore)))
	return append(lines, o.FilesToIgnore...)
}

// Abs resolves the plain file entries of FilesToIgnore. Glob patterns are
// left as they are.
func (o ScanOptions) Abs() (ScanOptions, error) {
	if len(o.FilesToIgnore) == 0 {
		return o, nil
	}
	files := make([]string, len(o.FilesToIgnore))
	for i, f := range o.FilesToIgnore {
		if strings.ContainsAny(f, "*?[{") {
			files[i] = f
			continue
		}
		abs, err := AbsPath(f)
		if err != nil {
			return o, err
		}
		files[i] = abs
	}
	o.FilesToIgnore = files
	return o, nil
}

func DecodeScanOptions(lines []string) (ScanOptions, error) {
	var opts ScanOptions
	if len(lines) < 2 {
		return opts, fmt.Errorf("%w: scan options need at least 2 lines, got %d", protocol.ErrInvalidPayload, len(lines))
	}
	clean, err := protocol.ParseBool(lines[0])
	if err != nil {
		return opts, fmt.Errorf("%w: %v", protocol.ErrInvalidPayload, err)
	}
	n, err := strconv.Atoi(strings.TrimSpace(lines[1]))
	if err != nil || n < 0 {
		return opts, fmt.Errorf("%w: invalid ignore count %q", protocol.ErrInvalidPayload, lines[1])
	}
	if len(lines)-2 != n {
		return opts, fmt.Errorf("%w: expected %d ignored files, got %d", protocol.ErrInvalidPayload, n, len(lines)-2)
	}
	opts.CleanGeneratedScanData = clean
	if n > 0 {
		opts.FilesToIgnore = append([]string(nil), lines[2:]...)
	}
	return opts, nil
}

package manifest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"github.com/addinscan/addinscan/internal/progress"
	"github.com/addinscan/addinscan/internal/registry"
)

const (
	manifestPattern = "*.{addin,addin.xml}"
	scanDataSuffix  = ".addindata"
	registryFile    = "registry.yaml"
)

var ErrCanceled = errors.New("scan canceled")

type Registry struct {
	loc registry.Locations
}

type registryInfo struct {
	Format    int                `yaml:"format"`
	Locations registry.Locations `yaml:"locations"`
}

// Open opens the registry at loc. In host mode missing directories are
// created; a worker only opens a registry the host has already set up.
func Open(loc registry.Locations, opts registry.OpenOptions) (registry.Registry, error) {
	if err := loc.Validate(); err != nil {
		return nil, err
	}
	r := &Registry{loc: loc}

	if opts.Worker {
		info, err := os.Stat(loc.RegistryPath)
		if err != nil {
			return nil, fmt.Errorf("registry not initialized: %w", err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("registry path %s is not a directory", loc.RegistryPath)
		}
		return r, nil
	}

	for _, dir := range []string{loc.RegistryPath, loc.AddinsDir, r.descriptionsDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	if err := writeYAML(filepath.Join(loc.RegistryPath, registryFile), registryInfo{Format: 1, Locations: loc}); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) Close() error { return nil }

func (r *Registry) descriptionsDir() string {
	return filepath.Join(r.loc.DatabaseDir, "addins")
}

// DescriptionPath is where the description of the add-in with fullID is
// stored.
func (r *Registry) DescriptionPath(fullID string) string {
	name := strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(fullID)
	return filepath.Join(r.descriptionsDir(), name+".yaml")
}

func (r *Registry) ScanFolders(ctx context.Context, status progress.Status, folder string, opts registry.ScanOptions) error {
	if folder == "" {
		folder = r.loc.AddinsDir
	}
	status.SetMessage("Scanning add-ins in " + folder)

	if opts.CleanGeneratedScanData {
		n, err := cleanScanData(folder)
		if err != nil {
			return fmt.Errorf("failed to clean scan data: %w", err)
		}
		status.Log(fmt.Sprintf("Removed %d generated scan data files", n))
	}

	files, err := findManifests(folder, true)
	if err != nil {
		return err
	}

	var registered int
	for i, file := range files {
		if err := checkCanceled(ctx, status); err != nil {
			return err
		}
		status.SetProgress(float64(i) / float64(len(files)))

		if ignored(file, opts.FilesToIgnore) {
			status.Log("Ignoring " + file)
			continue
		}
		progress.ProgressLog(status, "Checking "+file)
		desc, err := loadDescription(file)
		if err != nil {
			status.ReportWarning(fmt.Sprintf("Could not read add-in manifest %s: %v", file, err))
			continue
		}
		if err := writeYAML(r.DescriptionPath(desc.FullID), desc); err != nil {
			return err
		}
		registered++
		status.Log(fmt.Sprintf("Registered %s %s", desc.FullID, desc.Version))
	}

	status.SetProgress(1)
	status.SetMessage(fmt.Sprintf("Registered %d add-ins", registered))
	return nil
}

func (r *Registry) GenerateScanDataFiles(ctx context.Context, status progress.Status, folder string, recursive bool) error {
	if folder == "" {
		folder = r.loc.AddinsDir
	}
	status.SetMessage("Generating scan data in " + folder)

	files, err := findManifests(folder, recursive)
	if err != nil {
		return err
	}
	for i, file := range files {
		if err := checkCanceled(ctx, status); err != nil {
			return err
		}
		status.SetProgress(float64(i) / float64(len(files)))

		progress.ProgressLog(status, "Parsing "+file)
		m, err := ParseFile(file)
		if err != nil {
			status.ReportWarning(fmt.Sprintf("Could not read add-in manifest %s: %v", file, err))
			continue
		}
		if err := writeYAML(file+scanDataSuffix, Describe(m, file)); err != nil {
			return err
		}
		status.Log("Generated scan data for " + file)
	}
	status.SetProgress(1)
	return nil
}

func (r *Registry) ParseAddin(ctx context.Context, status progress.Status, file, outFile string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m, err := ParseFile(file)
	if err != nil {
		return err
	}
	status.Log("Parsed add-in " + m.FullID())
	return writeYAML(outFile, Describe(m, file))
}

func checkCanceled(ctx context.Context, status progress.Status) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if status.IsCanceled() {
		return ErrCanceled
	}
	return nil
}

func findManifests(folder string, recursive bool) ([]string, error) {
	info, err := os.Stat(folder)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", folder)
	}

	var files []string
	err = filepath.WalkDir(folder, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != folder && !recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if ok, _ := doublestar.Match(manifestPattern, d.Name()); ok {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

func ignored(file string, patterns []string) bool {
	clean := filepath.Clean(file)
	for _, p := range patterns {
		if p == "" {
			continue
		}
		if filepath.Clean(p) == clean {
			return true
		}
		if ok, _ := doublestar.PathMatch(p, clean); ok {
			return true
		}
	}
	return false
}

// loadDescription prefers pre-generated scan data when it is newer than the
// manifest.
func loadDescription(file string) (*Description, error) {
	if desc, ok := readScanData(file); ok {
		return desc, nil
	}
	m, err := ParseFile(file)
	if err != nil {
		return nil, err
	}
	return Describe(m, file), nil
}

func readScanData(file string) (*Description, bool) {
	src, err := os.Stat(file)
	if err != nil {
		return nil, false
	}
	data, err := os.Stat(file + scanDataSuffix)
	if err != nil || data.ModTime().Before(src.ModTime()) {
		return nil, false
	}
	raw, err := os.ReadFile(file + scanDataSuffix)
	if err != nil {
		return nil, false
	}
	var desc Description
	if err := yaml.Unmarshal(raw, &desc); err != nil || desc.ID == "" {
		return nil, false
	}
	desc.File = file
	return &desc, true
}

func cleanScanData(folder string) (int, error) {
	var removed int
	err := filepath.WalkDir(folder, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), scanDataSuffix) {
			if err := os.Remove(path); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	return removed, err
}

func writeYAML(path string, v any) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

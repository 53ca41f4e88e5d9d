package launcher

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// Image is a runnable executable for one worker launch.
type Image struct {
	Path string
	// WorkDir is the default working directory for the worker: the directory
	// of the host executable, even when Path points at a copy.
	WorkDir string

	dir  string
	once sync.Once
	err  error
}

// Release removes any temporary artifact behind the image. It is safe to call
// more than once.
func (i *Image) Release() error {
	if i == nil {
		return nil
	}
	i.once.Do(func() {
		if i.dir != "" {
			i.err = os.RemoveAll(i.dir)
		}
	})
	return i.err
}

// Temporary reports whether the image owns a temporary copy.
func (i *Image) Temporary() bool { return i != nil && i.dir != "" }

// ImageSource resolves the executable used for the worker role.
type ImageSource interface {
	Acquire() (*Image, error)
}

// SelfImage runs the worker from the host executable itself.
type SelfImage struct {
	// Executable overrides os.Executable.
	Executable string
}

func (s SelfImage) Acquire() (*Image, error) {
	exe, err := resolveExecutable(s.Executable)
	if err != nil {
		return nil, err
	}
	return &Image{Path: exe, WorkDir: filepath.Dir(exe)}, nil
}

// TempCopy runs the worker from a private copy of the host executable, so
// the host binary can be replaced while a worker is running. The copy lives
// in its own directory and is removed on Release.
type TempCopy struct {
	Executable string
	// Dir is the parent of the per-launch directory. Defaults to os.TempDir.
	Dir string
}

func (s TempCopy) Acquire() (*Image, error) {
	exe, err := resolveExecutable(s.Executable)
	if err != nil {
		return nil, err
	}

	parent := s.Dir
	if parent == "" {
		parent = os.TempDir()
	}
	dir := filepath.Join(parent, "addinscan-"+uuid.NewString())
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create image directory: %w", err)
	}
	img := &Image{
		Path:    filepath.Join(dir, filepath.Base(exe)),
		WorkDir: filepath.Dir(exe),
		dir:     dir,
	}

	if err := copyExecutable(exe, img.Path); err != nil {
		img.Release()
		return nil, fmt.Errorf("failed to copy worker image: %w", err)
	}
	return img, nil
}

func resolveExecutable(path string) (string, error) {
	if path == "" {
		exe, err := os.Executable()
		if err != nil {
			return "", fmt.Errorf("failed to locate executable: %w", err)
		}
		path = exe
	}
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		path = resolved
	}
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("worker executable: %w", err)
	}
	return path, nil
}

func copyExecutable(src, dst string) error {
	srcFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer srcFile.Close()

	tmpFile, err := os.CreateTemp(filepath.Dir(dst), ".image-*")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()
	defer func() {
		if tmpPath != "" {
			os.Remove(tmpPath)
		}
	}()

	if _, err := io.Copy(tmpFile, srcFile); err != nil {
		tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpPath, 0755); err != nil {
		return fmt.Errorf("failed to set executable permission: %w", err)
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		return err
	}
	tmpPath = ""
	return nil
}

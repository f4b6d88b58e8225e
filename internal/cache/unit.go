package cache

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"

	"github.com/Norgate-AV/csx/internal/utils"
)

const (
	// UnitsDir is the directory under the cache root that holds compiled units
	UnitsDir = "units"

	manifestSuffix = ".manifest.json"
)

// Unit locates the compiled artifact of a script and its manifest stamp.
// A unit is replaced wholesale on invalidation, never patched in place.
type Unit struct {
	Identity Identity

	// Dir is the per-directory cache folder, named by a hash of the script's directory
	Dir string

	// Path is the compiled executable
	Path string
}

// UnitFor returns the unit location for an identity under the cache root.
// The unit is named after the full script file name, so scripts that only
// differ by extension get separate units.
func UnitFor(root string, id Identity) *Unit {
	dir := filepath.Join(root, UnitsDir, HashPath(filepath.Dir(id.Script)))
	name := utils.NormalizePath(filepath.Base(id.Script))

	if runtime.GOOS == "windows" {
		name += ".exe"
	}

	return &Unit{
		Identity: id,
		Dir:      dir,
		Path:     filepath.Join(dir, name),
	}
}

// ManifestPath is where the dependency manifest is stamped
func (u *Unit) ManifestPath() string {
	return u.Path + manifestSuffix
}

// Exists reports whether the compiled executable is present
func (u *Unit) Exists() bool {
	info, err := os.Stat(u.Path)
	return err == nil && !info.IsDir()
}

// NewTempOutput reserves a unique file next to the unit for the compiler to
// write into. Publishing it with Finalize is atomic.
func (u *Unit) NewTempOutput() (string, error) {
	if err := os.MkdirAll(u.Dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create unit directory: %w", err)
	}

	f, err := os.CreateTemp(u.Dir, filepath.Base(u.Path)+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to reserve compiler output: %w", err)
	}

	name := f.Name()
	if err := f.Close(); err != nil {
		return "", err
	}

	return name, nil
}

// Finalize moves a finished compiler output into place
func (u *Unit) Finalize(tempPath string) error {
	if err := os.Rename(tempPath, u.Path); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to publish compiled unit: %w", err)
	}

	return nil
}

// Remove deletes the unit and its manifest. Missing files are not an error.
func (u *Unit) Remove() error {
	var errs []error

	for _, p := range []string{u.ManifestPath(), u.Path} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Export copies the compiled unit to dest
func (u *Unit) Export(dest string) error {
	if err := copyFile(u.Path, dest); err != nil {
		return fmt.Errorf("failed to export %s: %w", u.Path, err)
	}

	return nil
}

// copyFile copies a file from src to dst
func copyFile(src, dst string) error {
	srcFile, err := os.Open(src)
	if err != nil {
		return err
	}

	defer srcFile.Close()

	// Create parent directory if needed
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	dstFile, err := os.Create(dst)
	if err != nil {
		return err
	}

	defer dstFile.Close()

	if _, err := io.Copy(dstFile, srcFile); err != nil {
		return err
	}

	// Preserve file permissions
	srcInfo, err := os.Stat(src)
	if err != nil {
		return err
	}

	return os.Chmod(dst, srcInfo.Mode())
}

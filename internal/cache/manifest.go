package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Norgate-AV/csx/internal/utils"
)

// manifestVersion is bumped whenever the stamp format changes
const manifestVersion = 1

// Kind classifies a dependency of a compiled unit
type Kind string

const (
	KindScript     Kind = "script"
	KindAssembly   Kind = "assembly"
	KindPackageDir Kind = "package-dir"
)

// Source is a dependency produced by the current parse of a script
type Source struct {
	Path string
	Kind Kind
}

// Dependency is one recorded entry of a manifest
type Dependency struct {
	Path    string    `json:"path"`
	ModTime time.Time `json:"mtime"`
	Kind    Kind      `json:"kind"`
}

// Manifest records every file a compiled unit was built from, with its last
// write time at compile start. It is stored beside the unit.
type Manifest struct {
	Version      int          `json:"version"`
	Compiler     string       `json:"compiler,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	Dependencies []Dependency `json:"dependencies"`

	// SearchDirs are library directories discovered from package dependencies
	SearchDirs []string `json:"search_dirs,omitempty"`
}

// NewManifest stats every source. Duplicate paths keep their first position.
func NewManifest(sources []Source) (*Manifest, error) {
	m := &Manifest{
		Version:   manifestVersion,
		CreatedAt: time.Now().UTC(),
	}

	seen := make(map[string]bool, len(sources))
	for _, src := range sources {
		key := utils.NormalizePath(src.Path)
		if seen[key] {
			continue
		}

		seen[key] = true

		info, err := os.Stat(src.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to stat dependency: %w", err)
		}

		m.Dependencies = append(m.Dependencies, Dependency{
			Path:    filepath.Clean(src.Path),
			ModTime: info.ModTime().UTC(),
			Kind:    src.Kind,
		})
	}

	return m, nil
}

// Lookup finds the recorded entry for path
func (m *Manifest) Lookup(path string) (Dependency, bool) {
	for _, dep := range m.Dependencies {
		if utils.SamePath(dep.Path, path) {
			return dep, true
		}
	}

	return Dependency{}, false
}

// Equal reports whether both manifests record the same dependency set with
// the same timestamps, ignoring order
func (m *Manifest) Equal(other *Manifest) bool {
	if m == nil || other == nil {
		return m == other
	}

	if len(m.Dependencies) != len(other.Dependencies) {
		return false
	}

	for _, dep := range m.Dependencies {
		rec, ok := other.Lookup(dep.Path)
		if !ok || !rec.ModTime.Equal(dep.ModTime) || rec.Kind != dep.Kind {
			return false
		}
	}

	return true
}

// PackageDirs returns the recorded package directories
func (m *Manifest) PackageDirs() []string {
	var dirs []string
	for _, dep := range m.Dependencies {
		if dep.Kind == KindPackageDir {
			dirs = append(dirs, dep.Path)
		}
	}

	return dirs
}

// ReadManifest loads a stamped manifest
func ReadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}

	return &m, nil
}

// WriteManifest stores a manifest atomically
func WriteManifest(path string, m *Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}

	f, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create manifest: %w", err)
	}

	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to write manifest: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to publish manifest: %w", err)
	}

	return nil
}

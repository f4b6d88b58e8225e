package broker

import (
	"fmt"
	"os"
	"path/filepath"
)

// PackageResolver maps package names to package directories
type PackageResolver interface {
	ResolvePackages(names []string) ([]string, error)
}

// DirPackageResolver looks packages up as sub-directories of Root
type DirPackageResolver struct {
	Root string
}

// ResolvePackages returns <Root>/<name> for every name. Every package must exist.
func (r DirPackageResolver) ResolvePackages(names []string) ([]string, error) {
	if len(names) == 0 {
		return nil, nil
	}

	if r.Root == "" {
		return nil, fmt.Errorf("no package root configured for packages %v", names)
	}

	dirs := make([]string, 0, len(names))
	for _, name := range names {
		dir := filepath.Join(r.Root, name)

		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			return nil, fmt.Errorf("package not found: %s", name)
		}

		dirs = append(dirs, dir)
	}

	return dirs, nil
}

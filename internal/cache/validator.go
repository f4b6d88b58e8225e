package cache

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/Norgate-AV/csx/internal/logging"
	"github.com/Norgate-AV/csx/internal/utils"
)

// NativeDir is the folder inside a package directory that holds native libraries
const NativeDir = "native"

// Mode selects how cache validity is decided
type Mode int

const (
	// ModeManifest compares every dependency against the stamped manifest
	ModeManifest Mode = iota

	// ModeTimestamp compares the unit's own timestamp with the main script's.
	// Changes to imported files or libraries go unnoticed.
	ModeTimestamp
)

func (m Mode) String() string {
	if m == ModeTimestamp {
		return "timestamp"
	}

	return "manifest"
}

// ParseMode converts a configuration value to a Mode
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "manifest":
		return ModeManifest, nil
	case "timestamp", "legacy":
		return ModeTimestamp, nil
	}

	return ModeManifest, fmt.Errorf("unknown validation mode: %s", s)
}

// Result is the outcome of a validity check
type Result struct {
	Valid    bool
	UnitPath string

	// Reason explains an invalid result
	Reason string

	// SearchDirs are the library directories recorded when the unit was stamped
	SearchDirs []string
}

// Validator decides whether a compiled unit can be reused
type Validator struct {
	mode   Mode
	logger *slog.Logger
}

// NewValidator creates a validator
func NewValidator(mode Mode, logger *slog.Logger) *Validator {
	return &Validator{
		mode:   mode,
		logger: logging.OrDiscard(logger).With("component", "cache"),
	}
}

// Validate checks the unit against the dependencies of the current parse
func (v *Validator) Validate(u *Unit, current []Source) Result {
	res := v.validate(u, current)
	if !res.Valid {
		v.logger.Debug("cache miss", "script", u.Identity.Script, "reason", res.Reason)
	}

	return res
}

func (v *Validator) validate(u *Unit, current []Source) Result {
	unitInfo, err := os.Stat(u.Path)
	if err != nil {
		return Result{Reason: "no compiled unit"}
	}

	m, err := ReadManifest(u.ManifestPath())

	if v.mode == ModeTimestamp {
		scriptInfo, serr := os.Stat(u.Identity.Script)
		if serr != nil {
			return Result{Reason: "script missing"}
		}

		if !unitInfo.ModTime().Equal(scriptInfo.ModTime()) {
			return Result{Reason: "script newer than unit"}
		}

		res := Result{Valid: true, UnitPath: u.Path}
		if err == nil {
			res.SearchDirs = m.SearchDirs
		}

		return res
	}

	if err != nil {
		return Result{Reason: "manifest unreadable"}
	}

	if m.Version != manifestVersion {
		return Result{Reason: "manifest version mismatch"}
	}

	checked := make(map[string]bool, len(current))
	for _, src := range current {
		rec, ok := m.Lookup(src.Path)
		if !ok {
			return Result{Reason: "new dependency " + src.Path}
		}

		if reason := checkDependency(rec); reason != "" {
			return Result{Reason: reason}
		}

		checked[utils.NormalizePath(rec.Path)] = true
	}

	for _, rec := range m.Dependencies {
		if checked[utils.NormalizePath(rec.Path)] {
			continue
		}

		if reason := checkDependency(rec); reason != "" {
			return Result{Reason: reason}
		}
	}

	return Result{
		Valid:      true,
		UnitPath:   u.Path,
		SearchDirs: m.SearchDirs,
	}
}

func checkDependency(rec Dependency) string {
	info, err := os.Stat(rec.Path)
	if err != nil {
		return "dependency missing " + rec.Path
	}

	if !info.ModTime().UTC().Equal(rec.ModTime) {
		return "dependency changed " + rec.Path
	}

	return ""
}

// Stamp writes the manifest beside a freshly compiled unit and returns the
// library directories discovered from package dependencies. It must only be
// called after the unit has been published.
func (v *Validator) Stamp(u *Unit, m *Manifest) ([]string, error) {
	discovered := discoverSearchDirs(m)
	m.SearchDirs = discovered

	if v.mode == ModeTimestamp {
		info, err := os.Stat(u.Identity.Script)
		if err != nil {
			return nil, fmt.Errorf("failed to stat script: %w", err)
		}

		if err := os.Chtimes(u.Path, info.ModTime(), info.ModTime()); err != nil {
			return nil, fmt.Errorf("failed to stamp unit timestamp: %w", err)
		}
	}

	if err := WriteManifest(u.ManifestPath(), m); err != nil {
		return nil, err
	}

	return discovered, nil
}

// Invalidate deletes a stale unit and its manifest
func (v *Validator) Invalidate(u *Unit) error {
	if err := u.Remove(); err != nil {
		return fmt.Errorf("failed to remove stale unit: %w", err)
	}

	return nil
}

func discoverSearchDirs(m *Manifest) []string {
	var dirs []string
	for _, pkg := range m.PackageDirs() {
		native := filepath.Join(pkg, NativeDir)
		if info, err := os.Stat(native); err == nil && info.IsDir() {
			dirs = append(dirs, native)
		}
	}

	return dirs
}

package buildserver

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/Norgate-AV/csx/internal/logging"
)

const recordExt = ".pid"

// Record describes one running daemon
type Record struct {
	PID  int
	Port int
}

// Registry keeps one <pid>.pid file per running daemon, containing the port
// it listens on. Records of dead processes are removed by Sweep.
type Registry struct {
	dir    string
	alive  func(pid int) bool
	logger *slog.Logger
}

// NewRegistry creates a registry rooted at dir
func NewRegistry(dir string, logger *slog.Logger) *Registry {
	return &Registry{
		dir:    dir,
		alive:  processAlive,
		logger: logging.OrDiscard(logger).With("component", "registry"),
	}
}

// Dir returns the registry directory
func (r *Registry) Dir() string {
	return r.dir
}

// Write records a running daemon
func (r *Registry) Write(rec Record) error {
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create registry directory: %w", err)
	}

	if err := os.WriteFile(r.path(rec.PID), []byte(strconv.Itoa(rec.Port)), 0o644); err != nil {
		return fmt.Errorf("failed to write instance record: %w", err)
	}

	return nil
}

// Remove deletes the record of pid. A missing record is not an error.
func (r *Registry) Remove(pid int) error {
	if err := os.Remove(r.path(pid)); err != nil && !os.IsNotExist(err) {
		return err
	}

	return nil
}

// List returns all well-formed records ordered by pid, whether or not the process is alive
func (r *Registry) List() ([]Record, error) {
	records, _, err := r.scan()
	return records, err
}

// Sweep removes records whose process is gone, plus unreadable records. It
// returns the number of files removed.
func (r *Registry) Sweep() (int, error) {
	records, malformed, err := r.scan()
	if err != nil {
		return 0, err
	}

	var errs []error
	removed := 0

	for _, name := range malformed {
		if err := os.Remove(filepath.Join(r.dir, name)); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
			continue
		}

		removed++
	}

	for _, rec := range records {
		if r.alive(rec.PID) {
			continue
		}

		if err := r.Remove(rec.PID); err != nil {
			errs = append(errs, err)
			continue
		}

		r.logger.Info("removed stale instance record", "pid", rec.PID, "port", rec.Port)
		removed++
	}

	return removed, errors.Join(errs...)
}

// Live sweeps stale records and returns the remaining ones
func (r *Registry) Live() ([]Record, error) {
	if _, err := r.Sweep(); err != nil {
		r.logger.Warn("registry sweep incomplete", "error", err)
	}

	return r.List()
}

func (r *Registry) scan() ([]Record, []string, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, nil
		}

		return nil, nil, fmt.Errorf("failed to read registry: %w", err)
	}

	var records []Record
	var malformed []string

	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, recordExt) {
			continue
		}

		pid, err := strconv.Atoi(strings.TrimSuffix(name, recordExt))
		if err != nil || pid <= 0 {
			malformed = append(malformed, name)
			continue
		}

		data, err := os.ReadFile(filepath.Join(r.dir, name))
		if err != nil {
			continue
		}

		port, err := strconv.Atoi(strings.TrimSpace(string(data)))
		if err != nil {
			malformed = append(malformed, name)
			continue
		}

		records = append(records, Record{PID: pid, Port: port})
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].PID < records[j].PID
	})

	return records, malformed, nil
}

func (r *Registry) path(pid int) string {
	return filepath.Join(r.dir, strconv.Itoa(pid)+recordExt)
}

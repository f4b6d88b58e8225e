// Package compiler turns build requests into compiler invocations and
// compiler output into structured results.
package compiler

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
)

const (
	// DefaultBackend is assumed when a request names no backend
	DefaultBackend = "go"

	// BackendGccgo builds with the gccgo toolchain through the go command
	BackendGccgo = "gccgo"
)

// knownBackends maps backend ids to the executable they run by default
var knownBackends = map[string]string{
	DefaultBackend: "go",
	BackendGccgo:   "go",
}

// Compiler produces a compiled unit from a request
type Compiler interface {
	Compile(ctx context.Context, req *Request) (*Result, error)
}

// Request describes one compilation
type Request struct {
	// Sources lists the main script first, followed by imported scripts
	Sources []string

	// Output is the executable to write
	Output string

	// Debug keeps symbols and disables optimizations
	Debug bool

	// References are resolved library files the unit links against at run time
	References []string

	// Flags are passed to the compiler unchanged
	Flags []string
}

// Result is the outcome of one compilation
type Result struct {
	Success      bool
	ExitCode     int
	Diagnostics  []Diagnostic
	BytesWritten int64

	// Output is the raw compiler output
	Output string
}

// Errors returns the error-severity diagnostics
func (r *Result) Errors() []Diagnostic {
	var errs []Diagnostic
	for _, d := range r.Diagnostics {
		if d.Severity == SeverityError {
			errs = append(errs, d)
		}
	}

	return errs
}

// NewResult builds a result from an exit code and captured output. It is
// shared by local and remote compilation so both yield identical results.
func NewResult(exitCode int, output string, req *Request) *Result {
	res := &Result{
		Success:     exitCode == 0,
		ExitCode:    exitCode,
		Diagnostics: ParseDiagnostics(output),
		Output:      output,
	}

	if !res.Success && len(res.Errors()) == 0 {
		msg := strings.TrimSpace(output)
		if msg == "" {
			msg = fmt.Sprintf("compiler exited with code %d", exitCode)
		}

		res.Diagnostics = append(res.Diagnostics, Diagnostic{
			Severity: SeverityError,
			Message:  msg,
		})
	}

	if res.Success && req != nil && req.Output != "" {
		if info, err := os.Stat(req.Output); err == nil {
			res.BytesWritten = info.Size()
		}
	}

	return res
}

// Backend is a compiler executable together with the argument shape it expects
type Backend struct {
	ID   string
	Path string
}

// LookupBackend resolves a backend id. An empty id selects the default
// backend; an empty path is searched for on PATH.
func LookupBackend(id, path string) (Backend, error) {
	if id == "" {
		id = DefaultBackend
	}

	exe, ok := knownBackends[id]
	if !ok {
		return Backend{}, fmt.Errorf("unknown compiler backend: %s", id)
	}

	if path == "" {
		if found, err := exec.LookPath(exe); err == nil {
			path = found
		} else {
			path = exe
		}
	}

	return Backend{ID: id, Path: path}, nil
}

// KnownBackends lists every supported backend id in sorted order
func KnownBackends() []string {
	ids := make([]string, 0, len(knownBackends))
	for id := range knownBackends {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	return ids
}

// Args builds the compiler command line for a request
func (b Backend) Args(req *Request) []string {
	args := []string{"build", "-o", req.Output}

	if b.ID == BackendGccgo {
		args = append(args, "-compiler=gccgo")
	}

	var ldflags []string
	if req.Debug {
		args = append(args, "-gcflags=all=-N -l")
	} else {
		args = append(args, "-trimpath")
		ldflags = append(ldflags, "-s", "-w")
	}

	if dirs := referenceDirs(req.References); len(dirs) > 0 {
		ldflags = append(ldflags, "-r", strings.Join(dirs, string(os.PathListSeparator)))
	}

	if len(ldflags) > 0 {
		args = append(args, "-ldflags="+strings.Join(ldflags, " "))
	}

	args = append(args, req.Flags...)
	args = append(args, req.Sources...)

	return args
}

package broker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/Norgate-AV/csx/internal/probe"
)

// Executable is a loaded unit ready to run
type Executable interface {
	Run(ctx context.Context, args []string) (int, error)
}

// FuncExecutable runs a unit hosted in the current process
type FuncExecutable func(ctx context.Context, args []string) (int, error)

// Run calls f
func (f FuncExecutable) Run(ctx context.Context, args []string) (int, error) {
	return f(ctx, args)
}

// ProcessExecutable runs a compiled unit as a child process. A non-zero exit
// status is returned as the exit code, not as an error.
type ProcessExecutable struct {
	Path string

	// LibraryDirs are prepended to the platform library search path
	LibraryDirs []string

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// Run starts the unit and waits for it to exit
func (p *ProcessExecutable) Run(ctx context.Context, args []string) (int, error) {
	cmd := exec.CommandContext(ctx, p.Path, args...)
	cmd.Stdin = p.Stdin
	cmd.Stdout = p.Stdout
	cmd.Stderr = p.Stderr
	cmd.Env = withLibraryPath(os.Environ(), p.LibraryDirs)

	err := cmd.Run()
	if err == nil {
		return 0, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && ctx.Err() == nil {
		return exitErr.ExitCode(), nil
	}

	return -1, err
}

// LibraryPathVar is the environment variable the host loader searches for shared libraries
func LibraryPathVar() string {
	switch runtime.GOOS {
	case "windows":
		return "PATH"
	case "darwin":
		return "DYLD_LIBRARY_PATH"
	default:
		return "LD_LIBRARY_PATH"
	}
}

func withLibraryPath(env []string, dirs []string) []string {
	if len(dirs) == 0 {
		return env
	}

	key := LibraryPathVar()
	value := strings.Join(dirs, string(os.PathListSeparator))

	out := make([]string, 0, len(env)+1)
	found := false

	for _, kv := range env {
		k, v, _ := strings.Cut(kv, "=")
		if strings.EqualFold(k, key) && (runtime.GOOS == "windows" || k == key) {
			found = true
			if v != "" {
				kv = k + "=" + value + string(os.PathListSeparator) + v
			} else {
				kv = k + "=" + value
			}
		}

		out = append(out, kv)
	}

	if !found {
		out = append(out, key+"="+value)
	}

	return out
}

// LoadRequest describes the unit to load
type LoadRequest struct {
	Unit string

	// References are the library names the unit was compiled against
	References []string

	// SearchDirs are library directories recorded for the unit
	SearchDirs []string

	// Resolve locates a library by name
	Resolve probe.ResolveFunc
}

// Loader turns a compiled unit into an Executable
type Loader interface {
	Load(req LoadRequest) (Executable, error)
}

// LoaderFunc adapts a function to a Loader
type LoaderFunc func(req LoadRequest) (Executable, error)

// Load calls f
func (f LoaderFunc) Load(req LoadRequest) (Executable, error) {
	return f(req)
}

// ProcessLoader loads units as child processes sharing the given streams
type ProcessLoader struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// NewProcessLoader creates a loader wired to the standard streams
func NewProcessLoader() *ProcessLoader {
	return &ProcessLoader{
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}
}

// Load checks the unit and resolves every reference to find the library
// directories the child process needs.
func (l *ProcessLoader) Load(req LoadRequest) (Executable, error) {
	info, err := os.Stat(req.Unit)
	if err != nil {
		return nil, err
	}

	if info.IsDir() {
		return nil, fmt.Errorf("unit is a directory: %s", req.Unit)
	}

	dirs := append([]string(nil), req.SearchDirs...)

	for _, name := range req.References {
		if req.Resolve == nil {
			break
		}

		found := req.Resolve(name)
		if len(found) == 0 {
			return nil, fmt.Errorf("cannot resolve library %s", name)
		}

		dirs = appendUnique(dirs, filepath.Dir(found[0]))
	}

	return &ProcessExecutable{
		Path:        req.Unit,
		LibraryDirs: dirs,
		Stdin:       l.Stdin,
		Stdout:      l.Stdout,
		Stderr:      l.Stderr,
	}, nil
}

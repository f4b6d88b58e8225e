package broker

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Norgate-AV/csx/internal/cache"
	"github.com/Norgate-AV/csx/internal/compiler"
	"github.com/Norgate-AV/csx/internal/lock"
)

var baseTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// fakeCompiler writes a unit for every successful request
type fakeCompiler struct {
	mu     sync.Mutex
	calls  int
	delay  time.Duration
	fail   bool
	output string
	err    error
	last   *compiler.Request
}

func (f *fakeCompiler) Compile(_ context.Context, req *compiler.Request) (*compiler.Result, error) {
	f.mu.Lock()
	f.calls++
	f.last = req
	f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	if f.err != nil {
		return nil, f.err
	}

	if f.fail {
		// a failing compiler may still leave a partial file behind
		_ = os.WriteFile(req.Output, []byte("partial"), 0o644)
		return compiler.NewResult(1, f.output, req), nil
	}

	if err := os.WriteFile(req.Output, []byte("unit:"+strings.Join(req.Sources, ",")), 0o755); err != nil {
		return nil, err
	}

	return compiler.NewResult(0, f.output, req), nil
}

func (f *fakeCompiler) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.calls
}

func (f *fakeCompiler) LastRequest() *compiler.Request {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.last
}

// fixture is a script directory with a main script and one import
type fixture struct {
	dir    string
	root   string
	script string
	lib    string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	base := t.TempDir()
	f := &fixture{
		dir:  filepath.Join(base, "scripts"),
		root: filepath.Join(base, "cache"),
	}

	f.script = writeFile(t, filepath.Join(f.dir, "main.go"), "package main\n", baseTime)
	f.lib = writeFile(t, filepath.Join(f.dir, "lib.go"), "package main\n", baseTime)

	return f
}

func (f *fixture) invocation() Invocation {
	return Invocation{
		Script:  f.script,
		Imports: []string{"lib.go"},
	}
}

func writeFile(t *testing.T, path, content string, mtime time.Time) string {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	require.NoError(t, os.Chtimes(path, mtime, mtime))

	return path
}

// noopLoader returns executables that exit with code 0 without running anything
var noopLoader = LoaderFunc(func(LoadRequest) (Executable, error) {
	return FuncExecutable(func(context.Context, []string) (int, error) {
		return 0, nil
	}), nil
})

func newBroker(t *testing.T, root string, local compiler.Compiler, opts ...Option) *Broker {
	t.Helper()

	return newBrokerWith(t, brokerSetup{root: root}, local, opts...)
}

// brokerSetup selects the lock policy and validation mode of a test broker
type brokerSetup struct {
	root     string
	policy   lock.Policy
	mode     cache.Mode
	lockOpts []lock.Option
	logger   *slog.Logger
}

func newBrokerWith(t *testing.T, s brokerSetup, local compiler.Compiler, opts ...Option) *Broker {
	t.Helper()

	lockOpts := append([]lock.Option{lock.WithLogger(s.logger)}, s.lockOpts...)
	coord, err := lock.NewCoordinator(filepath.Join(s.root, "locks"), s.policy, lockOpts...)
	require.NoError(t, err)

	opts = append([]Option{WithLoader(noopLoader), WithLogger(s.logger)}, opts...)

	return New(s.root, coord, cache.NewValidator(s.mode, s.logger), local, opts...)
}

// recorder collects state transitions
type recorder struct {
	mu     sync.Mutex
	states []State
}

func (r *recorder) hook(_ string, _, to State) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.states = append(r.states, to)
}

func (r *recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.states = nil
}

func (r *recorder) States() []State {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]State(nil), r.states...)
}

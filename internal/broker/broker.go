// Package broker runs one script invocation through validation, compilation
// and execution, coordinating with sibling processes through stage locks.
package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/Norgate-AV/csx/internal/buildserver"
	"github.com/Norgate-AV/csx/internal/cache"
	"github.com/Norgate-AV/csx/internal/compiler"
	"github.com/Norgate-AV/csx/internal/lock"
	"github.com/Norgate-AV/csx/internal/logging"
	"github.com/Norgate-AV/csx/internal/probe"
	"github.com/Norgate-AV/csx/internal/utils"
)

const (
	// DefaultExecuteWait bounds the wait on the execute lock
	DefaultExecuteWait = time.Second

	// DefaultIndexTimeout bounds how long bookkeeping waits for the cache index
	DefaultIndexTimeout = 500 * time.Millisecond
)

// Invocation is one request to run a script
type Invocation struct {
	// Script is the top-level script file
	Script string

	// Imports are additional script files compiled with Script
	Imports []string

	// References are library names or paths the unit links against
	References []string

	// Packages are package names resolved through the PackageResolver
	Packages []string

	// Flags are passed to the compiler unchanged
	Flags []string

	// Force recompiles even when the cached unit is valid
	Force bool

	// Debug builds the unit with debugging support
	Debug bool
}

// Prepared is a compiled unit ready to be loaded
type Prepared struct {
	Unit *cache.Unit

	// Compiled reports whether this invocation produced the unit
	Compiled bool

	// Diagnostics are the non-fatal compiler messages of a fresh compile
	Diagnostics []compiler.Diagnostic

	// SearchDirs are the library directories the unit needs at run time
	SearchDirs []string

	// References are the library names to resolve at load time
	References []string

	// Roots are the probe roots used to resolve References
	Roots []string
}

// Broker drives invocations against one cache root
type Broker struct {
	root         string
	coord        *lock.Coordinator
	validator    *cache.Validator
	local        compiler.Compiler
	remote       compiler.Compiler
	backendID    string
	probe        *probe.Probe
	packages     PackageResolver
	loader       Loader
	searchDirs   []string
	executeWait  time.Duration
	indexTimeout time.Duration
	onTransition TransitionFunc
	logger       *slog.Logger
}

// Option configures a Broker
type Option func(*Broker)

// WithRemote sends compilations to the build server first
func WithRemote(c compiler.Compiler) Option {
	return func(b *Broker) {
		b.remote = c
	}
}

// WithBackendID records which compiler backend produced units
func WithBackendID(id string) Option {
	return func(b *Broker) {
		b.backendID = id
	}
}

// WithProbe sets the library probe
func WithProbe(p *probe.Probe) Option {
	return func(b *Broker) {
		b.probe = p
	}
}

// WithPackages sets the package resolver
func WithPackages(r PackageResolver) Option {
	return func(b *Broker) {
		b.packages = r
	}
}

// WithLoader sets how compiled units are loaded
func WithLoader(l Loader) Option {
	return func(b *Broker) {
		b.loader = l
	}
}

// WithSearchDirs adds library search roots probed after the script directory
func WithSearchDirs(dirs []string) Option {
	return func(b *Broker) {
		b.searchDirs = append([]string(nil), dirs...)
	}
}

// WithExecuteWait bounds the execute lock wait
func WithExecuteWait(d time.Duration) Option {
	return func(b *Broker) {
		b.executeWait = d
	}
}

// WithIndexTimeout bounds cache index bookkeeping
func WithIndexTimeout(d time.Duration) Option {
	return func(b *Broker) {
		b.indexTimeout = d
	}
}

// WithTransitionHook observes state changes
func WithTransitionHook(fn TransitionFunc) Option {
	return func(b *Broker) {
		b.onTransition = fn
	}
}

// WithLogger sets the broker logger
func WithLogger(l *slog.Logger) Option {
	return func(b *Broker) {
		b.logger = l
	}
}

// New creates a broker for the cache root. local is the compiler used when
// no build server is configured or reachable.
func New(root string, coord *lock.Coordinator, validator *cache.Validator, local compiler.Compiler, opts ...Option) *Broker {
	b := &Broker{
		root:         root,
		coord:        coord,
		validator:    validator,
		local:        local,
		backendID:    compiler.DefaultBackend,
		executeWait:  DefaultExecuteWait,
		indexTimeout: DefaultIndexTimeout,
	}

	for _, opt := range opts {
		opt(b)
	}

	b.logger = logging.OrDiscard(b.logger).With("component", "broker")

	if b.probe == nil {
		b.probe = probe.New(probe.WithLogger(b.logger))
	}

	if b.packages == nil {
		b.packages = DirPackageResolver{}
	}

	if b.loader == nil {
		b.loader = NewProcessLoader()
	}

	return b
}

// Prepare validates the cached unit for inv and compiles it when needed.
// Locks are released before Prepare returns.
func (b *Broker) Prepare(ctx context.Context, inv Invocation) (*Prepared, error) {
	t := &tracker{script: inv.Script, hook: b.onTransition}

	p, err := b.prepare(ctx, inv, t)
	if err != nil {
		return nil, err
	}

	t.to(StateDone)

	return p, nil
}

// Run prepares inv and executes the unit with args, returning the unit's exit code
func (b *Broker) Run(ctx context.Context, inv Invocation, args []string) (int, error) {
	t := &tracker{script: inv.Script, hook: b.onTransition}

	p, err := b.prepare(ctx, inv, t)
	if err != nil {
		return -1, err
	}

	code, err := b.execute(ctx, p, args, t)
	if err != nil {
		return code, err
	}

	t.to(StateDone)

	return code, nil
}

// Execute loads and runs a unit returned by Prepare, without validating it again
func (b *Broker) Execute(ctx context.Context, p *Prepared, args []string) (int, error) {
	t := &tracker{script: p.Unit.Identity.Script, state: StateCacheHit, hook: b.onTransition}
	if p.Compiled {
		t.state = StateStamping
	}

	code, err := b.execute(ctx, p, args, t)
	if err != nil {
		return code, err
	}

	t.to(StateDone)

	return code, nil
}

func (b *Broker) prepare(ctx context.Context, inv Invocation, t *tracker) (*Prepared, error) {
	id, err := cache.NewIdentity(inv.Script)
	if err != nil {
		t.to(StateFaulted)
		return nil, faulted(StateStart, err)
	}

	t.script = id.Script
	unit := cache.UnitFor(b.root, id)

	sources, refs, roots, err := b.collect(id, inv)
	if err != nil {
		t.to(StateFaulted)
		return nil, faulted(StateStart, err)
	}

	gate := b.coord.Gate(id.Hash)
	defer gate.Close()

	t.to(StateValidating)
	gate.EnterValidate(ctx)

	if !inv.Force {
		if res := b.validator.Validate(unit, sources); res.Valid {
			return b.hit(unit, res, gate, inv, roots, t), nil
		}
	}

	t.to(StateCacheMiss)
	gate.EnterCompile(ctx)

	// a sibling may have published the unit while this process waited
	if !inv.Force {
		if res := b.validator.Validate(unit, sources); res.Valid {
			b.logger.Debug("unit compiled by another process", "script", id.Script)
			return b.hit(unit, res, gate, inv, roots, t), nil
		}
	}

	t.to(StateCompiling)

	manifest, err := cache.NewManifest(sources)
	if err != nil {
		t.to(StateFaulted)
		return nil, faulted(StateCompiling, err)
	}

	manifest.Compiler = b.backendID

	gate.ProbeExecute(ctx, b.executeWait)

	if err := b.validator.Invalidate(unit); err != nil {
		t.to(StateFaulted)
		return nil, faulted(StateCompiling, err)
	}

	result, err := b.compileUnit(ctx, unit, &compiler.Request{
		Sources:    sourcePaths(sources, cache.KindScript),
		Debug:      inv.Debug,
		References: refs,
		Flags:      inv.Flags,
	})
	if err != nil {
		t.to(StateFaulted)
		return nil, err
	}

	t.to(StateStamping)

	dirs, err := b.validator.Stamp(unit, manifest)
	if err != nil {
		_ = unit.Remove()
		t.to(StateFaulted)
		return nil, faulted(StateStamping, err)
	}

	gate.LeaveCompile()

	b.record(func(ix *cache.Index) error {
		return ix.RecordBuild(unit, b.backendID, manifest)
	})

	return &Prepared{
		Unit:        unit,
		Compiled:    true,
		Diagnostics: result.Diagnostics,
		SearchDirs:  dirs,
		References:  inv.References,
		Roots:       roots,
	}, nil
}

func (b *Broker) hit(unit *cache.Unit, res cache.Result, gate *lock.Gate, inv Invocation, roots []string, t *tracker) *Prepared {
	t.to(StateCacheHit)
	gate.LeaveCompile()

	b.record(func(ix *cache.Index) error {
		return ix.RecordHit(unit)
	})

	return &Prepared{
		Unit:       unit,
		SearchDirs: res.SearchDirs,
		References: inv.References,
		Roots:      roots,
	}
}

// compileUnit compiles into a temporary file and publishes it as the unit.
// Nothing is left behind on failure.
func (b *Broker) compileUnit(ctx context.Context, unit *cache.Unit, req *compiler.Request) (*compiler.Result, error) {
	temp, err := unit.NewTempOutput()
	if err != nil {
		return nil, faulted(StateCompiling, err)
	}

	req.Output = temp

	result, err := b.compile(ctx, req)
	if err != nil {
		os.Remove(temp)
		return nil, faulted(StateCompiling, err)
	}

	if !result.Success {
		os.Remove(temp)
		return nil, &CompileError{
			Script:      unit.Identity.Script,
			ExitCode:    result.ExitCode,
			Diagnostics: result.Diagnostics,
		}
	}

	if err := unit.Finalize(temp); err != nil {
		os.Remove(temp)
		return nil, faulted(StateCompiling, err)
	}

	return result, nil
}

// compile prefers the build server and falls back to the local compiler
// when the server cannot be reached
func (b *Broker) compile(ctx context.Context, req *compiler.Request) (*compiler.Result, error) {
	if b.remote != nil {
		res, err := b.remote.Compile(ctx, req)
		if err == nil {
			return res, nil
		}

		if !errors.Is(err, buildserver.ErrUnavailable) {
			return nil, err
		}

		b.logger.Warn("build server unavailable, compiling locally", "error", err)
	}

	if b.local == nil {
		return nil, errors.New("no compiler configured")
	}

	return b.local.Compile(ctx, req)
}

func (b *Broker) execute(ctx context.Context, p *Prepared, args []string, t *tracker) (int, error) {
	gate := b.coord.Gate(p.Unit.Identity.Hash)
	defer gate.Close()

	t.to(StateLoading)

	gate.EnterExecute(ctx, b.executeWait)
	exe, err := b.loader.Load(LoadRequest{
		Unit:       p.Unit.Path,
		References: p.References,
		SearchDirs: p.SearchDirs,
		Resolve:    b.probe.Resolver(append(append([]string(nil), p.SearchDirs...), p.Roots...)),
	})
	gate.LeaveExecute()

	if err != nil {
		t.to(StateFaulted)
		return -1, &ExecuteError{Unit: p.Unit.Path, Err: err}
	}

	t.to(StateExecuting)

	code, err := exe.Run(ctx, args)
	if err != nil {
		t.to(StateFaulted)
		return code, &ExecuteError{Unit: p.Unit.Path, Err: err}
	}

	return code, nil
}

// collect builds the dependency list of inv along with the resolved
// reference files and the probe roots used to find them
func (b *Broker) collect(id cache.Identity, inv Invocation) ([]cache.Source, []string, []string, error) {
	scriptDir := filepath.Dir(id.Script)
	sources := []cache.Source{{Path: id.Script, Kind: cache.KindScript}}

	for _, imp := range inv.Imports {
		path := imp
		if !filepath.IsAbs(path) {
			path = filepath.Join(scriptDir, path)
		}

		info, err := os.Stat(path)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("import not found: %s", imp)
		}

		if info.IsDir() {
			return nil, nil, nil, fmt.Errorf("import is a directory: %s", imp)
		}

		sources = append(sources, cache.Source{Path: filepath.Clean(path), Kind: cache.KindScript})
	}

	pkgDirs, err := b.packages.ResolvePackages(inv.Packages)
	if err != nil {
		return nil, nil, nil, err
	}

	roots := []string{scriptDir}
	roots = appendUnique(roots, b.searchDirs...)

	for _, dir := range pkgDirs {
		sources = append(sources, cache.Source{Path: dir, Kind: cache.KindPackageDir})
		roots = appendUnique(roots, dir, filepath.Join(dir, cache.NativeDir))
	}

	var refs []string
	for _, name := range inv.References {
		if !utils.IsSimpleName(name) && !filepath.IsAbs(name) {
			name = filepath.Join(scriptDir, name)
		}

		found := b.probe.Resolve(name, roots)
		if len(found) == 0 {
			return nil, nil, nil, fmt.Errorf("library not found: %s", name)
		}

		for _, f := range found {
			refs = append(refs, f)
			sources = append(sources, cache.Source{Path: f, Kind: cache.KindAssembly})
		}
	}

	return sources, refs, roots, nil
}

// record applies a best-effort update to the cache index
func (b *Broker) record(update func(*cache.Index) error) {
	ix, err := cache.OpenIndex(b.root, b.indexTimeout)
	if err != nil {
		b.logger.Debug("cache index unavailable", "error", err)
		return
	}

	defer ix.Close()

	if err := update(ix); err != nil {
		b.logger.Warn("failed to update cache index", "error", err)
	}
}

func sourcePaths(sources []cache.Source, kind cache.Kind) []string {
	var paths []string
	for _, s := range sources {
		if s.Kind == kind {
			paths = append(paths, s.Path)
		}
	}

	return paths
}

func appendUnique(list []string, items ...string) []string {
outer:
	for _, item := range items {
		if item == "" {
			continue
		}

		for _, existing := range list {
			if utils.SamePath(existing, item) {
				continue outer
			}
		}

		list = append(list, item)
	}

	return list
}

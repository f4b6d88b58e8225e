// Package probe resolves library names to files across prioritized search
// roots.
//
// For a bare name each root is tried in order, and within a root:
//
//  1. an exact file match (root/name)
//  2. the name with the platform library extension (root/name.so)
//  3. the first file whose name starts with name
//
// The first root that yields a match wins; matches are never merged across
// roots. Failed (name, root) pairs can be remembered so repeat probing is
// O(1). The memo is dropped in full whenever it is disabled.
package probe

import (
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Norgate-AV/csx/internal/logging"
	"github.com/Norgate-AV/csx/internal/utils"
)

// DefaultMemoSize bounds the number of remembered misses
const DefaultMemoSize = 4096

// LibraryExt returns the default library file extension for the host
func LibraryExt() string {
	switch runtime.GOOS {
	case "windows":
		return ".dll"
	case "darwin":
		return ".dylib"
	default:
		return ".so"
	}
}

// ResolveFunc resolves a library name to candidate files. Loaders receive one
// instead of registering a process-wide resolution hook.
type ResolveFunc func(name string) []string

// Probe searches roots for libraries
type Probe struct {
	ext    string
	size   int
	logger *slog.Logger

	mu   sync.Mutex
	memo *lru.Cache[uint64, struct{}]
}

// Option configures a Probe
type Option func(*Probe)

// WithExtension overrides the default library extension
func WithExtension(ext string) Option {
	return func(p *Probe) {
		p.ext = ext
	}
}

// WithLogger sets the probe logger
func WithLogger(l *slog.Logger) Option {
	return func(p *Probe) {
		p.logger = l
	}
}

// WithNegativeCache enables miss memoization holding at most size pairs
func WithNegativeCache(size int) Option {
	return func(p *Probe) {
		p.size = size
	}
}

// New creates a probe. Miss memoization is off unless WithNegativeCache is given.
func New(opts ...Option) *Probe {
	p := &Probe{ext: LibraryExt()}
	for _, opt := range opts {
		opt(p)
	}

	p.logger = logging.OrDiscard(p.logger).With("component", "probe")

	if p.size > 0 {
		p.SetNegativeCache(true)
	}

	return p
}

// SetNegativeCache turns miss memoization on or off. Turning it off discards
// everything remembered so far.
func (p *Probe) SetNegativeCache(enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !enabled {
		if p.memo != nil {
			p.memo.Purge()
		}

		p.memo = nil
		return
	}

	if p.memo != nil {
		return
	}

	size := p.size
	if size <= 0 {
		size = DefaultMemoSize
	}

	memo, err := lru.New[uint64, struct{}](size)
	if err != nil {
		p.logger.Warn("negative cache disabled", "error", err)
		return
	}

	p.memo = memo
}

// NegativeCacheLen reports how many misses are remembered
func (p *Probe) NegativeCacheLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.memo == nil {
		return 0
	}

	return p.memo.Len()
}

// Resolve returns the files name resolves to, or nil
func (p *Probe) Resolve(name string, roots []string) []string {
	if filepath.IsAbs(name) {
		if fileExists(name) {
			return []string{name}
		}

		return nil
	}

	for _, root := range roots {
		if root == "" {
			continue
		}

		key := memoKey(name, root)
		if p.knownMiss(key) {
			continue
		}

		if found := p.probeRoot(name, root); len(found) > 0 {
			return found
		}

		p.rememberMiss(key)
	}

	return nil
}

// Resolver binds the probe to a fixed set of roots
func (p *Probe) Resolver(roots []string) ResolveFunc {
	roots = append([]string(nil), roots...)

	return func(name string) []string {
		return p.Resolve(name, roots)
	}
}

func (p *Probe) probeRoot(name, root string) []string {
	exact := filepath.Join(root, name)
	if fileExists(exact) {
		return []string{exact}
	}

	if p.ext != "" && !strings.EqualFold(filepath.Ext(name), p.ext) {
		withExt := exact + p.ext
		if fileExists(withExt) {
			return []string{withExt}
		}
	}

	// wildcard matching only applies to bare names
	if !utils.IsSimpleName(name) {
		return nil
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}

	sort.Strings(names)

	for _, n := range names {
		if hasPrefix(n, name) {
			return []string{filepath.Join(root, n)}
		}
	}

	return nil
}

func (p *Probe) knownMiss(key uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.memo != nil && p.memo.Contains(key)
}

func (p *Probe) rememberMiss(key uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.memo != nil {
		p.memo.Add(key, struct{}{})
	}
}

func memoKey(name, root string) uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(utils.NormalizePath(root))
	_, _ = d.WriteString("\x00")
	if utils.CaseInsensitiveFS() {
		name = strings.ToLower(name)
	}
	_, _ = d.WriteString(name)

	return d.Sum64()
}

func hasPrefix(s, prefix string) bool {
	if utils.CaseInsensitiveFS() {
		return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
	}

	return strings.HasPrefix(s, prefix)
}

func fileExists(p string) bool {
	info, err := os.Stat(p)
	return err == nil && !info.IsDir()
}

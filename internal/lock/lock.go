// Package lock provides named, cross-process exclusion for the stages of a
// script build.
//
// Every script identity owns up to three lock files in the lock directory:
//
//	<hash>.v  validation of the cached unit
//	<hash>.c  compilation of the unit
//	<hash>.e  loading of the unit for execution
//
// Locks are advisory file locks (flock on unix, LockFileEx on windows) so a
// crashed holder never leaves a lock behind. Acquisition is bounded by a
// timeout and never fails loudly: a caller that times out proceeds and lets
// the next file operation surface any real conflict.
package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/Norgate-AV/csx/internal/logging"
)

// Stage identifies the pipeline stage a lock guards
type Stage string

const (
	StageValidate Stage = "v"
	StageCompile  Stage = "c"
	StageExecute  Stage = "e"
)

// Infinite makes Acquire wait until the lock is granted or the context ends
const Infinite time.Duration = -1

// retryDelay is the polling interval while waiting on a contended lock
const retryDelay = 10 * time.Millisecond

// Handle is an acquire/release handle over one named lock. Release is
// idempotent. Handles are not reentrant across processes.
type Handle interface {
	// Acquire waits up to timeout for the lock. A zero timeout tries once,
	// Infinite waits until ctx is done. It reports whether the lock is held.
	Acquire(ctx context.Context, timeout time.Duration) bool
	Release()
	Held() bool
	Name() string
}

type fileHandle struct {
	name   string
	fl     *flock.Flock
	logger *slog.Logger

	mu   sync.Mutex
	held bool
}

func newFileHandle(path string, logger *slog.Logger) *fileHandle {
	return &fileHandle{
		name:   filepath.Base(path),
		fl:     flock.New(path, flock.SetPermissions(0o600)),
		logger: logger,
	}
}

func (h *fileHandle) Acquire(ctx context.Context, timeout time.Duration) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.held {
		return true
	}

	var (
		ok  bool
		err error
	)

	switch {
	case timeout == 0:
		ok, err = h.fl.TryLock()
	case timeout < 0:
		ok, err = h.fl.TryLockContext(ctx, retryDelay)
	default:
		waitCtx, cancel := context.WithTimeout(ctx, timeout)
		ok, err = h.fl.TryLockContext(waitCtx, retryDelay)
		cancel()
	}

	if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		h.logger.Warn("lock acquisition failed", "lock", h.name, "error", err)
	}

	h.held = ok

	return ok
}

func (h *fileHandle) Release() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.held {
		return
	}

	if err := h.fl.Unlock(); err != nil {
		h.logger.Warn("lock release failed", "lock", h.name, "error", err)
	}

	h.held = false
}

func (h *fileHandle) Held() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.held
}

func (h *fileHandle) Name() string {
	return h.name
}

// noopHandle always succeeds; used when the host synchronizes externally
type noopHandle struct {
	name string
}

func (n noopHandle) Acquire(context.Context, time.Duration) bool { return true }
func (n noopHandle) Release()                                    {}
func (n noopHandle) Held() bool                                  { return false }
func (n noopHandle) Name() string                                { return n.name }

// Coordinator hands out stage locks for script identities
type Coordinator struct {
	dir            string
	policy         Policy
	compileTimeout time.Duration
	logger         *slog.Logger
}

// Option configures a Coordinator
type Option func(*Coordinator)

// WithCompileTimeout overrides the bounded wait on the compile lock
func WithCompileTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		c.compileTimeout = d
	}
}

// WithLogger sets the logger used for lock warnings
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = l
	}
}

// DefaultCompileTimeout bounds the wait on the compile lock
const DefaultCompileTimeout = 3 * time.Second

// NewCoordinator creates a coordinator keeping its lock files in dir
func NewCoordinator(dir string, policy Policy, opts ...Option) (*Coordinator, error) {
	c := &Coordinator{
		dir:            dir,
		policy:         policy,
		compileTimeout: DefaultCompileTimeout,
	}

	for _, opt := range opts {
		opt(c)
	}

	c.logger = logging.OrDiscard(c.logger).With("component", "lock")

	if policy != PolicyNone {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create lock directory: %w", err)
		}
	}

	return c, nil
}

// Handle returns the lock for one stage of the identity with the given hash
func (c *Coordinator) Handle(hash string, stage Stage) Handle {
	name := hash + "." + string(stage)
	if c.policy == PolicyNone {
		return noopHandle{name: name}
	}

	return newFileHandle(filepath.Join(c.dir, name), c.logger)
}

// Gate returns the stage gate for one invocation of the identity with the given hash
func (c *Coordinator) Gate(hash string) *Gate {
	return &Gate{
		policy:         c.policy,
		validate:       c.Handle(hash, StageValidate),
		compile:        c.Handle(hash, StageCompile),
		execute:        c.Handle(hash, StageExecute),
		compileTimeout: c.compileTimeout,
		logger:         c.logger,
	}
}

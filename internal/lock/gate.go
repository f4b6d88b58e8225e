package lock

import (
	"context"
	"log/slog"
	"time"
)

// Gate sequences the stage locks of a single invocation. It is used by one
// goroutine at a time and must be closed on every exit path.
type Gate struct {
	policy         Policy
	validate       Handle
	compile        Handle
	execute        Handle
	compileTimeout time.Duration
	logger         *slog.Logger
}

// EnterValidate acquires the lock that guards cache validation. Under the
// standard policy this is the compile lock, so validation and compilation
// form one critical section.
func (g *Gate) EnterValidate(ctx context.Context) bool {
	switch g.policy {
	case PolicyNone:
		return true
	case PolicyHighResolution:
		return g.acquire(ctx, g.validate, Infinite)
	default:
		return g.acquire(ctx, g.compile, g.compileTimeout)
	}
}

// EnterCompile acquires the compile lock. Under the standard policy it is
// already held (or already timed out) after EnterValidate.
func (g *Gate) EnterCompile(ctx context.Context) bool {
	switch g.policy {
	case PolicyNone:
		return true
	case PolicyHighResolution:
		return g.acquire(ctx, g.compile, g.compileTimeout)
	default:
		return g.compile.Held()
	}
}

// LeaveCompile releases the compile and validate locks
func (g *Gate) LeaveCompile() {
	g.compile.Release()
	g.validate.Release()
}

// ProbeExecute waits up to wait for no sibling to be loading the unit. It
// reports false if someone still held the execute lock when the wait expired.
func (g *Gate) ProbeExecute(ctx context.Context, wait time.Duration) bool {
	if g.policy == PolicyNone {
		return true
	}

	if !g.execute.Acquire(ctx, wait) {
		g.logger.Debug("unit still in use after wait", "lock", g.execute.Name(), "wait", wait)
		return false
	}

	g.execute.Release()

	return true
}

// EnterExecute takes the execute lock with a bounded wait while the unit is
// loaded. A timeout is not an error.
func (g *Gate) EnterExecute(ctx context.Context, wait time.Duration) bool {
	if g.policy == PolicyNone {
		return true
	}

	return g.execute.Acquire(ctx, wait)
}

// LeaveExecute releases the execute lock
func (g *Gate) LeaveExecute() {
	g.execute.Release()
}

// Close releases every lock still held
func (g *Gate) Close() {
	g.execute.Release()
	g.compile.Release()
	g.validate.Release()
}

func (g *Gate) acquire(ctx context.Context, h Handle, timeout time.Duration) bool {
	if h.Acquire(ctx, timeout) {
		return true
	}

	g.logger.Warn("lock wait timed out, proceeding without it", "lock", h.Name(), "timeout", timeout)

	return false
}

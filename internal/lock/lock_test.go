package lock

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCoordinator(t *testing.T, policy Policy) *Coordinator {
	t.Helper()

	c, err := NewCoordinator(filepath.Join(t.TempDir(), "locks"), policy, WithCompileTimeout(100*time.Millisecond))
	require.NoError(t, err)

	return c
}

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		input   string
		want    Policy
		wantErr bool
	}{
		{"", PolicyStandard, false},
		{"standard", PolicyStandard, false},
		{"High-Resolution", PolicyHighResolution, false},
		{"none", PolicyNone, false},
		{"bogus", PolicyStandard, true},
	}

	for _, tt := range tests {
		got, err := ParsePolicy(tt.input)
		if tt.wantErr {
			assert.Error(t, err)
			continue
		}

		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
		assert.NotEqual(t, "unknown", got.String())
	}
}

func TestHandle_AcquireRelease(t *testing.T) {
	c := newTestCoordinator(t, PolicyStandard)
	ctx := context.Background()

	h := c.Handle("abc", StageCompile)
	assert.Equal(t, "abc.c", h.Name())
	require.True(t, h.Acquire(ctx, 0))
	assert.True(t, h.Held())

	_, err := os.Stat(filepath.Join(c.dir, "abc.c"))
	assert.NoError(t, err, "lock file should exist")

	h.Release()
	assert.False(t, h.Held())
}

func TestHandle_ContentionTimesOut(t *testing.T) {
	c := newTestCoordinator(t, PolicyStandard)
	ctx := context.Background()

	owner := c.Handle("abc", StageCompile)
	require.True(t, owner.Acquire(ctx, 0))
	defer owner.Release()

	waiter := c.Handle("abc", StageCompile)

	start := time.Now()
	ok := waiter.Acquire(ctx, 50*time.Millisecond)
	elapsed := time.Since(start)

	assert.False(t, ok, "acquire should time out while the owner holds the lock")
	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
	assert.Less(t, elapsed, 2*time.Second)
}

func TestHandle_AcquireAfterOwnerReleases(t *testing.T) {
	c := newTestCoordinator(t, PolicyStandard)
	ctx := context.Background()

	owner := c.Handle("abc", StageValidate)
	require.True(t, owner.Acquire(ctx, 0))

	go func() {
		time.Sleep(30 * time.Millisecond)
		owner.Release()
	}()

	waiter := c.Handle("abc", StageValidate)
	assert.True(t, waiter.Acquire(ctx, Infinite))
	waiter.Release()
}

func TestHandle_IdempotentRelease(t *testing.T) {
	c := newTestCoordinator(t, PolicyStandard)
	ctx := context.Background()

	h := c.Handle("abc", StageExecute)
	require.True(t, h.Acquire(ctx, 0))

	assert.NotPanics(t, func() {
		h.Release()
		h.Release()
	})

	// subsequent acquisitions are unaffected
	other := c.Handle("abc", StageExecute)
	assert.True(t, other.Acquire(ctx, 0))
	other.Release()

	assert.True(t, h.Acquire(ctx, 0))
	h.Release()
}

func TestHandle_ContextCancelled(t *testing.T) {
	c := newTestCoordinator(t, PolicyStandard)

	owner := c.Handle("abc", StageValidate)
	require.True(t, owner.Acquire(context.Background(), 0))
	defer owner.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	waiter := c.Handle("abc", StageValidate)
	assert.False(t, waiter.Acquire(ctx, Infinite))
}

func TestPolicyNone_NoOps(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "never-created")
	c, err := NewCoordinator(dir, PolicyNone)
	require.NoError(t, err)

	ctx := context.Background()
	a := c.Handle("abc", StageCompile)
	b := c.Handle("abc", StageCompile)
	assert.True(t, a.Acquire(ctx, 0))
	assert.True(t, b.Acquire(ctx, 0))
	a.Release()
	b.Release()

	g := c.Gate("abc")
	assert.True(t, g.EnterValidate(ctx))
	assert.True(t, g.EnterCompile(ctx))
	assert.True(t, g.ProbeExecute(ctx, time.Second))
	g.Close()

	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err), "no lock directory for the none policy")
}

func TestGate_StandardFoldsValidateIntoCompile(t *testing.T) {
	c := newTestCoordinator(t, PolicyStandard)
	ctx := context.Background()

	first := c.Gate("abc")
	require.True(t, first.EnterValidate(ctx))
	assert.True(t, first.compile.Held())
	assert.False(t, first.validate.Held())
	assert.True(t, first.EnterCompile(ctx))

	second := c.Gate("abc")
	assert.False(t, second.EnterValidate(ctx), "second gate should time out on the compile lock")
	assert.False(t, second.EnterCompile(ctx))

	first.LeaveCompile()
	assert.True(t, second.EnterValidate(ctx))

	second.Close()
	first.Close()
}

func TestGate_HighResolutionSplitsLocks(t *testing.T) {
	c := newTestCoordinator(t, PolicyHighResolution)
	ctx := context.Background()

	g := c.Gate("abc")
	require.True(t, g.EnterValidate(ctx))
	assert.True(t, g.validate.Held())
	assert.False(t, g.compile.Held())

	require.True(t, g.EnterCompile(ctx))
	assert.True(t, g.compile.Held())

	g.LeaveCompile()
	assert.False(t, g.validate.Held())
	assert.False(t, g.compile.Held())
	g.Close()
}

func TestGate_ProbeExecute(t *testing.T) {
	c := newTestCoordinator(t, PolicyStandard)
	ctx := context.Background()

	runner := c.Gate("abc")
	require.True(t, runner.EnterExecute(ctx, 0))

	builder := c.Gate("abc")
	assert.False(t, builder.ProbeExecute(ctx, 20*time.Millisecond), "sibling is still loading")

	runner.LeaveExecute()
	assert.True(t, builder.ProbeExecute(ctx, 20*time.Millisecond))
	assert.False(t, builder.execute.Held(), "probe must not keep the lock")

	runner.Close()
	builder.Close()
}
